// Package archive stores a JSON copy of a question thread in object storage
// before the cascading delete removes it from the document store.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"liveboard/api/internal/docstore"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type Minio struct {
	client *minio.Client
	bucket string
}

// NewMinio connects to the object store and makes sure the archive bucket
// exists.
func NewMinio(ctx context.Context, cfg Config) (*Minio, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("archive: connect: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("archive: check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("archive: create bucket: %w", err)
		}
	}

	return &Minio{client: client, bucket: cfg.Bucket}, nil
}

type archivedThread struct {
	Question   archivedDocument   `json:"question"`
	Answers    []archivedDocument `json:"answers"`
	ArchivedAt time.Time          `json:"archivedAt"`
}

type archivedDocument struct {
	ID        string            `json:"id"`
	Fields    map[string]string `json:"fields"`
	CreatedAt time.Time         `json:"createdAt"`
}

// ArchiveThread writes the question and its answers as a single JSON object
// under threads/{questionID}.json.
func (m *Minio) ArchiveThread(ctx context.Context, question docstore.Document, answers []docstore.Document) error {
	thread := archivedThread{
		Question:   toArchived(question),
		Answers:    make([]archivedDocument, 0, len(answers)),
		ArchivedAt: time.Now().UTC(),
	}
	for _, answer := range answers {
		thread.Answers = append(thread.Answers, toArchived(answer))
	}

	payload, err := json.MarshalIndent(thread, "", "  ")
	if err != nil {
		return fmt.Errorf("archive: encode thread: %w", err)
	}

	key := fmt.Sprintf("threads/%s.json", question.ID)
	_, err = m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("archive: put %s: %w", key, err)
	}
	return nil
}

func toArchived(doc docstore.Document) archivedDocument {
	return archivedDocument{
		ID:        doc.ID,
		Fields:    doc.Fields,
		CreatedAt: doc.CreatedAt.Time,
	}
}
