package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"liveboard/api/internal/util"
)

// Postgres stores every collection in one documents table keyed by path.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) DB() *sql.DB {
	return s.db
}

func (s *Postgres) Create(ctx context.Context, path string, fields map[string]string) (Document, error) {
	id := util.NewID(idPrefix(path))
	payload, err := json.Marshal(fields)
	if err != nil {
		return Document{}, fmt.Errorf("marshal fields: %w", err)
	}

	doc := Document{ID: id, Path: path, Fields: fields}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO documents (id, path, fields)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`, id, path, payload).Scan(&doc.CreatedAt.Time)
	if err != nil {
		return Document{}, fmt.Errorf("insert document: %w", err)
	}
	return doc, nil
}

func (s *Postgres) Update(ctx context.Context, path, id string, fields map[string]string) error {
	payload, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE documents SET fields = fields || $3
		WHERE path = $1 AND id = $2
	`, path, id, payload)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update document rows: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) Delete(ctx context.Context, path, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE path = $1 AND id = $2`, path, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

func (s *Postgres) ReadAll(ctx context.Context, path string, order Order) ([]Document, error) {
	direction := "ASC"
	if order == Descending {
		direction = "DESC"
	}
	query := fmt.Sprintf(`
		SELECT id, fields, created_at FROM documents
		WHERE path = $1
		ORDER BY created_at %s, id ASC
	`, direction)

	rows, err := s.db.QueryContext(ctx, query, path)
	if err != nil {
		return nil, fmt.Errorf("read collection %s: %w", path, err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		doc := Document{Path: path}
		var payload []byte
		if err := rows.Scan(&doc.ID, &payload, &doc.CreatedAt.Time); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if err := json.Unmarshal(payload, &doc.Fields); err != nil {
			return nil, fmt.Errorf("unmarshal fields for %s: %w", doc.ID, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate collection %s: %w", path, err)
	}
	return docs, nil
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// idPrefix derives an id prefix from the final path segment, so questions get
// "question_..." ids and answers "answer_..." ids.
func idPrefix(path string) string {
	segments := strings.Split(path, "/")
	last := segments[len(segments)-1]
	return strings.TrimSuffix(last, "s")
}
