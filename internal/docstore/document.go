// Package docstore is the document store collaborator: ordered collections of
// flat documents addressed by slash-separated paths, with create/update/delete,
// one-shot ordered reads, and a change feed that announces which collection
// changed so subscribers can re-read it.
package docstore

import (
	"context"
	"errors"
	"sort"
	"time"
)

// Field names used by board documents.
const (
	FieldText       = "text"
	FieldAuthorID   = "authorId"
	FieldAuthorName = "authorName"
)

var ErrNotFound = errors.New("document not found")

// Timestamp is a server-assigned creation time. Pending marks a timestamp the
// server has not resolved yet; a pending timestamp compares as "now or later",
// so descending order puts pending entries ahead of every resolved one.
type Timestamp struct {
	Time    time.Time
	Pending bool
}

func Resolved(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

func PendingTimestamp() Timestamp {
	return Timestamp{Pending: true}
}

// Compare orders a against b chronologically: -1 if a is earlier, 1 if later,
// 0 if equal. Two pending timestamps compare equal.
func (t Timestamp) Compare(other Timestamp) int {
	switch {
	case t.Pending && other.Pending:
		return 0
	case t.Pending:
		return 1
	case other.Pending:
		return -1
	case t.Time.Before(other.Time):
		return -1
	case t.Time.After(other.Time):
		return 1
	}
	return 0
}

type Document struct {
	ID        string
	Path      string
	Fields    map[string]string
	CreatedAt Timestamp
}

type Order int

const (
	Ascending Order = iota
	Descending
)

// Sort orders documents by creation time in the given direction, breaking ties
// by id so the ordering is stable across snapshots.
func Sort(docs []Document, order Order) {
	sort.SliceStable(docs, func(i, j int) bool {
		c := docs[i].CreatedAt.Compare(docs[j].CreatedAt)
		if c == 0 {
			return docs[i].ID < docs[j].ID
		}
		if order == Descending {
			return c > 0
		}
		return c < 0
	})
}

// Store is the remote document store. Create assigns the document id and the
// server-side creation timestamp; the returned document is the acknowledged
// state. Delete of a missing document is a no-op.
type Store interface {
	Create(ctx context.Context, path string, fields map[string]string) (Document, error)
	Update(ctx context.Context, path, id string, fields map[string]string) error
	Delete(ctx context.Context, path, id string) error
	ReadAll(ctx context.Context, path string, order Order) ([]Document, error)
}

// ChangeFeed announces collection changes. Notifications carry no payload:
// each one means "the collection at this path changed, re-read it".
type ChangeFeed interface {
	Publish(ctx context.Context, path string) error
	// Subscribe returns a notification channel for path and a cancel function.
	// Notifications are delivered in emission order; the channel closes after
	// cancel. Pending notifications may coalesce since every one triggers a
	// full re-read anyway.
	Subscribe(ctx context.Context, path string) (<-chan struct{}, func(), error)
}
