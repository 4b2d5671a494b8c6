package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher over the documents table as a fallback. Questions
// carry no language hint, so the 'simple' configuration is used, matching the
// expression index on fields->>'text'.
type PgFTS struct {
	db            *sql.DB
	questionsPath string
}

// NewPgFTS creates a PostgreSQL FTS searcher scoped to the question
// collection path.
func NewPgFTS(db *sql.DB, questionsPath string) *PgFTS {
	return &PgFTS{db: db, questionsPath: questionsPath}
}

// Healthy always returns true: if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs plainto_tsquery over the question documents with ts_rank
// ordering and ts_headline snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	ctx := context.Background()

	const where = `path = $1 AND to_tsvector('simple', coalesce(fields->>'text', '')) @@ plainto_tsquery('simple', $2)`

	var total int
	countSQL := "SELECT count(*) FROM documents WHERE " + where
	if err := p.db.QueryRowContext(ctx, countSQL, p.questionsPath, q.Text).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT id,
			coalesce(fields->>'text', ''),
			ts_headline('simple', coalesce(fields->>'text', ''), plainto_tsquery('simple', $2), 'MaxFragments=1,MaxWords=30'),
			coalesce(fields->>'authorName', ''),
			ts_rank(to_tsvector('simple', coalesce(fields->>'text', '')), plainto_tsquery('simple', $2)) AS rank
		FROM documents
		WHERE %s
		ORDER BY rank DESC, created_at DESC
		LIMIT %d OFFSET %d`, where, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, p.questionsPath, q.Text)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var rank float64
		if err := rows.Scan(&r.ID, &r.Text, &r.Snippet, &r.AuthorName, &rank); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every question for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]QuestionRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, coalesce(fields->>'text', ''), coalesce(fields->>'authorName', '')
		FROM documents
		WHERE path = $1
	`, p.questionsPath)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	records := make([]QuestionRecord, 0)
	for rows.Next() {
		var rec QuestionRecord
		if err := rows.Scan(&rec.ID, &rec.Text, &rec.AuthorName); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	return records, nil
}
