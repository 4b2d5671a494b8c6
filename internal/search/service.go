package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to PG
// FTS. Index writes are fire-and-forget: the documents table is the source of
// truth and a missed index write only degrades search.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil when Meilisearch is
// not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexQuestion pushes a question into Meilisearch, fire-and-forget.
func (s *Service) IndexQuestion(rec QuestionRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexQuestion(rec); err != nil {
			log.Printf("search: index question %s: %v", rec.ID, err)
		}
	}()
}

// RemoveQuestion removes a question from Meilisearch, fire-and-forget.
func (s *Service) RemoveQuestion(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.RemoveQuestion(id); err != nil {
			log.Printf("search: remove question %s: %v", id, err)
		}
	}()
}

// ReindexAllFromPG reads every question from PostgreSQL and pushes the lot
// into Meilisearch. Called at startup when Meilisearch is configured.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	records, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	reindexRecords(records, s.meili.IndexQuestion)
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}

// reindexRecords pushes every record, logging failures and moving on: one
// record that will not index must not strand the rest of the backlog.
func reindexRecords(records []QuestionRecord, index func(QuestionRecord) error) {
	failed := 0
	for _, rec := range records {
		if err := index(rec); err != nil {
			log.Printf("search: reindex question %s: %v", rec.ID, err)
			failed++
		}
	}
	if failed > 0 {
		log.Printf("search: reindex finished with %d of %d failed", failed, len(records))
	}
}
