package board

import (
	"context"
	"log"
	"strings"
	"sync"

	"liveboard/api/internal/docstore"
	"liveboard/api/internal/identity"
)

// Searcher maintains the question search index. Optional.
type Searcher interface {
	IndexQuestion(q Question)
	RemoveQuestion(id string)
}

// Archiver stores a copy of a question thread before it is deleted. Optional.
type Archiver interface {
	ArchiveThread(ctx context.Context, question docstore.Document, answers []docstore.Document) error
}

// Journal records question text revisions. Optional.
type Journal interface {
	Record(questionID, text, author, message string) error
}

// Questions owns question writes. Reads come from the materialized list the
// board's subscription maintains; the lookup closure checks that cache for
// ownership before any mutating call goes out.
type Questions struct {
	store   docstore.Store
	paths   Paths
	lookup  func(id string) (Question, bool)
	search  Searcher
	archive Archiver
	journal Journal
}

func (q *Questions) Post(ctx context.Context, text string, ident *identity.Identity) (Question, error) {
	text = strings.TrimSpace(text)
	if ident == nil {
		return Question{}, authRequiredError("Sign in to post a question.")
	}
	if text == "" {
		return Question{}, validationError("Question text is required.")
	}

	doc, err := q.store.Create(ctx, q.paths.Questions(), map[string]string{
		docstore.FieldText:       text,
		docstore.FieldAuthorID:   ident.ID,
		docstore.FieldAuthorName: ident.Label(),
	})
	if err != nil {
		return Question{}, upstreamError("Failed to post the question.", err)
	}

	question := questionFromDocument(doc)
	q.recordRevision(question.ID, text, ident.Label(), "Post question")
	if q.search != nil {
		q.search.IndexQuestion(question)
	}
	return question, nil
}

func (q *Questions) Update(ctx context.Context, questionID, newText string, ident *identity.Identity) error {
	newText = strings.TrimSpace(newText)
	if ident == nil {
		return authRequiredError("Sign in to edit a question.")
	}
	if newText == "" {
		return validationError("Question text is required.")
	}

	cached, ok := q.lookup(questionID)
	if !ok {
		return notFoundError("Question not found.")
	}
	if cached.AuthorID != ident.ID {
		return permissionError("Only the author can edit this question.")
	}

	err := q.store.Update(ctx, q.paths.Questions(), questionID, map[string]string{
		docstore.FieldText: newText,
	})
	if err != nil {
		// The local cache passed the ownership check but the store refused:
		// surface the store's rejection verbatim.
		return upstreamError("Failed to update the question.", err)
	}

	cached.Text = newText
	q.recordRevision(questionID, newText, ident.Label(), "Edit question")
	if q.search != nil {
		q.search.IndexQuestion(cached)
	}
	return nil
}

// Delete removes a question and every answer under it. The answer deletes are
// issued in parallel and must all settle successfully before the question
// delete goes out; a partial failure aborts with a cascade error and leaves
// the question in place.
func (q *Questions) Delete(ctx context.Context, questionID string, ident *identity.Identity) error {
	if ident == nil {
		return authRequiredError("Sign in to delete a question.")
	}

	cached, ok := q.lookup(questionID)
	if !ok {
		return notFoundError("Question not found.")
	}
	if cached.AuthorID != ident.ID {
		return permissionError("Only the author can delete this question.")
	}

	answersPath := q.paths.Answers(questionID)
	answers, err := q.store.ReadAll(ctx, answersPath, docstore.Ascending)
	if err != nil {
		return upstreamError("Failed to read the question's answers.", err)
	}

	if q.archive != nil {
		questionDoc := docstore.Document{
			ID:   questionID,
			Path: q.paths.Questions(),
			Fields: map[string]string{
				docstore.FieldText:       cached.Text,
				docstore.FieldAuthorID:   cached.AuthorID,
				docstore.FieldAuthorName: cached.AuthorName,
			},
			CreatedAt: cached.CreatedAt,
		}
		if err := q.archive.ArchiveThread(ctx, questionDoc, answers); err != nil {
			return upstreamError("Failed to archive the thread before deleting.", err)
		}
	}

	results := make([]error, len(answers))
	var wg sync.WaitGroup
	for i := range answers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = q.store.Delete(ctx, answersPath, answers[i].ID)
		}(i)
	}
	wg.Wait()

	failed := 0
	var firstErr error
	for _, err := range results {
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if failed > 0 {
		return cascadeError(failed, len(answers), firstErr)
	}

	if err := q.store.Delete(ctx, q.paths.Questions(), questionID); err != nil {
		return upstreamError("Failed to delete the question.", err)
	}

	if q.search != nil {
		q.search.RemoveQuestion(questionID)
	}
	return nil
}

func (q *Questions) recordRevision(questionID, text, author, message string) {
	if q.journal == nil {
		return
	}
	if err := q.journal.Record(questionID, text, author, message); err != nil {
		log.Printf("board: record revision for %s: %v", questionID, err)
	}
}
