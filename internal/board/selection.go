package board

import (
	"context"
	"sync"

	"liveboard/api/internal/docstore"
	"liveboard/api/internal/live"
)

// Selection is the board's only state machine: Unselected, or Selected with
// exactly one question whose answers sub-collection is live. It has no error
// state; subscription failures are reported through onError without
// transitioning.
type Selection struct {
	sub     *live.Subscriber
	paths   Paths
	onError func(error)
	onCount func(questionID string, count int)

	mu       sync.Mutex
	question *Question
	answers  []Answer
}

func newSelection(reader live.Reader, feed live.Feed, paths Paths, onError func(error), onCount func(string, int)) *Selection {
	return &Selection{
		sub:     live.New(reader, feed),
		paths:   paths,
		onError: onError,
		onCount: onCount,
	}
}

// Select moves the machine to Selected(question.ID). The previous answer
// subscription is torn down and the local answer buffer discarded before the
// new subscription's first snapshot can arrive, so answers never leak across
// questions. A subscription failure is returned for surfacing but leaves the
// machine Selected; the answer list simply stays empty.
func (s *Selection) Select(ctx context.Context, question Question) error {
	s.sub.Unsubscribe()

	s.mu.Lock()
	q := question
	s.question = &q
	s.answers = nil
	s.mu.Unlock()

	questionID := question.ID
	err := s.sub.Subscribe(ctx, s.paths.Answers(questionID), docstore.Ascending,
		func(docs []docstore.Document) { s.applySnapshot(questionID, docs) },
		s.onError,
	)
	if err != nil {
		return upstreamError("Failed to subscribe to the question's answers.", err)
	}
	return nil
}

// Clear moves the machine to Unselected.
func (s *Selection) Clear() {
	s.sub.Unsubscribe()

	s.mu.Lock()
	s.question = nil
	s.answers = nil
	s.mu.Unlock()
}

func (s *Selection) applySnapshot(questionID string, docs []docstore.Document) {
	answers := make([]Answer, 0, len(docs))
	for _, doc := range docs {
		answers = append(answers, answerFromDocument(doc, questionID))
	}

	s.mu.Lock()
	// The subscriber already keys delivery to the live subscription instance;
	// this guard covers the window where Clear ran but a snapshot was in
	// flight for the same instance.
	if s.question == nil || s.question.ID != questionID {
		s.mu.Unlock()
		return
	}
	s.answers = answers
	s.mu.Unlock()

	if s.onCount != nil {
		s.onCount(questionID, len(answers))
	}
}

// Selected returns the current selection with its materialized answers.
func (s *Selection) Selected() (SelectedQuestion, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.question == nil {
		return SelectedQuestion{}, false
	}
	selected := SelectedQuestion{Question: *s.question}
	selected.AnswerCount = len(s.answers)
	selected.Answers = make([]Answer, len(s.answers))
	copy(selected.Answers, s.answers)
	return selected, true
}

func (s *Selection) TargetID() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.question == nil {
		return "", false
	}
	return s.question.ID, true
}

func (s *Selection) Answer(answerID string) (Answer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, answer := range s.answers {
		if answer.ID == answerID {
			return answer, true
		}
	}
	return Answer{}, false
}
