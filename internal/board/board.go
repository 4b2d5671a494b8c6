package board

import (
	"context"
	"log"
	"sync"

	"liveboard/api/internal/docstore"
	"liveboard/api/internal/identity"
	"liveboard/api/internal/live"
)

// DraftGenerator produces an answer draft for a question's text. At most one
// request is in flight at a time.
type DraftGenerator interface {
	Generate(ctx context.Context, questionText string) (string, error)
	Busy() bool
}

// Deps wires a board to its collaborators. Search, Archive, Journal and Draft
// are optional.
type Deps struct {
	Session *identity.Session
	Store   docstore.Store
	Feed    docstore.ChangeFeed
	Paths   Paths
	Draft   DraftGenerator
	Search  Searcher
	Archive Archiver
	Journal Journal
}

// Board is one client's view of the live board: the materialized question
// list, the selection with its answers, and the answer-compose buffer. All
// visible state changes from writes arrive back through subscription
// snapshots; the compose buffer is the only locally mutated state.
type Board struct {
	session   *identity.Session
	store     docstore.Store
	paths     Paths
	draft     DraftGenerator
	questions *Questions
	answers   *Answers
	selection *Selection
	qsub      *live.Subscriber

	mu            sync.Mutex
	questionList  []Question
	lastCounts    map[string]int
	compose       string
	editingAnswer string
	subscribed    bool
	streamError   string
}

func New(deps Deps) *Board {
	b := &Board{
		session:    deps.Session,
		store:      deps.Store,
		paths:      deps.Paths,
		draft:      deps.Draft,
		qsub:       live.New(deps.Store, deps.Feed),
		lastCounts: make(map[string]int),
	}
	b.selection = newSelection(deps.Store, deps.Feed, deps.Paths, b.streamFailed, b.recordCount)
	b.questions = &Questions{
		store:   deps.Store,
		paths:   deps.Paths,
		lookup:  b.cachedQuestion,
		search:  deps.Search,
		archive: deps.Archive,
		journal: deps.Journal,
	}
	b.answers = &Answers{
		store:  deps.Store,
		paths:  deps.Paths,
		target: b.selection.TargetID,
		lookup: b.selection.Answer,
	}
	return b
}

// Start subscribes to the question collection once the identity session
// reports ready. Readiness, not a signed-in identity, is the gate: a signed
// out client still sees the board.
func (b *Board) Start(ctx context.Context) {
	b.session.OnChange(func(_ *identity.Identity, ready bool) {
		if !ready {
			return
		}
		b.mu.Lock()
		if b.subscribed {
			b.mu.Unlock()
			return
		}
		b.subscribed = true
		b.mu.Unlock()

		err := b.qsub.Subscribe(ctx, b.paths.Questions(), docstore.Descending,
			b.applyQuestionSnapshot, b.streamFailed)
		if err != nil {
			b.streamFailed(err)
		}
	})
}

func (b *Board) Close() {
	b.qsub.Unsubscribe()
	b.selection.Clear()
}

func (b *Board) applyQuestionSnapshot(docs []docstore.Document) {
	questions := make([]Question, 0, len(docs))
	for _, doc := range docs {
		questions = append(questions, questionFromDocument(doc))
	}

	b.mu.Lock()
	b.questionList = questions
	b.mu.Unlock()
}

func (b *Board) streamFailed(err error) {
	log.Printf("board: subscription error: %v", err)
	b.mu.Lock()
	b.streamError = err.Error()
	b.mu.Unlock()
}

func (b *Board) recordCount(questionID string, count int) {
	b.mu.Lock()
	b.lastCounts[questionID] = count
	b.mu.Unlock()
}

func (b *Board) cachedQuestion(id string) (Question, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, question := range b.questionList {
		if question.ID == id {
			return question, true
		}
	}
	return Question{}, false
}

func (b *Board) currentIdentity() *identity.Identity {
	ident, _ := b.session.Current()
	return ident
}

// Questions returns the materialized question list. The answer count is live
// for the selected question and last-observed for everything else.
func (b *Board) Questions() []Question {
	selectedID, selectedCount := "", 0
	if selected, ok := b.selection.Selected(); ok {
		selectedID, selectedCount = selected.ID, len(selected.Answers)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Question, len(b.questionList))
	copy(out, b.questionList)
	for i := range out {
		if out[i].ID == selectedID {
			out[i].AnswerCount = selectedCount
		} else {
			out[i].AnswerCount = b.lastCounts[out[i].ID]
		}
	}
	return out
}

func (b *Board) PostQuestion(ctx context.Context, text string) (Question, error) {
	return b.questions.Post(ctx, text, b.currentIdentity())
}

func (b *Board) UpdateQuestion(ctx context.Context, questionID, newText string) error {
	return b.questions.Update(ctx, questionID, newText, b.currentIdentity())
}

// DeleteQuestion performs the cascading delete. The selection is cleared only
// after the delete succeeds; a cascade failure leaves it in place.
func (b *Board) DeleteQuestion(ctx context.Context, questionID string) error {
	if err := b.questions.Delete(ctx, questionID, b.currentIdentity()); err != nil {
		return err
	}
	if target, ok := b.selection.TargetID(); ok && target == questionID {
		b.ClearSelection()
	}
	b.mu.Lock()
	delete(b.lastCounts, questionID)
	b.mu.Unlock()
	return nil
}

// SelectQuestion opens a question: the previous answer subscription is torn
// down, the compose buffer and any in-progress answer edit are reset, and the
// answers sub-collection goes live.
func (b *Board) SelectQuestion(ctx context.Context, questionID string) error {
	question, ok := b.cachedQuestion(questionID)
	if !ok {
		return notFoundError("Question not found.")
	}

	b.mu.Lock()
	b.compose = ""
	b.editingAnswer = ""
	b.mu.Unlock()

	return b.selection.Select(ctx, question)
}

func (b *Board) ClearSelection() {
	b.selection.Clear()
	b.mu.Lock()
	b.compose = ""
	b.editingAnswer = ""
	b.mu.Unlock()
}

func (b *Board) Selected() (SelectedQuestion, bool) {
	return b.selection.Selected()
}

func (b *Board) PostAnswer(ctx context.Context, text string) (Answer, error) {
	answer, err := b.answers.Post(ctx, text, b.currentIdentity())
	if err != nil {
		return Answer{}, err
	}
	b.mu.Lock()
	b.compose = ""
	b.editingAnswer = ""
	b.mu.Unlock()
	return answer, nil
}

func (b *Board) UpdateAnswer(ctx context.Context, answerID, newText string) error {
	if err := b.answers.Update(ctx, answerID, newText, b.currentIdentity()); err != nil {
		return err
	}
	b.mu.Lock()
	if b.editingAnswer == answerID {
		b.editingAnswer = ""
	}
	b.mu.Unlock()
	return nil
}

func (b *Board) DeleteAnswer(ctx context.Context, answerID string) error {
	return b.answers.Delete(ctx, answerID, b.currentIdentity())
}

// StartEditingAnswer marks an answer as the edit target; selection changes
// reset it.
func (b *Board) StartEditingAnswer(answerID string) error {
	if _, ok := b.selection.Answer(answerID); !ok {
		return notFoundError("Answer not found.")
	}
	b.mu.Lock()
	b.editingAnswer = answerID
	b.mu.Unlock()
	return nil
}

func (b *Board) EditingAnswer() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.editingAnswer
}

func (b *Board) Compose() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.compose
}

func (b *Board) SetCompose(text string) {
	b.mu.Lock()
	b.compose = text
	b.mu.Unlock()
}

// GenerateDraft asks the draft collaborator for an answer draft to the
// selected question and writes the result into the compose buffer,
// overwriting it. On failure the buffer is left untouched.
func (b *Board) GenerateDraft(ctx context.Context) (string, error) {
	selected, ok := b.selection.Selected()
	if !ok {
		return "", noTargetError("Select a question to draft an answer for.")
	}
	if b.draft == nil {
		return "", upstreamError("Draft generation is not configured.", nil)
	}

	text, err := b.draft.Generate(ctx, selected.Text)
	if err != nil {
		return "", err
	}
	b.SetCompose(text)
	return text, nil
}

// DraftBusy reports whether a draft request is in flight; callers disable the
// answer controls while true.
func (b *Board) DraftBusy() bool {
	return b.draft != nil && b.draft.Busy()
}

// StreamError returns the latest subscription failure message, empty if none.
func (b *Board) StreamError() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streamError
}
