package board

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"liveboard/api/internal/docstore"
	"liveboard/api/internal/identity"
)

type storeOp struct {
	kind string
	path string
	id   string
}

// memStore is an in-memory document store that records every remote call.
type memStore struct {
	mu           sync.Mutex
	collections  map[string][]docstore.Document
	ops          []storeOp
	seq          int
	failDeleteID string
}

func newMemStore() *memStore {
	return &memStore{collections: make(map[string][]docstore.Document)}
}

func (m *memStore) Create(_ context.Context, path string, fields map[string]string) (docstore.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	copied := make(map[string]string, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	doc := docstore.Document{
		ID:        fmt.Sprintf("doc_%03d", m.seq),
		Path:      path,
		Fields:    copied,
		CreatedAt: docstore.Resolved(time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC).Add(time.Duration(m.seq) * time.Minute)),
	}
	m.collections[path] = append(m.collections[path], doc)
	m.ops = append(m.ops, storeOp{kind: "create", path: path, id: doc.ID})
	return doc, nil
}

func (m *memStore) Update(_ context.Context, path, id string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, storeOp{kind: "update", path: path, id: id})
	for i, doc := range m.collections[path] {
		if doc.ID == id {
			for k, v := range fields {
				m.collections[path][i].Fields[k] = v
			}
			return nil
		}
	}
	return docstore.ErrNotFound
}

func (m *memStore) Delete(_ context.Context, path, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, storeOp{kind: "delete", path: path, id: id})
	if id == m.failDeleteID {
		return errors.New("simulated delete failure")
	}
	docs := m.collections[path]
	for i, doc := range docs {
		if doc.ID == id {
			m.collections[path] = append(docs[:i:i], docs[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *memStore) ReadAll(_ context.Context, path string, order docstore.Order) ([]docstore.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]docstore.Document, len(m.collections[path]))
	copy(out, m.collections[path])
	docstore.Sort(out, order)
	return out, nil
}

func (m *memStore) opsOfKind(kind string) []storeOp {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storeOp
	for _, op := range m.ops {
		if op.kind == kind {
			out = append(out, op)
		}
	}
	return out
}

func (m *memStore) allOps() []storeOp {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]storeOp, len(m.ops))
	copy(out, m.ops)
	return out
}

// memFeed delivers change notifications to in-process subscribers.
type memFeed struct {
	mu   sync.Mutex
	subs map[string][]chan struct{}
}

func newMemFeed() *memFeed {
	return &memFeed{subs: make(map[string][]chan struct{})}
}

func (f *memFeed) Publish(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs[path] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

func (f *memFeed) Subscribe(_ context.Context, path string) (<-chan struct{}, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{}, 1)
	f.subs[path] = append(f.subs[path], ch)
	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, registered := range f.subs[path] {
			if registered == ch {
				f.subs[path] = append(f.subs[path][:i:i], f.subs[path][i+1:]...)
				return
			}
		}
	}, nil
}

// staticProvider reports a fixed identity immediately, so sessions are ready
// as soon as the board starts.
type staticProvider struct {
	ident *identity.Identity
}

func (p *staticProvider) SignIn(context.Context) (identity.Identity, error) {
	if p.ident == nil {
		return identity.Identity{}, errors.New("not signed in")
	}
	return *p.ident, nil
}

func (p *staticProvider) SignOut(context.Context) error { return nil }

func (p *staticProvider) OnAuthStateChanged(handler func(*identity.Identity)) func() {
	handler(p.ident)
	return func() {}
}

type testEnv struct {
	store *memStore
	feed  *memFeed
	paths Paths
}

func newTestEnv() *testEnv {
	return &testEnv{store: newMemStore(), feed: newMemFeed(), paths: NewPaths("test")}
}

func (e *testEnv) newBoard(t *testing.T, ident *identity.Identity, draft DraftGenerator) *Board {
	t.Helper()
	session := identity.NewSession(&staticProvider{ident: ident})
	b := New(Deps{
		Session: session,
		Store:   docstore.NewPublishingStore(e.store, e.feed),
		Feed:    e.feed,
		Paths:   e.paths,
		Draft:   draft,
	})
	b.Start(context.Background())
	t.Cleanup(b.Close)
	return b
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition never satisfied")
}

var (
	u1 = &identity.Identity{ID: "u1", DisplayName: "Avery", Email: "avery@example.com"}
	u2 = &identity.Identity{ID: "u2", DisplayName: "Blair", Email: "blair@example.com"}
)

func TestPostQuestionMaterializesDescending(t *testing.T) {
	env := newTestEnv()
	b := env.newBoard(t, u1, nil)
	ctx := context.Background()

	first, err := b.PostQuestion(ctx, "What is X?")
	if err != nil {
		t.Fatalf("PostQuestion failed: %v", err)
	}
	second, err := b.PostQuestion(ctx, "What is Y?")
	if err != nil {
		t.Fatalf("PostQuestion failed: %v", err)
	}

	waitFor(t, func() bool { return len(b.Questions()) == 2 })
	questions := b.Questions()
	if questions[0].ID != second.ID || questions[1].ID != first.ID {
		t.Fatalf("expected newest-first ordering, got %+v", questions)
	}
	if questions[0].AuthorID != "u1" || questions[0].AuthorName != "Avery" {
		t.Fatalf("expected author fields copied from identity, got %+v", questions[0])
	}
}

func TestPostQuestionValidationIssuesNoRemoteCalls(t *testing.T) {
	env := newTestEnv()
	b := env.newBoard(t, u1, nil)

	_, err := b.PostQuestion(context.Background(), "   \t  ")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != CodeValidation {
		t.Fatalf("expected VALIDATION, got %v", err)
	}
	if ops := env.store.allOps(); len(ops) != 0 {
		t.Fatalf("expected zero remote calls, got %+v", ops)
	}
}

func TestPostQuestionRequiresIdentity(t *testing.T) {
	env := newTestEnv()
	b := env.newBoard(t, nil, nil)

	_, err := b.PostQuestion(context.Background(), "Who am I?")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != CodeAuthRequired {
		t.Fatalf("expected AUTH_REQUIRED, got %v", err)
	}
	if ops := env.store.allOps(); len(ops) != 0 {
		t.Fatalf("expected zero remote calls, got %+v", ops)
	}
}

func TestUpdateQuestionByNonAuthorFailsWithoutRemoteCall(t *testing.T) {
	env := newTestEnv()
	author := env.newBoard(t, u1, nil)
	other := env.newBoard(t, u2, nil)
	ctx := context.Background()

	question, err := author.PostQuestion(ctx, "What is X?")
	if err != nil {
		t.Fatalf("PostQuestion failed: %v", err)
	}
	waitFor(t, func() bool { return len(other.Questions()) == 1 })

	before := len(env.store.allOps())
	err = other.UpdateQuestion(ctx, question.ID, "hijacked")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != CodePermission {
		t.Fatalf("expected PERMISSION, got %v", err)
	}
	if len(env.store.allOps()) != before {
		t.Fatalf("permission failure must not reach the store")
	}
}

func TestUpdateQuestionByAuthor(t *testing.T) {
	env := newTestEnv()
	b := env.newBoard(t, u1, nil)
	ctx := context.Background()

	question, err := b.PostQuestion(ctx, "What is X?")
	if err != nil {
		t.Fatalf("PostQuestion failed: %v", err)
	}
	waitFor(t, func() bool { return len(b.Questions()) == 1 })

	if err := b.UpdateQuestion(ctx, question.ID, "What is X, really?"); err != nil {
		t.Fatalf("UpdateQuestion failed: %v", err)
	}
	waitFor(t, func() bool {
		qs := b.Questions()
		return len(qs) == 1 && qs[0].Text == "What is X, really?"
	})
}

func TestDeleteQuestionCascadesBeforeQuestionDelete(t *testing.T) {
	env := newTestEnv()
	b := env.newBoard(t, u1, nil)
	ctx := context.Background()

	question, err := b.PostQuestion(ctx, "What is X?")
	if err != nil {
		t.Fatalf("PostQuestion failed: %v", err)
	}
	waitFor(t, func() bool { return len(b.Questions()) == 1 })
	if err := b.SelectQuestion(ctx, question.ID); err != nil {
		t.Fatalf("SelectQuestion failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := b.PostAnswer(ctx, fmt.Sprintf("answer %d", i)); err != nil {
			t.Fatalf("PostAnswer failed: %v", err)
		}
	}

	if err := b.DeleteQuestion(ctx, question.ID); err != nil {
		t.Fatalf("DeleteQuestion failed: %v", err)
	}

	deletes := env.store.opsOfKind("delete")
	if len(deletes) != 4 {
		t.Fatalf("expected 3 answer deletes + 1 question delete, got %+v", deletes)
	}
	answersPath := env.paths.Answers(question.ID)
	for _, op := range deletes[:3] {
		if op.path != answersPath {
			t.Fatalf("expected answer deletes first, got %+v", deletes)
		}
	}
	if last := deletes[3]; last.path != env.paths.Questions() || last.id != question.ID {
		t.Fatalf("expected the question delete last, got %+v", last)
	}

	if _, ok := b.Selected(); ok {
		t.Fatalf("expected selection cleared after deleting the selected question")
	}
	waitFor(t, func() bool { return len(b.Questions()) == 0 })
}

func TestDeleteQuestionAbortsOnPartialCascadeFailure(t *testing.T) {
	env := newTestEnv()
	b := env.newBoard(t, u1, nil)
	ctx := context.Background()

	question, err := b.PostQuestion(ctx, "What is X?")
	if err != nil {
		t.Fatalf("PostQuestion failed: %v", err)
	}
	waitFor(t, func() bool { return len(b.Questions()) == 1 })
	if err := b.SelectQuestion(ctx, question.ID); err != nil {
		t.Fatalf("SelectQuestion failed: %v", err)
	}
	var answers []Answer
	for i := 0; i < 3; i++ {
		answer, err := b.PostAnswer(ctx, fmt.Sprintf("answer %d", i))
		if err != nil {
			t.Fatalf("PostAnswer failed: %v", err)
		}
		answers = append(answers, answer)
	}
	env.store.failDeleteID = answers[1].ID

	err = b.DeleteQuestion(ctx, question.ID)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != CodeCascade {
		t.Fatalf("expected CASCADE, got %v", err)
	}

	// The question delete must never have been issued.
	for _, op := range env.store.opsOfKind("delete") {
		if op.path == env.paths.Questions() {
			t.Fatalf("question delete issued despite cascade failure: %+v", op)
		}
	}
	if _, ok := b.Selected(); !ok {
		t.Fatalf("selection must survive a failed delete")
	}
	if len(b.Questions()) != 1 {
		t.Fatalf("question must remain after cascade failure")
	}
}

func TestSelectionSwitchShowsOnlyNewTargetsAnswers(t *testing.T) {
	env := newTestEnv()
	b := env.newBoard(t, u1, nil)
	ctx := context.Background()

	questionA, err := b.PostQuestion(ctx, "Question A")
	if err != nil {
		t.Fatalf("PostQuestion failed: %v", err)
	}
	questionB, err := b.PostQuestion(ctx, "Question B")
	if err != nil {
		t.Fatalf("PostQuestion failed: %v", err)
	}
	waitFor(t, func() bool { return len(b.Questions()) == 2 })

	if err := b.SelectQuestion(ctx, questionA.ID); err != nil {
		t.Fatalf("SelectQuestion A failed: %v", err)
	}
	if _, err := b.PostAnswer(ctx, "answer for A"); err != nil {
		t.Fatalf("PostAnswer failed: %v", err)
	}
	waitFor(t, func() bool {
		selected, ok := b.Selected()
		return ok && len(selected.Answers) == 1
	})

	if err := b.SelectQuestion(ctx, questionB.ID); err != nil {
		t.Fatalf("SelectQuestion B failed: %v", err)
	}
	selected, ok := b.Selected()
	if !ok || selected.ID != questionB.ID {
		t.Fatalf("expected selection on B, got %+v", selected)
	}
	if len(selected.Answers) != 0 {
		t.Fatalf("answers leaked across selection switch: %+v", selected.Answers)
	}

	if _, err := b.PostAnswer(ctx, "answer for B"); err != nil {
		t.Fatalf("PostAnswer failed: %v", err)
	}
	waitFor(t, func() bool {
		selected, ok := b.Selected()
		return ok && len(selected.Answers) == 1 && selected.Answers[0].QuestionID == questionB.ID
	})
}

func TestSelectResetsComposeAndEditTarget(t *testing.T) {
	env := newTestEnv()
	b := env.newBoard(t, u1, nil)
	ctx := context.Background()

	question, err := b.PostQuestion(ctx, "What is X?")
	if err != nil {
		t.Fatalf("PostQuestion failed: %v", err)
	}
	waitFor(t, func() bool { return len(b.Questions()) == 1 })

	if err := b.SelectQuestion(ctx, question.ID); err != nil {
		t.Fatalf("SelectQuestion failed: %v", err)
	}
	answer, err := b.PostAnswer(ctx, "draft target")
	if err != nil {
		t.Fatalf("PostAnswer failed: %v", err)
	}
	waitFor(t, func() bool {
		selected, ok := b.Selected()
		return ok && len(selected.Answers) == 1
	})

	b.SetCompose("half-written answer")
	if err := b.StartEditingAnswer(answer.ID); err != nil {
		t.Fatalf("StartEditingAnswer failed: %v", err)
	}

	if err := b.SelectQuestion(ctx, question.ID); err != nil {
		t.Fatalf("re-select failed: %v", err)
	}
	if b.Compose() != "" {
		t.Fatalf("compose buffer must reset on selection, got %q", b.Compose())
	}
	if b.EditingAnswer() != "" {
		t.Fatalf("edit target must reset on selection, got %q", b.EditingAnswer())
	}
}

func TestAnswerCountsAreLazyForUnselectedQuestions(t *testing.T) {
	env := newTestEnv()
	b := env.newBoard(t, u1, nil)
	ctx := context.Background()

	questionA, err := b.PostQuestion(ctx, "Question A")
	if err != nil {
		t.Fatalf("PostQuestion failed: %v", err)
	}
	questionB, err := b.PostQuestion(ctx, "Question B")
	if err != nil {
		t.Fatalf("PostQuestion failed: %v", err)
	}
	waitFor(t, func() bool { return len(b.Questions()) == 2 })

	if err := b.SelectQuestion(ctx, questionA.ID); err != nil {
		t.Fatalf("SelectQuestion failed: %v", err)
	}
	if _, err := b.PostAnswer(ctx, "first"); err != nil {
		t.Fatalf("PostAnswer failed: %v", err)
	}
	if _, err := b.PostAnswer(ctx, "second"); err != nil {
		t.Fatalf("PostAnswer failed: %v", err)
	}
	waitFor(t, func() bool {
		selected, ok := b.Selected()
		return ok && len(selected.Answers) == 2
	})

	counts := map[string]int{}
	for _, q := range b.Questions() {
		counts[q.ID] = q.AnswerCount
	}
	if counts[questionA.ID] != 2 || counts[questionB.ID] != 0 {
		t.Fatalf("expected live count for A and zero for unselected B, got %+v", counts)
	}

	// Switching away keeps A's last observed count; no eager re-fetch.
	if err := b.SelectQuestion(ctx, questionB.ID); err != nil {
		t.Fatalf("SelectQuestion failed: %v", err)
	}
	waitFor(t, func() bool {
		for _, q := range b.Questions() {
			if q.ID == questionA.ID && q.AnswerCount == 2 {
				return true
			}
		}
		return false
	})
}

func TestAnswerPostRequiresSelection(t *testing.T) {
	env := newTestEnv()
	b := env.newBoard(t, u1, nil)

	_, err := b.PostAnswer(context.Background(), "orphan answer")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != CodeNoTarget {
		t.Fatalf("expected NO_TARGET, got %v", err)
	}
}

func TestAnswerDeleteByNonAuthorFails(t *testing.T) {
	env := newTestEnv()
	asker := env.newBoard(t, u1, nil)
	answerer := env.newBoard(t, u2, nil)
	ctx := context.Background()

	question, err := asker.PostQuestion(ctx, "What is X?")
	if err != nil {
		t.Fatalf("PostQuestion failed: %v", err)
	}
	waitFor(t, func() bool { return len(answerer.Questions()) == 1 })

	if err := answerer.SelectQuestion(ctx, question.ID); err != nil {
		t.Fatalf("SelectQuestion failed: %v", err)
	}
	answer, err := answerer.PostAnswer(ctx, "X is Y")
	if err != nil {
		t.Fatalf("PostAnswer failed: %v", err)
	}

	if err := asker.SelectQuestion(ctx, question.ID); err != nil {
		t.Fatalf("SelectQuestion failed: %v", err)
	}
	waitFor(t, func() bool {
		selected, ok := asker.Selected()
		return ok && len(selected.Answers) == 1
	})

	before := len(env.store.allOps())
	err = asker.DeleteAnswer(ctx, answer.ID)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != CodePermission {
		t.Fatalf("expected PERMISSION, got %v", err)
	}
	if len(env.store.allOps()) != before {
		t.Fatalf("permission failure must not reach the store")
	}
}

type fakeDraft struct {
	mu    sync.Mutex
	busy  bool
	text  string
	err   error
	calls int
}

func (d *fakeDraft) Generate(context.Context, string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil {
		return "", d.err
	}
	return d.text, nil
}

func (d *fakeDraft) Busy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.busy
}

func TestGenerateDraftWritesComposeBuffer(t *testing.T) {
	env := newTestEnv()
	draft := &fakeDraft{text: "X is a variable."}
	b := env.newBoard(t, u1, draft)
	ctx := context.Background()

	question, err := b.PostQuestion(ctx, "What is X?")
	if err != nil {
		t.Fatalf("PostQuestion failed: %v", err)
	}
	waitFor(t, func() bool { return len(b.Questions()) == 1 })
	if err := b.SelectQuestion(ctx, question.ID); err != nil {
		t.Fatalf("SelectQuestion failed: %v", err)
	}

	b.SetCompose("my own words")
	if _, err := b.GenerateDraft(ctx); err != nil {
		t.Fatalf("GenerateDraft failed: %v", err)
	}
	if b.Compose() != "X is a variable." {
		t.Fatalf("expected draft to overwrite compose buffer, got %q", b.Compose())
	}
}

func TestGenerateDraftFailureLeavesComposeUntouched(t *testing.T) {
	env := newTestEnv()
	draft := &fakeDraft{err: errors.New("upstream exploded")}
	b := env.newBoard(t, u1, draft)
	ctx := context.Background()

	question, err := b.PostQuestion(ctx, "What is X?")
	if err != nil {
		t.Fatalf("PostQuestion failed: %v", err)
	}
	waitFor(t, func() bool { return len(b.Questions()) == 1 })
	if err := b.SelectQuestion(ctx, question.ID); err != nil {
		t.Fatalf("SelectQuestion failed: %v", err)
	}

	b.SetCompose("my own words")
	if _, err := b.GenerateDraft(ctx); err == nil {
		t.Fatalf("expected generation failure")
	}
	if b.Compose() != "my own words" {
		t.Fatalf("compose buffer must survive a failed draft, got %q", b.Compose())
	}
}

func TestGenerateDraftRequiresSelection(t *testing.T) {
	env := newTestEnv()
	draft := &fakeDraft{text: "unused"}
	b := env.newBoard(t, u1, draft)

	_, err := b.GenerateDraft(context.Background())
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != CodeNoTarget {
		t.Fatalf("expected NO_TARGET, got %v", err)
	}
	if draft.calls != 0 {
		t.Fatalf("no request may be issued without a selection")
	}
}

// The end-to-end scenario: two identities, one question, one answer, a denied
// delete, then a cascading delete that empties the board.
func TestBoardLifecycleAcrossTwoIdentities(t *testing.T) {
	env := newTestEnv()
	asker := env.newBoard(t, u1, nil)
	answerer := env.newBoard(t, u2, nil)
	ctx := context.Background()

	question, err := asker.PostQuestion(ctx, "What is X?")
	if err != nil {
		t.Fatalf("PostQuestion failed: %v", err)
	}
	waitFor(t, func() bool { return len(asker.Questions()) == 1 && len(answerer.Questions()) == 1 })

	if err := asker.SelectQuestion(ctx, question.ID); err != nil {
		t.Fatalf("SelectQuestion failed: %v", err)
	}
	selected, ok := asker.Selected()
	if !ok || len(selected.Answers) != 0 {
		t.Fatalf("expected empty answer list on fresh selection, got %+v", selected)
	}

	if err := answerer.SelectQuestion(ctx, question.ID); err != nil {
		t.Fatalf("SelectQuestion failed: %v", err)
	}
	answer, err := answerer.PostAnswer(ctx, "X is Y")
	if err != nil {
		t.Fatalf("PostAnswer failed: %v", err)
	}
	waitFor(t, func() bool {
		selected, ok := asker.Selected()
		return ok && len(selected.Answers) == 1 && selected.Answers[0].AuthorID == "u2"
	})

	err = asker.DeleteAnswer(ctx, answer.ID)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != CodePermission {
		t.Fatalf("expected PERMISSION deleting another author's answer, got %v", err)
	}
	if selected, _ := asker.Selected(); len(selected.Answers) != 1 {
		t.Fatalf("answer must still be present after denied delete")
	}

	if err := asker.DeleteQuestion(ctx, question.ID); err != nil {
		t.Fatalf("DeleteQuestion failed: %v", err)
	}
	deletes := env.store.opsOfKind("delete")
	if len(deletes) < 2 || deletes[len(deletes)-1].path != env.paths.Questions() {
		t.Fatalf("expected answer deletes before the question delete, got %+v", deletes)
	}
	if _, ok := asker.Selected(); ok {
		t.Fatalf("selection must clear after deleting the selected question")
	}
	waitFor(t, func() bool { return len(asker.Questions()) == 0 })
}
