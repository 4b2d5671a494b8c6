// Package app composes the identity provider, the per-client boards, and the
// supporting services behind the HTTP surface. Each signed-in token gets its
// own board instance: the selection and compose buffer are client state, not
// shared state.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"liveboard/api/internal/board"
	"liveboard/api/internal/docstore"
	"liveboard/api/internal/draft"
	"liveboard/api/internal/export"
	"liveboard/api/internal/history"
	"liveboard/api/internal/identity"
	"liveboard/api/internal/search"
)

// Searcher is what the HTTP layer needs from the search service.
type Searcher interface {
	Search(q search.Query) search.Response
}

// Journal is the question revision log.
type Journal interface {
	Record(questionID, text, author, message string) error
	History(questionID string, limit int) ([]history.Revision, error)
	Remove(questionID string) error
}

// Deps carries everything a Service composes. Search, Archive, Journal,
// Exporter and Draft are optional; a nil value disables the feature.
type Deps struct {
	DB       *sql.DB
	Provider *identity.LocalProvider
	Store    docstore.Store
	Feed     docstore.ChangeFeed
	Paths    board.Paths
	AppID    string
	Draft    draft.Config
	Search   Searcher
	Archive  board.Archiver
	Journal  Journal
	Exporter *export.Service
}

// Client is one signed-in token's live state.
type Client struct {
	Token    string
	Session  *identity.Session
	Board    *board.Board
	lastSeen time.Time
}

type Service struct {
	deps Deps

	mu      sync.Mutex
	clients map[string]*Client
}

func NewService(deps Deps) *Service {
	return &Service{
		deps:    deps,
		clients: make(map[string]*Client),
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.deps.DB.PingContext(ctx)
}

func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (identity.Identity, error) {
	return s.deps.Provider.SignUp(ctx, email, password, displayName)
}

// SignIn authenticates the credentials and builds the client's board.
func (s *Service) SignIn(ctx context.Context, email, password string) (*Client, error) {
	ident, token, err := s.deps.Provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}

	client := s.buildClient(token)
	log.Printf("app: client signed in: %s", ident.ID)
	return client, nil
}

// SignOut revokes the token and tears the client's board down.
func (s *Service) SignOut(ctx context.Context, token string) error {
	s.mu.Lock()
	client, ok := s.clients[token]
	delete(s.clients, token)
	s.mu.Unlock()

	if !ok {
		// Never seen by this process; revoke the record directly.
		return s.deps.Provider.Handle(token).SignOut(ctx)
	}

	err := client.Session.SignOut(ctx)
	client.Board.Close()
	client.Session.Close()
	return err
}

// ClientFromToken returns the live client for a token, rebuilding it when the
// token is valid but the process has no client yet (e.g. after a restart).
func (s *Service) ClientFromToken(ctx context.Context, token string) (*Client, error) {
	s.mu.Lock()
	client, ok := s.clients[token]
	if ok {
		client.lastSeen = time.Now()
		s.mu.Unlock()
		return client, nil
	}
	s.mu.Unlock()

	if _, err := s.deps.Provider.Resume(ctx, token); err != nil {
		return nil, err
	}
	return s.buildClient(token), nil
}

func (s *Service) buildClient(token string) *Client {
	handle := s.deps.Provider.Handle(token)
	session := identity.NewSession(handle)

	var generator board.DraftGenerator
	if s.deps.Draft.Endpoint != "" {
		generator = draft.NewCoordinator(s.deps.Draft)
	}

	b := board.New(board.Deps{
		Session: session,
		Store:   s.deps.Store,
		Feed:    s.deps.Feed,
		Paths:   s.deps.Paths,
		Draft:   generator,
		Search:  s.boardSearcher(),
		Archive: s.deps.Archive,
		Journal: s.deps.Journal,
	})
	b.Start(context.Background())

	client := &Client{Token: token, Session: session, Board: b, lastSeen: time.Now()}
	s.mu.Lock()
	if existing, ok := s.clients[token]; ok {
		// A concurrent request built this token's client first. Keep the
		// registered one and tear this build down, or its board's
		// subscription would leak.
		existing.lastSeen = time.Now()
		s.mu.Unlock()
		b.Close()
		session.Close()
		return existing
	}
	s.clients[token] = client
	s.mu.Unlock()
	return client
}

// ListQuestions is the unauthenticated one-shot read of the question
// collection, newest first. Counts are not populated; they belong to the live
// per-client view.
func (s *Service) ListQuestions(ctx context.Context) ([]board.Question, error) {
	docs, err := s.deps.Store.ReadAll(ctx, s.deps.Paths.Questions(), docstore.Descending)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	return board.QuestionsFromDocuments(docs), nil
}

func (s *Service) Search(q search.Query) (search.Response, bool) {
	if s.deps.Search == nil {
		return search.Response{}, false
	}
	return s.deps.Search.Search(q), true
}

func (s *Service) QuestionHistory(questionID string, limit int) ([]history.Revision, bool, error) {
	if s.deps.Journal == nil {
		return nil, false, nil
	}
	revisions, err := s.deps.Journal.History(questionID, limit)
	return revisions, true, err
}

// ExportThreadPDF reads the thread one-shot and renders it to PDF.
func (s *Service) ExportThreadPDF(ctx context.Context, questionID string) (*export.Result, error) {
	if s.deps.Exporter == nil {
		return nil, fmt.Errorf("export not configured")
	}

	questions, err := s.deps.Store.ReadAll(ctx, s.deps.Paths.Questions(), docstore.Descending)
	if err != nil {
		return nil, fmt.Errorf("read questions: %w", err)
	}
	var question *board.Question
	for _, q := range board.QuestionsFromDocuments(questions) {
		if q.ID == questionID {
			q := q
			question = &q
			break
		}
	}
	if question == nil {
		return nil, sql.ErrNoRows
	}

	answerDocs, err := s.deps.Store.ReadAll(ctx, s.deps.Paths.Answers(questionID), docstore.Ascending)
	if err != nil {
		return nil, fmt.Errorf("read answers: %w", err)
	}

	thread := export.Thread{
		QuestionID: question.ID,
		Text:       question.Text,
		Author:     question.AuthorName,
		CreatedAt:  question.CreatedAt.Time,
		BoardName:  s.deps.AppID,
	}
	for _, answer := range board.AnswersFromDocuments(answerDocs, questionID) {
		thread.Answers = append(thread.Answers, export.Answer{
			Text:      answer.Text,
			Author:    answer.AuthorName,
			CreatedAt: answer.CreatedAt.Time,
		})
	}
	return s.deps.Exporter.ExportThreadPDF(thread)
}

func (s *Service) boardSearcher() board.Searcher {
	indexer, ok := s.deps.Search.(interface {
		IndexQuestion(rec search.QuestionRecord)
		RemoveQuestion(id string)
	})
	if !ok || s.deps.Search == nil {
		return nil
	}
	return &searchAdapter{indexer: indexer}
}

type searchAdapter struct {
	indexer interface {
		IndexQuestion(rec search.QuestionRecord)
		RemoveQuestion(id string)
	}
}

func (a *searchAdapter) IndexQuestion(q board.Question) {
	a.indexer.IndexQuestion(search.QuestionRecord{
		ID:         q.ID,
		Text:       q.Text,
		AuthorName: q.AuthorName,
	})
}

func (a *searchAdapter) RemoveQuestion(id string) {
	a.indexer.RemoveQuestion(id)
}

// Close tears down every live client.
func (s *Service) Close() {
	s.mu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for _, client := range s.clients {
		clients = append(clients, client)
	}
	s.clients = make(map[string]*Client)
	s.mu.Unlock()

	for _, client := range clients {
		client.Board.Close()
		client.Session.Close()
	}
}
