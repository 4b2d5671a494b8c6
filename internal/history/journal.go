// Package history keeps a git-backed revision log for question text. Each
// question gets its own repository under the base directory, with every post
// or edit committed as a new revision of question.txt.
package history

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Revision is one committed edit of a question.
type Revision struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

type Journal struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewJournal(baseDir string) *Journal {
	return &Journal{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Record commits the question text as a new revision, initializing the
// repository on first use.
func (j *Journal) Record(questionID, text, author, message string) error {
	lock := j.questionLock(questionID)
	lock.Lock()
	defer lock.Unlock()

	path := j.repoPath(questionID)
	repo, err := git.PlainOpen(path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create repo dir: %w", err)
		}
		repo, err = git.PlainInit(path, false)
		if err != nil {
			return fmt.Errorf("init repo: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("open repo: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	if err := os.WriteFile(filepath.Join(path, "question.txt"), []byte(text+"\n"), 0o644); err != nil {
		return fmt.Errorf("write question text: %w", err)
	}
	if _, err := worktree.Add("question.txt"); err != nil {
		return fmt.Errorf("git add question text: %w", err)
	}
	if author == "" {
		author = "anonymous"
	}
	_, err = worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@local.liveboard.dev", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return fmt.Errorf("commit question text: %w", err)
	}
	return nil
}

// History returns the question's revisions, newest first. A question that was
// never recorded has an empty history.
func (j *Journal) History(questionID string, limit int) ([]Revision, error) {
	lock := j.questionLock(questionID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(j.repoPath(questionID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []Revision{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	head, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return []Revision{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	revisions := make([]Revision, 0, limit)
	count := 0
	err = iter.ForEach(func(commitObj *object.Commit) error {
		rev, err := toRevision(commitObj)
		if err != nil {
			return err
		}
		revisions = append(revisions, rev)
		count++
		if limit > 0 && count >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return revisions, nil
}

// Remove drops a question's revision log, used after the question itself is
// deleted.
func (j *Journal) Remove(questionID string) error {
	lock := j.questionLock(questionID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.RemoveAll(j.repoPath(questionID)); err != nil {
		return fmt.Errorf("remove repo: %w", err)
	}
	return nil
}

func (j *Journal) repoPath(questionID string) string {
	return filepath.Join(j.baseDir, questionID)
}

func (j *Journal) questionLock(questionID string) *sync.Mutex {
	j.lockMu.Lock()
	defer j.lockMu.Unlock()
	lock, ok := j.locks[questionID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	j.locks[questionID] = lock
	return lock
}

func toRevision(commitObj *object.Commit) (Revision, error) {
	rev := Revision{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}

	file, err := commitObj.File("question.txt")
	if err != nil {
		return rev, nil
	}
	reader, err := file.Reader()
	if err != nil {
		return Revision{}, fmt.Errorf("open revision reader: %w", err)
	}
	defer reader.Close()
	payload, err := io.ReadAll(reader)
	if err != nil {
		return Revision{}, fmt.Errorf("read revision text: %w", err)
	}
	if len(payload) > 0 && payload[len(payload)-1] == '\n' {
		payload = payload[:len(payload)-1]
	}
	rev.Text = string(payload)
	return rev, nil
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}
