package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"liveboard/api/internal/util"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrUserNotFound       = errors.New("user not found")
	ErrSessionNotFound    = errors.New("session not found or expired")
)

// User is a locally registered account.
type User struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
}

// UserStore defines the storage interface for local accounts.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (User, error)
	CreateUser(ctx context.Context, user User) error
}

// RecordStore holds live session records keyed by opaque token.
type RecordStore interface {
	Save(ctx context.Context, token string, ident Identity, ttl time.Duration) error
	Lookup(ctx context.Context, token string) (Identity, error)
	Revoke(ctx context.Context, token string) error
}

// LocalProvider is a credential-based auth collaborator for server
// deployments: bcrypt-hashed passwords, opaque session tokens with TTL.
type LocalProvider struct {
	users   UserStore
	records RecordStore
	ttl     time.Duration
}

func NewLocalProvider(users UserStore, records RecordStore, ttl time.Duration) *LocalProvider {
	return &LocalProvider{users: users, records: records, ttl: ttl}
}

func (p *LocalProvider) SignUp(ctx context.Context, email, password, displayName string) (Identity, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	displayName = strings.TrimSpace(displayName)
	if email == "" || password == "" {
		return Identity{}, errors.New("email and password are required")
	}
	if len(password) < 8 {
		return Identity{}, errors.New("password must be at least 8 characters")
	}

	if _, err := p.users.GetUserByEmail(ctx, email); err == nil {
		return Identity{}, ErrEmailTaken
	} else if !errors.Is(err, ErrUserNotFound) {
		return Identity{}, fmt.Errorf("lookup email: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Identity{}, fmt.Errorf("hash password: %w", err)
	}

	user := User{
		ID:           util.NewID("user"),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: string(hash),
	}
	if err := p.users.CreateUser(ctx, user); err != nil {
		return Identity{}, fmt.Errorf("create user: %w", err)
	}

	return Identity{ID: user.ID, DisplayName: user.DisplayName, Email: user.Email}, nil
}

// SignInWithPassword verifies credentials and opens a session record. The
// returned token is the opaque handle a client presents on later requests.
func (p *LocalProvider) SignInWithPassword(ctx context.Context, email, password string) (Identity, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))

	user, err := p.users.GetUserByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		return Identity{}, "", ErrInvalidCredentials
	}
	if err != nil {
		return Identity{}, "", fmt.Errorf("lookup user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return Identity{}, "", ErrInvalidCredentials
	}

	ident := Identity{ID: user.ID, DisplayName: user.DisplayName, Email: user.Email}
	token := util.NewID("")
	if err := p.records.Save(ctx, token, ident, p.ttl); err != nil {
		return Identity{}, "", fmt.Errorf("save session record: %w", err)
	}
	return ident, token, nil
}

func (p *LocalProvider) Resume(ctx context.Context, token string) (Identity, error) {
	return p.records.Lookup(ctx, token)
}

// Handle binds the provider to one session token, yielding the Provider
// contract a Session consumes.
func (p *LocalProvider) Handle(token string) *Handle {
	return &Handle{provider: p, token: token}
}

type Handle struct {
	provider *LocalProvider
	token    string

	mu       sync.Mutex
	handlers []func(*Identity)
}

func (h *Handle) SignIn(ctx context.Context) (Identity, error) {
	ident, err := h.provider.records.Lookup(ctx, h.token)
	if err != nil {
		return Identity{}, err
	}
	h.notify(&ident)
	return ident, nil
}

func (h *Handle) SignOut(ctx context.Context) error {
	if err := h.provider.records.Revoke(ctx, h.token); err != nil {
		return err
	}
	h.notify(nil)
	return nil
}

// OnAuthStateChanged registers a handler and reports the current record state
// asynchronously, mirroring the immediate initial callback of popup-style
// providers.
func (h *Handle) OnAuthStateChanged(handler func(*Identity)) func() {
	h.mu.Lock()
	h.handlers = append(h.handlers, handler)
	index := len(h.handlers) - 1
	h.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ident, err := h.provider.records.Lookup(ctx, h.token)
		if err != nil {
			handler(nil)
			return
		}
		handler(&ident)
	}()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if index < len(h.handlers) {
			h.handlers[index] = nil
		}
	}
}

func (h *Handle) notify(ident *Identity) {
	h.mu.Lock()
	handlers := make([]func(*Identity), len(h.handlers))
	copy(handlers, h.handlers)
	h.mu.Unlock()

	for _, handler := range handlers {
		if handler != nil {
			handler(ident)
		}
	}
}
