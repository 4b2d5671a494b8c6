package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

type memoryUsers struct {
	mu    sync.Mutex
	users map[string]User
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{users: make(map[string]User)}
}

func (m *memoryUsers) GetUserByEmail(_ context.Context, email string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[email]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (m *memoryUsers) CreateUser(_ context.Context, user User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.Email] = user
	return nil
}

func setupProvider(t *testing.T) (*LocalProvider, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	records, err := NewRedisRecords("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create record store: %v", err)
	}
	t.Cleanup(func() { _ = records.Close() })
	return NewLocalProvider(newMemoryUsers(), records, time.Hour), s
}

func TestSignUpAndSignInRoundtrip(t *testing.T) {
	provider, s := setupProvider(t)
	defer s.Close()
	ctx := context.Background()

	ident, err := provider.SignUp(ctx, "Avery@Example.com", "correct-horse", "Avery")
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	if ident.Email != "avery@example.com" {
		t.Fatalf("expected normalized email, got %q", ident.Email)
	}

	signedIn, token, err := provider.SignInWithPassword(ctx, "avery@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("SignInWithPassword failed: %v", err)
	}
	if signedIn.ID != ident.ID || token == "" {
		t.Fatalf("expected matching identity and a token, got %+v token=%q", signedIn, token)
	}

	resumed, err := provider.Resume(ctx, token)
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if resumed.ID != ident.ID || resumed.DisplayName != "Avery" {
		t.Fatalf("unexpected resumed identity: %+v", resumed)
	}
}

func TestSignInRejectsBadPassword(t *testing.T) {
	provider, s := setupProvider(t)
	defer s.Close()
	ctx := context.Background()

	if _, err := provider.SignUp(ctx, "avery@example.com", "correct-horse", "Avery"); err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}

	if _, _, err := provider.SignInWithPassword(ctx, "avery@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := provider.SignInWithPassword(ctx, "nobody@example.com", "whatever"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

func TestSignUpRejectsDuplicateEmail(t *testing.T) {
	provider, s := setupProvider(t)
	defer s.Close()
	ctx := context.Background()

	if _, err := provider.SignUp(ctx, "avery@example.com", "correct-horse", "Avery"); err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	if _, err := provider.SignUp(ctx, "avery@example.com", "other-password", "Imposter"); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestHandleDrivesSessionReadiness(t *testing.T) {
	provider, s := setupProvider(t)
	defer s.Close()
	ctx := context.Background()

	if _, err := provider.SignUp(ctx, "avery@example.com", "correct-horse", "Avery"); err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	_, token, err := provider.SignInWithPassword(ctx, "avery@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("SignInWithPassword failed: %v", err)
	}

	session := NewSession(provider.Handle(token))
	defer session.Close()

	ready := make(chan *Identity, 1)
	session.OnChange(func(ident *Identity, isReady bool) {
		if isReady {
			select {
			case ready <- ident:
			default:
			}
		}
	})

	select {
	case ident := <-ready:
		if ident == nil || ident.DisplayName != "Avery" {
			t.Fatalf("expected ready with Avery, got %+v", ident)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("session never became ready")
	}
}

func TestHandleSignOutRevokesRecord(t *testing.T) {
	provider, s := setupProvider(t)
	defer s.Close()
	ctx := context.Background()

	if _, err := provider.SignUp(ctx, "avery@example.com", "correct-horse", "Avery"); err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	_, token, err := provider.SignInWithPassword(ctx, "avery@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("SignInWithPassword failed: %v", err)
	}

	handle := provider.Handle(token)
	var observed []*Identity
	var mu sync.Mutex
	cancel := handle.OnAuthStateChanged(func(ident *Identity) {
		mu.Lock()
		defer mu.Unlock()
		observed = append(observed, ident)
	})
	defer cancel()

	if err := handle.SignOut(ctx); err != nil {
		t.Fatalf("SignOut failed: %v", err)
	}

	if _, err := provider.Resume(ctx, token); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected revoked session, got %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(observed) == 0 || observed[len(observed)-1] != nil {
		t.Fatalf("expected a nil auth-state callback after sign-out, got %+v", observed)
	}
}
