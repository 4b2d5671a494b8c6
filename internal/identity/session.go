// Package identity tracks the authenticated identity reported by an external
// auth provider and exposes an "auth ready" flag that dependent subscriptions
// gate on.
package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

// Label is the name shown next to posted content.
func (i Identity) Label() string {
	if i.DisplayName != "" {
		return i.DisplayName
	}
	return i.Email
}

// Provider is the external auth collaborator. The identity it delivers is
// opaque to the board; only ID is ever compared.
type Provider interface {
	SignIn(ctx context.Context) (Identity, error)
	SignOut(ctx context.Context) error
	// OnAuthStateChanged registers a handler invoked with the current identity
	// (nil when signed out) on registration and on every change. The returned
	// function cancels the registration.
	OnAuthStateChanged(handler func(*Identity)) (cancel func())
}

// ProviderError carries the provider-defined error code.
type ProviderError struct {
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Provider codes the session maps to distinct user messages.
const (
	CodePopupClosed     = "auth/popup-closed-by-user"
	CodePopupInProgress = "auth/cancelled-popup-request"
)

// Session publishes the current identity together with a readiness flag.
// Ready starts false and flips true exactly once, on the first provider
// callback, even when that callback reports no identity. It never reverts.
type Session struct {
	provider    Provider
	cancelWatch func()

	mu       sync.Mutex
	current  *Identity
	ready    bool
	handlers []func(*Identity, bool)
}

func NewSession(provider Provider) *Session {
	s := &Session{provider: provider}
	s.cancelWatch = provider.OnAuthStateChanged(s.authStateChanged)
	return s
}

func (s *Session) authStateChanged(ident *Identity) {
	s.mu.Lock()
	s.current = ident
	s.ready = true
	handlers := make([]func(*Identity, bool), len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.Unlock()

	for _, handler := range handlers {
		handler(ident, true)
	}
}

// OnChange registers a handler and immediately invokes it with the current
// state, so late registrants observe the readiness they missed.
func (s *Session) OnChange(handler func(*Identity, bool)) {
	s.mu.Lock()
	s.handlers = append(s.handlers, handler)
	ident, ready := s.current, s.ready
	s.mu.Unlock()

	handler(ident, ready)
}

func (s *Session) Current() (*Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.ready
}

func (s *Session) SignIn(ctx context.Context) (Identity, error) {
	return s.provider.SignIn(ctx)
}

func (s *Session) SignOut(ctx context.Context) error {
	return s.provider.SignOut(ctx)
}

func (s *Session) Close() {
	if s.cancelWatch != nil {
		s.cancelWatch()
	}
}

// SignInErrorMessage turns a provider sign-in failure into a user-facing
// message, special-casing the cancelled-popup codes.
func SignInErrorMessage(err error) string {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		switch providerErr.Code {
		case CodePopupClosed:
			return "The sign-in window was closed before completing."
		case CodePopupInProgress:
			return "A sign-in request is already in progress."
		}
	}
	if err != nil && err.Error() != "" {
		return fmt.Sprintf("Sign-in failed: %s", err.Error())
	}
	return "An unknown error occurred during sign-in."
}
