package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"liveboard/api/internal/board"
	"liveboard/api/internal/draft"
	"liveboard/api/internal/identity"
	"liveboard/api/internal/search"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{"status": "error", "error": err.Error()}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	// Auth routes, no session required
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		s.handleSignUp(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleSignIn(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signout" {
		if token := bearerToken(r); token != "" {
			_ = s.service.SignOut(r.Context(), token)
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		client, err := s.service.ClientFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		ident, ready := client.Session.Current()
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": ident != nil,
			"ready":         ready,
			"identity":      ident,
		})
		return
	}

	// Public one-shot reads
	if r.Method == http.MethodGet && r.URL.Path == "/api/questions" {
		questions, err := s.service.ListQuestions(r.Context())
		if err != nil {
			status, code, message := mapError(err)
			writeError(w, status, code, message)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"questions": questions})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		s.handleSearch(w, r)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) == 4 && parts[0] == "api" && parts[1] == "questions" && parts[3] == "history" && r.Method == http.MethodGet {
		s.handleHistory(w, r, parts[2])
		return
	}
	if len(parts) == 4 && parts[0] == "api" && parts[1] == "questions" && parts[3] == "export.pdf" && r.Method == http.MethodGet {
		s.handleExportPDF(w, r, parts[2])
		return
	}

	// Everything below operates on the client's live board.
	client, ok := s.requireClient(w, r)
	if !ok {
		return
	}

	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "board" {
		s.handleBoard(w, r, client, parts[2:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found")
}

func (s *HTTPServer) handleBoard(w http.ResponseWriter, r *http.Request, client *Client, parts []string) {
	b := client.Board

	switch {
	case len(parts) == 1 && parts[0] == "questions" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"questions":   b.Questions(),
			"streamError": b.StreamError(),
		})

	case len(parts) == 1 && parts[0] == "questions" && r.Method == http.MethodPost:
		var body struct {
			Text string `json:"text"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}
		question, err := b.PostQuestion(r.Context(), body.Text)
		if err != nil {
			status, code, message := mapError(err)
			writeError(w, status, code, message)
			return
		}
		writeJSON(w, http.StatusCreated, question)

	case len(parts) == 2 && parts[0] == "questions" && r.Method == http.MethodPut:
		var body struct {
			Text string `json:"text"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}
		if err := b.UpdateQuestion(r.Context(), parts[1], body.Text); err != nil {
			status, code, message := mapError(err)
			writeError(w, status, code, message)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(parts) == 2 && parts[0] == "questions" && r.Method == http.MethodDelete:
		if err := b.DeleteQuestion(r.Context(), parts[1]); err != nil {
			status, code, message := mapError(err)
			writeError(w, status, code, message)
			return
		}
		if s.service.deps.Journal != nil {
			if err := s.service.deps.Journal.Remove(parts[1]); err != nil {
				log.Printf("app: drop history for %s: %v", parts[1], err)
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(parts) == 1 && parts[0] == "selection" && r.Method == http.MethodGet:
		selected, ok := b.Selected()
		if !ok {
			writeJSON(w, http.StatusOK, map[string]any{"selected": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"selected":      selected,
			"compose":       b.Compose(),
			"editingAnswer": b.EditingAnswer(),
			"draftBusy":     b.DraftBusy(),
		})

	case len(parts) == 1 && parts[0] == "selection" && r.Method == http.MethodPost:
		var body struct {
			QuestionID string `json:"questionId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}
		if err := b.SelectQuestion(r.Context(), body.QuestionID); err != nil {
			status, code, message := mapError(err)
			writeError(w, status, code, message)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(parts) == 1 && parts[0] == "selection" && r.Method == http.MethodDelete:
		b.ClearSelection()
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(parts) == 1 && parts[0] == "answers" && r.Method == http.MethodPost:
		var body struct {
			Text string `json:"text"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}
		answer, err := b.PostAnswer(r.Context(), body.Text)
		if err != nil {
			status, code, message := mapError(err)
			writeError(w, status, code, message)
			return
		}
		writeJSON(w, http.StatusCreated, answer)

	case len(parts) == 2 && parts[0] == "answers" && r.Method == http.MethodPut:
		var body struct {
			Text string `json:"text"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}
		if err := b.UpdateAnswer(r.Context(), parts[1], body.Text); err != nil {
			status, code, message := mapError(err)
			writeError(w, status, code, message)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(parts) == 2 && parts[0] == "answers" && r.Method == http.MethodDelete:
		if err := b.DeleteAnswer(r.Context(), parts[1]); err != nil {
			status, code, message := mapError(err)
			writeError(w, status, code, message)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(parts) == 3 && parts[0] == "answers" && parts[2] == "edit" && r.Method == http.MethodPost:
		if err := b.StartEditingAnswer(parts[1]); err != nil {
			status, code, message := mapError(err)
			writeError(w, status, code, message)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(parts) == 1 && parts[0] == "compose" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"compose": b.Compose()})

	case len(parts) == 1 && parts[0] == "compose" && r.Method == http.MethodPut:
		var body struct {
			Text string `json:"text"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}
		b.SetCompose(body.Text)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(parts) == 1 && parts[0] == "draft" && r.Method == http.MethodPost:
		text, err := b.GenerateDraft(r.Context())
		if err != nil {
			status, code, message := mapError(err)
			writeError(w, status, code, message)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"text": text})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found")
	}
}

func (s *HTTPServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	ident, err := s.service.SignUp(r.Context(), body.Email, body.Password, body.DisplayName)
	if err != nil {
		if errors.Is(err, identity.ErrEmailTaken) {
			writeError(w, http.StatusConflict, "EMAIL_EXISTS", "Email already registered")
			return
		}
		writeError(w, http.StatusBadRequest, "SIGNUP_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"identity": ident})
}

func (s *HTTPServer) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	client, err := s.service.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", identity.SignInErrorMessage(err))
			return
		}
		status, code, message := mapError(err)
		writeError(w, status, code, message)
		return
	}

	ident, _ := client.Session.Current()
	writeJSON(w, http.StatusOK, map[string]any{
		"token":    client.Token,
		"identity": ident,
	})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	limit := 20
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION", "limit must be an integer")
			return
		}
		limit = parsed
	}
	offset := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION", "offset must be an integer")
			return
		}
		offset = parsed
	}

	response, ok := s.service.Search(search.Query{Text: q, Limit: limit, Offset: offset})
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search is not configured")
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request, questionID string) {
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION", "limit must be an integer")
			return
		}
		limit = parsed
	}

	revisions, ok, err := s.service.QuestionHistory(questionID, limit)
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "HISTORY_UNAVAILABLE", "History is not configured")
		return
	}
	if err != nil {
		status, code, message := mapError(err)
		writeError(w, status, code, message)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revisions": revisions})
}

func (s *HTTPServer) handleExportPDF(w http.ResponseWriter, r *http.Request, questionID string) {
	result, err := s.service.ExportThreadPDF(r.Context(), questionID)
	if err != nil {
		status, code, message := mapError(err)
		writeError(w, status, code, message)
		return
	}

	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) requireClient(w http.ResponseWriter, r *http.Request) (*Client, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "AUTH_REQUIRED", "Sign in first.")
		return nil, false
	}
	client, err := s.service.ClientFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, identity.ErrSessionNotFound) {
			writeError(w, http.StatusUnauthorized, "AUTH_REQUIRED", "Session expired; sign in again.")
			return nil, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed")
		return nil, false
	}
	return client, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":  code,
		"error": message,
	})
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// mapError translates domain failures into HTTP status codes and wire codes.
func mapError(err error) (status int, code, message string) {
	var domainErr *board.DomainError
	if errors.As(err, &domainErr) {
		switch domainErr.Code {
		case board.CodeValidation:
			return http.StatusBadRequest, domainErr.Code, domainErr.Message
		case board.CodeAuthRequired:
			return http.StatusUnauthorized, domainErr.Code, domainErr.Message
		case board.CodePermission:
			return http.StatusForbidden, domainErr.Code, domainErr.Message
		case board.CodeNoTarget:
			return http.StatusConflict, domainErr.Code, domainErr.Message
		case board.CodeNotFound:
			return http.StatusNotFound, domainErr.Code, domainErr.Message
		case board.CodeCascade, board.CodeUpstream:
			return http.StatusBadGateway, domainErr.Code, domainErr.Message
		}
		return http.StatusInternalServerError, domainErr.Code, domainErr.Message
	}

	if errors.Is(err, draft.ErrBusy) {
		return http.StatusConflict, "DRAFT_BUSY", "A draft is already being generated."
	}
	if errors.Is(err, draft.ErrNoQuestion) {
		return http.StatusBadRequest, "VALIDATION", "Question text is required."
	}
	var genErr *draft.GenerationError
	if errors.As(err, &genErr) {
		return http.StatusBadGateway, "DRAFT_FAILED", genErr.Error()
	}

	if errors.Is(err, identity.ErrSessionNotFound) {
		return http.StatusUnauthorized, "AUTH_REQUIRED", "Session expired; sign in again."
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found"
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error"
}
