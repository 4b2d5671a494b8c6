// Package draft generates answer drafts by calling a generateContent-style
// text generation endpoint. A coordinator allows at most one request in
// flight; concurrent callers are rejected rather than queued.
package draft

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

var (
	// ErrBusy is returned when a generation request is already in flight. No
	// network request is made.
	ErrBusy = errors.New("draft: a generation request is already in flight")
	// ErrNoQuestion is returned when the question text is empty.
	ErrNoQuestion = errors.New("draft: question text is required")
)

// GenerationError reports an upstream failure, carrying the HTTP status when
// the endpoint responded at all.
type GenerationError struct {
	Status  int
	Message string
}

func (e *GenerationError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("draft: upstream returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("draft: %s", e.Message)
}

type Config struct {
	Endpoint string
	APIKey   string
	// PromptTemplate must contain one %q (or %s) verb for the question
	// text; a template without one falls back to the default.
	PromptTemplate string
	Timeout        time.Duration
}

type Coordinator struct {
	client   *http.Client
	endpoint string
	apiKey   string
	prompt   string

	mu   sync.Mutex
	busy bool
}

const defaultPromptTemplate = "Write a detailed, helpful answer to the following question: %q"

func NewCoordinator(cfg Config) *Coordinator {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	prompt := cfg.PromptTemplate
	if !strings.Contains(prompt, "%q") && !strings.Contains(prompt, "%s") {
		if prompt != "" {
			log.Printf("draft: prompt template has no %%q verb for the question text, using default")
		}
		prompt = defaultPromptTemplate
	}
	return &Coordinator{
		client:   &http.Client{Timeout: timeout},
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		prompt:   prompt,
	}
}

// Busy reports whether a generation request is in flight.
func (c *Coordinator) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// Generate produces a draft answer for the question text. It blocks until the
// endpoint responds or ctx is done. While one call is running every other
// call fails fast with ErrBusy.
func (c *Coordinator) Generate(ctx context.Context, questionText string) (string, error) {
	questionText = strings.TrimSpace(questionText)
	if questionText == "" {
		return "", ErrNoQuestion
	}

	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return "", ErrBusy
	}
	c.busy = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.busy = false
		c.mu.Unlock()
	}()

	return c.request(ctx, fmt.Sprintf(c.prompt, questionText))
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

func (c *Coordinator) request(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}},
	})
	if err != nil {
		return "", fmt.Errorf("draft: encode request: %w", err)
	}

	endpoint := c.endpoint
	if c.apiKey != "" {
		separator := "?"
		if strings.Contains(endpoint, "?") {
			separator = "&"
		}
		endpoint += separator + "key=" + url.QueryEscape(c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("draft: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &GenerationError{Message: err.Error()}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &GenerationError{Status: resp.StatusCode, Message: err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &GenerationError{Status: resp.StatusCode, Message: strings.TrimSpace(string(payload))}
	}

	var decoded generateResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return "", &GenerationError{Status: resp.StatusCode, Message: fmt.Sprintf("malformed response: %v", err)}
	}
	if len(decoded.Candidates) == 0 || len(decoded.Candidates[0].Content.Parts) == 0 {
		return "", &GenerationError{Status: resp.StatusCode, Message: "response contained no candidates"}
	}

	var text strings.Builder
	for _, p := range decoded.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}
	if strings.TrimSpace(text.String()) == "" {
		return "", &GenerationError{Status: resp.StatusCode, Message: "response contained no text"}
	}
	return text.String(), nil
}
