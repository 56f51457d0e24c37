// Package gemini wraps the generative-language service behind a pool of
// rotating credentials with bounded retry. Callers never see an error from
// Generate: failures degrade to a fixed apology line.
package gemini

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"
)

const (
	// Apology is the only failure surface users ever see.
	Apology = "I apologize, but I encountered an error while trying to process that. The AI model is currently unavailable or overloaded. Please try again later."

	maxAttempts    = 3
	defaultSession = "default-chat"

	decidePrompt = "Given the following recent conversation, should I join in? Respond only with 'yes' or 'no'."
)

// backend performs a single attempt against the service with a specific
// credential from the pool. Split out so tests can script failures.
type backend interface {
	Generate(ctx context.Context, cred int, sessionID string, seed []*genai.Content, systemInstruction string, parts []*genai.Part) (string, error)
	Decide(ctx context.Context, cred int, recent []*genai.Content, systemInstruction, prompt string) (string, error)
}

type Client struct {
	// RetryDelay is the base of the linear backoff between retryable
	// attempts (attempt * RetryDelay).
	RetryDelay time.Duration

	backend backend
	pool    int

	mu   sync.Mutex
	next int
}

// NewClient builds a client with one service connection per API key.
// httpClient may be nil; when set it carries all outbound traffic (used
// for SOCKS proxying).
func NewClient(ctx context.Context, apiKeys []string, model string, httpClient *http.Client) (*Client, error) {
	if len(apiKeys) == 0 {
		return nil, errors.New("at least one API key must be provided")
	}

	be, err := newGenaiBackend(ctx, apiKeys, model, httpClient)
	if err != nil {
		return nil, err
	}
	return newClient(be, len(apiKeys)), nil
}

func newClient(be backend, pool int) *Client {
	return &Client{
		RetryDelay: 2 * time.Second,
		backend:    be,
		pool:       pool,
	}
}

// Generate produces a reply on the persistent session for sessionID. The
// final entry of history is the current message; everything before it
// seeds the session on first use. Retryable failures (rate limit,
// transient unavailability) are retried up to 3 attempts with the
// credential cycled before every attempt; anything else stops
// immediately. All failure exits return Apology.
func (c *Client) Generate(ctx context.Context, history []*genai.Content, systemInstruction, sessionID string) string {
	if sessionID == "" {
		sessionID = defaultSession
	}
	if len(history) == 0 {
		return Apology
	}
	seed := history[:len(history)-1]
	current := history[len(history)-1]

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		cred := c.nextCred()

		text, err := c.backend.Generate(ctx, cred, sessionID, seed, systemInstruction, current.Parts)
		if err == nil {
			return text
		}
		lastErr = err

		if !retryable(err) {
			slog.Error("generation failed", "session", sessionID, "cred", cred, "err", err)
			break
		}
		slog.Warn("generation attempt failed, will retry", "session", sessionID, "attempt", attempt, "cred", cred, "err", err)
		if attempt < maxAttempts && !sleep(ctx, time.Duration(attempt)*c.RetryDelay) {
			break
		}
	}

	slog.Error("generation gave up", "session", sessionID, "err", lastErr)
	return Apology
}

// Decide asks whether to engage with a conversation. Always a fresh
// ephemeral session; same retry discipline as Generate; any failure
// resolves to false.
func (c *Client) Decide(ctx context.Context, recent []*genai.Content, systemInstruction string) bool {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		cred := c.nextCred()

		text, err := c.backend.Decide(ctx, cred, recent, systemInstruction, decidePrompt)
		if err == nil {
			return strings.Contains(strings.ToLower(text), "yes")
		}
		lastErr = err

		if !retryable(err) {
			slog.Error("decision failed", "cred", cred, "err", err)
			break
		}
		slog.Warn("decision attempt failed, will retry", "attempt", attempt, "cred", cred, "err", err)
		if attempt < maxAttempts && !sleep(ctx, time.Duration(attempt)*c.RetryDelay) {
			break
		}
	}

	slog.Error("decision gave up, defaulting to no", "err", lastErr)
	return false
}

// nextCred advances the round-robin cursor. Rotation happens per attempt,
// ahead of failure classification, so even a first call moves off the
// previous credential.
func (c *Client) nextCred() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next = (c.next + 1) % c.pool
	return c.next
}

func retryable(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code == http.StatusServiceUnavailable
	}
	return false
}

// sleep waits for d or until ctx is done, reporting whether the full
// delay elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
