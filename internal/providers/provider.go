// Package providers routes analysis prompts to Ollama, OpenAI or Gemini.
package providers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrNoProvider is returned when no configured provider could serve a request.
var ErrNoProvider = errors.New("no AI provider available")

const (
	maxRetries     = 3
	initialBackoff = 500 * time.Millisecond
)

// Request is a single-turn generation call.
type Request struct {
	System string
	Prompt string
	// Temperature is used when non-nil.
	Temperature *float64
	MaxTokens   int
	// JSON asks the provider for a JSON object response where supported.
	JSON bool
}

// Provider is a text generation backend.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
	// Available reports whether the provider is configured and reachable
	// enough to be worth trying.
	Available(ctx context.Context) bool
}

// rateLimitError is returned on HTTP 429.
type rateLimitError struct {
	provider string
	status   int
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("%s rate limited (HTTP %d)", e.provider, e.status)
}

func isRateLimit(err error) bool {
	var rl *rateLimitError
	return errors.As(err, &rl)
}

// withRetry calls fn until it succeeds, fails with something other than a
// rate limit, or maxRetries attempts have been made. Backoff doubles from
// initialBackoff.
func withRetry(ctx context.Context, backoff time.Duration, fn func() (string, error)) (string, error) {
	var lastErr error
	for attempt := range maxRetries {
		out, err := fn()
		if err == nil {
			return out, nil
		}
		if !isRateLimit(err) {
			return "", err
		}

		lastErr = err
		if attempt < maxRetries-1 {
			wait := time.Duration(float64(backoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(wait):
			}
		}
	}
	return "", fmt.Errorf("rate limited after %d retries: %w", maxRetries, lastErr)
}
