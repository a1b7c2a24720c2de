package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrNotRunning is returned by EnsureReady when the backend does not answer.
var ErrNotRunning = errors.New("ollama is not running; start it with: ollama serve")

// Models names the local models kc depends on. Either may be empty.
type Models struct {
	Analysis string
	Embed    string
}

func (m Models) list() []string {
	var out []string
	if m.Analysis != "" {
		out = append(out, m.Analysis)
	}
	if m.Embed != "" && m.Embed != m.Analysis {
		out = append(out, m.Embed)
	}
	return out
}

// Readiness records what EnsureReady did.
type Readiness struct {
	Pulled []string
	// Warm is true when the analysis model answered a warm-up prompt.
	Warm bool
}

// EnsureReady verifies the backend is up, pulls any missing model with
// progress lines written to w, and warms the analysis model. A failed
// warm-up is reported but not returned.
func EnsureReady(ctx context.Context, e Engine, models Models, w io.Writer) (Readiness, error) {
	var r Readiness
	if !e.IsRunning(ctx) {
		return r, ErrNotRunning
	}

	for _, model := range models.list() {
		if e.HasModel(ctx, model) {
			fmt.Fprintf(w, "model %s: ready\n", model)
			continue
		}
		fmt.Fprintf(w, "model %s: pulling\n", model)
		last := ""
		err := e.PullModel(ctx, model, func(p PullProgress) {
			line := p.Status
			if pct := p.Percent(); pct >= 0 {
				line = fmt.Sprintf("%s %.0f%%", p.Status, pct)
			}
			// Ollama repeats identical lines while a layer downloads.
			if line != last {
				fmt.Fprintf(w, "  %s\n", line)
				last = line
			}
		})
		if err != nil {
			return r, fmt.Errorf("pulling model %s: %w", model, err)
		}
		r.Pulled = append(r.Pulled, model)
		fmt.Fprintf(w, "model %s: ready\n", model)
	}

	if models.Analysis == "" {
		return r, nil
	}
	warmCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	_, err := e.Chat(warmCtx, ChatRequest{
		Model:     models.Analysis,
		Messages:  []Message{{Role: "user", Content: "ping"}},
		MaxTokens: 1,
	})
	if err != nil {
		fmt.Fprintf(w, "model %s: warm-up failed: %v\n", models.Analysis, err)
		return r, nil
	}
	r.Warm = true
	fmt.Fprintf(w, "model %s: warm\n", models.Analysis)
	return r, nil
}
