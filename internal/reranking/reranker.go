// Package reranking re-scores semantic search hits with the local model.
package reranking

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kcons/kc/internal/engine"
	"github.com/kcons/kc/internal/retrieval"
)

// Chatter is the part of engine.Engine the LLM reranker needs.
type Chatter interface {
	Chat(ctx context.Context, req engine.ChatRequest) (string, error)
}

// Reranker re-scores search hits by query relevance.
type Reranker interface {
	Rerank(ctx context.Context, query string, hits []retrieval.Hit) ([]retrieval.Hit, error)
}

// Options tunes an LLMReranker.
type Options struct {
	Model string
	// Timeout bounds one Rerank call. When it fires the hits come back in
	// their original order.
	Timeout time.Duration
	// Threshold drops hits the model scores below it.
	Threshold float64
	// EarlyStop returns once that many hits are scored; 0 scores them all.
	EarlyStop int
	// Workers bounds concurrent model calls; 0 means 3.
	Workers int
}

// NewReranker returns an LLMReranker when enabled and eng is set, and a
// NoOpReranker otherwise.
func NewReranker(eng Chatter, enabled bool, opts Options) Reranker {
	if !enabled || eng == nil {
		return &NoOpReranker{}
	}
	if opts.Workers <= 0 {
		opts.Workers = 3
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &LLMReranker{chat: eng, opts: opts}
}

// LLMReranker asks the model for a 0-1 relevance score per (query, chunk)
// pair and orders hits by it.
type LLMReranker struct {
	chat Chatter
	opts Options
}

func (r *LLMReranker) Rerank(ctx context.Context, query string, hits []retrieval.Hit) ([]retrieval.Hit, error) {
	if len(hits) == 0 {
		return hits, nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	want := len(hits)
	if n := r.opts.EarlyStop; n > 0 && n < want {
		want = n
	}

	// Buffered for every hit so workers never block once collection stops.
	scoredCh := make(chan retrieval.Hit, len(hits))
	go func() {
		var g errgroup.Group
		g.SetLimit(r.opts.Workers)
		for _, h := range hits {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if s, ok := r.rescore(ctx, query, h); ok {
					scoredCh <- s
				}
				return nil
			})
		}
		g.Wait()
		close(scoredCh)
	}()

	scored := make([]retrieval.Hit, 0, want)
collect:
	for len(scored) < want {
		select {
		case h, ok := <-scoredCh:
			if !ok {
				break collect
			}
			scored = append(scored, h)
		case <-ctx.Done():
			break collect
		}
	}
	if len(scored) < want && ctx.Err() != nil {
		return hits, nil
	}

	kept := slices.DeleteFunc(scored, func(h retrieval.Hit) bool {
		return float64(h.Score) < r.opts.Threshold
	})
	slices.SortStableFunc(kept, func(a, b retrieval.Hit) int { return cmp.Compare(b.Score, a.Score) })
	return kept, nil
}

const scorePrompt = `How relevant is the text to the query? Answer with a score from 0.0 (unrelated) to 1.0 (answers it directly).
Query: %s
Text: %s
Reply with only {"score": <number>}.`

var scoreSchema = &engine.Schema{
	Type: "object",
	Properties: map[string]engine.SchemaProperty{
		"score": {Type: "number", Description: "relevance between 0.0 and 1.0"},
	},
	Required: []string{"score"},
}

// rescore returns hit with the model's score. A failed call keeps the
// original score; ok is false only when the deadline cut the call short.
func (r *LLMReranker) rescore(ctx context.Context, query string, hit retrieval.Hit) (retrieval.Hit, bool) {
	zero := 0.0
	resp, err := r.chat.Chat(ctx, engine.ChatRequest{
		Model:       r.opts.Model,
		Messages:    []engine.Message{{Role: "user", Content: fmt.Sprintf(scorePrompt, query, hit.Text)}},
		JSON:        true,
		Schema:      scoreSchema,
		Temperature: &zero,
	})
	if err != nil {
		if ctx.Err() != nil {
			return hit, false
		}
		slog.Debug("rerank call failed, keeping score", "file_id", hit.FileID, "error", err)
		return hit, true
	}
	score, err := parseScore(resp)
	if err != nil {
		slog.Debug("unparseable rerank answer, keeping score", "file_id", hit.FileID, "answer", resp, "error", err)
		return hit, true
	}
	hit.Score = float32(score)
	return hit, true
}

var errNoObject = errors.New("no JSON object in answer")

// parseScore reads {"score": x} out of a model answer. Small models wrap the
// object in code fences or chatter, so only the outermost braces are
// decoded. The score is clamped to [0, 1].
func parseScore(answer string) (float64, error) {
	if _, fenced, ok := strings.Cut(answer, "```"); ok {
		fenced = strings.TrimPrefix(fenced, "json")
		answer, _, _ = strings.Cut(fenced, "```")
	}
	start, end := strings.IndexByte(answer, '{'), strings.LastIndexByte(answer, '}')
	if start < 0 || end <= start {
		return 0, errNoObject
	}
	var out struct {
		Score *float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(answer[start:end+1]), &out); err != nil {
		return 0, fmt.Errorf("decoding score: %w", err)
	}
	if out.Score == nil {
		return 0, errors.New("answer has no score")
	}
	return min(max(*out.Score, 0), 1), nil
}

// NoOpReranker passes hits through unchanged.
type NoOpReranker struct{}

func (*NoOpReranker) Rerank(_ context.Context, _ string, hits []retrieval.Hit) ([]retrieval.Hit, error) {
	return hits, nil
}
