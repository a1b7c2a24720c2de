package retrieval

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kcons/kc/internal/engine"
)

const (
	// embedGroupSize is how many chunks go into one embed call.
	embedGroupSize = 16
	// embedGroupsInFlight bounds concurrent embed calls per batch.
	embedGroupsInFlight = 4
)

// Embedder turns queries and document chunks into vectors with one model.
// Some embedding models are trained with task prefixes; when set, queries
// and documents are prefixed before embedding.
type Embedder struct {
	vec         engine.Vectorizer
	model       string
	queryPrefix string
	docPrefix   string
}

// EmbedderOption configures an Embedder.
type EmbedderOption func(*Embedder)

// WithTaskPrefixes sets the query and document prefixes.
func WithTaskPrefixes(query, doc string) EmbedderOption {
	return func(e *Embedder) {
		e.queryPrefix = query
		e.docPrefix = doc
	}
}

// TaskPrefixes returns the prefixes a known embedding model expects, or
// empty strings.
func TaskPrefixes(model string) (query, doc string) {
	name, _, _ := strings.Cut(model, ":")
	switch name {
	case "nomic-embed-text":
		return "search_query: ", "search_document: "
	case "mxbai-embed-large":
		return "Represent this sentence for searching relevant passages: ", ""
	}
	return "", ""
}

// NewEmbedder creates an Embedder for model.
func NewEmbedder(v engine.Vectorizer, model string, opts ...EmbedderOption) *Embedder {
	e := &Embedder{vec: v, model: model}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Model returns the embedding model name.
func (e *Embedder) Model() string { return e.model }

// Embed embeds a search query.
func (e *Embedder) Embed(ctx context.Context, query string) ([]float32, error) {
	vec, err := e.vec.Embed(ctx, e.model, e.queryPrefix+query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return vec, nil
}

// EmbedBatch embeds document chunks, index-aligned with chunks. Chunks are
// sent in groups of embedGroupSize with a few groups in flight. Empty input
// returns nil.
func (e *Embedder) EmbedBatch(ctx context.Context, chunks []string) ([][]float32, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedGroupsInFlight)

	for start := 0; start < len(chunks); start += embedGroupSize {
		end := min(start+embedGroupSize, len(chunks))
		group := make([]string, end-start)
		for i, c := range chunks[start:end] {
			group[i] = e.docPrefix + c
		}
		g.Go(func() error {
			vecs, err := e.vec.EmbedBatch(gctx, e.model, group)
			if err != nil {
				return fmt.Errorf("embedding chunks %d-%d: %w", start, end-1, err)
			}
			copy(out[start:end], vecs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
