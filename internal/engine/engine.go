// Package engine is the seam between kc and its local inference backend.
// Analysis, embedding, reranking and convergence code depend on these
// interfaces rather than on the Ollama client.
package engine

import "context"

// Chatter produces a completion for a chat request.
type Chatter interface {
	Chat(ctx context.Context, req ChatRequest) (string, error)
}

// Vectorizer turns text into embedding vectors.
type Vectorizer interface {
	Embed(ctx context.Context, model string, text string) ([]float32, error)
	// EmbedBatch results are index-aligned with texts.
	EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// ModelManager inspects and installs local models.
type ModelManager interface {
	IsRunning(ctx context.Context) bool
	ListModels(ctx context.Context) ([]string, error)
	HasModel(ctx context.Context, name string) bool
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}

// Engine is a complete local backend.
type Engine interface {
	Chatter
	Vectorizer
	ModelManager
}
