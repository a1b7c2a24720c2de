package providers

import (
	"context"

	"github.com/kcons/kc/internal/engine"
)

// Ollama generates through the local inference engine.
type Ollama struct {
	engine engine.Engine
	model  string
}

func NewOllama(e engine.Engine, model string) *Ollama {
	return &Ollama{engine: e, model: model}
}

func (o *Ollama) Name() string { return "ollama" }

func (o *Ollama) Generate(ctx context.Context, req Request) (string, error) {
	var msgs []engine.Message
	if req.System != "" {
		msgs = append(msgs, engine.Message{Role: "system", Content: req.System})
	}
	msgs = append(msgs, engine.Message{Role: "user", Content: req.Prompt})
	return o.engine.Chat(ctx, engine.ChatRequest{
		Model:       o.model,
		Messages:    msgs,
		JSON:        req.JSON,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
}

func (o *Ollama) Available(ctx context.Context) bool {
	return o.engine.IsRunning(ctx)
}

// ListModels returns the models installed in the local engine.
func (o *Ollama) ListModels(ctx context.Context) ([]string, error) {
	return o.engine.ListModels(ctx)
}
