package engine

import (
	"context"

	"github.com/kcons/kc/internal/ollama"
)

// OllamaEngine is the Engine backed by a local Ollama server.
type OllamaEngine struct {
	client *ollama.Client
}

// NewOllamaEngine returns an engine for the server at baseURL. keepAlive is
// passed through to Ollama ("" keeps the server default).
func NewOllamaEngine(baseURL, keepAlive string) *OllamaEngine {
	return &OllamaEngine{client: ollama.New(baseURL, ollama.WithKeepAlive(keepAlive))}
}

func (e *OllamaEngine) Chat(ctx context.Context, req ChatRequest) (string, error) {
	msgs := make([]ollama.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, ollama.Message(m))
	}
	return e.client.Chat(ctx, ollama.ChatParams{
		Model:       req.Model,
		Messages:    msgs,
		JSON:        req.JSON,
		Schema:      toOllamaSchema(req.Schema),
		Temperature: req.Temperature,
		NumPredict:  req.MaxTokens,
	})
}

func toOllamaSchema(s *Schema) *ollama.Schema {
	if s == nil {
		return nil
	}
	out := &ollama.Schema{Type: s.Type, Required: s.Required}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]ollama.SchemaProperty, len(s.Properties))
		for name, p := range s.Properties {
			out.Properties[name] = ollama.SchemaProperty(p)
		}
	}
	return out
}

func (e *OllamaEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	return e.client.Embed(ctx, model, text)
}

func (e *OllamaEngine) EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error) {
	return e.client.EmbedBatch(ctx, model, texts)
}

func (e *OllamaEngine) IsRunning(ctx context.Context) bool { return e.client.IsRunning(ctx) }

func (e *OllamaEngine) ListModels(ctx context.Context) ([]string, error) {
	return e.client.ListModels(ctx)
}

func (e *OllamaEngine) HasModel(ctx context.Context, name string) bool {
	return e.client.HasModel(ctx, name)
}

// Version returns the Ollama server version.
func (e *OllamaEngine) Version(ctx context.Context) (string, error) { return e.client.Version(ctx) }

// Loaded returns the models Ollama currently holds in memory.
func (e *OllamaEngine) Loaded(ctx context.Context) ([]string, error) { return e.client.Loaded(ctx) }

func (e *OllamaEngine) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	if onProgress == nil {
		return e.client.PullModel(ctx, name, nil)
	}
	return e.client.PullModel(ctx, name, func(p ollama.PullProgress) {
		onProgress(PullProgress{Status: p.Status, Total: p.Total, Completed: p.Completed})
	})
}
