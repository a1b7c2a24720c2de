// Package ollama is a small client for the Ollama REST API. It covers the
// calls kc needs: model management, chat with structured output and
// embeddings.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Schema is the JSON schema passed as "format" for structured output.
type Schema struct {
	Type       string                    `json:"type"`
	Properties map[string]SchemaProperty `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

type SchemaProperty struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Client talks to one Ollama server.
type Client struct {
	baseURL   string
	http      *http.Client
	keepAlive string
}

// Option configures a Client.
type Option func(*Client)

// WithKeepAlive sets how long Ollama keeps a model loaded after a chat or
// embed call ("10m", "-1" for forever). Empty leaves the server default.
func WithKeepAlive(d string) Option {
	return func(c *Client) { c.keepAlive = d }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New returns a Client for the server at baseURL. Requests carry no client
// timeout; analysis calls on large files can run for minutes, so callers
// bound them with contexts.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// APIError is a non-200 answer from Ollama.
type APIError struct {
	Op      string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from Ollama, which it returns for
// unknown models.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// send performs a request and returns the response once the status is 200.
// The caller closes the body.
func (c *Client) send(ctx context.Context, op, method, path string, in any) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("%s: encoding request: %w", op, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("%s: creating request: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &e)
		return nil, &APIError{Op: op, Status: resp.StatusCode, Message: e.Error}
	}
	return resp, nil
}

// roundTrip sends in as JSON and decodes the 200 response into out.
func (c *Client) roundTrip(ctx context.Context, op, method, path string, in, out any) error {
	resp, err := c.send(ctx, op, method, path, in)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decoding response: %w", op, err)
	}
	return nil
}

// Version returns the server version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	var v struct {
		Version string `json:"version"`
	}
	if err := c.roundTrip(ctx, "version", http.MethodGet, "/api/version", nil, &v); err != nil {
		return "", err
	}
	return v.Version, nil
}

// IsRunning reports whether the server answers within two seconds.
func (c *Client) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := c.Version(ctx)
	return err == nil
}

type modelList struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

func (l modelList) names() []string {
	out := make([]string, len(l.Models))
	for i, m := range l.Models {
		out[i] = m.Name
	}
	return out
}

// ListModels returns the names of installed models ("llama3.2:latest").
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var l modelList
	if err := c.roundTrip(ctx, "list models", http.MethodGet, "/api/tags", nil, &l); err != nil {
		return nil, err
	}
	return l.names(), nil
}

// Loaded returns the models currently held in memory.
func (c *Client) Loaded(ctx context.Context) ([]string, error) {
	var l modelList
	if err := c.roundTrip(ctx, "running models", http.MethodGet, "/api/ps", nil, &l); err != nil {
		return nil, err
	}
	return l.names(), nil
}

// HasModel reports whether name is installed. A name without a tag matches
// any tag of that model.
func (c *Client) HasModel(ctx context.Context, name string) bool {
	models, err := c.ListModels(ctx)
	if err != nil {
		return false
	}
	return containsModel(models, name)
}

func containsModel(models []string, name string) bool {
	for _, m := range models {
		if m == name || strings.HasPrefix(m, name+":") {
			return true
		}
	}
	return false
}

// PullProgress is one line of the streamed pull response.
type PullProgress struct {
	Status    string `json:"status"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
	Error     string `json:"error,omitempty"`
}

// PullModel downloads a model and blocks until the stream ends. onProgress
// may be nil. An error line in the stream fails the pull.
func (c *Client) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	op := "pull " + name
	resp, err := c.send(ctx, op, http.MethodPost, "/api/pull", map[string]any{
		"model":  name,
		"stream": true,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	dec := json.NewDecoder(resp.Body)
	for {
		var p PullProgress
		err := dec.Decode(&p)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: reading progress: %w", op, err)
		}
		if p.Error != "" {
			return fmt.Errorf("%s: %s", op, p.Error)
		}
		if onProgress != nil {
			onProgress(p)
		}
	}
}

// ChatParams configures one non-streaming /api/chat call.
type ChatParams struct {
	Model    string
	Messages []Message
	// Schema wins over JSON when both are set.
	Schema      *Schema
	JSON        bool
	Temperature *float64
	NumPredict  int
}

type chatRequest struct {
	Model     string         `json:"model"`
	Messages  []Message      `json:"messages"`
	Stream    bool           `json:"stream"`
	Format    any            `json:"format,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
	KeepAlive string         `json:"keep_alive,omitempty"`
}

type chatResponse struct {
	Message Message `json:"message"`
}

func (p ChatParams) request(keepAlive string) chatRequest {
	cr := chatRequest{Model: p.Model, Messages: p.Messages, KeepAlive: keepAlive}
	if p.Schema != nil {
		cr.Format = p.Schema
	} else if p.JSON {
		cr.Format = "json"
	}

	opts := map[string]any{}
	if p.Temperature != nil {
		opts["temperature"] = *p.Temperature
	}
	if p.NumPredict > 0 {
		opts["num_predict"] = p.NumPredict
	}
	if len(opts) > 0 {
		cr.Options = opts
	}
	return cr
}

// Chat returns the assistant's reply text.
func (c *Client) Chat(ctx context.Context, p ChatParams) (string, error) {
	var out chatResponse
	if err := c.roundTrip(ctx, "chat", http.MethodPost, "/api/chat", p.request(c.keepAlive), &out); err != nil {
		return "", err
	}
	return out.Message.Content, nil
}

// embedRequest.Input is a string or a list of strings. Truncate lets the
// server clip chunks longer than the model's context instead of failing.
type embedRequest struct {
	Model     string `json:"model"`
	Input     any    `json:"input"`
	Truncate  bool   `json:"truncate"`
	KeepAlive string `json:"keep_alive,omitempty"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed returns the vector for a single text.
func (c *Client) Embed(ctx context.Context, model, text string) ([]float32, error) {
	vecs, err := c.embed(ctx, model, text, 1)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in one request, index-aligned with texts.
func (c *Client) EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return c.embed(ctx, model, texts, len(texts))
}

func (c *Client) embed(ctx context.Context, model string, input any, want int) ([][]float32, error) {
	req := embedRequest{Model: model, Input: input, Truncate: true, KeepAlive: c.keepAlive}
	var out embedResponse
	if err := c.roundTrip(ctx, "embed", http.MethodPost, "/api/embed", req, &out); err != nil {
		return nil, err
	}
	if len(out.Embeddings) != want {
		return nil, fmt.Errorf("embed: got %d embeddings for %d inputs", len(out.Embeddings), want)
	}
	return out.Embeddings, nil
}
