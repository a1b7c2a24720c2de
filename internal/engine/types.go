package engine

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a backend-neutral chat call. Analysis templates set JSON
// or Schema; the reranker sets both and a zero temperature.
type ChatRequest struct {
	Model       string
	Messages    []Message
	JSON        bool
	Schema      *Schema
	Temperature *float64
	// MaxTokens caps generated tokens when > 0.
	MaxTokens int
}

// Schema constrains structured output to a flat JSON object.
type Schema struct {
	Type       string                    `json:"type"`
	Properties map[string]SchemaProperty `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

type SchemaProperty struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// PullProgress is one step of a model download.
type PullProgress struct {
	Status    string
	Total     int64
	Completed int64
}

// Percent is the completed share of the current layer, or -1 when the
// step has no size.
func (p PullProgress) Percent() float64 {
	if p.Total <= 0 {
		return -1
	}
	return float64(p.Completed) / float64(p.Total) * 100
}
