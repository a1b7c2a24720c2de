package reranking

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kcons/kc/internal/engine"
	"github.com/kcons/kc/internal/retrieval"
)

// --- mocks ---

type mockChatter struct {
	chatFn func(ctx context.Context, req engine.ChatRequest) (string, error)
}

func (m *mockChatter) Chat(ctx context.Context, req engine.ChatRequest) (string, error) {
	if m.chatFn != nil {
		return m.chatFn(ctx, req)
	}
	return `{"score": 0.5}`, nil
}

type mockSearcher struct {
	hits  []retrieval.Hit
	err   error
	gotK  int
	calls int
}

func (m *mockSearcher) Search(_ context.Context, _ string, topK int) ([]retrieval.Hit, error) {
	m.calls++
	m.gotK = topK
	if m.err != nil {
		return nil, m.err
	}
	if len(m.hits) > topK {
		return m.hits[:topK], nil
	}
	return m.hits, nil
}

// --- helpers ---

func makeHits(n int, score float32) []retrieval.Hit {
	hits := make([]retrieval.Hit, n)
	for i := range hits {
		hits[i] = retrieval.Hit{
			FileID: fmt.Sprintf("file-%d", i),
			Text:   fmt.Sprintf("text %d", i),
			Score:  score,
		}
	}
	return hits
}

func newLLMReranker(eng Chatter, threshold float64, timeout time.Duration, earlyStop int) *LLMReranker {
	return NewReranker(eng, true, Options{
		Model:     "llama3.2",
		Timeout:   timeout,
		Threshold: threshold,
		EarlyStop: earlyStop,
	}).(*LLMReranker)
}

// --- tests ---

func TestLLMReranker_ReordersHits(t *testing.T) {
	scores := []float64{0.9, 0.3, 0.7}
	var callIdx atomic.Int32
	eng := &mockChatter{
		chatFn: func(ctx context.Context, req engine.ChatRequest) (string, error) {
			i := int(callIdx.Add(1)) - 1
			return fmt.Sprintf(`{"score": %g}`, scores[i]), nil
		},
	}

	r := newLLMReranker(eng, 0.3, 5*time.Second, 0)
	result, err := r.Rerank(context.Background(), "query", makeHits(3, 0.5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result) != 3 {
		t.Fatalf("got %d hits, want 3", len(result))
	}
	wantOrder := []float32{0.9, 0.7, 0.3}
	for i, h := range result {
		if h.Score != wantOrder[i] {
			t.Errorf("result[%d].Score = %g, want %g", i, h.Score, wantOrder[i])
		}
	}
}

func TestLLMReranker_RequestShape(t *testing.T) {
	var got engine.ChatRequest
	eng := &mockChatter{
		chatFn: func(ctx context.Context, req engine.ChatRequest) (string, error) {
			got = req
			return `{"score": 0.8}`, nil
		},
	}

	r := newLLMReranker(eng, 0, 5*time.Second, 0)
	if _, err := r.Rerank(context.Background(), "decision log", makeHits(1, 0.5)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Model != "llama3.2" {
		t.Errorf("model = %q, want llama3.2", got.Model)
	}
	if !got.JSON || got.Schema == nil {
		t.Error("expected a JSON request with a schema")
	}
	if got.Temperature == nil || *got.Temperature != 0 {
		t.Error("expected temperature 0")
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "user" {
		t.Fatalf("messages = %+v", got.Messages)
	}
}

func TestLLMReranker_DropsLowScore(t *testing.T) {
	scores := []float64{0.8, 0.1, 0.7}
	var callIdx atomic.Int32
	eng := &mockChatter{
		chatFn: func(ctx context.Context, req engine.ChatRequest) (string, error) {
			i := int(callIdx.Add(1)) - 1
			return fmt.Sprintf(`{"score": %g}`, scores[i]), nil
		},
	}

	r := newLLMReranker(eng, 0.3, 5*time.Second, 0)
	result, err := r.Rerank(context.Background(), "query", makeHits(3, 0.5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result) != 2 {
		t.Fatalf("got %d hits, want 2 (low-score hit should be dropped)", len(result))
	}
	for _, h := range result {
		if float64(h.Score) < 0.3 {
			t.Errorf("hit with score %g below threshold was not dropped", h.Score)
		}
	}
}

func TestLLMReranker_AllBelowThreshold(t *testing.T) {
	eng := &mockChatter{
		chatFn: func(ctx context.Context, req engine.ChatRequest) (string, error) {
			return `{"score": 0.1}`, nil
		},
	}

	r := newLLMReranker(eng, 0.3, 5*time.Second, 0)
	result, err := r.Rerank(context.Background(), "query", makeHits(3, 0.9))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result) != 0 {
		t.Errorf("got %d hits, want 0", len(result))
	}
}

func TestLLMReranker_TimeoutKeepsOriginalOrder(t *testing.T) {
	eng := &mockChatter{
		chatFn: func(ctx context.Context, req engine.ChatRequest) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}

	hits := makeHits(3, 0.8)
	r := newLLMReranker(eng, 0.3, 200*time.Millisecond, 0)

	start := time.Now()
	result, err := r.Rerank(context.Background(), "query", hits)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed > time.Second {
		t.Errorf("Rerank took %v, want close to the 200ms timeout", elapsed)
	}
	if len(result) != 3 || result[0].FileID != "file-0" || result[2].FileID != "file-2" {
		t.Errorf("result = %+v, want original hits", result)
	}
}

func TestLLMReranker_MarkdownCodeFence(t *testing.T) {
	eng := &mockChatter{
		chatFn: func(ctx context.Context, req engine.ChatRequest) (string, error) {
			return "```json\n{\"score\": 0.8}\n```", nil
		},
	}

	r := newLLMReranker(eng, 0.3, 5*time.Second, 0)
	result, err := r.Rerank(context.Background(), "query", makeHits(1, 0.5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result) != 1 {
		t.Fatalf("got %d hits, want 1", len(result))
	}
	if result[0].Score != 0.8 {
		t.Errorf("score = %g, want 0.8", result[0].Score)
	}
}

func TestLLMReranker_ConversationalFiller(t *testing.T) {
	eng := &mockChatter{
		chatFn: func(ctx context.Context, req engine.ChatRequest) (string, error) {
			return `The relevance score is: {"score": 0.6}`, nil
		},
	}

	r := newLLMReranker(eng, 0.3, 5*time.Second, 0)
	result, err := r.Rerank(context.Background(), "query", makeHits(1, 0.5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result) != 1 || result[0].Score != 0.6 {
		t.Errorf("result = %+v, want one hit scored 0.6", result)
	}
}

func TestLLMReranker_MalformedJSON(t *testing.T) {
	eng := &mockChatter{
		chatFn: func(ctx context.Context, req engine.ChatRequest) (string, error) {
			return "completely unparseable garbage", nil
		},
	}

	originalScore := float32(0.9)
	hits := []retrieval.Hit{{FileID: "f1", Text: "text", Score: originalScore}}
	r := newLLMReranker(eng, 0.3, 5*time.Second, 0)
	result, err := r.Rerank(context.Background(), "query", hits)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result) != 1 {
		t.Fatalf("got %d hits, want 1 (hit should not be dropped on parse failure)", len(result))
	}
	if result[0].Score != originalScore {
		t.Errorf("score = %g, want original %g", result[0].Score, originalScore)
	}
}

func TestLLMReranker_EarlyReturn(t *testing.T) {
	const total = 10
	const quickCount = 5

	var callCount atomic.Int32
	eng := &mockChatter{
		chatFn: func(ctx context.Context, req engine.ChatRequest) (string, error) {
			if int(callCount.Add(1)) <= quickCount {
				return `{"score": 0.8}`, nil
			}
			<-ctx.Done()
			return "", ctx.Err()
		},
	}

	r := newLLMReranker(eng, 0.3, 10*time.Second, quickCount)

	done := make(chan []retrieval.Hit, 1)
	go func() {
		result, _ := r.Rerank(context.Background(), "query", makeHits(total, 0.5))
		done <- result
	}()

	select {
	case result := <-done:
		if len(result) != quickCount {
			t.Errorf("got %d hits, want %d", len(result), quickCount)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Rerank did not return early")
	}
}

func TestParseScore(t *testing.T) {
	tests := []struct {
		answer  string
		want    float64
		wantErr bool
	}{
		{`{"score": 0.4}`, 0.4, false},
		{"```json\n{\"score\": 0.8}\n```", 0.8, false},
		{`sure! {"score": 1.7} hope that helps`, 1, false},
		{`{"score": -2}`, 0, false},
		{`{"relevance": 0.5}`, 0, true},
		{`no json here`, 0, true},
	}
	for _, tt := range tests {
		got, err := parseScore(tt.answer)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseScore(%q) = %v, %v; want %v, err %v", tt.answer, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestLLMReranker_EmptyHits(t *testing.T) {
	r := newLLMReranker(&mockChatter{}, 0.3, 5*time.Second, 0)
	result, err := r.Rerank(context.Background(), "query", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result) != 0 {
		t.Errorf("got %d hits, want 0", len(result))
	}
}

func TestNoOpReranker(t *testing.T) {
	hits := makeHits(3, 0.5)
	hits[0].Score = 0.3
	hits[1].Score = 0.9
	hits[2].Score = 0.1

	r := &NoOpReranker{}
	result, err := r.Rerank(context.Background(), "query", hits)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, h := range result {
		if h.Score != hits[i].Score {
			t.Errorf("result[%d].Score = %g, want %g (order must be unchanged)", i, h.Score, hits[i].Score)
		}
	}
}

func TestNewReranker(t *testing.T) {
	r, ok := NewReranker(&mockChatter{}, true, Options{Model: "llama3.2"}).(*LLMReranker)
	if !ok {
		t.Fatal("enabled reranker should be an LLMReranker")
	}
	if r.opts.Workers != 3 || r.opts.Timeout != 5*time.Second {
		t.Errorf("defaults = %+v", r.opts)
	}
	if _, ok := NewReranker(&mockChatter{}, false, Options{}).(*NoOpReranker); !ok {
		t.Error("disabled reranker should be a NoOpReranker")
	}
	if _, ok := NewReranker(nil, true, Options{}).(*NoOpReranker); !ok {
		t.Error("nil engine should fall back to NoOpReranker")
	}
}

func TestRerankingSearcher_OverfetchesAndTruncates(t *testing.T) {
	inner := &mockSearcher{hits: makeHits(20, 0.5)}
	var callIdx atomic.Int32
	eng := &mockChatter{
		chatFn: func(ctx context.Context, req engine.ChatRequest) (string, error) {
			i := callIdx.Add(1)
			return fmt.Sprintf(`{"score": %g}`, float64(i)/100), nil
		},
	}
	s := Wrap(inner, newLLMReranker(eng, 0, 5*time.Second, 0), 3)

	hits, err := s.Search(context.Background(), "query", 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.gotK != 12 {
		t.Errorf("inner topK = %d, want 12", inner.gotK)
	}
	if len(hits) != 4 {
		t.Fatalf("got %d hits, want 4", len(hits))
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Score > hits[i-1].Score {
			t.Errorf("hits not sorted by score: %v then %v", hits[i-1].Score, hits[i].Score)
		}
	}
}

func TestRerankingSearcher_CapsCandidates(t *testing.T) {
	inner := &mockSearcher{}
	s := Wrap(inner, &NoOpReranker{}, 0)
	if _, err := s.Search(context.Background(), "query", 40); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.gotK != maxCandidates {
		t.Errorf("inner topK = %d, want %d", inner.gotK, maxCandidates)
	}
}

func TestRerankingSearcher_PropagatesError(t *testing.T) {
	inner := &mockSearcher{err: errors.New("embed failed")}
	s := Wrap(inner, &NoOpReranker{}, 3)
	if _, err := s.Search(context.Background(), "query", 5); err == nil {
		t.Fatal("expected error")
	}
}
