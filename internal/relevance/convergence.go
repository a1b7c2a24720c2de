package relevance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kcons/kc/internal/eventbus"
	"github.com/kcons/kc/internal/storage"
)

// FileStore is implemented by storage.Store.
type FileStore interface {
	ListFiles(opts storage.ListOptions) ([]storage.FileRecord, error)
	SetRelevance(id string, score float64) error
}

// VectorSource returns one vector per embedded file. Implemented by
// retrieval.Retriever.
type VectorSource interface {
	FileVectors(ctx context.Context) (map[string][]float32, error)
}

// Emitter is implemented by eventbus.Bus.
type Emitter interface {
	Emit(event string, payload any)
}

// Request tunes one convergence run.
type Request struct {
	Threshold float64 `json:"threshold,omitempty"`
	// Rescore recomputes every file's relevance with the semantic dimension
	// and stores the result.
	Rescore bool `json:"rescore,omitempty"`
}

// Report is the result of Analyzer.Run.
type Report struct {
	Summary
	Rescored int `json:"rescored,omitempty"`
}

// Analyzer computes convergence chains over the stored corpus.
type Analyzer struct {
	files     FileStore
	vectors   VectorSource
	bus       Emitter
	threshold float64
	modifier  Modifier
	logger    *slog.Logger
	now       func() time.Time
}

// NewAnalyzer creates an Analyzer. threshold <= 0 uses DefaultThreshold.
func NewAnalyzer(files FileStore, vectors VectorSource, bus Emitter, threshold float64) *Analyzer {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Analyzer{
		files:     files,
		vectors:   vectors,
		bus:       bus,
		threshold: threshold,
		modifier:  Exponential,
		logger:    slog.Default(),
		now:       time.Now,
	}
}

// SetModifier changes the keyword modifier used when rescoring.
func (a *Analyzer) SetModifier(m Modifier) { a.modifier = m }

// Docs loads every embedded file as a Doc.
func (a *Analyzer) Docs(ctx context.Context) ([]Doc, []storage.FileRecord, error) {
	vectors, err := a.vectors.FileVectors(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("loading vectors: %w", err)
	}
	files, err := a.files.ListFiles(storage.ListOptions{WithContent: true})
	if err != nil {
		return nil, nil, fmt.Errorf("listing files: %w", err)
	}
	docs := make([]Doc, 0, len(vectors))
	for _, f := range files {
		v, ok := vectors[f.ID]
		if !ok {
			continue
		}
		text := f.Content
		if text == "" {
			text = f.Preview
		}
		docs = append(docs, Doc{ID: f.ID, Vector: v, Categories: f.Categories, Text: text})
	}
	return docs, files, nil
}

// Chains returns the chains at the configured threshold.
func (a *Analyzer) Chains(ctx context.Context) ([]Chain, error) {
	docs, _, err := a.Docs(ctx)
	if err != nil {
		return nil, err
	}
	return Chains(docs, a.threshold), nil
}

// ErrInvalidThreshold is returned for thresholds above 1.
var ErrInvalidThreshold = errors.New("invalid convergence threshold")

// Run computes chains, optionally rescores the corpus, and emits
// CONVERGENCE_COMPUTED.
func (a *Analyzer) Run(ctx context.Context, req Request) (Report, error) {
	threshold := req.Threshold
	if threshold <= 0 {
		threshold = a.threshold
	}
	if threshold > 1 {
		return Report{}, fmt.Errorf("%w: %.2f is outside (0, 1]", ErrInvalidThreshold, threshold)
	}

	docs, files, err := a.Docs(ctx)
	if err != nil {
		return Report{}, err
	}
	rep := Report{Summary: Summarize(docs, threshold)}

	if req.Rescore {
		n, err := a.rescore(docs, files)
		rep.Rescored = n
		if err != nil {
			return rep, err
		}
	}

	a.logger.Info("convergence computed", "documents", rep.Documents, "chains", len(rep.Chains), "threshold", threshold)
	if a.bus != nil {
		a.bus.Emit(eventbus.ConvergenceComputed, rep)
	}
	return rep, nil
}

func (a *Analyzer) rescore(docs []Doc, files []storage.FileRecord) (int, error) {
	sim := CorpusSimilarity(docs)
	params := DefaultParams(a.now())
	params.Modifier = a.modifier

	n := 0
	for _, f := range files {
		in := Input{
			Text:         f.Content,
			Categories:   f.Categories,
			AnalysisType: f.AnalysisType,
			ModifiedAt:   f.ModifiedAt,
		}
		if s, ok := sim[f.ID]; ok {
			in.Semantic = &s
		}
		score := ScoreFile(in, params).Score
		if f.Analysis != nil {
			score = Blend(score, f.Analysis.RelevanceScore)
		}
		if score == f.RelevanceScore {
			continue
		}
		if err := a.files.SetRelevance(f.ID, score); err != nil {
			return n, fmt.Errorf("rescoring %s: %w", f.Name, err)
		}
		n++
	}
	return n, nil
}
