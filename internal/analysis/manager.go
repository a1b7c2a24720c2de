// Package analysis runs discovered files through prompt templates and turns
// provider answers into normalized analyses.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/kcons/kc/internal/eventbus"
	"github.com/kcons/kc/internal/providers"
	"github.com/kcons/kc/internal/relevance"
	"github.com/kcons/kc/internal/storage"
)

// Store is the persistence the manager needs. Implemented by storage.Store.
type Store interface {
	GetFile(id string) (storage.FileRecord, error)
	SaveAnalysis(id string, a storage.Analysis, relevance float64) error
	EnqueueJob(job storage.Job) error
}

// Generator produces text for a prompt. Implemented by providers.Manager.
type Generator interface {
	Generate(ctx context.Context, req providers.Request) (providers.Result, error)
}

// CategoryResolver maps suggested names to categories and assigns them.
// Implemented by categories.Manager.
type CategoryResolver interface {
	Resolve(names []string, create bool) ([]storage.Category, error)
	Assign(fileID, cat string) ([]string, error)
}

// Emitter is implemented by eventbus.Bus.
type Emitter interface {
	Emit(event string, payload any)
}

// Event is the payload of the ANALYSIS_* events.
type Event struct {
	FileID         string            `json:"fileId"`
	Template       string            `json:"template"`
	Provider       string            `json:"provider,omitempty"`
	Analysis       *storage.Analysis `json:"analysis,omitempty"`
	RelevanceScore float64           `json:"relevanceScore,omitempty"`
	Error          string            `json:"error,omitempty"`
}

// JobPayload is the payload of an analyze_file job.
type JobPayload struct {
	FileID   string `json:"file_id"`
	Template string `json:"template"`
}

// Options tune a Manager.
type Options struct {
	// AutoCreate reports, per analysis, whether categories the provider
	// suggests that do not exist yet are created. Nil means never.
	AutoCreate func() bool
	Modifier   relevance.Modifier
}

// Manager analyses single files and queues batches.
type Manager struct {
	store   Store
	gen     Generator
	cats    CategoryResolver
	prompts *Prompts
	bus     Emitter
	opts    Options
	logger  *slog.Logger
	now     func() time.Time
}

func NewManager(store Store, gen Generator, cats CategoryResolver, prompts *Prompts, bus Emitter, opts Options) *Manager {
	if opts.Modifier == "" {
		opts.Modifier = relevance.Exponential
	}
	return &Manager{
		store:   store,
		gen:     gen,
		cats:    cats,
		prompts: prompts,
		bus:     bus,
		opts:    opts,
		logger:  slog.Default(),
		now:     time.Now,
	}
}

func (m *Manager) autoCreate() bool {
	return m.opts.AutoCreate != nil && m.opts.AutoCreate()
}

// Prompts exposes the template set.
func (m *Manager) Prompts() *Prompts { return m.prompts }

// AnalyzeFile runs one file through a template, assigns the categories the
// provider suggested and stores the analysis with a blended relevance score.
func (m *Manager) AnalyzeFile(ctx context.Context, fileID, templateID string) (storage.Analysis, error) {
	tpl, err := m.prompts.Get(templateID)
	if err != nil {
		return storage.Analysis{}, err
	}
	f, err := m.store.GetFile(fileID)
	if err != nil {
		return storage.Analysis{}, fmt.Errorf("loading file %s: %w", fileID, err)
	}

	m.emit(eventbus.AnalysisStarted, Event{FileID: fileID, Template: tpl.ID})

	content := f.Content
	if content == "" {
		content = f.Preview
	}
	req := providers.Request{
		System:      tpl.System,
		Prompt:      tpl.Render(f.Name, content, f.Categories),
		Temperature: &tpl.Temperature,
		MaxTokens:   tpl.MaxTokens,
		JSON:        true,
	}
	res, err := m.gen.Generate(ctx, req)
	if err != nil {
		m.emit(eventbus.AnalysisFailed, Event{FileID: fileID, Template: tpl.ID, Error: err.Error()})
		return storage.Analysis{}, fmt.Errorf("analysing %s: %w", f.Name, err)
	}

	a := Normalize(res.Provider, res.Text)
	a.Template = tpl.ID
	a.AnalyzedAt = m.now()

	fileCats := slices.Clone(f.Categories)
	if m.cats != nil && len(a.Categories) > 0 {
		resolved, err := m.cats.Resolve(a.Categories, m.autoCreate())
		if err != nil {
			m.logger.Warn("resolving suggested categories", "file", fileID, "error", err)
		}
		names := make([]string, 0, len(resolved))
		for _, c := range resolved {
			assigned, err := m.cats.Assign(fileID, c.ID)
			if err != nil {
				m.logger.Warn("assigning category", "file", fileID, "category", c.Name, "error", err)
				continue
			}
			names = append(names, c.Name)
			fileCats = assigned
		}
		a.Categories = names
	}

	params := relevance.DefaultParams(m.now())
	params.Modifier = m.opts.Modifier
	heuristic := relevance.ScoreFile(relevance.Input{
		Text:         content,
		Categories:   fileCats,
		AnalysisType: a.AnalysisType,
		ModifiedAt:   f.ModifiedAt,
	}, params)
	score := relevance.Blend(heuristic.Score, a.RelevanceScore)

	if err := m.store.SaveAnalysis(fileID, a, score); err != nil {
		m.emit(eventbus.AnalysisFailed, Event{FileID: fileID, Template: tpl.ID, Provider: res.Provider, Error: err.Error()})
		return storage.Analysis{}, fmt.Errorf("saving analysis: %w", err)
	}

	m.logger.Debug("file analysed",
		"file", f.Name, "provider", res.Provider, "type", a.AnalysisType,
		"structured", a.Structured, "relevance", score)
	m.emit(eventbus.AnalysisCompleted, Event{
		FileID: fileID, Template: tpl.ID, Provider: res.Provider, Analysis: &a, RelevanceScore: score,
	})
	m.emit(eventbus.FileUpdated, fileID)
	return a, nil
}

// Enqueue queues an analyze_file job per file and returns how many were queued.
func (m *Manager) Enqueue(fileIDs []string, templateID string) (int, error) {
	tpl, err := m.prompts.Get(templateID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range fileIDs {
		payload, _ := json.Marshal(JobPayload{FileID: id, Template: tpl.ID})
		if err := m.store.EnqueueJob(storage.Job{
			ID:          uuid.New().String(),
			Type:        storage.JobAnalyzeFile,
			FileID:      id,
			PayloadJSON: string(payload),
		}); err != nil {
			return n, fmt.Errorf("queueing analysis for %s: %w", id, err)
		}
		n++
	}
	return n, nil
}

func (m *Manager) emit(event string, payload any) {
	if m.bus != nil {
		m.bus.Emit(event, payload)
	}
}
