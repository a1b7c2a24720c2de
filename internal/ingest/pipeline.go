package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/kcons/kc/internal/discovery"
	"github.com/kcons/kc/internal/eventbus"
	"github.com/kcons/kc/internal/extract"
	"github.com/kcons/kc/internal/relevance"
	"github.com/kcons/kc/internal/storage"
)

// FileStore is the persistence the pipeline needs. Implemented by storage.Store.
type FileStore interface {
	UpsertFile(f storage.FileRecord) (storage.UpsertResult, error)
	GetFile(id string) (storage.FileRecord, error)
	FindFileByHash(hash string) (storage.FileRecord, error)
	DeleteFile(id string) error
	EnqueueJob(job storage.Job) error
}

// TextExtractor is implemented by extract.Registry.
type TextExtractor interface {
	Supports(path string) bool
	Extract(path string) (string, error)
}

// AnalysisQueue is implemented by analysis.Manager.
type AnalysisQueue interface {
	Enqueue(fileIDs []string, templateID string) (int, error)
}

// VectorForgetter drops a file's stored embeddings. Implemented by
// retrieval.Retriever.
type VectorForgetter interface {
	Forget(ctx context.Context, fileID string) error
}

// Emitter is implemented by eventbus.Bus.
type Emitter interface {
	Emit(event string, payload any)
}

// FilePayload is the payload of embed_file jobs.
type FilePayload struct {
	FileID string `json:"file_id"`
}

// DiscoverRequest describes one discovery run.
type DiscoverRequest struct {
	Root    string            `json:"root"`
	Options discovery.Options `json:"-"`
	// Analyze queues analysis for new or changed files using Template.
	Analyze  bool   `json:"analyze,omitempty"`
	Template string `json:"template,omitempty"`
}

// Summary reports what a discovery run did. It is the FILES_DISCOVERED payload.
type Summary struct {
	Root           string   `json:"root"`
	Found          int      `json:"found"`
	New            int      `json:"new"`
	Updated        int      `json:"updated"`
	Unchanged      int      `json:"unchanged"`
	Removed        int      `json:"removed,omitempty"`
	Duplicates     int      `json:"duplicates"`
	ExtractErrors  int      `json:"extractErrors"`
	EmbedQueued    int      `json:"embedQueued"`
	AnalysisQueued int      `json:"analysisQueued"`
	FileIDs        []string `json:"fileIds"`
}

// Pipeline turns discovered files into stored records and queues the
// background work they need.
type Pipeline struct {
	store     FileStore
	extractor TextExtractor
	analysis  AnalysisQueue
	vectors   VectorForgetter
	bus       Emitter
	// embed controls whether embed_file jobs are queued.
	embed  bool
	logger *slog.Logger
	now    func() time.Time
}

// NewPipeline creates a Pipeline. analysis, vectors and bus may be nil.
func NewPipeline(store FileStore, extractor TextExtractor, analysis AnalysisQueue, vectors VectorForgetter, bus Emitter) *Pipeline {
	return &Pipeline{
		store:     store,
		extractor: extractor,
		analysis:  analysis,
		vectors:   vectors,
		bus:       bus,
		embed:     true,
		logger:    slog.Default(),
		now:       time.Now,
	}
}

// SetEmbedding turns embed_file job creation on or off.
func (p *Pipeline) SetEmbedding(on bool) { p.embed = on }

// Discover scans req.Root and ingests every matching file.
func (p *Pipeline) Discover(ctx context.Context, req DiscoverRequest) (Summary, error) {
	files, err := discovery.Scan(ctx, req.Root, req.Options)
	if err != nil {
		return Summary{}, err
	}
	root, _ := filepath.Abs(req.Root)
	sum := Summary{Root: root, Found: len(files), FileIDs: make([]string, 0, len(files))}

	var toAnalyze []string
	for _, rec := range files {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		analyze, err := p.ingest(ctx, rec, &sum)
		if err != nil {
			return sum, err
		}
		if analyze {
			toAnalyze = append(toAnalyze, rec.ID)
		}
	}
	if err := p.queueAnalysis(req, toAnalyze, &sum); err != nil {
		return sum, err
	}

	p.logger.Info("discovery finished", "root", root, "found", sum.Found, "new", sum.New,
		"updated", sum.Updated, "extract_errors", sum.ExtractErrors)
	p.emit(eventbus.FilesDiscovered, sum)
	return sum, nil
}

// Refresh re-ingests the given paths under req.Root. Paths that no longer
// exist are removed from the corpus. Used by the watcher.
func (p *Pipeline) Refresh(ctx context.Context, req DiscoverRequest, paths []string) (Summary, error) {
	root, _ := filepath.Abs(req.Root)
	sum := Summary{Root: root, FileIDs: []string{}}

	var toAnalyze []string
	for _, path := range paths {
		rec, err := discovery.Stat(req.Root, path, req.Options)
		if errors.Is(err, fs.ErrNotExist) {
			abs, _ := filepath.Abs(path)
			if err := p.Remove(ctx, discovery.FileID(abs)); err == nil {
				sum.Removed++
			}
			continue
		}
		if err != nil {
			p.logger.Debug("skipping changed path", "path", path, "error", err)
			continue
		}
		sum.Found++
		analyze, err := p.ingest(ctx, rec, &sum)
		if err != nil {
			return sum, err
		}
		if analyze {
			toAnalyze = append(toAnalyze, rec.ID)
		}
	}
	if err := p.queueAnalysis(req, toAnalyze, &sum); err != nil {
		return sum, err
	}
	if sum.Found > 0 || sum.Removed > 0 {
		p.emit(eventbus.FilesDiscovered, sum)
	}
	return sum, nil
}

// Watch ingests changes under req.Root until ctx is cancelled.
func (p *Pipeline) Watch(ctx context.Context, req DiscoverRequest) error {
	w, err := discovery.NewWatcher(req.Root, req.Options, func(ctx context.Context, paths []string) {
		if _, err := p.Refresh(ctx, req, paths); err != nil && ctx.Err() == nil {
			p.logger.Warn("refreshing changed files", "root", req.Root, "error", err)
		}
	})
	if err != nil {
		return err
	}
	return w.Start(ctx)
}

// Remove deletes a file and its embeddings.
func (p *Pipeline) Remove(ctx context.Context, fileID string) error {
	if err := p.store.DeleteFile(fileID); err != nil {
		return err
	}
	if p.vectors != nil {
		if err := p.vectors.Forget(ctx, fileID); err != nil {
			p.logger.Warn("dropping embeddings", "file_id", fileID, "error", err)
		}
	}
	p.emit(eventbus.FileUpdated, fileID)
	return nil
}

// markDuplicate points rec at the first stored file with the same content,
// whichever root it came from. Without a stored match the scan's own
// verdict stands.
func (p *Pipeline) markDuplicate(rec *storage.FileRecord) {
	if rec.ContentHash == "" {
		return
	}
	first, err := p.store.FindFileByHash(rec.ContentHash)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		p.logger.Debug("duplicate lookup failed", "path", rec.Path, "error", err)
	case first.ID == rec.ID:
		rec.DuplicateOf = ""
	default:
		rec.DuplicateOf = first.ID
	}
}

// ingest stores one record, extracting its text when it is new or changed.
// It reports whether the file should be queued for analysis.
func (p *Pipeline) ingest(ctx context.Context, rec storage.FileRecord, sum *Summary) (bool, error) {
	sum.FileIDs = append(sum.FileIDs, rec.ID)
	p.markDuplicate(&rec)
	if rec.DuplicateOf != "" {
		sum.Duplicates++
	}

	existing, err := p.store.GetFile(rec.ID)
	switch {
	case err == nil && existing.ContentHash == rec.ContentHash && existing.DuplicateOf == rec.DuplicateOf:
		sum.Unchanged++
		return !existing.Analyzed && existing.ExtractError == "", nil
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return false, fmt.Errorf("loading %s: %w", rec.Path, err)
	}

	p.fill(&rec)
	if rec.ExtractError != "" {
		sum.ExtractErrors++
	}

	res, err := p.store.UpsertFile(rec)
	if err != nil {
		return false, err
	}
	switch {
	case res.Created:
		sum.New++
	case res.ContentChanged:
		sum.Updated++
	default:
		sum.Unchanged++
	}
	if !res.ContentChanged || rec.ExtractError != "" || rec.Content == "" {
		return false, nil
	}

	if p.embed {
		if p.vectors != nil && !res.Created {
			if err := p.vectors.Forget(ctx, rec.ID); err != nil {
				p.logger.Warn("dropping stale embeddings", "file_id", rec.ID, "error", err)
			}
		}
		payload, _ := json.Marshal(FilePayload{FileID: rec.ID})
		if err := p.store.EnqueueJob(storage.Job{
			ID:          uuid.New().String(),
			Type:        storage.JobEmbedFile,
			FileID:      rec.ID,
			PayloadJSON: string(payload),
		}); err != nil {
			return false, fmt.Errorf("queueing embedding for %s: %w", rec.Path, err)
		}
		sum.EmbedQueued++
	}
	return true, nil
}

// fill extracts text, builds the preview and computes the heuristic score.
func (p *Pipeline) fill(rec *storage.FileRecord) {
	if !p.extractor.Supports(rec.Path) {
		rec.ExtractError = fmt.Sprintf("no extractor for %s files", rec.Extension)
		return
	}
	text, err := p.extractor.Extract(rec.Path)
	if err != nil {
		rec.ExtractError = err.Error()
		p.logger.Debug("extraction failed", "path", rec.Path, "error", err)
	}
	rec.Content = text
	rec.Preview = extract.Preview(text, relevance.KeywordScore)
	rec.RelevanceScore = relevance.ScoreFile(relevance.Input{
		Text:       text,
		ModifiedAt: rec.ModifiedAt,
	}, relevance.DefaultParams(p.now())).Score
}

func (p *Pipeline) queueAnalysis(req DiscoverRequest, ids []string, sum *Summary) error {
	if !req.Analyze || p.analysis == nil || len(ids) == 0 {
		return nil
	}
	n, err := p.analysis.Enqueue(ids, req.Template)
	sum.AnalysisQueued = n
	if err != nil {
		return fmt.Errorf("queueing analysis: %w", err)
	}
	return nil
}

func (p *Pipeline) emit(event string, payload any) {
	if p.bus != nil {
		p.bus.Emit(event, payload)
	}
}
