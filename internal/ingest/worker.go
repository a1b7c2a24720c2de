package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kcons/kc/internal/analysis"
	"github.com/kcons/kc/internal/storage"
)

// JobStore is the slice of storage.Store the worker drives.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	GetFile(id string) (storage.FileRecord, error)
}

// Analyzer runs a template over a stored file. Implemented by analysis.Manager.
type Analyzer interface {
	AnalyzeFile(ctx context.Context, fileID, templateID string) (storage.Analysis, error)
}

// Indexer chunks, embeds and stores a file's text. Implemented by
// retrieval.Retriever.
type Indexer interface {
	IndexFile(ctx context.Context, fileID, text string, categories []string) (int, error)
}

type jobHandler func(ctx context.Context, job *storage.Job) error

// Worker drains the job queue. Only job types with a handler are claimed,
// so a daemon without an embedding model leaves embed_file jobs queued.
type Worker struct {
	store       JobStore
	handlers    map[string]jobHandler
	types       []string
	poll        time.Duration
	concurrency int
	logger      *slog.Logger
}

// NewWorker wires handlers for the non-nil analyzer and indexer. pollInterval
// is how long an idle loop sleeps; 0 means 500ms.
func NewWorker(store JobStore, analyzer Analyzer, indexer Indexer, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	w := &Worker{
		store:       store,
		handlers:    map[string]jobHandler{},
		poll:        pollInterval,
		concurrency: 1,
		logger:      slog.Default().With("component", "worker"),
	}
	if analyzer != nil {
		w.handle(storage.JobAnalyzeFile, func(ctx context.Context, job *storage.Job) error {
			var p analysis.JobPayload
			if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
				return fmt.Errorf("parsing payload: %w", err)
			}
			_, err := analyzer.AnalyzeFile(ctx, p.FileID, p.Template)
			return err
		})
	}
	if indexer != nil {
		w.handle(storage.JobEmbedFile, func(ctx context.Context, job *storage.Job) error {
			return w.embed(ctx, indexer, job)
		})
	}
	return w
}

func (w *Worker) handle(jobType string, h jobHandler) {
	w.handlers[jobType] = h
	w.types = append(w.types, jobType)
	slices.Sort(w.types)
}

// SetConcurrency sets how many jobs run at once. Values below 1 mean 1.
func (w *Worker) SetConcurrency(n int) {
	w.concurrency = max(n, 1)
}

// Run keeps concurrency loops claiming jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	var g errgroup.Group
	for range w.concurrency {
		g.Go(func() error {
			w.loop(ctx)
			return nil
		})
	}
	g.Wait()
}

func (w *Worker) loop(ctx context.Context) {
	idle := time.NewTimer(0)
	defer idle.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-idle.C:
		}
		worked, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if worked {
			idle.Reset(0)
		} else {
			idle.Reset(w.poll)
		}
	}
}

// RunOnce claims and processes one job. It reports whether a job was
// claimed; a failing job still counts and is handed back for retry.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(w.types)
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	log := w.logger.With("job_id", job.ID, "type", job.Type, "attempt", job.Attempts+1)
	start := time.Now()
	if err := w.process(ctx, job); err != nil {
		log.Warn("job failed", "error", err)
		if ferr := w.store.FailJob(job.ID, err.Error()); ferr != nil {
			log.Error("recording job failure", "error", ferr)
		}
		return true, nil
	}
	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	log.Debug("job done", "elapsed", time.Since(start))
	return true, nil
}

func (w *Worker) process(ctx context.Context, job *storage.Job) error {
	h, ok := w.handlers[job.Type]
	if !ok {
		return fmt.Errorf("unknown job type %q", job.Type)
	}
	return h(ctx, job)
}

func (w *Worker) embed(ctx context.Context, indexer Indexer, job *storage.Job) error {
	fileID := job.FileID
	if fileID == "" {
		var p FilePayload
		if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
			return fmt.Errorf("parsing payload: %w", err)
		}
		fileID = p.FileID
	}
	f, err := w.store.GetFile(fileID)
	if err != nil {
		return fmt.Errorf("loading file %s: %w", fileID, err)
	}
	n, err := indexer.IndexFile(ctx, f.ID, f.Content, f.Categories)
	if err != nil {
		return fmt.Errorf("indexing %s: %w", f.Name, err)
	}
	w.logger.Debug("file embedded", "file_id", f.ID, "chunks", n)
	return nil
}
