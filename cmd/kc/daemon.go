package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/errgroup"

	"github.com/kcons/kc/internal/analysis"
	"github.com/kcons/kc/internal/api"
	"github.com/kcons/kc/internal/categories"
	"github.com/kcons/kc/internal/config"
	"github.com/kcons/kc/internal/discovery"
	"github.com/kcons/kc/internal/engine"
	"github.com/kcons/kc/internal/eventbus"
	"github.com/kcons/kc/internal/export"
	"github.com/kcons/kc/internal/extract"
	"github.com/kcons/kc/internal/filter"
	"github.com/kcons/kc/internal/ingest"
	"github.com/kcons/kc/internal/migrate"
	"github.com/kcons/kc/internal/providers"
	"github.com/kcons/kc/internal/qdrant"
	"github.com/kcons/kc/internal/relevance"
	"github.com/kcons/kc/internal/reranking"
	"github.com/kcons/kc/internal/retrieval"
	"github.com/kcons/kc/internal/state"
	"github.com/kcons/kc/internal/storage"
)

// jobRetention is how long completed jobs stay visible in `kc files jobs`.
const jobRetention = 7 * 24 * time.Hour

// daemon holds the wired services of a running kc.
type daemon struct {
	cfg   config.Config
	token string

	eng        *engine.OllamaEngine
	embeddings bool

	store       *storage.Store
	bus         *eventbus.Bus
	state       *state.State
	cats        *categories.Manager
	analysis    *analysis.Manager
	retriever   *retrieval.Retriever
	pipeline    *ingest.Pipeline
	worker      *ingest.Worker
	filters     *filter.Manager
	convergence *relevance.Analyzer
	searcher    api.Searcher
	exporter    *export.Exporter
	qdrant      *qdrant.Client
}

func durationOr(raw string, def time.Duration, what string) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil {
		slog.Warn("invalid duration, using default", "setting", what, "value", raw, "default", def)
		return def
	}
	return d
}

func discoveryDefaults(cfg config.Config) discovery.Options {
	opts := discovery.DefaultOptions()
	if exts := cfg.Discovery.ExtensionList(); len(exts) > 0 {
		opts.Extensions = exts
	}
	if cfg.Discovery.MaxFileSize > 0 {
		opts.MaxSize = int64(cfg.Discovery.MaxFileSize)
	}
	return opts
}

// newDaemon opens storage and wires every service. Local models are
// optional: remote providers can still analyse, but embeddings, search and
// convergence need Ollama.
func newDaemon(ctx context.Context, cfg config.Config, token string) (*daemon, error) {
	d := &daemon{cfg: cfg, token: token, eng: engine.NewOllamaEngine(cfg.Ollama.BaseURL, cfg.Ollama.KeepAlive)}

	ready, err := engine.EnsureReady(ctx, d.eng, engine.Models{
		Analysis: cfg.Ollama.AnalysisModel,
		Embed:    cfg.Ollama.EmbedModel,
	}, os.Stderr)
	if err != nil {
		printWarning("local inference unavailable, semantic features disabled: %v", err)
	} else {
		d.embeddings = true
		slog.Info("local models ready", "pulled", ready.Pulled, "warm", ready.Warm)
	}

	if d.store, err = storage.Open(cfg.Storage.DataDir); err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	if err := d.wire(ctx); err != nil {
		d.store.Close()
		return nil, err
	}
	return d, nil
}

func (d *daemon) wire(ctx context.Context) error {
	cfg := d.cfg
	d.bus = eventbus.New(eventbus.DefaultHistorySize)
	d.state = state.New(d.store, d.bus)
	if err := d.state.Load(); err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	d.cats = categories.NewManager(d.store, d.bus)
	if err := d.cats.SeedDefaults(); err != nil {
		return fmt.Errorf("seeding categories: %w", err)
	}

	prompts := analysis.NewPrompts()
	if f := cfg.Analysis.TemplatesFile; f != "" {
		if err := prompts.LoadFile(f); err != nil {
			return fmt.Errorf("loading analysis templates: %w", err)
		}
	}
	d.analysis = analysis.NewManager(d.store, d.providers(), d.cats, prompts, d.bus, analysis.Options{
		AutoCreate: func() bool { return d.state.Flag("autoCreateCategories") },
	})

	embedder := retrieval.NewEmbedder(d.eng, cfg.Ollama.EmbedModel,
		retrieval.WithTaskPrefixes(retrieval.TaskPrefixes(cfg.Ollama.EmbedModel)))
	d.retriever = retrieval.NewRetriever(embedder, retrieval.NewSQLiteStore(d.store.DB()), cfg.Chunk.Size, cfg.Chunk.Overlap)
	d.bus.On(eventbus.CategoryAssigned, func(payload any) {
		if a, ok := payload.(categories.Assignment); ok {
			if err := d.retriever.Retag(ctx, a.FileID, a.Categories); err != nil {
				slog.Warn("retagging chunks", "file_id", a.FileID, "error", err)
			}
		}
	})

	d.pipeline = ingest.NewPipeline(d.store, extract.NewRegistry(), d.analysis, d.retriever, d.bus)
	d.pipeline.SetEmbedding(d.embeddings)
	d.worker = ingest.NewWorker(d.store, d.analysis, d.indexer(), 500*time.Millisecond)
	d.worker.SetConcurrency(cfg.Analysis.Concurrency)

	d.filters = filter.NewManager(d.store, d.bus)
	d.convergence = relevance.NewAnalyzer(d.store, d.retriever, d.bus, cfg.Convergence.Threshold)

	opts := export.Options{
		Convergence:  d.convergence.Chains,
		ChunkSize:    cfg.Chunk.Size,
		ChunkOverlap: cfg.Chunk.Overlap,
		Bus:          d.bus,
	}
	if d.embeddings {
		opts.Embedder = embedder
		d.searcher = d.retriever
		if cfg.Search.Rerank {
			d.searcher = reranking.Wrap(d.retriever, d.reranker(), 3)
		}
	}
	if cfg.Qdrant.URL != "" {
		d.qdrant = qdrant.NewClient(cfg.Qdrant.URL, cfg.Qdrant.Collection, cfg.Qdrant.APIKey)
		opts.Qdrant = d.qdrant
	}
	if dsn := cfg.Pgvector.DSN; dsn != "" {
		opts.OpenPgvector = func(ctx context.Context) (export.ChunkSink, error) {
			return export.NewPgvectorSink(ctx, dsn, cfg.Pgvector.Table)
		}
	}
	d.exporter = export.New(d.store, opts)

	if cfg.Discovery.Watch {
		roots := ingest.NewRoots(ctx, d.pipeline, d.state, ingest.DiscoverRequest{Options: discoveryDefaults(cfg)})
		if err := roots.Restore(); err != nil {
			slog.Warn("restoring watched roots", "error", err)
		}
		d.bus.On(eventbus.FilesDiscovered, roots.OnDiscovered)
	}
	return nil
}

// indexer is nil without local embeddings so embed_file jobs stay queued
// until a later start has a model.
func (d *daemon) indexer() ingest.Indexer {
	if !d.embeddings || d.retriever == nil {
		return nil
	}
	return d.retriever
}

func (d *daemon) providers() *providers.Manager {
	p := d.cfg.Providers
	mgr := providers.NewManager(durationOr(p.Timeout, 120*time.Second, "providers.timeout"))
	mgr.Register(providers.NewOllama(d.eng, d.cfg.Ollama.AnalysisModel))
	if p.OpenAIAPIKey != "" {
		mgr.Register(providers.NewOpenAI(p.OpenAIAPIKey, p.OpenAIBaseURL, p.OpenAIModel))
	}
	if p.GeminiAPIKey != "" {
		mgr.Register(providers.NewGemini(p.GeminiAPIKey, p.GeminiBaseURL, p.GeminiModel))
	}
	if err := mgr.SetActive(p.Active); err != nil {
		slog.Warn("active provider unavailable, keeping default", "provider", p.Active, "error", err)
	}
	mgr.SetFallback(p.FallbackList())
	return mgr
}

func (d *daemon) reranker() reranking.Reranker {
	return reranking.NewReranker(d.eng, true, reranking.Options{
		Model:     d.cfg.Ollama.AnalysisModel,
		Timeout:   durationOr(d.cfg.Search.RerankTimeout, 5*time.Second, "search.rerank_timeout"),
		Threshold: d.cfg.Search.RerankThreshold,
	})
}

// maintainJobs requeues jobs a crash left running and drops old completed
// ones. It runs before the worker starts.
func (d *daemon) maintainJobs() {
	if n, err := d.store.RecoverRunningJobs(); err != nil {
		slog.Warn("recovering interrupted jobs", "error", err)
	} else if n > 0 {
		slog.Info("requeued interrupted jobs", "count", n)
	}
	if n, err := d.store.PruneJobs(time.Now().Add(-jobRetention)); err != nil {
		slog.Warn("pruning completed jobs", "error", err)
	} else if n > 0 {
		slog.Debug("pruned completed jobs", "count", n)
	}
}

func (d *daemon) handler() http.Handler {
	return api.NewAppHandler(api.AppDeps{
		Store:       d.store,
		Token:       d.token,
		Bus:         d.bus,
		State:       d.state,
		Pipeline:    d.pipeline,
		Categories:  d.cats,
		Analysis:    d.analysis,
		Filters:     d.filters,
		Convergence: d.convergence,
		Exporter:    d.exporter,
		Importer:    migrate.NewImporter(d.store, d.cats, d.state, d.bus),
		Searcher:    d.searcher,
		Qdrant:      d.qdrant,
		Discovery:   discoveryDefaults(d.cfg),
	})
}

// serve runs the job worker, the MCP stdio server and the HTTP API until
// ctx ends or the listener fails. State is persisted on the way out.
func (d *daemon) serve(ctx context.Context) error {
	d.maintainJobs()

	addr := fmt.Sprintf("127.0.0.1:%d", d.cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: d.handler(), ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d.worker.Run(gctx)
		return nil
	})
	// The stdio listener is not joined: it can stay blocked on stdin after
	// ctx ends.
	go func() {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Store:       d.store,
			Categories:  d.cats,
			Filters:     d.filters,
			Convergence: d.convergence,
			Searcher:    d.searcher,
		}, version)
		slog.Info("MCP server started (stdio transport)")
		err := server.NewStdioServer(mcpSrv).Listen(gctx, os.Stdin, os.Stdout)
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server stopped", "error", err)
		}
	}()
	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "kc listening on %s\n", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if perr := d.state.Persist(); perr != nil {
		slog.Warn("persisting state", "error", perr)
	}
	return err
}

func (d *daemon) close() {
	if err := d.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
	}
}
