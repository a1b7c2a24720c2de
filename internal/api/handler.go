// Package api exposes the consolidator over HTTP and MCP.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kcons/kc/internal/analysis"
	"github.com/kcons/kc/internal/categories"
	"github.com/kcons/kc/internal/discovery"
	"github.com/kcons/kc/internal/eventbus"
	"github.com/kcons/kc/internal/export"
	"github.com/kcons/kc/internal/filter"
	"github.com/kcons/kc/internal/ingest"
	"github.com/kcons/kc/internal/migrate"
	"github.com/kcons/kc/internal/qdrant"
	"github.com/kcons/kc/internal/relevance"
	"github.com/kcons/kc/internal/retrieval"
	"github.com/kcons/kc/internal/state"
	"github.com/kcons/kc/internal/storage"
)

// Searcher abstracts semantic search over embedded chunks.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]retrieval.Hit, error)
}

// Pipeline abstracts discovery and removal of files.
type Pipeline interface {
	Discover(ctx context.Context, req ingest.DiscoverRequest) (ingest.Summary, error)
	Remove(ctx context.Context, fileID string) error
}

// AppDeps holds everything the HTTP and MCP surfaces call into.
type AppDeps struct {
	Store       *storage.Store
	Token       string
	Bus         *eventbus.Bus
	State       *state.State
	Pipeline    Pipeline
	Categories  *categories.Manager
	Analysis    *analysis.Manager
	Filters     *filter.Manager
	Convergence *relevance.Analyzer
	Exporter    *export.Exporter
	Importer    *migrate.Importer
	Searcher    Searcher      // optional; if nil, /search returns 503
	Qdrant      *qdrant.Client // optional; if nil, /qdrant/stats returns 503
	// Discovery holds the configured defaults for POST /discover.
	Discovery discovery.Options
}

// NewAppHandler returns the daemon's HTTP API. Everything except /health
// requires the bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/discover", handleDiscover(deps))

		r.Get("/files", handleListFiles(deps))
		r.Get("/files/{id}", handleGetFile(deps))
		r.Delete("/files/{id}", handleDeleteFile(deps))
		r.Get("/files/{id}/jobs", handleFileJobs(deps))
		r.Post("/files/{id}/categories", handleAssignCategory(deps))
		r.Delete("/files/{id}/categories/{cat}", handleUnassignCategory(deps))

		r.Get("/categories", handleListCategories(deps))
		r.Post("/categories", handleCreateCategory(deps))
		r.Patch("/categories/{id}", handleUpdateCategory(deps))
		r.Delete("/categories/{id}", handleDeleteCategory(deps))
		r.Post("/categories/{id}/files", handleBulkAssign(deps))

		r.Post("/analyze", handleAnalyze(deps))
		r.Get("/templates", handleTemplates(deps))

		r.Post("/filter", handleFilter(deps))
		r.Get("/filter-presets", handleListPresets(deps))
		r.Post("/filter-presets", handleSavePreset(deps))
		r.Delete("/filter-presets/{name}", handleDeletePreset(deps))

		r.Get("/stats", handleStats(deps))
		r.Post("/convergence", handleConvergence(deps))
		r.Get("/search", handleSearch(deps))

		r.Post("/export", handleExport(deps))
		r.Get("/exports", handleExportHistory(deps))
		r.Get("/qdrant/stats", handleQdrantStats(deps))

		r.Get("/events", handleEvents(deps))
		r.Get("/state", handleGetState(deps))
		r.Patch("/state", handlePatchState(deps))

		r.Post("/import/v1", handleImportV1(deps))
		r.Post("/backup", handleBackup(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
