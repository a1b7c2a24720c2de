package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kcons/kc/internal/eventbus"
	"github.com/kcons/kc/internal/filter"
	"github.com/kcons/kc/internal/relevance"
	"github.com/kcons/kc/internal/retrieval"
	"github.com/kcons/kc/internal/stats"
	"github.com/kcons/kc/internal/storage"
)

// FilterRequest is the body of POST /filter. Preset, when set, is loaded
// first and Criteria is ignored.
type FilterRequest struct {
	Preset   string          `json:"preset,omitempty"`
	Criteria filter.Criteria `json:"criteria"`
	Limit    int             `json:"limit,omitempty"`
}

func handleFilter(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req FilterRequest
		if !decodeBody(w, r, &req) {
			return
		}
		c := req.Criteria
		if req.Preset != "" {
			p, err := deps.Filters.Preset(req.Preset)
			if err != nil {
				storeError(w, "preset", err)
				return
			}
			c = p.Criteria
		}
		files, err := deps.Store.ListFiles(storage.ListOptions{})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list files: %v", err)
			return
		}
		res, err := deps.Filters.Apply(files, c)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if req.Limit > 0 && len(res.Files) > req.Limit {
			res.Files = res.Files[:req.Limit]
		}
		if res.Files == nil {
			res.Files = []storage.FileRecord{}
		}
		writeJSON(w, res)
	}
}

func handleListPresets(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		presets, err := deps.Filters.Presets()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list presets: %v", err)
			return
		}
		if presets == nil {
			presets = []filter.Preset{}
		}
		writeJSON(w, presets)
	}
}

func handleSavePreset(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req filter.Preset
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Name == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name is required")
			return
		}
		p, err := deps.Filters.SavePreset(req.Name, req.Criteria)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		writeJSON(w, p)
	}
}

func handleDeletePreset(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Filters.DeletePreset(chi.URLParam(r, "name")); err != nil {
			storeError(w, "preset", err)
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}

// StatsResponse is the response of GET /stats.
type StatsResponse struct {
	stats.Stats
	Jobs    map[string]int `json:"jobs"`
	DBBytes int64          `json:"dbBytes"`
}

func handleStats(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		files, err := deps.Store.ListFiles(storage.ListOptions{})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list files: %v", err)
			return
		}
		jobs, err := deps.Store.JobCounts()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to count jobs: %v", err)
			return
		}
		size, err := deps.Store.Size(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to size database: %v", err)
			return
		}
		writeJSON(w, StatsResponse{Stats: stats.Compute(files), Jobs: jobs, DBBytes: size})
	}
}

func handleConvergence(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req relevance.Request
		if !decodeBody(w, r, &req) {
			return
		}
		rep, err := deps.Convergence.Run(r.Context(), req)
		if errors.Is(err, relevance.ErrInvalidThreshold) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "convergence failed: %v", err)
			return
		}
		writeJSON(w, rep)
	}
}

func handleSearch(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Searcher == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "semantic search is not available")
			return
		}
		q := r.URL.Query().Get("q")
		if q == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "q is required")
			return
		}
		hits, err := deps.Searcher.Search(r.Context(), q, parseIntParam(r, "k", 5, 50))
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "search failed: %v", err)
			return
		}
		if hits == nil {
			hits = []retrieval.Hit{}
		}
		writeJSON(w, hits)
	}
}

func handleEvents(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records := deps.Bus.History(r.URL.Query().Get("name"))
		if limit := parseIntParam(r, "limit", 0, 0); limit > 0 && len(records) > limit {
			records = records[len(records)-limit:]
		}
		if records == nil {
			records = []eventbus.Record{}
		}
		writeJSON(w, records)
	}
}

// StateResponse is the response of GET /state.
type StateResponse struct {
	State map[string]any  `json:"state"`
	Flags map[string]bool `json:"flags"`
}

// StatePatch is the body of PATCH /state.
type StatePatch struct {
	Set    map[string]any  `json:"set,omitempty"`
	Delete []string        `json:"delete,omitempty"`
	Flags  map[string]bool `json:"flags,omitempty"`
}

func handleGetState(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, StateResponse{State: deps.State.Snapshot(), Flags: deps.State.Flags()})
	}
}

func handlePatchState(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var patch StatePatch
		if !decodeBody(w, r, &patch) {
			return
		}
		for path, v := range patch.Set {
			if err := deps.State.Set(path, v); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%s: %v", path, err)
				return
			}
		}
		for _, path := range patch.Delete {
			deps.State.Delete(path)
		}
		for name, on := range patch.Flags {
			deps.State.SetFlag(name, on)
		}
		if err := deps.State.Persist(); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to persist state: %v", err)
			return
		}
		writeJSON(w, StateResponse{State: deps.State.Snapshot(), Flags: deps.State.Flags()})
	}
}
