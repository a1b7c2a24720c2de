package api

import (
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kcons/kc/internal/discovery"
	"github.com/kcons/kc/internal/ingest"
	"github.com/kcons/kc/internal/storage"
)

// DiscoverRequest is the body of POST /discover. Unset fields fall back to
// the configured discovery defaults.
type DiscoverRequest struct {
	Root       string   `json:"root"`
	Extensions []string `json:"extensions,omitempty"`
	Include    []string `json:"include,omitempty"`
	Exclude    []string `json:"exclude,omitempty"`
	MinSize    int64    `json:"minSize,omitempty"`
	MaxSize    int64    `json:"maxSize,omitempty"`
	TimeRange  string   `json:"timeRange,omitempty"`
	MaxDepth   int      `json:"maxDepth,omitempty"`
	Analyze    bool     `json:"analyze,omitempty"`
	Template   string   `json:"template,omitempty"`
}

// Options merges the request onto defaults.
func (req DiscoverRequest) Options(defaults discovery.Options) (discovery.Options, error) {
	opts := defaults
	if len(req.Extensions) > 0 {
		opts.Extensions = discovery.NormalizeExtensions(req.Extensions)
	}
	if len(req.Include) > 0 {
		opts.Include = req.Include
	}
	if len(req.Exclude) > 0 {
		opts.Exclude = req.Exclude
	}
	if req.MinSize > 0 {
		opts.MinSize = req.MinSize
	}
	if req.MaxSize > 0 {
		opts.MaxSize = req.MaxSize
	}
	if req.MaxDepth > 0 {
		opts.MaxDepth = req.MaxDepth
	}
	if req.TimeRange != "" {
		d, err := discovery.ParseTimeWindow(req.TimeRange)
		if err != nil {
			return opts, err
		}
		opts.MaxAge = d
	}
	return opts, nil
}

func handleDiscover(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req DiscoverRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Root == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "root is required")
			return
		}
		opts, err := req.Options(deps.Discovery)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		sum, err := deps.Pipeline.Discover(r.Context(), ingest.DiscoverRequest{
			Root:     req.Root,
			Options:  opts,
			Analyze:  req.Analyze,
			Template: req.Template,
		})
		if errors.Is(err, os.ErrNotExist) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "discovery failed: %v", err)
			return
		}
		writeJSON(w, sum)
	}
}

// FileList is the response of GET /files.
type FileList struct {
	Files []storage.FileRecord `json:"files"`
	Total int                  `json:"total"`
}

func handleListFiles(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 50, 1000)
		offset := parseIntParam(r, "offset", 0, 0)

		files, err := deps.Store.ListFiles(storage.ListOptions{Limit: limit, Offset: offset})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list files: %v", err)
			return
		}
		total, err := deps.Store.CountFiles()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to count files: %v", err)
			return
		}
		if files == nil {
			files = []storage.FileRecord{}
		}
		writeJSON(w, FileList{Files: files, Total: total})
	}
}

func handleGetFile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := deps.Store.GetFile(chi.URLParam(r, "id"))
		if err != nil {
			storeError(w, "file", err)
			return
		}
		if r.URL.Query().Get("content") != "true" {
			f.Content = ""
		}
		writeJSON(w, f)
	}
}

type jobView struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"lastError,omitempty"`
	RunAfter  time.Time `json:"runAfter"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// handleFileJobs lists the analysis and embedding jobs queued for a file.
func handleFileJobs(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := deps.Store.GetFile(id); err != nil {
			storeError(w, "file", err)
			return
		}
		jobs, err := deps.Store.FileJobs(id)
		if err != nil {
			storeError(w, "jobs", err)
			return
		}
		out := make([]jobView, len(jobs))
		for i, j := range jobs {
			out[i] = jobView{
				ID: j.ID, Type: j.Type, Status: j.Status, Attempts: j.Attempts,
				LastError: j.LastError, RunAfter: j.RunAfter, UpdatedAt: j.UpdatedAt,
			}
		}
		writeJSON(w, out)
	}
}

func handleDeleteFile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Pipeline.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
			storeError(w, "file", err)
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}

type assignRequest struct {
	Category   string   `json:"category"`
	Categories []string `json:"categories"`
}

func handleAssignCategory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var req assignRequest
		if !decodeBody(w, r, &req) {
			return
		}
		names := req.Categories
		if req.Category != "" {
			names = append(names, req.Category)
		}
		if len(names) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "category is required")
			return
		}
		if _, err := deps.Store.GetFile(id); err != nil {
			storeError(w, "file", err)
			return
		}

		var current []string
		for _, name := range names {
			var err error
			current, err = deps.Categories.Assign(id, name)
			if err != nil {
				storeError(w, "category", err)
				return
			}
		}
		writeJSON(w, map[string][]string{"categories": current})
	}
}

func handleUnassignCategory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		current, err := deps.Categories.Unassign(chi.URLParam(r, "id"), chi.URLParam(r, "cat"))
		if err != nil {
			storeError(w, "category", err)
			return
		}
		writeJSON(w, map[string][]string{"categories": current})
	}
}
