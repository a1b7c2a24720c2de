package api

import (
	"net/http"

	"github.com/kcons/kc/internal/analysis"
	"github.com/kcons/kc/internal/storage"
)

// AnalyzeRequest is the body of POST /analyze. Without FileIDs every
// pending file is queued. Wait runs a single file synchronously and returns
// its analysis.
type AnalyzeRequest struct {
	FileIDs  []string `json:"fileIds,omitempty"`
	Template string   `json:"template,omitempty"`
	Wait     bool     `json:"wait,omitempty"`
}

func handleAnalyze(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AnalyzeRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if _, err := deps.Analysis.Prompts().Get(req.Template); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		if req.Wait {
			if len(req.FileIDs) != 1 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "wait requires exactly one file id")
				return
			}
			a, err := deps.Analysis.AnalyzeFile(r.Context(), req.FileIDs[0], req.Template)
			if err != nil {
				if _, getErr := deps.Store.GetFile(req.FileIDs[0]); getErr != nil {
					storeError(w, "file", getErr)
					return
				}
				httpError(w, http.StatusBadGateway, "api_error", "analysis failed: %v", err)
				return
			}
			writeJSON(w, a)
			return
		}

		ids := req.FileIDs
		if len(ids) == 0 {
			pending, err := pendingFiles(deps.Store)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to list files: %v", err)
				return
			}
			ids = pending
		}
		n, err := deps.Analysis.Enqueue(ids, req.Template)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to queue analysis: %v", err)
			return
		}
		writeJSON(w, map[string]any{"queued": n, "status": "queued"})
	}
}

func pendingFiles(store *storage.Store) ([]string, error) {
	files, err := store.ListFiles(storage.ListOptions{})
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, f := range files {
		if !f.Analyzed && f.ExtractError == "" {
			ids = append(ids, f.ID)
		}
	}
	return ids, nil
}

func handleTemplates(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list := deps.Analysis.Prompts().List()
		if list == nil {
			list = []analysis.Template{}
		}
		writeJSON(w, list)
	}
}
