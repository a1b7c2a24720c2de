package api

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"

	"github.com/kcons/kc/internal/export"
	"github.com/kcons/kc/internal/migrate"
	"github.com/kcons/kc/internal/qdrant"
	"github.com/kcons/kc/internal/storage"
)

// maxImportBodySize bounds POST /import/v1; V1 snapshots carry file content.
const maxImportBodySize = 64 << 20

var contentTypes = map[export.Format]string{
	export.FormatJSON:     "application/json",
	export.FormatMarkdown: "text/markdown; charset=utf-8",
	export.FormatCSV:      "text/csv; charset=utf-8",
}

// handleExport runs an export. Document formats without an output path are
// streamed back as the response body; everything else returns the Result.
func handleExport(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req export.Request
		if !decodeBody(w, r, &req) {
			return
		}
		format, err := export.ParseFormat(string(req.Format))
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		req.Format = format

		res, err := deps.Exporter.Run(r.Context(), req)
		switch {
		case errors.Is(err, export.ErrInvalidRequest):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		case errors.Is(err, export.ErrNotConfigured):
			httpError(w, http.StatusServiceUnavailable, "api_error", "%v", err)
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "export failed: %v", err)
			return
		}

		if res.Data != nil {
			w.Header().Set("Content-Type", contentTypes[res.Format])
			w.Header().Set("X-Export-Id", res.ID)
			w.Write(res.Data)
			return
		}
		writeJSON(w, res)
	}
}

func handleExportHistory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h, err := deps.Exporter.History(parseIntParam(r, "limit", 20, 200))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read export history: %v", err)
			return
		}
		if h == nil {
			h = []storage.ExportEntry{}
		}
		writeJSON(w, h)
	}
}

// QdrantStats is the response of GET /qdrant/stats.
type QdrantStats struct {
	Collection qdrant.CollectionInfo `json:"collection"`
	Report     qdrant.Report         `json:"report"`
}

func handleQdrantStats(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Qdrant == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "qdrant is not configured")
			return
		}
		info, err := deps.Qdrant.CollectionInfo(r.Context())
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "qdrant: %v", err)
			return
		}
		points, err := deps.Qdrant.ScrollAll(r.Context(), 256, parseIntParam(r, "limit", 0, 0))
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "qdrant: %v", err)
			return
		}
		writeJSON(w, QdrantStats{Collection: info, Report: qdrant.Analyze(points)})
	}
}

func handleImportV1(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportBodySize))
		if err != nil {
			httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "reading snapshot: %v", err)
			return
		}
		rep, err := deps.Importer.Import(body)
		switch {
		case errors.Is(err, migrate.ErrInvalidSnapshot):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "import failed: %v", err)
			return
		}
		writeJSON(w, rep)
	}
}

// BackupRequest is the body of POST /backup.
type BackupRequest struct {
	Path string `json:"path"`
}

// handleBackup copies the database to an absolute path on the daemon host.
func handleBackup(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BackupRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Path == "" || !filepath.IsAbs(req.Path) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "path must be absolute")
			return
		}
		if err := deps.Store.Backup(r.Context(), req.Path); err != nil {
			storeError(w, "backup", err)
			return
		}
		writeJSON(w, map[string]string{"status": "ok", "path": req.Path})
	}
}
