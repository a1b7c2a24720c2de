package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/kcons/kc/internal/categories"
	"github.com/kcons/kc/internal/storage"
)

// maxRequestBodySize bounds ordinary JSON bodies.
const maxRequestBodySize = 1 << 20

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type errorEnvelope struct {
	Error errorDetail `json:"error"`
}

func respond(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeJSON(w http.ResponseWriter, v any) {
	respond(w, http.StatusOK, v)
}

// httpError writes {"error": {"message", "type"}}.
func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	respond(w, code, errorEnvelope{Error: errorDetail{Message: fmt.Sprintf(format, args...), Type: errType}})
}

var domainErrors = []struct {
	target error
	code   int
	typ    string
}{
	{storage.ErrNotFound, http.StatusNotFound, "not_found"},
	{storage.ErrConflict, http.StatusConflict, "conflict_error"},
	{categories.ErrDuplicate, http.StatusConflict, "conflict_error"},
	{categories.ErrEmptyName, http.StatusBadRequest, "invalid_request_error"},
}

// storeError maps domain errors onto status codes; anything unknown is a 500.
func storeError(w http.ResponseWriter, what string, err error) {
	for _, d := range domainErrors {
		if !errors.Is(err, d.target) {
			continue
		}
		if d.code == http.StatusNotFound {
			httpError(w, d.code, d.typ, "%s not found", what)
		} else {
			httpError(w, d.code, d.typ, "%v", err)
		}
		return
	}
	httpError(w, http.StatusInternalServerError, "api_error", "%s: %v", what, err)
}

// decodeBody reads a JSON body into v. An empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
	return false
}

// parseIntParam reads a non-negative query integer, clamped to limit when
// limit > 0. Missing or malformed values give def.
func parseIntParam(r *http.Request, key string, def, limit int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	switch {
	case err != nil || v < 0:
		return def
	case limit > 0:
		return min(v, limit)
	}
	return v
}
