package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kcons/kc/internal/categories"
	"github.com/kcons/kc/internal/storage"
)

type categoryRequest struct {
	Name  string `json:"name"`
	Color string `json:"color"`
	Icon  string `json:"icon"`
}

func handleListCategories(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cats, err := deps.Categories.List()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list categories: %v", err)
			return
		}
		if cats == nil {
			cats = []storage.Category{}
		}
		writeJSON(w, cats)
	}
}

func handleCreateCategory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req categoryRequest
		if !decodeBody(w, r, &req) {
			return
		}
		c, err := deps.Categories.Create(req.Name, req.Color, req.Icon)
		if err != nil {
			storeError(w, "category", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(c)
	}
}

func handleUpdateCategory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var u categories.Update
		if !decodeBody(w, r, &u) {
			return
		}
		c, err := deps.Categories.Update(chi.URLParam(r, "id"), u)
		if err != nil {
			storeError(w, "category", err)
			return
		}
		writeJSON(w, c)
	}
}

func handleDeleteCategory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Categories.Delete(chi.URLParam(r, "id")); err != nil {
			storeError(w, "category", err)
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}

func handleBulkAssign(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			FileIDs []string `json:"fileIds"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if len(req.FileIDs) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "fileIds is required")
			return
		}
		n, err := deps.Categories.BulkAssign(req.FileIDs, chi.URLParam(r, "id"))
		if n == 0 && err != nil {
			storeError(w, "category", err)
			return
		}
		resp := map[string]any{"assigned": n}
		if err != nil {
			resp["error"] = err.Error()
		}
		writeJSON(w, resp)
	}
}
