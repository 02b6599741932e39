// Package api exposes the memory service over HTTP and MCP. Handlers do
// input validation and status mapping only; all domain behavior lives in
// the analyzer, ranker, and store.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/memobank/memobank/internal/analyzer"
	"github.com/memobank/memobank/internal/search"
	"github.com/memobank/memobank/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

const defaultSearchLimit = 50

type Deps struct {
	Store    storage.Store
	Analyzer *analyzer.Analyzer
	Ranker   *search.Ranker
	Token    string // optional; empty disables bearer auth
}

// NewHandler builds the HTTP router. /health is always open; everything
// else sits behind bearer auth when a token is configured.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(requestLog)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}

		r.Get("/categories", handleListCategories(deps))
		r.Post("/categories", handleCreateCategory(deps))

		r.Get("/memories", handleListMemories(deps))
		r.Get("/memories/{id}", handleGetMemory(deps))
		r.Post("/memories", handleCreateMemory(deps))
		r.Patch("/memories/{id}", handleUpdateMemory(deps))
		r.Delete("/memories/{id}", handleDeleteMemory(deps))
		r.Post("/memories/search", handleSearchMemories(deps))

		r.Post("/chat/analyze", handleChatAnalyze(deps))
	})

	return r
}

func handleListCategories(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		categories, err := deps.Store.ListCategories()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list categories")
			return
		}
		if categories == nil {
			categories = []storage.Category{}
		}
		writeJSON(w, http.StatusOK, categories)
	}
}

type createCategoryRequest struct {
	Name  string `json:"name"`
	Icon  string `json:"icon"`
	Color string `json:"color"`
}

func handleCreateCategory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createCategoryRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Name == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name is required")
			return
		}

		category, err := deps.Store.CreateCategory(req.Name, req.Icon, req.Color)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create category")
			return
		}
		writeJSON(w, http.StatusCreated, category)
	}
}

func handleListMemories(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			memories []storage.Memory
			err      error
		)
		if raw := r.URL.Query().Get("categoryId"); raw != "" {
			categoryID, parseErr := strconv.ParseInt(raw, 10, 64)
			if parseErr != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid categoryId: %q", raw)
				return
			}
			memories, err = deps.Store.ListMemoriesByCategory(categoryID)
		} else {
			memories, err = deps.Store.ListMemories()
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list memories")
			return
		}
		if memories == nil {
			memories = []storage.Memory{}
		}
		writeJSON(w, http.StatusOK, memories)
	}
}

func handleGetMemory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := memoryID(w, r)
		if !ok {
			return
		}
		memory, err := deps.Store.GetMemory(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "memory not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get memory")
			return
		}
		writeJSON(w, http.StatusOK, memory)
	}
}

type createMemoryRequest struct {
	Content        string         `json:"content"`
	Title          string         `json:"title"`
	CategoryID     *int64         `json:"categoryId"`
	Tags           []string       `json:"tags"`
	Keywords       []string       `json:"keywords"`
	StructuredData map[string]any `json:"structuredData"`
	AIScore        int            `json:"aiScore"`
}

func handleCreateMemory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createMemoryRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Content == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
			return
		}
		if req.Title == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "title is required")
			return
		}

		memory, err := deps.Store.CreateMemory(storage.NewMemory{
			Content:        req.Content,
			Title:          req.Title,
			CategoryID:     req.CategoryID,
			Tags:           req.Tags,
			Keywords:       req.Keywords,
			StructuredData: req.StructuredData,
			AIScore:        req.AIScore,
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create memory")
			return
		}
		writeJSON(w, http.StatusCreated, memory)
	}
}

// updateMemoryRequest distinguishes absent fields (left untouched) from
// explicit ones. categoryId is raw so that an explicit null clears the
// category while absence leaves it alone.
type updateMemoryRequest struct {
	Content        *string         `json:"content"`
	Title          *string         `json:"title"`
	CategoryID     json.RawMessage `json:"categoryId"`
	Tags           *[]string       `json:"tags"`
	Keywords       *[]string       `json:"keywords"`
	StructuredData *map[string]any `json:"structuredData"`
	AIScore        *int            `json:"aiScore"`
}

func handleUpdateMemory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := memoryID(w, r)
		if !ok {
			return
		}

		var req updateMemoryRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Content != nil && *req.Content == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content cannot be empty")
			return
		}
		if req.Title != nil && *req.Title == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "title cannot be empty")
			return
		}

		patch := storage.MemoryPatch{
			Content:        req.Content,
			Title:          req.Title,
			Tags:           req.Tags,
			Keywords:       req.Keywords,
			StructuredData: req.StructuredData,
			AIScore:        req.AIScore,
		}
		if len(req.CategoryID) > 0 {
			if string(req.CategoryID) == "null" {
				patch.ClearCategory = true
			} else {
				var categoryID int64
				if err := json.Unmarshal(req.CategoryID, &categoryID); err != nil {
					httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid categoryId")
					return
				}
				patch.CategoryID = &categoryID
			}
		}

		memory, err := deps.Store.UpdateMemory(id, patch)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "memory not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update memory")
			return
		}
		writeJSON(w, http.StatusOK, memory)
	}
}

func handleDeleteMemory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := memoryID(w, r)
		if !ok {
			return
		}
		err := deps.Store.DeleteMemory(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "memory not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete memory")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type searchRequest struct {
	Query      string `json:"query"`
	CategoryID *int64 `json:"categoryId"`
	Limit      int    `json:"limit"`
}

func handleSearchMemories(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
			return
		}
		if req.Limit <= 0 {
			req.Limit = defaultSearchLimit
		}

		var (
			candidates []storage.Memory
			err        error
		)
		if req.CategoryID != nil {
			candidates, err = deps.Store.ListMemoriesByCategory(*req.CategoryID)
		} else {
			candidates, err = deps.Store.ListMemories()
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list memories")
			return
		}

		ranked := deps.Ranker.Rank(r.Context(), req.Query, candidates)
		if len(ranked) > req.Limit {
			ranked = ranked[:req.Limit]
		}
		writeJSON(w, http.StatusOK, ranked)
	}
}

type chatAnalyzeRequest struct {
	Content string `json:"content"`
}

// chatAnalyzeResponse bundles all three artifacts of one analysis so the
// caller never sees partial state.
type chatAnalyzeResponse struct {
	Memory   storage.Memory   `json:"memory"`
	Analysis analyzer.Result  `json:"analysis"`
	Category storage.Category `json:"category"`
}

func handleChatAnalyze(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chatAnalyzeRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Content == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
			return
		}

		// Oracle failures are absorbed inside the analyzer; an error here
		// is a storage fault.
		memory, analysis, category, err := deps.Analyzer.AnalyzeAndStore(r.Context(), req.Content)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to analyze content")
			return
		}
		writeJSON(w, http.StatusOK, chatAnalyzeResponse{
			Memory:   memory,
			Analysis: analysis,
			Category: category,
		})
	}
}

func memoryID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid memory id: %q", raw)
		return 0, false
	}
	return id, true
}

// decodeBody decodes a JSON request body, writing a 400 and returning
// false on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
