package handlers

import (
	"net/http"
	"strings"

	"github.com/scrypster/chatmem/internal/engine"
)

// ListMemories handles GET /api/memories - lists the caller's memories,
// most recently updated first. With ?q= it ranks them against the query
// instead; limit and min_score tune the search.
func (h *APIHandlers) ListMemories(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query != "" {
		h.searchMemories(w, r, query)
		return
	}

	memories, err := h.engine.ListMemories(r.Context(), scope(r))
	if err != nil {
		respondEngineError(w, "failed to list memories", err)
		return
	}
	respondJSON(w, http.StatusOK, memories)
}

func (h *APIHandlers) searchMemories(w http.ResponseWriter, r *http.Request, query string) {
	opts := engine.SearchOptions{
		Query:    query,
		Limit:    parseInt(r.URL.Query().Get("limit"), 10),
		MinScore: parseFloat(r.URL.Query().Get("min_score"), 0),
	}

	results, err := h.engine.SearchMemories(r.Context(), scope(r), opts)
	if err != nil {
		respondEngineError(w, "failed to search memories", err)
		return
	}

	respondJSON(w, http.StatusOK, SearchResponse{
		Results: results,
		Total:   len(results),
		Query:   query,
	})
}

// CreateMemory handles POST /api/memories - adds a memory by hand.
func (h *APIHandlers) CreateMemory(w http.ResponseWriter, r *http.Request) {
	var req MemoryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}

	m, err := h.engine.AddMemory(r.Context(), scope(r), req.Content)
	if err != nil {
		respondEngineError(w, "failed to create memory", err)
		return
	}
	respondJSON(w, http.StatusCreated, m)
}

// UpdateMemory handles PUT /api/memories/{id} - replaces a memory's content.
func (h *APIHandlers) UpdateMemory(w http.ResponseWriter, r *http.Request) {
	id := extractID(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "memory ID is required", nil)
		return
	}

	var req MemoryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}

	m, err := h.engine.UpdateMemory(r.Context(), scope(r), id, req.Content)
	if err != nil {
		respondEngineError(w, "failed to update memory", err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

// DeleteMemory handles DELETE /api/memories/{id}.
func (h *APIHandlers) DeleteMemory(w http.ResponseWriter, r *http.Request) {
	id := extractID(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "memory ID is required", nil)
		return
	}

	if err := h.engine.DeleteMemory(r.Context(), scope(r), id); err != nil {
		respondEngineError(w, "failed to delete memory", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ProcessMessage handles POST /api/memories/process - submits a user
// message for memory extraction. By default the job is queued and the
// response only says whether it was accepted; with "sync": true the
// extraction runs inline and its result is returned.
func (h *APIHandlers) ProcessMessage(w http.ResponseWriter, r *http.Request) {
	var req ProcessRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, "message is required", nil)
		return
	}

	if req.Sync {
		result := h.engine.ProcessMessageSync(r.Context(), scope(r), req.Message)
		respondJSON(w, http.StatusOK, ProcessResponse{Queued: false, Result: result})
		return
	}

	queued := h.engine.ProcessMessage(scope(r), req.Message)
	respondJSON(w, http.StatusAccepted, ProcessResponse{Queued: queued})
}
