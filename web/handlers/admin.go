package handlers

import (
	"log"
	"net/http"
)

// Reset handles POST /api/admin/reset - clears every session and memory of
// the caller. The identity itself is kept.
func (h *APIHandlers) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.ResetAll(r.Context(), scope(r)); err != nil {
		respondEngineError(w, "reset incomplete", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"message": "sessions and memories cleared",
	})
}

// ClearCache handles POST /api/admin/clear-cache - clears every scope.
func (h *APIHandlers) ClearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.ResetEverything(r.Context()); err != nil {
		respondEngineError(w, "reset incomplete", err)
		return
	}
	log.Printf("All scopes cleared through the admin API")
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"message": "all sessions and memories cleared",
	})
}

// GetSystemPrompt handles GET /api/admin/system-prompt.
func (h *APIHandlers) GetSystemPrompt(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, SystemPromptRequest{Prompt: h.engine.SystemPrompt()})
}

// PutSystemPrompt handles PUT /api/admin/system-prompt - replaces the base
// system prompt and persists it.
func (h *APIHandlers) PutSystemPrompt(w http.ResponseWriter, r *http.Request) {
	var req SystemPromptRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}

	if err := h.engine.SetSystemPrompt(req.Prompt); err != nil {
		respondEngineError(w, "failed to save system prompt", err)
		return
	}
	respondJSON(w, http.StatusOK, SystemPromptRequest{Prompt: h.engine.SystemPrompt()})
}

// GetConfig handles GET /api/admin/config - returns the running
// configuration with API keys masked.
func (h *APIHandlers) GetConfig(w http.ResponseWriter, r *http.Request) {
	if h.config == nil {
		respondError(w, http.StatusNotFound, "configuration not available", nil)
		return
	}
	respondJSON(w, http.StatusOK, ToConfigResponse(h.config))
}

// GetStats handles GET /api/stats - returns the caller's counts plus the
// engine-wide identity count and extraction queue depth.
func (h *APIHandlers) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sessions, err := h.engine.ListSessions(ctx, scope(r))
	if err != nil {
		respondEngineError(w, "failed to count sessions", err)
		return
	}
	memories, err := h.engine.ListMemories(ctx, scope(r))
	if err != nil {
		respondEngineError(w, "failed to count memories", err)
		return
	}

	messages := 0
	for _, s := range sessions {
		messages += len(s.Messages)
	}

	respondJSON(w, http.StatusOK, StatsResponse{
		Sessions:   len(sessions),
		Messages:   messages,
		Memories:   len(memories),
		Identities: len(h.engine.Identities()),
		QueueSize:  h.engine.GetQueueSize(),
	})
}
