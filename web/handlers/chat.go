package handlers

import (
	"net/http"
)

// GetContext handles GET /api/context - returns the memory context block
// that the next chat turn would append to the system prompt.
func (h *APIHandlers) GetContext(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, ContextResponse{
		Context: h.engine.RenderContext(r.Context(), scope(r)),
	})
}

// Chat handles POST /api/chat - runs one chat turn. An empty or unknown
// session_id starts a new session; the response names the session used.
func (h *APIHandlers) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}

	result, err := h.engine.SendMessage(r.Context(), scope(r), req.SessionID, req.Message)
	if err != nil {
		respondEngineError(w, "message failed to send", err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}
