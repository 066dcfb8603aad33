package handlers

import (
	"fmt"
	"log"
	"net/http"

	"github.com/scrypster/chatmem/internal/transcript"
	"github.com/scrypster/chatmem/pkg/types"
)

// ListSessions handles GET /api/sessions - lists the caller's sessions,
// most recently updated first.
func (h *APIHandlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.engine.ListSessions(r.Context(), scope(r))
	if err != nil {
		respondEngineError(w, "failed to list sessions", err)
		return
	}
	respondJSON(w, http.StatusOK, sessions)
}

// CreateSession handles POST /api/sessions - creates an empty session.
func (h *APIHandlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.engine.CreateSession(r.Context(), scope(r))
	if err != nil {
		respondEngineError(w, "failed to create session", err)
		return
	}
	respondJSON(w, http.StatusCreated, sess)
}

// GetSession handles GET /api/sessions/{id}.
func (h *APIHandlers) GetSession(w http.ResponseWriter, r *http.Request) {
	id := extractID(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "session ID is required", nil)
		return
	}

	sess, err := h.engine.GetSession(r.Context(), scope(r), id)
	if err != nil {
		respondEngineError(w, "failed to get session", err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

// DeleteSession handles DELETE /api/sessions/{id}.
func (h *APIHandlers) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := extractID(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "session ID is required", nil)
		return
	}

	if err := h.engine.DeleteSession(r.Context(), scope(r), id); err != nil {
		respondEngineError(w, "failed to delete session", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AppendMessage handles POST /api/sessions/{id}/messages - appends one
// message without asking for a reply.
func (h *APIHandlers) AppendMessage(w http.ResponseWriter, r *http.Request) {
	id := extractID(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "session ID is required", nil)
		return
	}

	var req AppendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}

	msg, err := h.engine.AppendMessage(r.Context(), scope(r), id, types.MessageInput{
		Role:    types.Role(req.Role),
		Content: req.Content,
	})
	if err != nil {
		respondEngineError(w, "failed to append message", err)
		return
	}
	respondJSON(w, http.StatusCreated, msg)
}

// MergeSession handles POST /api/sessions/{id}/merge - merges a guest
// transcript into the session, creating it when missing.
func (h *APIHandlers) MergeSession(w http.ResponseWriter, r *http.Request) {
	id := extractID(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "session ID is required", nil)
		return
	}

	var req MergeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}

	result, err := h.engine.MergeTranscript(r.Context(), scope(r), id, req.Messages)
	if err != nil {
		respondEngineError(w, "failed to merge transcript", err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// ExportSession handles GET /api/sessions/{id}/export?format= - writes the
// session as json, jsonl, yaml or markdown.
func (h *APIHandlers) ExportSession(w http.ResponseWriter, r *http.Request) {
	id := extractID(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "session ID is required", nil)
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	exporter, err := transcript.NewExporter(format)
	if err != nil {
		respondError(w, http.StatusBadRequest, "unsupported export format", err)
		return
	}

	sess, err := h.engine.GetSession(r.Context(), scope(r), id)
	if err != nil {
		respondEngineError(w, "failed to get session", err)
		return
	}

	w.Header().Set("Content-Type", contentTypeFor(exporter.Extension()))
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="session-%s.%s"`, sess.ID, exporter.Extension()))
	if err := exporter.Export(sess, w); err != nil {
		// Headers are already sent.
		log.Printf("ERROR: Export of session %s failed: %v", sess.ID, err)
	}
}

func contentTypeFor(ext string) string {
	switch ext {
	case "json":
		return "application/json"
	case "jsonl":
		return "application/x-ndjson"
	case "yaml":
		return "application/yaml"
	default:
		return "text/markdown; charset=utf-8"
	}
}
