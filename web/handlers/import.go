package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/scrypster/chatmem/internal/transcript"
)

// maxImportBytes bounds an uploaded transcript file.
const maxImportBytes = 8 << 20

// PostImport handles POST /api/import - merges an uploaded transcript file
// into a session of the caller.
//
// The file is sent either as multipart form field "file" or as the raw
// body. The format comes from ?format=, then the uploaded file name, and
// defaults to json. The target is ?session_id=, then the session_id inside
// the file; one of them is required.
func (h *APIHandlers) PostImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)

	var (
		body   io.Reader = r.Body
		format           = r.URL.Query().Get("format")
	)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, header, err := r.FormFile("file")
		if err != nil {
			respondError(w, http.StatusBadRequest, "file field is required", err)
			return
		}
		defer file.Close()
		body = file
		if format == "" {
			format = transcript.FormatFromPath(header.Filename)
		}
	}
	if format == "" {
		format = "json"
	}

	t, err := transcript.Decode(body, format)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse transcript", err)
		return
	}

	target := r.URL.Query().Get("session_id")
	if target == "" {
		target = t.SessionID
	}
	if target == "" {
		respondError(w, http.StatusBadRequest, "session_id is required", nil)
		return
	}

	result, err := h.engine.MergeTranscript(r.Context(), scope(r), target, t.Messages)
	if err != nil {
		respondEngineError(w, fmt.Sprintf("failed to import transcript into %s", target), err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}
