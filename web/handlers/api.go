// Package handlers provides HTTP handlers and middleware for the chatmem API.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/scrypster/chatmem/internal/config"
	"github.com/scrypster/chatmem/internal/engine"
	"github.com/scrypster/chatmem/internal/identity"
	"github.com/scrypster/chatmem/internal/llm"
	"github.com/scrypster/chatmem/internal/storage"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// APIHandlers contains HTTP handlers for the REST API. Every handler except
// the identity bootstrap expects IdentityMiddleware to have resolved the
// caller's scope.
type APIHandlers struct {
	engine *engine.Engine
	config *config.Config
}

// NewAPIHandlers creates a new APIHandlers instance.
func NewAPIHandlers(eng *engine.Engine, cfg *config.Config) *APIHandlers {
	return &APIHandlers{
		engine: eng,
		config: cfg,
	}
}

// extractID extracts a path parameter from the request.
func extractID(r *http.Request, key string) string {
	return r.PathValue(key)
}

// parseInt parses an integer from a string, returning defaultValue if parsing fails.
func parseInt(s string, defaultValue int) int {
	if s == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return val
}

// parseFloat parses a float from a string, returning defaultValue if parsing fails.
func parseFloat(s string, defaultValue float64) float64 {
	if s == "" {
		return defaultValue
	}
	val, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return defaultValue
	}
	return val
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrInvalidInput, err)
	}
	return nil
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already sent.
		log.Printf("failed to encode JSON response: %v", err)
	}
}

// respondError writes an error response with the given status code.
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errResp := ErrorResponse{
		Error: message,
		Code:  http.StatusText(statusCode),
	}

	if err != nil {
		errResp.Details = map[string]interface{}{
			"error": err.Error(),
		}
	}

	respondJSON(w, statusCode, errResp)
}

// respondEngineError maps an engine error onto an HTTP status and writes it.
// A partial reset reports which half failed.
func respondEngineError(w http.ResponseWriter, message string, err error) {
	var resetErr *engine.ResetError
	if errors.As(err, &resetErr) {
		details := map[string]interface{}{"error": err.Error()}
		if resetErr.SessionsErr != nil {
			details["sessions_error"] = resetErr.SessionsErr.Error()
		}
		if resetErr.MemoriesErr != nil {
			details["memories_error"] = resetErr.MemoriesErr.Error()
		}
		respondJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   message,
			Code:    "PARTIAL_RESET",
			Details: details,
		})
		return
	}

	respondError(w, statusFor(err), message, err)
}

// statusFor returns the HTTP status of an engine error.
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrAlreadyExists), errors.Is(err, identity.ErrAlreadyEstablished):
		return http.StatusConflict
	case errors.Is(err, llm.ErrUpstream), errors.Is(err, engine.ErrSendFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
