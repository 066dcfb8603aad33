package handlers

import (
	"net/http"

	"github.com/scrypster/chatmem/internal/llm"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// BreakerStatus is the health of one reasoning-service client.
type BreakerStatus struct {
	State   string                    `json:"state"`
	Metrics llm.CircuitBreakerMetrics `json:"metrics"`
}

// HealthResponse is the response format for GET /api/health.
type HealthResponse struct {
	Status   string                   `json:"status"`
	Version  string                   `json:"version"`
	Breakers map[string]BreakerStatus `json:"breakers,omitempty"`
}

// HealthHandler reports liveness and the circuit breaker state of each
// reasoning-service client.
type HealthHandler struct {
	breakers map[string]*llm.CircuitBreaker
}

// NewHealthHandler creates a handler for the named breakers. Nil breakers
// are ignored.
func NewHealthHandler(breakers map[string]*llm.CircuitBreaker) *HealthHandler {
	clean := make(map[string]*llm.CircuitBreaker, len(breakers))
	for name, cb := range breakers {
		if cb != nil {
			clean[name] = cb
		}
	}
	return &HealthHandler{breakers: clean}
}

// GetHealth handles GET /api/health. The status is "degraded" while any
// breaker is open; the endpoint still answers 200 because the store and
// the API keep working without the reasoning service.
func (h *HealthHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:   "healthy",
		Version:  Version,
		Breakers: make(map[string]BreakerStatus, len(h.breakers)),
	}

	for name, cb := range h.breakers {
		st := BreakerStatus{State: cb.State(), Metrics: cb.Metrics()}
		if st.State == "open" {
			resp.Status = "degraded"
		}
		resp.Breakers[name] = st
	}

	respondJSON(w, http.StatusOK, resp)
}
