package handlers

import (
	"context"
	"log"
	"net/http"

	"github.com/google/uuid"

	"github.com/scrypster/chatmem/pkg/types"
)

// IdentityHeader carries the caller's identity ID in both directions.
const IdentityHeader = "X-Identity-ID"

type identityKey struct{}

// IdentityFromContext returns the identity resolved by IdentityMiddleware.
func IdentityFromContext(ctx context.Context) (*types.Identity, bool) {
	ident, ok := ctx.Value(identityKey{}).(*types.Identity)
	return ident, ok
}

// IdentityMiddleware resolves the caller's identity from the X-Identity-ID
// header. A missing or unknown ID gets a fresh guest. The resolved ID is
// echoed in the response header so the client can keep using it.
func (h *APIHandlers) IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ident, issued := h.engine.ResolveIdentity(r.Header.Get(IdentityHeader))
		if issued {
			log.Printf("Issued guest identity %s", ident.ID)
		}
		w.Header().Set(IdentityHeader, ident.ID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, ident)))
	})
}

// scope returns the identity scope of the request. The middleware always
// sets it; the fallback only guards against routes registered without it.
func scope(r *http.Request) string {
	if ident, ok := IdentityFromContext(r.Context()); ok {
		return ident.ID
	}
	return ""
}

// GetIdentity handles GET /api/identity - returns the caller's identity.
func (h *APIHandlers) GetIdentity(w http.ResponseWriter, r *http.Request) {
	ident, ok := IdentityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusInternalServerError, "identity not resolved", nil)
		return
	}
	respondJSON(w, http.StatusOK, ident)
}

// NewIdentity handles POST /api/identity - issues a fresh guest identity
// regardless of the request header.
func (h *APIHandlers) NewIdentity(w http.ResponseWriter, r *http.Request) {
	ident := h.engine.NewGuest()
	w.Header().Set(IdentityHeader, ident.ID)
	respondJSON(w, http.StatusCreated, ident)
}

// Login handles POST /api/identity/login - upgrades the caller's guest
// identity and optionally merges the transcript it kept while logged out.
func (h *APIHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}

	ident, err := h.engine.Login(r.Context(), scope(r), req.Email)
	if err != nil {
		respondEngineError(w, "failed to log in", err)
		return
	}

	resp := LoginResponse{Identity: ident}
	if len(req.Transcript) > 0 {
		target := req.SessionID
		if target == "" {
			target = uuid.New().String()
		}
		result, err := h.engine.MergeTranscript(r.Context(), ident.ID, target, req.Transcript)
		if err != nil {
			// The upgrade stands; the client may retry the merge alone.
			log.Printf("WARNING: Transcript merge after login failed for %s: %v", ident.ID, err)
			respondError(w, statusFor(err), "logged in, but the transcript could not be merged", err)
			return
		}
		resp.Merge = result
	}

	respondJSON(w, http.StatusOK, resp)
}

// Logout handles POST /api/identity/logout - clears the caller's sessions
// and memories and issues a new guest identity.
func (h *APIHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	ident, err := h.engine.Logout(r.Context(), scope(r))
	if err != nil {
		respondEngineError(w, "failed to log out", err)
		return
	}
	w.Header().Set(IdentityHeader, ident.ID)
	respondJSON(w, http.StatusOK, ident)
}

