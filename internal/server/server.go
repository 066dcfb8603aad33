// Package server provides HTTP server initialization and lifecycle management
// for the chatmem API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/scrypster/chatmem/internal/config"
	"github.com/scrypster/chatmem/internal/engine"
	"github.com/scrypster/chatmem/internal/llm"
	"github.com/scrypster/chatmem/web/handlers"
)

// Options carries the optional collaborators of the server.
type Options struct {
	// Breakers are reported by /api/health, keyed by client role.
	Breakers map[string]*llm.CircuitBreaker

	// AllowedOrigins are the host[:port] patterns accepted by /ws. When
	// empty, the configured listen address and its localhost alias are used.
	AllowedOrigins []string
}

// securityHeadersMiddleware adds security headers to all HTTP responses.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// NewHandler builds the full HTTP handler: the API routes behind auth and
// identity resolution, the unauthenticated health probe and the event
// stream, all wrapped in rate limiting and security headers.
func NewHandler(cfg *config.Config, eng *engine.Engine, hub *handlers.WebSocketHub, opts Options) http.Handler {
	api := handlers.NewAPIHandlers(eng, cfg)
	health := handlers.NewHealthHandler(opts.Breakers)

	apiMux := http.NewServeMux()

	// Identity
	apiMux.HandleFunc("GET /api/identity", api.GetIdentity)
	apiMux.HandleFunc("POST /api/identity/login", api.Login)
	apiMux.HandleFunc("POST /api/identity/logout", api.Logout)

	// Sessions
	apiMux.HandleFunc("GET /api/sessions", api.ListSessions)
	apiMux.HandleFunc("POST /api/sessions", api.CreateSession)
	apiMux.HandleFunc("GET /api/sessions/{id}", api.GetSession)
	apiMux.HandleFunc("DELETE /api/sessions/{id}", api.DeleteSession)
	apiMux.HandleFunc("POST /api/sessions/{id}/messages", api.AppendMessage)
	apiMux.HandleFunc("POST /api/sessions/{id}/merge", api.MergeSession)
	apiMux.HandleFunc("GET /api/sessions/{id}/export", api.ExportSession)
	apiMux.HandleFunc("POST /api/import", api.PostImport)

	// Memories
	apiMux.HandleFunc("GET /api/memories", api.ListMemories)
	apiMux.HandleFunc("POST /api/memories", api.CreateMemory)
	apiMux.HandleFunc("PUT /api/memories/{id}", api.UpdateMemory)
	apiMux.HandleFunc("DELETE /api/memories/{id}", api.DeleteMemory)
	apiMux.HandleFunc("POST /api/memories/process", api.ProcessMessage)

	// Chat
	apiMux.HandleFunc("GET /api/context", api.GetContext)
	apiMux.HandleFunc("POST /api/chat", api.Chat)
	apiMux.HandleFunc("GET /api/stats", api.GetStats)

	// Admin
	apiMux.HandleFunc("POST /api/admin/reset", api.Reset)
	apiMux.HandleFunc("POST /api/admin/clear-cache", api.ClearCache)
	apiMux.HandleFunc("GET /api/admin/system-prompt", api.GetSystemPrompt)
	apiMux.HandleFunc("PUT /api/admin/system-prompt", api.PutSystemPrompt)
	apiMux.HandleFunc("GET /api/admin/config", api.GetConfig)

	mux := http.NewServeMux()

	// Health is unauthenticated for monitoring.
	mux.HandleFunc("GET /api/health", health.GetHealth)

	// A fresh guest needs no prior identity, so it skips the middleware.
	mux.Handle("POST /api/identity", handlers.RequireAuth(http.HandlerFunc(api.NewIdentity), cfg))

	mux.Handle("/api/", handlers.RequireAuth(api.IdentityMiddleware(apiMux), cfg))

	// WebSocket endpoint (origin validation and identity scoping in the hub)
	mux.Handle("/ws", hub)

	rateLimiter := handlers.NewRateLimiter(cfg.Security.RateLimit, cfg.Security.RateBurst)
	handler := handlers.RateLimitMiddleware(mux, rateLimiter)
	return securityHeadersMiddleware(handler)
}

// Start initializes and starts the HTTP server.
// Returns the actual address being listened on (useful for testing with port 0)
// and the WebSocketHub, which already receives the engine's events.
// The server shuts down when ctx is cancelled.
func Start(ctx context.Context, cfg *config.Config, eng *engine.Engine, opts Options) (string, *handlers.WebSocketHub, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	actualAddr := listener.Addr().String()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		_, port, _ := net.SplitHostPort(actualAddr)
		origins = []string{actualAddr, "localhost:" + port, "127.0.0.1:" + port}
	}

	wsHub := handlers.NewWebSocketHub(origins...)
	go wsHub.Run()
	eng.SetOnEvent(wsHub.BroadcastEvent)

	server := &http.Server{
		Handler:      NewHandler(cfg, eng, wsHub, opts),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Engine.ChatTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Server error: %v", err)
		}
	}()

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		eng.SetOnEvent(nil)
		wsHub.Stop()
	}()

	log.Printf("Server listening on http://%s", actualAddr)
	return actualAddr, wsHub, nil
}
