// Package server_test exercises the assembled HTTP handler end to end.
package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/chatmem/internal/config"
	"github.com/scrypster/chatmem/internal/engine"
	"github.com/scrypster/chatmem/internal/llm"
	"github.com/scrypster/chatmem/internal/server"
	"github.com/scrypster/chatmem/web/handlers"
)

func testConfig(mode string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Host: "127.0.0.1",
			Port: 0, // Request random port
		},
		Security: config.SecurityConfig{
			SecurityMode: mode,
			APIToken:     "secret-token",
		},
		Engine: config.EngineConfig{
			ChatTimeout: 5 * time.Second,
		},
	}
}

func newTestEngine(t *testing.T) (*engine.Engine, *llm.StubGenerator) {
	t.Helper()

	cfg := engine.DefaultConfig()
	cfg.NumWorkers = 1
	chat := llm.NewStubGenerator()
	eng, err := engine.NewEngine(cfg, chat, llm.NewStubGenerator())
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(func() { _ = eng.Shutdown(context.Background()) })
	return eng, chat
}

// startTestServer serves the full handler with httptest and returns its URL.
func startTestServer(t *testing.T, cfg *config.Config) (string, *engine.Engine, *llm.StubGenerator) {
	t.Helper()

	eng, chat := newTestEngine(t)
	hub := handlers.NewWebSocketHub()
	go hub.Run()
	t.Cleanup(hub.Stop)

	ts := httptest.NewServer(server.NewHandler(cfg, eng, hub, server.Options{
		Breakers: map[string]*llm.CircuitBreaker{"chat": chat.Breaker()},
	}))
	t.Cleanup(ts.Close)

	return ts.URL, eng, chat
}

func doJSON(t *testing.T, method, url, identity string, body interface{}) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if identity != "" {
		req.Header.Set(handlers.IdentityHeader, identity)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// TestServer_StartsOnRandomPort verifies that Start listens on a random port
// and shuts down with its context.
func TestServer_StartsOnRandomPort(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr, hub, err := server.Start(ctx, testConfig("development"), eng, server.Options{})
	require.NoError(t, err)
	require.NotNil(t, hub)

	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", host)
	assert.NotEqual(t, "0", port)

	resp, err := http.Get("http://" + addr + "/api/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_StartFailsOnBusyPort(t *testing.T) {
	eng, _ := newTestEngine(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := testConfig("development")
	cfg.Server.Port = ln.Addr().(*net.TCPAddr).Port

	_, _, err = server.Start(context.Background(), cfg, eng, server.Options{})
	assert.Error(t, err)
}

func TestServer_HealthEndpoint(t *testing.T) {
	baseURL, _, _ := startTestServer(t, testConfig("production"))

	resp := doJSON(t, "GET", baseURL+"/api/health", "", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	var health handlers.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "closed", health.Breakers["chat"].State)
}

func TestServer_RequiresTokenInProduction(t *testing.T) {
	baseURL, _, _ := startTestServer(t, testConfig("production"))

	resp := doJSON(t, "GET", baseURL+"/api/sessions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest("GET", baseURL+"/api/sessions", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	authed, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer authed.Body.Close()
	assert.Equal(t, http.StatusOK, authed.StatusCode)
}

func TestServer_MethodNotAllowed(t *testing.T) {
	baseURL, _, _ := startTestServer(t, testConfig("development"))

	resp := doJSON(t, "PATCH", baseURL+"/api/sessions", "", nil)

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

// TestServer_GuestChatFlow walks a new visitor through a chat turn and
// checks that the identity header is stable across requests.
func TestServer_GuestChatFlow(t *testing.T) {
	baseURL, _, chat := startTestServer(t, testConfig("development"))
	chat.QueueResponse("Nice to meet you, Ada.")

	resp := doJSON(t, "POST", baseURL+"/api/identity", "", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	identity := resp.Header.Get(handlers.IdentityHeader)
	require.NotEmpty(t, identity)

	resp = doJSON(t, "POST", baseURL+"/api/chat", identity, handlers.ChatRequest{Message: "Hi, I'm Ada"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, identity, resp.Header.Get(handlers.IdentityHeader))

	var turn engine.ChatTurnResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&turn))
	assert.Equal(t, "Nice to meet you, Ada.", turn.Reply.Content)
	assert.Equal(t, "Hi, I'm Ada", turn.Title)

	resp = doJSON(t, "GET", baseURL+"/api/sessions/"+turn.SessionID, identity, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Another identity cannot see the session.
	resp = doJSON(t, "GET", baseURL+"/api/sessions/"+turn.SessionID, "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.NotEqual(t, identity, resp.Header.Get(handlers.IdentityHeader))
}

func TestServer_MemoryRoutes(t *testing.T) {
	baseURL, _, _ := startTestServer(t, testConfig("development"))

	resp := doJSON(t, "POST", baseURL+"/api/memories", "", handlers.MemoryRequest{Content: "Likes tea"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	identity := resp.Header.Get(handlers.IdentityHeader)

	resp = doJSON(t, "GET", baseURL+"/api/context", identity, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ctxResp handlers.ContextResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ctxResp))
	assert.True(t, strings.HasPrefix(ctxResp.Context, engine.ContextHeader))
	assert.Contains(t, ctxResp.Context, "- Likes tea")

	resp = doJSON(t, "POST", baseURL+"/api/admin/reset", identity, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, "GET", baseURL+"/api/memories", identity, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var memories []json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&memories))
	assert.Empty(t, memories)
}
