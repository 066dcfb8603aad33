package handlers_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/scrypster/chatmem/internal/engine"
	"github.com/scrypster/chatmem/web/handlers"
)

func TestWebSocketHub_ValidatesOrigin(t *testing.T) {
	hub := handlers.NewWebSocketHub("localhost:6464")
	defer hub.Stop()

	req := httptest.NewRequest("GET", "/ws?identity=abc", nil)
	req.Header.Set("Origin", "http://evil.com")
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")

	w := httptest.NewRecorder()
	hub.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "Forbidden")
}

func TestWebSocketHub_RequiresIdentity(t *testing.T) {
	hub := handlers.NewWebSocketHub("localhost:6464")
	defer hub.Stop()

	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Origin", "http://localhost:6464")

	w := httptest.NewRecorder()
	hub.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebSocketHub_Broadcast(t *testing.T) {
	hub := handlers.NewWebSocketHub()
	go hub.Run()
	defer hub.Stop()

	received := make(chan []byte, 1)
	hub.Register(&handlers.MockClient{SendChan: received, Scope: "alice"})

	// Give the hub time to register the client
	time.Sleep(10 * time.Millisecond)

	hub.Broadcast(map[string]interface{}{
		"type": "test",
		"data": "hello",
	})

	select {
	case msg := <-received:
		assert.Contains(t, string(msg), "test")
		assert.Contains(t, string(msg), "hello")
	case <-time.After(1 * time.Second):
		t.Fatal("Timeout waiting for broadcast message")
	}
}

func TestWebSocketHub_BroadcastEventOnlyReachesItsScope(t *testing.T) {
	hub := handlers.NewWebSocketHub()
	go hub.Run()
	defer hub.Stop()

	alice := make(chan []byte, 4)
	bob := make(chan []byte, 4)
	hub.Register(&handlers.MockClient{SendChan: alice, Scope: "alice"})
	hub.Register(&handlers.MockClient{SendChan: bob, Scope: "bob"})
	time.Sleep(10 * time.Millisecond)

	hub.BroadcastEvent(engine.EventMemoryCreated("alice", "m1"))

	select {
	case msg := <-alice:
		assert.Contains(t, string(msg), `"kind":"memory_created"`)
		assert.Contains(t, string(msg), `"memory_id":"m1"`)
	case <-time.After(1 * time.Second):
		t.Fatal("Timeout waiting for event")
	}

	// Give the hub a moment in case it wrongly delivers to bob.
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, bob, 0)
}
