package notify

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRequestWriterCreatesFile(t *testing.T) {
	dir := t.TempDir()
	w := NewRequestWriter(dir)

	if err := w.Send(ActionResetScope, "guest:abc"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "requests"))
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 request file, got %d", len(entries))
	}
	if filepath.Ext(entries[0].Name()) != ".request" {
		t.Errorf("expected .request extension, got %s", entries[0].Name())
	}
}

func TestRequestWriterRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	w := NewRequestWriter(dir)

	if err := w.Send(ActionResetScope, ""); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for missing scope, got %v", err)
	}
	if err := w.Send("explode", ""); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for unknown action, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "requests")); !os.IsNotExist(err) {
		t.Error("expected no requests directory after rejected sends")
	}
}

func TestRequestWatcherReceivesRequest(t *testing.T) {
	dir := t.TempDir()
	received := make(chan Request, 1)

	watcher := NewRequestWatcher(dir, func(r Request) {
		received <- r
	})
	if err := watcher.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer watcher.Stop()

	// Give fsnotify a moment to register
	time.Sleep(50 * time.Millisecond)

	if err := NewRequestWriter(dir).Send(ActionResetScope, "guest:test123"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case r := <-received:
		if r.Action != ActionResetScope {
			t.Errorf("expected action %s, got %s", ActionResetScope, r.Action)
		}
		if r.Scope != "guest:test123" {
			t.Errorf("expected scope guest:test123, got %s", r.Scope)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for request")
	}
}

func TestRequestWatcherDrainsExisting(t *testing.T) {
	dir := t.TempDir()

	// Write requests BEFORE starting watcher
	writer := NewRequestWriter(dir)
	_ = writer.Send(ActionFlush, "")
	_ = writer.Send(ActionResetAll, "")

	received := make(chan string, 10)
	watcher := NewRequestWatcher(dir, func(r Request) {
		received <- r.Action
	})
	if err := watcher.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer watcher.Stop()

	// Drain runs synchronously during Start
	if len(received) != 2 {
		t.Fatalf("expected 2 drained requests, got %d", len(received))
	}

	entries, _ := os.ReadDir(filepath.Join(dir, "requests"))
	if len(entries) != 0 {
		t.Errorf("expected drained files to be removed, %d left", len(entries))
	}
}

func TestRequestWatcherSkipsMalformed(t *testing.T) {
	dir := t.TempDir()
	reqDir := filepath.Join(dir, "requests")
	if err := os.MkdirAll(reqDir, 0o700); err != nil {
		t.Fatal(err)
	}
	_ = os.WriteFile(filepath.Join(reqDir, "1-bad.request"), []byte("{not json"), 0o600)
	_ = os.WriteFile(filepath.Join(reqDir, "2-bad.request"), []byte(`{"action":"reset_scope"}`), 0o600)

	called := 0
	watcher := NewRequestWatcher(dir, func(Request) { called++ })
	if err := watcher.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer watcher.Stop()

	if called != 0 {
		t.Errorf("expected malformed requests to be ignored, got %d callbacks", called)
	}
}

func TestSanitizeID(t *testing.T) {
	got := sanitizeID("guest:abc/def.x")
	if got != "guest_abc_def_x" {
		t.Errorf("expected guest_abc_def_x, got %s", got)
	}
}
