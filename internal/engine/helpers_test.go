package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scrypster/chatmem/internal/llm"
	"github.com/scrypster/chatmem/internal/storage"
	"github.com/scrypster/chatmem/pkg/types"
)

const testScope = "scope-test"

// newTestEngine creates an engine whose chat and extraction calls are served
// by stub generators. The engine is not started.
func newTestEngine(t *testing.T, opts ...func(*Config)) (*Engine, *llm.StubGenerator, *llm.StubGenerator) {
	t.Helper()

	cfg := DefaultConfig()
	cfg.NumWorkers = 1
	cfg.RetryBackoff = time.Millisecond
	cfg.ShutdownTimeout = 5 * time.Second
	for _, opt := range opts {
		opt(&cfg)
	}

	chat := llm.NewStubGenerator()
	extractor := llm.NewStubGenerator()

	eng, err := NewEngine(cfg, chat, extractor)
	require.NoError(t, err)

	return eng, chat, extractor
}

// startTestEngine starts eng and shuts it down when the test ends.
func startTestEngine(t *testing.T, eng *Engine) {
	t.Helper()
	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(func() { _ = eng.Shutdown(context.Background()) })
}

// eventRecorder collects engine events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
	ch     chan Event
}

func recordEvents(eng *Engine) *eventRecorder {
	r := &eventRecorder{ch: make(chan Event, 256)}
	eng.SetOnEvent(func(ev Event) {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
		select {
		case r.ch <- ev:
		default:
		}
	})
	return r
}

// waitFor blocks until an event of kind arrives or the timeout expires.
func (r *eventRecorder) waitFor(t *testing.T, kind EventKind) Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-r.ch:
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("timeout waiting for %s event", kind)
			return Event{}
		}
	}
}

func (r *eventRecorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

// chatFunc adapts a function to llm.ChatGenerator.
type chatFunc func(ctx context.Context, systemPrompt string, transcript []types.Message) (string, error)

func (f chatFunc) Chat(ctx context.Context, systemPrompt string, transcript []types.Message) (string, error) {
	return f(ctx, systemPrompt, transcript)
}

func (f chatFunc) GetModel() string { return "func" }

var errStoreDown = errors.New("store unavailable")

// failingSessionStore fails ClearAll.
type failingSessionStore struct {
	storage.SessionStore
}

func (s failingSessionStore) ClearAll(ctx context.Context) error { return errStoreDown }

// failingMemoryStore fails ClearAll.
type failingMemoryStore struct {
	storage.MemoryStore
}

func (s failingMemoryStore) ClearAll(ctx context.Context) error { return errStoreDown }

// memorySink is an in-memory storage.SnapshotSink.
type memorySink struct {
	mu      sync.Mutex
	snap    *storage.Snapshot
	saves   int
	saveErr error
	closed  bool
}

func (s *memorySink) SaveSnapshot(ctx context.Context, snap *storage.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.snap = snap
	s.saves++
	return nil
}

func (s *memorySink) LoadSnapshot(ctx context.Context) (*storage.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap == nil {
		return &storage.Snapshot{}, nil
	}
	return s.snap, nil
}

func (s *memorySink) Close() error {
	s.closed = true
	return nil
}

func (s *memorySink) saved() (*storage.Snapshot, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap, s.saves
}
