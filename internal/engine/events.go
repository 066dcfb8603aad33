package engine

import (
	"context"
	"sync"
	"time"
)

// EventKind classifies each engine event by type.
type EventKind string

const (
	// KindMessageAppended is emitted after a message is added to a session.
	KindMessageAppended EventKind = "message_appended"

	// KindSessionDeleted is emitted after a session is removed.
	KindSessionDeleted EventKind = "session_deleted"

	// KindTranscriptMerged is emitted after a guest transcript is merged.
	KindTranscriptMerged EventKind = "transcript_merged"

	// KindMemoryCreated is emitted once per memory added by hand or by extraction.
	KindMemoryCreated EventKind = "memory_created"

	// KindMemoryUpdated is emitted once per memory whose content changed.
	KindMemoryUpdated EventKind = "memory_updated"

	// KindMemoryDeleted is emitted after a memory is removed.
	KindMemoryDeleted EventKind = "memory_deleted"

	// KindOperationSkipped is emitted for an extraction operation that was not applied.
	KindOperationSkipped EventKind = "operation_skipped"

	// KindExtractionCompleted is emitted when a pipeline run finishes.
	KindExtractionCompleted EventKind = "extraction_completed"

	// KindExtractionFailed is emitted when a pipeline run gives up.
	KindExtractionFailed EventKind = "extraction_failed"

	// KindExtractionDiscarded is emitted when a job is dropped because its
	// scope was reset after the message was queued.
	KindExtractionDiscarded EventKind = "extraction_discarded"

	// KindScopeReset is emitted after a scope's sessions and memories are cleared.
	KindScopeReset EventKind = "scope_reset"
)

// Event is a single structured notification about a change in the core.
type Event struct {
	// Kind identifies the event type.
	Kind EventKind `json:"kind"`

	// At is the wall-clock time the event was recorded.
	At time.Time `json:"at"`

	// Scope is the identity the event belongs to.
	Scope string `json:"scope,omitempty"`

	// SessionID is populated for session events.
	SessionID string `json:"session_id,omitempty"`

	// MemoryID is populated for per-memory events.
	MemoryID string `json:"memory_id,omitempty"`

	// Count is used by extraction_completed (operations applied) and
	// transcript_merged (messages appended).
	Count int `json:"count,omitempty"`

	// Reason is a human-readable explanation for skipped and failed events.
	Reason string `json:"reason,omitempty"`
}

func newEvent(kind EventKind, scope string) Event {
	return Event{Kind: kind, At: time.Now(), Scope: scope}
}

// EventMessageAppended creates a message_appended event.
func EventMessageAppended(scope, sessionID string) Event {
	e := newEvent(KindMessageAppended, scope)
	e.SessionID = sessionID
	return e
}

// EventSessionDeleted creates a session_deleted event.
func EventSessionDeleted(scope, sessionID string) Event {
	e := newEvent(KindSessionDeleted, scope)
	e.SessionID = sessionID
	return e
}

// EventTranscriptMerged creates a transcript_merged event.
func EventTranscriptMerged(scope, sessionID string, appended int) Event {
	e := newEvent(KindTranscriptMerged, scope)
	e.SessionID = sessionID
	e.Count = appended
	return e
}

// EventMemoryCreated creates a memory_created event.
func EventMemoryCreated(scope, memoryID string) Event {
	e := newEvent(KindMemoryCreated, scope)
	e.MemoryID = memoryID
	return e
}

// EventMemoryUpdated creates a memory_updated event.
func EventMemoryUpdated(scope, memoryID string) Event {
	e := newEvent(KindMemoryUpdated, scope)
	e.MemoryID = memoryID
	return e
}

// EventMemoryDeleted creates a memory_deleted event.
func EventMemoryDeleted(scope, memoryID string) Event {
	e := newEvent(KindMemoryDeleted, scope)
	e.MemoryID = memoryID
	return e
}

// EventOperationSkipped creates an operation_skipped event.
func EventOperationSkipped(scope, memoryID, reason string) Event {
	e := newEvent(KindOperationSkipped, scope)
	e.MemoryID = memoryID
	e.Reason = reason
	return e
}

// EventExtractionCompleted creates an extraction_completed event.
func EventExtractionCompleted(scope string, applied int) Event {
	e := newEvent(KindExtractionCompleted, scope)
	e.Count = applied
	return e
}

// EventExtractionFailed creates an extraction_failed event.
func EventExtractionFailed(scope, reason string) Event {
	e := newEvent(KindExtractionFailed, scope)
	e.Reason = reason
	return e
}

// EventExtractionDiscarded creates an extraction_discarded event.
func EventExtractionDiscarded(scope, reason string) Event {
	e := newEvent(KindExtractionDiscarded, scope)
	e.Reason = reason
	return e
}

// EventScopeReset creates a scope_reset event.
func EventScopeReset(scope string) Event {
	return newEvent(KindScopeReset, scope)
}

// contextKey is an unexported type for context keys owned by this package.
type contextKey string

const traceKey contextKey = "extraction_trace"

// TraceCollector accumulates the events of a single pipeline run.
type TraceCollector struct {
	mu     sync.Mutex
	events []Event
}

// NewTraceCollector returns a fresh collector.
func NewTraceCollector() *TraceCollector {
	return &TraceCollector{}
}

// Emit appends an event to the collector.
func (tc *TraceCollector) Emit(e Event) {
	tc.mu.Lock()
	tc.events = append(tc.events, e)
	tc.mu.Unlock()
}

// Events returns the collected events in emission order.
func (tc *TraceCollector) Events() []Event {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	out := make([]Event, len(tc.events))
	copy(out, tc.events)
	return out
}

// WithTraceCollector stores a collector in the context.
func WithTraceCollector(ctx context.Context, tc *TraceCollector) context.Context {
	return context.WithValue(ctx, traceKey, tc)
}

// TraceCollectorFromContext retrieves the collector from the context.
// Returns (nil, false) if none is present.
func TraceCollectorFromContext(ctx context.Context) (*TraceCollector, bool) {
	tc, ok := ctx.Value(traceKey).(*TraceCollector)
	return tc, ok
}

// emitToContext records an event only when a collector is present in the context.
func emitToContext(ctx context.Context, e Event) {
	if tc, ok := TraceCollectorFromContext(ctx); ok {
		tc.Emit(e)
	}
}
