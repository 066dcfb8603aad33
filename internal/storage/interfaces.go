// Package storage defines the contracts of the chatmem session and memory
// core. The in-memory stores in storage/inmem are the source of truth at
// runtime; durable backends only implement SnapshotSink.
//
// The interfaces are small and focused so alternative backends and test
// doubles can be swapped in per component.
package storage

import (
	"context"

	"github.com/scrypster/chatmem/pkg/types"
)

// SessionStore owns conversation sessions for one identity scope.
// Mutations of a session are serialized so concurrent appends never lose
// an update.
type SessionStore interface {
	// Create allocates a new session with a generated ID, no messages and
	// the default title.
	Create(ctx context.Context) (*types.Session, error)

	// CreateWithID allocates a session with a caller-chosen ID and title.
	// Returns ErrAlreadyExists if the ID is taken.
	CreateWithID(ctx context.Context, id, title string) (*types.Session, error)

	// Get returns a deep copy of the session.
	// Returns ErrNotFound if the session doesn't exist.
	Get(ctx context.Context, id string) (*types.Session, error)

	// Exists reports whether a session with the given ID exists.
	Exists(ctx context.Context, id string) bool

	// Ensure returns the session with the given ID, or creates a new one
	// (with a fresh ID) when id is empty or unknown.
	Ensure(ctx context.Context, id string) (*types.Session, bool, error)

	// Append assigns an ID to msg, appends it and applies the title rule.
	// Returns ErrNotFound if the session doesn't exist.
	Append(ctx context.Context, id string, msg types.MessageInput) (*types.Message, error)

	// Merge appends the non-duplicate messages of a transcript as a single
	// mutation. Returns ErrNotFound if the session doesn't exist.
	Merge(ctx context.Context, id string, msgs []types.MessageInput, opts MergeOptions) (*MergeResult, error)

	// Delete removes a session. Deleting an unknown ID is a no-op.
	Delete(ctx context.Context, id string) error

	// List returns all sessions, most recently updated first.
	List(ctx context.Context) ([]types.Session, error)

	// ClearAll removes every session.
	ClearAll(ctx context.Context) error

	// Restore replaces the contents of the store with sessions loaded from
	// a snapshot.
	Restore(ctx context.Context, sessions []types.Session) error
}

// MemoryStore owns the memories of one identity scope.
type MemoryStore interface {
	// Add creates a new memory.
	Add(ctx context.Context, content string, source types.MemorySource) (*types.Memory, error)

	// Get returns a copy of the memory.
	// Returns ErrNotFound if the memory doesn't exist.
	Get(ctx context.Context, id string) (*types.Memory, error)

	// Update replaces the content of a memory, preserving Source and CreatedAt.
	// Returns ErrNotFound if the memory doesn't exist.
	Update(ctx context.Context, id, content string) (*types.Memory, error)

	// Delete removes a memory. Deleting an unknown ID is a no-op.
	Delete(ctx context.Context, id string) error

	// List returns all memories, most recently updated first.
	List(ctx context.Context) ([]types.Memory, error)

	// ClearAll removes every memory and advances the generation.
	ClearAll(ctx context.Context) error

	// Snapshot returns the memory list and the generation it was read at,
	// observed atomically.
	Snapshot(ctx context.Context) ([]types.Memory, uint64, error)

	// Generation returns a counter advanced by every ClearAll. It lets a
	// caller detect that a reset happened between a read and a later write.
	Generation() uint64

	// Batch runs fn while holding the store's write lock, so the batch is
	// atomic with respect to every other mutation. Returns
	// ErrStaleGeneration without calling fn if the store was cleared since
	// generation was observed.
	Batch(ctx context.Context, generation uint64, fn func(MemoryBatch) error) error

	// Restore replaces the contents of the store with memories loaded from
	// a snapshot.
	Restore(ctx context.Context, memories []types.Memory) error
}

// MemoryBatch is the view of a MemoryStore available inside Batch.
// Its methods must not be retained after fn returns.
type MemoryBatch interface {
	Add(content string, source types.MemorySource) *types.Memory
	Update(id, content string) (*types.Memory, error)
	Exists(id string) bool
	HasContent(content string) bool
}

// SnapshotSink persists and restores the full state of the core.
// Persistence is outside the core contract: the engine calls the sink
// periodically and on shutdown.
type SnapshotSink interface {
	// SaveSnapshot replaces the persisted state with snap.
	SaveSnapshot(ctx context.Context, snap *Snapshot) error

	// LoadSnapshot returns the persisted state. An empty store yields an
	// empty, non-nil snapshot.
	LoadSnapshot(ctx context.Context) (*Snapshot, error)

	// Close releases any resources held by the sink.
	Close() error
}
