package inmem

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/chatmem/internal/storage"
	"github.com/scrypster/chatmem/pkg/types"
)

type memoryEntry struct {
	memory types.Memory
	seq    uint64
}

// MemoryStore implements storage.MemoryStore in memory for one identity
// scope.
//
// ClearAll and Batch take the same write lock, and ClearAll advances the
// generation, so a batch prepared from a snapshot taken before a reset is
// rejected instead of resurrecting cleared memories.
type MemoryStore struct {
	mu         sync.RWMutex
	memories   map[string]*memoryEntry
	seq        uint64
	generation uint64
	now        func() time.Time
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		memories: make(map[string]*memoryEntry),
		now:      time.Now,
	}
}

// Add creates a new memory.
func (s *MemoryStore) Add(ctx context.Context, content string, source types.MemorySource) (*types.Memory, error) {
	if content == "" {
		return nil, fmt.Errorf("%w: memory content is required", storage.ErrInvalidInput)
	}
	if !source.IsValid() {
		return nil, fmt.Errorf("%w: unknown memory source %q", storage.ErrInvalidInput, source)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.addLocked(content, source), nil
}

func (s *MemoryStore) addLocked(content string, source types.MemorySource) *types.Memory {
	now := s.now()
	s.seq++
	e := &memoryEntry{
		memory: types.Memory{
			ID:        uuid.New().String(),
			Content:   content,
			Source:    source,
			CreatedAt: now,
			UpdatedAt: now,
		},
		seq: s.seq,
	}
	s.memories[e.memory.ID] = e
	out := e.memory
	return &out
}

// Get returns a copy of the memory.
func (s *MemoryStore) Get(ctx context.Context, id string) (*types.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.memories[id]
	if !ok {
		return nil, fmt.Errorf("memory %s: %w", id, storage.ErrNotFound)
	}
	out := e.memory
	return &out, nil
}

// Update replaces the content of a memory.
func (s *MemoryStore) Update(ctx context.Context, id, content string) (*types.Memory, error) {
	if content == "" {
		return nil, fmt.Errorf("%w: memory content is required", storage.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.updateLocked(id, content)
}

func (s *MemoryStore) updateLocked(id, content string) (*types.Memory, error) {
	e, ok := s.memories[id]
	if !ok {
		return nil, fmt.Errorf("memory %s: %w", id, storage.ErrNotFound)
	}
	e.memory.Content = content
	e.memory.UpdatedAt = s.now()
	// Updated memories sort ahead of untouched ones with the same timestamp.
	s.seq++
	e.seq = s.seq
	out := e.memory
	return &out, nil
}

// Delete removes a memory. Unknown IDs are ignored.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.memories, id)
	return nil
}

// List returns copies of all memories, most recently updated first.
func (s *MemoryStore) List(ctx context.Context) ([]types.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.listLocked(), nil
}

func (s *MemoryStore) listLocked() []types.Memory {
	entries := make([]*memoryEntry, 0, len(s.memories))
	for _, e := range s.memories {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.memory.UpdatedAt.Equal(b.memory.UpdatedAt) {
			return a.memory.UpdatedAt.After(b.memory.UpdatedAt)
		}
		return a.seq > b.seq
	})
	out := make([]types.Memory, len(entries))
	for i, e := range entries {
		out[i] = e.memory
	}
	return out
}

// ClearAll removes every memory and advances the generation.
func (s *MemoryStore) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.memories = make(map[string]*memoryEntry)
	s.generation++
	return nil
}

// Generation returns the number of times the store has been cleared.
func (s *MemoryStore) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.generation
}

// Snapshot returns the memory list together with the generation it was
// read at, under one read lock.
func (s *MemoryStore) Snapshot(ctx context.Context) ([]types.Memory, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.listLocked(), s.generation, nil
}

// Batch runs fn under the write lock if the store has not been cleared
// since generation was observed.
func (s *MemoryStore) Batch(ctx context.Context, generation uint64, fn func(storage.MemoryBatch) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation != generation {
		return storage.ErrStaleGeneration
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return fn(&memoryBatch{store: s})
}

// Restore replaces the store contents. memories is expected in List order.
// The generation is left untouched.
func (s *MemoryStore) Restore(ctx context.Context, memories []types.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.memories = make(map[string]*memoryEntry, len(memories))
	for i := len(memories) - 1; i >= 0; i-- {
		m := memories[i]
		if m.ID == "" {
			return fmt.Errorf("%w: memory %d has no ID", storage.ErrInvalidInput, i)
		}
		s.seq++
		s.memories[m.ID] = &memoryEntry{memory: m, seq: s.seq}
	}
	return nil
}

// memoryBatch exposes unlocked operations while Batch holds the lock.
type memoryBatch struct {
	store *MemoryStore
}

func (b *memoryBatch) Add(content string, source types.MemorySource) *types.Memory {
	return b.store.addLocked(content, source)
}

func (b *memoryBatch) Update(id, content string) (*types.Memory, error) {
	return b.store.updateLocked(id, content)
}

func (b *memoryBatch) Exists(id string) bool {
	_, ok := b.store.memories[id]
	return ok
}

func (b *memoryBatch) HasContent(content string) bool {
	for _, e := range b.store.memories {
		if e.memory.Content == content {
			return true
		}
	}
	return false
}

var (
	_ storage.SessionStore = (*SessionStore)(nil)
	_ storage.MemoryStore  = (*MemoryStore)(nil)
)
