package engine

import (
	"sort"
	"sync"

	"github.com/scrypster/chatmem/internal/storage"
	"github.com/scrypster/chatmem/internal/storage/inmem"
)

// workspace holds the stores owned by one identity scope. Stores are never
// shared across scopes.
type workspace struct {
	scope    string
	sessions storage.SessionStore
	memories storage.MemoryStore
}

// storeFactory builds the stores of a new workspace.
type storeFactory func() (storage.SessionStore, storage.MemoryStore)

func newInMemoryStores() (storage.SessionStore, storage.MemoryStore) {
	return inmem.NewSessionStore(), inmem.NewMemoryStore()
}

// workspaceSet maps identity scopes to their workspaces.
type workspaceSet struct {
	mu         sync.RWMutex
	workspaces map[string]*workspace
	newStores  storeFactory
}

func newWorkspaceSet(factory storeFactory) *workspaceSet {
	return &workspaceSet{
		workspaces: make(map[string]*workspace),
		newStores:  factory,
	}
}

// get returns the workspace of scope, creating it on first use.
func (w *workspaceSet) get(scope string) *workspace {
	w.mu.RLock()
	ws, ok := w.workspaces[scope]
	w.mu.RUnlock()
	if ok {
		return ws
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if ws, ok := w.workspaces[scope]; ok {
		return ws
	}
	sessions, memories := w.newStores()
	ws = &workspace{scope: scope, sessions: sessions, memories: memories}
	w.workspaces[scope] = ws
	return ws
}

// lookup returns the workspace of scope without creating it.
func (w *workspaceSet) lookup(scope string) (*workspace, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	ws, ok := w.workspaces[scope]
	return ws, ok
}

// remove drops the workspace of scope.
func (w *workspaceSet) remove(scope string) {
	w.mu.Lock()
	delete(w.workspaces, scope)
	w.mu.Unlock()
}

// clear drops every workspace.
func (w *workspaceSet) clear() {
	w.mu.Lock()
	w.workspaces = make(map[string]*workspace)
	w.mu.Unlock()
}

// all returns every workspace ordered by scope.
func (w *workspaceSet) all() []*workspace {
	w.mu.RLock()
	out := make([]*workspace, 0, len(w.workspaces))
	for _, ws := range w.workspaces {
		out = append(out, ws)
	}
	w.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].scope < out[j].scope })
	return out
}

// scopeLocks serializes extraction runs per identity scope. Entries are
// reference counted and dropped once no goroutine holds or waits for them.
type scopeLocks struct {
	mu    sync.Mutex
	locks map[string]*scopeLock
}

type scopeLock struct {
	mu   sync.Mutex
	refs int
}

func newScopeLocks() *scopeLocks {
	return &scopeLocks{locks: make(map[string]*scopeLock)}
}

// lock acquires the lock of scope and returns its release function.
func (s *scopeLocks) lock(scope string) func() {
	s.mu.Lock()
	l, ok := s.locks[scope]
	if !ok {
		l = &scopeLock{}
		s.locks[scope] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, scope)
		}
		s.mu.Unlock()
	}
}

// size returns the number of live entries.
func (s *scopeLocks) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
