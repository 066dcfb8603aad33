package engine

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/scrypster/chatmem/internal/identity"
	"github.com/scrypster/chatmem/internal/llm"
	"github.com/scrypster/chatmem/internal/storage"
	"github.com/scrypster/chatmem/pkg/types"
)

// Engine is the core orchestrator for sessions and memories.
// Session and memory CRUD are synchronous; memory extraction runs on a
// worker pool fed by a buffered job queue and never blocks a chat turn.
type Engine struct {
	// Configuration
	config Config

	// Identity scopes and their stores
	identities *identity.Registry
	workspaces *workspaceSet

	// Reasoning service
	chat      llm.ChatGenerator
	extractor llm.TextGenerator
	pipeline  *ExtractionPipeline

	// Extraction workers
	extractionQueue chan *ExtractionJob
	workerWaitGroup sync.WaitGroup
	workerCtx       context.Context
	workerCancel    context.CancelFunc
	scopeLocks      *scopeLocks

	// Persistence
	sink        storage.SnapshotSink
	dirty       atomic.Bool
	persistStop chan struct{}
	persistDone chan struct{}

	// System prompt
	promptMu     sync.RWMutex
	systemPrompt string
	promptSaver  func(prompt string) error

	// State management
	started      bool
	shuttingDown bool
	mu           sync.RWMutex

	// Callbacks
	onEvent func(Event)
}

// NewEngine creates a new engine. chat answers the user; extractor drives
// the extraction pipeline and may be nil when extraction is disabled.
// Use DefaultConfig() for sensible defaults.
func NewEngine(engineConfig Config, chat llm.ChatGenerator, extractor llm.TextGenerator) (*Engine, error) {
	if chat == nil {
		return nil, fmt.Errorf("chat generator is required")
	}

	if engineConfig.ExtractionEnabled && extractor == nil {
		return nil, fmt.Errorf("extraction generator is required when extraction is enabled")
	}

	if err := engineConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	e := &Engine{
		config:          engineConfig,
		identities:      identity.NewRegistry(),
		workspaces:      newWorkspaceSet(newInMemoryStores),
		chat:            chat,
		extractor:       extractor,
		extractionQueue: make(chan *ExtractionJob, engineConfig.QueueSize),
		scopeLocks:      newScopeLocks(),
		systemPrompt:    engineConfig.SystemPrompt,
	}

	if extractor != nil {
		e.pipeline = NewExtractionPipeline(extractor, engineConfig.ExtractionTimeout)
	} else {
		log.Println("Warning: Extraction pipeline not initialized (extraction disabled)")
	}

	return e, nil
}

// SetSnapshotSink attaches a persistence sink. It must be called before Start.
func (e *Engine) SetSnapshotSink(sink storage.SnapshotSink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sink = sink
}

// SetPromptSaver sets a function used to persist the system prompt whenever
// it changes.
func (e *Engine) SetPromptSaver(saver func(prompt string) error) {
	e.promptMu.Lock()
	defer e.promptMu.Unlock()
	e.promptSaver = saver
}

// SetOnEvent sets a callback fired for every change in the core.
// This is useful for pushing UI updates via WebSocket.
func (e *Engine) SetOnEvent(callback func(Event)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onEvent = callback
}

// emit marks the engine dirty and forwards ev to the event callback.
func (e *Engine) emit(ev Event) {
	e.dirty.Store(true)

	e.mu.RLock()
	cb := e.onEvent
	e.mu.RUnlock()

	if cb != nil {
		cb(ev)
	}
}

// Start restores the persisted snapshot (when a sink is attached) and
// starts the worker pool and the persistence loop.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return fmt.Errorf("engine already started")
	}

	log.Println("Starting chatmem engine...")

	if e.sink != nil {
		snap, err := e.sink.LoadSnapshot(ctx)
		if err != nil {
			return fmt.Errorf("failed to load snapshot: %w", err)
		}
		if err := e.restore(ctx, snap); err != nil {
			return fmt.Errorf("failed to restore snapshot: %w", err)
		}
		log.Printf("Restored %d identities and %d scopes from snapshot", len(snap.Identities), len(snap.Scopes))
	}

	// A previous Shutdown closed the queue.
	if e.extractionQueue == nil {
		e.extractionQueue = make(chan *ExtractionJob, e.config.QueueSize)
	}

	e.workerCtx, e.workerCancel = context.WithCancel(context.Background())
	e.startWorkerPool(e.workerCtx, e.extractionQueue)
	e.startPersistence()

	e.started = true
	log.Println("chatmem engine started successfully")

	return nil
}

// Shutdown gracefully shuts down the engine. It closes the extraction
// queue, waits for workers to drain (bounded by ShutdownTimeout and ctx),
// stops the persistence loop and writes a final snapshot.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return fmt.Errorf("engine not started")
	}

	log.Println("Shutting down chatmem engine...")

	// Mark as shutting down (prevents queueing and requeueing)
	e.shuttingDown = true
	close(e.extractionQueue)
	e.mu.Unlock()

	// Workers may still requeue-check under the read lock, so the drain
	// happens without holding e.mu.
	drainErr := e.stopWorkerPool(ctx)
	if drainErr != nil {
		log.Printf("WARNING: Worker pool shutdown had errors: %v", drainErr)
	}

	flushErr := e.stopPersistence(ctx)
	if flushErr != nil {
		log.Printf("ERROR: Final snapshot failed: %v", flushErr)
	}

	e.mu.Lock()
	e.extractionQueue = nil
	e.started = false
	e.shuttingDown = false
	e.mu.Unlock()

	log.Println("chatmem engine shut down successfully")

	return flushErr
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.config
}

// GetQueueSize returns the current number of jobs in the extraction queue.
func (e *Engine) GetQueueSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.extractionQueue)
}

// ---------------------------------------------------------------------------
// Identities
// ---------------------------------------------------------------------------

// NewGuest issues a fresh guest identity.
func (e *Engine) NewGuest() *types.Identity {
	id := e.identities.NewGuest()
	e.dirty.Store(true)
	return id
}

// Identity returns a known identity.
func (e *Engine) Identity(id string) (*types.Identity, error) {
	return e.identities.Get(id)
}

// ResolveIdentity returns the identity with the given ID, or issues a new
// guest when id is empty or unknown. The boolean reports whether a guest was
// issued.
func (e *Engine) ResolveIdentity(id string) (*types.Identity, bool) {
	if id != "" {
		if ident, err := e.identities.Get(id); err == nil {
			return ident, false
		}
	}
	return e.NewGuest(), true
}

// Identities returns every known identity.
func (e *Engine) Identities() []types.Identity {
	return e.identities.List()
}

// Login upgrades a guest identity to an established one. The identity's
// scope is kept, so everything the guest did stays visible.
func (e *Engine) Login(ctx context.Context, id, email string) (*types.Identity, error) {
	ident, err := e.identities.Upgrade(id, email)
	if err != nil {
		return nil, err
	}
	e.dirty.Store(true)
	log.Printf("Identity %s established", ident.ID)
	return ident, nil
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

// CreateSession allocates an empty session in the scope.
func (e *Engine) CreateSession(ctx context.Context, scope string) (*types.Session, error) {
	sess, err := e.workspaces.get(scope).sessions.Create(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	e.dirty.Store(true)
	return sess, nil
}

// GetSession returns a copy of a session.
func (e *Engine) GetSession(ctx context.Context, scope, id string) (*types.Session, error) {
	ws, ok := e.workspaces.lookup(scope)
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, storage.ErrNotFound)
	}
	return ws.sessions.Get(ctx, id)
}

// ListSessions returns the scope's sessions, most recently updated first.
func (e *Engine) ListSessions(ctx context.Context, scope string) ([]types.Session, error) {
	ws, ok := e.workspaces.lookup(scope)
	if !ok {
		return []types.Session{}, nil
	}
	return ws.sessions.List(ctx)
}

// DeleteSession removes a session. Unknown IDs are ignored.
func (e *Engine) DeleteSession(ctx context.Context, scope, id string) error {
	ws, ok := e.workspaces.lookup(scope)
	if !ok {
		return nil
	}
	if err := ws.sessions.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	e.emit(EventSessionDeleted(scope, id))
	return nil
}

// AppendMessage appends a message to an existing session.
func (e *Engine) AppendMessage(ctx context.Context, scope, sessionID string, msg types.MessageInput) (*types.Message, error) {
	ws, ok := e.workspaces.lookup(scope)
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, storage.ErrNotFound)
	}
	m, err := ws.sessions.Append(ctx, sessionID, msg)
	if err != nil {
		return nil, err
	}
	e.emit(EventMessageAppended(scope, sessionID))
	return m, nil
}

// ---------------------------------------------------------------------------
// Memories
// ---------------------------------------------------------------------------

// AddMemory stores a memory entered by hand.
func (e *Engine) AddMemory(ctx context.Context, scope, content string) (*types.Memory, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("%w: content is required", storage.ErrInvalidInput)
	}

	m, err := e.workspaces.get(scope).memories.Add(ctx, content, types.SourceUserAdded)
	if err != nil {
		return nil, fmt.Errorf("failed to add memory: %w", err)
	}
	e.emit(EventMemoryCreated(scope, m.ID))
	return m, nil
}

// GetMemory returns a copy of a memory.
func (e *Engine) GetMemory(ctx context.Context, scope, id string) (*types.Memory, error) {
	ws, ok := e.workspaces.lookup(scope)
	if !ok {
		return nil, fmt.Errorf("memory %s: %w", id, storage.ErrNotFound)
	}
	return ws.memories.Get(ctx, id)
}

// UpdateMemory replaces the content of a memory.
func (e *Engine) UpdateMemory(ctx context.Context, scope, id, content string) (*types.Memory, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("%w: content is required", storage.ErrInvalidInput)
	}

	ws, ok := e.workspaces.lookup(scope)
	if !ok {
		return nil, fmt.Errorf("memory %s: %w", id, storage.ErrNotFound)
	}
	m, err := ws.memories.Update(ctx, id, content)
	if err != nil {
		return nil, err
	}
	e.emit(EventMemoryUpdated(scope, id))
	return m, nil
}

// DeleteMemory removes a memory. Unknown IDs are ignored.
func (e *Engine) DeleteMemory(ctx context.Context, scope, id string) error {
	ws, ok := e.workspaces.lookup(scope)
	if !ok {
		return nil
	}
	if err := ws.memories.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete memory: %w", err)
	}
	e.emit(EventMemoryDeleted(scope, id))
	return nil
}

// ListMemories returns the scope's memories, most recently updated first.
func (e *Engine) ListMemories(ctx context.Context, scope string) ([]types.Memory, error) {
	ws, ok := e.workspaces.lookup(scope)
	if !ok {
		return []types.Memory{}, nil
	}
	return ws.memories.List(ctx)
}

// ---------------------------------------------------------------------------
// System prompt
// ---------------------------------------------------------------------------

// SystemPrompt returns the current base system prompt.
func (e *Engine) SystemPrompt() string {
	e.promptMu.RLock()
	defer e.promptMu.RUnlock()
	return e.systemPrompt
}

// SetSystemPrompt replaces the base system prompt and persists it through
// the prompt saver, if one is set. The in-memory value is only changed when
// persisting succeeds.
func (e *Engine) SetSystemPrompt(prompt string) error {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return fmt.Errorf("%w: system prompt is required", storage.ErrInvalidInput)
	}

	e.promptMu.Lock()
	defer e.promptMu.Unlock()

	if e.promptSaver != nil {
		if err := e.promptSaver(prompt); err != nil {
			return fmt.Errorf("failed to save system prompt: %w", err)
		}
	}
	e.systemPrompt = prompt
	return nil
}
