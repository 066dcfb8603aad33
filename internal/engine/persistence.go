package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/scrypster/chatmem/internal/storage"
)

// Snapshot captures identities, sessions and memories of every scope.
// Each scope is read consistently; scopes are read one after another.
func (e *Engine) Snapshot(ctx context.Context) (*storage.Snapshot, error) {
	snap := &storage.Snapshot{
		Identities: e.identities.List(),
		Scopes:     []storage.ScopeSnapshot{},
		SavedAt:    time.Now(),
	}

	for _, ws := range e.workspaces.all() {
		sessions, err := ws.sessions.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read sessions of scope %s: %w", ws.scope, err)
		}
		memories, _, err := ws.memories.Snapshot(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read memories of scope %s: %w", ws.scope, err)
		}
		if len(sessions) == 0 && len(memories) == 0 {
			continue
		}
		snap.Scopes = append(snap.Scopes, storage.ScopeSnapshot{
			IdentityID: ws.scope,
			Sessions:   sessions,
			Memories:   memories,
		})
	}

	return snap, nil
}

// Restore replaces all state with snap. It is meant for tools that work on
// a snapshot without starting the engine; Start restores from the attached
// sink on its own.
func (e *Engine) Restore(ctx context.Context, snap *storage.Snapshot) error {
	if err := e.restore(ctx, snap); err != nil {
		return err
	}
	e.dirty.Store(false)
	return nil
}

func (e *Engine) restore(ctx context.Context, snap *storage.Snapshot) error {
	if snap == nil {
		return nil
	}

	e.identities.Restore(snap.Identities)
	e.workspaces.clear()

	for _, scope := range snap.Scopes {
		ws := e.workspaces.get(scope.IdentityID)
		if err := ws.sessions.Restore(ctx, scope.Sessions); err != nil {
			return fmt.Errorf("scope %s: %w", scope.IdentityID, err)
		}
		if err := ws.memories.Restore(ctx, scope.Memories); err != nil {
			return fmt.Errorf("scope %s: %w", scope.IdentityID, err)
		}
	}
	return nil
}

// Flush writes a snapshot to the sink if anything changed since the last
// successful write.
func (e *Engine) Flush(ctx context.Context) error {
	e.mu.RLock()
	sink := e.sink
	e.mu.RUnlock()

	if sink == nil || !e.dirty.Swap(false) {
		return nil
	}

	snap, err := e.Snapshot(ctx)
	if err == nil {
		err = sink.SaveSnapshot(ctx, snap)
	}
	if err != nil {
		e.dirty.Store(true)
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// startPersistence starts the periodic snapshot loop. Callers hold e.mu.
func (e *Engine) startPersistence() {
	if e.sink == nil {
		return
	}

	e.persistStop = make(chan struct{})
	e.persistDone = make(chan struct{})
	go e.persistenceLoop(e.persistStop, e.persistDone)

	log.Printf("Snapshot persistence every %v", e.config.SnapshotInterval)
}

func (e *Engine) persistenceLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.config.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := e.Flush(context.Background()); err != nil {
				log.Printf("ERROR: Periodic snapshot failed: %v", err)
			}
		case <-stop:
			return
		}
	}
}

// stopPersistence stops the loop and writes the final snapshot.
func (e *Engine) stopPersistence(ctx context.Context) error {
	e.mu.Lock()
	stop, done := e.persistStop, e.persistDone
	e.persistStop, e.persistDone = nil, nil
	e.mu.Unlock()

	if stop == nil {
		return nil
	}

	close(stop)
	<-done

	return e.Flush(ctx)
}
