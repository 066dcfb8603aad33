package engine

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/scrypster/chatmem/pkg/types"
)

// ErrPartialReset indicates that only one of the two stores of a scope was
// cleared. Use errors.As with *ResetError for the details.
var ErrPartialReset = errors.New("partial reset")

// ResetError reports which half of a reset failed. The half that succeeded
// is not rolled back; calling ResetAll again is safe.
type ResetError struct {
	Scope       string
	SessionsErr error
	MemoriesErr error
}

func (e *ResetError) Error() string {
	switch {
	case e.SessionsErr != nil && e.MemoriesErr != nil:
		return fmt.Sprintf("reset of scope %s failed: sessions: %v; memories: %v", e.Scope, e.SessionsErr, e.MemoriesErr)
	case e.SessionsErr != nil:
		return fmt.Sprintf("partial reset of scope %s: sessions: %v", e.Scope, e.SessionsErr)
	default:
		return fmt.Sprintf("partial reset of scope %s: memories: %v", e.Scope, e.MemoriesErr)
	}
}

// Is makes errors.Is(err, ErrPartialReset) match.
func (e *ResetError) Is(target error) bool {
	return target == ErrPartialReset
}

// Unwrap exposes the underlying store errors.
func (e *ResetError) Unwrap() []error {
	var errs []error
	if e.SessionsErr != nil {
		errs = append(errs, e.SessionsErr)
	}
	if e.MemoriesErr != nil {
		errs = append(errs, e.MemoriesErr)
	}
	return errs
}

// ResetAll clears every session and every memory of scope. Sessions are
// cleared first. Clearing memories advances the memory store generation, so
// an extraction already in flight for this scope discards its decision
// instead of writing into the emptied store.
func (e *Engine) ResetAll(ctx context.Context, scope string) error {
	ws, ok := e.workspaces.lookup(scope)
	if !ok {
		return nil
	}

	rerr := &ResetError{Scope: scope}
	if err := ws.sessions.ClearAll(ctx); err != nil {
		rerr.SessionsErr = err
	}
	if err := ws.memories.ClearAll(ctx); err != nil {
		rerr.MemoriesErr = err
	}

	if rerr.SessionsErr != nil || rerr.MemoriesErr != nil {
		log.Printf("ERROR: Reset of scope %s incomplete: %v", scope, rerr)
		if rerr.SessionsErr == nil || rerr.MemoriesErr == nil {
			e.emit(EventScopeReset(scope))
		}
		return rerr
	}

	log.Printf("Reset scope %s", scope)
	e.emit(EventScopeReset(scope))
	return nil
}

// ResetEverything applies ResetAll to every known scope. It keeps going
// after a failure and returns the joined errors.
func (e *Engine) ResetEverything(ctx context.Context) error {
	var errs []error
	for _, ws := range e.workspaces.all() {
		if err := e.ResetAll(ctx, ws.scope); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Logout clears the scope of identity id, forgets the identity and issues a
// fresh guest. If the reset fails the identity is kept so the caller can
// retry.
func (e *Engine) Logout(ctx context.Context, id string) (*types.Identity, error) {
	if err := e.ResetAll(ctx, id); err != nil {
		return nil, err
	}

	e.workspaces.remove(id)
	e.identities.Remove(id)
	e.dirty.Store(true)

	log.Printf("Identity %s logged out", id)
	return e.NewGuest(), nil
}
