package storage

import (
	"errors"
	"time"

	"github.com/scrypster/chatmem/pkg/types"
)

var (
	// ErrNotFound indicates that the requested session or memory was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAlreadyExists indicates that a record with the same ID exists.
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrStaleGeneration indicates that a memory store was cleared between
	// a snapshot read and a batch write.
	ErrStaleGeneration = errors.New("memory store was reset")
)

// MergeOptions controls how a transcript merge titles its target.
type MergeOptions struct {
	// TitleSentinel, when non-empty, lets a session whose title is still
	// this sentinel take its title from the first user message of the
	// merged batch.
	TitleSentinel string
}

// MergeResult reports what a transcript merge did.
type MergeResult struct {
	// SessionID is the target session.
	SessionID string `json:"session_id"`

	// Appended is the number of incoming messages that were added.
	Appended int `json:"appended"`

	// Skipped is the number of incoming messages suppressed as duplicates.
	Skipped int `json:"skipped"`

	// Title is the session title after the merge.
	Title string `json:"title"`
}

// Snapshot is the persisted state of the core.
type Snapshot struct {
	// Identities lists every known identity.
	Identities []types.Identity `json:"identities"`

	// Scopes holds the sessions and memories of each identity.
	Scopes []ScopeSnapshot `json:"scopes"`

	// SavedAt is when the snapshot was taken.
	SavedAt time.Time `json:"saved_at"`
}

// ScopeSnapshot holds the data owned by one identity.
type ScopeSnapshot struct {
	IdentityID string          `json:"identity_id"`
	Sessions   []types.Session `json:"sessions"`
	Memories   []types.Memory  `json:"memories"`
}

// Scope returns the snapshot of the given identity, or nil.
func (s *Snapshot) Scope(identityID string) *ScopeSnapshot {
	for i := range s.Scopes {
		if s.Scopes[i].IdentityID == identityID {
			return &s.Scopes[i]
		}
	}
	return nil
}
