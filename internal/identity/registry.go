// Package identity issues and upgrades the identities that scope sessions
// and memories. Verification of credentials happens upstream; the registry
// only records the guest to established transition.
package identity

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/chatmem/internal/storage"
	"github.com/scrypster/chatmem/pkg/types"
)

// GuestLabel is the display label of every guest identity.
const GuestLabel = "Guest"

// ErrAlreadyEstablished is returned when upgrading an identity that has
// already been upgraded.
var ErrAlreadyEstablished = errors.New("identity already established")

// Registry holds the known identities.
type Registry struct {
	mu         sync.RWMutex
	identities map[string]*types.Identity
	now        func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		identities: make(map[string]*types.Identity),
		now:        time.Now,
	}
}

// NewGuest issues a fresh guest identity.
func (r *Registry) NewGuest() *types.Identity {
	id := &types.Identity{
		ID:           uuid.New().String(),
		DisplayLabel: GuestLabel,
		Kind:         types.IdentityGuest,
		CreatedAt:    r.now(),
	}

	r.mu.Lock()
	r.identities[id.ID] = id
	r.mu.Unlock()

	out := *id
	return &out
}

// Get returns a copy of the identity.
func (r *Registry) Get(id string) (*types.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ident, ok := r.identities[id]
	if !ok {
		return nil, fmt.Errorf("identity %s: %w", id, storage.ErrNotFound)
	}
	out := *ident
	return &out, nil
}

// Upgrade turns a guest into an established identity. The transition
// happens at most once.
func (r *Registry) Upgrade(id, email string) (*types.Identity, error) {
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: a valid email is required", storage.ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ident, ok := r.identities[id]
	if !ok {
		return nil, fmt.Errorf("identity %s: %w", id, storage.ErrNotFound)
	}
	if ident.Kind == types.IdentityEstablished {
		return nil, fmt.Errorf("identity %s: %w", id, ErrAlreadyEstablished)
	}

	now := r.now()
	ident.Kind = types.IdentityEstablished
	ident.Email = email
	ident.DisplayLabel = email
	ident.AvatarURL = GravatarURL(email)
	ident.EstablishedAt = &now

	out := *ident
	return &out, nil
}

// Remove forgets an identity. Unknown IDs are ignored.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.identities, id)
}

// List returns all identities, oldest first.
func (r *Registry) List() []types.Identity {
	r.mu.RLock()
	out := make([]types.Identity, 0, len(r.identities))
	for _, ident := range r.identities {
		out = append(out, *ident)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Restore replaces the registry contents.
func (r *Registry) Restore(identities []types.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.identities = make(map[string]*types.Identity, len(identities))
	for i := range identities {
		ident := identities[i]
		r.identities[ident.ID] = &ident
	}
}

// GravatarURL returns the Gravatar image URL for an email address, falling
// back to the mystery-person image.
func GravatarURL(email string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(email))))
	return "https://www.gravatar.com/avatar/" + hex.EncodeToString(sum[:]) + "?d=mp&s=200"
}
