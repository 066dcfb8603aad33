package types

import "time"

// Identity is the stable key that scopes sessions and memories. A guest
// identity is issued on first contact and may be upgraded to an established
// identity exactly once.
type Identity struct {
	ID            string       `json:"id" yaml:"id"`
	DisplayLabel  string       `json:"display_label" yaml:"display_label"`
	Kind          IdentityKind `json:"kind" yaml:"kind"`
	Email         string       `json:"email,omitempty" yaml:"email,omitempty"`
	AvatarURL     string       `json:"avatar_url,omitempty" yaml:"avatar_url,omitempty"`
	CreatedAt     time.Time    `json:"created_at" yaml:"created_at"`
	EstablishedAt *time.Time   `json:"established_at,omitempty" yaml:"established_at,omitempty"`
}

// IsGuest reports whether the identity has not been upgraded yet.
func (i *Identity) IsGuest() bool {
	return i.Kind != IdentityEstablished
}
