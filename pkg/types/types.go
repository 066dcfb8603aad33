// Package types defines the core data structures for the chatmem session and
// memory core: identities, conversation sessions, messages, and the durable
// memories extracted about a user.
package types

// Role identifies the author of a message.
type Role string

// MemorySource records how a memory entered the store.
type MemorySource string

// IdentityKind distinguishes anonymous guests from established users.
type IdentityKind string

// Message role constants
const (
	// RoleUser marks a message written by the person chatting.
	RoleUser Role = "user"

	// RoleAssistant marks a reply produced by the reasoning service.
	RoleAssistant Role = "assistant"
)

// Memory source constants
const (
	// SourceExtracted marks a memory created by the extraction pipeline.
	SourceExtracted MemorySource = "extracted"

	// SourceUserAdded marks a memory entered manually by the user.
	SourceUserAdded MemorySource = "user-added"
)

// Identity kind constants
const (
	// IdentityGuest is an anonymous identity issued on first contact.
	IdentityGuest IdentityKind = "guest"

	// IdentityEstablished is an identity upgraded through login.
	IdentityEstablished IdentityKind = "established"
)

// IsValid reports whether r is a known message role.
func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleAssistant
}

// IsValid reports whether s is a known memory source.
func (s MemorySource) IsValid() bool {
	return s == SourceExtracted || s == SourceUserAdded
}
