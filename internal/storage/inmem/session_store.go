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

// sessionEntry wraps a session with bookkeeping that is not part of the
// public record.
type sessionEntry struct {
	session  types.Session
	titleSet bool
	seq      uint64
}

// SessionStore implements storage.SessionStore in memory.
//
// Every mutation is a read-modify-write under a single store-wide lock, so
// concurrent appends to one session are applied in lock acquisition order
// and none is lost.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry
	seq      uint64
	now      func() time.Time
}

// NewSessionStore creates an empty session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*sessionEntry),
		now:      time.Now,
	}
}

// Create allocates a new session with a generated ID.
func (s *SessionStore) Create(ctx context.Context) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.insertLocked(uuid.New().String(), types.DefaultSessionTitle)
	out := e.session.Clone()
	return &out, nil
}

// CreateWithID allocates a session with a caller-chosen ID and title.
func (s *SessionStore) CreateWithID(ctx context.Context, id, title string) (*types.Session, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: session ID is required", storage.ErrInvalidInput)
	}
	if title == "" {
		title = types.DefaultSessionTitle
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; ok {
		return nil, fmt.Errorf("session %s: %w", id, storage.ErrAlreadyExists)
	}

	e := s.insertLocked(id, title)
	out := e.session.Clone()
	return &out, nil
}

// insertLocked must be called with s.mu held for writing.
func (s *SessionStore) insertLocked(id, title string) *sessionEntry {
	now := s.now()
	s.seq++
	e := &sessionEntry{
		session: types.Session{
			ID:        id,
			Title:     title,
			Messages:  []types.Message{},
			CreatedAt: now,
			UpdatedAt: now,
		},
		seq: s.seq,
	}
	s.sessions[id] = e
	return e
}

// Get returns a deep copy of the session.
func (s *SessionStore) Get(ctx context.Context, id string) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, storage.ErrNotFound)
	}
	out := e.session.Clone()
	return &out, nil
}

// Exists reports whether the session exists.
func (s *SessionStore) Exists(ctx context.Context, id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.sessions[id]
	return ok
}

// Ensure returns the session with the given ID, creating a new session
// with a fresh ID when id is empty or unknown. The boolean reports whether
// a session was created.
func (s *SessionStore) Ensure(ctx context.Context, id string) (*types.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.sessions[id]; ok && id != "" {
		out := e.session.Clone()
		return &out, false, nil
	}

	e := s.insertLocked(uuid.New().String(), types.DefaultSessionTitle)
	out := e.session.Clone()
	return &out, true, nil
}

// Append adds a message to the end of the session and applies the title
// rule: the title is taken from the first user message appended while the
// session holds at most two messages, and never changes afterwards.
func (s *SessionStore) Append(ctx context.Context, id string, msg types.MessageInput) (*types.Message, error) {
	if err := validateMessage(msg); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, storage.ErrNotFound)
	}

	now := s.now()
	m := newMessage(msg, now)
	e.session.Messages = append(e.session.Messages, m)
	e.session.UpdatedAt = now

	if !e.titleSet && msg.Role == types.RoleUser && len(e.session.Messages) <= 2 {
		e.session.Title = types.TitleFromContent(msg.Content)
		e.titleSet = true
	}

	return &m, nil
}

// Merge appends the messages of a transcript that are not already present
// in the session, comparing by (role, content). Messages appended earlier
// in the same merge count as present. The whole merge is one mutation and
// bumps UpdatedAt once.
func (s *SessionStore) Merge(ctx context.Context, id string, msgs []types.MessageInput, opts storage.MergeOptions) (*storage.MergeResult, error) {
	for i, msg := range msgs {
		if err := validateMessage(msg); err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, storage.ErrNotFound)
	}

	seen := make(map[messageKey]struct{}, len(e.session.Messages)+len(msgs))
	for _, m := range e.session.Messages {
		seen[messageKey{role: m.Role, content: m.Content}] = struct{}{}
	}

	now := s.now()
	result := &storage.MergeResult{SessionID: id}
	for _, msg := range msgs {
		key := messageKey{role: msg.Role, content: msg.Content}
		if _, dup := seen[key]; dup {
			result.Skipped++
			continue
		}
		seen[key] = struct{}{}
		e.session.Messages = append(e.session.Messages, newMessage(msg, now))
		result.Appended++
	}

	if opts.TitleSentinel != "" && !e.titleSet && e.session.Title == opts.TitleSentinel {
		for _, msg := range msgs {
			if msg.Role == types.RoleUser {
				e.session.Title = types.TitleFromContent(msg.Content)
				e.titleSet = true
				break
			}
		}
	}

	e.session.UpdatedAt = now
	result.Title = e.session.Title
	return result, nil
}

// Delete removes a session. Unknown IDs are ignored.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	return nil
}

// List returns copies of all sessions ordered by UpdatedAt descending, with
// ties broken by later insertion first.
func (s *SessionStore) List(ctx context.Context) ([]types.Session, error) {
	s.mu.RLock()
	entries := make([]*sessionEntry, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.session.UpdatedAt.Equal(b.session.UpdatedAt) {
			return a.session.UpdatedAt.After(b.session.UpdatedAt)
		}
		return a.seq > b.seq
	})
	out := make([]types.Session, len(entries))
	for i, e := range entries {
		out[i] = e.session.Clone()
	}
	s.mu.RUnlock()

	return out, nil
}

// ClearAll removes every session.
func (s *SessionStore) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions = make(map[string]*sessionEntry)
	return nil
}

// Restore replaces the store contents. sessions is expected in List order;
// tie-breaking order is rebuilt from it. Sessions whose title is no longer a
// sentinel are treated as already titled.
func (s *SessionStore) Restore(ctx context.Context, sessions []types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions = make(map[string]*sessionEntry, len(sessions))
	for i := len(sessions) - 1; i >= 0; i-- {
		if sessions[i].ID == "" {
			return fmt.Errorf("%w: session %d has no ID", storage.ErrInvalidInput, i)
		}
		s.seq++
		sess := sessions[i].Clone()
		if sess.Messages == nil {
			sess.Messages = []types.Message{}
		}
		s.sessions[sess.ID] = &sessionEntry{
			session:  sess,
			titleSet: sess.Title != types.DefaultSessionTitle && sess.Title != types.ImportedSessionTitle,
			seq:      s.seq,
		}
	}
	return nil
}

type messageKey struct {
	role    types.Role
	content string
}

func newMessage(msg types.MessageInput, now time.Time) types.Message {
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	return types.Message{
		ID:        uuid.New().String(),
		Role:      msg.Role,
		Content:   msg.Content,
		CreatedAt: createdAt,
	}
}

func validateMessage(msg types.MessageInput) error {
	if !msg.Role.IsValid() {
		return fmt.Errorf("%w: unknown role %q", storage.ErrInvalidInput, msg.Role)
	}
	if msg.Content == "" {
		return fmt.Errorf("%w: message content is required", storage.ErrInvalidInput)
	}
	return nil
}
