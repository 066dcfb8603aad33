package types

import (
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// DefaultSessionTitle is the sentinel title of a freshly created session.
	DefaultSessionTitle = "New Chat"

	// ImportedSessionTitle is the sentinel title of a session created by
	// merging a guest transcript.
	ImportedSessionTitle = "Imported"

	// TitleMaxRunes is the number of leading runes of the first user
	// message that become the session title.
	TitleMaxRunes = 30
)

// Message is a single immutable entry in a session transcript.
type Message struct {
	ID        string    `json:"id" yaml:"id"`
	Role      Role      `json:"role" yaml:"role"`
	Content   string    `json:"content" yaml:"content"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// MessageInput is a message that has not been assigned an ID yet.
// A zero CreatedAt means "now".
type MessageInput struct {
	Role      Role      `json:"role" yaml:"role"`
	Content   string    `json:"content" yaml:"content"`
	CreatedAt time.Time `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

// Session is one conversation. Messages are ordered by append sequence;
// timestamps are informational only.
type Session struct {
	ID        string    `json:"id" yaml:"id"`
	Title     string    `json:"title" yaml:"title"`
	Messages  []Message `json:"messages" yaml:"messages"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// Clone returns a deep copy of the session so callers cannot observe later
// mutations through the message slice.
func (s *Session) Clone() Session {
	out := *s
	out.Messages = make([]Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	return out
}

// TitleFromContent derives a session title from message content: the first
// TitleMaxRunes runes, with "..." appended when the content was truncated.
func TitleFromContent(content string) string {
	if utf8.RuneCountInString(content) <= TitleMaxRunes {
		return content
	}
	var b strings.Builder
	n := 0
	for _, r := range content {
		if n == TitleMaxRunes {
			break
		}
		b.WriteRune(r)
		n++
	}
	b.WriteString("...")
	return b.String()
}
