package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/scrypster/chatmem/internal/storage"
	"github.com/scrypster/chatmem/pkg/types"
)

// IncomingMessage is one message of a transcript kept by a client while it
// was a guest. It is untrusted input.
type IncomingMessage struct {
	Role      string    `json:"role" yaml:"role"`
	Content   string    `json:"content" yaml:"content"`
	CreatedAt time.Time `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

// MergeTranscript merges a guest transcript into targetSessionID of scope.
//
// The whole transcript is validated before anything is written: a message
// with an unknown role or empty content rejects the merge with
// storage.ErrInvalidInput. A missing target is created with that ID and the
// "Imported" title, which the first user message of the transcript then
// replaces. Messages whose (role, content) already appear in the session are
// skipped, so merging the same transcript twice is a no-op. This also drops
// legitimately repeated messages, such as two separate "yes" replies.
func (e *Engine) MergeTranscript(ctx context.Context, scope, targetSessionID string, incoming []IncomingMessage) (*storage.MergeResult, error) {
	if targetSessionID == "" {
		return nil, fmt.Errorf("%w: target session ID is required", storage.ErrInvalidInput)
	}

	msgs := make([]types.MessageInput, len(incoming))
	for i, in := range incoming {
		msg := types.MessageInput{
			Role:      types.Role(in.Role),
			Content:   in.Content,
			CreatedAt: in.CreatedAt,
		}
		if !msg.Role.IsValid() {
			return nil, fmt.Errorf("%w: message %d has unknown role %q", storage.ErrInvalidInput, i, in.Role)
		}
		if msg.Content == "" {
			return nil, fmt.Errorf("%w: message %d has no content", storage.ErrInvalidInput, i)
		}
		msgs[i] = msg
	}

	sessions := e.workspaces.get(scope).sessions

	if !sessions.Exists(ctx, targetSessionID) {
		_, err := sessions.CreateWithID(ctx, targetSessionID, types.ImportedSessionTitle)
		if err != nil && !errors.Is(err, storage.ErrAlreadyExists) {
			return nil, fmt.Errorf("failed to create target session: %w", err)
		}
		if err == nil {
			log.Printf("Created session %s for imported transcript in scope %s", targetSessionID, scope)
		}
	}

	result, err := sessions.Merge(ctx, targetSessionID, msgs, storage.MergeOptions{
		TitleSentinel: types.ImportedSessionTitle,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to merge transcript: %w", err)
	}

	log.Printf("Merged transcript into session %s of scope %s (appended=%d, skipped=%d)",
		targetSessionID, scope, result.Appended, result.Skipped)
	e.emit(EventTranscriptMerged(scope, targetSessionID, result.Appended))

	return result, nil
}
