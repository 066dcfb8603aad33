package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/scrypster/chatmem/internal/storage"
	"github.com/scrypster/chatmem/pkg/types"
)

// ErrSendFailed is returned when a chat turn could not produce a reply.
var ErrSendFailed = errors.New("message failed to send")

// ChatTurnResult is the outcome of one chat turn.
type ChatTurnResult struct {
	// SessionID is the session the turn was recorded in. It differs from
	// the requested ID when the session had to be created.
	SessionID string `json:"session_id"`

	// SessionCreated reports whether a new session was created.
	SessionCreated bool `json:"session_created"`

	// Title is the session title after the turn.
	Title string `json:"title"`

	// UserMessage is the stored user message.
	UserMessage types.Message `json:"user_message"`

	// Reply is the stored assistant message.
	Reply types.Message `json:"reply"`

	// ExtractionQueued reports whether the user message was queued for
	// memory extraction.
	ExtractionQueued bool `json:"extraction_queued"`
}

// SendMessage runs one chat turn: it records the user message (creating the
// session when sessionID is empty or unknown), queues the message for memory
// extraction, asks the chat generator for a reply using the system prompt
// plus the scope's memory context, and records the reply.
//
// If the session is deleted while the reply is being generated, both
// messages are recorded in a fresh session whose ID is returned. Extraction
// never affects the outcome; reply failures are returned wrapped in
// ErrSendFailed.
func (e *Engine) SendMessage(ctx context.Context, scope, sessionID, text string) (*ChatTurnResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: message is required", storage.ErrInvalidInput)
	}

	sessions := e.workspaces.get(scope).sessions

	sess, created, err := sessions.Ensure(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	result := &ChatTurnResult{SessionID: sess.ID, SessionCreated: created}

	userInput := types.MessageInput{Role: types.RoleUser, Content: text}
	userMsg, err := sessions.Append(ctx, sess.ID, userInput)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	result.UserMessage = *userMsg
	userInput.CreatedAt = userMsg.CreatedAt
	e.emit(EventMessageAppended(scope, sess.ID))

	result.ExtractionQueued = e.ProcessMessage(scope, text)

	transcript := []types.Message{*userMsg}
	if current, err := sessions.Get(ctx, sess.ID); err == nil {
		transcript = current.Messages
	}

	chatCtx, cancel := context.WithTimeout(ctx, e.config.ChatTimeout)
	reply, err := e.chat.Chat(chatCtx, e.buildSystemPrompt(ctx, scope), transcript)
	cancel()
	if err != nil {
		log.Printf("ERROR: Chat reply failed for session %s: %v", sess.ID, err)
		return nil, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	replyInput := types.MessageInput{Role: types.RoleAssistant, Content: reply}
	if replyInput.Content == "" {
		replyInput.Content = "..."
	}

	replyMsg, err := sessions.Append(ctx, sess.ID, replyInput)
	if errors.Is(err, storage.ErrNotFound) {
		log.Printf("WARNING: Session %s vanished during chat turn, recording in a new session", sess.ID)
		replyMsg, err = e.recordInNewSession(ctx, scope, result, userInput, replyInput)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	result.Reply = *replyMsg
	e.emit(EventMessageAppended(scope, result.SessionID))

	if final, err := sessions.Get(ctx, result.SessionID); err == nil {
		result.Title = final.Title
	}

	return result, nil
}

// recordInNewSession creates a session and appends both messages of a turn
// whose original session was deleted.
func (e *Engine) recordInNewSession(ctx context.Context, scope string, result *ChatTurnResult, userInput, replyInput types.MessageInput) (*types.Message, error) {
	sessions := e.workspaces.get(scope).sessions

	sess, err := sessions.Create(ctx)
	if err != nil {
		return nil, err
	}

	userMsg, err := sessions.Append(ctx, sess.ID, userInput)
	if err != nil {
		return nil, err
	}

	result.SessionID = sess.ID
	result.SessionCreated = true
	result.UserMessage = *userMsg

	return sessions.Append(ctx, sess.ID, replyInput)
}
