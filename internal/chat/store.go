// Package chat persists conversation history. The store is the single source
// of truth for message ordering: ids and timestamps are assigned at append
// time under a per-conversation lock, so order is defined by persistence, not
// by arrival at the gateway.
package chat

import (
	"context"
	"errors"
)

// ErrNotParticipant is returned when a subject attempts an operation on a
// conversation it does not belong to.
var ErrNotParticipant = errors.New("chat: subject is not a conversation participant")

// Message is one persisted conversation entry.
type Message struct {
	ID         string `json:"_id"`
	ChatID     string `json:"chatId"`
	SenderID   string `json:"senderId"`
	SenderRole string `json:"sender"`
	Body       string `json:"message"`
	Timestamp  int64  `json:"timestamp"` // unix milliseconds, strictly increasing per conversation
}

// Store is the durable append-only history for conversations.
type Store interface {
	// Append persists a message and returns it with its store-assigned id and
	// timestamp. Appends to the same conversation are serialized; two
	// near-simultaneous senders never interleave partially or share a
	// timestamp.
	Append(ctx context.Context, chatID, senderID, senderRole, body string) (Message, error)

	// History returns up to limit of the most recent messages for the
	// conversation, in append order (oldest first).
	History(ctx context.Context, chatID string, limit int) ([]Message, error)

	// IsParticipant reports whether the subject belongs to the conversation.
	// Unknown conversations have no participants.
	IsParticipant(ctx context.Context, chatID, subjectID string) (bool, error)
}
