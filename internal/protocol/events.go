// Package protocol defines the realtime event types and structures exchanged
// between the client and the gateway. All events are serialized as JSON and
// follow a consistent envelope format with a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Event type constants
// ---------------------------------------------------------------------------

// Client -> Server event types. This set is closed: the gateway dispatches
// over it exhaustively and rejects anything else.
const (
	TypeJoinChat    = "joinChat"
	TypeLeaveChat   = "leaveChat"
	TypeSendMessage = "sendMessage"
	TypeTyping      = "typing"
	TypeMarkAsRead  = "markAsRead"
	TypePing        = "ping"
)

// Server -> Client event types.
const (
	TypeUserOnline   = "userOnline"
	TypeUserOffline  = "userOffline"
	TypeNewMessage   = "newMessage"
	TypeUserTyping   = "userTyping"
	TypeMessagesRead = "messagesRead"
	TypeChatHistory  = "chatHistory"
	TypeNotification = "notification"
	TypeError        = "error"
	TypePong         = "pong"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the event type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server event structs
// ---------------------------------------------------------------------------

// JoinChatMsg asks the gateway to join the conversation room for ChatID.
type JoinChatMsg struct {
	Type   string `json:"type"`
	ChatID string `json:"chatId"`
}

// LeaveChatMsg asks the gateway to leave the conversation room for ChatID.
type LeaveChatMsg struct {
	Type   string `json:"type"`
	ChatID string `json:"chatId"`
}

// SendMessageMsg carries a chat message to be persisted and broadcast.
type SendMessageMsg struct {
	Type    string `json:"type"`
	ChatID  string `json:"chatId"`
	Message string `json:"message"`
}

// TypingMsg indicates whether the client is currently typing in a conversation.
type TypingMsg struct {
	Type     string `json:"type"`
	ChatID   string `json:"chatId"`
	IsTyping bool   `json:"isTyping"`
}

// MarkAsReadMsg signals that the client has read a conversation up to now.
type MarkAsReadMsg struct {
	Type   string `json:"type"`
	ChatID string `json:"chatId"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client event structs
// ---------------------------------------------------------------------------

// UserOnlineMsg announces that a subject has come online (0->1 connections).
type UserOnlineMsg struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// UserOfflineMsg announces that a subject has gone offline (1->0 connections).
type UserOfflineMsg struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// NewMessageMsg is a persisted chat message broadcast to a conversation room.
// ID and Timestamp are assigned by the chat store, not by the gateway.
type NewMessageMsg struct {
	Type      string `json:"type"`
	ID        string `json:"_id"`
	ChatID    string `json:"chatId"`
	Sender    string `json:"sender"` // sender's role
	SenderID  string `json:"senderId"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds
}

// UserTypingMsg relays a typing indicator to the rest of a conversation room.
type UserTypingMsg struct {
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
	ChatID   string `json:"chatId"`
}

// MessagesReadMsg relays a read marker to the rest of a conversation room.
type MessagesReadMsg struct {
	Type   string `json:"type"`
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

// HistoryEntry is one persisted message replayed in a ChatHistoryMsg.
type HistoryEntry struct {
	ID        string `json:"_id"`
	Sender    string `json:"sender"`
	SenderID  string `json:"senderId"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// ChatHistoryMsg replays recent conversation history to a joining connection
// only, so reconnecting clients recover messages they may have missed.
type ChatHistoryMsg struct {
	Type     string         `json:"type"`
	ChatID   string         `json:"chatId"`
	Messages []HistoryEntry `json:"messages"`
}

// NotificationMsg pushes a freshly persisted notification into the
// recipient's personal room.
type NotificationMsg struct {
	Type         string      `json:"type"`
	Notification interface{} `json:"notification"`
}

// ErrorMsg is sent by the server to communicate an error condition scoped to
// the originating connection. The connection stays usable.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw bytes into a typed client event. It returns
// the event type string, the decoded struct, and any error encountered during
// parsing. An error is returned for unknown or server-only event types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse event: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeJoinChat:
		var m JoinChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLeaveChat:
		var m LeaveChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSendMessage:
		var m SendMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMarkAsRead:
		var m MarkAsReadMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client event type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server event.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the server event structs; this function marshals it to
// JSON, injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	// Marshal the payload struct to a generic map so we can ensure the "type"
	// field is present and correct.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server event: %w", err)
	}
	return out, nil
}
