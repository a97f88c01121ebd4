package chat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store used when no database is configured
// (local development) and by tests. It honors the same ordering contract as
// the Postgres store: appends per conversation are serialized and timestamps
// are strictly increasing.
type MemoryStore struct {
	mu           sync.Mutex
	messages     map[string][]Message
	participants map[string]map[string]struct{}
	lastTs       map[string]int64
}

// NewMemoryStore creates an empty in-memory chat store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages:     make(map[string][]Message),
		participants: make(map[string]map[string]struct{}),
		lastTs:       make(map[string]int64),
	}
}

// Append persists a message and returns it with its assigned id and timestamp.
func (s *MemoryStore) Append(ctx context.Context, chatID, senderID, senderRole, body string) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := time.Now().UnixMilli()
	if ts <= s.lastTs[chatID] {
		ts = s.lastTs[chatID] + 1
	}
	s.lastTs[chatID] = ts

	msg := Message{
		ID:         uuid.New().String(),
		ChatID:     chatID,
		SenderID:   senderID,
		SenderRole: senderRole,
		Body:       body,
		Timestamp:  ts,
	}
	s.messages[chatID] = append(s.messages[chatID], msg)
	return msg, nil
}

// History returns up to limit of the most recent messages in append order.
func (s *MemoryStore) History(ctx context.Context, chatID string, limit int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.messages[chatID]
	start := 0
	if limit > 0 && len(all) > limit {
		start = len(all) - limit
	}

	out := make([]Message, len(all)-start)
	copy(out, all[start:])
	return out, nil
}

// IsParticipant reports whether the subject belongs to the conversation.
func (s *MemoryStore) IsParticipant(ctx context.Context, chatID, subjectID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.participants[chatID][subjectID]
	return ok, nil
}

// AddParticipants records conversation membership.
func (s *MemoryStore) AddParticipants(ctx context.Context, chatID string, subjectIDs ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.participants[chatID]
	if !ok {
		set = make(map[string]struct{})
		s.participants[chatID] = set
	}
	for _, subjectID := range subjectIDs {
		set[subjectID] = struct{}{}
	}
	return nil
}
