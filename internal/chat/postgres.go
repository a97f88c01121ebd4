package chat

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PostgresStore implements Store on top of PostgreSQL via database/sql.
// Per-conversation append serialization happens in this process: each
// conversation has its own mutex, and the last assigned timestamp is cached
// so consecutive appends within the same millisecond still advance.
type PostgresStore struct {
	db *sql.DB

	mu     sync.Mutex             // guards locks and lastTs
	locks  map[string]*sync.Mutex // per-conversation append locks
	lastTs map[string]int64       // last assigned timestamp per conversation
}

// NewPostgresStore creates a chat store backed by the given database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:     db,
		locks:  make(map[string]*sync.Mutex),
		lastTs: make(map[string]int64),
	}
}

// lockFor returns the append lock for a conversation, creating it on first use.
func (s *PostgresStore) lockFor(chatID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[chatID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[chatID] = l
	}
	return l
}

// nextTimestamp assigns a strictly increasing unix-milli timestamp for the
// conversation. Must be called while holding the conversation's append lock.
// On first use for a conversation it consults the table so ordering survives
// process restarts.
func (s *PostgresStore) nextTimestamp(ctx context.Context, chatID string) (int64, error) {
	s.mu.Lock()
	last, ok := s.lastTs[chatID]
	s.mu.Unlock()

	if !ok {
		row := s.db.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(ts), 0) FROM chat_messages WHERE chat_id = $1`, chatID)
		if err := row.Scan(&last); err != nil {
			return 0, fmt.Errorf("chat: load last timestamp: %w", err)
		}
	}

	ts := time.Now().UnixMilli()
	if ts <= last {
		ts = last + 1
	}

	s.mu.Lock()
	s.lastTs[chatID] = ts
	s.mu.Unlock()
	return ts, nil
}

// Append persists a message and returns it with its assigned id and timestamp.
func (s *PostgresStore) Append(ctx context.Context, chatID, senderID, senderRole, body string) (Message, error) {
	lock := s.lockFor(chatID)
	lock.Lock()
	defer lock.Unlock()

	ts, err := s.nextTimestamp(ctx, chatID)
	if err != nil {
		return Message{}, err
	}

	msg := Message{
		ID:         uuid.New().String(),
		ChatID:     chatID,
		SenderID:   senderID,
		SenderRole: senderRole,
		Body:       body,
		Timestamp:  ts,
	}

	const query = `
		INSERT INTO chat_messages (id, chat_id, sender_id, sender_role, body, ts)
		VALUES ($1, $2, $3, $4, $5, $6)`

	if _, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.ChatID, msg.SenderID, msg.SenderRole, msg.Body, msg.Timestamp,
	); err != nil {
		return Message{}, fmt.Errorf("chat: insert message: %w", err)
	}
	return msg, nil
}

// History returns up to limit of the most recent messages in append order.
func (s *PostgresStore) History(ctx context.Context, chatID string, limit int) ([]Message, error) {
	const query = `
		SELECT id, sender_id, sender_role, body, ts FROM (
			SELECT id, sender_id, sender_role, body, ts
			FROM chat_messages
			WHERE chat_id = $1
			ORDER BY ts DESC
			LIMIT $2
		) recent
		ORDER BY ts ASC`

	rows, err := s.db.QueryContext(ctx, query, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("chat: query history: %w", err)
	}
	defer rows.Close()

	msgs := []Message{}
	for rows.Next() {
		m := Message{ChatID: chatID}
		if err := rows.Scan(&m.ID, &m.SenderID, &m.SenderRole, &m.Body, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("chat: scan history row: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chat: iterate history: %w", err)
	}
	return msgs, nil
}

// IsParticipant reports whether the subject belongs to the conversation.
func (s *PostgresStore) IsParticipant(ctx context.Context, chatID, subjectID string) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM chat_participants WHERE chat_id = $1 AND subject_id = $2
		)`

	var ok bool
	if err := s.db.QueryRowContext(ctx, query, chatID, subjectID).Scan(&ok); err != nil {
		return false, fmt.Errorf("chat: check participant: %w", err)
	}
	return ok, nil
}

// AddParticipants records conversation membership. Conversations themselves
// are created by the REST layer; this is the seam it uses.
func (s *PostgresStore) AddParticipants(ctx context.Context, chatID string, subjectIDs ...string) error {
	const query = `
		INSERT INTO chat_participants (chat_id, subject_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`

	for _, subjectID := range subjectIDs {
		if _, err := s.db.ExecContext(ctx, query, chatID, subjectID); err != nil {
			return fmt.Errorf("chat: add participant: %w", err)
		}
	}
	return nil
}
