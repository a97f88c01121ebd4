package notify

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore implements Store on top of PostgreSQL via database/sql.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a notification store backed by the given database
// handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create inserts a notification record.
func (s *PostgresStore) Create(ctx context.Context, n *Notification) error {
	const query = `
		INSERT INTO notifications
			(id, recipient_id, kind, title, body, ref_entity_type, ref_entity_id, priority, read, read_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, NULL, $9)`

	_, err := s.db.ExecContext(ctx, query,
		n.ID, n.RecipientID, n.Type, n.Title, n.Body,
		n.Reference.EntityType, n.Reference.EntityID, n.Priority, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("notify: insert: %w", err)
	}
	return nil
}

// List returns the recipient's notifications, newest first.
func (s *PostgresStore) List(ctx context.Context, recipientID string, f ListFilter) ([]Notification, error) {
	query := `
		SELECT id, kind, title, body, ref_entity_type, ref_entity_id, priority, read, COALESCE(read_at, 0), created_at
		FROM notifications
		WHERE recipient_id = $1`
	args := []interface{}{recipientID}

	if f.UnreadOnly {
		query += ` AND read = FALSE`
	}
	if f.Since > 0 {
		args = append(args, f.Since)
		query += fmt.Sprintf(` AND created_at >= $%d`, len(args))
	}
	if f.Until > 0 {
		args = append(args, f.Until)
		query += fmt.Sprintf(` AND created_at <= $%d`, len(args))
	}
	query += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("notify: query list: %w", err)
	}
	defer rows.Close()

	out := []Notification{}
	for rows.Next() {
		n := Notification{RecipientID: recipientID}
		if err := rows.Scan(
			&n.ID, &n.Type, &n.Title, &n.Body,
			&n.Reference.EntityType, &n.Reference.EntityID,
			&n.Priority, &n.Read, &n.ReadAt, &n.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("notify: scan row: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notify: iterate rows: %w", err)
	}
	return out, nil
}

// MarkRead flips the read flag and stamps read_at. Already-read records are
// left untouched.
func (s *PostgresStore) MarkRead(ctx context.Context, recipientID, id string) error {
	const query = `
		UPDATE notifications
		SET read = TRUE, read_at = $3
		WHERE id = $1 AND recipient_id = $2 AND read = FALSE`

	res, err := s.db.ExecContext(ctx, query, id, recipientID, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("notify: mark read: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("notify: mark read rows affected: %w", err)
	}
	if affected == 0 {
		// Either missing or already read; distinguish so callers can 404.
		var exists bool
		const check = `SELECT EXISTS (SELECT 1 FROM notifications WHERE id = $1 AND recipient_id = $2)`
		if err := s.db.QueryRowContext(ctx, check, id, recipientID).Scan(&exists); err != nil {
			return fmt.Errorf("notify: mark read check: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
	}
	return nil
}
