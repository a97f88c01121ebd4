package notify

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used when no database is configured and
// by tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string][]*Notification // recipientID -> notifications
}

// NewMemoryStore creates an empty in-memory notification store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]*Notification)}
}

// Create persists a new notification record.
func (s *MemoryStore) Create(ctx context.Context, n *Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *n
	s.records[n.RecipientID] = append(s.records[n.RecipientID], &cp)
	return nil
}

// List returns the recipient's notifications, newest first.
func (s *MemoryStore) List(ctx context.Context, recipientID string, f ListFilter) ([]Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := []Notification{}
	for _, n := range s.records[recipientID] {
		if f.UnreadOnly && n.Read {
			continue
		}
		if f.Since > 0 && n.CreatedAt < f.Since {
			continue
		}
		if f.Until > 0 && n.CreatedAt > f.Until {
			continue
		}
		out = append(out, *n)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// MarkRead flips the read flag and stamps ReadAt.
func (s *MemoryStore) MarkRead(ctx context.Context, recipientID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range s.records[recipientID] {
		if n.ID != id {
			continue
		}
		if !n.Read {
			n.Read = true
			n.ReadAt = time.Now().UnixMilli()
		}
		return nil
	}
	return ErrNotFound
}
