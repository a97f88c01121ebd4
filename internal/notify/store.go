package notify

import "context"

// ListFilter narrows a List call. Zero values mean "no constraint".
type ListFilter struct {
	UnreadOnly bool
	Since      int64 // inclusive lower bound on CreatedAt, unix milliseconds
	Until      int64 // inclusive upper bound on CreatedAt, unix milliseconds
	Limit      int
}

// Store is the durable per-recipient notification collection. The REST layer
// uses List for its notification feed; the realtime subsystem only creates
// records and flips their read state.
type Store interface {
	// Create persists a new notification record.
	Create(ctx context.Context, n *Notification) error

	// List returns the recipient's notifications, newest first, narrowed by
	// the filter.
	List(ctx context.Context, recipientID string, f ListFilter) ([]Notification, error)

	// MarkRead transitions a notification to read and stamps ReadAt. Marking
	// an already-read notification is a no-op. Returns ErrNotFound if the
	// notification does not exist for this recipient.
	MarkRead(ctx context.Context, recipientID, id string) error
}
