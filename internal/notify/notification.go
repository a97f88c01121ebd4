// Package notify persists and delivers domain notifications. Business
// controllers call the Dispatcher after their own state change has committed;
// the notification is persisted first and then, if the recipient is online,
// pushed live into their personal room. Delivery is best-effort: an offline
// recipient simply lists the record on next connect.
package notify

import "errors"

// ErrNotFound is returned when a notification does not exist for the
// recipient (or was addressed to someone else).
var ErrNotFound = errors.New("notify: notification not found")

// Priority values. Anything else is normalized to PriorityNormal.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// Reference points at the business entity that triggered the notification.
type Reference struct {
	EntityType string `json:"entityType"` // e.g. "connection_request", "donation", "job"
	EntityID   string `json:"entityId"`
}

// Notification is a durable per-recipient record of a business event. It is
// created once and mutated only by the read-state transition.
type Notification struct {
	ID          string    `json:"id"`
	RecipientID string    `json:"recipientId"`
	Type        string    `json:"type"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	Reference   Reference `json:"reference"`
	Priority    string    `json:"priority"`
	Read        bool      `json:"read"`
	ReadAt      int64     `json:"readAt,omitempty"`  // unix milliseconds, zero until read
	CreatedAt   int64     `json:"createdAt"`         // unix milliseconds
}
