package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/alumnet/platform/internal/metrics"
	"github.com/alumnet/platform/internal/protocol"
)

// Presence answers whether a recipient currently has a live connection. The
// gateway's in-memory tracker implements it.
type Presence interface {
	IsOnline(subjectID string) bool
}

// Pusher delivers a prebuilt event into a subject's personal room.
type Pusher interface {
	PushPersonal(subjectID string, data []byte)
}

// Result reports what a Notify call accomplished.
type Result struct {
	Persisted bool `json:"persisted"`
	Pushed    bool `json:"pushed"`
}

// Request is the notification contract consumed from business controllers,
// either in-process or as JSON over the notify ingress subject.
type Request struct {
	RecipientID string    `json:"recipientId"`
	Type        string    `json:"type"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	Reference   Reference `json:"reference"`
	Priority    string    `json:"priority"`
}

// Dispatcher persists notifications and pushes them live to online
// recipients. Persistence always happens first; a persistence failure is
// reported to the caller but never rolls back the triggering business action.
type Dispatcher struct {
	store    Store
	presence Presence
	pusher   Pusher
}

// NewDispatcher creates a Dispatcher. presence and pusher may be nil, in
// which case notifications are persisted but never pushed.
func NewDispatcher(store Store, presence Presence, pusher Pusher) *Dispatcher {
	return &Dispatcher{store: store, presence: presence, pusher: pusher}
}

// Notify persists a notification and, if the recipient is online, pushes it
// into their personal room. The returned Result distinguishes "stored but
// recipient offline" from "stored and delivered live".
func (d *Dispatcher) Notify(ctx context.Context, req Request) (Result, error) {
	priority := req.Priority
	switch priority {
	case PriorityLow, PriorityNormal, PriorityHigh:
	default:
		priority = PriorityNormal
	}

	n := &Notification{
		ID:          uuid.New().String(),
		RecipientID: req.RecipientID,
		Type:        req.Type,
		Title:       req.Title,
		Body:        req.Body,
		Reference:   req.Reference,
		Priority:    priority,
		CreatedAt:   time.Now().UnixMilli(),
	}

	if err := d.store.Create(ctx, n); err != nil {
		metrics.NotificationsTotal.WithLabelValues("failed").Inc()
		return Result{}, fmt.Errorf("notify: persist: %w", err)
	}
	metrics.NotificationsTotal.WithLabelValues("persisted").Inc()
	res := Result{Persisted: true}

	if d.presence == nil || d.pusher == nil || !d.presence.IsOnline(req.RecipientID) {
		return res, nil
	}

	data, err := protocol.NewServerMessage(protocol.TypeNotification, protocol.NotificationMsg{
		Notification: n,
	})
	if err != nil {
		// The record is safe; the live push is best-effort.
		log.Printf("[notify] failed to build push event recipient=%s: %v", req.RecipientID, err)
		return res, nil
	}

	d.pusher.PushPersonal(req.RecipientID, data)
	metrics.NotificationsTotal.WithLabelValues("pushed").Inc()
	res.Pushed = true
	return res, nil
}

// HandleRequest decodes a JSON Request received from the notify ingress
// subject and dispatches it. Used by the NATS subscription in the serving
// binary; out-of-process controllers publish here after their transaction
// commits.
func (d *Dispatcher) HandleRequest(ctx context.Context, data []byte) error {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("notify: decode request: %w", err)
	}
	if req.RecipientID == "" {
		return fmt.Errorf("notify: request missing recipientId")
	}

	res, err := d.Notify(ctx, req)
	if err != nil {
		return err
	}
	log.Printf("[notify] dispatched recipient=%s type=%s persisted=%v pushed=%v",
		req.RecipientID, req.Type, res.Persisted, res.Pushed)
	return nil
}
