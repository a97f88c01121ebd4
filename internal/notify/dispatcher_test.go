package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
)

// fakePresence reports a fixed online set.
type fakePresence struct {
	online map[string]bool
}

func (f *fakePresence) IsOnline(subjectID string) bool { return f.online[subjectID] }

// fakePusher records personal-room pushes.
type fakePusher struct {
	mu     sync.Mutex
	pushes map[string][][]byte
}

func newFakePusher() *fakePusher {
	return &fakePusher{pushes: make(map[string][][]byte)}
}

func (f *fakePusher) PushPersonal(subjectID string, data []byte) {
	f.mu.Lock()
	f.pushes[subjectID] = append(f.pushes[subjectID], data)
	f.mu.Unlock()
}

// failingStore rejects every create.
type failingStore struct{}

func (failingStore) Create(ctx context.Context, n *Notification) error {
	return errors.New("store down")
}
func (failingStore) List(ctx context.Context, recipientID string, f ListFilter) ([]Notification, error) {
	return nil, errors.New("store down")
}
func (failingStore) MarkRead(ctx context.Context, recipientID, id string) error {
	return errors.New("store down")
}

func TestNotifyOnlineRecipientPersistsAndPushes(t *testing.T) {
	store := NewMemoryStore()
	pusher := newFakePusher()
	d := NewDispatcher(store, &fakePresence{online: map[string]bool{"alumni-a": true}}, pusher)

	res, err := d.Notify(context.Background(), Request{
		RecipientID: "alumni-a",
		Type:        "connection_accepted",
		Title:       "Connection accepted",
		Body:        "Jordan accepted your connection request",
		Reference:   Reference{EntityType: "connection_request", EntityID: "cr-1"},
		Priority:    PriorityHigh,
	})
	if err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if !res.Persisted || !res.Pushed {
		t.Fatalf("expected persisted and pushed, got %+v", res)
	}

	// Store record exists.
	list, err := store.List(context.Background(), "alumni-a", ListFilter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 stored notification, got %d", len(list))
	}
	n := list[0]
	if n.Type != "connection_accepted" || n.Read || n.ID == "" || n.CreatedAt == 0 {
		t.Errorf("unexpected stored notification: %+v", n)
	}

	// Live push landed in the personal room with the stored id.
	pushes := pusher.pushes["alumni-a"]
	if len(pushes) != 1 {
		t.Fatalf("expected 1 push, got %d", len(pushes))
	}
	var event struct {
		Type         string       `json:"type"`
		Notification Notification `json:"notification"`
	}
	if err := json.Unmarshal(pushes[0], &event); err != nil {
		t.Fatalf("failed to decode push: %v", err)
	}
	if event.Type != "notification" {
		t.Errorf("push type = %q, want %q", event.Type, "notification")
	}
	if event.Notification.ID != n.ID {
		t.Errorf("push id = %q, want stored id %q", event.Notification.ID, n.ID)
	}
}

func TestNotifyOfflineRecipientPersistsOnly(t *testing.T) {
	store := NewMemoryStore()
	pusher := newFakePusher()
	d := NewDispatcher(store, &fakePresence{online: map[string]bool{}}, pusher)

	res, err := d.Notify(context.Background(), Request{
		RecipientID: "alumni-b",
		Type:        "donation_received",
		Title:       "Thank you",
	})
	if err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if !res.Persisted {
		t.Error("expected persisted")
	}
	if res.Pushed {
		t.Error("expected no push for offline recipient")
	}
	if len(pusher.pushes["alumni-b"]) != 0 {
		t.Errorf("expected 0 pushes, got %d", len(pusher.pushes["alumni-b"]))
	}

	list, err := store.List(context.Background(), "alumni-b", ListFilter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 stored notification, got %d", len(list))
	}
}

func TestNotifyPersistenceFailure(t *testing.T) {
	pusher := newFakePusher()
	d := NewDispatcher(failingStore{}, &fakePresence{online: map[string]bool{"alumni-a": true}}, pusher)

	res, err := d.Notify(context.Background(), Request{RecipientID: "alumni-a", Type: "x"})
	if err == nil {
		t.Fatal("expected error when store is down")
	}
	if res.Persisted || res.Pushed {
		t.Fatalf("expected zero result on persistence failure, got %+v", res)
	}
	if len(pusher.pushes["alumni-a"]) != 0 {
		t.Error("nothing should be pushed when persistence fails")
	}
}

func TestNotifyNormalizesPriority(t *testing.T) {
	store := NewMemoryStore()
	d := NewDispatcher(store, nil, nil)

	if _, err := d.Notify(context.Background(), Request{RecipientID: "a", Type: "x", Priority: "urgent!!"}); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	list, _ := store.List(context.Background(), "a", ListFilter{})
	if len(list) != 1 || list[0].Priority != PriorityNormal {
		t.Fatalf("expected normalized priority %q, got %+v", PriorityNormal, list)
	}
}

func TestHandleRequest(t *testing.T) {
	store := NewMemoryStore()
	d := NewDispatcher(store, nil, nil)

	payload := []byte(`{"recipientId":"alumni-c","type":"job_status","title":"Application update","body":"Your application moved to interview","reference":{"entityType":"job","entityId":"job-9"},"priority":"low"}`)
	if err := d.HandleRequest(context.Background(), payload); err != nil {
		t.Fatalf("HandleRequest() error = %v", err)
	}

	list, err := store.List(context.Background(), "alumni-c", ListFilter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 stored notification, got %d", len(list))
	}
	if list[0].Reference.EntityID != "job-9" || list[0].Priority != PriorityLow {
		t.Errorf("unexpected stored notification: %+v", list[0])
	}
}

func TestHandleRequestRejectsBadPayload(t *testing.T) {
	d := NewDispatcher(NewMemoryStore(), nil, nil)

	if err := d.HandleRequest(context.Background(), []byte(`{not json`)); err == nil {
		t.Error("expected error for malformed JSON")
	}
	if err := d.HandleRequest(context.Background(), []byte(`{"type":"x"}`)); err == nil {
		t.Error("expected error for missing recipientId")
	}
}

func TestMarkReadTransition(t *testing.T) {
	store := NewMemoryStore()
	d := NewDispatcher(store, nil, nil)
	ctx := context.Background()

	if _, err := d.Notify(ctx, Request{RecipientID: "a", Type: "x"}); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	list, _ := store.List(ctx, "a", ListFilter{})
	id := list[0].ID

	if err := store.MarkRead(ctx, "a", id); err != nil {
		t.Fatalf("MarkRead() error = %v", err)
	}

	list, _ = store.List(ctx, "a", ListFilter{})
	if !list[0].Read || list[0].ReadAt == 0 {
		t.Fatalf("expected read notification with ReadAt set, got %+v", list[0])
	}
	readAt := list[0].ReadAt

	// Marking again is a no-op and preserves the original ReadAt.
	if err := store.MarkRead(ctx, "a", id); err != nil {
		t.Fatalf("second MarkRead() error = %v", err)
	}
	list, _ = store.List(ctx, "a", ListFilter{})
	if list[0].ReadAt != readAt {
		t.Errorf("ReadAt changed on repeat mark: %d -> %d", readAt, list[0].ReadAt)
	}

	// Unread filter now excludes it.
	unread, _ := store.List(ctx, "a", ListFilter{UnreadOnly: true})
	if len(unread) != 0 {
		t.Errorf("expected 0 unread, got %d", len(unread))
	}

	if err := store.MarkRead(ctx, "a", "missing-id"); !errors.Is(err, ErrNotFound) {
		t.Errorf("MarkRead(missing) error = %v, want ErrNotFound", err)
	}
}
