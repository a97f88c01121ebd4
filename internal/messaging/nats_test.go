package messaging

import (
	"sync/atomic"
	"testing"
	"time"
)

// newTestClient connects to a local NATS server and skips the test when none
// is available.
func newTestClient(t *testing.T, name string) *Client {
	t.Helper()
	config := DefaultConfig()
	config.Name = name
	config.MaxReconnects = 0
	client, err := NewClient(config)
	if err != nil {
		t.Skipf("nats not available: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestNotifyQueueDeliversToOneSubscriber(t *testing.T) {
	// Two gateway instances subscribed to the notification ingress: each
	// request must be handled exactly once across the cluster, or every
	// instance would persist its own copy.
	a := newTestClient(t, "test-gateway-a")
	b := newTestClient(t, "test-gateway-b")

	var handled int64
	handler := func(data []byte) { atomic.AddInt64(&handled, 1) }
	if err := a.SubscribeNotify(handler); err != nil {
		t.Fatalf("SubscribeNotify: %v", err)
	}
	if err := b.SubscribeNotify(handler); err != nil {
		t.Fatalf("SubscribeNotify: %v", err)
	}

	pub := newTestClient(t, "test-publisher")
	for i := 0; i < 5; i++ {
		if err := pub.PublishNotify([]byte(`{"recipientId":"alice","type":"message"}`)); err != nil {
			t.Fatalf("PublishNotify: %v", err)
		}
	}

	deadline := time.After(2 * time.Second)
	for atomic.LoadInt64(&handled) < 5 {
		select {
		case <-deadline:
			t.Fatalf("handled %d of 5 requests before timeout", atomic.LoadInt64(&handled))
		case <-time.After(10 * time.Millisecond):
		}
	}

	// Give duplicate deliveries a chance to show up before counting.
	time.Sleep(200 * time.Millisecond)
	if n := atomic.LoadInt64(&handled); n != 5 {
		t.Fatalf("handled = %d, want 5 (each request must reach exactly one instance)", n)
	}
}
