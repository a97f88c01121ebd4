package ban

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestStore creates a Store connected to a local Redis instance and cleans
// up test keys on exit. Tests that call this helper require a running Redis
// on localhost:6379 and skip otherwise.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}

	cleanup := func() {
		for _, pattern := range []string{SuspendPrefix + "test_*", StrikesPrefix + "test_*"} {
			iter := client.Scan(ctx, 0, pattern, 100).Iterator()
			for iter.Next(ctx) {
				client.Del(ctx, iter.Val())
			}
		}
	}
	cleanup()
	t.Cleanup(func() {
		cleanup()
		client.Close()
	})
	return NewStore(client)
}

func TestIsSuspendedNotSuspended(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	suspended, remaining, reason, err := store.IsSuspended(ctx, "test_clean")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if suspended {
		t.Errorf("expected not suspended, got suspended (remaining=%d reason=%q)", remaining, reason)
	}
}

func TestSuspendAndCheck(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Suspend(ctx, "test_subj", 1*time.Hour, "harassment"); err != nil {
		t.Fatalf("Suspend: %v", err)
	}

	suspended, remaining, reason, err := store.IsSuspended(ctx, "test_subj")
	if err != nil {
		t.Fatalf("IsSuspended: %v", err)
	}
	if !suspended {
		t.Fatal("expected suspended")
	}
	if reason != "harassment" {
		t.Errorf("reason = %q, want %q", reason, "harassment")
	}
	if remaining <= 0 || remaining > 3600 {
		t.Errorf("remaining = %d, want (0, 3600]", remaining)
	}
}

func TestLift(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Suspend(ctx, "test_lift", 1*time.Hour, "spam"); err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	if err := store.Lift(ctx, "test_lift"); err != nil {
		t.Fatalf("Lift: %v", err)
	}

	suspended, _, _, err := store.IsSuspended(ctx, "test_lift")
	if err != nil {
		t.Fatalf("IsSuspended: %v", err)
	}
	if suspended {
		t.Error("expected suspension lifted")
	}
}

func TestStrikeEscalation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	want := []time.Duration{Suspend1Hour, Suspend24Hour, Suspend7Day, Suspend7Day}
	for i, expected := range want {
		got, err := store.Strike(ctx, "test_repeat", "abuse")
		if err != nil {
			t.Fatalf("Strike #%d: %v", i+1, err)
		}
		if got != expected {
			t.Errorf("strike #%d duration = %s, want %s", i+1, got, expected)
		}
	}

	count, err := store.StrikeCount(ctx, "test_repeat")
	if err != nil {
		t.Fatalf("StrikeCount: %v", err)
	}
	if count != len(want) {
		t.Errorf("strike count = %d, want %d", count, len(want))
	}

	suspended, _, _, err := store.IsSuspended(ctx, "test_repeat")
	if err != nil {
		t.Fatalf("IsSuspended: %v", err)
	}
	if !suspended {
		t.Error("expected subject suspended after strikes")
	}
}

func TestStrikeCountUnknownSubject(t *testing.T) {
	store := newTestStore(t)

	count, err := store.StrikeCount(context.Background(), "test_unknown")
	if err != nil {
		t.Fatalf("StrikeCount: %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0", count)
	}
}
