// Package ban provides subject-level suspension management backed by Redis.
// Suspension records are stored as simple key-value pairs with TTL-based
// expiry:
//
//	Key:   suspend:<subjectId>
//	Value: <reason>
//	TTL:   suspension duration
//
// A suspended subject can still authenticate a token offline, so the gateway
// consults this store during the handshake and refuses the upgrade.
package ban

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// SuspendPrefix is the Redis key prefix for suspension records.
	SuspendPrefix = "suspend:"

	// StrikesPrefix is the Redis key prefix for strike counters used by
	// the escalating suspension system.
	StrikesPrefix = "strikes:"

	// Escalating suspension durations.
	Suspend1Hour  = 1 * time.Hour      // 1st strike
	Suspend24Hour = 24 * time.Hour     // 2nd strike
	Suspend7Day   = 7 * 24 * time.Hour // 3rd+ strike

	// StrikesTTL is how long the strike counter lives in Redis. After 30
	// days without new strikes the counter resets to zero.
	StrikesTTL = 30 * 24 * time.Hour
)

// Store manages suspension records in Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a suspension store using the provided Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// IsSuspended checks if a subject is currently suspended.
// Returns (suspended, remainingSeconds, reason, error). If the subject is
// not suspended, suspended is false and the other return values are
// zero/empty. Redis errors are returned so callers can decide how to handle
// them (the recommended policy is fail-open).
func (s *Store) IsSuspended(ctx context.Context, subjectID string) (bool, int, string, error) {
	key := SuspendPrefix + subjectID

	reason, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, 0, "", nil
	}
	if err != nil {
		return false, 0, "", err
	}

	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		// The suspension exists but the TTL read failed. Report suspended
		// with 0 remaining rather than swallowing the suspension.
		return true, 0, reason, nil
	}

	remaining := 0
	if ttl > 0 {
		remaining = int(ttl.Seconds())
	}

	return true, remaining, reason, nil
}

// Suspend sets a suspension on a subject with the given duration and reason.
// The suspension automatically expires after the specified duration.
func (s *Store) Suspend(ctx context.Context, subjectID string, duration time.Duration, reason string) error {
	key := SuspendPrefix + subjectID
	return s.client.Set(ctx, key, reason, duration).Err()
}

// Lift removes a suspension from a subject immediately.
func (s *Store) Lift(ctx context.Context, subjectID string) error {
	key := SuspendPrefix + subjectID
	return s.client.Del(ctx, key).Err()
}

// escalationDuration returns the suspension duration for a strike count.
func escalationDuration(strikes int) time.Duration {
	switch {
	case strikes <= 1:
		return Suspend1Hour
	case strikes == 2:
		return Suspend24Hour
	default:
		return Suspend7Day
	}
}

// StrikeCount returns the current strike counter for a subject. Returns 0 if
// the key does not exist (no strikes recorded or counter expired).
func (s *Store) StrikeCount(ctx context.Context, subjectID string) (int, error) {
	key := StrikesPrefix + subjectID
	val, err := s.client.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

// Strike increments the strike counter for a subject and applies a
// suspension whose duration escalates with the number of strikes:
//
//	1st strike  -> 1 hour
//	2nd strike  -> 24 hours
//	3rd+ strike -> 7 days
//
// The strike counter has a 30-day TTL set on first increment, so counters
// naturally expire if there is no new activity.
//
// Returns the suspension duration that was applied.
func (s *Store) Strike(ctx context.Context, subjectID string, reason string) (time.Duration, error) {
	key := StrikesPrefix + subjectID

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("ban: strike incr: %w", err)
	}

	// Set TTL only on first increment so the window doesn't slide.
	if count == 1 {
		if err := s.client.Expire(ctx, key, StrikesTTL).Err(); err != nil {
			return 0, fmt.Errorf("ban: strike expire: %w", err)
		}
	}

	duration := escalationDuration(int(count))
	if err := s.Suspend(ctx, subjectID, duration, reason); err != nil {
		return 0, fmt.Errorf("ban: strike suspend: %w", err)
	}

	return duration, nil
}
