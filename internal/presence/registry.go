package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix is the Redis key prefix for all presence mirror entries.
	KeyPrefix = "presence:"

	// EntryTTL bounds how long a stale entry can outlive a crashed gateway
	// instance. Live entries are refreshed by the heartbeat.
	EntryTTL = 2 * time.Minute
)

// Registry mirrors the in-memory online set into Redis so the REST layer can
// answer "who is online" without reaching into the gateway process. The
// mirror is advisory: the in-memory Tracker remains the source of truth for
// push decisions, and mirror failures never affect a connection.
type Registry struct {
	client   *redis.Client
	instance string // identifier for this gateway instance
}

// NewRegistry creates a presence registry connected to Redis.
func NewRegistry(redisAddr string, instance string) (*Registry, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	// Verify connection.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("presence: redis connection failed: %w", err)
	}

	return &Registry{client: client, instance: instance}, nil
}

// SetOnline records the subject as online on this instance.
func (r *Registry) SetOnline(ctx context.Context, subjectID string) error {
	key := KeyPrefix + subjectID

	pipe := r.client.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"instance": r.instance,
		"since":    time.Now().Unix(),
	})
	pipe.Expire(ctx, key, EntryTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// SetOffline deletes the subject's presence entry.
func (r *Registry) SetOffline(ctx context.Context, subjectID string) error {
	return r.client.Del(ctx, KeyPrefix+subjectID).Err()
}

// Refresh extends the TTL of a live presence entry.
func (r *Registry) Refresh(ctx context.Context, subjectID string) error {
	return r.client.Expire(ctx, KeyPrefix+subjectID, EntryTTL).Err()
}

// IsOnline reports whether the subject has a presence entry in the mirror.
func (r *Registry) IsOnline(ctx context.Context, subjectID string) (bool, error) {
	err := r.client.HGet(ctx, KeyPrefix+subjectID, "instance").Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Close closes the Redis connection.
func (r *Registry) Close() error {
	return r.client.Close()
}

// Client returns the underlying Redis client for use by other packages.
func (r *Registry) Client() *redis.Client {
	return r.client
}
