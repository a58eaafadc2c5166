package audit

import (
	"context"
	"fmt"
	"time"

	"ms-checkin/internal/logger"

	"github.com/go-redis/redis/v8"
)

// NotFoundTracker counts ticket_not_found scans per device in a fixed
// window. A device that keeps presenting unknown codes is flagged once per
// window when it reaches the threshold.
type NotFoundTracker struct {
	Client    redis.Cmdable
	Window    time.Duration
	Threshold int64
	Logger    *logger.Logger
}

func NewNotFoundTracker(client redis.Cmdable, window time.Duration, threshold int, l *logger.Logger) *NotFoundTracker {
	return &NotFoundTracker{Client: client, Window: window, Threshold: int64(threshold), Logger: l}
}

func notFoundKey(deviceID string) string {
	if deviceID == "" {
		deviceID = "unknown"
	}
	return "checkin:notfound:" + deviceID
}

// Observe records one not-found scan and returns the count so far in the
// current window.
func (t *NotFoundTracker) Observe(ctx context.Context, deviceID string) (int64, error) {
	key := notFoundKey(deviceID)
	var (
		incr *redis.IntCmd
		ttl  *redis.DurationCmd
	)
	_, err := t.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		ttl = pipe.TTL(ctx, key)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	n := incr.Val()
	// also repairs a key left without expiry
	if ttl.Val() < 0 {
		if err := t.Client.Expire(ctx, key, t.Window).Err(); err != nil {
			return n, fmt.Errorf("expire %s: %w", key, err)
		}
	}
	if t.Threshold > 0 && n == t.Threshold {
		t.Logger.LogSecurity("NOT_FOUND_BURST", fmt.Sprintf("device=%s unknown codes=%d within %s", deviceID, n, t.Window))
	}
	return n, nil
}

// Count returns the current window's count for a device.
func (t *NotFoundTracker) Count(ctx context.Context, deviceID string) (int64, error) {
	n, err := t.Client.Get(ctx, notFoundKey(deviceID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}
