// Package cooldown tracks per-trigger last-fired timestamps and schedule
// fired-marks. The evaluator only reads; the dispatcher writes after a
// confirmed dispatch, so a failed action never suppresses the next attempt.
package cooldown

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// firedMarkTTL bounds how long a schedule fired-mark is retained. Marks are
// keyed by scheduled instant, so anything older than two days can never match
// a current fire tick again.
const firedMarkTTL = 48 * time.Hour

// Store is the cooldown state used by the evaluator and dispatcher.
type Store interface {
	// LastFired returns the last confirmed firing of a trigger, if any.
	LastFired(ctx context.Context, triggerID string) (time.Time, bool, error)
	// SetLastFired records a confirmed firing.
	SetLastFired(ctx context.Context, triggerID string, t time.Time) error
	// ScheduleFired reports whether the schedule already fired for the
	// given scheduled instant.
	ScheduleFired(ctx context.Context, triggerID string, instant time.Time) (bool, error)
	// ClaimScheduleFire atomically claims the given scheduled instant.
	// Returns false when another pass already claimed it.
	ClaimScheduleFire(ctx context.Context, triggerID string, instant time.Time) (bool, error)
	// Clear drops all cooldown state for a trigger.
	Clear(ctx context.Context, triggerID string) error
}

// Tracker is the redis-backed Store.
type Tracker struct {
	rdb *redis.Client
}

// NewTracker creates a redis-backed cooldown tracker.
func NewTracker(rdb *redis.Client) *Tracker {
	return &Tracker{rdb: rdb}
}

func cooldownKey(triggerID string) string {
	return "cooldown:" + triggerID
}

func firedKey(triggerID string, instant time.Time) string {
	return fmt.Sprintf("sched:fired:%s:%d", triggerID, instant.UTC().Unix())
}

// LastFired returns the last confirmed firing of a trigger.
func (t *Tracker) LastFired(ctx context.Context, triggerID string) (time.Time, bool, error) {
	raw, err := t.rdb.Get(ctx, cooldownKey(triggerID)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	nanos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("cooldown: bad timestamp for %s: %w", triggerID, err)
	}
	return time.Unix(0, nanos).UTC(), true, nil
}

// SetLastFired records a confirmed firing.
func (t *Tracker) SetLastFired(ctx context.Context, triggerID string, at time.Time) error {
	return t.rdb.Set(ctx, cooldownKey(triggerID), at.UTC().UnixNano(), 0).Err()
}

// ScheduleFired reports whether the scheduled instant was already claimed.
func (t *Tracker) ScheduleFired(ctx context.Context, triggerID string, instant time.Time) (bool, error) {
	n, err := t.rdb.Exists(ctx, firedKey(triggerID, instant)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ClaimScheduleFire atomically claims the scheduled instant via SETNX.
func (t *Tracker) ClaimScheduleFire(ctx context.Context, triggerID string, instant time.Time) (bool, error) {
	return t.rdb.SetNX(ctx, firedKey(triggerID, instant), 1, firedMarkTTL).Result()
}

// Clear drops cooldown state for a deleted trigger.
func (t *Tracker) Clear(ctx context.Context, triggerID string) error {
	return t.rdb.Del(ctx, cooldownKey(triggerID)).Err()
}
