// Package snapshot holds the last-known value per sensor entity. The cache is
// written by the telemetry feed and read by the evaluator; freshness checks
// happen at evaluation time against the configured staleness window.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eddie-rowe/vertical-farm-sub002/internal/models"
)

// ErrNotFound means no reading has been observed for the sensor entity.
var ErrNotFound = errors.New("snapshot: no reading for entity")

// Source is the read side of the cache, injected into the evaluator.
type Source interface {
	Latest(ctx context.Context, entityID string) (models.SensorReading, error)
}

// Cache is the redis-backed snapshot store.
type Cache struct {
	rdb *redis.Client
}

// NewCache creates a redis-backed snapshot cache.
func NewCache(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb}
}

func key(entityID string) string {
	return "sensor:" + entityID
}

// Set stores the latest reading for a sensor entity.
func (c *Cache) Set(ctx context.Context, r models.SensorReading) error {
	return c.rdb.HSet(ctx, key(r.EntityID), map[string]any{
		"value":       r.Value,
		"observed_at": r.ObservedAt.UTC().UnixNano(),
	}).Err()
}

// Latest returns the last-known reading for a sensor entity.
func (c *Cache) Latest(ctx context.Context, entityID string) (models.SensorReading, error) {
	fields, err := c.rdb.HGetAll(ctx, key(entityID)).Result()
	if err != nil {
		return models.SensorReading{}, err
	}
	if len(fields) == 0 {
		return models.SensorReading{}, fmt.Errorf("%w: %s", ErrNotFound, entityID)
	}
	value, err := strconv.ParseFloat(fields["value"], 64)
	if err != nil {
		return models.SensorReading{}, fmt.Errorf("snapshot: bad value for %s: %w", entityID, err)
	}
	nanos, err := strconv.ParseInt(fields["observed_at"], 10, 64)
	if err != nil {
		return models.SensorReading{}, fmt.Errorf("snapshot: bad timestamp for %s: %w", entityID, err)
	}
	return models.SensorReading{
		EntityID:   entityID,
		Value:      value,
		ObservedAt: time.Unix(0, nanos).UTC(),
	}, nil
}
