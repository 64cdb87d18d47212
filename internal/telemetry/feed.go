// Package telemetry consumes the sensor feed and keeps the snapshot cache
// current. The engine does not own telemetry history; only the latest value
// per entity is retained.
package telemetry

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/eddie-rowe/vertical-farm-sub002/internal/models"
	"github.com/eddie-rowe/vertical-farm-sub002/internal/snapshot"
)

type reading struct {
	Value      float64    `json:"value"`
	ObservedAt *time.Time `json:"observed_at,omitempty"`
}

// Feed subscribes to the sensor topic and writes readings into the snapshot
// cache. Change notifications are debounced per entity so a chatty sensor
// does not trigger an evaluation pass per message.
type Feed struct {
	client   mqtt.Client
	cache    *snapshot.Cache
	topic    string
	debounce time.Duration
	onChange func(entityID string)

	mu       sync.Mutex
	lastSeen map[string]time.Time
}

// NewFeed creates a telemetry feed. onChange is invoked (debounced) whenever
// a sensor's value is refreshed.
func NewFeed(client mqtt.Client, cache *snapshot.Cache, topic string, debounce time.Duration, onChange func(entityID string)) *Feed {
	return &Feed{
		client:   client,
		cache:    cache,
		topic:    topic,
		debounce: debounce,
		onChange: onChange,
		lastSeen: make(map[string]time.Time),
	}
}

// Start subscribes to the sensor topic.
func (f *Feed) Start() error {
	if token := f.client.Subscribe(f.topic, 1, f.onMessage); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Info().Str("component", "telemetry").Str("topic", f.topic).Msg("telemetry feed subscribed")
	return nil
}

// Stop unsubscribes from the sensor topic.
func (f *Feed) Stop() {
	f.client.Unsubscribe(f.topic)
}

func (f *Feed) onMessage(client mqtt.Client, msg mqtt.Message) {
	entityID := parseEntityID(msg.Topic())
	if entityID == "" {
		log.Warn().Str("component", "telemetry").Str("topic", msg.Topic()).Msg("unparseable sensor topic")
		return
	}

	var r reading
	if err := json.Unmarshal(msg.Payload(), &r); err != nil {
		log.Warn().Str("component", "telemetry").Str("entity", entityID).Err(err).Msg("bad sensor payload")
		return
	}
	observedAt := time.Now().UTC()
	if r.ObservedAt != nil {
		observedAt = r.ObservedAt.UTC()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.cache.Set(ctx, models.SensorReading{EntityID: entityID, Value: r.Value, ObservedAt: observedAt}); err != nil {
		log.Error().Str("component", "telemetry").Str("entity", entityID).Err(err).Msg("failed to cache reading")
		return
	}

	if f.onChange != nil && f.shouldNotify(entityID) {
		f.onChange(entityID)
	}
}

// shouldNotify applies the per-entity debounce window.
func (f *Feed) shouldNotify(entityID string) bool {
	now := time.Now()
	f.mu.Lock()
	defer f.mu.Unlock()
	if last, ok := f.lastSeen[entityID]; ok && now.Sub(last) < f.debounce {
		return false
	}
	f.lastSeen[entityID] = now
	return true
}

// parseEntityID extracts the entity id from a sensors/<entity>/state topic.
func parseEntityID(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}
