package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddie-rowe/vertical-farm-sub002/internal/models"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	h := NewHub()
	cl := &client{send: make(chan []byte, clientBuffer)}
	h.add(cl)
	defer h.drop(cl)

	h.Publish(models.Event{
		Type:      models.EventExecution,
		GrowID:    "g1",
		Timestamp: time.Now().UTC(),
	})

	select {
	case payload := <-cl.send:
		var evt models.Event
		require.NoError(t, json.Unmarshal(payload, &evt))
		assert.Equal(t, models.EventExecution, evt.Type)
		assert.Equal(t, "g1", evt.GrowID)
	case <-time.After(time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestPublishDropsSlowConsumer(t *testing.T) {
	h := NewHub()
	cl := &client{send: make(chan []byte)}
	h.add(cl)

	h.Publish(models.Event{Type: models.EventStatus, Timestamp: time.Now().UTC()})

	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-cl.send:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond, "a client with a full buffer must be dropped")
}

func TestDropTwiceIsSafe(t *testing.T) {
	h := NewHub()
	cl := &client{send: make(chan []byte, 1)}
	h.add(cl)

	h.drop(cl)
	assert.NotPanics(t, func() { h.drop(cl) })
}
