// Package gateway is the engine's boundary to the device-integration layer.
// The engine never talks to devices directly; it hands a (entity id, action)
// pair to a Gateway and gets back the device's new state or an error.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/eddie-rowe/vertical-farm-sub002/internal/models"
)

// DeviceState is the opaque state map returned by the device layer.
type DeviceState map[string]any

// ErrTimeout distinguishes an unreachable device from a rejected command.
var ErrTimeout = errors.New("gateway: command timed out")

// IsTimeout reports whether the dispatch error was a timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// Gateway dispatches a device action and returns the resulting device state.
type Gateway interface {
	Dispatch(ctx context.Context, entityID string, action models.DeviceAction) (DeviceState, error)
}

type commandResult struct {
	OK    bool        `json:"ok"`
	State DeviceState `json:"state,omitempty"`
	Error string      `json:"error,omitempty"`
}

// MQTTGateway implements Gateway over MQTT request/reply: the command is
// published to the device's command topic and the result awaited on its
// result topic. A circuit breaker sheds load from a persistently dead broker.
type MQTTGateway struct {
	client       mqtt.Client
	breaker      *gobreaker.CircuitBreaker
	commandTopic string // fmt pattern with one %s for the entity id
	resultTopic  string
}

// NewMQTTGateway creates an MQTT-backed gateway. Topic arguments are fmt
// patterns with one %s placeholder for the entity id.
func NewMQTTGateway(client mqtt.Client, commandTopic, resultTopic string) *MQTTGateway {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "device-gateway",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("component", "gateway").
				Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})
	return &MQTTGateway{
		client:       client,
		breaker:      breaker,
		commandTopic: commandTopic,
		resultTopic:  resultTopic,
	}
}

// Dispatch publishes the action and waits for the device's reply or the
// context deadline, whichever comes first.
func (g *MQTTGateway) Dispatch(ctx context.Context, entityID string, action models.DeviceAction) (DeviceState, error) {
	out, err := g.breaker.Execute(func() (any, error) {
		return g.dispatch(ctx, entityID, action)
	})
	if err != nil {
		return nil, err
	}
	return out.(DeviceState), nil
}

func (g *MQTTGateway) dispatch(ctx context.Context, entityID string, action models.DeviceAction) (DeviceState, error) {
	payload, err := json.Marshal(action)
	if err != nil {
		return nil, fmt.Errorf("gateway: marshal action: %w", err)
	}

	resultCh := make(chan commandResult, 1)
	topic := fmt.Sprintf(g.resultTopic, entityID)
	handler := func(client mqtt.Client, msg mqtt.Message) {
		var res commandResult
		if err := json.Unmarshal(msg.Payload(), &res); err != nil {
			log.Warn().Str("component", "gateway").Str("topic", msg.Topic()).
				Err(err).Msg("unparseable command result")
			return
		}
		select {
		case resultCh <- res:
		default:
		}
	}

	if token := g.client.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("gateway: subscribe %s: %w", topic, token.Error())
	}
	defer g.client.Unsubscribe(topic)

	cmdTopic := fmt.Sprintf(g.commandTopic, entityID)
	if token := g.client.Publish(cmdTopic, 1, false, payload); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("gateway: publish %s: %w", cmdTopic, token.Error())
	}

	select {
	case res := <-resultCh:
		if !res.OK {
			return nil, fmt.Errorf("gateway: device rejected command: %s", res.Error)
		}
		return res.State, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrTimeout, entityID)
		}
		return nil, ctx.Err()
	}
}
