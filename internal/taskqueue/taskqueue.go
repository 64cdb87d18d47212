// Package taskqueue runs evaluation passes through asynq so periodic ticks
// and sensor-change bursts share one bounded worker pool.
package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"
)

const (
	// TypeEvaluationPass triggers one full engine pass.
	TypeEvaluationPass = "automation:pass"

	queueName = "automation"

	// Sensor bursts within this window coalesce into one queued pass.
	coalesceTTL = 2 * time.Second
)

type passPayload struct {
	Reason   string `json:"reason"`
	EntityID string `json:"entity_id,omitempty"`
}

// Client enqueues evaluation passes.
type Client struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// NewClient creates a task queue client on the given redis address.
func NewClient(redisAddr string) *Client {
	opt := asynq.RedisClientOpt{Addr: redisAddr}
	return &Client{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
	}
}

// Close releases the underlying connections.
func (c *Client) Close() error {
	c.inspector.Close()
	return c.client.Close()
}

// EnqueuePass queues one evaluation pass. Sensor-change passes are unique
// per entity within the coalescing window, so a chatty sensor enqueues one
// pass instead of one per reading.
func (c *Client) EnqueuePass(reason, entityID string) error {
	payload, err := json.Marshal(passPayload{Reason: reason, EntityID: entityID})
	if err != nil {
		return err
	}
	task := asynq.NewTask(TypeEvaluationPass, payload)
	opts := []asynq.Option{asynq.Queue(queueName), asynq.MaxRetry(0)}
	if entityID != "" {
		opts = append(opts, asynq.Unique(coalesceTTL))
	}

	_, err = c.client.Enqueue(task, opts...)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	return err
}

// QueuedTasks reports how many evaluation passes are waiting in the queue.
func (c *Client) QueuedTasks(_ context.Context) (int, error) {
	info, err := c.inspector.GetQueueInfo(queueName)
	if err != nil {
		return 0, err
	}
	return info.Pending + info.Scheduled + info.Retry, nil
}

// PassRunner executes one evaluation pass.
type PassRunner interface {
	RunPass(ctx context.Context) error
}

// Server consumes evaluation pass tasks.
type Server struct {
	srv    *asynq.Server
	runner PassRunner
}

// NewServer creates the worker server.
func NewServer(redisAddr string, concurrency int, runner PassRunner) *Server {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: redisAddr},
		asynq.Config{
			Concurrency: concurrency,
			Queues:      map[string]int{queueName: 1},
		},
	)
	return &Server{srv: srv, runner: runner}
}

func (s *Server) handlePass(ctx context.Context, t *asynq.Task) error {
	var p passPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return err
	}
	log.Debug().Str("component", "taskqueue").Str("reason", p.Reason).
		Str("entity", p.EntityID).Msg("running evaluation pass")
	return s.runner.RunPass(ctx)
}

// StartWorkers starts consuming tasks in the background.
func (s *Server) StartWorkers() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeEvaluationPass, s.handlePass)
	log.Info().Str("component", "taskqueue").Msg("task queue workers started")
	return s.srv.Start(mux)
}

// StopWorkers drains in-flight tasks and shuts the worker pool down.
func (s *Server) StopWorkers() {
	s.srv.Shutdown()
	log.Info().Str("component", "taskqueue").Msg("task queue workers stopped")
}
