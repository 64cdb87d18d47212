// Package execlog is the append-only execution audit log. Every firing
// attempt, whether it succeeds, fails, or is skipped, becomes exactly one
// record, and every record is fanned out to subscribers (status aggregator,
// event stream, metrics). The log is the source of truth; aggregates are
// caches.
package execlog

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/eddie-rowe/vertical-farm-sub002/internal/models"
)

// Store persists execution records.
type Store interface {
	InsertExecution(ctx context.Context, e models.Execution) error
	CompleteExecution(ctx context.Context, id string, status models.ExecutionStatus, completedAt time.Time, result json.RawMessage, errMsg string) error
}

// Logger writes execution records and notifies subscribers of each one.
type Logger struct {
	store Store

	mu   sync.RWMutex
	subs []func(models.Execution)
}

// New creates an execution logger.
func New(store Store) *Logger {
	return &Logger{store: store}
}

// Subscribe registers a callback invoked for every logged record. Callbacks
// run synchronously and must not block.
func (l *Logger) Subscribe(fn func(models.Execution)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs = append(l.subs, fn)
}

func (l *Logger) notify(e models.Execution) {
	l.mu.RLock()
	subs := l.subs
	l.mu.RUnlock()
	for _, fn := range subs {
		fn(e)
	}
}

// Pending records the start of a dispatch attempt, before the gateway call,
// so a crash mid-call is still observable in the log.
func (l *Logger) Pending(ctx context.Context, e models.Execution) (models.Execution, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.ExecutedAt.IsZero() {
		e.ExecutedAt = time.Now().UTC()
	}
	e.Status = models.ExecutionPending
	if err := l.store.InsertExecution(ctx, e); err != nil {
		return e, err
	}
	l.notify(e)
	return e, nil
}

// Complete marks a pending execution successful with the device's new state.
func (l *Logger) Complete(ctx context.Context, e models.Execution, result json.RawMessage) (models.Execution, error) {
	now := time.Now().UTC()
	e.Status = models.ExecutionSuccess
	e.CompletedAt = &now
	e.Result = result
	if err := l.store.CompleteExecution(ctx, e.ID, e.Status, now, result, ""); err != nil {
		return e, err
	}
	l.notify(e)
	return e, nil
}

// Fail marks a pending execution failed. The code (dispatch_failed or
// dispatch_timeout) is kept in the result payload so the read side can tell
// an unreachable device from a rejected command.
func (l *Logger) Fail(ctx context.Context, e models.Execution, errMsg, code string) (models.Execution, error) {
	now := time.Now().UTC()
	result, _ := json.Marshal(map[string]string{"error_code": code})
	e.Status = models.ExecutionFailed
	e.CompletedAt = &now
	e.Result = result
	e.ErrorMessage = errMsg
	if err := l.store.CompleteExecution(ctx, e.ID, e.Status, now, result, errMsg); err != nil {
		return e, err
	}
	l.notify(e)
	return e, nil
}

// Skipped records a trigger that was evaluated but not dispatched: lost
// arbitration, configuration error, or automation disabled mid-pass.
func (l *Logger) Skipped(ctx context.Context, e models.Execution, reason string) (models.Execution, error) {
	now := time.Now().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.ExecutedAt.IsZero() {
		e.ExecutedAt = now
	}
	e.Status = models.ExecutionSkipped
	e.CompletedAt = &now
	e.ErrorMessage = reason
	if err := l.store.InsertExecution(ctx, e); err != nil {
		log.Error().Str("component", "execlog").Str("trigger", e.TriggerID).Err(err).Msg("failed to record skip")
		return e, err
	}
	l.notify(e)
	return e, nil
}
