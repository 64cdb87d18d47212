// Package status maintains the read-side automation view: task counters,
// recent actions, and open alerts. All aggregates derive from the execution
// log; the log is authoritative and the aggregates can be rebuilt from it at
// any time.
package status

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/eddie-rowe/vertical-farm-sub002/internal/metrics"
	"github.com/eddie-rowe/vertical-farm-sub002/internal/models"
)

// AlertStore persists and queries environmental alerts.
type AlertStore interface {
	InsertAlert(ctx context.Context, a models.EnvironmentalAlert) (bool, error)
	GetOpenAlerts(ctx context.Context) ([]models.EnvironmentalAlert, error)
	CountOpenAlerts(ctx context.Context) (int, error)
	AcknowledgeAlert(ctx context.Context, id, by string) error
}

// ExecutionSource replays the execution log for rebuilds.
type ExecutionSource interface {
	GetExecutionsSince(ctx context.Context, since time.Time) ([]models.Execution, error)
}

// Publisher emits messages on the status/event stream.
type Publisher interface {
	Publish(evt models.Event)
}

// QueueStats reports the depth of the evaluation task queue.
type QueueStats interface {
	QueuedTasks(ctx context.Context) (int, error)
}

// IDGen mints alert ids.
type IDGen func() string

// Aggregator folds execution records into the live automation status.
type Aggregator struct {
	alerts AlertStore
	source ExecutionSource
	events Publisher
	queue  QueueStats
	newID  IDGen

	recentCap int

	mu             sync.RWMutex
	day            time.Time
	pending        map[string]struct{}
	failedToday    int
	completedToday int
	recent         []models.Execution
}

// New creates a status aggregator. queue may be nil when no task queue is
// wired (tests). recentCap bounds the recent-actions ring.
func New(alerts AlertStore, source ExecutionSource, events Publisher, queue QueueStats, newID IDGen, recentCap int) *Aggregator {
	if recentCap < 1 {
		recentCap = 1
	}
	return &Aggregator{
		alerts:    alerts,
		source:    source,
		events:    events,
		queue:     queue,
		newID:     newID,
		recentCap: recentCap,
		day:       midnightUTC(time.Now().UTC()),
		pending:   make(map[string]struct{}),
	}
}

func midnightUTC(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// rollover resets the daily counters when the UTC day changes. Caller holds mu.
func (a *Aggregator) rollover(now time.Time) {
	day := midnightUTC(now)
	if day.After(a.day) {
		a.day = day
		a.failedToday = 0
		a.completedToday = 0
	}
}

// OnExecution folds one execution record into the aggregates. Registered as
// an execution-log subscriber; must not block.
func (a *Aggregator) OnExecution(e models.Execution) {
	a.mu.Lock()
	a.rollover(time.Now().UTC())
	a.fold(e)
	counters := map[string]int{
		"processing_tasks":   len(a.pending),
		"failed_tasks_today": a.failedToday,
		"completed_today":    a.completedToday,
	}
	a.mu.Unlock()

	metrics.CountExecution(string(e.Status))
	a.events.Publish(models.Event{
		Type:      models.EventExecution,
		GrowID:    e.GrowID,
		Data:      e,
		Timestamp: time.Now().UTC(),
	})
	a.events.Publish(models.Event{
		Type:      models.EventStatus,
		GrowID:    e.GrowID,
		Data:      counters,
		Timestamp: time.Now().UTC(),
	})

	if e.Status == models.ExecutionFailed {
		code := failureCode(e)
		a.Raise(context.Background(), models.EnvironmentalAlert{
			GrowID:      e.GrowID,
			TriggerKind: e.TriggerKind,
			TriggerID:   e.TriggerID,
			Severity:    models.SeverityError,
			Code:        code,
			Message:     e.ErrorMessage,
		})
	}
}

// fold applies one record to the counters. Caller holds mu.
func (a *Aggregator) fold(e models.Execution) {
	switch e.Status {
	case models.ExecutionPending:
		a.pending[e.ID] = struct{}{}
		return
	case models.ExecutionSuccess:
		delete(a.pending, e.ID)
		a.completedToday++
	case models.ExecutionFailed:
		delete(a.pending, e.ID)
		a.failedToday++
	case models.ExecutionSkipped:
		delete(a.pending, e.ID)
	}

	a.recent = append(a.recent, e)
	if len(a.recent) > a.recentCap {
		a.recent = a.recent[len(a.recent)-a.recentCap:]
	}
}

// failureCode extracts the error code a failed execution was recorded with.
func failureCode(e models.Execution) string {
	var payload struct {
		ErrorCode string `json:"error_code"`
	}
	if err := json.Unmarshal(e.Result, &payload); err == nil && payload.ErrorCode != "" {
		return payload.ErrorCode
	}
	return models.AlertDispatchFailed
}

// Raise persists an alert unless an identical unacknowledged one is already
// open, and publishes it on the event stream when newly inserted.
func (a *Aggregator) Raise(ctx context.Context, alert models.EnvironmentalAlert) {
	if alert.ID == "" {
		alert.ID = a.newID()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}

	inserted, err := a.alerts.InsertAlert(ctx, alert)
	if err != nil {
		log.Error().Str("component", "status").Str("trigger", alert.TriggerID).
			Err(err).Msg("failed to persist alert")
		return
	}
	if !inserted {
		return
	}

	metrics.CountAlert(alert.Code)
	log.Warn().Str("component", "status").Str("grow", alert.GrowID).
		Str("code", alert.Code).Str("trigger", alert.TriggerID).Msg(alert.Message)
	a.events.Publish(models.Event{
		Type:      models.EventError,
		GrowID:    alert.GrowID,
		Data:      alert,
		Timestamp: time.Now().UTC(),
	})
}

// Rebuild replays today's execution log into the counters, called on startup
// so a restart does not zero the daily numbers.
func (a *Aggregator) Rebuild(ctx context.Context) error {
	since := midnightUTC(time.Now().UTC())
	execs, err := a.source.GetExecutionsSince(ctx, since)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.day = since
	a.pending = make(map[string]struct{})
	a.failedToday = 0
	a.completedToday = 0
	a.recent = nil
	for _, e := range execs {
		a.fold(e)
	}
	log.Info().Str("component", "status").Int("executions", len(execs)).Msg("status aggregates rebuilt from log")
	return nil
}

// Status returns the current automation status view.
func (a *Aggregator) Status(ctx context.Context) (models.AutomationStatus, error) {
	open, err := a.alerts.CountOpenAlerts(ctx)
	if err != nil {
		return models.AutomationStatus{}, err
	}

	queued := 0
	if a.queue != nil {
		if n, err := a.queue.QueuedTasks(ctx); err != nil {
			log.Warn().Str("component", "status").Err(err).Msg("queue stats unavailable")
		} else {
			queued = n
		}
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	recent := make([]models.Execution, 0, len(a.recent))
	for i := len(a.recent) - 1; i >= 0; i-- {
		recent = append(recent, a.recent[i])
	}
	return models.AutomationStatus{
		PendingTasks:     queued,
		ProcessingTasks:  len(a.pending),
		FailedTasksToday: a.failedToday,
		CompletedToday:   a.completedToday,
		ActiveAlerts:     open,
		RecentActions:    recent,
		UpdatedAt:        time.Now().UTC(),
	}, nil
}

// Alerts returns the open alerts, newest first.
func (a *Aggregator) Alerts(ctx context.Context) ([]models.EnvironmentalAlert, error) {
	return a.alerts.GetOpenAlerts(ctx)
}

// Acknowledge marks an alert acknowledged.
func (a *Aggregator) Acknowledge(ctx context.Context, id, by string) error {
	return a.alerts.AcknowledgeAlert(ctx, id, by)
}
