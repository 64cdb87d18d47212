// Package engine is the grow automation core: it evaluates schedule,
// condition, and rule triggers for active grows, arbitrates conflicts per
// device assignment, and hands winners to the dispatcher.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/eddie-rowe/vertical-farm-sub002/internal/dispatch"
	"github.com/eddie-rowe/vertical-farm-sub002/internal/execlog"
	"github.com/eddie-rowe/vertical-farm-sub002/internal/metrics"
	"github.com/eddie-rowe/vertical-farm-sub002/internal/models"
)

// TriggerSource loads the pass input from the trigger store.
type TriggerSource interface {
	GetActiveGrows(ctx context.Context) ([]models.Grow, error)
	GetAssignments(ctx context.Context) ([]models.DeviceAssignment, error)
	GetActiveSchedules(ctx context.Context) ([]models.Schedule, error)
	GetActiveConditions(ctx context.Context) ([]models.Condition, error)
	GetActiveRules(ctx context.Context) ([]models.Rule, error)
}

// Dispatcher executes one arbitrated request.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) (*models.Execution, error)
}

// Alerter raises environmental alerts (deduplicated by the implementation).
type Alerter interface {
	Raise(ctx context.Context, alert models.EnvironmentalAlert)
}

// Publisher emits messages on the status/event stream.
type Publisher interface {
	Publish(evt models.Event)
}

// Engine runs evaluation passes.
type Engine struct {
	src        TriggerSource
	evaluator  *Evaluator
	dispatcher Dispatcher
	logger     *execlog.Logger
	alerts     Alerter
	events     Publisher
	tick       time.Duration
}

// New creates the engine.
func New(src TriggerSource, evaluator *Evaluator, dispatcher Dispatcher, logger *execlog.Logger, alerts Alerter, events Publisher, tick time.Duration) *Engine {
	return &Engine{
		src:        src,
		evaluator:  evaluator,
		dispatcher: dispatcher,
		logger:     logger,
		alerts:     alerts,
		events:     events,
		tick:       tick,
	}
}

func (e *Engine) loadPassInput(ctx context.Context, now time.Time) (PassInput, error) {
	grows, err := e.src.GetActiveGrows(ctx)
	if err != nil {
		return PassInput{}, fmt.Errorf("load grows: %w", err)
	}
	assignments, err := e.src.GetAssignments(ctx)
	if err != nil {
		return PassInput{}, fmt.Errorf("load assignments: %w", err)
	}
	schedules, err := e.src.GetActiveSchedules(ctx)
	if err != nil {
		return PassInput{}, fmt.Errorf("load schedules: %w", err)
	}
	conditions, err := e.src.GetActiveConditions(ctx)
	if err != nil {
		return PassInput{}, fmt.Errorf("load conditions: %w", err)
	}
	rules, err := e.src.GetActiveRules(ctx)
	if err != nil {
		return PassInput{}, fmt.Errorf("load rules: %w", err)
	}

	in := PassInput{
		Now:         now,
		Window:      e.tick,
		Grows:       make(map[string]models.Grow, len(grows)),
		Assignments: make(map[string]models.DeviceAssignment, len(assignments)),
		Schedules:   schedules,
		Conditions:  conditions,
		Rules:       rules,
	}
	for _, g := range grows {
		in.Grows[g.ID] = g
	}
	for _, a := range assignments {
		in.Assignments[a.ID] = a
	}
	return in, nil
}

// RunPass executes one full evaluation pass: evaluate, arbitrate, dispatch,
// log. The pass has a soft deadline of one tick interval.
func (e *Engine) RunPass(ctx context.Context) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.tick)
	defer cancel()

	in, err := e.loadPassInput(ctx, time.Now().UTC())
	if err != nil {
		return err
	}

	candidates, skips := e.evaluator.Evaluate(ctx, in)
	for _, sk := range skips {
		e.recordSkip(ctx, sk)
	}

	winners, losers := Arbitrate(candidates)
	lostByAssignment := make(map[string][]Lost)
	for _, l := range losers {
		lostByAssignment[l.AssignmentID] = append(lostByAssignment[l.AssignmentID], l)
	}

	done := make(chan struct{}, len(winners))
	for _, w := range winners {
		go func(w Candidate, lost []Lost) {
			defer func() { done <- struct{}{} }()
			e.dispatchWinner(ctx, w, lost)
		}(w, lostByAssignment[w.AssignmentID])
	}
	for range winners {
		<-done
	}

	metrics.ObservePassDuration(time.Since(start))
	log.Debug().Str("component", "engine").
		Int("candidates", len(candidates)).Int("winners", len(winners)).
		Int("skips", len(skips)).Dur("elapsed", time.Since(start)).
		Msg("evaluation pass complete")
	return nil
}

func (e *Engine) dispatchWinner(ctx context.Context, w Candidate, lost []Lost) {
	exec, err := e.dispatcher.Dispatch(ctx, dispatch.Request{
		Kind:         w.Kind,
		TriggerID:    w.TriggerID,
		TriggerName:  w.TriggerName,
		GrowID:       w.GrowID,
		AssignmentID: w.AssignmentID,
		EntityID:     w.EntityID,
		Action:       w.Action,
		ScheduledAt:  w.ScheduledAt,
	})
	if err != nil {
		log.Error().Str("component", "engine").Str("trigger", w.TriggerID).Err(err).Msg("dispatch failed hard")
	}

	// The dispatch may have run down the pass deadline; the audit records
	// below must land regardless.
	ctx = context.WithoutCancel(ctx)

	if w.RaiseAlert && exec != nil && exec.Status == models.ExecutionSuccess {
		e.alerts.Raise(ctx, models.EnvironmentalAlert{
			GrowID:      w.GrowID,
			TriggerKind: w.Kind,
			TriggerID:   w.TriggerID,
			Severity:    models.SeverityWarning,
			Code:        models.AlertCondition,
			Message:     fmt.Sprintf("condition %q triggered on %s", w.TriggerName, w.EntityID),
		})
	}

	for _, l := range lost {
		reason := fmt.Sprintf("lost arbitration to %s %s", l.WinnerKind, l.WinnerTriggerID)
		if exec != nil {
			reason = fmt.Sprintf("%s (execution %s)", reason, exec.ID)
		}
		if _, err := e.logger.Skipped(ctx, models.Execution{
			TriggerKind:  l.Kind,
			TriggerID:    l.TriggerID,
			GrowID:       l.GrowID,
			AssignmentID: l.AssignmentID,
			Action:       l.Action,
		}, reason); err != nil {
			log.Error().Str("component", "engine").Str("trigger", l.TriggerID).Err(err).Msg("failed to record arbitration loss")
		}
	}
}

// recordSkip logs an evaluation-time skip and raises an operator alert for
// configuration and timeout problems. Alert deduplication keeps a broken
// trigger from alerting on every tick.
func (e *Engine) recordSkip(ctx context.Context, sk Skip) {
	if _, err := e.logger.Skipped(ctx, models.Execution{
		TriggerKind:  sk.Kind,
		TriggerID:    sk.TriggerID,
		GrowID:       sk.GrowID,
		AssignmentID: sk.AssignmentID,
		Action:       sk.Action,
	}, sk.Reason); err != nil {
		log.Error().Str("component", "engine").Str("trigger", sk.TriggerID).Err(err).Msg("failed to record skip")
	}

	severity := models.SeverityWarning
	if sk.Code == models.AlertEvaluationTimeout {
		severity = models.SeverityError
	}
	e.alerts.Raise(ctx, models.EnvironmentalAlert{
		GrowID:      sk.GrowID,
		TriggerKind: sk.Kind,
		TriggerID:   sk.TriggerID,
		Severity:    severity,
		Code:        sk.Code,
		Message:     sk.Reason,
	})
}

// TriggersChanged notifies the stream that trigger definitions for a grow
// were created, updated, or deleted.
func (e *Engine) TriggersChanged(growID string) {
	e.events.Publish(models.Event{
		Type:      models.EventScheduleUpdated,
		GrowID:    growID,
		Data:      map[string]any{"grow_id": growID},
		Timestamp: time.Now().UTC(),
	})
}
