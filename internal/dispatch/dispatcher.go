// Package dispatch executes arbitrated actions against the device command
// gateway. Correctness rules: the pending record is written before the
// gateway call, the cooldown is updated only after confirmed success, and
// dispatches for the same device assignment are serialized across passes.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/eddie-rowe/vertical-farm-sub002/internal/cooldown"
	"github.com/eddie-rowe/vertical-farm-sub002/internal/execlog"
	"github.com/eddie-rowe/vertical-farm-sub002/internal/gateway"
	"github.com/eddie-rowe/vertical-farm-sub002/internal/metrics"
	"github.com/eddie-rowe/vertical-farm-sub002/internal/models"
)

// Request is one arbitrated candidate handed to the dispatcher.
type Request struct {
	Kind         models.TriggerKind
	TriggerID    string
	TriggerName  string
	GrowID       string
	AssignmentID string
	EntityID     string
	Action       models.DeviceAction
	// ScheduledAt is set for schedule triggers; the dispatcher claims the
	// instant so repeated ticks produce exactly one execution.
	ScheduledAt *time.Time
	// TriggeredBy is set for manual overrides.
	TriggeredBy *string
}

// ActivationChecker re-checks, just before the gateway call, that the grow
// and trigger are still enabled. Mid-pass deactivations abandon the dispatch.
type ActivationChecker interface {
	IsAutomationActive(ctx context.Context, growID string, kind models.TriggerKind, triggerID string) (bool, error)
}

// Dispatcher sends actions to the gateway with bounded concurrency and
// bounded retries.
type Dispatcher struct {
	gw       gateway.Gateway
	logger   *execlog.Logger
	cooldown cooldown.Store
	checker  ActivationChecker

	timeout time.Duration
	retries uint64
	sem     chan struct{}

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a dispatcher. concurrency bounds simultaneous gateway calls;
// retries is the number of re-attempts after the first failure.
func New(gw gateway.Gateway, logger *execlog.Logger, cd cooldown.Store, checker ActivationChecker, timeout time.Duration, retries, concurrency int) *Dispatcher {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Dispatcher{
		gw:       gw,
		logger:   logger,
		cooldown: cd,
		checker:  checker,
		timeout:  timeout,
		retries:  uint64(retries),
		sem:      make(chan struct{}, concurrency),
		locks:    make(map[string]*sync.Mutex),
	}
}

// assignmentLock returns the mutex serializing dispatches for one device
// assignment. Locks are never removed; the assignment set is small.
func (d *Dispatcher) assignmentLock(assignmentID string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.locks[assignmentID]
	if !ok {
		m = &sync.Mutex{}
		d.locks[assignmentID] = m
	}
	return m
}

func record(req Request) models.Execution {
	return models.Execution{
		TriggerKind:  req.Kind,
		TriggerID:    req.TriggerID,
		GrowID:       req.GrowID,
		AssignmentID: req.AssignmentID,
		Action:       req.Action,
		TriggeredBy:  req.TriggeredBy,
	}
}

// Dispatch executes one arbitrated request end to end and returns the
// terminal execution record. A nil record with nil error means another pass
// already claimed the scheduled instant and nothing was logged.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*models.Execution, error) {
	lock := d.assignmentLock(req.AssignmentID)
	lock.Lock()
	defer lock.Unlock()

	// The grow or trigger may have been disabled while this pass was
	// evaluating; abandoned candidates are auditable as skips.
	active, err := d.checker.IsAutomationActive(ctx, req.GrowID, req.Kind, req.TriggerID)
	if err != nil {
		return nil, err
	}
	if !active {
		e, err := d.logger.Skipped(ctx, record(req), "automation disabled")
		if err != nil {
			return nil, err
		}
		return &e, nil
	}

	if req.ScheduledAt != nil {
		claimed, err := d.cooldown.ClaimScheduleFire(ctx, req.TriggerID, *req.ScheduledAt)
		if err != nil {
			return nil, err
		}
		if !claimed {
			// A concurrent pass already fired this instant.
			return nil, nil
		}
	}

	exec, err := d.logger.Pending(ctx, record(req))
	if err != nil {
		return nil, err
	}

	d.sem <- struct{}{}
	metrics.DispatchStarted()
	defer func() {
		metrics.DispatchFinished()
		<-d.sem
	}()

	state, dispatchErr := d.callGateway(ctx, req)

	// The gateway call may have consumed the pass deadline. Terminal writes
	// run on an uncancelled context so a pending record never outlives its
	// dispatch.
	finCtx := context.WithoutCancel(ctx)
	if dispatchErr != nil {
		code := models.AlertDispatchFailed
		if gateway.IsTimeout(dispatchErr) {
			code = models.AlertDispatchTimeout
		}
		// Cooldown deliberately untouched: a failed action must not
		// suppress the next legitimate attempt.
		e, err := d.logger.Fail(finCtx, exec, dispatchErr.Error(), code)
		if err != nil {
			return nil, err
		}
		return &e, nil
	}

	result, _ := json.Marshal(map[string]any{"state": state})
	e, err := d.logger.Complete(finCtx, exec, result)
	if err != nil {
		return nil, err
	}
	if err := d.cooldown.SetLastFired(finCtx, req.TriggerID, exec.ExecutedAt); err != nil {
		log.Error().Str("component", "dispatcher").Str("trigger", req.TriggerID).
			Err(err).Msg("failed to update cooldown after dispatch")
	}
	return &e, nil
}

// callGateway runs the gateway call with a per-attempt timeout and bounded
// exponential-backoff retries on transient errors.
func (d *Dispatcher) callGateway(ctx context.Context, req Request) (gateway.DeviceState, error) {
	var state gateway.DeviceState

	op := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()

		s, err := d.gw.Dispatch(attemptCtx, req.EntityID, req.Action)
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, context.Canceled) {
				return backoff.Permanent(err)
			}
			log.Warn().Str("component", "dispatcher").Str("entity", req.EntityID).
				Err(err).Msg("gateway attempt failed")
			return err
		}
		state = s
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = 0

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, d.retries), ctx))
	if err != nil {
		return nil, err
	}
	return state, nil
}
