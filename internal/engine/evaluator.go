package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/eddie-rowe/vertical-farm-sub002/internal/cooldown"
	"github.com/eddie-rowe/vertical-farm-sub002/internal/models"
	"github.com/eddie-rowe/vertical-farm-sub002/internal/snapshot"
)

// equalsEpsilon is the tolerance for float equality in `equals` comparisons.
const equalsEpsilon = 1e-6

// Evaluator decides, per trigger, whether it should fire now. It is a pure
// decision function over the pass input plus snapshot/cooldown reads; it
// never dispatches and never writes state.
type Evaluator struct {
	snapshots      snapshot.Source
	cooldowns      cooldown.Store
	staleness      time.Duration
	triggerTimeout time.Duration
}

// NewEvaluator creates an evaluator.
func NewEvaluator(snapshots snapshot.Source, cooldowns cooldown.Store, staleness, triggerTimeout time.Duration) *Evaluator {
	return &Evaluator{
		snapshots:      snapshots,
		cooldowns:      cooldowns,
		staleness:      staleness,
		triggerTimeout: triggerTimeout,
	}
}

// Evaluate runs one evaluation pass. Malformed triggers become Skips; a
// broken trigger never aborts the rest of the pass.
func (ev *Evaluator) Evaluate(ctx context.Context, in PassInput) ([]Candidate, []Skip) {
	var candidates []Candidate
	var skips []Skip

	collect := func(c *Candidate, s *Skip) {
		if c != nil {
			candidates = append(candidates, *c)
		}
		if s != nil {
			skips = append(skips, *s)
		}
	}

	for _, s := range in.Schedules {
		collect(ev.safeEval(ctx, string(models.KindSchedule), s.ID, func(ctx context.Context) (*Candidate, *Skip) {
			return ev.evalSchedule(ctx, in, s)
		}))
	}
	for _, c := range in.Conditions {
		collect(ev.safeEval(ctx, string(models.KindCondition), c.ID, func(ctx context.Context) (*Candidate, *Skip) {
			return ev.evalCondition(ctx, in, c)
		}))
	}
	for _, r := range in.Rules {
		collect(ev.safeEval(ctx, string(models.KindRule), r.ID, func(ctx context.Context) (*Candidate, *Skip) {
			return ev.evalRule(ctx, in, r)
		}))
	}

	return candidates, skips
}

// safeEval isolates one trigger evaluation: panics become config-error skips
// and each trigger gets its own micro-deadline so a slow rule cannot stall
// the pass.
func (ev *Evaluator) safeEval(ctx context.Context, kind, id string, fn func(context.Context) (*Candidate, *Skip)) (c *Candidate, s *Skip) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("component", "evaluator").Str("trigger", id).
				Interface("panic", r).Msg("trigger evaluation panicked")
			c = nil
			s = &Skip{
				Kind:      models.TriggerKind(kind),
				TriggerID: id,
				Reason:    fmt.Sprintf("evaluation panicked: %v", r),
				Code:      models.AlertConfigError,
			}
		}
	}()

	tctx, cancel := context.WithTimeout(ctx, ev.triggerTimeout)
	defer cancel()
	return fn(tctx)
}

func (ev *Evaluator) checkAssignment(in PassInput, assignmentID string, action models.DeviceAction) (models.DeviceAssignment, string) {
	a, ok := in.Assignments[assignmentID]
	if !ok {
		return a, fmt.Sprintf("unknown device assignment %s", assignmentID)
	}
	if err := action.Validate(); err != nil {
		return a, err.Error()
	}
	if !a.Supports(action.Type) {
		return a, fmt.Sprintf("device %s (%s) does not support action %s", a.EntityID, a.Type, action.Type)
	}
	return a, ""
}

func (ev *Evaluator) evalSchedule(ctx context.Context, in PassInput, s models.Schedule) (*Candidate, *Skip) {
	skip := func(reason string) *Skip {
		return &Skip{Kind: models.KindSchedule, TriggerID: s.ID, GrowID: s.GrowID,
			AssignmentID: s.AssignmentID, Action: s.Action, Reason: reason, Code: models.AlertConfigError}
	}

	assignment, problem := ev.checkAssignment(in, s.AssignmentID, s.Action)
	if problem != "" {
		return nil, skip(problem)
	}

	grow, ok := in.Grows[s.GrowID]
	if !ok {
		return nil, nil
	}

	instant, ready, err := fireInstant(s, grow, in.Now, in.Window)
	if err != nil {
		return nil, skip(err.Error())
	}
	if !ready {
		return nil, nil
	}

	// Idempotent re-tick protection: once an instant is claimed, later
	// ticks within the window see the mark and stay quiet.
	fired, err := ev.cooldowns.ScheduleFired(ctx, s.ID, instant)
	if err != nil {
		log.Warn().Str("component", "evaluator").Str("schedule", s.ID).Err(err).Msg("fired-mark lookup failed")
		return nil, nil
	}
	if fired {
		return nil, nil
	}

	at := instant
	return &Candidate{
		Kind:         models.KindSchedule,
		TriggerID:    s.ID,
		TriggerName:  s.Name,
		GrowID:       s.GrowID,
		AssignmentID: s.AssignmentID,
		EntityID:     assignment.EntityID,
		Action:       s.Action,
		Priority:     s.Priority,
		CreatedAt:    s.CreatedAt,
		ScheduledAt:  &at,
	}, nil
}

func (ev *Evaluator) evalCondition(ctx context.Context, in PassInput, c models.Condition) (*Candidate, *Skip) {
	skip := func(reason string) *Skip {
		return &Skip{Kind: models.KindCondition, TriggerID: c.ID, GrowID: c.GrowID,
			AssignmentID: c.AssignmentID, Action: c.Action, Reason: reason, Code: models.AlertConfigError}
	}

	if err := c.Validate(); err != nil {
		return nil, skip(err.Error())
	}
	assignment, problem := ev.checkAssignment(in, c.AssignmentID, c.Action)
	if problem != "" {
		return nil, skip(problem)
	}

	r, err := ev.snapshots.Latest(ctx, c.SensorEntityID)
	if err != nil {
		if !errors.Is(err, snapshot.ErrNotFound) {
			log.Warn().Str("component", "evaluator").Str("condition", c.ID).Err(err).Msg("snapshot lookup failed")
		}
		// No action without data.
		return nil, nil
	}
	if in.Now.Sub(r.ObservedAt) > ev.staleness {
		// No action without fresh data.
		return nil, nil
	}

	if !compare(r.Value, c.Comparison, c.Threshold, c.ThresholdMin, c.ThresholdMax) {
		return nil, nil
	}

	if last, ok, err := ev.cooldowns.LastFired(ctx, c.ID); err != nil {
		log.Warn().Str("component", "evaluator").Str("condition", c.ID).Err(err).Msg("cooldown lookup failed")
		return nil, nil
	} else if ok && in.Now.Sub(last) < c.Cooldown() {
		return nil, nil
	}

	return &Candidate{
		Kind:         models.KindCondition,
		TriggerID:    c.ID,
		TriggerName:  c.Name,
		GrowID:       c.GrowID,
		AssignmentID: c.AssignmentID,
		EntityID:     assignment.EntityID,
		Action:       c.Action,
		Priority:     c.Priority,
		CreatedAt:    c.CreatedAt,
		RaiseAlert:   c.RaiseAlert,
	}, nil
}

func (ev *Evaluator) evalRule(ctx context.Context, in PassInput, r models.Rule) (*Candidate, *Skip) {
	skip := func(reason, code string) *Skip {
		return &Skip{Kind: models.KindRule, TriggerID: r.ID, GrowID: r.GrowID,
			AssignmentID: r.AssignmentID, Action: r.Action, Reason: reason, Code: code}
	}

	assignment, problem := ev.checkAssignment(in, r.AssignmentID, r.Action)
	if problem != "" {
		return nil, skip(problem, models.AlertConfigError)
	}

	node, err := ParseRuleConfig(r.RuleConfig)
	if err != nil {
		return nil, skip(err.Error(), models.AlertConfigError)
	}

	ready, err := ev.evalNode(ctx, in, node)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, skip("rule evaluation exceeded trigger timeout", models.AlertEvaluationTimeout)
		}
		// Missing or stale sensor data: the rule simply does not fire.
		return nil, nil
	}
	if !ready {
		return nil, nil
	}

	if last, ok, err := ev.cooldowns.LastFired(ctx, r.ID); err != nil {
		log.Warn().Str("component", "evaluator").Str("rule", r.ID).Err(err).Msg("cooldown lookup failed")
		return nil, nil
	} else if ok && in.Now.Sub(last) < in.Window {
		// Rules have no configured cooldown; one firing per pass window
		// keeps a persistently-true rule from re-firing every tick.
		return nil, nil
	}

	return &Candidate{
		Kind:         models.KindRule,
		TriggerID:    r.ID,
		TriggerName:  r.Name,
		GrowID:       r.GrowID,
		AssignmentID: r.AssignmentID,
		EntityID:     assignment.EntityID,
		Action:       r.Action,
		Priority:     r.Priority,
		CreatedAt:    r.CreatedAt,
	}, nil
}

// compare applies a threshold comparison to a sensor value.
func compare(value float64, op models.Comparison, threshold, min, max float64) bool {
	switch op {
	case models.CompareAbove:
		return value > threshold
	case models.CompareBelow:
		return value < threshold
	case models.CompareBetween:
		return value >= min && value <= max
	case models.CompareEquals:
		return math.Abs(value-threshold) <= equalsEpsilon
	default:
		return false
	}
}
