package engine

import (
	"time"

	"github.com/eddie-rowe/vertical-farm-sub002/internal/models"
)

// Candidate is a trigger that is ready to fire in the current pass.
type Candidate struct {
	Kind         models.TriggerKind
	TriggerID    string
	TriggerName  string
	GrowID       string
	AssignmentID string
	EntityID     string
	Action       models.DeviceAction
	Priority     int
	CreatedAt    time.Time
	// ScheduledAt is the resolved fire instant for schedule triggers; the
	// dispatcher claims it to guarantee one execution per instant.
	ScheduledAt *time.Time
	// RaiseAlert marks conditions flagged as alert-worthy.
	RaiseAlert bool
}

// Skip is a trigger that could not be evaluated and must be recorded as a
// skipped execution, keeping the audit trail complete.
type Skip struct {
	Kind         models.TriggerKind
	TriggerID    string
	GrowID       string
	AssignmentID string
	Action       models.DeviceAction
	Reason       string
	Code         string
}

// PassInput is everything one evaluation pass looks at. The evaluator never
// reaches outside it except for snapshot and cooldown reads.
type PassInput struct {
	Now time.Time
	// Window is how far behind Now a schedule's fire instant may lie and
	// still count as the current tick.
	Window      time.Duration
	Grows       map[string]models.Grow
	Assignments map[string]models.DeviceAssignment
	Schedules   []models.Schedule
	Conditions  []models.Condition
	Rules       []models.Rule
}
