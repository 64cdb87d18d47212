package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// GrowStatus is the lifecycle state of a cultivation run.
type GrowStatus string

const (
	GrowPlanned   GrowStatus = "planned"
	GrowActive    GrowStatus = "active"
	GrowHarvested GrowStatus = "harvested"
	GrowFailed    GrowStatus = "failed"
	GrowPaused    GrowStatus = "paused"
)

// Grow is a single cultivation run on a shelf. The engine only reads it;
// triggers are evaluated while Status is active and AutomationEnabled is set.
type Grow struct {
	ID                string     `json:"id"`
	ShelfID           string     `json:"shelf_id"`
	Status            GrowStatus `json:"status"`
	StartDate         time.Time  `json:"start_date"`
	AutomationEnabled bool       `json:"automation_enabled"`
	DeviceProfileID   *string    `json:"device_profile_id,omitempty"`
}

// AutomationActive reports whether triggers for this grow may fire.
func (g Grow) AutomationActive() bool {
	return g.Status == GrowActive && g.AutomationEnabled
}

// DeviceType classifies a device assignment.
type DeviceType string

const (
	DeviceLight  DeviceType = "light"
	DevicePump   DeviceType = "pump"
	DeviceFan    DeviceType = "fan"
	DeviceSensor DeviceType = "sensor"
)

// DeviceAssignment binds a device entity to a location. Capabilities list the
// action types the device accepts; anything else is a configuration error.
type DeviceAssignment struct {
	ID           string     `json:"id"`
	EntityID     string     `json:"entity_id"`
	Type         DeviceType `json:"device_type"`
	Location     string     `json:"location"`
	Capabilities []string   `json:"capabilities"`
}

// Supports reports whether the assignment accepts the given action type.
func (a DeviceAssignment) Supports(t ActionType) bool {
	for _, c := range a.Capabilities {
		if c == string(t) {
			return true
		}
	}
	return false
}

// TriggerKind discriminates the trigger union.
type TriggerKind string

const (
	KindSchedule  TriggerKind = "schedule"
	KindCondition TriggerKind = "condition"
	KindRule      TriggerKind = "rule"
)

// ScheduleType selects how a schedule's fire instants are computed.
type ScheduleType string

const (
	ScheduleDaily      ScheduleType = "daily"
	ScheduleWeekly     ScheduleType = "weekly"
	ScheduleStageBased ScheduleType = "stage_based"
	ScheduleCustom     ScheduleType = "custom"
)

// Schedule is a time-based trigger.
type Schedule struct {
	ID              string       `json:"id"`
	GrowID          string       `json:"grow_id"`
	AssignmentID    string       `json:"assignment_id"`
	Name            string       `json:"name"`
	Type            ScheduleType `json:"schedule_type"`
	CronExpression  string       `json:"cron_expression,omitempty"`
	AtHour          int          `json:"at_hour"`
	AtMinute        int          `json:"at_minute"`
	Weekday         *int         `json:"weekday,omitempty"`
	StageOffsetDays *int         `json:"stage_offset_days,omitempty"`
	Action          DeviceAction `json:"action"`
	StartsAt        *time.Time   `json:"starts_at,omitempty"`
	EndsAt          *time.Time   `json:"ends_at,omitempty"`
	Active          bool         `json:"active"`
	Priority        int          `json:"priority"`
	CreatedAt       time.Time    `json:"created_at"`
}

// Comparison is the operator of a sensor condition.
type Comparison string

const (
	CompareAbove   Comparison = "above"
	CompareBelow   Comparison = "below"
	CompareBetween Comparison = "between"
	CompareEquals  Comparison = "equals"
)

// Condition is a sensor-based trigger.
type Condition struct {
	ID              string       `json:"id"`
	GrowID          string       `json:"grow_id"`
	AssignmentID    string       `json:"assignment_id"`
	Name            string       `json:"name"`
	SensorEntityID  string       `json:"sensor_entity_id"`
	Comparison      Comparison   `json:"comparison"`
	Threshold       float64      `json:"threshold"`
	ThresholdMin    float64      `json:"threshold_min"`
	ThresholdMax    float64      `json:"threshold_max"`
	Action          DeviceAction `json:"action"`
	CooldownMinutes int          `json:"cooldown_minutes"`
	RaiseAlert      bool         `json:"raise_alert"`
	Active          bool         `json:"active"`
	Priority        int          `json:"priority"`
	CreatedAt       time.Time    `json:"created_at"`
}

// Validate checks the condition's configuration invariants.
func (c Condition) Validate() error {
	if c.SensorEntityID == "" {
		return fmt.Errorf("condition %s: missing sensor entity", c.ID)
	}
	if c.CooldownMinutes < 0 {
		return fmt.Errorf("condition %s: negative cooldown", c.ID)
	}
	switch c.Comparison {
	case CompareAbove, CompareBelow, CompareEquals:
	case CompareBetween:
		if c.ThresholdMin >= c.ThresholdMax {
			return fmt.Errorf("condition %s: threshold_min must be below threshold_max", c.ID)
		}
	default:
		return fmt.Errorf("condition %s: unknown comparison %q", c.ID, c.Comparison)
	}
	return c.Action.Validate()
}

// Cooldown returns the configured cooldown as a duration.
func (c Condition) Cooldown() time.Duration {
	return time.Duration(c.CooldownMinutes) * time.Minute
}

// Rule is a composite trigger; RuleConfig holds an AND/OR tree over sensor
// comparisons (see engine.ParseRuleConfig).
type Rule struct {
	ID           string          `json:"id"`
	GrowID       string          `json:"grow_id"`
	AssignmentID string          `json:"assignment_id"`
	Name         string          `json:"name"`
	RuleConfig   json.RawMessage `json:"rule_config"`
	Action       DeviceAction    `json:"action"`
	Active       bool            `json:"active"`
	Priority     int             `json:"priority"`
	CreatedAt    time.Time       `json:"created_at"`
}

// ExecutionStatus is the terminal (or pending) state of a firing attempt.
type ExecutionStatus string

const (
	ExecutionPending ExecutionStatus = "pending"
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionFailed  ExecutionStatus = "failed"
	ExecutionSkipped ExecutionStatus = "skipped"
)

// Execution is one immutable audit record of a firing attempt.
type Execution struct {
	ID           string          `json:"id"`
	TriggerKind  TriggerKind     `json:"trigger_kind"`
	TriggerID    string          `json:"trigger_id"`
	GrowID       string          `json:"grow_id"`
	AssignmentID string          `json:"assignment_id"`
	Action       DeviceAction    `json:"action"`
	Status       ExecutionStatus `json:"status"`
	ExecutedAt   time.Time       `json:"executed_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	TriggeredBy  *string         `json:"triggered_by,omitempty"`
}

// Severity grades an environmental alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Alert codes.
const (
	AlertConfigError       = "config_error"
	AlertDispatchFailed    = "dispatch_failed"
	AlertDispatchTimeout   = "dispatch_timeout"
	AlertEvaluationTimeout = "evaluation_timeout"
	AlertCondition         = "condition_alert"
)

// EnvironmentalAlert surfaces failed or anomalous automation behaviour to
// operators. Only the acknowledged fields mutate after creation.
type EnvironmentalAlert struct {
	ID             string      `json:"id"`
	GrowID         string      `json:"grow_id"`
	TriggerKind    TriggerKind `json:"trigger_kind"`
	TriggerID      string      `json:"trigger_id"`
	Severity       Severity    `json:"severity"`
	Code           string      `json:"code"`
	Message        string      `json:"message"`
	Acknowledged   bool        `json:"acknowledged"`
	AcknowledgedBy *string     `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time  `json:"acknowledged_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// SensorReading is the latest observed value for a sensor entity.
type SensorReading struct {
	EntityID   string    `json:"entity_id"`
	Value      float64   `json:"value"`
	ObservedAt time.Time `json:"observed_at"`
}

// AutomationStatus is the read-side view consumed by the presentation layer.
type AutomationStatus struct {
	PendingTasks     int         `json:"pending_tasks"`
	ProcessingTasks  int         `json:"processing_tasks"`
	FailedTasksToday int         `json:"failed_tasks_today"`
	CompletedToday   int         `json:"completed_today"`
	ActiveAlerts     int         `json:"active_alerts"`
	RecentActions    []Execution `json:"recent_actions"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// EventType tags messages on the status/event stream.
type EventType string

const (
	EventExecution       EventType = "automation_execution"
	EventStatus          EventType = "automation_status"
	EventError           EventType = "automation_error"
	EventScheduleUpdated EventType = "schedule_updated"
)

// Event is one message on the status/event stream.
type Event struct {
	Type      EventType `json:"type"`
	GrowID    string    `json:"grow_id"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}
