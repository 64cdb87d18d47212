package db

import (
	"context"
	"encoding/json"

	"github.com/eddie-rowe/vertical-farm-sub002/internal/models"
)

const scheduleCols = "id, grow_id, assignment_id, name, schedule_type, cron_expression, at_hour, at_minute, weekday, stage_offset_days, action, starts_at, ends_at, active, priority, created_at"
const conditionCols = "id, grow_id, assignment_id, name, sensor_entity_id, comparison, threshold, threshold_min, threshold_max, action, cooldown_minutes, raise_alert, active, priority, created_at"
const ruleCols = "id, grow_id, assignment_id, name, rule_config, action, active, priority, created_at"

// GetActiveGrows fetches grows eligible for automation.
func (d *DB) GetActiveGrows(ctx context.Context) ([]models.Grow, error) {
	rows, err := d.pool.Query(ctx,
		"SELECT id, shelf_id, status, start_date, automation_enabled, device_profile_id FROM grows WHERE status = 'active' AND automation_enabled")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grows []models.Grow
	for rows.Next() {
		var g models.Grow
		if err := rows.Scan(&g.ID, &g.ShelfID, &g.Status, &g.StartDate, &g.AutomationEnabled, &g.DeviceProfileID); err != nil {
			return nil, err
		}
		grows = append(grows, g)
	}
	return grows, rows.Err()
}

// GetAssignments fetches all device assignments.
func (d *DB) GetAssignments(ctx context.Context) ([]models.DeviceAssignment, error) {
	rows, err := d.pool.Query(ctx,
		"SELECT id, entity_id, device_type, location, capabilities FROM device_assignments")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assignments []models.DeviceAssignment
	for rows.Next() {
		var a models.DeviceAssignment
		if err := rows.Scan(&a.ID, &a.EntityID, &a.Type, &a.Location, &a.Capabilities); err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

// GetAssignment fetches one device assignment.
func (d *DB) GetAssignment(ctx context.Context, id string) (*models.DeviceAssignment, error) {
	var a models.DeviceAssignment
	err := d.pool.QueryRow(ctx,
		"SELECT id, entity_id, device_type, location, capabilities FROM device_assignments WHERE id = $1", id).
		Scan(&a.ID, &a.EntityID, &a.Type, &a.Location, &a.Capabilities)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func scanSchedule(row interface{ Scan(...any) error }) (models.Schedule, error) {
	var s models.Schedule
	var action []byte
	err := row.Scan(&s.ID, &s.GrowID, &s.AssignmentID, &s.Name, &s.Type, &s.CronExpression,
		&s.AtHour, &s.AtMinute, &s.Weekday, &s.StageOffsetDays, &action,
		&s.StartsAt, &s.EndsAt, &s.Active, &s.Priority, &s.CreatedAt)
	if err != nil {
		return s, err
	}
	err = json.Unmarshal(action, &s.Action)
	return s, err
}

func scanCondition(row interface{ Scan(...any) error }) (models.Condition, error) {
	var c models.Condition
	var action []byte
	err := row.Scan(&c.ID, &c.GrowID, &c.AssignmentID, &c.Name, &c.SensorEntityID, &c.Comparison,
		&c.Threshold, &c.ThresholdMin, &c.ThresholdMax, &action,
		&c.CooldownMinutes, &c.RaiseAlert, &c.Active, &c.Priority, &c.CreatedAt)
	if err != nil {
		return c, err
	}
	err = json.Unmarshal(action, &c.Action)
	return c, err
}

func scanRule(row interface{ Scan(...any) error }) (models.Rule, error) {
	var r models.Rule
	var config, action []byte
	err := row.Scan(&r.ID, &r.GrowID, &r.AssignmentID, &r.Name, &config, &action,
		&r.Active, &r.Priority, &r.CreatedAt)
	if err != nil {
		return r, err
	}
	r.RuleConfig = json.RawMessage(config)
	err = json.Unmarshal(action, &r.Action)
	return r, err
}

// GetActiveSchedules fetches active schedules belonging to active,
// automation-enabled grows. This is the evaluation hot path.
func (d *DB) GetActiveSchedules(ctx context.Context) ([]models.Schedule, error) {
	rows, err := d.pool.Query(ctx,
		"SELECT s."+scheduleCols+` FROM schedules s
		 JOIN grows g ON g.id = s.grow_id
		 WHERE s.active AND g.status = 'active' AND g.automation_enabled`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []models.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

// GetActiveConditions fetches active conditions for active, automation-enabled grows.
func (d *DB) GetActiveConditions(ctx context.Context) ([]models.Condition, error) {
	rows, err := d.pool.Query(ctx,
		"SELECT c."+conditionCols+` FROM conditions c
		 JOIN grows g ON g.id = c.grow_id
		 WHERE c.active AND g.status = 'active' AND g.automation_enabled`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conditions []models.Condition
	for rows.Next() {
		c, err := scanCondition(rows)
		if err != nil {
			return nil, err
		}
		conditions = append(conditions, c)
	}
	return conditions, rows.Err()
}

// GetActiveRules fetches active rules for active, automation-enabled grows.
func (d *DB) GetActiveRules(ctx context.Context) ([]models.Rule, error) {
	rows, err := d.pool.Query(ctx,
		"SELECT r."+ruleCols+` FROM rules r
		 JOIN grows g ON g.id = r.grow_id
		 WHERE r.active AND g.status = 'active' AND g.automation_enabled`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []models.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// IsAutomationActive re-checks, at dispatch time, that both the owning grow
// and the trigger itself are still enabled.
func (d *DB) IsAutomationActive(ctx context.Context, growID string, kind models.TriggerKind, triggerID string) (bool, error) {
	table := map[models.TriggerKind]string{
		models.KindSchedule:  "schedules",
		models.KindCondition: "conditions",
		models.KindRule:      "rules",
	}[kind]
	if table == "" {
		return false, nil
	}
	var active bool
	err := d.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM `+table+` t
			JOIN grows g ON g.id = t.grow_id
			WHERE t.id = $1 AND g.id = $2 AND t.active
			  AND g.status = 'active' AND g.automation_enabled
		)`, triggerID, growID).Scan(&active)
	return active, err
}
