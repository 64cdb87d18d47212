package db

import (
	"context"
	"encoding/json"

	"github.com/eddie-rowe/vertical-farm-sub002/internal/models"
)

// Trigger definition CRUD used by the web layer.

// CreateSchedule inserts a schedule definition.
func (d *DB) CreateSchedule(ctx context.Context, s models.Schedule) error {
	action, err := json.Marshal(s.Action)
	if err != nil {
		return err
	}
	_, err = d.pool.Exec(ctx,
		`INSERT INTO schedules (id, grow_id, assignment_id, name, schedule_type, cron_expression,
			at_hour, at_minute, weekday, stage_offset_days, action, starts_at, ends_at, active, priority)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		s.ID, s.GrowID, s.AssignmentID, s.Name, s.Type, s.CronExpression,
		s.AtHour, s.AtMinute, s.Weekday, s.StageOffsetDays, action, s.StartsAt, s.EndsAt, s.Active, s.Priority)
	return err
}

// GetSchedule fetches one schedule.
func (d *DB) GetSchedule(ctx context.Context, id string) (*models.Schedule, error) {
	row := d.pool.QueryRow(ctx, "SELECT "+scheduleCols+" FROM schedules WHERE id = $1", id)
	s, err := scanSchedule(row)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSchedules fetches all schedules for a grow.
func (d *DB) ListSchedules(ctx context.Context, growID string) ([]models.Schedule, error) {
	rows, err := d.pool.Query(ctx, "SELECT "+scheduleCols+" FROM schedules WHERE grow_id = $1 ORDER BY created_at", growID)
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

// UpdateSchedule overwrites a schedule definition.
func (d *DB) UpdateSchedule(ctx context.Context, s models.Schedule) error {
	action, err := json.Marshal(s.Action)
	if err != nil {
		return err
	}
	_, err = d.pool.Exec(ctx,
		`UPDATE schedules SET name=$1, schedule_type=$2, cron_expression=$3, at_hour=$4, at_minute=$5,
			weekday=$6, stage_offset_days=$7, action=$8, starts_at=$9, ends_at=$10, active=$11, priority=$12
		 WHERE id=$13`,
		s.Name, s.Type, s.CronExpression, s.AtHour, s.AtMinute,
		s.Weekday, s.StageOffsetDays, action, s.StartsAt, s.EndsAt, s.Active, s.Priority, s.ID)
	return err
}

// DeleteSchedule removes a schedule definition.
func (d *DB) DeleteSchedule(ctx context.Context, id string) error {
	_, err := d.pool.Exec(ctx, "DELETE FROM schedules WHERE id = $1", id)
	return err
}

// CreateCondition inserts a condition definition.
func (d *DB) CreateCondition(ctx context.Context, c models.Condition) error {
	action, err := json.Marshal(c.Action)
	if err != nil {
		return err
	}
	_, err = d.pool.Exec(ctx,
		`INSERT INTO conditions (id, grow_id, assignment_id, name, sensor_entity_id, comparison,
			threshold, threshold_min, threshold_max, action, cooldown_minutes, raise_alert, active, priority)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		c.ID, c.GrowID, c.AssignmentID, c.Name, c.SensorEntityID, c.Comparison,
		c.Threshold, c.ThresholdMin, c.ThresholdMax, action, c.CooldownMinutes, c.RaiseAlert, c.Active, c.Priority)
	return err
}

// GetCondition fetches one condition.
func (d *DB) GetCondition(ctx context.Context, id string) (*models.Condition, error) {
	row := d.pool.QueryRow(ctx, "SELECT "+conditionCols+" FROM conditions WHERE id = $1", id)
	c, err := scanCondition(row)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListConditions fetches all conditions for a grow.
func (d *DB) ListConditions(ctx context.Context, growID string) ([]models.Condition, error) {
	rows, err := d.pool.Query(ctx, "SELECT "+conditionCols+" FROM conditions WHERE grow_id = $1 ORDER BY created_at", growID)
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

// UpdateCondition overwrites a condition definition.
func (d *DB) UpdateCondition(ctx context.Context, c models.Condition) error {
	action, err := json.Marshal(c.Action)
	if err != nil {
		return err
	}
	_, err = d.pool.Exec(ctx,
		`UPDATE conditions SET name=$1, sensor_entity_id=$2, comparison=$3, threshold=$4,
			threshold_min=$5, threshold_max=$6, action=$7, cooldown_minutes=$8, raise_alert=$9,
			active=$10, priority=$11
		 WHERE id=$12`,
		c.Name, c.SensorEntityID, c.Comparison, c.Threshold,
		c.ThresholdMin, c.ThresholdMax, action, c.CooldownMinutes, c.RaiseAlert,
		c.Active, c.Priority, c.ID)
	return err
}

// DeleteCondition removes a condition definition.
func (d *DB) DeleteCondition(ctx context.Context, id string) error {
	_, err := d.pool.Exec(ctx, "DELETE FROM conditions WHERE id = $1", id)
	return err
}

// CreateRule inserts a rule definition.
func (d *DB) CreateRule(ctx context.Context, r models.Rule) error {
	action, err := json.Marshal(r.Action)
	if err != nil {
		return err
	}
	_, err = d.pool.Exec(ctx,
		`INSERT INTO rules (id, grow_id, assignment_id, name, rule_config, action, active, priority)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.GrowID, r.AssignmentID, r.Name, []byte(r.RuleConfig), action, r.Active, r.Priority)
	return err
}

// GetRule fetches one rule.
func (d *DB) GetRule(ctx context.Context, id string) (*models.Rule, error) {
	row := d.pool.QueryRow(ctx, "SELECT "+ruleCols+" FROM rules WHERE id = $1", id)
	r, err := scanRule(row)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRules fetches all rules for a grow.
func (d *DB) ListRules(ctx context.Context, growID string) ([]models.Rule, error) {
	rows, err := d.pool.Query(ctx, "SELECT "+ruleCols+" FROM rules WHERE grow_id = $1 ORDER BY created_at", growID)
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

// UpdateRule overwrites a rule definition.
func (d *DB) UpdateRule(ctx context.Context, r models.Rule) error {
	action, err := json.Marshal(r.Action)
	if err != nil {
		return err
	}
	_, err = d.pool.Exec(ctx,
		"UPDATE rules SET name=$1, rule_config=$2, action=$3, active=$4, priority=$5 WHERE id=$6",
		r.Name, []byte(r.RuleConfig), action, r.Active, r.Priority, r.ID)
	return err
}

// DeleteRule removes a rule definition.
func (d *DB) DeleteRule(ctx context.Context, id string) error {
	_, err := d.pool.Exec(ctx, "DELETE FROM rules WHERE id = $1", id)
	return err
}
