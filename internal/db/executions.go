package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/eddie-rowe/vertical-farm-sub002/internal/models"
)

const executionCols = "id, trigger_kind, trigger_id, grow_id, assignment_id, action, status, executed_at, completed_at, result, error_message, triggered_by"

// InsertExecution appends a new execution record. The log is append-only;
// completion only fills in the terminal fields.
func (d *DB) InsertExecution(ctx context.Context, e models.Execution) error {
	action, err := json.Marshal(e.Action)
	if err != nil {
		return err
	}
	var result []byte
	if e.Result != nil {
		result = []byte(e.Result)
	}
	_, err = d.pool.Exec(ctx,
		`INSERT INTO executions (id, trigger_kind, trigger_id, grow_id, assignment_id, action,
			status, executed_at, completed_at, result, error_message, triggered_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ID, e.TriggerKind, e.TriggerID, e.GrowID, e.AssignmentID, action,
		e.Status, e.ExecutedAt, e.CompletedAt, result, e.ErrorMessage, e.TriggeredBy)
	return err
}

// CompleteExecution sets the terminal status of a pending execution.
func (d *DB) CompleteExecution(ctx context.Context, id string, status models.ExecutionStatus, completedAt time.Time, result json.RawMessage, errMsg string) error {
	var res []byte
	if result != nil {
		res = []byte(result)
	}
	_, err := d.pool.Exec(ctx,
		"UPDATE executions SET status=$1, completed_at=$2, result=$3, error_message=$4 WHERE id=$5 AND completed_at IS NULL",
		status, completedAt, res, errMsg, id)
	return err
}

func scanExecution(row interface{ Scan(...any) error }) (models.Execution, error) {
	var e models.Execution
	var action, result []byte
	err := row.Scan(&e.ID, &e.TriggerKind, &e.TriggerID, &e.GrowID, &e.AssignmentID, &action,
		&e.Status, &e.ExecutedAt, &e.CompletedAt, &result, &e.ErrorMessage, &e.TriggeredBy)
	if err != nil {
		return e, err
	}
	if err := json.Unmarshal(action, &e.Action); err != nil {
		return e, err
	}
	if len(result) > 0 {
		e.Result = json.RawMessage(result)
	}
	return e, nil
}

// GetExecutions fetches executions for a grow within a time range, newest first.
func (d *DB) GetExecutions(ctx context.Context, growID string, from, to time.Time, limit int) ([]models.Execution, error) {
	rows, err := d.pool.Query(ctx,
		"SELECT "+executionCols+` FROM executions
		 WHERE grow_id = $1 AND executed_at >= $2 AND executed_at <= $3
		 ORDER BY executed_at DESC LIMIT $4`,
		growID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []models.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, e)
	}
	return execs, rows.Err()
}

// GetExecutionsSince fetches all executions since the given instant, oldest
// first, for rebuilding the status aggregates from the log.
func (d *DB) GetExecutionsSince(ctx context.Context, since time.Time) ([]models.Execution, error) {
	rows, err := d.pool.Query(ctx,
		"SELECT "+executionCols+" FROM executions WHERE executed_at >= $1 ORDER BY executed_at ASC", since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []models.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, e)
	}
	return execs, rows.Err()
}

// InsertAlert inserts an alert unless an unacknowledged alert with the same
// trigger and code already exists. Reports whether a row was inserted.
func (d *DB) InsertAlert(ctx context.Context, a models.EnvironmentalAlert) (bool, error) {
	tag, err := d.pool.Exec(ctx,
		`INSERT INTO alerts (id, grow_id, trigger_kind, trigger_id, severity, code, message)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (trigger_kind, trigger_id, code) WHERE NOT acknowledged DO NOTHING`,
		a.ID, a.GrowID, a.TriggerKind, a.TriggerID, a.Severity, a.Code, a.Message)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// GetOpenAlerts fetches unacknowledged alerts, newest first.
func (d *DB) GetOpenAlerts(ctx context.Context) ([]models.EnvironmentalAlert, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT id, grow_id, trigger_kind, trigger_id, severity, code, message,
			acknowledged, acknowledged_by, acknowledged_at, created_at
		 FROM alerts WHERE NOT acknowledged ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []models.EnvironmentalAlert
	for rows.Next() {
		var a models.EnvironmentalAlert
		if err := rows.Scan(&a.ID, &a.GrowID, &a.TriggerKind, &a.TriggerID, &a.Severity, &a.Code,
			&a.Message, &a.Acknowledged, &a.AcknowledgedBy, &a.AcknowledgedAt, &a.CreatedAt); err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// CountOpenAlerts counts unacknowledged alerts.
func (d *DB) CountOpenAlerts(ctx context.Context) (int, error) {
	var n int
	err := d.pool.QueryRow(ctx, "SELECT COUNT(*) FROM alerts WHERE NOT acknowledged").Scan(&n)
	return n, err
}

// AcknowledgeAlert marks an alert acknowledged. Only the acknowledged fields
// ever mutate.
func (d *DB) AcknowledgeAlert(ctx context.Context, id, by string) error {
	_, err := d.pool.Exec(ctx,
		"UPDATE alerts SET acknowledged=true, acknowledged_by=$1, acknowledged_at=NOW() WHERE id=$2 AND NOT acknowledged",
		by, id)
	return err
}
