package status

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddie-rowe/vertical-farm-sub002/internal/models"
)

type memAlerts struct {
	mu     sync.Mutex
	alerts []models.EnvironmentalAlert
}

func (m *memAlerts) InsertAlert(_ context.Context, a models.EnvironmentalAlert) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.alerts {
		if !existing.Acknowledged && existing.TriggerKind == a.TriggerKind &&
			existing.TriggerID == a.TriggerID && existing.Code == a.Code {
			return false, nil
		}
	}
	m.alerts = append(m.alerts, a)
	return true, nil
}

func (m *memAlerts) GetOpenAlerts(context.Context) ([]models.EnvironmentalAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var open []models.EnvironmentalAlert
	for i := len(m.alerts) - 1; i >= 0; i-- {
		if !m.alerts[i].Acknowledged {
			open = append(open, m.alerts[i])
		}
	}
	return open, nil
}

func (m *memAlerts) CountOpenAlerts(ctx context.Context) (int, error) {
	open, _ := m.GetOpenAlerts(ctx)
	return len(open), nil
}

func (m *memAlerts) AcknowledgeAlert(_ context.Context, id, by string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for i := range m.alerts {
		if m.alerts[i].ID == id {
			m.alerts[i].Acknowledged = true
			m.alerts[i].AcknowledgedBy = &by
			m.alerts[i].AcknowledgedAt = &now
		}
	}
	return nil
}

type memSource struct {
	execs []models.Execution
}

func (m *memSource) GetExecutionsSince(_ context.Context, since time.Time) ([]models.Execution, error) {
	var out []models.Execution
	for _, e := range m.execs {
		if !e.ExecutedAt.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

type memPublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (m *memPublisher) Publish(evt models.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
}

func (m *memPublisher) byType(t models.EventType) []models.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Event
	for _, e := range m.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func testIDs() IDGen {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("alert-%d", n)
	}
}

func newTestAggregator(source *memSource) (*Aggregator, *memAlerts, *memPublisher) {
	alerts := &memAlerts{}
	pub := &memPublisher{}
	if source == nil {
		source = &memSource{}
	}
	return New(alerts, source, pub, nil, testIDs(), 5), alerts, pub
}

func exec(id string, status models.ExecutionStatus) models.Execution {
	return models.Execution{
		ID: id, TriggerKind: models.KindCondition, TriggerID: "c1",
		GrowID: "g1", AssignmentID: "a1",
		Action:     models.DeviceAction{Type: models.ActionTurnOn},
		Status:     status,
		ExecutedAt: time.Now().UTC(),
	}
}

func TestAggregatorCountsLifecycle(t *testing.T) {
	agg, _, pub := newTestAggregator(nil)

	agg.OnExecution(exec("e1", models.ExecutionPending))
	s, err := agg.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, s.ProcessingTasks)
	assert.Equal(t, 0, s.CompletedToday)

	agg.OnExecution(exec("e1", models.ExecutionSuccess))
	s, err = agg.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, s.ProcessingTasks)
	assert.Equal(t, 1, s.CompletedToday)
	assert.Equal(t, 0, s.FailedTasksToday)

	agg.OnExecution(exec("e2", models.ExecutionPending))
	agg.OnExecution(exec("e2", models.ExecutionFailed))
	s, err = agg.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, s.FailedTasksToday)

	assert.Len(t, pub.byType(models.EventExecution), 4, "every record is published on the stream")
}

func TestAggregatorRecentActionsRing(t *testing.T) {
	agg, _, _ := newTestAggregator(nil)

	for i := 0; i < 8; i++ {
		agg.OnExecution(exec(fmt.Sprintf("e%d", i), models.ExecutionSuccess))
	}

	s, err := agg.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, s.RecentActions, 5)
	assert.Equal(t, "e7", s.RecentActions[0].ID, "newest first")
	assert.Equal(t, "e3", s.RecentActions[4].ID)
}

func TestAggregatorFailedExecutionRaisesAlertOnce(t *testing.T) {
	agg, alerts, pub := newTestAggregator(nil)

	failed := exec("e1", models.ExecutionFailed)
	failed.Result, _ = json.Marshal(map[string]string{"error_code": models.AlertDispatchTimeout})
	failed.ErrorMessage = "gateway: command timed out"

	agg.OnExecution(failed)
	repeat := failed
	repeat.ID = "e2"
	agg.OnExecution(repeat)

	open, err := alerts.GetOpenAlerts(context.Background())
	require.NoError(t, err)
	require.Len(t, open, 1, "identical open alert must not be duplicated")
	assert.Equal(t, models.AlertDispatchTimeout, open[0].Code)
	assert.Equal(t, models.SeverityError, open[0].Severity)

	assert.Len(t, pub.byType(models.EventError), 1, "suppressed duplicates are not published")
}

func TestAggregatorAlertReturnsAfterAck(t *testing.T) {
	agg, alerts, _ := newTestAggregator(nil)

	failed := exec("e1", models.ExecutionFailed)
	failed.Result, _ = json.Marshal(map[string]string{"error_code": models.AlertDispatchFailed})
	agg.OnExecution(failed)

	open, err := alerts.GetOpenAlerts(context.Background())
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.NoError(t, agg.Acknowledge(context.Background(), open[0].ID, "operator"))

	n, err := alerts.CountOpenAlerts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// The same fault after acknowledgement opens a fresh alert.
	failed.ID = "e2"
	agg.OnExecution(failed)
	n, err = alerts.CountOpenAlerts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAggregatorRebuildFromLog(t *testing.T) {
	now := time.Now().UTC()
	source := &memSource{execs: []models.Execution{
		{ID: "e1", Status: models.ExecutionSuccess, ExecutedAt: now},
		{ID: "e2", Status: models.ExecutionFailed, ExecutedAt: now},
		{ID: "e3", Status: models.ExecutionPending, ExecutedAt: now},
	}}
	agg, _, _ := newTestAggregator(source)

	require.NoError(t, agg.Rebuild(context.Background()))

	s, err := agg.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, s.CompletedToday)
	assert.Equal(t, 1, s.FailedTasksToday)
	assert.Equal(t, 1, s.ProcessingTasks)
}
