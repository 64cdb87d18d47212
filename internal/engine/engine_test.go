package engine

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddie-rowe/vertical-farm-sub002/internal/dispatch"
	"github.com/eddie-rowe/vertical-farm-sub002/internal/execlog"
	"github.com/eddie-rowe/vertical-farm-sub002/internal/models"
)

type fakeSource struct {
	grows       []models.Grow
	assignments []models.DeviceAssignment
	schedules   []models.Schedule
	conditions  []models.Condition
	rules       []models.Rule
}

func (f *fakeSource) GetActiveGrows(context.Context) ([]models.Grow, error) { return f.grows, nil }
func (f *fakeSource) GetAssignments(context.Context) ([]models.DeviceAssignment, error) {
	return f.assignments, nil
}
func (f *fakeSource) GetActiveSchedules(context.Context) ([]models.Schedule, error) {
	return f.schedules, nil
}
func (f *fakeSource) GetActiveConditions(context.Context) ([]models.Condition, error) {
	return f.conditions, nil
}
func (f *fakeSource) GetActiveRules(context.Context) ([]models.Rule, error) { return f.rules, nil }

type fakeDispatcher struct {
	mu       sync.Mutex
	requests []dispatch.Request
	status   models.ExecutionStatus
}

func (f *fakeDispatcher) Dispatch(_ context.Context, req dispatch.Request) (*models.Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return &models.Execution{
		ID: "exec-" + req.TriggerID, TriggerKind: req.Kind, TriggerID: req.TriggerID,
		GrowID: req.GrowID, AssignmentID: req.AssignmentID, Status: f.status,
	}, nil
}

func (f *fakeDispatcher) dispatched() []dispatch.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]dispatch.Request(nil), f.requests...)
}

type fakeAlerter struct {
	mu     sync.Mutex
	raised []models.EnvironmentalAlert
}

func (f *fakeAlerter) Raise(_ context.Context, a models.EnvironmentalAlert) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raised = append(f.raised, a)
}

func (f *fakeAlerter) byCode(code string) []models.EnvironmentalAlert {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.EnvironmentalAlert
	for _, a := range f.raised {
		if a.Code == code {
			out = append(out, a)
		}
	}
	return out
}

type fakePublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (f *fakePublisher) Publish(evt models.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
}

type engineMemStore struct {
	mu       sync.Mutex
	inserted []models.Execution
}

func (m *engineMemStore) InsertExecution(_ context.Context, e models.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserted = append(m.inserted, e)
	return nil
}

func (m *engineMemStore) CompleteExecution(context.Context, string, models.ExecutionStatus, time.Time, json.RawMessage, string) error {
	return nil
}

func (m *engineMemStore) byStatus(status models.ExecutionStatus) []models.Execution {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Execution
	for _, e := range m.inserted {
		if e.Status == status {
			out = append(out, e)
		}
	}
	return out
}

func activeTestSource() *fakeSource {
	now := time.Now().UTC()
	return &fakeSource{
		grows: []models.Grow{{ID: "g1", Status: models.GrowActive, AutomationEnabled: true, StartDate: now.AddDate(0, 0, -3)}},
		assignments: []models.DeviceAssignment{
			{ID: "a1", EntityID: "fan-1", Type: models.DeviceFan, Capabilities: []string{"turn_on", "turn_off"}},
		},
	}
}

func newTestEngine(src *fakeSource, snaps *fakeSnapshots, status models.ExecutionStatus) (*Engine, *fakeDispatcher, *fakeAlerter, *engineMemStore) {
	disp := &fakeDispatcher{status: status}
	alerter := &fakeAlerter{}
	store := &engineMemStore{}
	ev := NewEvaluator(snaps, newFakeCooldowns(), 5*time.Minute, time.Second)
	eng := New(src, ev, disp, execlog.New(store), alerter, &fakePublisher{}, 30*time.Second)
	return eng, disp, alerter, store
}

func TestRunPassDispatchesWinner(t *testing.T) {
	src := activeTestSource()
	src.conditions = []models.Condition{{
		ID: "c1", GrowID: "g1", AssignmentID: "a1", Name: "hot",
		SensorEntityID: "temp-1", Comparison: models.CompareAbove, Threshold: 28,
		Action: models.DeviceAction{Type: models.ActionTurnOn},
	}}

	snaps := newFakeSnapshots()
	snaps.set("temp-1", 31, time.Now().UTC())

	eng, disp, _, _ := newTestEngine(src, snaps, models.ExecutionSuccess)
	require.NoError(t, eng.RunPass(context.Background()))

	reqs := disp.dispatched()
	require.Len(t, reqs, 1)
	assert.Equal(t, "c1", reqs[0].TriggerID)
	assert.Equal(t, "fan-1", reqs[0].EntityID)
}

func TestRunPassLogsArbitrationLoser(t *testing.T) {
	src := activeTestSource()
	src.conditions = []models.Condition{
		{
			ID: "winner", GrowID: "g1", AssignmentID: "a1", Name: "hot",
			SensorEntityID: "temp-1", Comparison: models.CompareAbove, Threshold: 28,
			Action: models.DeviceAction{Type: models.ActionTurnOn}, Priority: 9,
		},
		{
			ID: "loser", GrowID: "g1", AssignmentID: "a1", Name: "dry",
			SensorEntityID: "temp-1", Comparison: models.CompareAbove, Threshold: 20,
			Action: models.DeviceAction{Type: models.ActionTurnOff}, Priority: 1,
		},
	}

	snaps := newFakeSnapshots()
	snaps.set("temp-1", 31, time.Now().UTC())

	eng, disp, _, store := newTestEngine(src, snaps, models.ExecutionSuccess)
	require.NoError(t, eng.RunPass(context.Background()))

	reqs := disp.dispatched()
	require.Len(t, reqs, 1)
	assert.Equal(t, "winner", reqs[0].TriggerID)

	skipped := store.byStatus(models.ExecutionSkipped)
	require.Len(t, skipped, 1)
	assert.Equal(t, "loser", skipped[0].TriggerID)
	assert.Contains(t, skipped[0].ErrorMessage, "winner")
}

func TestRunPassRecordsConfigSkipAndAlert(t *testing.T) {
	src := activeTestSource()
	src.conditions = []models.Condition{{
		ID: "c1", GrowID: "g1", AssignmentID: "missing", Name: "hot",
		SensorEntityID: "temp-1", Comparison: models.CompareAbove, Threshold: 28,
		Action: models.DeviceAction{Type: models.ActionTurnOn},
	}}

	eng, disp, alerter, store := newTestEngine(src, newFakeSnapshots(), models.ExecutionSuccess)
	require.NoError(t, eng.RunPass(context.Background()))

	assert.Empty(t, disp.dispatched())
	require.Len(t, store.byStatus(models.ExecutionSkipped), 1)
	require.Len(t, alerter.byCode(models.AlertConfigError), 1)
}

func TestRunPassRaisesConditionAlertOnSuccess(t *testing.T) {
	src := activeTestSource()
	src.conditions = []models.Condition{{
		ID: "c1", GrowID: "g1", AssignmentID: "a1", Name: "too hot",
		SensorEntityID: "temp-1", Comparison: models.CompareAbove, Threshold: 28,
		Action: models.DeviceAction{Type: models.ActionTurnOn}, RaiseAlert: true,
	}}

	snaps := newFakeSnapshots()
	snaps.set("temp-1", 31, time.Now().UTC())

	eng, _, alerter, _ := newTestEngine(src, snaps, models.ExecutionSuccess)
	require.NoError(t, eng.RunPass(context.Background()))

	alerts := alerter.byCode(models.AlertCondition)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.SeverityWarning, alerts[0].Severity)
}

func TestRunPassNoConditionAlertOnFailedDispatch(t *testing.T) {
	src := activeTestSource()
	src.conditions = []models.Condition{{
		ID: "c1", GrowID: "g1", AssignmentID: "a1", Name: "too hot",
		SensorEntityID: "temp-1", Comparison: models.CompareAbove, Threshold: 28,
		Action: models.DeviceAction{Type: models.ActionTurnOn}, RaiseAlert: true,
	}}

	snaps := newFakeSnapshots()
	snaps.set("temp-1", 31, time.Now().UTC())

	eng, _, alerter, _ := newTestEngine(src, snaps, models.ExecutionFailed)
	require.NoError(t, eng.RunPass(context.Background()))

	assert.Empty(t, alerter.byCode(models.AlertCondition))
}
