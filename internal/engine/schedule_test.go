package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddie-rowe/vertical-farm-sub002/internal/models"
)

func intPtr(v int) *int { return &v }

func timePtr(t time.Time) *time.Time { return &t }

func TestFireInstantDaily(t *testing.T) {
	s := models.Schedule{ID: "s1", Type: models.ScheduleDaily, AtHour: 6, AtMinute: 30}
	grow := models.Grow{}
	window := 30 * time.Second

	tests := []struct {
		name    string
		now     time.Time
		want    time.Time
		ready   bool
	}{
		{
			name:  "exactly at fire time",
			now:   time.Date(2026, 3, 10, 6, 30, 0, 0, time.UTC),
			want:  time.Date(2026, 3, 10, 6, 30, 0, 0, time.UTC),
			ready: true,
		},
		{
			name:  "within window",
			now:   time.Date(2026, 3, 10, 6, 30, 25, 0, time.UTC),
			want:  time.Date(2026, 3, 10, 6, 30, 0, 0, time.UTC),
			ready: true,
		},
		{
			name:  "just past window",
			now:   time.Date(2026, 3, 10, 6, 30, 31, 0, time.UTC),
			ready: false,
		},
		{
			name:  "before fire time resolves to yesterday",
			now:   time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC),
			ready: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			instant, ready, err := fireInstant(s, grow, tt.now, window)
			require.NoError(t, err)
			assert.Equal(t, tt.ready, ready)
			if tt.ready {
				assert.Equal(t, tt.want, instant)
			}
		})
	}
}

func TestFireInstantWeekly(t *testing.T) {
	// 2026-03-10 is a Tuesday.
	tuesday := time.Date(2026, 3, 10, 8, 0, 10, 0, time.UTC)
	window := 30 * time.Second

	s := models.Schedule{ID: "s1", Type: models.ScheduleWeekly, AtHour: 8, AtMinute: 0, Weekday: intPtr(2)}
	instant, ready, err := fireInstant(s, models.Grow{}, tuesday, window)
	require.NoError(t, err)
	assert.True(t, ready)
	assert.Equal(t, time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC), instant)

	// Wrong weekday: most recent instant is six days old, far outside the window.
	s.Weekday = intPtr(3)
	_, ready, err = fireInstant(s, models.Grow{}, tuesday, window)
	require.NoError(t, err)
	assert.False(t, ready)

	s.Weekday = nil
	_, _, err = fireInstant(s, models.Grow{}, tuesday, window)
	assert.Error(t, err)

	s.Weekday = intPtr(9)
	_, _, err = fireInstant(s, models.Grow{}, tuesday, window)
	assert.Error(t, err)
}

func TestFireInstantStageBased(t *testing.T) {
	grow := models.Grow{StartDate: time.Date(2026, 3, 1, 14, 22, 0, 0, time.UTC)}
	window := 30 * time.Second

	s := models.Schedule{ID: "s1", Type: models.ScheduleStageBased, AtHour: 9, AtMinute: 15, StageOffsetDays: intPtr(5)}

	// Offset counts from the start date's midnight, not its wall-clock time.
	now := time.Date(2026, 3, 6, 9, 15, 5, 0, time.UTC)
	instant, ready, err := fireInstant(s, grow, now, window)
	require.NoError(t, err)
	assert.True(t, ready)
	assert.Equal(t, time.Date(2026, 3, 6, 9, 15, 0, 0, time.UTC), instant)

	// Stage day not reached yet.
	early := time.Date(2026, 3, 4, 9, 15, 5, 0, time.UTC)
	_, ready, err = fireInstant(s, grow, early, window)
	require.NoError(t, err)
	assert.False(t, ready)

	s.StageOffsetDays = nil
	_, _, err = fireInstant(s, grow, now, window)
	assert.Error(t, err)
}

func TestFireInstantCustomCron(t *testing.T) {
	window := 30 * time.Second

	s := models.Schedule{ID: "s1", Type: models.ScheduleCustom, CronExpression: "*/15 * * * *"}
	now := time.Date(2026, 3, 10, 10, 45, 12, 0, time.UTC)
	instant, ready, err := fireInstant(s, models.Grow{}, now, window)
	require.NoError(t, err)
	assert.True(t, ready)
	assert.Equal(t, time.Date(2026, 3, 10, 10, 45, 0, 0, time.UTC), instant)

	// No tick inside the window.
	now = time.Date(2026, 3, 10, 10, 50, 0, 0, time.UTC)
	_, ready, err = fireInstant(s, models.Grow{}, now, window)
	require.NoError(t, err)
	assert.False(t, ready)

	s.CronExpression = "not a cron"
	_, _, err = fireInstant(s, models.Grow{}, now, window)
	assert.Error(t, err)
}

func TestFireInstantValidityWindow(t *testing.T) {
	now := time.Date(2026, 3, 10, 6, 30, 0, 0, time.UTC)
	s := models.Schedule{
		ID: "s1", Type: models.ScheduleDaily, AtHour: 6, AtMinute: 30,
		StartsAt: timePtr(now.AddDate(0, 0, 1)),
	}
	_, ready, err := fireInstant(s, models.Grow{}, now, time.Minute)
	require.NoError(t, err)
	assert.False(t, ready, "schedule must not fire before starts_at")

	s.StartsAt = nil
	s.EndsAt = timePtr(now.AddDate(0, 0, -1))
	_, ready, err = fireInstant(s, models.Grow{}, now, time.Minute)
	require.NoError(t, err)
	assert.False(t, ready, "schedule must not fire after ends_at")
}

func TestFireInstantUnknownType(t *testing.T) {
	s := models.Schedule{ID: "s1", Type: "hourly"}
	_, _, err := fireInstant(s, models.Grow{}, time.Now(), time.Minute)
	assert.Error(t, err)
}
