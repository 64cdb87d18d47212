package engine

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/eddie-rowe/vertical-farm-sub002/internal/models"
)

// fireInstant resolves the schedule's current fire instant, if any. The
// returned instant is the most recent tick at or before now; ok is false when
// the schedule has no tick within the match window. Errors are configuration
// errors (bad cron expression, missing stage offset).
func fireInstant(s models.Schedule, grow models.Grow, now time.Time, window time.Duration) (time.Time, bool, error) {
	now = now.UTC()

	if s.StartsAt != nil && now.Before(s.StartsAt.UTC()) {
		return time.Time{}, false, nil
	}
	if s.EndsAt != nil && now.After(s.EndsAt.UTC()) {
		return time.Time{}, false, nil
	}

	switch s.Type {
	case models.ScheduleDaily:
		instant := time.Date(now.Year(), now.Month(), now.Day(), s.AtHour, s.AtMinute, 0, 0, time.UTC)
		if instant.After(now) {
			instant = instant.AddDate(0, 0, -1)
		}
		return instant, now.Sub(instant) <= window, nil

	case models.ScheduleWeekly:
		if s.Weekday == nil {
			return time.Time{}, false, fmt.Errorf("weekly schedule %s: missing weekday", s.ID)
		}
		if *s.Weekday < 0 || *s.Weekday > 6 {
			return time.Time{}, false, fmt.Errorf("weekly schedule %s: weekday %d out of range", s.ID, *s.Weekday)
		}
		instant := time.Date(now.Year(), now.Month(), now.Day(), s.AtHour, s.AtMinute, 0, 0, time.UTC)
		daysBack := (int(instant.Weekday()) - *s.Weekday + 7) % 7
		instant = instant.AddDate(0, 0, -daysBack)
		if instant.After(now) {
			instant = instant.AddDate(0, 0, -7)
		}
		return instant, now.Sub(instant) <= window, nil

	case models.ScheduleStageBased:
		if s.StageOffsetDays == nil {
			return time.Time{}, false, fmt.Errorf("stage schedule %s: missing stage offset", s.ID)
		}
		start := grow.StartDate.UTC()
		day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC).
			AddDate(0, 0, *s.StageOffsetDays)
		instant := day.Add(time.Duration(s.AtHour)*time.Hour + time.Duration(s.AtMinute)*time.Minute)
		if instant.After(now) {
			return time.Time{}, false, nil
		}
		return instant, now.Sub(instant) <= window, nil

	case models.ScheduleCustom:
		sched, err := cron.ParseStandard(s.CronExpression)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("schedule %s: invalid cron expression %q: %w", s.ID, s.CronExpression, err)
		}
		// cron only computes the next fire, so walk forward from the edge
		// of the window to find the most recent tick at or before now.
		var instant time.Time
		cursor := now.Add(-window - time.Second)
		for {
			next := sched.Next(cursor)
			if next.After(now) {
				break
			}
			instant = next
			cursor = next
		}
		return instant, !instant.IsZero(), nil

	default:
		return time.Time{}, false, fmt.Errorf("schedule %s: unknown schedule type %q", s.ID, s.Type)
	}
}
