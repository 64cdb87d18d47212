package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/eddie-rowe/vertical-farm-sub002/internal/db"
	"github.com/eddie-rowe/vertical-farm-sub002/internal/engine"
	"github.com/eddie-rowe/vertical-farm-sub002/internal/models"
)

// Engine receives trigger-definition change notifications.
type Engine interface {
	TriggersChanged(growID string)
}

// Enqueuer queues an immediate evaluation pass.
type Enqueuer interface {
	EnqueuePass(reason, entityID string) error
}

// CooldownClearer drops cooldown state for a deleted trigger.
type CooldownClearer interface {
	Clear(ctx context.Context, triggerID string) error
}

func clearCooldown(c *gin.Context, cds CooldownClearer, triggerID string) {
	if err := cds.Clear(c, triggerID); err != nil {
		log.Warn().Str("component", "api").Str("trigger", triggerID).Err(err).Msg("failed to clear cooldown state")
	}
}

// checkAssignment verifies the assignment exists and accepts the action.
// Returns a user-facing problem string, empty when valid.
func checkAssignment(c *gin.Context, database *db.DB, assignmentID string, action models.DeviceAction) (string, error) {
	a, err := database.GetAssignment(c, assignmentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Sprintf("unknown device assignment %s", assignmentID), nil
		}
		return "", err
	}
	if err := action.Validate(); err != nil {
		return err.Error(), nil
	}
	if !a.Supports(action.Type) {
		return fmt.Sprintf("device %s does not support action %s", a.EntityID, action.Type), nil
	}
	return "", nil
}

// validateSchedule checks per-type schedule configuration.
func validateSchedule(s models.Schedule) error {
	if s.AtHour < 0 || s.AtHour > 23 || s.AtMinute < 0 || s.AtMinute > 59 {
		return fmt.Errorf("fire time %02d:%02d out of range", s.AtHour, s.AtMinute)
	}
	switch s.Type {
	case models.ScheduleDaily:
	case models.ScheduleWeekly:
		if s.Weekday == nil || *s.Weekday < 0 || *s.Weekday > 6 {
			return errors.New("weekly schedule requires weekday 0-6")
		}
	case models.ScheduleStageBased:
		if s.StageOffsetDays == nil || *s.StageOffsetDays < 0 {
			return errors.New("stage_based schedule requires non-negative stage_offset_days")
		}
	case models.ScheduleCustom:
		if _, err := cron.ParseStandard(s.CronExpression); err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
	default:
		return fmt.Errorf("unknown schedule type %q", s.Type)
	}
	if s.StartsAt != nil && s.EndsAt != nil && !s.StartsAt.Before(*s.EndsAt) {
		return errors.New("starts_at must be before ends_at")
	}
	return nil
}

// notifyChange tells the engine triggers changed and queues a prompt pass so
// the new definition takes effect before the next tick.
func notifyChange(eng Engine, queue Enqueuer, growID string) {
	eng.TriggersChanged(growID)
	if err := queue.EnqueuePass("trigger_updated", ""); err != nil {
		log.Warn().Str("component", "api").Str("grow", growID).Err(err).Msg("failed to enqueue pass after trigger change")
	}
}

// RegisterTriggerRoutes wires schedule, condition, and rule CRUD.
func RegisterTriggerRoutes(r *gin.Engine, database *db.DB, eng Engine, queue Enqueuer, cds CooldownClearer) {
	registerScheduleRoutes(r, database, eng, queue, cds)
	registerConditionRoutes(r, database, eng, queue, cds)
	registerRuleRoutes(r, database, eng, queue, cds)
}

func registerScheduleRoutes(r *gin.Engine, database *db.DB, eng Engine, queue Enqueuer, cds CooldownClearer) {
	r.GET("/grows/:grow_id/schedules", func(c *gin.Context) {
		schedules, err := database.ListSchedules(c, c.Param("grow_id"))
		if err != nil {
			c.JSON(500, gin.H{"error": "failed to fetch schedules"})
			return
		}
		if schedules == nil {
			schedules = []models.Schedule{}
		}
		c.JSON(200, schedules)
	})

	r.POST("/grows/:grow_id/schedules", func(c *gin.Context) {
		var s models.Schedule
		if err := c.ShouldBindJSON(&s); err != nil {
			c.JSON(400, gin.H{"error": "invalid request body"})
			return
		}
		s.ID = uuid.NewString()
		s.GrowID = c.Param("grow_id")

		if err := validateSchedule(s); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}
		problem, err := checkAssignment(c, database, s.AssignmentID, s.Action)
		if err != nil {
			c.JSON(500, gin.H{"error": "failed to validate assignment"})
			return
		}
		if problem != "" {
			c.JSON(400, gin.H{"error": problem})
			return
		}

		if err := database.CreateSchedule(c, s); err != nil {
			c.JSON(500, gin.H{"error": "failed to create schedule"})
			return
		}
		created, err := database.GetSchedule(c, s.ID)
		if err != nil {
			c.JSON(500, gin.H{"error": "failed to fetch created schedule"})
			return
		}
		notifyChange(eng, queue, s.GrowID)
		c.JSON(201, created)
	})

	r.PUT("/schedules/:id", func(c *gin.Context) {
		existing, err := database.GetSchedule(c, c.Param("id"))
		if err != nil {
			c.JSON(404, gin.H{"error": "schedule not found"})
			return
		}

		var s models.Schedule
		if err := c.ShouldBindJSON(&s); err != nil {
			c.JSON(400, gin.H{"error": "invalid request body"})
			return
		}
		s.ID = existing.ID
		s.GrowID = existing.GrowID
		if s.AssignmentID == "" {
			s.AssignmentID = existing.AssignmentID
		}

		if err := validateSchedule(s); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}
		problem, err := checkAssignment(c, database, s.AssignmentID, s.Action)
		if err != nil {
			c.JSON(500, gin.H{"error": "failed to validate assignment"})
			return
		}
		if problem != "" {
			c.JSON(400, gin.H{"error": problem})
			return
		}

		if err := database.UpdateSchedule(c, s); err != nil {
			c.JSON(500, gin.H{"error": "failed to update schedule"})
			return
		}
		notifyChange(eng, queue, s.GrowID)
		c.JSON(200, s)
	})

	r.DELETE("/schedules/:id", func(c *gin.Context) {
		existing, err := database.GetSchedule(c, c.Param("id"))
		if err != nil {
			c.JSON(404, gin.H{"error": "schedule not found"})
			return
		}
		if err := database.DeleteSchedule(c, existing.ID); err != nil {
			c.JSON(500, gin.H{"error": "failed to delete schedule"})
			return
		}
		clearCooldown(c, cds, existing.ID)
		notifyChange(eng, queue, existing.GrowID)
		c.JSON(200, gin.H{"status": "deleted"})
	})
}

func registerConditionRoutes(r *gin.Engine, database *db.DB, eng Engine, queue Enqueuer, cds CooldownClearer) {
	r.GET("/grows/:grow_id/conditions", func(c *gin.Context) {
		conditions, err := database.ListConditions(c, c.Param("grow_id"))
		if err != nil {
			c.JSON(500, gin.H{"error": "failed to fetch conditions"})
			return
		}
		if conditions == nil {
			conditions = []models.Condition{}
		}
		c.JSON(200, conditions)
	})

	r.POST("/grows/:grow_id/conditions", func(c *gin.Context) {
		var cond models.Condition
		if err := c.ShouldBindJSON(&cond); err != nil {
			c.JSON(400, gin.H{"error": "invalid request body"})
			return
		}
		cond.ID = uuid.NewString()
		cond.GrowID = c.Param("grow_id")

		if err := cond.Validate(); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}
		problem, err := checkAssignment(c, database, cond.AssignmentID, cond.Action)
		if err != nil {
			c.JSON(500, gin.H{"error": "failed to validate assignment"})
			return
		}
		if problem != "" {
			c.JSON(400, gin.H{"error": problem})
			return
		}

		if err := database.CreateCondition(c, cond); err != nil {
			c.JSON(500, gin.H{"error": "failed to create condition"})
			return
		}
		created, err := database.GetCondition(c, cond.ID)
		if err != nil {
			c.JSON(500, gin.H{"error": "failed to fetch created condition"})
			return
		}
		notifyChange(eng, queue, cond.GrowID)
		c.JSON(201, created)
	})

	r.PUT("/conditions/:id", func(c *gin.Context) {
		existing, err := database.GetCondition(c, c.Param("id"))
		if err != nil {
			c.JSON(404, gin.H{"error": "condition not found"})
			return
		}

		var cond models.Condition
		if err := c.ShouldBindJSON(&cond); err != nil {
			c.JSON(400, gin.H{"error": "invalid request body"})
			return
		}
		cond.ID = existing.ID
		cond.GrowID = existing.GrowID
		if cond.AssignmentID == "" {
			cond.AssignmentID = existing.AssignmentID
		}

		if err := cond.Validate(); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}
		problem, err := checkAssignment(c, database, cond.AssignmentID, cond.Action)
		if err != nil {
			c.JSON(500, gin.H{"error": "failed to validate assignment"})
			return
		}
		if problem != "" {
			c.JSON(400, gin.H{"error": problem})
			return
		}

		if err := database.UpdateCondition(c, cond); err != nil {
			c.JSON(500, gin.H{"error": "failed to update condition"})
			return
		}
		notifyChange(eng, queue, cond.GrowID)
		c.JSON(200, cond)
	})

	r.DELETE("/conditions/:id", func(c *gin.Context) {
		existing, err := database.GetCondition(c, c.Param("id"))
		if err != nil {
			c.JSON(404, gin.H{"error": "condition not found"})
			return
		}
		if err := database.DeleteCondition(c, existing.ID); err != nil {
			c.JSON(500, gin.H{"error": "failed to delete condition"})
			return
		}
		clearCooldown(c, cds, existing.ID)
		notifyChange(eng, queue, existing.GrowID)
		c.JSON(200, gin.H{"status": "deleted"})
	})
}

func registerRuleRoutes(r *gin.Engine, database *db.DB, eng Engine, queue Enqueuer, cds CooldownClearer) {
	r.GET("/grows/:grow_id/rules", func(c *gin.Context) {
		rules, err := database.ListRules(c, c.Param("grow_id"))
		if err != nil {
			c.JSON(500, gin.H{"error": "failed to fetch rules"})
			return
		}
		if rules == nil {
			rules = []models.Rule{}
		}
		c.JSON(200, rules)
	})

	r.POST("/grows/:grow_id/rules", func(c *gin.Context) {
		var rule models.Rule
		if err := c.ShouldBindJSON(&rule); err != nil {
			c.JSON(400, gin.H{"error": "invalid request body"})
			return
		}
		rule.ID = uuid.NewString()
		rule.GrowID = c.Param("grow_id")

		if _, err := engine.ParseRuleConfig(rule.RuleConfig); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}
		problem, err := checkAssignment(c, database, rule.AssignmentID, rule.Action)
		if err != nil {
			c.JSON(500, gin.H{"error": "failed to validate assignment"})
			return
		}
		if problem != "" {
			c.JSON(400, gin.H{"error": problem})
			return
		}

		if err := database.CreateRule(c, rule); err != nil {
			c.JSON(500, gin.H{"error": "failed to create rule"})
			return
		}
		created, err := database.GetRule(c, rule.ID)
		if err != nil {
			c.JSON(500, gin.H{"error": "failed to fetch created rule"})
			return
		}
		notifyChange(eng, queue, rule.GrowID)
		c.JSON(201, created)
	})

	r.PUT("/rules/:id", func(c *gin.Context) {
		existing, err := database.GetRule(c, c.Param("id"))
		if err != nil {
			c.JSON(404, gin.H{"error": "rule not found"})
			return
		}

		var rule models.Rule
		if err := c.ShouldBindJSON(&rule); err != nil {
			c.JSON(400, gin.H{"error": "invalid request body"})
			return
		}
		rule.ID = existing.ID
		rule.GrowID = existing.GrowID
		if rule.AssignmentID == "" {
			rule.AssignmentID = existing.AssignmentID
		}

		if _, err := engine.ParseRuleConfig(rule.RuleConfig); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}
		problem, err := checkAssignment(c, database, rule.AssignmentID, rule.Action)
		if err != nil {
			c.JSON(500, gin.H{"error": "failed to validate assignment"})
			return
		}
		if problem != "" {
			c.JSON(400, gin.H{"error": problem})
			return
		}

		if err := database.UpdateRule(c, rule); err != nil {
			c.JSON(500, gin.H{"error": "failed to update rule"})
			return
		}
		notifyChange(eng, queue, rule.GrowID)
		c.JSON(200, rule)
	})

	r.DELETE("/rules/:id", func(c *gin.Context) {
		existing, err := database.GetRule(c, c.Param("id"))
		if err != nil {
			c.JSON(404, gin.H{"error": "rule not found"})
			return
		}
		if err := database.DeleteRule(c, existing.ID); err != nil {
			c.JSON(500, gin.H{"error": "failed to delete rule"})
			return
		}
		clearCooldown(c, cds, existing.ID)
		notifyChange(eng, queue, existing.GrowID)
		c.JSON(200, gin.H{"status": "deleted"})
	})
}
