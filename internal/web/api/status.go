package api

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/eddie-rowe/vertical-farm-sub002/internal/db"
	"github.com/eddie-rowe/vertical-farm-sub002/internal/models"
)

// StatusProvider serves the read-side automation view.
type StatusProvider interface {
	Status(ctx context.Context) (models.AutomationStatus, error)
	Alerts(ctx context.Context) ([]models.EnvironmentalAlert, error)
	Acknowledge(ctx context.Context, id, by string) error
}

const (
	defaultExecutionLimit = 100
	maxExecutionLimit     = 1000
)

// RegisterStatusRoutes wires the status, execution history, and alert routes.
func RegisterStatusRoutes(r *gin.Engine, database *db.DB, status StatusProvider) {
	automation := r.Group("/automation")
	{
		automation.GET("/status", func(c *gin.Context) {
			s, err := status.Status(c)
			if err != nil {
				c.JSON(500, gin.H{"error": "failed to read automation status"})
				return
			}
			c.JSON(200, s)
		})

		automation.GET("/executions", func(c *gin.Context) {
			growID := c.Query("grow_id")
			if growID == "" {
				c.JSON(400, gin.H{"error": "grow_id is required"})
				return
			}

			now := time.Now().UTC()
			from := now.Add(-24 * time.Hour)
			to := now
			if v := c.Query("from"); v != "" {
				t, err := time.Parse(time.RFC3339, v)
				if err != nil {
					c.JSON(400, gin.H{"error": "from must be RFC3339"})
					return
				}
				from = t
			}
			if v := c.Query("to"); v != "" {
				t, err := time.Parse(time.RFC3339, v)
				if err != nil {
					c.JSON(400, gin.H{"error": "to must be RFC3339"})
					return
				}
				to = t
			}
			limit := defaultExecutionLimit
			if v := c.Query("limit"); v != "" {
				n, err := strconv.Atoi(v)
				if err != nil || n < 1 || n > maxExecutionLimit {
					c.JSON(400, gin.H{"error": "limit must be between 1 and 1000"})
					return
				}
				limit = n
			}

			execs, err := database.GetExecutions(c, growID, from, to, limit)
			if err != nil {
				c.JSON(500, gin.H{"error": "failed to fetch executions"})
				return
			}
			if execs == nil {
				execs = []models.Execution{}
			}
			c.JSON(200, execs)
		})

		automation.GET("/alerts", func(c *gin.Context) {
			alerts, err := status.Alerts(c)
			if err != nil {
				c.JSON(500, gin.H{"error": "failed to fetch alerts"})
				return
			}
			if alerts == nil {
				alerts = []models.EnvironmentalAlert{}
			}
			c.JSON(200, alerts)
		})

		automation.POST("/alerts/:id/ack", func(c *gin.Context) {
			var req struct {
				AcknowledgedBy string `json:"acknowledged_by" binding:"required"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(400, gin.H{"error": "acknowledged_by is required"})
				return
			}
			if err := status.Acknowledge(c, c.Param("id"), req.AcknowledgedBy); err != nil {
				c.JSON(500, gin.H{"error": "failed to acknowledge alert"})
				return
			}
			c.JSON(200, gin.H{"status": "acknowledged"})
		})
	}
}
