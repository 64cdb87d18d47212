// Package web is the HTTP surface of the automation engine: status and
// execution queries, alert acknowledgement, trigger CRUD, the websocket
// event stream, and the metrics scrape endpoint.
package web

import (
	"github.com/gin-gonic/gin"

	"github.com/eddie-rowe/vertical-farm-sub002/internal/db"
	"github.com/eddie-rowe/vertical-farm-sub002/internal/events"
	"github.com/eddie-rowe/vertical-farm-sub002/internal/metrics"
	"github.com/eddie-rowe/vertical-farm-sub002/internal/web/api"
)

// WebServer wraps the gin router.
type WebServer struct {
	router *gin.Engine
}

// NewWebServer builds the router with all routes registered.
func NewWebServer(database *db.DB, status api.StatusProvider, engine api.Engine, queue api.Enqueuer, cooldowns api.CooldownClearer, hub *events.Hub) *WebServer {
	router := gin.Default()

	api.RegisterStatusRoutes(router, database, status)
	api.RegisterTriggerRoutes(router, database, engine, queue, cooldowns)

	router.GET("/ws", hub.ServeWS)
	router.GET("/metrics", metrics.Handler())

	return &WebServer{router: router}
}

// Start serves HTTP on addr until the process exits.
func (ws *WebServer) Start(addr string) error {
	return ws.router.Run(addr)
}
