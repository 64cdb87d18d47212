// Package metrics exposes Prometheus instrumentation for the automation
// engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gin-gonic/gin"
)

var (
	executionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "automation_executions_total",
		Help: "Execution records by terminal status.",
	}, []string{"status"})

	dispatchInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "automation_dispatch_inflight",
		Help: "Gateway dispatches currently in flight.",
	})

	passDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "automation_pass_duration_seconds",
		Help:    "Duration of full evaluation passes.",
		Buckets: prometheus.DefBuckets,
	})

	alertsRaised = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "automation_alerts_raised_total",
		Help: "Environmental alerts raised, by code.",
	}, []string{"code"})

	eventSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "automation_event_subscribers",
		Help: "Websocket clients subscribed to the event stream.",
	})
)

// CountExecution records one terminal execution status.
func CountExecution(status string) {
	executionsTotal.WithLabelValues(status).Inc()
}

// DispatchStarted / DispatchFinished track in-flight gateway calls.
func DispatchStarted()  { dispatchInflight.Inc() }
func DispatchFinished() { dispatchInflight.Dec() }

// ObservePassDuration records one evaluation pass.
func ObservePassDuration(d time.Duration) {
	passDuration.Observe(d.Seconds())
}

// SubscriberConnected / SubscriberDisconnected track event stream clients.
func SubscriberConnected()    { eventSubscribers.Inc() }
func SubscriberDisconnected() { eventSubscribers.Dec() }

// CountAlert records a raised alert.
func CountAlert(code string) {
	alertsRaised.WithLabelValues(code).Inc()
}

// Handler returns the scrape endpoint as a gin handler.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
