package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pion/mdns/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/eddie-rowe/vertical-farm-sub002/internal/config"
	"github.com/eddie-rowe/vertical-farm-sub002/internal/cooldown"
	"github.com/eddie-rowe/vertical-farm-sub002/internal/db"
	"github.com/eddie-rowe/vertical-farm-sub002/internal/dispatch"
	"github.com/eddie-rowe/vertical-farm-sub002/internal/engine"
	"github.com/eddie-rowe/vertical-farm-sub002/internal/events"
	"github.com/eddie-rowe/vertical-farm-sub002/internal/execlog"
	"github.com/eddie-rowe/vertical-farm-sub002/internal/gateway"
	"github.com/eddie-rowe/vertical-farm-sub002/internal/mqtt"
	"github.com/eddie-rowe/vertical-farm-sub002/internal/redis"
	"github.com/eddie-rowe/vertical-farm-sub002/internal/scheduler"
	"github.com/eddie-rowe/vertical-farm-sub002/internal/snapshot"
	"github.com/eddie-rowe/vertical-farm-sub002/internal/status"
	"github.com/eddie-rowe/vertical-farm-sub002/internal/taskqueue"
	"github.com/eddie-rowe/vertical-farm-sub002/internal/telemetry"
	"github.com/eddie-rowe/vertical-farm-sub002/internal/web"
)

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.With().Str("service", "grow-engine").Logger()
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogging(cfg.LogLevel)

	dbConn, err := db.NewDB(cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer dbConn.Close()

	redisClient := redis.NewRedisClient(cfg.Redis.Addr)

	mqttClient, err := mqtt.NewMQTTClient(cfg.MQTT.Broker, cfg.MQTT.ClientID)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to MQTT broker")
	}
	defer mqttClient.Disconnect(250)

	snapshots := snapshot.NewCache(redisClient)
	cooldowns := cooldown.NewTracker(redisClient)
	hub := events.NewHub()

	queue := taskqueue.NewClient(cfg.Redis.Addr)
	defer queue.Close()

	execLogger := execlog.New(dbConn)
	agg := status.New(dbConn, dbConn, hub, queue, uuid.NewString, cfg.Engine.RecentActions)
	execLogger.Subscribe(agg.OnExecution)

	if err := agg.Rebuild(context.Background()); err != nil {
		log.Error().Err(err).Msg("failed to rebuild status aggregates from execution log")
	}

	gw := gateway.NewMQTTGateway(mqttClient, cfg.MQTT.CommandTopic, cfg.MQTT.ResultTopic)
	dispatcher := dispatch.New(gw, execLogger, cooldowns, dbConn,
		cfg.DispatchTimeout(), cfg.Engine.DispatchRetries, cfg.Engine.GatewayConcurrency)

	evaluator := engine.NewEvaluator(snapshots, cooldowns, cfg.StalenessWindow(), cfg.TriggerTimeout())
	eng := engine.New(dbConn, evaluator, dispatcher, execLogger, agg, hub, cfg.TickInterval())

	workers := taskqueue.NewServer(cfg.Redis.Addr, cfg.Engine.WorkerConcurrency, eng)
	if err := workers.StartWorkers(); err != nil {
		log.Fatal().Err(err).Msg("failed to start task queue workers")
	}

	feed := telemetry.NewFeed(mqttClient, snapshots, cfg.MQTT.SensorTopic, cfg.DebounceWindow(), func(entityID string) {
		if err := queue.EnqueuePass("sensor_change", entityID); err != nil {
			log.Warn().Str("entity", entityID).Err(err).Msg("failed to enqueue sensor pass")
		}
	})
	if err := feed.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to subscribe to sensor feed")
	}

	sched := scheduler.New(queue)
	if err := sched.Start(cfg.Engine.TickSeconds); err != nil {
		log.Fatal().Err(err).Msg("failed to start tick scheduler")
	}

	webServer := web.NewWebServer(dbConn, agg, eng, queue, cooldowns, hub)
	go func() {
		if err := webServer.Start(fmt.Sprintf(":%d", cfg.App.Port)); err != nil {
			log.Fatal().Err(err).Msg("web server exited")
		}
	}()

	if cfg.MDNS.Enabled {
		go announceMDNS(cfg.MDNS.LocalName)
	}

	log.Info().Int("port", cfg.App.Port).Str("agent_id", cfg.App.AgentID).Msg("grow automation engine started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	sched.Stop()
	feed.Stop()
	workers.StopWorkers()
	log.Info().Msg("shutdown complete")
}

// announceMDNS publishes the engine's local name so controllers on the same
// network can find it without static addressing.
func announceMDNS(localName string) {
	addr4, err := net.ResolveUDPAddr("udp4", mdns.DefaultAddressIPv4)
	if err != nil {
		log.Warn().Err(err).Msg("failed to resolve UDP4 address for mDNS")
		return
	}
	addr6, err := net.ResolveUDPAddr("udp6", mdns.DefaultAddressIPv6)
	if err != nil {
		log.Warn().Err(err).Msg("failed to resolve UDP6 address for mDNS")
		return
	}

	l4, err := net.ListenUDP("udp4", addr4)
	if err != nil {
		log.Warn().Err(err).Msg("failed to listen on UDP4 for mDNS")
		return
	}
	l6, err := net.ListenUDP("udp6", addr6)
	if err != nil {
		log.Warn().Err(err).Msg("failed to listen on UDP6 for mDNS")
		return
	}

	if _, err := mdns.Server(ipv4.NewPacketConn(l4), ipv6.NewPacketConn(l6), &mdns.Config{
		LocalNames: []string{localName},
	}); err != nil {
		log.Warn().Err(err).Msg("failed to start mDNS responder")
	}
}
