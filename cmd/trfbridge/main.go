// TRF Bridge - hub command and telemetry service
//
// This is the main entry point for the TRF bridge. It relays HTTP commands to
// TRF hubs over the broker, ingests hub telemetry into InfluxDB and keeps the
// ingest loop alive with a periodic supervisor.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	_ "github.com/nerrad567/trf-bridge/migrations"

	"github.com/nerrad567/trf-bridge/internal/api"
	"github.com/nerrad567/trf-bridge/internal/audit"
	"github.com/nerrad567/trf-bridge/internal/bridges/trf"
	"github.com/nerrad567/trf-bridge/internal/infrastructure/config"
	"github.com/nerrad567/trf-bridge/internal/infrastructure/database"
	"github.com/nerrad567/trf-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/trf-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/trf-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/trf-bridge/internal/scheduler"
	"github.com/nerrad567/trf-bridge/internal/sensor"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	// defaultConfigPath is used when TRF_CONFIG is unset.
	defaultConfigPath = "configs/config.yaml"

	// envFile holds optional TRF_* overrides for local runs.
	envFile = ".env"

	// ingestTaskName names the supervised telemetry task.
	ingestTaskName = "trf.ingest"

	// ingestClientSuffix keeps the ingest connection's client id distinct
	// from the command connection's.
	ingestClientSuffix = "-ingest"

	// shutdownTimeout bounds how long running tasks get to stop.
	shutdownTimeout = 10 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application body, separated from main for testability.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting TRF bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	if err := loadEnvFile(envFile); err != nil {
		return fmt.Errorf("loading %s: %w", envFile, err)
	}

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

	// Database
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	applied, err := db.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path, "migrations_applied", applied)

	// Catalog and sensor places
	sensorRepo := sensor.NewSQLiteRepository(db.DB)
	if seedErr := sensorRepo.SeedParams(ctx, trf.Params()); seedErr != nil {
		return fmt.Errorf("seeding parameter catalog: %w", seedErr)
	}
	places := sensor.NewRegistry(sensorRepo)
	places.SetLogger(log.With("component", "sensor"))
	if refreshErr := places.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading sensor places: %w", refreshErr)
	}
	log.Info("sensor places loaded", "places", len(places.Places()))

	project := audit.NewProjectRepository(db.DB)
	errorLog := audit.NewErrorLog(db.DB)
	commandLog := audit.NewCommandLog(db.DB)

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := trf.NewMetrics(registry)

	// Command broker connection
	mqttClient, err := mqtt.Connect(cfg.MQTT, mqtt.WithLogger(log.With("component", "mqtt")))
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT connected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// InfluxDB (optional)
	var influxClient *influxdb.Client
	var sink trf.Sink = discardSink{}
	var telemetry api.TelemetryQuerier
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		sink, telemetry = influxClient, influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled, readings go to the live feed only")
	}

	// WebSocket hub, shared by the API and the ingest loop
	hub := api.NewHub(cfg.WebSocket, log.With("component", "websocket"))
	go hub.Run(ctx)

	// Ingest task and supervisor
	runner := scheduler.NewRunner()
	runner.SetLogger(log.With("component", "scheduler"))
	supervisor := scheduler.NewSupervisor(runner, project, errorLog, scheduler.SupervisorConfig{
		TaskName: ingestTaskName,
		Task:     newIngestTask(cfg, log, places, sink, project, hub, metrics),
		Interval: cfg.Scheduler.CheckInterval,
		Limits: scheduler.ApplyOptions{
			SoftTimeLimit: cfg.Scheduler.SoftTimeLimit,
			TimeLimit:     cfg.Scheduler.TimeLimit,
		},
	})
	supervisor.SetLogger(log.With("component", "supervisor"))
	runner.OnTaskDone(supervisor.RecordTaskFailure)
	go supervisor.Run(ctx) //nolint:errcheck // Returns nil on cancellation

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("stopping tasks")
		if stopErr := runner.Shutdown(shutdownCtx); stopErr != nil {
			log.Error("tasks did not stop in time", "error", stopErr)
		}
	}()

	// HTTP API
	health := map[string]api.HealthChecker{
		"database": db,
		"mqtt":     mqttClient,
	}
	if influxClient != nil {
		health["influxdb"] = influxClient
	}

	controllerOpts := trf.ControllerOptions{
		Timeout:      cfg.CommandTimeout(),
		HubKeyPrefix: cfg.TRF.HubRoutingPrefix,
		ReplyKey:     cfg.TRF.ReplyRoutingKey,
		Logger:       log.With("component", "trf"),
		Metrics:      metrics,
	}

	server, err := api.New(api.Deps{
		Config:  cfg.API,
		WS:      cfg.WebSocket,
		OTA:     cfg.OTA,
		Logger:  log.With("component", "api"),
		Version: version,
		Commands: func() api.Commander {
			return trf.NewController(mqttClient, controllerOpts)
		},
		CommandWait: cfg.HTTPWait(),
		Params:      sensorRepo,
		Places:      places,
		CommandLog:  commandLog,
		ErrorLog:    errorLog,
		Ingest:      supervisor,
		Telemetry:   telemetry,
		Measurement: cfg.TRF.Measurement,
		Health:      health,
		Schema:      db,
		Gatherer:    registry,
		Hub:         hub,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal",
		"api", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port))

	<-ctx.Done()

	// Deferred calls run in reverse: API, tasks, InfluxDB, MQTT, database.
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// ingestBrokerConfig derives the ingest connection settings. The telemetry
// queue is durable, so the connection uses a persistent session under a
// stable client id and the broker holds telemetry across restarts.
func ingestBrokerConfig(base config.MQTTConfig) config.MQTTConfig {
	cfg := base
	cfg.Broker.ClientID += ingestClientSuffix
	cfg.CleanSession = false
	return cfg
}

// newIngestTask returns the supervised task body. Each run opens its own
// broker connection, which the Ingestor closes when it stops.
func newIngestTask(
	cfg *config.Config,
	log *logging.Logger,
	resolver trf.SectionResolver,
	sink trf.Sink,
	marker trf.TaskMarker,
	notifier trf.Notifier,
	metrics *trf.Metrics,
) scheduler.TaskFunc {
	return func(ctx context.Context) error {
		client, err := mqtt.Connect(ingestBrokerConfig(cfg.MQTT), mqtt.WithLogger(log.With("component", "mqtt-ingest")))
		if err != nil {
			return fmt.Errorf("connecting ingest broker: %w", err)
		}

		ingestor, err := trf.NewIngestor(trf.IngestorDeps{
			Broker:      client,
			Resolver:    resolver,
			Sink:        sink,
			Marker:      marker,
			Notifier:    notifier,
			Logger:      log.With("component", "ingest"),
			Metrics:     metrics,
			Queue:       cfg.TRF.TelemetryQueue,
			RoutingKey:  cfg.TRF.TelemetryRoutingKey,
			Measurement: cfg.TRF.Measurement,
		})
		if err != nil {
			_ = client.Close() //nolint:errcheck // Construction already failed
			return err
		}
		return ingestor.Run(ctx)
	}
}

// discardSink stands in for InfluxDB when it is disabled.
type discardSink struct{}

func (discardSink) WritePointWithTime(string, map[string]string, map[string]any, time.Time) {}

// loadEnvFile exports the variables in path. Variables already set in the
// environment win, and a missing file is not an error.
func loadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// getConfigPath returns TRF_CONFIG if set, otherwise the default path.
func getConfigPath() string {
	if path := os.Getenv("TRF_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
