package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/trf-bridge/internal/audit"
	"github.com/nerrad567/trf-bridge/internal/bridges/trf"
	"github.com/nerrad567/trf-bridge/internal/infrastructure/config"
	"github.com/nerrad567/trf-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/trf-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/trf-bridge/internal/scheduler"
	"github.com/nerrad567/trf-bridge/internal/sensor"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// defaultCommandWait bounds how long POST /commands waits for a hub.
const defaultCommandWait = 5 * time.Second

// Commander sends requests to hubs. *trf.Controller satisfies this interface.
type Commander interface {
	Dispatch(ctx context.Context, hubID string, t trf.PacketType, address uint8, value int32) (trf.Reply, error)
	Heartbeat(ctx context.Context, hubID string) bool
}

// CommanderFactory returns a Commander for one request. A Controller
// serialises its calls, so each request gets its own.
type CommanderFactory func() Commander

// ParamLister reads the parameter catalog. *sensor.SQLiteRepository
// satisfies this interface.
type ParamLister interface {
	ListParams(ctx context.Context, includeAdvanced bool) ([]sensor.Param, error)
}

// PlaceStore manages sensor places. *sensor.Registry satisfies this interface.
type PlaceStore interface {
	Places() []sensor.Place
	CreatePlace(ctx context.Context, p *sensor.Place) error
	DeletePlace(ctx context.Context, id int64) error
}

// CommandLog stores commands sent through the API. *audit.CommandLog
// satisfies this interface.
type CommandLog interface {
	Create(ctx context.Context, rec *audit.CommandRecord) error
	List(ctx context.Context, filter audit.Filter) (*audit.ListResult, error)
}

// ErrorLog lists recorded background failures. *audit.ErrorLog satisfies
// this interface.
type ErrorLog interface {
	List(ctx context.Context, limit int) ([]audit.ErrorEntry, error)
}

// IngestReporter reports the supervised ingest task.
// *scheduler.Supervisor satisfies this interface.
type IngestReporter interface {
	Snapshot(ctx context.Context) (scheduler.Snapshot, error)
}

// TelemetryQuerier reads stored readings. *influxdb.Client satisfies this
// interface.
type TelemetryQuerier interface {
	QuerySection(ctx context.Context, measurement, section string, since time.Time) ([]influxdb.Reading, error)
}

// HealthChecker is implemented by every component reported on /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// SchemaReporter reports the applied migration version.
// *database.DB satisfies this interface.
type SchemaReporter interface {
	SchemaVersion(ctx context.Context) (int, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	OTA     config.OTAConfig
	Logger  *logging.Logger
	Version string

	Commands    CommanderFactory // required
	CommandWait time.Duration    // default 5s
	Params      ParamLister      // required
	Places      PlaceStore       // required
	CommandLog  CommandLog       // required
	ErrorLog    ErrorLog
	Ingest      IngestReporter
	Telemetry   TelemetryQuerier // nil when InfluxDB is disabled
	Measurement string           // default trf.DefaultMeasurement

	Health   map[string]HealthChecker
	Schema   SchemaReporter
	Gatherer prometheus.Gatherer // default prometheus.DefaultGatherer

	// Hub, if set, is used instead of a server-owned hub. The ingest loop
	// needs it before the server starts.
	Hub *Hub
}

// Server is the HTTP API server for the TRF bridge.
type Server struct {
	cfg         config.APIConfig
	otaDir      string
	logger      *logging.Logger
	version     string
	commands    CommanderFactory
	commandWait time.Duration
	params      ParamLister
	places      PlaceStore
	commandLog  CommandLog
	errorLog    ErrorLog
	ingest      IngestReporter
	telemetry   TelemetryQuerier
	measurement string
	health      map[string]HealthChecker
	schema      SchemaReporter
	gatherer    prometheus.Gatherer
	server      *http.Server
	hub         *Hub
	externalHub bool
	cancel      context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, errors.New("logger is required")
	case deps.Commands == nil:
		return nil, errors.New("commander factory is required")
	case deps.Params == nil:
		return nil, errors.New("param lister is required")
	case deps.Places == nil:
		return nil, errors.New("place store is required")
	case deps.CommandLog == nil:
		return nil, errors.New("command log is required")
	}

	if deps.CommandWait <= 0 {
		deps.CommandWait = defaultCommandWait
	}
	if deps.Measurement == "" {
		deps.Measurement = trf.DefaultMeasurement
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		cfg:         deps.Config,
		otaDir:      deps.OTA.Dir,
		logger:      deps.Logger,
		version:     deps.Version,
		commands:    deps.Commands,
		commandWait: deps.CommandWait,
		params:      deps.Params,
		places:      deps.Places,
		commandLog:  deps.CommandLog,
		errorLog:    deps.ErrorLog,
		ingest:      deps.Ingest,
		telemetry:   deps.Telemetry,
		measurement: deps.Measurement,
		health:      deps.Health,
		schema:      deps.Schema,
		gatherer:    deps.Gatherer,
	}

	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	} else {
		s.hub = NewHub(deps.WS, deps.Logger)
	}

	return s, nil
}

// Hub returns the WebSocket hub used for live and notif events.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return errors.New("api server not started")
	}
	return nil
}
