package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds each dependency probe on /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Method(http.MethodGet, "/metrics", s.metricsHandler())

		r.Route("/commands", func(r chi.Router) {
			r.Get("/", s.handleListCommands)
			r.Post("/", s.handleSendCommand)
		})

		r.Route("/params", func(r chi.Router) {
			r.Get("/", s.handleListParams)
			r.Get("/{id}", s.handleGetParam)
		})

		r.Route("/sensor-places", func(r chi.Router) {
			r.Get("/", s.handleListPlaces)
			r.Post("/", s.handleCreatePlace)
			r.Delete("/{id}", s.handleDeletePlace)
		})

		r.Get("/hubs/{id}/heartbeat", s.handleHeartbeat)
		r.Get("/telemetry/{section}", s.handleTelemetry)
		r.Get("/ingest/status", s.handleIngestStatus)
		r.Get("/errors", s.handleListErrors)
		r.Get("/ota/{filename}", s.handleOTADownload)

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	SchemaVersion int               `json:"schema_version,omitempty"`
	Checks        map[string]string `json:"checks"`
	WSClients     int               `json:"ws_clients"`
}

// handleHealth probes every registered dependency. Any failure makes the
// response 503 with status "degraded".
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "ok",
		Version:   s.version,
		Checks:    make(map[string]string, len(s.health)),
		WSClients: s.hub.ClientCount(),
	}

	names := make([]string, 0, len(s.health))
	for name := range s.health {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := s.health[name].HealthCheck(ctx)
		cancel()
		if err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			continue
		}
		resp.Checks[name] = "ok"
	}

	if s.schema != nil {
		if v, err := s.schema.SchemaVersion(r.Context()); err == nil {
			resp.SchemaVersion = v
		}
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
