package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// Telemetry window bounds for ?range=.
const (
	defaultTelemetryRange = time.Hour
	maxTelemetryRange     = 30 * 24 * time.Hour
)

// HeartbeatResponse is the body of GET /hubs/{id}/heartbeat.
type HeartbeatResponse struct {
	HubID string `json:"hub_id"`
	Alive bool   `json:"alive"`
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	hubID := chi.URLParam(r, "id")
	if hubID == "" || strings.ContainsAny(hubID, ".*#/+ ") {
		writeBadRequest(w, "invalid hub id")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.commandWait)
	defer cancel()

	writeJSON(w, http.StatusOK, HeartbeatResponse{
		HubID: hubID,
		Alive: s.commands().Heartbeat(ctx, hubID),
	})
}

// handleTelemetry returns readings stored for a section within ?range=
// (a Go duration, default 1h).
func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if s.telemetry == nil {
		writeUnavailable(w, "telemetry storage is disabled")
		return
	}

	section := chi.URLParam(r, "section")
	window := defaultTelemetryRange
	if raw := r.URL.Query().Get("range"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 || d > maxTelemetryRange {
			writeBadRequest(w, "range must be a positive duration up to 720h")
			return
		}
		window = d
	}

	readings, err := s.telemetry.QuerySection(r.Context(), s.measurement, section, time.Now().Add(-window))
	if err != nil {
		s.logger.Error("telemetry query failed", "section", section, "error", err)
		writeUnavailable(w, "telemetry query failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"section":  section,
		"range":    window.String(),
		"readings": readings,
		"count":    len(readings),
	})
}
