package api

import (
	"net/http"
)

// defaultErrorListLimit caps GET /errors when ?limit= is absent.
const defaultErrorListLimit = 100

func (s *Server) handleIngestStatus(w http.ResponseWriter, r *http.Request) {
	if s.ingest == nil {
		writeUnavailable(w, "ingest supervisor not configured")
		return
	}

	snap, err := s.ingest.Snapshot(r.Context())
	if err != nil {
		s.logger.Error("failed to read ingest status", "error", err)
		writeInternalError(w, "failed to read ingest status")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleListErrors(w http.ResponseWriter, r *http.Request) {
	if s.errorLog == nil {
		writeJSON(w, http.StatusOK, map[string]any{"errors": []any{}, "count": 0})
		return
	}

	limit, ok := intQuery(w, r.URL.Query().Get("limit"), "limit")
	if !ok {
		return
	}
	if limit == 0 {
		limit = defaultErrorListLimit
	}

	entries, err := s.errorLog.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list errors", "error", err)
		writeInternalError(w, "failed to list errors")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"errors": entries,
		"count":  len(entries),
	})
}
