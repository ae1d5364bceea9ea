package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/trf-bridge/internal/bridges/trf"
)

// handleListParams returns the parameter catalog. Advanced parameters are
// hidden unless ?advanced=true.
func (s *Server) handleListParams(w http.ResponseWriter, r *http.Request) {
	advanced := false
	if raw := r.URL.Query().Get("advanced"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeBadRequest(w, "advanced must be true or false")
			return
		}
		advanced = v
	}

	params, err := s.params.ListParams(r.Context(), advanced)
	if err != nil {
		s.logger.Error("failed to list params", "error", err)
		writeInternalError(w, "failed to list params")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"params": params,
		"count":  len(params),
	})
}

// handleGetParam returns one descriptor from the built-in table.
func (s *Server) handleGetParam(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 8)
	if err != nil {
		writeBadRequest(w, "param id must be between 0 and 255")
		return
	}

	p, ok := trf.LookupParam(uint8(id))
	if !ok {
		writeNotFound(w, "param not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}
