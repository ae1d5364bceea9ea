package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/trf-bridge/internal/sensor"
)

// CreatePlaceRequest is the body of POST /sensor-places.
type CreatePlaceRequest struct {
	DeviceID   string `json:"device_id"`
	PinParamID *int   `json:"pin_param_id"`
	Section    string `json:"section"`
}

func (s *Server) handleListPlaces(w http.ResponseWriter, _ *http.Request) {
	places := s.places.Places()
	writeJSON(w, http.StatusOK, map[string]any{
		"places": places,
		"count":  len(places),
	})
}

func (s *Server) handleCreatePlace(w http.ResponseWriter, r *http.Request) {
	var req CreatePlaceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.PinParamID == nil {
		writeValidationError(w, "pin_param_id is required")
		return
	}
	if *req.PinParamID < 0 || *req.PinParamID > 255 {
		writeValidationError(w, "pin_param_id must be between 0 and 255")
		return
	}

	place := &sensor.Place{
		DeviceID:   req.DeviceID,
		PinParamID: uint8(*req.PinParamID),
		Section:    req.Section,
	}
	if err := s.places.CreatePlace(r.Context(), place); err != nil {
		switch {
		case errors.Is(err, sensor.ErrInvalidPlace),
			errors.Is(err, sensor.ErrInvalidPin),
			errors.Is(err, sensor.ErrParamNotFound):
			writeValidationError(w, err.Error())
		case errors.Is(err, sensor.ErrPlaceExists):
			writeError(w, http.StatusConflict, ErrCodeConflict, "a place already exists for this device and pin")
		default:
			s.logger.Error("failed to create sensor place", "error", err)
			writeInternalError(w, "failed to create sensor place")
		}
		return
	}

	writeJSON(w, http.StatusCreated, place)
}

func (s *Server) handleDeletePlace(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeBadRequest(w, "place id must be a positive integer")
		return
	}

	if err := s.places.DeletePlace(r.Context(), id); err != nil {
		if errors.Is(err, sensor.ErrPlaceNotFound) {
			writeNotFound(w, "sensor place not found")
			return
		}
		s.logger.Error("failed to delete sensor place", "id", id, "error", err)
		writeInternalError(w, "failed to delete sensor place")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
