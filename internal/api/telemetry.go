package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lumengrid/lumen-core/internal/device"
	"github.com/lumengrid/lumen-core/internal/telemetry"
)

// ingestRequest is the request body for POST /devices/{id}/telemetry.
// It mirrors the MQTT telemetry payload so controllers behind a
// gateway can use either transport.
type ingestRequest struct {
	Intensity float64 `json:"light_intensity"`
}

// handleIngestReading accepts a sensor reading over HTTP. The reading
// is persisted and, for AUTO devices, evaluated against the threshold.
func (s *Server) handleIngestReading(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	result, err := s.telemetry.Ingest(r.Context(), id, req.Intensity)
	if err != nil {
		switch {
		case errors.Is(err, device.ErrDeviceNotFound):
			writeNotFound(w, "device not registered")
		case errors.Is(err, telemetry.ErrInvalidIntensity):
			writeBadRequest(w, "light_intensity must be a non-negative number")
		case errors.Is(err, device.ErrInvalidID):
			writeBadRequest(w, "invalid device id")
		default:
			writeInternalError(w, "failed to ingest reading")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, result)
}

// handleReadingHistory returns persisted readings for a device, newest
// first.
//
// Query parameters:
//   - limit: max rows (default 50, max 500)
//   - offset: rows to skip
func (s *Server) handleReadingHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	readings, err := s.telemetry.History(r.Context(), id, queryInt(r, "limit", 0), queryInt(r, "offset", 0))
	if err != nil {
		switch {
		case errors.Is(err, device.ErrDeviceNotFound):
			writeNotFound(w, "device not found")
		case errors.Is(err, device.ErrInvalidID):
			writeBadRequest(w, "invalid device id")
		default:
			writeInternalError(w, "failed to list readings")
		}
		return
	}
	if readings == nil {
		readings = []telemetry.Reading{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"readings": readings, "count": len(readings)})
}

// handleReadingStats returns aggregate reading statistics for a device
// over a trailing window.
//
// Query parameters:
//   - hours: window size in hours (default 24, max 720)
func (s *Server) handleReadingStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	hours := queryInt(r, "hours", 24)
	if hours < 1 || hours > 720 {
		writeBadRequest(w, "hours must be between 1 and 720")
		return
	}

	stats, err := s.telemetry.DeviceStats(r.Context(), id, time.Duration(hours)*time.Hour)
	if err != nil {
		switch {
		case errors.Is(err, device.ErrDeviceNotFound):
			writeNotFound(w, "device not found")
		case errors.Is(err, device.ErrInvalidID):
			writeBadRequest(w, "invalid device id")
		default:
			writeInternalError(w, "failed to compute reading statistics")
		}
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleLatestReadings returns the most recent reading per device,
// joined with the device's current state.
func (s *Server) handleLatestReadings(w http.ResponseWriter, r *http.Request) {
	latest, err := s.telemetry.Latest(r.Context())
	if err != nil {
		writeInternalError(w, "failed to list latest readings")
		return
	}
	if latest == nil {
		latest = []telemetry.LatestReading{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"readings": latest, "count": len(latest)})
}
