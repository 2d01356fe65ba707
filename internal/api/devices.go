package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lumengrid/lumen-core/internal/audit"
	"github.com/lumengrid/lumen-core/internal/device"
)

// deviceView is a device decorated with derived liveness: a device is
// reported offline when it has not been seen within the staleness
// window, regardless of the stored is_online flag.
type deviceView struct {
	device.Device
	Online bool `json:"online"`
}

func (s *Server) viewOf(d *device.Device, now time.Time) deviceView {
	return deviceView{
		Device: *d,
		Online: d.SeenWithin(s.offlineAfter(), now),
	}
}

func (s *Server) offlineAfter() time.Duration {
	return time.Duration(s.autoCfg.OfflineAfter) * time.Second
}

// handleListDevices returns all devices, with an optional mode filter.
//
// Query parameters:
//   - mode: filter by control mode (AUTO, MANUAL)
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var devices []device.Device
	var err error
	if modeStr := r.URL.Query().Get("mode"); modeStr != "" {
		mode := device.Mode(modeStr)
		if validateErr := device.ValidateMode(mode); validateErr != nil {
			writeBadRequest(w, "mode must be AUTO or MANUAL")
			return
		}
		devices, err = s.registry.GetDevicesByMode(ctx, mode)
	} else {
		devices, err = s.registry.ListDevices(ctx)
	}
	if err != nil {
		writeInternalError(w, "failed to list devices")
		return
	}

	now := time.Now().UTC()
	views := make([]deviceView, 0, len(devices))
	for i := range devices {
		views = append(views, s.viewOf(&devices[i], now))
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": views, "count": len(views)})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	dev, err := s.registry.GetDevice(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}

	writeJSON(w, http.StatusOK, s.viewOf(dev, time.Now().UTC()))
}

// registerDeviceRequest is the request body for POST /devices.
type registerDeviceRequest struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Location *string `json:"location,omitempty"`
	Mode     string  `json:"mode,omitempty"`
}

// handleRegisterDevice registers a new streetlight. Requires admin.
func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}

	var req registerDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	dev := &device.Device{
		ID:       req.ID,
		Name:     req.Name,
		Location: req.Location,
		Mode:     device.Mode(req.Mode),
	}

	if err := s.registry.Register(r.Context(), dev); err != nil {
		switch {
		case errors.Is(err, device.ErrDeviceExists):
			writeConflict(w, "device id already registered")
		case isValidationError(err):
			writeBadRequest(w, err.Error())
		default:
			writeInternalError(w, "failed to register device")
		}
		return
	}

	writeJSON(w, http.StatusCreated, s.viewOf(dev, time.Now().UTC()))
}

// handleDeleteDevice removes a device and, via cascade, its readings
// and transition logs. Requires admin.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.registry.DeleteDevice(r.Context(), id); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to delete device")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// controlRequest is the request body for POST /devices/{id}/control.
type controlRequest struct {
	Status string `json:"status"`
}

// handleControlDevice forces a lamp ON or OFF. The device moves to
// MANUAL mode and the action is logged with the operator as actor.
func (s *Server) handleControlDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	dev, err := s.control.SetStatus(r.Context(), id, device.Status(req.Status), actorFrom(r))
	if err != nil {
		switch {
		case errors.Is(err, device.ErrDeviceNotFound):
			writeNotFound(w, "device not found")
		case errors.Is(err, device.ErrInvalidStatus):
			writeBadRequest(w, "status must be ON or OFF")
		case errors.Is(err, device.ErrInvalidID):
			writeBadRequest(w, "invalid device id")
		default:
			writeInternalError(w, "failed to apply control command")
		}
		return
	}

	writeJSON(w, http.StatusOK, s.viewOf(dev, time.Now().UTC()))
}

// modeRequest is the request body for PUT /devices/{id}/mode.
type modeRequest struct {
	Mode string `json:"mode"`
}

// handleSetMode switches a device between AUTO and MANUAL control.
func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req modeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	dev, err := s.control.SetMode(r.Context(), id, device.Mode(req.Mode), actorFrom(r))
	if err != nil {
		switch {
		case errors.Is(err, device.ErrDeviceNotFound):
			writeNotFound(w, "device not found")
		case errors.Is(err, device.ErrInvalidMode):
			writeBadRequest(w, "mode must be AUTO or MANUAL")
		case errors.Is(err, device.ErrInvalidID):
			writeBadRequest(w, "invalid device id")
		default:
			writeInternalError(w, "failed to change mode")
		}
		return
	}

	writeJSON(w, http.StatusOK, s.viewOf(dev, time.Now().UTC()))
}

// handleHeartbeat refreshes a device's liveness.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.telemetry.Heartbeat(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, device.ErrDeviceNotFound):
			writeNotFound(w, "device not found")
		case errors.Is(err, device.ErrInvalidID):
			writeBadRequest(w, "invalid device id")
		default:
			writeInternalError(w, "failed to record heartbeat")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// energySavedPerAutoOff is the estimated kWh saved each time the
// engine switches a lamp off instead of leaving it burning.
const energySavedPerAutoOff = 0.05

// handleDashboardStats returns fleet statistics for the dashboard.
func (s *Server) handleDashboardStats(w http.ResponseWriter, r *http.Request) {
	stats := s.registry.GetStats(s.offlineAfter())

	autoOffs, err := s.transitions.CountAutoOffSince(r.Context(), time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		s.logger.Error("failed to count auto off transitions", "error", err)
		writeInternalError(w, "failed to compute statistics")
		return
	}

	recentReadings, err := s.telemetry.CountSince(r.Context(), time.Hour)
	if err != nil {
		s.logger.Error("failed to count recent readings", "error", err)
		writeInternalError(w, "failed to compute statistics")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total_devices":      stats.TotalDevices,
		"lights_on":          stats.LightsOn,
		"auto_mode":          stats.AutoMode,
		"online":             stats.Online,
		"offline":            stats.Offline,
		"readings_last_hour": recentReadings,
		"energy_saved_kwh":   float64(autoOffs) * energySavedPerAutoOff,
	})
}

// handleDeviceLogs returns the most recent transitions for one device.
func (s *Server) handleDeviceLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.registry.GetDevice(r.Context(), id); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}

	entries, err := s.transitions.ListByDevice(r.Context(), id, queryInt(r, "limit", 0))
	if err != nil {
		writeInternalError(w, "failed to list transitions")
		return
	}
	if entries == nil {
		entries = []audit.Transition{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transitions": entries, "count": len(entries)})
}

// isValidationError checks whether an error is a device validation error.
// ValidateDevice wraps various sentinel errors so we check all of them
// rather than just ErrInvalidDevice.
func isValidationError(err error) bool {
	return errors.Is(err, device.ErrInvalidDevice) ||
		errors.Is(err, device.ErrInvalidID) ||
		errors.Is(err, device.ErrInvalidName) ||
		errors.Is(err, device.ErrInvalidStatus) ||
		errors.Is(err, device.ErrInvalidMode)
}
