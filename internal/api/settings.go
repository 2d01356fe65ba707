package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lumengrid/lumen-core/internal/settings"
)

// handleListSettings returns every system setting.
func (s *Server) handleListSettings(w http.ResponseWriter, r *http.Request) {
	all, err := s.settings.GetAll(r.Context())
	if err != nil {
		writeInternalError(w, "failed to list settings")
		return
	}
	if all == nil {
		all = []settings.Setting{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"settings": all, "count": len(all)})
}

// updateSettingRequest is the request body for PUT /settings/{key}.
type updateSettingRequest struct {
	Value string `json:"value"`
}

// handleUpdateSetting creates or replaces a system setting. Requires
// admin. Well-known keys are validated so a typo can't silently
// disable automation; unknown keys are stored as-is.
func (s *Server) handleUpdateSetting(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}

	key := chi.URLParam(r, "key")

	var req updateSettingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Value == "" {
		writeBadRequest(w, "value is required")
		return
	}
	if msg := validateSettingValue(key, req.Value); msg != "" {
		writeBadRequest(w, msg)
		return
	}

	if err := s.settings.Set(r.Context(), key, req.Value); err != nil {
		writeInternalError(w, "failed to update setting")
		return
	}

	s.logger.Info("setting updated", "key", key, "value", req.Value, "actor", actorFrom(r))
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "value": req.Value})
}

func validateSettingValue(key, value string) string {
	switch key {
	case settings.KeyLightThreshold:
		v, err := strconv.ParseFloat(value, 64)
		if err != nil || v < 0 {
			return "light_threshold must be a non-negative number"
		}
	case settings.KeyAutoModeEnabled:
		if value != "true" && value != "false" {
			return "auto_mode_enabled must be true or false"
		}
	case settings.KeyPollingInterval:
		v, err := strconv.Atoi(value)
		if err != nil || v < 100 {
			return "polling_interval must be an integer of at least 100 milliseconds"
		}
	}
	return ""
}
