package api

import (
	"net/http"
	"time"

	"github.com/lumengrid/lumen-core/internal/audit"
)

// handleListLogs returns transition log entries across the fleet,
// most recent first.
//
// Query parameters:
//   - device_id: filter by device
//   - action: filter by action (ON, OFF, MODE_CHANGE)
//   - mode: filter by mode (AUTO, MANUAL)
//   - limit: max rows (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if action := q.Get("action"); action != "" {
		switch action {
		case audit.ActionOn, audit.ActionOff, audit.ActionModeChange:
		default:
			writeBadRequest(w, "action must be ON, OFF or MODE_CHANGE")
			return
		}
	}
	if mode := q.Get("mode"); mode != "" && mode != "AUTO" && mode != "MANUAL" {
		writeBadRequest(w, "mode must be AUTO or MANUAL")
		return
	}

	result, err := s.transitions.List(r.Context(), audit.Filter{
		DeviceID: q.Get("device_id"),
		Action:   q.Get("action"),
		Mode:     q.Get("mode"),
		Limit:    queryInt(r, "limit", 0),
		Offset:   queryInt(r, "offset", 0),
	})
	if err != nil {
		writeInternalError(w, "failed to list transitions")
		return
	}
	if result.Transitions == nil {
		result.Transitions = []audit.Transition{}
	}

	writeJSON(w, http.StatusOK, result)
}

// handleRecentLogs returns all transitions within a trailing window,
// most recent first.
//
// Query parameters:
//   - hours: window size in hours (default 24, max 168)
func (s *Server) handleRecentLogs(w http.ResponseWriter, r *http.Request) {
	hours := queryInt(r, "hours", 24)
	if hours < 1 || hours > 168 {
		writeBadRequest(w, "hours must be between 1 and 168")
		return
	}

	entries, err := s.transitions.Recent(r.Context(), time.Now().UTC().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		writeInternalError(w, "failed to list recent transitions")
		return
	}
	if entries == nil {
		entries = []audit.Transition{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"transitions": entries, "count": len(entries)})
}
