package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/openfan-core/internal/fan"
)

// setSpeedRequest is the body for PUT /fans/{serial}/speed and
// POST /fans/speed.
type setSpeedRequest struct {
	Speed int `json:"speed"`
}

// setPowerRequest is the body for PUT /fans/{serial}/power.
type setPowerRequest struct {
	On bool `json:"on"`
}

// setActiveRequest is the body for PUT /poller/active.
type setActiveRequest struct {
	Active bool `json:"active"`
}

// handleListFans returns every registered fan, sorted by serial.
func (s *Server) handleListFans(w http.ResponseWriter, _ *http.Request) {
	fans := s.registry.All()
	sort.Slice(fans, func(i, j int) bool { return fans[i].Serial < fans[j].Serial })

	writeJSON(w, http.StatusOK, map[string]any{
		"fans":  fans,
		"count": len(fans),
	})
}

// handleGetFan returns one fan by serial.
func (s *Server) handleGetFan(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")

	f, err := s.registry.Get(serial)
	if err != nil {
		if errors.Is(err, fan.ErrNotFound) {
			writeNotFound(w, "fan not found: "+serial)
			return
		}
		writeInternalError(w, "failed to fetch fan")
		return
	}

	writeJSON(w, http.StatusOK, f)
}

// handleSetSpeed registers a speed intent for one fan.
//
// The intent is debounced and dispatched asynchronously, so the response
// is 202 Accepted; the confirmed state arrives via the event stream.
func (s *Server) handleSetSpeed(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")

	var req setSpeedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	if err := s.dispatcher.SetSpeed(serial, req.Speed); err != nil {
		if errors.Is(err, fan.ErrNotFound) {
			writeNotFound(w, "fan not found: "+serial)
			return
		}
		writeInternalError(w, "failed to queue speed command")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"serial": serial,
		"speed":  fan.ClampSpeed(req.Speed),
	})
}

// handleSetPower turns one fan on or off.
func (s *Server) handleSetPower(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")

	var req setPowerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	if err := s.dispatcher.SetPower(serial, req.On); err != nil {
		if errors.Is(err, fan.ErrNotFound) {
			writeNotFound(w, "fan not found: "+serial)
			return
		}
		writeInternalError(w, "failed to queue power command")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"serial": serial,
		"on":     req.On,
	})
}

// handleToggle flips one fan's power state.
func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")

	if err := s.dispatcher.Toggle(serial); err != nil {
		if errors.Is(err, fan.ErrNotFound) {
			writeNotFound(w, "fan not found: "+serial)
			return
		}
		writeInternalError(w, "failed to queue toggle command")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"serial": serial,
	})
}

// handleSetAllSpeed dispatches a speed to every registered fan (presets).
func (s *Server) handleSetAllSpeed(w http.ResponseWriter, r *http.Request) {
	var req setSpeedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	if err := s.dispatcher.SetAllSpeed(req.Speed); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"speed": req.Speed,
		"fans":  s.registry.Count(),
	})
}

// handleListPresets returns the configured preset speeds.
func (s *Server) handleListPresets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"presets": s.presets,
	})
}

// defaultHistoryLimit bounds history responses when no limit is given.
const defaultHistoryLimit = 50

// handleGetHistory returns recent state changes for one fan, newest first.
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "state history is disabled")
		return
	}

	serial := chi.URLParam(r, "serial")

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	entries, err := s.history.GetHistory(r.Context(), serial, limit)
	if err != nil {
		s.logger.Error("history query failed", "serial", serial, "error", err)
		writeInternalError(w, "failed to query history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"serial":  serial,
		"entries": entries,
		"count":   len(entries),
	})
}

// handleDiscoveryRefresh restarts discovery, re-browsing from scratch.
func (s *Server) handleDiscoveryRefresh(w http.ResponseWriter, _ *http.Request) {
	if s.discovery == nil {
		writeUnavailable(w, "discovery control is disabled")
		return
	}

	// Restart hangs goroutines off the server's own context; tying them
	// to the request context would kill discovery when the request ends.
	go s.discovery.Restart(s.srvCtx)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "refreshing",
	})
}

// handlePollerActive switches the poll cadence between active and idle.
func (s *Server) handlePollerActive(w http.ResponseWriter, r *http.Request) {
	if s.poller == nil {
		writeUnavailable(w, "poller control is disabled")
		return
	}

	var req setActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	s.poller.SetActive(req.Active)

	writeJSON(w, http.StatusOK, map[string]any{
		"active": req.Active,
	})
}
