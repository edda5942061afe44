package api

import (
	"net/http"
	"strconv"

	"github.com/atward/riolink/internal/store"
)

// defaultEventLimit caps the event list when the client sends no limit.
const defaultEventLimit = 50

// maxEventLimit bounds the limit query parameter.
const maxEventLimit = 500

// handleMetrics returns session and transport counters.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	stats := s.session.Stats()

	response := map[string]any{
		"session": map[string]any{
			"state":           stats.State,
			"connects":        stats.Connects,
			"reconnects":      stats.Reconnects,
			"commands_sent":   stats.CommandsSent,
			"dropped_updates": stats.DroppedUpdates,
			"last_error":      stats.LastError,
		},
	}

	if transport, ok := s.session.TransportStats(); ok {
		response["transport"] = map[string]any{
			"lines_tx":              transport.LinesTx,
			"lines_rx":              transport.LinesRx,
			"notifications_dropped": transport.NotificationsDropped,
			"device_errors":         transport.DeviceErrors,
			"errors_total":          transport.ErrorsTotal,
			"last_activity":         transport.LastActivity,
			"connected":             transport.Connected,
		}
	}

	writeJSON(w, http.StatusOK, response)
}

// handleEvents returns the most recent session events, newest first.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeBadRequest(w, "invalid limit")
			return
		}
		if parsed > maxEventLimit {
			parsed = maxEventLimit
		}
		limit = parsed
	}

	events := []store.SessionEvent{}
	if s.store != nil {
		loaded, err := s.store.RecentSessionEvents(r.Context(), limit)
		if err != nil {
			s.logger.Error("loading session events", "error", err)
			writeInternalError(w, "failed to load events")
			return
		}
		events = loaded
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}
