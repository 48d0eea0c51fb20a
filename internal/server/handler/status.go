package handler

import (
	"net/http"
	"time"
)

// StatusHandler reports the run mode and the participants served.
type StatusHandler struct {
	Mode         string
	Participants []string
	StartedAt    time.Time
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, participants []string) *StatusHandler {
	return &StatusHandler{Mode: mode, Participants: participants, StartedAt: time.Now().UTC()}
}

// GetStatus responds with the mode, participants and uptime.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.Mode,
		"participants":   h.Participants,
		"uptime_seconds": int64(time.Since(h.StartedAt).Seconds()),
	})
}
