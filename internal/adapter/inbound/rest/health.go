package rest

import (
	"fmt"
	"net/http"
	"time"
)

// healthResponse is the JSON response from the /health endpoint.
type healthResponse struct {
	Status        string            `json:"status"` // "healthy" or "unhealthy"
	SessionState  string            `json:"session_state"`
	LastHandshake string            `json:"last_handshake,omitempty"`
	Checks        map[string]string `json:"checks"`
	Version       string            `json:"version,omitempty"`
}

// handleHealth reports the session state plus last successful handshake
// time. A failed session answers 503 so load balancers stop routing.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := h.manager.Status()
	checks := make(map[string]string)
	healthy := status.State != "failed"

	checks["session"] = status.State
	if status.LastError != "" {
		checks["last_error"] = status.LastError
	}
	checks["pending_calls"] = fmt.Sprintf("%d", status.Pending)

	if h.audit != nil {
		depth := h.audit.ChannelDepth()
		capacity := h.audit.ChannelCapacity()
		percentFull := 0
		if capacity > 0 {
			percentFull = depth * 100 / capacity
		}
		if percentFull > 90 {
			checks["audit"] = fmt.Sprintf("degraded: %d/%d (%d%%)", depth, capacity, percentFull)
			healthy = false
		} else {
			checks["audit"] = fmt.Sprintf("ok: %d/%d (%d%%)", depth, capacity, percentFull)
		}
		if drops := h.audit.DroppedRecords(); drops > 0 {
			checks["audit_drops"] = fmt.Sprintf("%d dropped", drops)
		}
	}

	resp := healthResponse{
		Status:       "healthy",
		SessionState: status.State,
		Checks:       checks,
		Version:      h.cfg.Version,
	}
	if !status.LastHandshake.IsZero() {
		resp.LastHandshake = status.LastHandshake.UTC().Format(time.RFC3339)
	}

	code := http.StatusOK
	if !healthy {
		resp.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}
