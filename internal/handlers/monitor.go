package handlers

import (
	"net/http"

	"github.com/ukydev/fleet-monitor/internal/middleware"
)

// MonitorHandler serves the live map, the dashboard and the event stream.
type MonitorHandler struct {
	query QueryService
	feed  LiveFeed
}

// NewMonitorHandler creates a new monitor handler. feed may be nil, in
// which case the event stream is unavailable.
func NewMonitorHandler(query QueryService, feed LiveFeed) *MonitorHandler {
	return &MonitorHandler{query: query, feed: feed}
}

// LiveFleet returns every vehicle with its last position and staleness.
func (h *MonitorHandler) LiveFleet(w http.ResponseWriter, r *http.Request) {
	rows, err := h.query.GetLiveFleet(r.Context(), vehicleFilter(r))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondOK(w, http.StatusOK, "", rows)
}

// DashboardSummary returns fleet totals and the latest trips.
func (h *MonitorHandler) DashboardSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.query.GetDashboardSummary(r.Context())
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondOK(w, http.StatusOK, "", summary)
}

// Stream upgrades to a websocket carrying committed fleet events.
func (h *MonitorHandler) Stream(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, CodeUnauthorized, "User context not found")
		return
	}
	if h.feed == nil {
		respondError(w, http.StatusServiceUnavailable, CodeInternal, "Live feed disabled")
		return
	}
	h.feed.ServeWS(w, r, claims)
}

// Health reports liveness.
func Health(w http.ResponseWriter, r *http.Request) {
	respondOK(w, http.StatusOK, "OK", map[string]string{"status": "healthy"})
}
