package handlers

import (
	"net/http"
	"strings"

	"github.com/ukydev/fleet-monitor/internal/middleware"
	"github.com/ukydev/fleet-monitor/internal/models"
)

// DriverHandler handles driver registration and per-driver trip views.
type DriverHandler struct {
	registry RegistryService
	trips    TripService
}

// NewDriverHandler creates a new driver handler
func NewDriverHandler(registry RegistryService, trips TripService) *DriverHandler {
	return &DriverHandler{registry: registry, trips: trips}
}

// ListDrivers returns a page of drivers, optionally filtered by status and
// a search term.
func (h *DriverHandler) ListDrivers(w http.ResponseWriter, r *http.Request) {
	page, ok := pageParams(w, r)
	if !ok {
		return
	}
	filter := models.DriverFilter{
		Status: models.DriverStatus(strings.ToUpper(r.URL.Query().Get("status"))),
		Search: strings.TrimSpace(r.URL.Query().Get("search")),
	}

	result, err := h.registry.ListDrivers(r.Context(), filter, page)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondOK(w, http.StatusOK, "", result)
}

// CreateDriver registers a driver.
func (h *DriverHandler) CreateDriver(w http.ResponseWriter, r *http.Request) {
	var req models.DriverRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	driver, err := h.registry.CreateDriver(r.Context(), req)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondOK(w, http.StatusCreated, "Driver created", driver)
}

// GetDriver returns a driver to an admin or to that driver.
func (h *DriverHandler) GetDriver(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorizedDriverID(w, r)
	if !ok {
		return
	}
	driver, err := h.registry.GetDriver(r.Context(), id)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondOK(w, http.StatusOK, "", driver)
}

// GetActiveTrip returns the driver's open trip. No open trip is not an
// error; data is omitted.
func (h *DriverHandler) GetActiveTrip(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorizedDriverID(w, r)
	if !ok {
		return
	}
	trip, err := h.trips.GetActiveTrip(r.Context(), id)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	if trip == nil {
		respondOK(w, http.StatusOK, "No active trip", nil)
		return
	}
	respondOK(w, http.StatusOK, "", trip)
}

// GetHistory returns the driver's trips newest first.
func (h *DriverHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorizedDriverID(w, r)
	if !ok {
		return
	}
	page, ok := pageParams(w, r)
	if !ok {
		return
	}
	result, err := h.trips.GetHistory(r.Context(), id, page)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondOK(w, http.StatusOK, "", result)
}

func (h *DriverHandler) authorizedDriverID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, CodeUnauthorized, "User context not found")
		return 0, false
	}
	id, ok := idParam(w, r, "id")
	if !ok {
		return 0, false
	}
	if !claims.CanActAsDriver(id) {
		respondForbidden(w)
		return 0, false
	}
	return id, true
}
