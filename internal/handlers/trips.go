package handlers

import (
	"net/http"

	"github.com/ukydev/fleet-monitor/internal/middleware"
	"github.com/ukydev/fleet-monitor/internal/models"
)

// TripHandler handles checkout, checkin and trip lookups.
type TripHandler struct {
	trips TripService
}

// NewTripHandler creates a new trip handler
func NewTripHandler(trips TripService) *TripHandler {
	return &TripHandler{trips: trips}
}

// Checkout opens a trip. Drivers may only check out for themselves; an
// omitted driver_id defaults to the caller's own.
func (h *TripHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, CodeUnauthorized, "User context not found")
		return
	}

	var req models.CheckoutRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.DriverID == 0 && claims.Role == models.RoleDriver {
		req.DriverID = claims.DriverID
	}
	if req.DriverID > 0 && !claims.CanActAsDriver(req.DriverID) {
		respondForbidden(w)
		return
	}

	trip, err := h.trips.Checkout(r.Context(), req)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondOK(w, http.StatusCreated, "Vehicle checked out", trip)
}

// Checkin closes a trip. Drivers may only close their own trips.
func (h *TripHandler) Checkin(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, CodeUnauthorized, "User context not found")
		return
	}

	var req models.CheckinRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if claims.Role != models.RoleAdmin && req.TripID > 0 {
		// The driver of a trip never changes, so checking ownership
		// outside the engine transaction is safe.
		existing, err := h.trips.GetTrip(r.Context(), req.TripID)
		if err != nil {
			respondDomainError(w, r, err)
			return
		}
		if !claims.CanActAsDriver(existing.DriverID) {
			respondForbidden(w)
			return
		}
	}

	trip, err := h.trips.Checkin(r.Context(), req)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondOK(w, http.StatusOK, "Vehicle checked in", trip)
}

// GetTrip returns one trip to an admin or to the driver who made it.
func (h *TripHandler) GetTrip(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, CodeUnauthorized, "User context not found")
		return
	}
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	trip, err := h.trips.GetTrip(r.Context(), id)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	if !claims.CanActAsDriver(trip.DriverID) {
		respondForbidden(w)
		return
	}
	respondOK(w, http.StatusOK, "", trip)
}

// ListTrips returns a filtered page of all trips.
func (h *TripHandler) ListTrips(w http.ResponseWriter, r *http.Request) {
	page, ok := pageParams(w, r)
	if !ok {
		return
	}
	var filter models.TripFilter
	if filter.CarID, ok = int64Query(w, r, "car_id"); !ok {
		return
	}
	if filter.DriverID, ok = int64Query(w, r, "driver_id"); !ok {
		return
	}
	if filter.Active, ok = boolQuery(w, r, "active"); !ok {
		return
	}

	result, err := h.trips.ListTrips(r.Context(), filter, page)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondOK(w, http.StatusOK, "", result)
}
