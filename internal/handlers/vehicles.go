package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/ukydev/fleet-monitor/internal/location"
	"github.com/ukydev/fleet-monitor/internal/middleware"
	"github.com/ukydev/fleet-monitor/internal/models"
)

// VehicleHandler handles the vehicle registry, maintenance holds and
// location reports.
type VehicleHandler struct {
	registry RegistryService
	ingestor LocationService
}

// NewVehicleHandler creates a new vehicle handler
func NewVehicleHandler(registry RegistryService, ingestor LocationService) *VehicleHandler {
	return &VehicleHandler{registry: registry, ingestor: ingestor}
}

// locationRequest is the body of a location report. The car id comes from
// the path.
type locationRequest struct {
	Lat       *float64   `json:"lat"`
	Lng       *float64   `json:"lng"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// ListVehicles returns a page of vehicles, optionally filtered by status
// and a search term.
func (h *VehicleHandler) ListVehicles(w http.ResponseWriter, r *http.Request) {
	page, ok := pageParams(w, r)
	if !ok {
		return
	}
	filter := vehicleFilter(r)

	result, err := h.registry.ListVehicles(r.Context(), filter, page)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondOK(w, http.StatusOK, "", result)
}

// CreateVehicle registers a vehicle.
func (h *VehicleHandler) CreateVehicle(w http.ResponseWriter, r *http.Request) {
	var req models.VehicleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Status = models.VehicleStatus(strings.ToUpper(string(req.Status)))

	vehicle, err := h.registry.CreateVehicle(r.Context(), req)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondOK(w, http.StatusCreated, "Vehicle created", vehicle)
}

// GetVehicle returns one vehicle with its last known position.
func (h *VehicleHandler) GetVehicle(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	vehicle, err := h.registry.GetVehicle(r.Context(), id)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondOK(w, http.StatusOK, "", vehicle)
}

// ReportLocation stores a position report. Drivers may only report for
// the vehicle they currently hold. A stale report is acknowledged with
// applied=false.
func (h *VehicleHandler) ReportLocation(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, CodeUnauthorized, "User context not found")
		return
	}
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	var req locationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Lat == nil || req.Lng == nil {
		respondError(w, http.StatusBadRequest, CodeValidation, "lat and lng are required")
		return
	}

	if claims.Role != models.RoleAdmin {
		vehicle, err := h.registry.GetVehicle(r.Context(), id)
		if err != nil {
			respondDomainError(w, r, err)
			return
		}
		if vehicle.CurrentDriver == nil || !claims.CanActAsDriver(vehicle.CurrentDriver.ID) {
			respondForbidden(w)
			return
		}
	}

	ack, err := h.ingestor.ReportLocation(r.Context(), location.Report{
		CarID:     id,
		Lat:       *req.Lat,
		Lng:       *req.Lng,
		Timestamp: req.Timestamp,
	})
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	msg := "Location updated"
	if !ack.Applied {
		msg = "Newer location already stored"
	}
	respondOK(w, http.StatusOK, msg, ack)
}

// HoldForMaintenance takes an available vehicle out of service.
func (h *VehicleHandler) HoldForMaintenance(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	vehicle, err := h.registry.HoldForMaintenance(r.Context(), id)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondOK(w, http.StatusOK, "Vehicle held for maintenance", vehicle)
}

// ReleaseFromMaintenance returns a vehicle to service.
func (h *VehicleHandler) ReleaseFromMaintenance(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	vehicle, err := h.registry.ReleaseFromMaintenance(r.Context(), id)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondOK(w, http.StatusOK, "Vehicle released from maintenance", vehicle)
}

func vehicleFilter(r *http.Request) models.VehicleFilter {
	return models.VehicleFilter{
		Status: models.VehicleStatus(strings.ToUpper(r.URL.Query().Get("status"))),
		Search: strings.TrimSpace(r.URL.Query().Get("search")),
	}
}
