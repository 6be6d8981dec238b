// Package registry holds the admin-facing rules for the vehicle and driver
// registries: registration, listings and the maintenance hold.
package registry

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-monitor/internal/db"
	"github.com/ukydev/fleet-monitor/internal/fleet"
	"github.com/ukydev/fleet-monitor/internal/models"
)

// Store is the subset of db.Store the registry needs.
type Store interface {
	db.VehicleRegistry
	db.DriverRegistry
}

// Service validates registry input before it reaches the store.
type Service struct {
	store     Store
	clock     fleet.Clock
	publisher fleet.Publisher
}

// NewService creates a registry service. A nil publisher drops events.
func NewService(store Store, clock fleet.Clock, publisher fleet.Publisher) *Service {
	if clock == nil {
		clock = fleet.SystemClock{}
	}
	if publisher == nil {
		publisher = fleet.NopPublisher{}
	}
	return &Service{store: store, clock: clock, publisher: publisher}
}

// GetVehicle returns a vehicle with its last known position.
func (s *Service) GetVehicle(ctx context.Context, id int64) (*models.Vehicle, error) {
	return s.store.GetVehicle(ctx, id)
}

// ListVehicles returns one page of vehicles matching filter.
func (s *Service) ListVehicles(ctx context.Context, filter models.VehicleFilter, page models.PageRequest) (models.Page[models.Vehicle], error) {
	if filter.Status != "" && !models.IsValidVehicleStatus(filter.Status) {
		return models.Page[models.Vehicle]{}, fleet.Invalid("status", "unknown vehicle status %q", filter.Status)
	}
	page = page.Normalize()
	items, total, err := s.store.ListVehicles(ctx, filter, page)
	if err != nil {
		return models.Page[models.Vehicle]{}, err
	}
	return models.NewPage(items, page, total), nil
}

// CreateVehicle registers a vehicle. It starts AVAILABLE unless the
// request asks for MAINTENANCE.
func (s *Service) CreateVehicle(ctx context.Context, req models.VehicleRequest) (*models.Vehicle, error) {
	plate := strings.TrimSpace(req.LicensePlate)
	if plate == "" {
		return nil, fleet.Invalid("license_plate", "is required")
	}
	if req.Year != 0 && (req.Year < 1900 || req.Year > s.clock.Now().Year()+1) {
		return nil, fleet.Invalid("year", "must be between 1900 and %d", s.clock.Now().Year()+1)
	}
	status := req.Status
	if status == "" {
		status = models.VehicleAvailable
	}
	if status != models.VehicleAvailable && status != models.VehicleMaintenance {
		return nil, fleet.Invalid("status", "a new vehicle must be %s or %s", models.VehicleAvailable, models.VehicleMaintenance)
	}

	vehicle := &models.Vehicle{
		LicensePlate: plate,
		Brand:        strings.TrimSpace(req.Brand),
		Model:        strings.TrimSpace(req.Model),
		Year:         req.Year,
		Status:       status,
	}
	if err := s.store.CreateVehicle(ctx, vehicle); err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"vehicle_id": vehicle.ID, "plate": vehicle.LicensePlate}).Info("Vehicle registered")
	return vehicle, nil
}

// HoldForMaintenance moves an AVAILABLE vehicle to MAINTENANCE.
func (s *Service) HoldForMaintenance(ctx context.Context, id int64) (*models.Vehicle, error) {
	return s.swapStatus(ctx, id, models.VehicleAvailable, models.VehicleMaintenance)
}

// ReleaseFromMaintenance moves a MAINTENANCE vehicle back to AVAILABLE.
func (s *Service) ReleaseFromMaintenance(ctx context.Context, id int64) (*models.Vehicle, error) {
	return s.swapStatus(ctx, id, models.VehicleMaintenance, models.VehicleAvailable)
}

func (s *Service) swapStatus(ctx context.Context, id int64, expected, next models.VehicleStatus) (*models.Vehicle, error) {
	if err := s.store.CompareAndSwapVehicleStatus(ctx, id, expected, next); err != nil {
		return nil, err
	}
	s.publisher.Publish(models.Event{Type: models.EventStatus, VehicleID: id, Status: next, At: s.clock.Now()})
	log.WithFields(log.Fields{"vehicle_id": id, "from": expected, "to": next}).Info("Vehicle status changed")
	return s.store.GetVehicle(ctx, id)
}

// GetDriver returns a driver.
func (s *Service) GetDriver(ctx context.Context, id int64) (*models.Driver, error) {
	return s.store.GetDriver(ctx, id)
}

// ListDrivers returns one page of drivers matching filter.
func (s *Service) ListDrivers(ctx context.Context, filter models.DriverFilter, page models.PageRequest) (models.Page[models.Driver], error) {
	if filter.Status != "" && !models.IsValidDriverStatus(filter.Status) {
		return models.Page[models.Driver]{}, fleet.Invalid("status", "unknown driver status %q", filter.Status)
	}
	page = page.Normalize()
	items, total, err := s.store.ListDrivers(ctx, filter, page)
	if err != nil {
		return models.Page[models.Driver]{}, err
	}
	return models.NewPage(items, page, total), nil
}

// CreateDriver registers an OFF_DUTY driver.
func (s *Service) CreateDriver(ctx context.Context, req models.DriverRequest) (*models.Driver, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fleet.Invalid("name", "is required")
	}
	driver := &models.Driver{
		Name:          name,
		PhoneNumber:   strings.TrimSpace(req.PhoneNumber),
		LicenseNumber: strings.TrimSpace(req.LicenseNumber),
		Status:        models.DriverOffDuty,
	}
	if err := s.store.CreateDriver(ctx, driver); err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"driver_id": driver.ID, "name": driver.Name}).Info("Driver registered")
	return driver, nil
}
