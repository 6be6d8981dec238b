package handlers

import (
	"context"
	"net/http"

	"github.com/ukydev/fleet-monitor/internal/location"
	"github.com/ukydev/fleet-monitor/internal/models"
	"github.com/ukydev/fleet-monitor/internal/query"
)

// TripService is the trip engine.
type TripService interface {
	Checkout(ctx context.Context, req models.CheckoutRequest) (*models.Trip, error)
	Checkin(ctx context.Context, req models.CheckinRequest) (*models.Trip, error)
	GetTrip(ctx context.Context, id int64) (*models.Trip, error)
	GetActiveTrip(ctx context.Context, driverID int64) (*models.Trip, error)
	GetHistory(ctx context.Context, driverID int64, page models.PageRequest) (models.Page[models.Trip], error)
	ListTrips(ctx context.Context, filter models.TripFilter, page models.PageRequest) (models.Page[models.Trip], error)
}

// RegistryService owns vehicle and driver registration.
type RegistryService interface {
	GetVehicle(ctx context.Context, id int64) (*models.Vehicle, error)
	ListVehicles(ctx context.Context, filter models.VehicleFilter, page models.PageRequest) (models.Page[models.Vehicle], error)
	CreateVehicle(ctx context.Context, req models.VehicleRequest) (*models.Vehicle, error)
	HoldForMaintenance(ctx context.Context, id int64) (*models.Vehicle, error)
	ReleaseFromMaintenance(ctx context.Context, id int64) (*models.Vehicle, error)
	GetDriver(ctx context.Context, id int64) (*models.Driver, error)
	ListDrivers(ctx context.Context, filter models.DriverFilter, page models.PageRequest) (models.Page[models.Driver], error)
	CreateDriver(ctx context.Context, req models.DriverRequest) (*models.Driver, error)
}

// LocationService is the location ingestor.
type LocationService interface {
	ReportLocation(ctx context.Context, r location.Report) (location.Ack, error)
}

// QueryService builds the monitor views.
type QueryService interface {
	GetLiveFleet(ctx context.Context, filter models.VehicleFilter) ([]query.LiveVehicle, error)
	GetDashboardSummary(ctx context.Context) (*query.DashboardSummary, error)
}

// LiveFeed attaches websocket subscribers.
type LiveFeed interface {
	ServeWS(w http.ResponseWriter, r *http.Request, claims *models.Claims)
}
