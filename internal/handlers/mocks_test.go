package handlers

import (
	"context"
	"net/http"

	"github.com/stretchr/testify/mock"
	"github.com/ukydev/fleet-monitor/internal/location"
	"github.com/ukydev/fleet-monitor/internal/models"
	"github.com/ukydev/fleet-monitor/internal/query"
)

// MockTripService is a mock implementation of TripService
type MockTripService struct {
	mock.Mock
}

func (m *MockTripService) Checkout(ctx context.Context, req models.CheckoutRequest) (*models.Trip, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Trip), args.Error(1)
}

func (m *MockTripService) Checkin(ctx context.Context, req models.CheckinRequest) (*models.Trip, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Trip), args.Error(1)
}

func (m *MockTripService) GetTrip(ctx context.Context, id int64) (*models.Trip, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Trip), args.Error(1)
}

func (m *MockTripService) GetActiveTrip(ctx context.Context, driverID int64) (*models.Trip, error) {
	args := m.Called(ctx, driverID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Trip), args.Error(1)
}

func (m *MockTripService) GetHistory(ctx context.Context, driverID int64, page models.PageRequest) (models.Page[models.Trip], error) {
	args := m.Called(ctx, driverID, page)
	return args.Get(0).(models.Page[models.Trip]), args.Error(1)
}

func (m *MockTripService) ListTrips(ctx context.Context, filter models.TripFilter, page models.PageRequest) (models.Page[models.Trip], error) {
	args := m.Called(ctx, filter, page)
	return args.Get(0).(models.Page[models.Trip]), args.Error(1)
}

// MockRegistryService is a mock implementation of RegistryService
type MockRegistryService struct {
	mock.Mock
}

func (m *MockRegistryService) GetVehicle(ctx context.Context, id int64) (*models.Vehicle, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Vehicle), args.Error(1)
}

func (m *MockRegistryService) ListVehicles(ctx context.Context, filter models.VehicleFilter, page models.PageRequest) (models.Page[models.Vehicle], error) {
	args := m.Called(ctx, filter, page)
	return args.Get(0).(models.Page[models.Vehicle]), args.Error(1)
}

func (m *MockRegistryService) CreateVehicle(ctx context.Context, req models.VehicleRequest) (*models.Vehicle, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Vehicle), args.Error(1)
}

func (m *MockRegistryService) HoldForMaintenance(ctx context.Context, id int64) (*models.Vehicle, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Vehicle), args.Error(1)
}

func (m *MockRegistryService) ReleaseFromMaintenance(ctx context.Context, id int64) (*models.Vehicle, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Vehicle), args.Error(1)
}

func (m *MockRegistryService) GetDriver(ctx context.Context, id int64) (*models.Driver, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Driver), args.Error(1)
}

func (m *MockRegistryService) ListDrivers(ctx context.Context, filter models.DriverFilter, page models.PageRequest) (models.Page[models.Driver], error) {
	args := m.Called(ctx, filter, page)
	return args.Get(0).(models.Page[models.Driver]), args.Error(1)
}

func (m *MockRegistryService) CreateDriver(ctx context.Context, req models.DriverRequest) (*models.Driver, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Driver), args.Error(1)
}

// MockLocationService is a mock implementation of LocationService
type MockLocationService struct {
	mock.Mock
}

func (m *MockLocationService) ReportLocation(ctx context.Context, r location.Report) (location.Ack, error) {
	args := m.Called(ctx, r)
	return args.Get(0).(location.Ack), args.Error(1)
}

// MockQueryService is a mock implementation of QueryService
type MockQueryService struct {
	mock.Mock
}

func (m *MockQueryService) GetLiveFleet(ctx context.Context, filter models.VehicleFilter) ([]query.LiveVehicle, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]query.LiveVehicle), args.Error(1)
}

func (m *MockQueryService) GetDashboardSummary(ctx context.Context) (*query.DashboardSummary, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*query.DashboardSummary), args.Error(1)
}

// MockLiveFeed records websocket attach requests.
type MockLiveFeed struct {
	mock.Mock
}

func (m *MockLiveFeed) ServeWS(w http.ResponseWriter, r *http.Request, claims *models.Claims) {
	m.Called(claims.UserID)
	w.WriteHeader(http.StatusSwitchingProtocols)
}
