package db

import (
	"context"

	"github.com/ukydev/fleet-monitor/internal/models"
)

// VehicleRegistry defines the interface for vehicle state operations.
// CompareAndSwapVehicleStatus is the only status mutation usable outside
// a trip transaction.
type VehicleRegistry interface {
	GetVehicle(ctx context.Context, id int64) (*models.Vehicle, error)
	ListVehicles(ctx context.Context, filter models.VehicleFilter, page models.PageRequest) ([]models.Vehicle, int64, error)
	CreateVehicle(ctx context.Context, vehicle *models.Vehicle) error
	CompareAndSwapVehicleStatus(ctx context.Context, id int64, expected, next models.VehicleStatus) error
	CountVehiclesByStatus(ctx context.Context) (map[models.VehicleStatus]int64, error)
}

// PositionStore defines the interface for the vehicle position sub-record.
type PositionStore interface {
	// UpdatePosition stores pos unless the stored position is newer.
	// It reports whether the position was applied.
	UpdatePosition(ctx context.Context, vehicleID int64, pos models.Position) (bool, error)
}

// DriverRegistry defines the interface for driver state operations. Driver
// duty only changes inside trip transactions.
type DriverRegistry interface {
	GetDriver(ctx context.Context, id int64) (*models.Driver, error)
	ListDrivers(ctx context.Context, filter models.DriverFilter, page models.PageRequest) ([]models.Driver, int64, error)
	CreateDriver(ctx context.Context, driver *models.Driver) error
	CountDriversByStatus(ctx context.Context) (map[models.DriverStatus]int64, error)
}

// TripLog defines the read interface for trip records.
type TripLog interface {
	GetTrip(ctx context.Context, id int64) (*models.Trip, error)
	// ActiveTripByDriver returns nil and no error when the driver has no open trip.
	ActiveTripByDriver(ctx context.Context, driverID int64) (*models.Trip, error)
	ListTrips(ctx context.Context, filter models.TripFilter, page models.PageRequest) ([]models.Trip, int64, error)
	RecentTrips(ctx context.Context, limit int) ([]models.Trip, error)
}

// Scope names the entities an atomic unit touches. Stores that lock per
// entity acquire all of them up front in a fixed order.
type Scope struct {
	VehicleID int64
	DriverID  int64
	TripID    int64
}

// Tx is the store as seen from inside an atomic unit. Reads return the
// latest committed state plus the unit's own writes, and every entity
// read here stays locked until the unit ends.
type Tx interface {
	VehicleForUpdate(ctx context.Context, id int64) (*models.Vehicle, error)
	DriverForUpdate(ctx context.Context, id int64) (*models.Driver, error)
	TripForUpdate(ctx context.Context, id int64) (*models.Trip, error)
	OpenTripForVehicle(ctx context.Context, vehicleID int64) (*models.Trip, error)
	OpenTripForDriver(ctx context.Context, driverID int64) (*models.Trip, error)
	// InsertTrip assigns the trip a new, strictly increasing id.
	InsertTrip(ctx context.Context, trip *models.Trip) error
	// CloseTrip writes the end fields and notes of an open trip.
	CloseTrip(ctx context.Context, trip *models.Trip) error
	// SwapVehicleStatus moves the vehicle from expected to next and sets
	// the current driver reference (nil clears it).
	SwapVehicleStatus(ctx context.Context, id int64, expected, next models.VehicleStatus, driver *models.DriverRef) error
	SwapDriverStatus(ctx context.Context, id int64, expected, next models.DriverStatus) error
}

// Store is the persistence collaborator used by the engine, the ingestor
// and the read service.
type Store interface {
	VehicleRegistry
	DriverRegistry
	PositionStore
	TripLog

	// RunInTx runs fn as one atomic unit: either every write it made is
	// committed or none is. Errors returned by fn abort the unit and are
	// returned unchanged.
	RunInTx(ctx context.Context, scope Scope, fn func(ctx context.Context, tx Tx) error) error
	Close(ctx context.Context) error
}
