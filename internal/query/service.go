// Package query serves the read-only views: the live fleet feed and the
// dashboard summary. It never takes the locks the trip engine uses.
package query

import (
	"context"
	"time"

	"github.com/ukydev/fleet-monitor/internal/db"
	"github.com/ukydev/fleet-monitor/internal/fleet"
	"github.com/ukydev/fleet-monitor/internal/models"
	"golang.org/x/sync/errgroup"
)

// DefaultRecentTrips is the size of the dashboard trip sample.
const DefaultRecentTrips = 5

// Store is the read side of the registries and the trip log.
type Store interface {
	ListVehicles(ctx context.Context, filter models.VehicleFilter, page models.PageRequest) ([]models.Vehicle, int64, error)
	CountVehiclesByStatus(ctx context.Context) (map[models.VehicleStatus]int64, error)
	CountDriversByStatus(ctx context.Context) (map[models.DriverStatus]int64, error)
	RecentTrips(ctx context.Context, limit int) ([]models.Trip, error)
	db.EntityReader
}

var _ Store = (db.Store)(nil)

// LiveVehicle is one row of the live monitor feed. Staleness is nil when
// the vehicle has never reported a position.
type LiveVehicle struct {
	Vehicle          models.Vehicle   `json:"vehicle"`
	Position         *models.Position `json:"position"`
	Staleness        *time.Duration   `json:"-"`
	StalenessSeconds *float64         `json:"staleness_seconds"`
}

// DashboardSummary is the admin overview.
type DashboardSummary struct {
	TotalCars       int64         `json:"total_cars"`
	AvailableCars   int64         `json:"available_cars"`
	InUseCars       int64         `json:"in_use_cars"`
	MaintenanceCars int64         `json:"maintenance_cars"`
	TotalDrivers    int64         `json:"total_drivers"`
	ActiveDrivers   int64         `json:"active_drivers"`
	OffDutyDrivers  int64         `json:"off_duty_drivers"`
	RecentTrips     []models.Trip `json:"recent_trips"`
	GeneratedAt     time.Time     `json:"generated_at"`
}

// Service builds the read views.
type Service struct {
	store       Store
	clock       fleet.Clock
	recentTrips int
}

// NewService creates a read service. recentTrips <= 0 uses DefaultRecentTrips.
func NewService(store Store, clock fleet.Clock, recentTrips int) *Service {
	if clock == nil {
		clock = fleet.SystemClock{}
	}
	if recentTrips <= 0 {
		recentTrips = DefaultRecentTrips
	}
	return &Service{store: store, clock: clock, recentTrips: recentTrips}
}

// GetLiveFleet returns every vehicle matching filter with its position and
// how long ago that position was reported.
func (s *Service) GetLiveFleet(ctx context.Context, filter models.VehicleFilter) ([]LiveVehicle, error) {
	if filter.Status != "" && !models.IsValidVehicleStatus(filter.Status) {
		return nil, fleet.Invalid("status", "unknown vehicle status %q", filter.Status)
	}
	now := s.clock.Now()
	feed := make([]LiveVehicle, 0)
	// Pages are keyed by id so registrations during the walk cannot
	// shift rows between pages.
	page := models.PageRequest{Page: 1, Limit: models.MaxPageSize}
	filter.IDBelow = 0
	for {
		vehicles, _, err := s.store.ListVehicles(ctx, filter, page)
		if err != nil {
			return nil, err
		}
		for _, v := range vehicles {
			feed = append(feed, liveRow(v, now))
		}
		if len(vehicles) < page.Limit {
			return feed, nil
		}
		filter.IDBelow = vehicles[len(vehicles)-1].ID
	}
}

func liveRow(v models.Vehicle, now time.Time) LiveVehicle {
	row := LiveVehicle{Vehicle: v, Position: v.Position}
	if v.Position == nil {
		return row
	}
	staleness := now.Sub(v.Position.Timestamp)
	if staleness < 0 {
		staleness = 0
	}
	seconds := staleness.Seconds()
	row.Staleness = &staleness
	row.StalenessSeconds = &seconds
	return row
}

// GetDashboardSummary returns status counts and the latest trips. The
// parts are read concurrently and are not one snapshot.
func (s *Service) GetDashboardSummary(ctx context.Context) (*DashboardSummary, error) {
	var (
		vehicleCounts map[models.VehicleStatus]int64
		driverCounts  map[models.DriverStatus]int64
		recent        []models.Trip
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		vehicleCounts, err = s.store.CountVehiclesByStatus(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		driverCounts, err = s.store.CountDriversByStatus(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		if recent, err = s.store.RecentTrips(gctx, s.recentTrips); err != nil {
			return err
		}
		return db.AttachSummaries(gctx, s.store, recent)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary := &DashboardSummary{
		AvailableCars:   vehicleCounts[models.VehicleAvailable],
		InUseCars:       vehicleCounts[models.VehicleInUse],
		MaintenanceCars: vehicleCounts[models.VehicleMaintenance],
		ActiveDrivers:   driverCounts[models.DriverActive],
		OffDutyDrivers:  driverCounts[models.DriverOffDuty],
		RecentTrips:     recent,
		GeneratedAt:     s.clock.Now(),
	}
	for _, n := range vehicleCounts {
		summary.TotalCars += n
	}
	for _, n := range driverCounts {
		summary.TotalDrivers += n
	}
	if summary.RecentTrips == nil {
		summary.RecentTrips = []models.Trip{}
	}
	return summary, nil
}
