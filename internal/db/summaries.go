package db

import (
	"context"
	"errors"

	"github.com/ukydev/fleet-monitor/internal/fleet"
	"github.com/ukydev/fleet-monitor/internal/models"
)

// EntityReader reads single vehicles and drivers.
type EntityReader interface {
	GetVehicle(ctx context.Context, id int64) (*models.Vehicle, error)
	GetDriver(ctx context.Context, id int64) (*models.Driver, error)
}

// AttachSummaries fills the car and driver summaries of trips in place.
// Each entity is read once. Missing entities leave the summary nil.
func AttachSummaries(ctx context.Context, r EntityReader, trips []models.Trip) error {
	cars := map[int64]*models.VehicleSummary{}
	drivers := map[int64]*models.DriverSummary{}

	for i := range trips {
		t := &trips[i]

		car, ok := cars[t.CarID]
		if !ok {
			v, err := r.GetVehicle(ctx, t.CarID)
			switch {
			case err == nil:
				car = &models.VehicleSummary{ID: v.ID, LicensePlate: v.LicensePlate, Brand: v.Brand, Model: v.Model}
			case !errors.Is(err, fleet.ErrNotFound):
				return err
			}
			cars[t.CarID] = car
		}
		t.Car = car

		drv, ok := drivers[t.DriverID]
		if !ok {
			d, err := r.GetDriver(ctx, t.DriverID)
			switch {
			case err == nil:
				drv = &models.DriverSummary{ID: d.ID, Name: d.Name, Status: d.Status}
			case !errors.Is(err, fleet.ErrNotFound):
				return err
			}
			drivers[t.DriverID] = drv
		}
		t.Driver = drv
	}
	return nil
}
