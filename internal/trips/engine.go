// Package trips implements the trip engine: the state machine that hands
// a vehicle to a driver at checkout and takes it back at checkin.
package trips

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-monitor/internal/db"
	"github.com/ukydev/fleet-monitor/internal/fleet"
	"github.com/ukydev/fleet-monitor/internal/models"
)

// Store is the persistence the engine needs: trip reads, the entity reads
// behind listing summaries and the atomic read-modify-write unit.
type Store interface {
	db.TripLog
	db.EntityReader
	RunInTx(ctx context.Context, scope db.Scope, fn func(ctx context.Context, tx db.Tx) error) error
}

// Engine owns every write to vehicle status, driver status and the trip
// lifecycle fields.
type Engine struct {
	store     Store
	clock     fleet.Clock
	publisher fleet.Publisher
}

// NewEngine creates a trip engine. A nil publisher drops events.
func NewEngine(store Store, clock fleet.Clock, publisher fleet.Publisher) *Engine {
	if clock == nil {
		clock = fleet.SystemClock{}
	}
	if publisher == nil {
		publisher = fleet.NopPublisher{}
	}
	return &Engine{store: store, clock: clock, publisher: publisher}
}

// now is truncated to the coarsest precision of the backing stores so a
// trip reads back exactly as it was written.
func (e *Engine) now() time.Time {
	return e.clock.Now().UTC().Truncate(time.Millisecond)
}

// Checkout opens a trip for driverID on carID. Availability of both is
// re-checked inside one transaction; whatever the client saw before is
// not trusted.
func (e *Engine) Checkout(ctx context.Context, req models.CheckoutRequest) (*models.Trip, error) {
	if req.CarID <= 0 {
		return nil, fleet.Invalid("car_id", "is required")
	}
	if req.DriverID <= 0 {
		return nil, fleet.Invalid("driver_id", "is required")
	}
	if req.StartKm < 0 {
		return nil, fleet.Invalid("start_km", "must be a non-negative integer")
	}

	var trip *models.Trip
	scope := db.Scope{VehicleID: req.CarID, DriverID: req.DriverID}
	err := e.store.RunInTx(ctx, scope, func(ctx context.Context, tx db.Tx) error {
		vehicle, err := tx.VehicleForUpdate(ctx, req.CarID)
		if err != nil {
			return err
		}
		driver, err := tx.DriverForUpdate(ctx, req.DriverID)
		if err != nil {
			return err
		}
		if vehicle.Status != models.VehicleAvailable {
			return &fleet.ConflictError{Entity: "vehicle", ID: vehicle.ID, Status: string(vehicle.Status)}
		}
		if open, err := tx.OpenTripForVehicle(ctx, vehicle.ID); err != nil {
			return err
		} else if open != nil {
			return &fleet.ConflictError{Entity: "vehicle", ID: vehicle.ID, Reason: "vehicle already has an open trip"}
		}
		if driver.Status != models.DriverOffDuty {
			return &fleet.ConflictError{Entity: "driver", ID: driver.ID, Status: string(driver.Status)}
		}
		if open, err := tx.OpenTripForDriver(ctx, driver.ID); err != nil {
			return err
		} else if open != nil {
			return &fleet.ConflictError{Entity: "driver", ID: driver.ID, Reason: "driver already has an active trip"}
		}

		now := e.now()
		t := &models.Trip{
			CarID:     vehicle.ID,
			DriverID:  driver.ID,
			StartTime: now,
			StartKm:   req.StartKm,
			Notes:     req.Notes,
			CreatedAt: now,
		}
		if err := tx.InsertTrip(ctx, t); err != nil {
			return err
		}
		ref := &models.DriverRef{ID: driver.ID, Name: driver.Name}
		if err := tx.SwapVehicleStatus(ctx, vehicle.ID, models.VehicleAvailable, models.VehicleInUse, ref); err != nil {
			return err
		}
		if err := tx.SwapDriverStatus(ctx, driver.ID, models.DriverOffDuty, models.DriverActive); err != nil {
			return err
		}
		trip = t
		return nil
	})
	if err != nil {
		logRejected("Checkout", err, log.Fields{"car_id": req.CarID, "driver_id": req.DriverID})
		return nil, err
	}

	log.WithFields(log.Fields{
		"trip_id":   trip.ID,
		"car_id":    trip.CarID,
		"driver_id": trip.DriverID,
		"start_km":  trip.StartKm,
	}).Info("Checkout committed")
	e.publisher.Publish(models.Event{
		Type:      models.EventCheckout,
		VehicleID: trip.CarID,
		DriverID:  trip.DriverID,
		TripID:    trip.ID,
		Status:    models.VehicleInUse,
		At:        trip.StartTime,
	})
	return trip, nil
}

// Checkin closes an open trip and releases its vehicle and driver. A
// failed checkin leaves every record as it was.
func (e *Engine) Checkin(ctx context.Context, req models.CheckinRequest) (*models.Trip, error) {
	if req.TripID <= 0 {
		return nil, fleet.Invalid("trip_id", "is required")
	}

	// The car and driver of a trip never change, so the snapshot is
	// enough to scope the transaction.
	snapshot, err := e.store.GetTrip(ctx, req.TripID)
	if err != nil {
		return nil, err
	}
	if !snapshot.IsOpen() {
		return nil, &fleet.AlreadyClosedError{TripID: snapshot.ID}
	}

	var trip *models.Trip
	scope := db.Scope{VehicleID: snapshot.CarID, DriverID: snapshot.DriverID, TripID: snapshot.ID}
	err = e.store.RunInTx(ctx, scope, func(ctx context.Context, tx db.Tx) error {
		t, err := tx.TripForUpdate(ctx, req.TripID)
		if err != nil {
			return err
		}
		if !t.IsOpen() {
			return &fleet.AlreadyClosedError{TripID: t.ID}
		}
		if req.EndKm < t.StartKm {
			return fleet.Invalid("end_km", "must be at least %d", t.StartKm)
		}

		end := e.now()
		if !end.After(t.StartTime) {
			end = t.StartTime.Add(time.Millisecond)
		}
		endKm := req.EndKm
		t.EndTime = &end
		t.EndKm = &endKm
		t.Notes = appendNotes(t.Notes, req.Notes)

		if err := tx.CloseTrip(ctx, t); err != nil {
			return err
		}
		if err := tx.SwapVehicleStatus(ctx, t.CarID, models.VehicleInUse, models.VehicleAvailable, nil); err != nil {
			return err
		}
		if err := tx.SwapDriverStatus(ctx, t.DriverID, models.DriverActive, models.DriverOffDuty); err != nil {
			return err
		}
		trip = t
		return nil
	})
	if err != nil {
		logRejected("Checkin", err, log.Fields{"trip_id": req.TripID})
		return nil, err
	}

	log.WithFields(log.Fields{
		"trip_id":   trip.ID,
		"car_id":    trip.CarID,
		"driver_id": trip.DriverID,
		"distance":  *trip.EndKm - trip.StartKm,
	}).Info("Checkin committed")
	e.publisher.Publish(models.Event{
		Type:      models.EventCheckin,
		VehicleID: trip.CarID,
		DriverID:  trip.DriverID,
		TripID:    trip.ID,
		Status:    models.VehicleAvailable,
		At:        *trip.EndTime,
	})
	return trip, nil
}

// GetTrip returns a trip by id.
func (e *Engine) GetTrip(ctx context.Context, id int64) (*models.Trip, error) {
	return e.store.GetTrip(ctx, id)
}

// GetActiveTrip returns the driver's open trip, or nil when there is none.
func (e *Engine) GetActiveTrip(ctx context.Context, driverID int64) (*models.Trip, error) {
	return e.store.ActiveTripByDriver(ctx, driverID)
}

// GetHistory returns the driver's trips newest first. Pages are cut on
// the trip id, which never changes, so a trip closing between two page
// requests does not shift the listing.
func (e *Engine) GetHistory(ctx context.Context, driverID int64, page models.PageRequest) (models.Page[models.Trip], error) {
	return e.ListTrips(ctx, models.TripFilter{DriverID: driverID}, page)
}

// ListTrips returns one page of trips matching filter, newest first.
func (e *Engine) ListTrips(ctx context.Context, filter models.TripFilter, page models.PageRequest) (models.Page[models.Trip], error) {
	page = page.Normalize()
	items, total, err := e.store.ListTrips(ctx, filter, page)
	if err != nil {
		return models.Page[models.Trip]{}, err
	}
	if err := db.AttachSummaries(ctx, e.store, items); err != nil {
		return models.Page[models.Trip]{}, err
	}
	return models.NewPage(items, page, total), nil
}

func appendNotes(existing, extra string) string {
	switch {
	case extra == "":
		return existing
	case existing == "":
		return extra
	default:
		return existing + "\n" + extra
	}
}

func logRejected(op string, err error, fields log.Fields) {
	entry := log.WithFields(fields).WithError(err)
	if fleet.IsDomainError(err) {
		entry.Debug(op + " rejected")
		return
	}
	entry.Error(op + " failed")
}
