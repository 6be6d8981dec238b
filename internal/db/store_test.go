package db

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-monitor/internal/fleet"
	"github.com/ukydev/fleet-monitor/internal/models"
)

// checkoutInTx opens a trip the way the trip engine does.
func checkoutInTx(ctx context.Context, s Store, vehicleID, driverID int64) (*models.Trip, error) {
	var trip *models.Trip
	err := s.RunInTx(ctx, Scope{VehicleID: vehicleID, DriverID: driverID}, func(ctx context.Context, tx Tx) error {
		v, err := tx.VehicleForUpdate(ctx, vehicleID)
		if err != nil {
			return err
		}
		d, err := tx.DriverForUpdate(ctx, driverID)
		if err != nil {
			return err
		}
		if v.Status != models.VehicleAvailable {
			return &fleet.ConflictError{Entity: "vehicle", ID: v.ID, Status: string(v.Status)}
		}
		if d.Status != models.DriverOffDuty {
			return &fleet.ConflictError{Entity: "driver", ID: d.ID, Status: string(d.Status)}
		}
		trip = &models.Trip{CarID: vehicleID, DriverID: driverID, StartTime: time.Now().UTC()}
		if err := tx.InsertTrip(ctx, trip); err != nil {
			return err
		}
		if err := tx.SwapVehicleStatus(ctx, vehicleID, models.VehicleAvailable, models.VehicleInUse, &models.DriverRef{ID: d.ID, Name: d.Name}); err != nil {
			return err
		}
		return tx.SwapDriverStatus(ctx, driverID, models.DriverOffDuty, models.DriverActive)
	})
	return trip, err
}

// testStoreContract exercises the behaviour every Store backend shares.
// The store must be empty.
func testStoreContract(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("concurrent checkouts of one vehicle", func(t *testing.T) {
		v := mustCreateVehicle(t, s, "CT-RACE-1", models.VehicleAvailable)
		const n = 8
		drivers := make([]*models.Driver, n)
		for i := range drivers {
			drivers[i] = mustCreateDriver(t, s, "Racer", "")
		}

		var wg sync.WaitGroup
		errs := make([]error, n)
		for i := range drivers {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = checkoutInTx(ctx, s, v.ID, drivers[i].ID)
			}(i)
		}
		wg.Wait()

		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
				continue
			}
			assert.ErrorIs(t, err, fleet.ErrConflict)
		}
		assert.Equal(t, 1, wins)

		active := true
		open, total, err := s.ListTrips(ctx, models.TripFilter{CarID: v.ID, Active: &active}, models.PageRequest{})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		assert.Len(t, open, 1)

		got, err := s.GetVehicle(ctx, v.ID)
		require.NoError(t, err)
		assert.Equal(t, models.VehicleInUse, got.Status)
		require.NotNil(t, got.CurrentDriver)
		assert.Equal(t, open[0].DriverID, got.CurrentDriver.ID)
	})

	t.Run("close trip once", func(t *testing.T) {
		v := mustCreateVehicle(t, s, "CT-CLOSE-1", models.VehicleAvailable)
		d := mustCreateDriver(t, s, "Closer", "")
		trip, err := checkoutInTx(ctx, s, v.ID, d.ID)
		require.NoError(t, err)

		closeTrip := func(km int) error {
			return s.RunInTx(ctx, Scope{VehicleID: v.ID, DriverID: d.ID, TripID: trip.ID}, func(ctx context.Context, tx Tx) error {
				current, err := tx.TripForUpdate(ctx, trip.ID)
				if err != nil {
					return err
				}
				end := time.Now().UTC()
				current.EndTime, current.EndKm = &end, &km
				return tx.CloseTrip(ctx, current)
			})
		}
		require.NoError(t, closeTrip(50))
		assert.ErrorIs(t, closeTrip(70), fleet.ErrAlreadyClosed)

		got, err := s.GetTrip(ctx, trip.ID)
		require.NoError(t, err)
		require.NotNil(t, got.EndKm)
		assert.Equal(t, 50, *got.EndKm)
	})

	t.Run("position last writer wins", func(t *testing.T) {
		v := mustCreateVehicle(t, s, "CT-POS-1", models.VehicleAvailable)
		base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

		applied, err := s.UpdatePosition(ctx, v.ID, models.Position{Lat: 1, Lng: 1, Timestamp: base.Add(time.Minute)})
		require.NoError(t, err)
		assert.True(t, applied)

		applied, err = s.UpdatePosition(ctx, v.ID, models.Position{Lat: 2, Lng: 2, Timestamp: base})
		require.NoError(t, err)
		assert.False(t, applied)

		got, err := s.GetVehicle(ctx, v.ID)
		require.NoError(t, err)
		require.NotNil(t, got.Position)
		assert.Equal(t, 1.0, got.Position.Lat)
		assert.True(t, got.Position.Timestamp.Equal(base.Add(time.Minute)))

		_, err = s.UpdatePosition(ctx, 987654, models.Position{Timestamp: base})
		assert.ErrorIs(t, err, fleet.ErrNotFound)
	})

	t.Run("concurrent first reports keep the newest", func(t *testing.T) {
		v := mustCreateVehicle(t, s, "CT-POS-RACE", models.VehicleAvailable)
		base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
		const n = 8

		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := s.UpdatePosition(ctx, v.ID, models.Position{Lat: float64(i), Lng: 1, Timestamp: base.Add(time.Duration(i) * time.Second)})
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		got, err := s.GetVehicle(ctx, v.ID)
		require.NoError(t, err)
		require.NotNil(t, got.Position)
		assert.Equal(t, float64(n-1), got.Position.Lat)
		assert.True(t, got.Position.Timestamp.Equal(base.Add((n-1)*time.Second)))
	})

	t.Run("list vehicles below an id", func(t *testing.T) {
		a := mustCreateVehicle(t, s, "CT-CUR-1", models.VehicleAvailable)
		b := mustCreateVehicle(t, s, "CT-CUR-2", models.VehicleAvailable)
		c := mustCreateVehicle(t, s, "CT-CUR-3", models.VehicleAvailable)

		got, _, err := s.ListVehicles(ctx, models.VehicleFilter{Search: "CT-CUR", IDBelow: c.ID}, models.PageRequest{})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, b.ID, got[0].ID)
		assert.Equal(t, a.ID, got[1].ID)
	})

	t.Run("odometer beyond 32 bits", func(t *testing.T) {
		v := mustCreateVehicle(t, s, "CT-KM-1", models.VehicleAvailable)
		d := mustCreateDriver(t, s, "Long Hauler", "")
		km := math.MaxInt32
		km += 10

		var trip *models.Trip
		err := s.RunInTx(ctx, Scope{VehicleID: v.ID, DriverID: d.ID}, func(ctx context.Context, tx Tx) error {
			trip = &models.Trip{CarID: v.ID, DriverID: d.ID, StartTime: time.Now().UTC(), StartKm: km}
			return tx.InsertTrip(ctx, trip)
		})
		require.NoError(t, err)

		got, err := s.GetTrip(ctx, trip.ID)
		require.NoError(t, err)
		assert.Equal(t, km, got.StartKm)
	})

	t.Run("maintenance hold", func(t *testing.T) {
		v := mustCreateVehicle(t, s, "CT-MAINT-1", models.VehicleAvailable)
		require.NoError(t, s.CompareAndSwapVehicleStatus(ctx, v.ID, models.VehicleAvailable, models.VehicleMaintenance))
		assert.ErrorIs(t, s.CompareAndSwapVehicleStatus(ctx, v.ID, models.VehicleAvailable, models.VehicleMaintenance), fleet.ErrConflict)

		d := mustCreateDriver(t, s, "Blocked", "")
		_, err := checkoutInTx(ctx, s, v.ID, d.ID)
		assert.ErrorIs(t, err, fleet.ErrConflict)
	})
}

func TestMemoryStore_Contract(t *testing.T) {
	testStoreContract(t, newTestMemoryStore(t))
}
