package registry

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-monitor/internal/db"
	"github.com/ukydev/fleet-monitor/internal/fleet"
	"github.com/ukydev/fleet-monitor/internal/models"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (p *recordingPublisher) Publish(e models.Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

func newTestService(t *testing.T) (*Service, *recordingPublisher) {
	t.Helper()
	clock := fleet.NewManualClock(time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC))
	pub := &recordingPublisher{}
	return NewService(db.NewMemoryStore(clock), clock, pub), pub
}

func TestService_CreateVehicle(t *testing.T) {
	tests := []struct {
		name      string
		req       models.VehicleRequest
		wantErr   error
		wantState models.VehicleStatus
	}{
		{"defaults to available", models.VehicleRequest{LicensePlate: " B 1 AB ", Brand: "Toyota", Year: 2020}, nil, models.VehicleAvailable},
		{"maintenance allowed", models.VehicleRequest{LicensePlate: "B 2 AB", Status: models.VehicleMaintenance}, nil, models.VehicleMaintenance},
		{"in use rejected", models.VehicleRequest{LicensePlate: "B 3 AB", Status: models.VehicleInUse}, fleet.ErrValidation, ""},
		{"plate required", models.VehicleRequest{LicensePlate: "  "}, fleet.ErrValidation, ""},
		{"year out of range", models.VehicleRequest{LicensePlate: "B 4 AB", Year: 1800}, fleet.ErrValidation, ""},
		{"future year", models.VehicleRequest{LicensePlate: "B 5 AB", Year: 2030}, fleet.ErrValidation, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t)
			v, err := svc.CreateVehicle(context.Background(), tt.req)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotZero(t, v.ID)
			assert.Equal(t, tt.wantState, v.Status)
		})
	}
}

func TestService_CreateVehicleDuplicatePlate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.CreateVehicle(ctx, models.VehicleRequest{LicensePlate: "B 1 AB"})
	require.NoError(t, err)
	_, err = svc.CreateVehicle(ctx, models.VehicleRequest{LicensePlate: "B 1 AB"})
	assert.ErrorIs(t, err, fleet.ErrConflict)
}

func TestService_CreateDriver(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	d, err := svc.CreateDriver(ctx, models.DriverRequest{Name: " Budi ", PhoneNumber: "0812", LicenseNumber: "SIM-9"})
	require.NoError(t, err)
	assert.Equal(t, "Budi", d.Name)
	assert.Equal(t, models.DriverOffDuty, d.Status)

	_, err = svc.CreateDriver(ctx, models.DriverRequest{})
	assert.ErrorIs(t, err, fleet.ErrValidation)

	_, err = svc.CreateDriver(ctx, models.DriverRequest{Name: "Other", LicenseNumber: "SIM-9"})
	assert.ErrorIs(t, err, fleet.ErrConflict)
}

func TestService_MaintenanceHold(t *testing.T) {
	svc, pub := newTestService(t)
	ctx := context.Background()
	v, err := svc.CreateVehicle(ctx, models.VehicleRequest{LicensePlate: "B 1 AB"})
	require.NoError(t, err)

	held, err := svc.HoldForMaintenance(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VehicleMaintenance, held.Status)

	_, err = svc.HoldForMaintenance(ctx, v.ID)
	assert.ErrorIs(t, err, fleet.ErrConflict)

	released, err := svc.ReleaseFromMaintenance(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VehicleAvailable, released.Status)

	_, err = svc.ReleaseFromMaintenance(ctx, 404)
	assert.ErrorIs(t, err, fleet.ErrNotFound)

	require.Len(t, pub.events, 2)
	assert.Equal(t, models.EventStatus, pub.events[0].Type)
	assert.Equal(t, models.VehicleMaintenance, pub.events[0].Status)
	assert.Equal(t, models.VehicleAvailable, pub.events[1].Status)
}

func TestService_Listings(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	for _, plate := range []string{"B 1", "B 2", "B 3"} {
		_, err := svc.CreateVehicle(ctx, models.VehicleRequest{LicensePlate: plate})
		require.NoError(t, err)
	}

	page, err := svc.ListVehicles(ctx, models.VehicleFilter{}, models.PageRequest{Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, int64(3), page.TotalItems)
	assert.Equal(t, 2, page.TotalPages)
	assert.True(t, page.HasMore)

	_, err = svc.ListVehicles(ctx, models.VehicleFilter{Status: "BROKEN"}, models.PageRequest{})
	assert.ErrorIs(t, err, fleet.ErrValidation)

	_, err = svc.ListDrivers(ctx, models.DriverFilter{Status: "SLEEPING"}, models.PageRequest{})
	assert.ErrorIs(t, err, fleet.ErrValidation)

	drivers, err := svc.ListDrivers(ctx, models.DriverFilter{}, models.PageRequest{})
	require.NoError(t, err)
	assert.NotNil(t, drivers.Items)
	assert.False(t, drivers.HasMore)
}

func TestService_LoadSeedFile(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "seed.json")
	content := `{
		"vehicles": [
			{"license_plate": "B 1001 FM", "brand": "Toyota", "model": "Avanza", "year": 2021},
			{"license_plate": "B 1002 FM", "brand": "Daihatsu", "model": "Xenia", "year": 2022, "status": "MAINTENANCE"}
		],
		"drivers": [
			{"name": "Budi", "phone_number": "0811", "license_number": "SIM-1"}
		]
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	res, err := svc.LoadSeedFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, SeedResult{Vehicles: 2, Drivers: 1}, res)

	res, err = svc.LoadSeedFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, SeedResult{Skipped: 3}, res)

	_, err = svc.LoadSeedFile(ctx, filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"vehicles": [{"license_plate": ""}]}`), 0o600))
	_, err = svc.LoadSeedFile(ctx, bad)
	assert.ErrorIs(t, err, fleet.ErrValidation)
}
