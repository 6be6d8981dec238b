package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-monitor/internal/fleet"
	"github.com/ukydev/fleet-monitor/internal/models"
)

// SeedFile is the JSON layout of a registry seed file.
type SeedFile struct {
	Vehicles []models.VehicleRequest `json:"vehicles"`
	Drivers  []models.DriverRequest  `json:"drivers"`
}

// SeedResult counts what a seed run created and skipped.
type SeedResult struct {
	Vehicles int
	Drivers  int
	Skipped  int
}

// LoadSeedFile reads path and registers its vehicles and drivers.
func (s *Service) LoadSeedFile(ctx context.Context, path string) (SeedResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SeedResult{}, fmt.Errorf("read seed file: %w", err)
	}
	var seed SeedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return SeedResult{}, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	return s.Seed(ctx, seed)
}

// Seed registers every entry of seed. Entries that already exist are
// skipped so a persistent store can be seeded on every start.
func (s *Service) Seed(ctx context.Context, seed SeedFile) (SeedResult, error) {
	var res SeedResult
	for _, req := range seed.Vehicles {
		_, err := s.CreateVehicle(ctx, req)
		switch {
		case err == nil:
			res.Vehicles++
		case errors.Is(err, fleet.ErrConflict):
			res.Skipped++
		default:
			return res, fmt.Errorf("seed vehicle %q: %w", req.LicensePlate, err)
		}
	}
	for _, req := range seed.Drivers {
		_, err := s.CreateDriver(ctx, req)
		switch {
		case err == nil:
			res.Drivers++
		case errors.Is(err, fleet.ErrConflict):
			res.Skipped++
		default:
			return res, fmt.Errorf("seed driver %q: %w", req.Name, err)
		}
	}
	log.WithFields(log.Fields{
		"vehicles": res.Vehicles,
		"drivers":  res.Drivers,
		"skipped":  res.Skipped,
	}).Info("Registry seeded")
	return res, nil
}
