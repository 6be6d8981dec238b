package models

import (
	"time"
)

// VehicleStatus is the custody state of a fleet vehicle.
type VehicleStatus string

const (
	VehicleAvailable   VehicleStatus = "AVAILABLE"
	VehicleInUse       VehicleStatus = "IN_USE"
	VehicleMaintenance VehicleStatus = "MAINTENANCE"
)

// IsValidVehicleStatus checks if a status is one of the known vehicle states
func IsValidVehicleStatus(s VehicleStatus) bool {
	switch s {
	case VehicleAvailable, VehicleInUse, VehicleMaintenance:
		return true
	default:
		return false
	}
}

// DriverRef is a weak reference from a vehicle to the driver holding it.
// The name is cached at checkout time and is not kept in sync.
type DriverRef struct {
	ID   int64  `bson:"id" json:"id"`
	Name string `bson:"name" json:"name"`
}

// Position is the last reported location of a vehicle.
type Position struct {
	Lat       float64   `bson:"lat" json:"lat"`
	Lng       float64   `bson:"lng" json:"lng"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}

// Vehicle represents a fleet vehicle.
type Vehicle struct {
	ID            int64         `bson:"_id" json:"id"`
	LicensePlate  string        `bson:"license_plate" json:"license_plate"`
	Brand         string        `bson:"brand" json:"brand"`
	Model         string        `bson:"model" json:"model"`
	Year          int           `bson:"year" json:"year"`
	Status        VehicleStatus `bson:"status" json:"status"`
	CurrentDriver *DriverRef    `bson:"current_driver" json:"current_driver"`
	Position      *Position     `bson:"position,omitempty" json:"position"`
	CreatedAt     time.Time     `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time     `bson:"updated_at" json:"updated_at"`
}

// VehicleRequest is the admin payload for registering a vehicle.
type VehicleRequest struct {
	LicensePlate string        `json:"license_plate"`
	Brand        string        `json:"brand"`
	Model        string        `json:"model"`
	Year         int           `json:"year"`
	Status       VehicleStatus `json:"status,omitempty"`
}
