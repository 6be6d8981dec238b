package models

import (
	"time"
)

// Trip represents one custody period of a vehicle by a driver, from
// checkout to checkin. EndTime and EndKm stay nil while the trip is open.
type Trip struct {
	ID        int64      `json:"id" bson:"_id"`
	CarID     int64      `json:"car_id" bson:"car_id"`
	DriverID  int64      `json:"driver_id" bson:"driver_id"`
	StartTime time.Time  `json:"start_time" bson:"start_time"`
	StartKm   int        `json:"start_km" bson:"start_km"`
	EndTime   *time.Time `json:"end_time" bson:"end_time"`
	EndKm     *int       `json:"end_km" bson:"end_km"`
	Notes     string     `json:"notes" bson:"notes"`
	CreatedAt time.Time  `json:"created_at" bson:"created_at"`

	// Display summaries, filled on listings only.
	Car    *VehicleSummary `json:"car,omitempty" bson:"-"`
	Driver *DriverSummary  `json:"driver,omitempty" bson:"-"`
}

// VehicleSummary identifies the car of a listed trip.
type VehicleSummary struct {
	ID           int64  `json:"id"`
	LicensePlate string `json:"license_plate"`
	Brand        string `json:"brand"`
	Model        string `json:"model"`
}

// DriverSummary identifies the driver of a listed trip.
type DriverSummary struct {
	ID     int64        `json:"id"`
	Name   string       `json:"name"`
	Status DriverStatus `json:"status"`
}

// IsOpen reports whether the trip has not been checked in yet.
func (t *Trip) IsOpen() bool {
	return t.EndTime == nil
}

// CheckoutRequest is the payload for starting a trip.
type CheckoutRequest struct {
	CarID    int64  `json:"car_id"`
	DriverID int64  `json:"driver_id"`
	StartKm  int    `json:"start_km"`
	Notes    string `json:"notes"`
}

// CheckinRequest is the payload for ending a trip.
type CheckinRequest struct {
	TripID int64  `json:"trip_id"`
	EndKm  int    `json:"end_km"`
	Notes  string `json:"notes"`
}
