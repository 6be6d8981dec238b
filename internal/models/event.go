package models

import "time"

// EventType names a live feed event.
type EventType string

const (
	EventCheckout EventType = "trip.checkout"
	EventCheckin  EventType = "trip.checkin"
	EventLocation EventType = "vehicle.location"
	EventStatus   EventType = "vehicle.status"
)

// Event is published to live monitor subscribers after a state change
// has been committed.
type Event struct {
	Type      EventType     `json:"type"`
	VehicleID int64         `json:"vehicle_id"`
	DriverID  int64         `json:"driver_id,omitempty"`
	TripID    int64         `json:"trip_id,omitempty"`
	Status    VehicleStatus `json:"status,omitempty"`
	Position  *Position     `json:"position,omitempty"`
	At        time.Time     `json:"at"`
}
