package models

import "time"

// DriverStatus is the duty state of a driver.
type DriverStatus string

const (
	DriverActive  DriverStatus = "ACTIVE"
	DriverOffDuty DriverStatus = "OFF_DUTY"
)

// IsValidDriverStatus checks if a status is one of the known driver states
func IsValidDriverStatus(s DriverStatus) bool {
	return s == DriverActive || s == DriverOffDuty
}

// Driver represents a fleet driver.
type Driver struct {
	ID            int64        `bson:"_id" json:"id"`
	Name          string       `bson:"name" json:"name"`
	PhoneNumber   string       `bson:"phone_number" json:"phone_number"`
	LicenseNumber string       `bson:"license_number" json:"license_number"`
	Status        DriverStatus `bson:"status" json:"status"`
	CreatedAt     time.Time    `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time    `bson:"updated_at" json:"updated_at"`
}

// DriverRequest is the admin payload for registering a driver.
type DriverRequest struct {
	Name          string `json:"name"`
	PhoneNumber   string `json:"phone_number"`
	LicenseNumber string `json:"license_number"`
}
