package models

// Role represents caller roles resolved from a bearer token
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleDriver Role = "driver"
)

// Actions checked by the permission middleware
const (
	ActionOperateTrip    = "operate_trip"
	ActionReportLocation = "report_location"
	ActionViewFleet      = "view_fleet"
	ActionManageFleet    = "manage_fleet"
)

// Claims is the identity resolved by the authentication collaborator.
// DriverID is set for driver tokens and binds the caller to one driver.
type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
	DriverID int64  `json:"driver_id,omitempty"`
	Exp      int64  `json:"exp"`
}

// IsValidRole checks if a role is valid
func IsValidRole(role Role) bool {
	switch role {
	case RoleAdmin, RoleDriver:
		return true
	default:
		return false
	}
}

// HasPermission checks if the caller may perform an action at all.
// Ownership of a specific driver or trip is checked by the handlers.
func (c *Claims) HasPermission(action string) bool {
	switch c.Role {
	case RoleAdmin:
		return true
	case RoleDriver:
		return action == ActionOperateTrip || action == ActionReportLocation ||
			action == ActionViewFleet
	default:
		return false
	}
}

// CanActAsDriver reports whether the caller may act on behalf of driverID.
func (c *Claims) CanActAsDriver(driverID int64) bool {
	if c.Role == RoleAdmin {
		return true
	}
	return c.Role == RoleDriver && c.DriverID != 0 && c.DriverID == driverID
}
