package models

import (
	"testing"
)

func TestIsValidRole(t *testing.T) {
	tests := []struct {
		name     string
		role     Role
		expected bool
	}{
		{"admin role", RoleAdmin, true},
		{"driver role", RoleDriver, true},
		{"invalid role", "invalid", false},
		{"empty role", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsValidRole(tt.role)
			if result != tt.expected {
				t.Errorf("IsValidRole(%s) = %v, want %v", tt.role, result, tt.expected)
			}
		})
	}
}

func TestClaims_HasPermission(t *testing.T) {
	admin := &Claims{Role: RoleAdmin}
	driver := &Claims{Role: RoleDriver, DriverID: 7}
	unknown := &Claims{Role: "viewer"}

	tests := []struct {
		name     string
		claims   *Claims
		action   string
		expected bool
	}{
		{"admin can manage fleet", admin, ActionManageFleet, true},
		{"admin can report location", admin, ActionReportLocation, true},

		{"driver can operate trips", driver, ActionOperateTrip, true},
		{"driver can report location", driver, ActionReportLocation, true},
		{"driver can view fleet", driver, ActionViewFleet, true},
		{"driver cannot manage fleet", driver, ActionManageFleet, false},

		{"unknown role has nothing", unknown, ActionViewFleet, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.claims.HasPermission(tt.action)
			if result != tt.expected {
				t.Errorf("Claims with role %s HasPermission(%s) = %v, want %v",
					tt.claims.Role, tt.action, result, tt.expected)
			}
		})
	}
}

func TestClaims_CanActAsDriver(t *testing.T) {
	admin := &Claims{Role: RoleAdmin}
	driver := &Claims{Role: RoleDriver, DriverID: 7}
	unbound := &Claims{Role: RoleDriver}

	if !admin.CanActAsDriver(42) {
		t.Error("admin should act for any driver")
	}
	if !driver.CanActAsDriver(7) {
		t.Error("driver should act for itself")
	}
	if driver.CanActAsDriver(8) {
		t.Error("driver must not act for another driver")
	}
	if unbound.CanActAsDriver(0) {
		t.Error("driver token without driver id must not match id 0")
	}
}

func TestPageRequest_Normalize(t *testing.T) {
	tests := []struct {
		name   string
		in     PageRequest
		page   int
		limit  int
		offset int
	}{
		{"defaults", PageRequest{}, 1, DefaultPageSize, 0},
		{"second page", PageRequest{Page: 2, Limit: 5}, 2, 5, 5},
		{"limit clamped", PageRequest{Page: 1, Limit: 1000}, 1, MaxPageSize, 0},
		{"negative page", PageRequest{Page: -3, Limit: 20}, 1, 20, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := tt.in.Normalize()
			if n.Page != tt.page || n.Limit != tt.limit {
				t.Errorf("Normalize() = %+v, want page %d limit %d", n, tt.page, tt.limit)
			}
			if got := tt.in.Offset(); got != tt.offset {
				t.Errorf("Offset() = %d, want %d", got, tt.offset)
			}
		})
	}
}

func TestNewPage(t *testing.T) {
	p := NewPage([]int{1, 2}, PageRequest{Page: 1, Limit: 2}, 5)
	if p.TotalPages != 3 {
		t.Errorf("expected 3 pages, got %d", p.TotalPages)
	}
	if !p.HasMore {
		t.Error("expected more pages")
	}

	last := NewPage([]int{5}, PageRequest{Page: 3, Limit: 2}, 5)
	if last.HasMore {
		t.Error("last page must not report more")
	}

	empty := NewPage[int](nil, PageRequest{}, 0)
	if empty.Items == nil {
		t.Error("items should encode as an empty list")
	}
}

func TestTrip_IsOpen(t *testing.T) {
	trip := &Trip{StartKm: 10}
	if !trip.IsOpen() {
		t.Error("trip without end time should be open")
	}
}
