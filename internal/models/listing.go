package models

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// PageRequest is an offset pagination request. Page is 1-based.
type PageRequest struct {
	Page  int
	Limit int
}

// Normalize fills in defaults and clamps the limit.
func (p PageRequest) Normalize() PageRequest {
	if p.Page <= 0 {
		p.Page = 1
	}
	if p.Limit <= 0 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	return p
}

// Offset returns the number of records to skip.
func (p PageRequest) Offset() int {
	n := p.Normalize()
	return (n.Page - 1) * n.Limit
}

// Page is one page of a listing together with the total match count.
type Page[T any] struct {
	Items      []T   `json:"items"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalItems int64 `json:"total_items"`
	TotalPages int   `json:"total_pages"`
	HasMore    bool  `json:"has_more"`
}

// NewPage builds a page and derives TotalPages and HasMore.
func NewPage[T any](items []T, req PageRequest, total int64) Page[T] {
	req = req.Normalize()
	if items == nil {
		items = []T{}
	}
	pages := int(total) / req.Limit
	if int(total)%req.Limit > 0 {
		pages++
	}
	return Page[T]{
		Items:      items,
		Page:       req.Page,
		Limit:      req.Limit,
		TotalItems: total,
		TotalPages: pages,
		HasMore:    int64(req.Offset()+len(items)) < total,
	}
}

// VehicleFilter narrows a vehicle listing. Search matches plate, brand or
// model case-insensitively.
type VehicleFilter struct {
	Status VehicleStatus
	Search string
	// IDBelow keeps only vehicles with a smaller id. Zero means no bound.
	IDBelow int64
}

// DriverFilter narrows a driver listing. Search matches name, phone or
// license number case-insensitively.
type DriverFilter struct {
	Status DriverStatus
	Search string
}

// TripFilter narrows a trip listing. Zero ids match everything.
type TripFilter struct {
	CarID    int64
	DriverID int64
	Active   *bool
}
