// Package location applies streamed position reports to the vehicle
// registry with last-writer-wins by report timestamp.
package location

import (
	"context"
	"math"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-monitor/internal/db"
	"github.com/ukydev/fleet-monitor/internal/fleet"
	"github.com/ukydev/fleet-monitor/internal/models"
)

// Report is one position report. A nil Timestamp means the time of receipt.
type Report struct {
	CarID     int64      `json:"car_id"`
	Lat       float64    `json:"lat"`
	Lng       float64    `json:"lng"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// Ack is returned for every accepted report. Applied is false when the
// report was older than the stored position and was dropped.
type Ack struct {
	CarID     int64     `json:"car_id"`
	Applied   bool      `json:"applied"`
	Timestamp time.Time `json:"timestamp"`
}

// MaxClockSkew is how far ahead of server time a report may be stamped.
const MaxClockSkew = 5 * time.Minute

// Ingestor is the only writer of vehicle positions.
type Ingestor struct {
	store     db.PositionStore
	clock     fleet.Clock
	publisher fleet.Publisher
}

// NewIngestor creates an ingestor. A nil publisher drops events.
func NewIngestor(store db.PositionStore, clock fleet.Clock, publisher fleet.Publisher) *Ingestor {
	if clock == nil {
		clock = fleet.SystemClock{}
	}
	if publisher == nil {
		publisher = fleet.NopPublisher{}
	}
	return &Ingestor{store: store, clock: clock, publisher: publisher}
}

// ReportLocation validates r and stores it unless a newer position is
// already stored. Stale reports are acknowledged, not rejected.
func (i *Ingestor) ReportLocation(ctx context.Context, r Report) (Ack, error) {
	if err := validate(r); err != nil {
		return Ack{}, err
	}
	now := i.clock.Now()
	ts := now
	if r.Timestamp != nil && !r.Timestamp.IsZero() {
		ts = *r.Timestamp
	}
	if ts.After(now.Add(MaxClockSkew)) {
		return Ack{}, fleet.Invalid("timestamp", "is more than %s ahead of server time", MaxClockSkew)
	}
	pos := models.Position{Lat: r.Lat, Lng: r.Lng, Timestamp: ts.UTC()}

	applied, err := i.store.UpdatePosition(ctx, r.CarID, pos)
	if err != nil {
		if !fleet.IsDomainError(err) {
			log.WithError(err).WithField("car_id", r.CarID).Error("Failed to store location report")
		}
		return Ack{}, err
	}

	ack := Ack{CarID: r.CarID, Applied: applied, Timestamp: pos.Timestamp}
	if !applied {
		log.WithFields(log.Fields{"car_id": r.CarID, "timestamp": pos.Timestamp}).Debug("Dropped stale location report")
		return ack, nil
	}
	i.publisher.Publish(models.Event{
		Type:      models.EventLocation,
		VehicleID: r.CarID,
		Position:  &pos,
		At:        pos.Timestamp,
	})
	return ack, nil
}

func validate(r Report) error {
	if r.CarID <= 0 {
		return fleet.Invalid("car_id", "is required")
	}
	if math.IsNaN(r.Lat) || r.Lat < -90 || r.Lat > 90 {
		return fleet.Invalid("lat", "must be between -90 and 90")
	}
	if math.IsNaN(r.Lng) || r.Lng < -180 || r.Lng > 180 {
		return fleet.Invalid("lng", "must be between -180 and 180")
	}
	return nil
}
