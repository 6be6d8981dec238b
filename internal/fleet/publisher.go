package fleet

import "github.com/ukydev/fleet-monitor/internal/models"

// Publisher receives events after the state change they describe has
// been committed. Publish must not block the caller.
type Publisher interface {
	Publish(event models.Event)
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(models.Event) {}
