// Package tabsync replicates reservation changes between nodes that share no memory.
// Delivery is at-least-once and unordered; receivers merge records by precedence.
package tabsync

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fjod/go_cart/reservation-service/internal/domain"
	"github.com/google/uuid"
)

const EventTypeReservationChanged = "reservation.changed"

// Event carries the full latest record of one reservation
type Event struct {
	EventID     string             `json:"event_id"`
	EventType   string             `json:"event_type"`
	Origin      string             `json:"origin"`
	SentAt      time.Time          `json:"sent_at"`
	Reservation domain.Reservation `json:"reservation"`
}

func NewEvent(origin string, r domain.Reservation) Event {
	return Event{
		EventID:     uuid.New().String(),
		EventType:   EventTypeReservationChanged,
		Origin:      origin,
		SentAt:      time.Now().UTC(),
		Reservation: r,
	}
}

func (e Event) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event failed: %w", err)
	}
	return data, nil
}

func UnmarshalEvent(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("unmarshal event failed: %w", err)
	}
	if e.EventType != EventTypeReservationChanged {
		return Event{}, fmt.Errorf("unexpected event type %q", e.EventType)
	}
	return e, nil
}
