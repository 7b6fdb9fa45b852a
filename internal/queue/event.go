// Package queue carries booking lifecycle events over RabbitMQ.  The booking
// service only appends events after a state change is committed; delivery
// (email, analytics) happens in a separate worker process.
package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/9bishal/movie-booking-system-sub000/internal/model"
)

// EventType is also the name of the durable queue the event is routed to.
type EventType string

const (
	EventBookingConfirmed EventType = "booking.confirmed"
	EventBookingExpired   EventType = "booking.expired"
	EventBookingCancelled EventType = "booking.cancelled"
	EventBookingFailed    EventType = "booking.failed"
)

// EventTypes lists every event type, in the order consumers declare them.
var EventTypes = []EventType{
	EventBookingConfirmed,
	EventBookingExpired,
	EventBookingCancelled,
	EventBookingFailed,
}

// BookingEvent is published when a booking reaches a terminal status.  It
// carries enough for downstream consumers to notify the customer without
// querying the primary database.  Delivery is at least once, so a consumer may
// see the same ID twice.
type BookingEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	BookingID  uint64    `json:"booking_id"`
	Number     string    `json:"number"`
	UserID     uint64    `json:"user_id"`
	ShowtimeID uint64    `json:"showtime_id"`
	Seats      []string  `json:"seats"`
	TotalCents int64     `json:"total_cents"`
	PaymentRef string    `json:"payment_ref,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewBookingEvent builds an event of type t from b's current state.
func NewBookingEvent(t EventType, b *model.Booking, at time.Time) BookingEvent {
	ev := BookingEvent{
		ID:         uuid.NewString(),
		Type:       t,
		BookingID:  b.ID,
		Number:     b.Number,
		UserID:     b.UserID,
		ShowtimeID: b.ShowtimeID,
		Seats:      append([]string(nil), b.Seats...),
		TotalCents: b.Price.TotalCents,
		OccurredAt: at.UTC(),
	}
	if b.PaymentRef != nil {
		ev.PaymentRef = *b.PaymentRef
	}
	if b.StatusReason != nil {
		ev.Reason = *b.StatusReason
	}
	return ev
}
