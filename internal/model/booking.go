package model

import "time"

// Status is the lifecycle state of a booking.  PENDING is the only
// non-terminal state; every other status is absorbing.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusFailed    Status = "FAILED"
	StatusExpired   Status = "EXPIRED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool { return s != StatusPending }

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusFailed, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// Booking is a customer's claim on a set of seats for one showtime.  It is
// created PENDING right after the seats were reserved in the seat store and
// is only ever mutated through status transitions.  Seats and Price are
// fixed at creation.
//
// Fields:
//  ID              – primary key identifier.
//  Number          – opaque booking number shown to the customer; it is also
//                    the holder recorded against seats in the seat store.
//  UserID          – user who owns the booking.
//  ShowtimeID      – showtime the seats belong to.
//  Seats           – seat labels (sorted, unique).
//  Price           – monetary breakdown in minor units.
//  Status          – current lifecycle status.
//  StatusReason    – why a FAILED/EXPIRED/CANCELLED status was reached.
//  PaymentOrderRef – gateway order id, set at most once.
//  PaymentRef      – gateway payment id, set on confirmation.
//  ConfirmedAt     – when the booking was confirmed.
//  CreatedAt       – creation timestamp.
//  ExpiresAt       – end of the hold window.
//  UpdatedAt       – last update timestamp.
type Booking struct {
	ID              uint64         // bookings.id
	Number          string         // bookings.number
	UserID          uint64         // bookings.user_id
	ShowtimeID      uint64         // bookings.showtime_id
	Seats           []string       // booking_seats.seat_label
	Price           PriceBreakdown // bookings.*_cents
	Status          Status         // bookings.status
	StatusReason    *string        // bookings.status_reason (nullable)
	PaymentOrderRef *string        // bookings.payment_order_ref (nullable)
	PaymentRef      *string        // bookings.payment_ref (nullable)
	ConfirmedAt     *time.Time     // bookings.confirmed_at (nullable)
	CreatedAt       time.Time      // bookings.created_at
	ExpiresAt       time.Time      // bookings.expires_at
	UpdatedAt       time.Time      // bookings.updated_at
}

// Expired reports whether the hold window has passed at now.
func (b *Booking) Expired(now time.Time) bool { return now.After(b.ExpiresAt) }

// Clone returns a deep copy so callers cannot mutate shared state.
func (b *Booking) Clone() *Booking {
	if b == nil {
		return nil
	}
	c := *b
	c.Seats = append([]string(nil), b.Seats...)
	c.StatusReason = cloneString(b.StatusReason)
	c.PaymentOrderRef = cloneString(b.PaymentOrderRef)
	c.PaymentRef = cloneString(b.PaymentRef)
	if b.ConfirmedAt != nil {
		t := *b.ConfirmedAt
		c.ConfirmedAt = &t
	}
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
