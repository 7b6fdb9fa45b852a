package model

import (
	"strconv"
	"time"
)

// Showtime is the read-only view of a scheduled screening that the booking
// core needs: its price and the seat labels that can be reserved.  It is
// owned by the catalog.
//
// Fields:
//  ID         – shows.id.
//  HallID     – hall where the show takes place.
//  Title      – movie title.
//  StartsAt   – when the show begins (UTC).
//  PriceCents – per-seat base price in cents.
//  SeatIDs    – addressable seat labels such as "A1", in layout order.
type Showtime struct {
	ID         uint64
	HallID     uint64
	Title      string
	StartsAt   time.Time
	PriceCents int64
	SeatIDs    []string
}

// HasSeat reports whether label belongs to the showtime's seat universe.
func (s *Showtime) HasSeat(label string) bool {
	for _, id := range s.SeatIDs {
		if id == label {
			return true
		}
	}
	return false
}

// SeatLabel joins a row label and seat number into the seat identifier used
// throughout the booking core, e.g. ("A", 1) -> "A1".
func SeatLabel(row string, number uint32) string {
	return row + strconv.FormatUint(uint64(number), 10)
}
