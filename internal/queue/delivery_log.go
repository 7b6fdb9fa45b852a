package queue

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/9bishal/movie-booking-system-sub000/internal/model"
)

// DeliveryLog is the notification handler used by the worker: it appends
// one human-friendly line per event to w (logs/booking.log in production).
// Email rendering and transport live outside this service.
type DeliveryLog struct {
	mu sync.Mutex
	w  io.Writer
}

func NewDeliveryLog(w io.Writer) *DeliveryLog { return &DeliveryLog{w: w} }

var eventTitles = map[EventType]string{
	EventBookingConfirmed: "Booking confirmed",
	EventBookingExpired:   "Booking expired",
	EventBookingCancelled: "Booking cancelled",
	EventBookingFailed:    "Booking failed",
}

func (l *DeliveryLog) Handle(_ context.Context, ev BookingEvent) error {
	title, ok := eventTitles[ev.Type]
	if !ok {
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s | booking=%s | booking_id=%d | user_id=%d | showtime_id=%d | total=%s | seats=[%s]",
		ev.OccurredAt.UTC().Format(time.RFC3339), title, ev.Number, ev.BookingID, ev.UserID, ev.ShowtimeID,
		model.FormatCents(ev.TotalCents), strings.Join(ev.Seats, ","))
	if ev.PaymentRef != "" {
		fmt.Fprintf(&b, " | payment=%s", ev.PaymentRef)
	}
	if ev.Reason != "" {
		fmt.Fprintf(&b, " | reason=%q", ev.Reason)
	}
	b.WriteByte('\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := io.WriteString(l.w, b.String()); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}
