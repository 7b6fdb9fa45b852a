package handler

import (
	"time"

	"github.com/9bishal/movie-booking-system-sub000/internal/model"
)

// bookingView is the JSON shape of a booking.
type bookingView struct {
	ID             uint64               `json:"id"`
	Number         string               `json:"number"`
	ShowtimeID     uint64               `json:"showtime_id"`
	Seats          []string             `json:"seats"`
	Status         model.Status         `json:"status"`
	StatusReason   string               `json:"status_reason,omitempty"`
	DisplayStatus  string               `json:"display_status"`
	Price          model.PriceBreakdown `json:"price"`
	Total          string               `json:"total"`
	PaymentOrderID string               `json:"payment_order_id,omitempty"`
	CreatedAt      string               `json:"created_at"`
	ExpiresAt      string               `json:"expires_at"`
	ConfirmedAt    string               `json:"confirmed_at,omitempty"`
}

func newBookingView(b *model.Booking) bookingView {
	v := bookingView{
		ID:            b.ID,
		Number:        b.Number,
		ShowtimeID:    b.ShowtimeID,
		Seats:         b.Seats,
		Status:        b.Status,
		DisplayStatus: displayStatus(b),
		Price:         b.Price,
		Total:         model.FormatCents(b.Price.TotalCents),
		CreatedAt:     b.CreatedAt.UTC().Format(time.RFC3339),
		ExpiresAt:     b.ExpiresAt.UTC().Format(time.RFC3339),
	}
	if v.Seats == nil {
		v.Seats = []string{}
	}
	if b.StatusReason != nil {
		v.StatusReason = *b.StatusReason
	}
	if b.PaymentOrderRef != nil {
		v.PaymentOrderID = *b.PaymentOrderRef
	}
	if b.ConfirmedAt != nil {
		v.ConfirmedAt = b.ConfirmedAt.UTC().Format(time.RFC3339)
	}
	return v
}

// displayStatus is the customer-facing status line.  A lapsed or failed
// booking says why; a cancellation is shown as such.
func displayStatus(b *model.Booking) string {
	reason := ""
	if b.StatusReason != nil {
		reason = *b.StatusReason
	}
	switch b.Status {
	case model.StatusPending:
		return "Awaiting payment"
	case model.StatusConfirmed:
		return "Confirmed"
	case model.StatusCancelled:
		return "Cancelled"
	case model.StatusExpired:
		if reason != "" {
			return "Expired: " + reason
		}
		return "Expired"
	case model.StatusFailed:
		if reason != "" {
			return "Payment failed: " + reason
		}
		return "Payment failed"
	}
	return string(b.Status)
}

func bookingViews(bs []model.Booking) []bookingView {
	out := make([]bookingView, len(bs))
	for i := range bs {
		out[i] = newBookingView(&bs[i])
	}
	return out
}
