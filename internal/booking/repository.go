package booking

import (
	"context"
	"time"

	"github.com/9bishal/movie-booking-system-sub000/internal/model"
)

// Repository persists bookings and their payment audit trail.  Lookups of
// a missing booking return repository.ErrBookingNotFound.
type Repository interface {
	// Create inserts b with its seats and returns the new id.
	Create(ctx context.Context, b *model.Booking) (uint64, error)
	GetByID(ctx context.Context, id uint64) (*model.Booking, error)
	GetByNumber(ctx context.Context, number string) (*model.Booking, error)
	GetByPaymentOrder(ctx context.Context, orderRef string) (*model.Booking, error)
	ListByUser(ctx context.Context, userID uint64) ([]model.Booking, error)
	ListPendingByUserAndShowtime(ctx context.Context, userID, showtimeID uint64) ([]model.Booking, error)
	// ListExpiredPending returns up to limit PENDING bookings whose hold
	// ended before now, oldest first.
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]model.Booking, error)

	// SetPaymentOrderIfNull stores orderRef only if the booking is PENDING
	// and has no order yet.  false means another caller got there first or
	// the booking moved on.
	SetPaymentOrderIfNull(ctx context.Context, id uint64, orderRef string, at time.Time) (bool, error)

	// Transition applies t in one database transaction, guarded on the
	// booking still being in t.From.  false means the guard failed and
	// nothing was written.
	Transition(ctx context.Context, t model.StatusChange) (bool, error)

	// AppendTransaction writes a standalone audit row.
	AppendTransaction(ctx context.Context, tx *model.Transaction) error
}
