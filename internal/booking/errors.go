package booking

import (
	"errors"
	"fmt"
	"strings"

	"github.com/9bishal/movie-booking-system-sub000/internal/model"
)

var (
	// ErrSeatsUnavailable matches every *SeatsUnavailableError.
	ErrSeatsUnavailable = errors.New("seats unavailable")
	// ErrBookingNotFound is returned when no booking has the given id or number.
	ErrBookingNotFound = errors.New("booking not found")
	// ErrInvalidStateTransition matches every *InvalidTransitionError.
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrExpiredReservation means the seats were lost before the payment
	// could be applied.  The booking is FAILED and the payment must be
	// refunded.
	ErrExpiredReservation = errors.New("reservation expired, refund required")
	// ErrNotExpired is returned by ExpireBooking for a hold that is still running.
	ErrNotExpired = errors.New("booking hold has not expired")
	// ErrGatewayUnavailable wraps transient payment gateway failures.
	// Callers may retry with backoff.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrSignatureInvalid means a payment confirmation did not verify.
	ErrSignatureInvalid = errors.New("payment signature invalid")
	ErrShowtimeNotFound = errors.New("showtime not found")
	ErrUnknownSeats     = errors.New("unknown seats")
	ErrNoSeats          = errors.New("no seats requested")
	ErrTooManySeats     = errors.New("too many seats requested")
	// ErrOrderMismatch means a confirmation named an order that is not the
	// booking's payment order.
	ErrOrderMismatch = errors.New("payment order does not belong to booking")
)

// SeatsUnavailableError names the requested seats that somebody else holds.
type SeatsUnavailableError struct {
	Seats []string
}

func (e *SeatsUnavailableError) Error() string {
	return fmt.Sprintf("seats unavailable: %s", strings.Join(e.Seats, ", "))
}

func (e *SeatsUnavailableError) Is(target error) bool { return target == ErrSeatsUnavailable }

// InvalidTransitionError reports an operation attempted from a status that
// does not allow it.
type InvalidTransitionError struct {
	Op   string
	From model.Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s a %s booking", e.Op, e.From)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidStateTransition }
