// Package booking implements the booking lifecycle.  A booking is created
// PENDING once its seats are reserved and leaves PENDING exactly once, to
// CONFIRMED, FAILED, EXPIRED or CANCELLED.
//
// The seat store and the database cannot share a transaction.  Every
// operation therefore mutates the seat store first and then commits a
// compare-and-set status change; payment confirmation validates the seats
// before touching either.  Whoever loses a race re-reads the booking and
// reports what it finds.
package booking

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/9bishal/movie-booking-system-sub000/internal/model"
	"github.com/9bishal/movie-booking-system-sub000/internal/queue"
	"github.com/9bishal/movie-booking-system-sub000/internal/repository"
	"github.com/9bishal/movie-booking-system-sub000/internal/seats"
)

// DefaultMaxSeats caps how many seats one booking may hold.
const DefaultMaxSeats = 10

// SeatManager is the seat side of the booking core; *seats.Manager
// implements it.
type SeatManager interface {
	HoldTTL() time.Duration
	ReserveSeats(ctx context.Context, showtimeID uint64, seatIDs []string, owner string) error
	ConfirmSeats(ctx context.Context, showtimeID uint64, seatIDs []string, owner string) (bool, error)
	ReleaseSeats(ctx context.Context, showtimeID uint64, seatIDs []string, owner string) (int, error)
	ForceReleaseSeats(ctx context.Context, showtimeID uint64, seatIDs []string, owner string) (int, error)
	IsStillReservedForOwner(ctx context.Context, showtimeID uint64, seatIDs []string, owner string) (bool, error)
	ReservedByOwner(ctx context.Context, showtimeID uint64, seatIDs []string, owner string) ([]string, error)
	AvailableSeats(ctx context.Context, showtimeID uint64) ([]string, error)
}

// Pricer prices a number of seats of a showtime.
type Pricer interface {
	Calculate(show model.Showtime, seatCount int) model.PriceBreakdown
}

// Gateway is the payment gateway.  CreateOrder errors are treated as
// transient.
type Gateway interface {
	CreateOrder(ctx context.Context, amountCents int64, receipt string, metadata map[string]string) (orderID string, err error)
	VerifySignature(orderID, paymentID, signature string) bool
}

// Notifier accepts lifecycle events for asynchronous delivery.
type Notifier interface {
	Enqueue(ctx context.Context, ev queue.BookingEvent) error
}

// Catalog looks up showtimes.  A missing showtime is repository.ErrShowNotFound.
type Catalog interface {
	GetShowtime(ctx context.Context, id uint64) (*model.Showtime, error)
}

// Deps are the collaborators of a Service.  Notifier may be nil.
type Deps struct {
	Repo     Repository
	Seats    SeatManager
	Catalog  Catalog
	Pricer   Pricer
	Gateway  Gateway
	Notifier Notifier
	Logger   *slog.Logger
}

// Option tweaks a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithNumberGenerator replaces NewNumber.
func WithNumberGenerator(f func() string) Option { return func(s *Service) { s.newNumber = f } }

// WithMaxSeats sets the per-booking seat limit.
func WithMaxSeats(n int) Option { return func(s *Service) { s.maxSeats = n } }

// Service is the booking state machine.
type Service struct {
	repo      Repository
	seats     SeatManager
	catalog   Catalog
	pricer    Pricer
	gateway   Gateway
	notifier  Notifier
	log       *slog.Logger
	now       func() time.Time
	newNumber func() string
	maxSeats  int

	// orders collapses concurrent payment-order creation for one booking
	// in this process into a single gateway call.
	orders singleflight.Group
}

// NewService wires a Service.  The hold window of every booking is the seat
// manager's hold TTL, so a booking and its seat hold end together.
func NewService(d Deps, opts ...Option) *Service {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		repo:      d.Repo,
		seats:     d.Seats,
		catalog:   d.Catalog,
		pricer:    d.Pricer,
		gateway:   d.Gateway,
		notifier:  d.Notifier,
		log:       logger.With("component", "booking"),
		now:       time.Now,
		newNumber: NewNumber,
		maxSeats:  DefaultMaxSeats,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// HoldWindow is how long a PENDING booking keeps its seats.
func (s *Service) HoldWindow() time.Duration { return s.seats.HoldTTL() }

// ReserveSeats reserves seats for owner without creating a booking.
func (s *Service) ReserveSeats(ctx context.Context, showtimeID uint64, seatIDs []string, owner string) error {
	return seatError(s.seats.ReserveSeats(ctx, showtimeID, seatIDs, owner))
}

// GetAvailableSeats lists the seats of a showtime that nobody holds.
func (s *Service) GetAvailableSeats(ctx context.Context, showtimeID uint64) ([]string, error) {
	free, err := s.seats.AvailableSeats(ctx, showtimeID)
	if errors.Is(err, repository.ErrShowNotFound) {
		return nil, ErrShowtimeNotFound
	}
	return free, err
}

func (s *Service) GetBooking(ctx context.Context, id uint64) (*model.Booking, error) {
	b, err := s.repo.GetByID(ctx, id)
	return b, notFound(err)
}

func (s *Service) GetBookingByNumber(ctx context.Context, number string) (*model.Booking, error) {
	b, err := s.repo.GetByNumber(ctx, number)
	return b, notFound(err)
}

// GetBookingByOrder finds the booking a gateway order belongs to.
func (s *Service) GetBookingByOrder(ctx context.Context, orderID string) (*model.Booking, error) {
	b, err := s.repo.GetByPaymentOrder(ctx, orderID)
	return b, notFound(err)
}

// ListUserBookings returns a user's bookings, newest first.
func (s *Service) ListUserBookings(ctx context.Context, userID uint64) ([]model.Booking, error) {
	return s.repo.ListByUser(ctx, userID)
}

// PendingExpired returns up to limit PENDING bookings whose hold ended
// before now.
func (s *Service) PendingExpired(ctx context.Context, now time.Time, limit int) ([]model.Booking, error) {
	return s.repo.ListExpiredPending(ctx, now, limit)
}

func notFound(err error) error {
	if errors.Is(err, repository.ErrBookingNotFound) {
		return ErrBookingNotFound
	}
	return err
}

func seatError(err error) error {
	var ue *seats.UnavailableError
	if errors.As(err, &ue) {
		return &SeatsUnavailableError{Seats: ue.Seats}
	}
	return err
}

// notify hands ev to the notifier after a committed transition.  Failure is
// logged only; the transition stands.
func (s *Service) notify(ctx context.Context, t queue.EventType, b *model.Booking) {
	if s.notifier == nil {
		return
	}
	ev := queue.NewBookingEvent(t, b, s.now())
	if err := s.notifier.Enqueue(context.WithoutCancel(ctx), ev); err != nil {
		s.log.Warn("enqueue booking event failed", "event", t, "booking_id", b.ID, "error", err)
	}
}
