package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/9bishal/movie-booking-system-sub000/internal/model"
	"github.com/9bishal/movie-booking-system-sub000/internal/repository"
	"github.com/9bishal/movie-booking-system-sub000/internal/seatstore"
)

// CreateBooking reserves seatIDs of a showtime for userID and records a
// PENDING booking holding them.  If the seats cannot all be reserved it
// returns a *SeatsUnavailableError and creates nothing.  Any failure after
// the reservation releases the seats again.
func (s *Service) CreateBooking(ctx context.Context, userID, showtimeID uint64, seatIDs []string) (*model.Booking, error) {
	seatIDs = seatstore.Normalize(seatIDs)
	if len(seatIDs) == 0 {
		return nil, ErrNoSeats
	}
	if s.maxSeats > 0 && len(seatIDs) > s.maxSeats {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManySeats, len(seatIDs), s.maxSeats)
	}

	show, err := s.catalog.GetShowtime(ctx, showtimeID)
	if errors.Is(err, repository.ErrShowNotFound) {
		return nil, ErrShowtimeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load showtime %d: %w", showtimeID, err)
	}
	var unknown []string
	for _, id := range seatIDs {
		if !show.HasSeat(id) {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSeats, strings.Join(unknown, ", "))
	}

	// Taking the time before reserving keeps ExpiresAt at or before the end
	// of the store hold.
	now := s.now()
	number := s.newNumber()
	if err := s.seats.ReserveSeats(ctx, showtimeID, seatIDs, number); err != nil {
		err = seatError(err)
		if !errors.Is(err, ErrSeatsUnavailable) {
			// A timed-out reserve may still have landed.
			s.rollback(ctx, showtimeID, seatIDs, number)
		}
		return nil, err
	}

	b := &model.Booking{
		Number:     number,
		UserID:     userID,
		ShowtimeID: showtimeID,
		Seats:      seatIDs,
		Price:      s.pricer.Calculate(*show, len(seatIDs)),
		Status:     model.StatusPending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.seats.HoldTTL()),
		UpdatedAt:  now,
	}
	if !b.Price.Consistent() {
		s.rollback(ctx, showtimeID, seatIDs, number)
		return nil, fmt.Errorf("pricing returned inconsistent breakdown %+v", b.Price)
	}
	id, err := s.repo.Create(ctx, b)
	if err != nil {
		s.rollback(ctx, showtimeID, seatIDs, number)
		return nil, fmt.Errorf("save booking: %w", err)
	}
	b.ID = id
	s.log.Info("booking created", "booking_id", id, "number", number, "showtime_id", showtimeID, "seats", seatIDs)
	return b, nil
}

func (s *Service) rollback(ctx context.Context, showtimeID uint64, seatIDs []string, owner string) {
	if _, err := s.seats.ReleaseSeats(context.WithoutCancel(ctx), showtimeID, seatIDs, owner); err != nil {
		s.log.Warn("release after failed booking creation", "owner", owner, "showtime_id", showtimeID, "error", err)
	}
}
