package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/9bishal/movie-booking-system-sub000/internal/model"
	"github.com/9bishal/movie-booking-system-sub000/internal/queue"
)

const (
	reasonHoldElapsed = "hold window elapsed"
	reasonCancelled   = "cancelled by customer"
	reasonAbandoned   = "abandoned by customer"
)

// ForceExpireResult lists what a forced expiry took down: the abandoned
// booking and any other PENDING bookings of the same user and showtime.
type ForceExpireResult struct {
	Expired  []uint64
	Released []string
}

// terminal describes one way out of PENDING.
type terminal struct {
	op     string
	to     model.Status
	reason string
	event  queue.EventType
	audit  *model.Transaction
}

// terminate moves a PENDING booking to t.to: release its reserved seats,
// commit the guarded status change with the optional audit row, then make
// sure the store really holds nothing for the booking any more.
func (s *Service) terminate(ctx context.Context, b *model.Booking, t terminal) (*model.Booking, error) {
	if err := s.checkTransition(t.op, b.Status, t.to); err != nil {
		return nil, err
	}
	if _, err := s.seats.ReleaseSeats(ctx, b.ShowtimeID, b.Seats, b.Number); err != nil {
		return nil, fmt.Errorf("release seats of booking %d: %w", b.ID, err)
	}

	now := s.now()
	reason := t.reason
	won, err := s.repo.Transition(ctx, model.StatusChange{
		BookingID: b.ID,
		From:      b.Status,
		To:        t.to,
		Reason:    &reason,
		At:        now,
		Audit:     t.audit,
	})
	if err != nil {
		return nil, fmt.Errorf("commit %s for booking %d: %w", t.to, b.ID, err)
	}
	if !won {
		cur, err := s.GetBooking(ctx, b.ID)
		if err != nil {
			return nil, err
		}
		return nil, &InvalidTransitionError{Op: t.op, From: cur.Status}
	}

	s.verifyReleased(context.WithoutCancel(ctx), b)

	out := b.Clone()
	out.Status = t.to
	out.StatusReason = &reason
	out.UpdatedAt = now
	s.log.Info("booking closed", "booking_id", b.ID, "status", t.to, "reason", reason)
	s.notify(ctx, t.event, out)
	return out, nil
}

// verifyReleased reads back the seats of a booking that just became
// terminal and deletes whatever the store still holds for it, confirmed
// entries included.
func (s *Service) verifyReleased(ctx context.Context, b *model.Booking) {
	left, err := s.seats.ReservedByOwner(ctx, b.ShowtimeID, b.Seats, b.Number)
	if err != nil {
		s.log.Warn("verify seat release", "booking_id", b.ID, "error", err)
		return
	}
	if len(left) == 0 {
		return
	}
	n, err := s.seats.ForceReleaseSeats(ctx, b.ShowtimeID, left, b.Number)
	if err != nil {
		s.log.Error("force release stale seats", "booking_id", b.ID, "seats", left, "error", err)
		return
	}
	s.log.Warn("force released stale seat entries", "booking_id", b.ID, "seats", left, "released", n)
}

// CancelBooking cancels a PENDING booking and frees its seats.
func (s *Service) CancelBooking(ctx context.Context, bookingID uint64, reason string) (*model.Booking, error) {
	b, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		reason = reasonCancelled
	}
	return s.terminate(ctx, b, terminal{op: "cancel", to: model.StatusCancelled, reason: reason, event: queue.EventBookingCancelled})
}

// ExpireBooking expires a PENDING booking whose hold window has passed.
// It returns ErrNotExpired for a running hold.
func (s *Service) ExpireBooking(ctx context.Context, bookingID uint64) (*model.Booking, error) {
	b, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := s.checkTransition("expire", b.Status, model.StatusExpired); err != nil {
		return nil, err
	}
	if !b.Expired(s.now()) {
		return nil, ErrNotExpired
	}
	return s.terminate(ctx, b, terminal{op: "expire", to: model.StatusExpired, reason: reasonHoldElapsed, event: queue.EventBookingExpired})
}

// ForceExpireBooking expires a PENDING booking right away, for a customer
// walking away from payment.  Every other PENDING booking of the same user
// for the same showtime is expired with it.
func (s *Service) ForceExpireBooking(ctx context.Context, bookingID uint64, reason string) (ForceExpireResult, error) {
	b, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return ForceExpireResult{}, err
	}
	if err := s.checkTransition("abandon", b.Status, model.StatusExpired); err != nil {
		return ForceExpireResult{}, err
	}
	if reason == "" {
		reason = reasonAbandoned
	}
	t := terminal{op: "abandon", to: model.StatusExpired, reason: reason, event: queue.EventBookingExpired}
	if _, err := s.terminate(ctx, b, t); err != nil {
		return ForceExpireResult{}, err
	}
	res := ForceExpireResult{Expired: []uint64{b.ID}, Released: append([]string(nil), b.Seats...)}

	siblings, err := s.repo.ListPendingByUserAndShowtime(ctx, b.UserID, b.ShowtimeID)
	if err != nil {
		s.log.Warn("list sibling bookings", "booking_id", b.ID, "error", err)
		return res, nil
	}
	for i := range siblings {
		sib := &siblings[i]
		if sib.ID == b.ID {
			continue
		}
		if _, err := s.terminate(ctx, sib, t); err != nil {
			if !errors.Is(err, ErrInvalidStateTransition) {
				s.log.Warn("force expire sibling booking", "booking_id", sib.ID, "error", err)
			}
			continue
		}
		res.Expired = append(res.Expired, sib.ID)
		res.Released = append(res.Released, sib.Seats...)
	}
	return res, nil
}
