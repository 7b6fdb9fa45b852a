package booking

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/9bishal/movie-booking-system-sub000/internal/model"
	"github.com/9bishal/movie-booking-system-sub000/internal/queue"
)

// OrderResult is the payment order of a booking.  Created is false when an
// existing order was returned.
type OrderResult struct {
	OrderID     string
	AmountCents int64
	Created     bool
}

// ConfirmResult is the outcome of a successful confirmation.
// AlreadyConfirmed marks a repeat that changed nothing.
type ConfirmResult struct {
	Booking          *model.Booking
	AlreadyConfirmed bool
}

const reasonLostReservation = "reservation expired before payment"

// orderCallTimeout bounds a shared payment-order creation.  The call runs
// detached from the caller that started it, since other callers may be
// waiting on its result.
const orderCallTimeout = 30 * time.Second

// GetOrCreatePaymentOrder returns the booking's gateway order, creating it
// on first use.  Only a PENDING booking inside its hold window gets an
// order, existing or new; a CONFIRMED booking still reports the order it
// was paid through.  A booking never gets two stored orders: concurrent callers
// in this process share one gateway call, and across processes the order is
// saved with an update-if-null so the first writer wins.
func (s *Service) GetOrCreatePaymentOrder(ctx context.Context, bookingID uint64) (OrderResult, error) {
	v, err, _ := s.orders.Do(strconv.FormatUint(bookingID, 10), func() (any, error) {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), orderCallTimeout)
		defer cancel()
		return s.getOrCreateOrder(cctx, bookingID)
	})
	if err != nil {
		return OrderResult{}, err
	}
	return v.(OrderResult), nil
}

func (s *Service) getOrCreateOrder(ctx context.Context, bookingID uint64) (OrderResult, error) {
	b, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return OrderResult{}, err
	}
	if b.Status == model.StatusConfirmed && b.PaymentOrderRef != nil {
		return OrderResult{OrderID: *b.PaymentOrderRef, AmountCents: b.Price.TotalCents}, nil
	}
	if b.Status != model.StatusPending {
		return OrderResult{}, &InvalidTransitionError{Op: "create payment order for", From: b.Status}
	}
	now := s.now()
	if b.Expired(now) {
		return OrderResult{}, ErrExpiredReservation
	}
	if b.PaymentOrderRef != nil {
		return OrderResult{OrderID: *b.PaymentOrderRef, AmountCents: b.Price.TotalCents}, nil
	}

	orderID, err := s.gateway.CreateOrder(ctx, b.Price.TotalCents, b.Number, map[string]string{
		"booking_id":     strconv.FormatUint(b.ID, 10),
		"booking_number": b.Number,
		"showtime_id":    strconv.FormatUint(b.ShowtimeID, 10),
	})
	if err != nil {
		return OrderResult{}, fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)
	}

	won, err := s.repo.SetPaymentOrderIfNull(ctx, b.ID, orderID, now)
	if err != nil {
		return OrderResult{}, fmt.Errorf("save payment order: %w", err)
	}
	if won {
		s.log.Info("payment order created", "booking_id", b.ID, "order_id", orderID)
		return OrderResult{OrderID: orderID, AmountCents: b.Price.TotalCents, Created: true}, nil
	}

	cur, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return OrderResult{}, err
	}
	if cur.PaymentOrderRef == nil {
		return OrderResult{}, &InvalidTransitionError{Op: "create payment order for", From: cur.Status}
	}
	s.log.Warn("orphaned payment order after lost race", "booking_id", b.ID, "orphan_order_id", orderID, "order_id", *cur.PaymentOrderRef)
	return OrderResult{OrderID: *cur.PaymentOrderRef, AmountCents: cur.Price.TotalCents}, nil
}

// ConfirmPayment applies a captured payment to a booking.  It is idempotent:
// confirming a CONFIRMED booking returns AlreadyConfirmed and touches
// nothing.  If the seats were lost before the payment arrived the booking
// becomes FAILED and ErrExpiredReservation asks for a refund.
func (s *Service) ConfirmPayment(ctx context.Context, bookingID uint64, paymentRef string, payload []byte) (ConfirmResult, error) {
	b, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return ConfirmResult{}, err
	}
	if b.Status == model.StatusConfirmed {
		return ConfirmResult{Booking: b, AlreadyConfirmed: true}, nil
	}
	if err := s.checkTransition("confirm", b.Status, model.StatusConfirmed); err != nil {
		return ConfirmResult{}, err
	}

	held, err := s.seats.IsStillReservedForOwner(ctx, b.ShowtimeID, b.Seats, b.Number)
	if err != nil {
		return ConfirmResult{}, fmt.Errorf("validate seats: %w", err)
	}
	if !held {
		return s.failLostReservation(ctx, b, paymentRef, payload)
	}
	promoted, err := s.seats.ConfirmSeats(ctx, b.ShowtimeID, b.Seats, b.Number)
	if err != nil {
		return ConfirmResult{}, fmt.Errorf("confirm seats: %w", err)
	}
	if !promoted {
		return s.failLostReservation(ctx, b, paymentRef, payload)
	}

	now := s.now()
	won, err := s.repo.Transition(ctx, model.StatusChange{
		BookingID:   b.ID,
		From:        model.StatusPending,
		To:          model.StatusConfirmed,
		PaymentRef:  &paymentRef,
		ConfirmedAt: &now,
		At:          now,
		Audit: &model.Transaction{
			BookingID:   b.ID,
			Kind:        model.TxPaymentSuccess,
			AmountCents: b.Price.TotalCents,
			GatewayRef:  paymentRef,
			RawPayload:  payload,
			CreatedAt:   now,
		},
	})
	if err != nil {
		// The seats stay CONFIRMED for this booking number; a redelivered
		// confirmation finishes the commit, otherwise the sweep clears them.
		s.log.Error("confirmation commit failed after seat promotion", "booking_id", b.ID, "number", b.Number, "error", err)
		return ConfirmResult{}, fmt.Errorf("commit confirmation: %w", err)
	}
	if !won {
		return s.afterLostConfirm(ctx, b)
	}

	confirmed := b.Clone()
	confirmed.Status = model.StatusConfirmed
	confirmed.PaymentRef = &paymentRef
	confirmed.ConfirmedAt = &now
	confirmed.UpdatedAt = now
	s.log.Info("booking confirmed", "booking_id", b.ID, "payment_ref", paymentRef)
	s.notify(ctx, queue.EventBookingConfirmed, confirmed)
	return ConfirmResult{Booking: confirmed}, nil
}

// afterLostConfirm handles a confirmation whose guarded commit found the
// booking no longer PENDING, after its seats were promoted.
func (s *Service) afterLostConfirm(ctx context.Context, b *model.Booking) (ConfirmResult, error) {
	cur, err := s.GetBooking(ctx, b.ID)
	if err != nil {
		return ConfirmResult{}, err
	}
	if cur.Status == model.StatusConfirmed {
		return ConfirmResult{Booking: cur, AlreadyConfirmed: true}, nil
	}
	if _, err := s.seats.ForceReleaseSeats(context.WithoutCancel(ctx), b.ShowtimeID, b.Seats, b.Number); err != nil {
		s.log.Error("release promoted seats of lost confirmation", "booking_id", b.ID, "error", err)
	}
	s.log.Warn("payment arrived for booking that left PENDING", "booking_id", b.ID, "status", cur.Status)
	return ConfirmResult{}, ErrExpiredReservation
}

// failLostReservation moves a PENDING booking whose seats are gone to FAILED.
func (s *Service) failLostReservation(ctx context.Context, b *model.Booking, paymentRef string, payload []byte) (ConfirmResult, error) {
	now := s.now()
	_, err := s.terminate(ctx, b, terminal{
		op:     "fail",
		to:     model.StatusFailed,
		reason: reasonLostReservation,
		event:  queue.EventBookingFailed,
		audit: &model.Transaction{
			BookingID:   b.ID,
			Kind:        model.TxPaymentFailure,
			AmountCents: b.Price.TotalCents,
			GatewayRef:  paymentRef,
			RawPayload:  payload,
			CreatedAt:   now,
		},
	})
	if err == nil {
		s.log.Warn("payment for lost reservation, refund required", "booking_id", b.ID, "payment_ref", paymentRef)
		return ConfirmResult{}, ErrExpiredReservation
	}
	var ite *InvalidTransitionError
	if !errors.As(err, &ite) {
		return ConfirmResult{}, err
	}
	if ite.From != model.StatusConfirmed {
		return ConfirmResult{}, ErrExpiredReservation
	}
	// A concurrent confirmation got there first.
	cur, err := s.GetBooking(ctx, b.ID)
	if err != nil {
		return ConfirmResult{}, err
	}
	return ConfirmResult{Booking: cur, AlreadyConfirmed: true}, nil
}

// ConfirmOrderPayment confirms a payment reported against orderID, which
// must be the booking's payment order.
func (s *Service) ConfirmOrderPayment(ctx context.Context, bookingID uint64, orderID, paymentID string, payload []byte) (ConfirmResult, error) {
	b, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return ConfirmResult{}, err
	}
	if b.PaymentOrderRef == nil || *b.PaymentOrderRef != orderID {
		return ConfirmResult{}, ErrOrderMismatch
	}
	return s.ConfirmPayment(ctx, bookingID, paymentID, payload)
}

// VerifyAndConfirm checks the gateway signature of a browser callback
// before confirming.  A bad signature fails a PENDING booking and is
// recorded; a CONFIRMED booking is never downgraded.
func (s *Service) VerifyAndConfirm(ctx context.Context, bookingID uint64, orderID, paymentID, signature string, payload []byte) (ConfirmResult, error) {
	b, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return ConfirmResult{}, err
	}
	if b.PaymentOrderRef == nil || *b.PaymentOrderRef != orderID {
		return ConfirmResult{}, ErrOrderMismatch
	}
	if s.gateway.VerifySignature(orderID, paymentID, signature) {
		return s.ConfirmPayment(ctx, bookingID, paymentID, payload)
	}

	now := s.now()
	audit := &model.Transaction{
		BookingID:   b.ID,
		Kind:        model.TxSignatureInvalid,
		AmountCents: b.Price.TotalCents,
		GatewayRef:  paymentID,
		RawPayload:  payload,
		CreatedAt:   now,
	}
	s.log.Warn("invalid payment signature", "booking_id", b.ID, "order_id", orderID, "payment_id", paymentID)
	if b.Status != model.StatusPending {
		if err := s.repo.AppendTransaction(ctx, audit); err != nil {
			s.log.Error("record invalid signature", "booking_id", b.ID, "error", err)
		}
		return ConfirmResult{}, ErrSignatureInvalid
	}
	_, err = s.terminate(ctx, b, terminal{
		op:     "fail",
		to:     model.StatusFailed,
		reason: "payment signature invalid",
		event:  queue.EventBookingFailed,
		audit:  audit,
	})
	if err != nil && !errors.Is(err, ErrInvalidStateTransition) {
		s.log.Error("fail booking after invalid signature", "booking_id", b.ID, "error", err)
	}
	return ConfirmResult{}, ErrSignatureInvalid
}

// FailPayment records a gateway-reported payment failure.  The booking
// becomes FAILED and its seats are released; repeating it is a no-op.
func (s *Service) FailPayment(ctx context.Context, bookingID uint64, paymentRef, reason string, payload []byte) (*model.Booking, error) {
	b, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status == model.StatusFailed {
		return b, nil
	}
	if reason == "" {
		reason = "payment failed"
	}
	return s.terminate(ctx, b, terminal{
		op:     "fail",
		to:     model.StatusFailed,
		reason: reason,
		event:  queue.EventBookingFailed,
		audit: &model.Transaction{
			BookingID:   b.ID,
			Kind:        model.TxPaymentFailure,
			AmountCents: b.Price.TotalCents,
			GatewayRef:  paymentRef,
			RawPayload:  payload,
			CreatedAt:   s.now(),
		},
	})
}
