package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/9bishal/movie-booking-system-sub000/internal/booking"
	"github.com/9bishal/movie-booking-system-sub000/internal/middleware"
	"github.com/9bishal/movie-booking-system-sub000/internal/model"
)

// Bookings is the booking service as the HTTP layer uses it.
// *booking.Service implements it.
type Bookings interface {
	HoldWindow() time.Duration
	GetAvailableSeats(ctx context.Context, showtimeID uint64) ([]string, error)
	CreateBooking(ctx context.Context, userID, showtimeID uint64, seatIDs []string) (*model.Booking, error)
	GetBookingByNumber(ctx context.Context, number string) (*model.Booking, error)
	GetBookingByOrder(ctx context.Context, orderID string) (*model.Booking, error)
	ListUserBookings(ctx context.Context, userID uint64) ([]model.Booking, error)
	GetOrCreatePaymentOrder(ctx context.Context, bookingID uint64) (booking.OrderResult, error)
	VerifyAndConfirm(ctx context.Context, bookingID uint64, orderID, paymentID, signature string, payload []byte) (booking.ConfirmResult, error)
	ConfirmOrderPayment(ctx context.Context, bookingID uint64, orderID, paymentID string, payload []byte) (booking.ConfirmResult, error)
	FailPayment(ctx context.Context, bookingID uint64, paymentRef, reason string, payload []byte) (*model.Booking, error)
	CancelBooking(ctx context.Context, bookingID uint64, reason string) (*model.Booking, error)
	ForceExpireBooking(ctx context.Context, bookingID uint64, reason string) (booking.ForceExpireResult, error)
}

// WebhookVerifier checks gateway webhook signatures.  *payment.Client
// implements it.
type WebhookVerifier interface {
	VerifyWebhook(body []byte, signature string) bool
}

// BookingHandler serves the customer booking endpoints and the gateway
// webhook.  Routes other than the public seat map and the webhook expect
// JWTAuth to have run.
type BookingHandler struct {
	svc      Bookings
	verifier WebhookVerifier
	log      *slog.Logger

	orderAttempts int
	orderBackoff  time.Duration
}

// NewBookingHandler returns a BookingHandler.  Payment order creation is
// retried three times, starting 200ms apart and doubling.
func NewBookingHandler(svc Bookings, verifier WebhookVerifier, logger *slog.Logger) *BookingHandler {
	if svc == nil || verifier == nil {
		panic("nil dependency passed to NewBookingHandler")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BookingHandler{
		svc:           svc,
		verifier:      verifier,
		log:           logger.With("component", "http"),
		orderAttempts: 3,
		orderBackoff:  200 * time.Millisecond,
	}
}

func showtimeParam(c echo.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	return id, err == nil && id > 0
}

// Seats handles GET /v1/showtimes/:id/seats.  The list may be a few
// seconds stale; reserving is what decides.
func (h *BookingHandler) Seats(c echo.Context) error {
	showID, ok := showtimeParam(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid showtime id"})
	}
	free, err := h.svc.GetAvailableSeats(c.Request().Context(), showID)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"showtime_id": showID, "available": free, "count": len(free)})
}

// Create handles POST /v1/showtimes/:id/bookings with a body of
// {"seat_ids": ["A1", "A2"]}.  It answers 201 with the PENDING booking or
// 409 listing the seats somebody else holds.
func (h *BookingHandler) Create(c echo.Context) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	showID, ok := showtimeParam(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid showtime id"})
	}
	var body struct {
		SeatIDs []string `json:"seat_ids"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	b, err := h.svc.CreateBooking(c.Request().Context(), userID, showID, body.SeatIDs)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"booking":      newBookingView(b),
		"hold_seconds": int(h.svc.HoldWindow() / time.Second),
	})
}

// owned loads the booking named by :number for the authenticated user.
// Someone else's booking is reported as not found.
func (h *BookingHandler) owned(c echo.Context) (*model.Booking, error) {
	userID, err := middleware.UserID(c)
	if err != nil {
		return nil, err
	}
	b, err := h.svc.GetBookingByNumber(c.Request().Context(), c.Param("number"))
	if err != nil {
		return nil, err
	}
	if b.UserID != userID {
		return nil, booking.ErrBookingNotFound
	}
	return b, nil
}

func (h *BookingHandler) ownedOrError(c echo.Context) (*model.Booking, error) {
	b, err := h.owned(c)
	if errors.Is(err, middleware.ErrNoUser) {
		return nil, c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	if err != nil {
		return nil, writeError(c, h.log, err)
	}
	return b, nil
}

// Get handles GET /v1/bookings/:number.
func (h *BookingHandler) Get(c echo.Context) error {
	b, err := h.ownedOrError(c)
	if b == nil {
		return err
	}
	return c.JSON(http.StatusOK, newBookingView(b))
}

// Mine handles GET /v1/my-bookings, newest first.
func (h *BookingHandler) Mine(c echo.Context) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	bs, err := h.svc.ListUserBookings(c.Request().Context(), userID)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"bookings": bookingViews(bs)})
}

// PaymentOrder handles POST /v1/bookings/:number/payment-order.  Calling it
// again returns the same order.
func (h *BookingHandler) PaymentOrder(c echo.Context) error {
	b, err := h.ownedOrError(c)
	if b == nil {
		return err
	}
	res, err := h.createOrder(c.Request().Context(), b.ID)
	if err != nil {
		return writeError(c, h.log, err)
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	return c.JSON(status, echo.Map{
		"booking_number": b.Number,
		"order_id":       res.OrderID,
		"amount_cents":   res.AmountCents,
		"expires_at":     b.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// createOrder retries transient gateway failures with exponential backoff.
func (h *BookingHandler) createOrder(ctx context.Context, bookingID uint64) (booking.OrderResult, error) {
	delay := h.orderBackoff
	for attempt := 1; ; attempt++ {
		res, err := h.svc.GetOrCreatePaymentOrder(ctx, bookingID)
		if err == nil || !errors.Is(err, booking.ErrGatewayUnavailable) || attempt >= h.orderAttempts {
			return res, err
		}
		h.log.Warn("payment order attempt failed", "booking_id", bookingID, "attempt", attempt, "retry_in", delay, "error", err)
		select {
		case <-ctx.Done():
			return booking.OrderResult{}, err
		case <-time.After(delay):
		}
		delay *= 2
	}
}

// PaymentCallback handles POST /v1/bookings/:number/payment-callback, the
// checkout result the browser relays.  The body carries the gateway's
// razorpay_order_id, razorpay_payment_id and razorpay_signature.
func (h *BookingHandler) PaymentCallback(c echo.Context) error {
	b, err := h.ownedOrError(c)
	if b == nil {
		return err
	}
	var body struct {
		OrderID   string `json:"razorpay_order_id"`
		PaymentID string `json:"razorpay_payment_id"`
		Signature string `json:"razorpay_signature"`
	}
	if err := c.Bind(&body); err != nil || body.OrderID == "" || body.PaymentID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "order and payment ids are required"})
	}
	payload, _ := json.Marshal(body)
	res, err := h.svc.VerifyAndConfirm(c.Request().Context(), b.ID, body.OrderID, body.PaymentID, body.Signature, payload)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"booking": newBookingView(res.Booking), "already_confirmed": res.AlreadyConfirmed})
}

// Cancel handles POST /v1/bookings/:number/cancel with an optional
// {"reason": "..."} body.
func (h *BookingHandler) Cancel(c echo.Context) error {
	b, err := h.ownedOrError(c)
	if b == nil {
		return err
	}
	var body struct {
		Reason string `json:"reason"`
	}
	_ = c.Bind(&body)
	out, err := h.svc.CancelBooking(c.Request().Context(), b.ID, body.Reason)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, newBookingView(out))
}

// Abandon handles POST /v1/bookings/:number/abandon, sent when the customer
// leaves the payment page.  The booking and the user's other PENDING
// bookings for the showtime are expired at once.
func (h *BookingHandler) Abandon(c echo.Context) error {
	b, err := h.ownedOrError(c)
	if b == nil {
		return err
	}
	res, err := h.svc.ForceExpireBooking(c.Request().Context(), b.ID, "")
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"expired": res.Expired, "released_seats": res.Released})
}
