package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/9bishal/movie-booking-system-sub000/internal/booking"
	"github.com/9bishal/movie-booking-system-sub000/internal/payment"
)

const maxWebhookBody = 1 << 20

// Webhook handles POST /v1/webhooks/payments.  The body must carry a valid
// X-Razorpay-Signature.  Anything the booking core has settled, or cannot
// act on, is acknowledged with 200 so the gateway stops redelivering;
// only transient failures answer 5xx.
func (h *BookingHandler) Webhook(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unreadable body"})
	}
	if !h.verifier.VerifyWebhook(body, c.Request().Header.Get("X-Razorpay-Signature")) {
		h.log.Warn("webhook signature rejected", "remote", c.RealIP())
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid signature"})
	}
	ev, err := payment.ParseWebhook(body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	if ev.Event != payment.EventPaymentCaptured && ev.Event != payment.EventPaymentFailed {
		return c.JSON(http.StatusOK, echo.Map{"ignored": ev.Event})
	}

	ctx := c.Request().Context()
	p := ev.Payment()
	b, err := h.svc.GetBookingByOrder(ctx, p.OrderID)
	if errors.Is(err, booking.ErrBookingNotFound) {
		h.log.Warn("webhook for unknown order", "event", ev.Event, "order_id", p.OrderID)
		return c.JSON(http.StatusOK, echo.Map{"ignored": ev.Event})
	}
	if err != nil {
		return writeError(c, h.log, err)
	}

	if ev.Event == payment.EventPaymentFailed {
		out, err := h.svc.FailPayment(ctx, b.ID, p.ID, p.ErrorDescription, body)
		if errors.Is(err, booking.ErrInvalidStateTransition) {
			return c.JSON(http.StatusOK, echo.Map{"ignored": ev.Event, "error": err.Error()})
		}
		if err != nil {
			return writeError(c, h.log, err)
		}
		return c.JSON(http.StatusOK, echo.Map{"status": out.Status})
	}

	res, err := h.svc.ConfirmOrderPayment(ctx, b.ID, p.OrderID, p.ID, body)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, echo.Map{"status": res.Booking.Status, "already_confirmed": res.AlreadyConfirmed})
	case errors.Is(err, booking.ErrExpiredReservation):
		h.log.Warn("captured payment needs refund", "booking_id", b.ID, "payment_id", p.ID)
		return c.JSON(http.StatusOK, echo.Map{"status": "FAILED", "refund_required": true})
	case errors.Is(err, booking.ErrInvalidStateTransition), errors.Is(err, booking.ErrOrderMismatch):
		h.log.Warn("captured payment for settled booking, refund required", "booking_id", b.ID, "payment_id", p.ID, "error", err)
		return c.JSON(http.StatusOK, echo.Map{"ignored": ev.Event, "refund_required": true})
	}
	return writeError(c, h.log, err)
}
