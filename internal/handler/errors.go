package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/9bishal/movie-booking-system-sub000/internal/booking"
)

// writeError maps booking errors onto HTTP responses.  Anything unknown is
// logged and answered with 500.
func writeError(c echo.Context, log *slog.Logger, err error) error {
	var unavailable *booking.SeatsUnavailableError
	var invalid *booking.InvalidTransitionError
	switch {
	case errors.As(err, &unavailable):
		return c.JSON(http.StatusConflict, echo.Map{"error": "seats unavailable", "unavailable": unavailable.Seats})
	case errors.As(err, &invalid):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error(), "status": invalid.From})
	case errors.Is(err, booking.ErrBookingNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "booking not found"})
	case errors.Is(err, booking.ErrShowtimeNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "showtime not found"})
	case errors.Is(err, booking.ErrNoSeats), errors.Is(err, booking.ErrTooManySeats), errors.Is(err, booking.ErrUnknownSeats):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, booking.ErrExpiredReservation):
		return c.JSON(http.StatusGone, echo.Map{"error": "reservation expired", "refund_required": true})
	case errors.Is(err, booking.ErrNotExpired):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case errors.Is(err, booking.ErrGatewayUnavailable):
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "payment gateway unavailable"})
	case errors.Is(err, booking.ErrSignatureInvalid), errors.Is(err, booking.ErrOrderMismatch):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	log.Error("request failed", "method", c.Request().Method, "path", c.Path(), "error", err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}
