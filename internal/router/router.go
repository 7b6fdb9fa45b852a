// Package router registers the HTTP routes of the booking API.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/9bishal/movie-booking-system-sub000/internal/handler"
	"github.com/9bishal/movie-booking-system-sub000/internal/middleware"
)

// Routes bundles what RegisterRoutes needs.  RateLimit may be nil.
type Routes struct {
	Bookings  *handler.BookingHandler
	Probes    map[string]handler.Pinger
	JWTSecret string
	RateLimit echo.MiddlewareFunc
}

// RegisterRoutes mounts the health check, the public seat map, the gateway
// webhook and the customer booking endpoints on e.
func RegisterRoutes(e *echo.Echo, r Routes) {
	e.GET("/healthz", handler.Health(r.Probes))

	// Public: guests can look at availability, and the gateway
	// authenticates with its webhook signature instead of a JWT.
	e.GET("/v1/showtimes/:id/seats", r.Bookings.Seats)
	e.POST("/v1/webhooks/payments", r.Bookings.Webhook)

	auth := e.Group("/v1", middleware.JWTAuth(r.JWTSecret), middleware.RequireRole("CUSTOMER"))
	limited := []echo.MiddlewareFunc{}
	if r.RateLimit != nil {
		limited = append(limited, r.RateLimit)
	}
	auth.POST("/showtimes/:id/bookings", r.Bookings.Create, limited...)
	auth.GET("/my-bookings", r.Bookings.Mine)
	auth.GET("/bookings/:number", r.Bookings.Get)
	auth.POST("/bookings/:number/payment-order", r.Bookings.PaymentOrder, limited...)
	auth.POST("/bookings/:number/payment-callback", r.Bookings.PaymentCallback)
	auth.POST("/bookings/:number/cancel", r.Bookings.Cancel)
	auth.POST("/bookings/:number/abandon", r.Bookings.Abandon)
}
