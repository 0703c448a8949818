// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ridehail/internal/http/handlers"
	"ridehail/internal/http/middleware"
	"ridehail/internal/infra"
	"ridehail/internal/modules/booking"
	"ridehail/internal/modules/pricing"
	"ridehail/internal/modules/triphistory"
)

type RouterDeps struct {
	Booking  *booking.Service
	Pricing  *pricing.Service
	Trips    *triphistory.Service
	Verifier infra.TokenVerifier
	// Geocoder is optional; without it clients must send coordinates.
	Geocoder handlers.Geocoder
}

func NewRouter(deps RouterDeps, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(log), middleware.Logging(log))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	bookingHandler := handlers.NewBookingHandler(deps.Booking, deps.Geocoder, log)
	estimateHandler := handlers.NewEstimateHandler(deps.Pricing, deps.Geocoder, log)
	tripHandler := handlers.NewTripHandler(deps.Trips)

	api := r.Group("/api", middleware.Auth(deps.Verifier))
	api.POST("/estimates", estimateHandler.Estimate)

	api.POST("/bookings", middleware.RequireRole(string(booking.RoleRider)), bookingHandler.Create)
	api.GET("/bookings", bookingHandler.ListMine)
	api.GET("/bookings/:id", bookingHandler.Get)
	api.PUT("/bookings/:id/accept", bookingHandler.Accept)
	api.PUT("/bookings/:id/start", bookingHandler.Start)
	api.PUT("/bookings/:id/complete", bookingHandler.Complete)
	api.PUT("/bookings/:id/cancel", bookingHandler.Cancel)

	drivers := api.Group("/drivers", middleware.RequireRole(string(booking.RoleDriver), string(booking.RoleAdmin)))
	drivers.GET("/available-bookings", bookingHandler.Available)
	drivers.GET("/bookings", bookingHandler.ListAssigned)

	api.GET("/trips", tripHandler.ListMine)

	admin := api.Group("/admin", middleware.RequireRole(string(booking.RoleAdmin)))
	admin.GET("/trips", tripHandler.Search)
	admin.GET("/drivers/:id/trips", tripHandler.DriverTrips)
	admin.GET("/bookings/:id/events", bookingHandler.Events)

	return r
}
