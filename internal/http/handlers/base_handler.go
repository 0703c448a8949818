// README: Base handler utilities (JSON helpers, caller identity, error mapping).
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"ridehail/internal/http/middleware"
	"ridehail/internal/modules/booking"
	"ridehail/internal/modules/geo"
	"ridehail/internal/modules/triphistory"
	"ridehail/internal/types"
)

// retryAfterSeconds is sent with 503 responses when the booking store is unavailable.
const retryAfterSeconds = "2"

// Geocoder resolves rider-entered addresses; ok is false when nothing matched.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (types.Point, bool, error)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type pointReq struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

type placeReq struct {
	Address  string    `json:"address"`
	Location *pointReq `json:"location"`
}

func (p placeReq) point() *types.Point {
	if p.Location == nil || p.Location.Lat == nil || p.Location.Lng == nil {
		return nil
	}
	return &types.Point{Lat: *p.Location.Lat, Lng: *p.Location.Lng}
}

// isValidID accepts the UUIDs minted by the stores.
func isValidID(v string) bool {
	_, err := uuid.Parse(v)
	return err == nil
}

func actorFrom(c *gin.Context) booking.Actor {
	return booking.Actor{
		ID:   types.ID(middleware.CallerUID(c)),
		Role: booking.Role(middleware.CallerRole(c)),
	}
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// writeBookingError maps domain errors to HTTP responses in one place.
func writeBookingError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, booking.ErrBadRequest), errors.Is(err, geo.ErrInvalidCoordinate):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, booking.ErrForbidden), errors.Is(err, triphistory.ErrForbidden):
		writeError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, booking.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, booking.ErrInvalidTransition):
		writeJSON(c, http.StatusConflict, errorResponse{Error: err.Error(), Code: "invalid_transition"})
	case errors.Is(err, booking.ErrConflict):
		writeJSON(c, http.StatusConflict, errorResponse{Error: "booking already claimed", Code: "conflict"})
	case errors.Is(err, booking.ErrStoreUnavailable):
		c.Header("Retry-After", retryAfterSeconds)
		writeError(c, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.Canceled):
		writeError(c, middleware.StatusClientClosedRequest, "client closed request")
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

// pathID reads and validates the :id route parameter, writing 400 on failure.
func pathID(c *gin.Context) (types.ID, bool) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid id")
		return "", false
	}
	return types.ID(id), true
}

// queryLimit parses ?limit=; zero means "use the default".
func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(c, http.StatusBadRequest, "invalid limit")
		return 0, false
	}
	return n, true
}
