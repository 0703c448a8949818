// README: Booking lifecycle handlers for riders, drivers and admins.
package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ridehail/internal/modules/booking"
	"ridehail/internal/modules/pricing"
	"ridehail/internal/types"
)

type BookingHandler struct {
	booking  *booking.Service
	geocoder Geocoder
	log      *zap.Logger
}

func NewBookingHandler(svc *booking.Service, g Geocoder, log *zap.Logger) *BookingHandler {
	return &BookingHandler{booking: svc, geocoder: g, log: log}
}

// bookingView is what clients poll: the booking plus display fields.
type bookingView struct {
	*booking.Booking
	RideLabel     string `json:"ride_label"`
	EstimatedTime string `json:"estimated_time"`
}

func viewOf(b *booking.Booking) bookingView {
	return bookingView{
		Booking:       b,
		RideLabel:     pricing.ProfileFor(b.RideClass).Label,
		EstimatedTime: pricing.FormatDuration(b.DurationMinutes),
	}
}

func viewsOf(bs []*booking.Booking) []bookingView {
	out := make([]bookingView, 0, len(bs))
	for _, b := range bs {
		out = append(out, viewOf(b))
	}
	return out
}

type createBookingReq struct {
	RideClass   string   `json:"ride_class"`
	Pickup      placeReq `json:"pickup"`
	Destination placeReq `json:"destination"`
	QuotedFare  *float64 `json:"quoted_fare"`
}

func (h *BookingHandler) Create(c *gin.Context) {
	var req createBookingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	pickup, _ := resolve(c.Request.Context(), h.geocoder, h.log, req.Pickup)
	dest, _ := resolve(c.Request.Context(), h.geocoder, h.log, req.Destination)

	b, err := h.booking.Create(c.Request.Context(), actorFrom(c), booking.CreateCommand{
		RideClass:   req.RideClass,
		Pickup:      booking.Place{Address: req.Pickup.Address, Point: pickup},
		Destination: booking.Place{Address: req.Destination.Address, Point: dest},
		QuotedFare:  req.QuotedFare,
	})
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, viewOf(b))
}

func (h *BookingHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	b, err := h.booking.View(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, viewOf(b))
}

// ListMine lists the calling rider's bookings. Admins may pass ?rider_id=.
func (h *BookingHandler) ListMine(c *gin.Context) {
	actor := actorFrom(c)
	riderID := actor.ID
	if actor.Role == booking.RoleAdmin && c.Query("rider_id") != "" {
		riderID = types.ID(c.Query("rider_id"))
	}
	bs, err := h.booking.ListByRider(c.Request.Context(), actor, riderID)
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"bookings": viewsOf(bs)})
}

func (h *BookingHandler) Accept(c *gin.Context) {
	h.transition(c, h.booking.Accept)
}

func (h *BookingHandler) Start(c *gin.Context) {
	h.transition(c, h.booking.Start)
}

func (h *BookingHandler) Complete(c *gin.Context) {
	h.transition(c, h.booking.Complete)
}

type cancelReq struct {
	Reason string `json:"reason"`
}

func (h *BookingHandler) Cancel(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req cancelReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	b, err := h.booking.Cancel(c.Request.Context(), actorFrom(c), booking.CancelCommand{BookingID: id, Reason: req.Reason})
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, viewOf(b))
}

// Available is the driver feed. ?lat=&lng= narrows it to nearby pickups.
func (h *BookingHandler) Available(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	near, ok := queryPoint(c)
	if !ok {
		return
	}
	bs, err := h.booking.ListAvailable(c.Request.Context(), actorFrom(c), limit, near)
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"bookings": viewsOf(bs)})
}

func (h *BookingHandler) ListAssigned(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	actor := actorFrom(c)
	bs, err := h.booking.ListByDriver(c.Request.Context(), actor, actor.ID, limit)
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"bookings": viewsOf(bs)})
}

func (h *BookingHandler) Events(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	events, err := h.booking.Events(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"events": events})
}

type transitionFunc func(ctx context.Context, actor booking.Actor, id types.ID) (*booking.Booking, error)

func (h *BookingHandler) transition(c *gin.Context, fn transitionFunc) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	b, err := fn(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, viewOf(b))
}

func queryPoint(c *gin.Context) (*types.Point, bool) {
	rawLat, rawLng := c.Query("lat"), c.Query("lng")
	if rawLat == "" && rawLng == "" {
		return nil, true
	}
	lat, errLat := strconv.ParseFloat(rawLat, 64)
	lng, errLng := strconv.ParseFloat(rawLng, 64)
	if errLat != nil || errLng != nil {
		writeError(c, http.StatusBadRequest, "lat and lng must both be numbers")
		return nil, false
	}
	return &types.Point{Lat: lat, Lng: lng}, true
}
