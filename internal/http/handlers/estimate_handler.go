// README: Fare and time estimates for one ride class or every option.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ridehail/internal/modules/pricing"
	"ridehail/internal/types"
)

type Estimator interface {
	Quote(pickup, destination types.Point, class pricing.RideClass) (pricing.Quote, error)
	Options(pickup, destination types.Point) ([]pricing.Quote, error)
}

type EstimateHandler struct {
	pricing  Estimator
	geocoder Geocoder
	log      *zap.Logger
}

// NewEstimateHandler builds the handler; geocoder may be nil, in which case
// requests must carry coordinates.
func NewEstimateHandler(p Estimator, g Geocoder, log *zap.Logger) *EstimateHandler {
	return &EstimateHandler{pricing: p, geocoder: g, log: log}
}

type estimateReq struct {
	Pickup      placeReq `json:"pickup"`
	Destination placeReq `json:"destination"`
	RideClass   string   `json:"ride_class"`
}

type optionView struct {
	pricing.Quote
	Label         string `json:"label"`
	Description   string `json:"description"`
	Capacity      int    `json:"capacity"`
	EstimatedTime string `json:"estimated_time"`
}

func newOptionView(q pricing.Quote) optionView {
	p := pricing.ProfileFor(q.RideClass)
	return optionView{
		Quote:         q,
		Label:         p.Label,
		Description:   p.Description,
		Capacity:      p.Capacity,
		EstimatedTime: q.DurationText,
	}
}

func (h *EstimateHandler) Estimate(c *gin.Context) {
	var req estimateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	pickup, ok := resolve(c.Request.Context(), h.geocoder, h.log, req.Pickup)
	if !ok {
		writeJSON(c, http.StatusOK, gin.H{"status": "calculating"})
		return
	}
	dest, ok := resolve(c.Request.Context(), h.geocoder, h.log, req.Destination)
	if !ok {
		writeJSON(c, http.StatusOK, gin.H{"status": "calculating"})
		return
	}

	if req.RideClass != "" {
		class, _ := pricing.ParseRideClass(req.RideClass)
		q, err := h.pricing.Quote(*pickup, *dest, class)
		if err != nil {
			writeBookingError(c, err)
			return
		}
		writeJSON(c, http.StatusOK, gin.H{"status": "ready", "estimate": newOptionView(q)})
		return
	}

	quotes, err := h.pricing.Options(*pickup, *dest)
	if err != nil {
		writeBookingError(c, err)
		return
	}
	options := make([]optionView, 0, len(quotes))
	for _, q := range quotes {
		options = append(options, newOptionView(q))
	}
	writeJSON(c, http.StatusOK, gin.H{"status": "ready", "options": options})
}

// resolve returns the place's coordinates, geocoding the address when they are
// absent. Lookup failures count as unresolved.
func resolve(ctx context.Context, g Geocoder, log *zap.Logger, p placeReq) (*types.Point, bool) {
	if pt := p.point(); pt != nil {
		return pt, true
	}
	if g == nil || p.Address == "" {
		return nil, false
	}
	pt, ok, err := g.Geocode(ctx, p.Address)
	if err != nil {
		log.Warn("geocode failed", zap.String("address", p.Address), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return &pt, true
}
