// README: Trip history handlers.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"ridehail/internal/modules/triphistory"
	"ridehail/internal/types"
)

type TripHandler struct {
	trips *triphistory.Service
}

func NewTripHandler(svc *triphistory.Service) *TripHandler {
	return &TripHandler{trips: svc}
}

func (h *TripHandler) ListMine(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	trips, err := h.trips.ForActor(c.Request.Context(), actorFrom(c), limit)
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"trips": trips})
}

func (h *TripHandler) DriverTrips(c *gin.Context) {
	driverID := strings.TrimSpace(c.Param("id"))
	if driverID == "" {
		writeError(c, http.StatusBadRequest, "missing driver id")
		return
	}
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	trips, err := h.trips.DriverTrips(c.Request.Context(), actorFrom(c), types.ID(driverID), limit)
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"trips": trips})
}

// Search serves the admin ledger view: ?driver_id=&rider_id=&status=&limit=.
func (h *TripHandler) Search(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	trips, err := h.trips.Search(c.Request.Context(), actorFrom(c), triphistory.Filter{
		DriverID: types.ID(strings.TrimSpace(c.Query("driver_id"))),
		RiderID:  types.ID(strings.TrimSpace(c.Query("rider_id"))),
		Status:   strings.TrimSpace(c.Query("status")),
		Limit:    limit,
	})
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"trips": trips})
}
