// README: Trip ledger entries written when a booking finishes.
package triphistory

import (
	"time"

	"ridehail/internal/types"
)

type Trip struct {
	ID                 types.ID    `json:"id" bson:"_id"`
	BookingID          types.ID    `json:"booking_id" bson:"booking_id"`
	DriverID           types.ID    `json:"driver_id" bson:"driver_id"`
	RiderID            types.ID    `json:"rider_id" bson:"rider_id"`
	PickupAddress      string      `json:"pickup_address" bson:"pickup_address"`
	DestinationAddress string      `json:"destination_address" bson:"destination_address"`
	DistanceKm         float64     `json:"distance_km" bson:"distance_km"`
	DurationMinutes    int         `json:"duration_minutes" bson:"duration_minutes"`
	Fare               types.Money `json:"fare" bson:"fare"`
	RideClass          string      `json:"ride_class" bson:"ride_class"`
	Status             string      `json:"status" bson:"status"`
	StartedAt          *time.Time  `json:"started_at,omitempty" bson:"started_at,omitempty"`
	CompletedAt        *time.Time  `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
	Notes              string      `json:"notes,omitempty" bson:"notes,omitempty"`
	CreatedAt          time.Time   `json:"created_at" bson:"created_at"`
}
