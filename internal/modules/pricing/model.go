// README: Ride classes and the per-class rate table used by the estimator.
package pricing

import (
	"strings"

	"ridehail/internal/types"
)

type RideClass string

const (
	Economy RideClass = "economy"
	Comfort RideClass = "comfort"
	Group   RideClass = "group"
	Premium RideClass = "premium"
)

const (
	// TrafficFactor stretches driving time only; fare is distance based.
	TrafficFactor       = 1.3
	PickupBufferMinutes = 4.0
)

type Profile struct {
	Class        RideClass `json:"ride_class"`
	Label        string    `json:"label"`
	Description  string    `json:"description"`
	Capacity     int       `json:"capacity"`
	RatePerKm    float64   `json:"rate_per_km"`
	BaseSpeedKmh float64   `json:"base_speed_kmh"`
}

var profiles = map[RideClass]Profile{
	Economy: {Class: Economy, Label: "UberX", Description: "Affordable, everyday rides", Capacity: 4, RatePerKm: 10, BaseSpeedKmh: 35},
	Comfort: {Class: Comfort, Label: "Comfort", Description: "Newer cars with extra legroom", Capacity: 4, RatePerKm: 13, BaseSpeedKmh: 40},
	Group:   {Class: Group, Label: "UberXL", Description: "Affordable rides for groups up to 6", Capacity: 6, RatePerKm: 15, BaseSpeedKmh: 32},
	Premium: {Class: Premium, Label: "Black", Description: "Premium rides in luxury cars", Capacity: 4, RatePerKm: 23, BaseSpeedKmh: 45},
}

var displayOrder = []RideClass{Economy, Comfort, Group, Premium}

// ParseRideClass accepts class names and their display labels, case-insensitively.
func ParseRideClass(s string) (RideClass, bool) {
	key := strings.ToLower(strings.TrimSpace(s))
	for _, c := range displayOrder {
		if key == string(c) || key == strings.ToLower(profiles[c].Label) {
			return c, true
		}
	}
	return "", false
}

// ProfileFor returns the profile for c, or the Economy profile when c is unknown.
func ProfileFor(c RideClass) Profile {
	if p, ok := profiles[c]; ok {
		return p
	}
	return profiles[Economy]
}

func Classes() []RideClass {
	out := make([]RideClass, len(displayOrder))
	copy(out, displayOrder)
	return out
}

type Quote struct {
	RideClass       RideClass   `json:"ride_class"`
	DistanceKm      float64     `json:"distance_km"`
	DurationMinutes int         `json:"duration_minutes"`
	DurationText    string      `json:"duration_text"`
	Fare            types.Money `json:"fare"`
}
