// README: Pricing service computes fare and duration estimates.
package pricing

import (
	"fmt"
	"math"

	"ridehail/internal/modules/geo"
	"ridehail/internal/types"
)

type Service struct {
	currency string
}

func NewService(currency string) *Service {
	if currency == "" {
		currency = types.CurrencyINR
	}
	return &Service{currency: currency}
}

// Quote estimates a single ride class. The distance is rounded to two decimals
// before it is used, so the booking record and the estimate agree on every field.
func (s *Service) Quote(pickup, destination types.Point, class RideClass) (Quote, error) {
	d, err := geo.DistanceKm(pickup, destination)
	if err != nil {
		return Quote{}, err
	}
	return s.quoteDistance(roundTo(d, 2), ProfileFor(class)), nil
}

// Options quotes every ride class in display order.
func (s *Service) Options(pickup, destination types.Point) ([]Quote, error) {
	d, err := geo.DistanceKm(pickup, destination)
	if err != nil {
		return nil, err
	}
	d = roundTo(d, 2)
	out := make([]Quote, 0, len(displayOrder))
	for _, c := range displayOrder {
		out = append(out, s.quoteDistance(d, profiles[c]))
	}
	return out, nil
}

func (s *Service) quoteDistance(d float64, p Profile) Quote {
	minutes := EstimateMinutes(d, p)
	return Quote{
		RideClass:       p.Class,
		DistanceKm:      d,
		DurationMinutes: minutes,
		DurationText:    FormatDuration(minutes),
		Fare:            types.Money{Amount: d * p.RatePerKm, Currency: s.currency},
	}
}

// EstimateMinutes applies the traffic factor and pickup buffer to free-flow driving time.
func EstimateMinutes(distanceKm float64, p Profile) int {
	driving := distanceKm / p.BaseSpeedKmh * 60
	return int(math.Round(driving*TrafficFactor + PickupBufferMinutes))
}

func FormatDuration(minutes int) string {
	if minutes < 60 {
		return fmt.Sprintf("%d min", minutes)
	}
	h, r := minutes/60, minutes%60
	if r == 0 {
		return fmt.Sprintf("%d hr", h)
	}
	return fmt.Sprintf("%d hr %d min", h, r)
}

func roundTo(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
