// README: Pure geographic computation helpers (distance, validation, geohash cells).
package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/mmcloughlin/geohash"

	"ridehail/internal/types"
)

const earthRadiusKm = 6371.0

const (
	// CellPrecision is the geohash precision stored with each pickup (~1.2km x 0.6km).
	CellPrecision uint = 6
	// AreaPrecision is used when a driver asks for bookings around a point (~4.9km x 4.9km).
	AreaPrecision uint = 5
)

var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Validate rejects non-finite values and values outside [-90,90] x [-180,180].
func Validate(p types.Point) error {
	if math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0) || p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("%w: latitude %v", ErrInvalidCoordinate, p.Lat)
	}
	if math.IsNaN(p.Lng) || math.IsInf(p.Lng, 0) || p.Lng < -180 || p.Lng > 180 {
		return fmt.Errorf("%w: longitude %v", ErrInvalidCoordinate, p.Lng)
	}
	return nil
}

// DistanceKm returns the great-circle distance between a and b in kilometres.
func DistanceKm(a, b types.Point) (float64, error) {
	if err := Validate(a); err != nil {
		return 0, err
	}
	if err := Validate(b); err != nil {
		return 0, err
	}
	if a == b {
		return 0, nil
	}
	return haversineKm(a.Lat, a.Lng, b.Lat, b.Lng), nil
}

func haversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := degreesToRadians(lat2 - lat1)
	dLng := degreesToRadians(lng2 - lng1)

	rLat1 := degreesToRadians(lat1)
	rLat2 := degreesToRadians(lat2)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// Cell encodes p as a geohash of the given precision. Callers validate p first.
func Cell(p types.Point, precision uint) string {
	return geohash.EncodeWithPrecision(p.Lat, p.Lng, precision)
}

// Area returns the AreaPrecision cell containing p followed by its eight neighbours.
func Area(p types.Point) ([]string, error) {
	if err := Validate(p); err != nil {
		return nil, err
	}
	center := Cell(p, AreaPrecision)
	return append([]string{center}, geohash.Neighbors(center)...), nil
}

// AreaOf truncates a stored pickup cell to the precision used by Area.
func AreaOf(cell string) string {
	if len(cell) <= int(AreaPrecision) {
		return cell
	}
	return cell[:AreaPrecision]
}
