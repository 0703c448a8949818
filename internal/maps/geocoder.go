// README: Google Maps geocoding for rider-entered addresses.
package maps

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"googlemaps.github.io/maps"

	"ridehail/internal/types"
)

// ErrNoResult is returned by ReverseGeocode when the point has no address.
var ErrNoResult = errors.New("no geocoding result")

// Geocoder handles interactions with the Google Maps Geocoding API.
type Geocoder struct {
	client   *maps.Client
	region   string
	language string
}

type Option func(*Geocoder)

// WithRegion biases results towards a ccTLD region such as "in".
func WithRegion(region string) Option { return func(g *Geocoder) { g.region = region } }

func WithLanguage(lang string) Option { return func(g *Geocoder) { g.language = lang } }

func NewGeocoder(apiKey string, opts ...Option) (*Geocoder, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	g := &Geocoder{client: client, region: "in", language: "en"}
	for _, o := range opts {
		o(g)
	}
	return g, nil
}

// Geocode resolves an address to at most one point. ok is false when the
// address did not resolve.
func (g *Geocoder) Geocode(ctx context.Context, address string) (types.Point, bool, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return types.Point{}, false, nil
	}
	results, err := g.client.Geocode(ctx, &maps.GeocodingRequest{
		Address:  address,
		Region:   g.region,
		Language: g.language,
	})
	if isZeroResults(err) {
		return types.Point{}, false, nil
	}
	if err != nil {
		return types.Point{}, false, fmt.Errorf("maps api error: %w", err)
	}
	if len(results) == 0 {
		return types.Point{}, false, nil
	}
	loc := results[0].Geometry.Location
	return types.Point{Lat: loc.Lat, Lng: loc.Lng}, true, nil
}

func (g *Geocoder) ReverseGeocode(ctx context.Context, p types.Point) (string, error) {
	results, err := g.client.ReverseGeocode(ctx, &maps.GeocodingRequest{
		LatLng:   &maps.LatLng{Lat: p.Lat, Lng: p.Lng},
		Language: g.language,
	})
	if isZeroResults(err) {
		return "", ErrNoResult
	}
	if err != nil {
		return "", fmt.Errorf("maps api error: %w", err)
	}
	if len(results) == 0 {
		return "", ErrNoResult
	}
	return results[0].FormattedAddress, nil
}

func isZeroResults(err error) bool {
	return err != nil && strings.Contains(err.Error(), "ZERO_RESULTS")
}
