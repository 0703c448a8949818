package pricing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ridehail/internal/modules/geo"
	"ridehail/internal/types"
)

var (
	mgRoad      = types.Point{Lat: 12.9716, Lng: 77.5946}
	koramangala = types.Point{Lat: 12.9352, Lng: 77.6245}
)

func TestService_QuoteEconomyCityRide(t *testing.T) {
	s := NewService("")

	q, err := s.Quote(mgRoad, koramangala, Economy)
	require.NoError(t, err)

	assert.Equal(t, Economy, q.RideClass)
	assert.InDelta(t, 5.2, q.DistanceKm, 0.15)
	assert.Equal(t, q.DistanceKm*10, q.Fare.Amount)
	assert.InDelta(t, 52, q.Fare.Amount, 1.5)
	assert.Equal(t, 16, q.DurationMinutes)
	assert.Equal(t, "16 min", q.DurationText)
	assert.Equal(t, types.CurrencyINR, q.Fare.Currency)
}

func TestService_QuoteSamePoint(t *testing.T) {
	s := NewService("INR")
	for _, c := range Classes() {
		q, err := s.Quote(mgRoad, mgRoad, c)
		require.NoError(t, err)
		assert.Zero(t, q.DistanceKm)
		assert.Zero(t, q.Fare.Amount)
		assert.Equal(t, 4, q.DurationMinutes, "class %s", c)
	}
}

func TestService_QuoteInvalidCoordinate(t *testing.T) {
	s := NewService("")
	_, err := s.Quote(types.Point{Lat: 120, Lng: 0}, koramangala, Economy)
	assert.True(t, errors.Is(err, geo.ErrInvalidCoordinate))

	_, err = s.Options(mgRoad, types.Point{Lat: 0, Lng: -181})
	assert.True(t, errors.Is(err, geo.ErrInvalidCoordinate))
}

func TestService_UnknownClassFallsBackToEconomy(t *testing.T) {
	s := NewService("")

	unknown, err := s.Quote(mgRoad, koramangala, RideClass("hovercraft"))
	require.NoError(t, err)
	economy, err := s.Quote(mgRoad, koramangala, Economy)
	require.NoError(t, err)

	assert.Equal(t, economy, unknown)
	assert.Equal(t, profiles[Economy], ProfileFor("hovercraft"))
}

func TestService_FareIsLinearInDistanceAndIgnoresTraffic(t *testing.T) {
	s := NewService("")
	for _, c := range Classes() {
		p := ProfileFor(c)
		q := s.quoteDistance(7.25, p)
		assert.Equal(t, 7.25*p.RatePerKm, q.Fare.Amount, "class %s", c)
	}
}

func TestService_DurationMonotonicInDistance(t *testing.T) {
	p := ProfileFor(Group)
	prev := EstimateMinutes(0, p)
	for d := 0.5; d <= 120; d += 0.5 {
		m := EstimateMinutes(d, p)
		if m < prev {
			t.Fatalf("duration decreased at %.1f km: %d < %d", d, m, prev)
		}
		prev = m
	}
}

func TestService_Options(t *testing.T) {
	s := NewService("")
	opts, err := s.Options(mgRoad, koramangala)
	require.NoError(t, err)
	require.Len(t, opts, 4)

	want := []RideClass{Economy, Comfort, Group, Premium}
	for i, q := range opts {
		assert.Equal(t, want[i], q.RideClass)
		assert.Equal(t, opts[0].DistanceKm, q.DistanceKm)

		single, err := s.Quote(mgRoad, koramangala, q.RideClass)
		require.NoError(t, err)
		assert.Equal(t, single, q)
	}
	assert.Less(t, opts[0].Fare.Amount, opts[3].Fare.Amount)
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		minutes int
		want    string
	}{
		{0, "0 min"},
		{4, "4 min"},
		{59, "59 min"},
		{60, "1 hr"},
		{61, "1 hr 1 min"},
		{125, "2 hr 5 min"},
		{180, "3 hr"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatDuration(tt.minutes))
		})
	}
}

func TestParseRideClass(t *testing.T) {
	tests := []struct {
		in   string
		want RideClass
		ok   bool
	}{
		{"economy", Economy, true},
		{"UberX", Economy, true},
		{" Comfort ", Comfort, true},
		{"uberxl", Group, true},
		{"GROUP", Group, true},
		{"Black", Premium, true},
		{"premium", Premium, true},
		{"", "", false},
		{"helicopter", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseRideClass(tt.in)
		assert.Equal(t, tt.ok, ok, "input %q", tt.in)
		assert.Equal(t, tt.want, got, "input %q", tt.in)
	}
}
