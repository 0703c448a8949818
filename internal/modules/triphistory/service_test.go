package triphistory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ridehail/internal/modules/booking"
	"ridehail/internal/modules/pricing"
	"ridehail/internal/types"
)

func finishTrip(t *testing.T, svc *booking.Service, riderID, driverID string) *booking.Booking {
	t.Helper()
	ctx := context.Background()
	p, d := types.Point{Lat: 12.9716, Lng: 77.5946}, types.Point{Lat: 12.9352, Lng: 77.6245}
	b, err := svc.Create(ctx, booking.Actor{ID: types.ID(riderID), Role: booking.RoleRider}, booking.CreateCommand{
		RideClass:   "comfort",
		Pickup:      booking.Place{Address: "MG Road", Point: &p},
		Destination: booking.Place{Address: "Koramangala", Point: &d},
	})
	require.NoError(t, err)
	drv := booking.Actor{ID: types.ID(driverID), Role: booking.RoleDriver}
	_, err = svc.Accept(ctx, drv, b.ID)
	require.NoError(t, err)
	_, err = svc.Start(ctx, drv, b.ID)
	require.NoError(t, err)
	done, err := svc.Complete(ctx, drv, b.ID)
	require.NoError(t, err)
	return done
}

func TestService_RecordsCompletedAndCancelledTrips(t *testing.T) {
	trips := NewService(NewMemoryStore(), nil)
	bookings := booking.NewService(booking.NewMemoryStore(), pricing.NewService(""), booking.WithTripRecorder(trips))
	ctx := context.Background()

	done := finishTrip(t, bookings, "r1", "d1")

	p, d := types.Point{Lat: 12.97, Lng: 77.59}, types.Point{Lat: 12.93, Lng: 77.62}
	b, err := bookings.Create(ctx, booking.Actor{ID: "r2", Role: booking.RoleRider}, booking.CreateCommand{
		RideClass:   "economy",
		Pickup:      booking.Place{Address: "A", Point: &p},
		Destination: booking.Place{Address: "B", Point: &d},
	})
	require.NoError(t, err)
	_, err = bookings.Accept(ctx, booking.Actor{ID: "d1", Role: booking.RoleDriver}, b.ID)
	require.NoError(t, err)
	_, err = bookings.Cancel(ctx, booking.Actor{ID: "r2", Role: booking.RoleRider}, booking.CancelCommand{BookingID: b.ID, Reason: "no longer needed"})
	require.NoError(t, err)

	mine, err := trips.ForActor(ctx, booking.Actor{ID: "d1", Role: booking.RoleDriver}, 0)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, b.ID, mine[0].BookingID, "newest first")
	assert.Equal(t, "cancelled", mine[0].Status)
	assert.Equal(t, "no longer needed", mine[0].Notes)
	assert.Equal(t, done.ID, mine[1].BookingID)
	assert.Equal(t, "completed", mine[1].Status)
	assert.Equal(t, done.Fare, mine[1].Fare)
	assert.Equal(t, "comfort", mine[1].RideClass)
	assert.NotNil(t, mine[1].CompletedAt)

	riderTrips, err := trips.ForActor(ctx, booking.Actor{ID: "r1", Role: booking.RoleRider}, 0)
	require.NoError(t, err)
	require.Len(t, riderTrips, 1)
	assert.Equal(t, types.ID("d1"), riderTrips[0].DriverID)
}

func TestService_RecordTripIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	trips := NewService(store, nil)
	now := time.Now()
	b := &booking.Booking{ID: "b1", RiderID: "r1", Status: booking.StatusCompleted, CompletedAt: &now}

	require.NoError(t, trips.RecordTrip(context.Background(), b, "d1"))
	require.NoError(t, trips.RecordTrip(context.Background(), b, "d1"))

	list, err := store.List(context.Background(), Filter{DriverID: "d1", Limit: 10})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestService_DriverTripsIsAdminOnly(t *testing.T) {
	store := NewMemoryStore()
	trips := NewService(store, nil)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 60; i++ {
		require.NoError(t, store.Append(context.Background(), &Trip{
			ID:        types.ID("t" + string(rune('A'+i))),
			BookingID: types.ID("b" + string(rune('A'+i))),
			DriverID:  "d7",
			RiderID:   "r1",
			Status:    "completed",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	_, err := trips.DriverTrips(context.Background(), booking.Actor{ID: "d7", Role: booking.RoleDriver}, "d7", 0)
	assert.ErrorIs(t, err, ErrForbidden)

	list, err := trips.DriverTrips(context.Background(), booking.Actor{ID: "a1", Role: booking.RoleAdmin}, "d7", 0)
	require.NoError(t, err)
	require.Len(t, list, DefaultLimit)
	assert.True(t, list[0].CreatedAt.After(list[1].CreatedAt))
	assert.Equal(t, base.Add(59*time.Minute), list[0].CreatedAt)

	_, err = trips.ForActor(context.Background(), booking.Actor{ID: "a1", Role: booking.RoleAdmin}, 0)
	assert.ErrorIs(t, err, ErrForbidden)
}

// stalledStore never answers until the caller's context gives up.
type stalledStore struct{ Store }

func (stalledStore) List(ctx context.Context, _ Filter) ([]*Trip, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (stalledStore) Append(ctx context.Context, _ *Trip) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestService_StoreTimeoutIsUnavailable(t *testing.T) {
	trips := NewService(stalledStore{Store: NewMemoryStore()}, nil, WithStoreTimeout(20*time.Millisecond))
	ctx := context.Background()

	start := time.Now()
	_, err := trips.ForActor(ctx, booking.Actor{ID: "d1", Role: booking.RoleDriver}, 0)
	assert.ErrorIs(t, err, booking.ErrStoreUnavailable)
	assert.Less(t, time.Since(start), time.Second)

	_, err = trips.DriverTrips(ctx, booking.Actor{ID: "a1", Role: booking.RoleAdmin}, "d1", 0)
	assert.ErrorIs(t, err, booking.ErrStoreUnavailable)

	_, err = trips.Search(ctx, booking.Actor{ID: "a1", Role: booking.RoleAdmin}, Filter{})
	assert.ErrorIs(t, err, booking.ErrStoreUnavailable)

	err = trips.RecordTrip(ctx, &booking.Booking{ID: "b1", RiderID: "r1", Status: booking.StatusCompleted}, "d1")
	assert.ErrorIs(t, err, booking.ErrStoreUnavailable)
}

func TestService_SearchFiltersLedger(t *testing.T) {
	store := NewMemoryStore()
	trips := NewService(store, nil)
	ctx := context.Background()
	base := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	seed := []struct {
		driver, rider, status string
	}{
		{"d1", "r1", "completed"},
		{"d1", "r2", "cancelled"},
		{"d2", "r1", "completed"},
		{"d2", "r2", "completed"},
	}
	for i, tr := range seed {
		require.NoError(t, store.Append(ctx, &Trip{
			ID:        types.ID("t" + string(rune('0'+i))),
			BookingID: types.ID("b" + string(rune('0'+i))),
			DriverID:  types.ID(tr.driver),
			RiderID:   types.ID(tr.rider),
			Status:    tr.status,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	admin := booking.Actor{ID: "a1", Role: booking.RoleAdmin}

	tests := []struct {
		name   string
		filter Filter
		want   []types.ID
	}{
		{"everything newest first", Filter{}, []types.ID{"b3", "b2", "b1", "b0"}},
		{"by rider", Filter{RiderID: "r1"}, []types.ID{"b2", "b0"}},
		{"by status", Filter{Status: "cancelled"}, []types.ID{"b1"}},
		{"driver and status", Filter{DriverID: "d2", Status: "completed"}, []types.ID{"b3", "b2"}},
		{"limit", Filter{Limit: 1}, []types.ID{"b3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := trips.Search(ctx, admin, tt.filter)
			require.NoError(t, err)
			got := make([]types.ID, len(list))
			for i, tr := range list {
				got[i] = tr.BookingID
			}
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := trips.Search(ctx, admin, Filter{Status: "requested"})
	assert.ErrorIs(t, err, booking.ErrBadRequest)
	_, err = trips.Search(ctx, booking.Actor{ID: "r1", Role: booking.RoleRider}, Filter{RiderID: "r1"})
	assert.ErrorIs(t, err, ErrForbidden)
}
