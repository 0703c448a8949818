// README: Trip history service records finished bookings and serves the ledger.
package triphistory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ridehail/internal/modules/booking"
	"ridehail/internal/types"
)

const (
	DefaultLimit      = 50
	AdminDefaultLimit = 100
	maxLimit          = 200

	defaultStoreTimeout = 3 * time.Second
)

var ErrForbidden = errors.New("operation not permitted for actor")

type Service struct {
	store   Store
	log     *zap.Logger
	now     func() time.Time
	timeout time.Duration
}

type Option func(*Service)

// WithStoreTimeout bounds every ledger store call; non-positive values keep the default.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func NewService(store Store, log *zap.Logger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		store:   store,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
		timeout: defaultStoreTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// RecordTrip implements booking.TripRecorder. Recording the same booking twice is not an error.
func (s *Service) RecordTrip(ctx context.Context, b *booking.Booking, driverID types.ID) error {
	t := &Trip{
		ID:                 types.ID(uuid.NewString()),
		BookingID:          b.ID,
		DriverID:           driverID,
		RiderID:            b.RiderID,
		PickupAddress:      b.Pickup.Address,
		DestinationAddress: b.Destination.Address,
		DistanceKm:         b.DistanceKm,
		DurationMinutes:    b.DurationMinutes,
		Fare:               b.Fare,
		RideClass:          string(b.RideClass),
		Status:             string(b.Status),
		StartedAt:          b.StartedAt,
		CompletedAt:        b.CompletedAt,
		CreatedAt:          s.now(),
	}
	if b.CancelReason != nil {
		t.Notes = *b.CancelReason
	}
	err := s.call(ctx, func(ctx context.Context) error {
		return s.store.Append(ctx, t)
	})
	if errors.Is(err, ErrDuplicate) {
		s.log.Debug("trip already recorded", zap.String("booking_id", string(b.ID)))
		return nil
	}
	return err
}

// ForActor lists the caller's own trips: drivers see trips they drove, riders trips they took.
func (s *Service) ForActor(ctx context.Context, actor booking.Actor, limit int) ([]*Trip, error) {
	f := Filter{Limit: clampLimit(limit, DefaultLimit)}
	switch actor.Role {
	case booking.RoleDriver:
		f.DriverID = actor.ID
	case booking.RoleRider:
		f.RiderID = actor.ID
	default:
		return nil, ErrForbidden
	}
	if actor.ID == "" {
		return nil, ErrForbidden
	}
	return s.list(ctx, f)
}

func (s *Service) DriverTrips(ctx context.Context, actor booking.Actor, driverID types.ID, limit int) ([]*Trip, error) {
	if actor.Role != booking.RoleAdmin {
		return nil, ErrForbidden
	}
	return s.list(ctx, Filter{DriverID: driverID, Limit: clampLimit(limit, DefaultLimit)})
}

// Search is the admin view of the whole ledger, optionally narrowed by driver, rider and status.
func (s *Service) Search(ctx context.Context, actor booking.Actor, f Filter) ([]*Trip, error) {
	if actor.Role != booking.RoleAdmin {
		return nil, ErrForbidden
	}
	switch f.Status {
	case "", string(booking.StatusCompleted), string(booking.StatusCancelled):
	default:
		return nil, fmt.Errorf("%w: unknown trip status %q", booking.ErrBadRequest, f.Status)
	}
	f.Limit = clampLimit(f.Limit, AdminDefaultLimit)
	return s.list(ctx, f)
}

func (s *Service) list(ctx context.Context, f Filter) ([]*Trip, error) {
	var out []*Trip
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		out, err = s.store.List(ctx, f)
		return err
	})
	return out, err
}

// call bounds one store call; an expired deadline is reported as booking.ErrStoreUnavailable.
func (s *Service) call(ctx context.Context, fn func(context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	err := fn(cctx)
	if err == nil || errors.Is(err, booking.ErrStoreUnavailable) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", booking.ErrStoreUnavailable, err)
	}
	return err
}

func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}
