// README: Booking service implements the lifecycle state machine on top of a Store.
package booking

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"ridehail/internal/modules/geo"
	"ridehail/internal/modules/pricing"
	"ridehail/internal/types"
)

var (
	ErrInvalidTransition = errors.New("invalid booking transition")
	ErrNotFound          = errors.New("booking not found")
	ErrConflict          = errors.New("booking state conflict")
	ErrForbidden         = errors.New("operation not permitted for actor")
	ErrStoreUnavailable  = errors.New("booking store unavailable")
	ErrBadRequest        = errors.New("bad request")
	ErrQuoteMismatch     = fmt.Errorf("%w: quoted fare does not match the current estimate", ErrBadRequest)
)

const (
	defaultStoreTimeout = 3 * time.Second
	defaultFeedLimit    = 50
	defaultFeedMaxLimit = 100
	readRetries         = 2
	quoteTolerance      = 0.01
	sideEffectTimeout   = 2 * time.Second
)

type Pricing interface {
	Quote(pickup, destination types.Point, class pricing.RideClass) (pricing.Quote, error)
}

// Publisher receives lifecycle events after a transition is stored.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// TripRecorder keeps the trip ledger for finished bookings. driverID is the
// driver that held the booking, which a cancellation has already cleared.
type TripRecorder interface {
	RecordTrip(ctx context.Context, b *Booking, driverID types.ID) error
}

type Service struct {
	store        Store
	pricing      Pricing
	events       Publisher
	trips        TripRecorder
	log          *zap.Logger
	now          func() time.Time
	storeTimeout time.Duration
	feedLimit    int
	feedMaxLimit int
}

type Option func(*Service)

func WithPublisher(p Publisher) Option { return func(s *Service) { s.events = p } }

func WithTripRecorder(r TripRecorder) Option { return func(s *Service) { s.trips = r } }

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithStoreTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

func WithFeedLimits(defaultLimit, maxLimit int) Option {
	return func(s *Service) {
		if defaultLimit > 0 {
			s.feedLimit = defaultLimit
		}
		if maxLimit > 0 {
			s.feedMaxLimit = maxLimit
		}
	}
}

func NewService(store Store, pricing Pricing, opts ...Option) *Service {
	s := &Service{
		store:        store,
		pricing:      pricing,
		log:          zap.NewNop(),
		now:          func() time.Time { return time.Now().UTC() },
		storeTimeout: defaultStoreTimeout,
		feedLimit:    defaultFeedLimit,
		feedMaxLimit: defaultFeedMaxLimit,
	}
	for _, o := range opts {
		o(s)
	}
	if s.feedLimit > s.feedMaxLimit {
		s.feedLimit = s.feedMaxLimit
	}
	return s
}

type CreateCommand struct {
	RideClass   string
	Pickup      Place
	Destination Place
	// QuotedFare is the amount the rider was shown, if the client sends it.
	QuotedFare *float64
}

type CancelCommand struct {
	BookingID types.ID
	Reason    string
}

func (s *Service) Create(ctx context.Context, actor Actor, cmd CreateCommand) (*Booking, error) {
	if actor.Role != RoleRider || actor.ID == "" {
		return nil, ErrForbidden
	}
	class, ok := pricing.ParseRideClass(cmd.RideClass)
	if !ok {
		return nil, fmt.Errorf("%w: unknown ride class %q", ErrBadRequest, cmd.RideClass)
	}
	if strings.TrimSpace(cmd.Pickup.Address) == "" || strings.TrimSpace(cmd.Destination.Address) == "" {
		return nil, fmt.Errorf("%w: pickup and destination addresses are required", ErrBadRequest)
	}
	if cmd.Pickup.Point == nil || cmd.Destination.Point == nil {
		return nil, fmt.Errorf("%w: pickup and destination must be resolved to coordinates", ErrBadRequest)
	}

	q, err := s.pricing.Quote(*cmd.Pickup.Point, *cmd.Destination.Point, class)
	if err != nil {
		return nil, err
	}
	if cmd.QuotedFare != nil && math.Abs(*cmd.QuotedFare-q.Fare.Amount) > quoteTolerance {
		return nil, ErrQuoteMismatch
	}

	b := &Booking{
		RiderID:         actor.ID,
		RideClass:       class,
		Pickup:          Place{Address: strings.TrimSpace(cmd.Pickup.Address), Point: clonePoint(cmd.Pickup.Point)},
		Destination:     Place{Address: strings.TrimSpace(cmd.Destination.Address), Point: clonePoint(cmd.Destination.Point)},
		PickupCell:      geo.Cell(*cmd.Pickup.Point, geo.CellPrecision),
		DistanceKm:      q.DistanceKm,
		DurationMinutes: q.DurationMinutes,
		Fare:            q.Fare,
	}
	var created *Booking
	err = s.call(ctx, func(ctx context.Context) error {
		var err error
		created, err = s.store.Create(ctx, b)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.afterTransition(ctx, created, StatusNone, actor, nil, "")
	return created, nil
}

// Accept claims a requested booking for the calling driver. Of several drivers
// racing for the same booking exactly one succeeds; the others get ErrConflict.
func (s *Service) Accept(ctx context.Context, actor Actor, id types.ID) (*Booking, error) {
	b, err := s.loadChecked(ctx, id, func(b *Booking) error {
		if b.Status.IsTerminal() {
			return ErrInvalidTransition
		}
		if actor.Role != RoleDriver || actor.ID == "" {
			return ErrForbidden
		}
		if b.Status != StatusRequested {
			return ErrConflict
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	driver := actor.ID
	return s.transition(ctx, actor, b, StatusChange{
		ID:       b.ID,
		From:     StatusRequested,
		To:       StatusAccepted,
		DriverID: &driver,
	})
}

func (s *Service) Start(ctx context.Context, actor Actor, id types.ID) (*Booking, error) {
	var guard *types.ID
	b, err := s.loadChecked(ctx, id, func(b *Booking) error {
		var err error
		guard, err = tripPrecondition(actor, b, StatusAccepted)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, actor, b, StatusChange{
		ID:       b.ID,
		From:     StatusAccepted,
		To:       StatusInProgress,
		DriverID: guard,
	})
}

func (s *Service) Complete(ctx context.Context, actor Actor, id types.ID) (*Booking, error) {
	var guard *types.ID
	b, err := s.loadChecked(ctx, id, func(b *Booking) error {
		var err error
		guard, err = tripPrecondition(actor, b, StatusInProgress)
		return err
	})
	if err != nil {
		return nil, err
	}
	updated, err := s.transition(ctx, actor, b, StatusChange{
		ID:       b.ID,
		From:     StatusInProgress,
		To:       StatusCompleted,
		DriverID: guard,
	})
	if err != nil {
		return nil, err
	}
	if updated.DriverID != nil {
		s.recordTrip(ctx, updated, *updated.DriverID)
	}
	return updated, nil
}

// Cancel is allowed for the owning rider, or for a driver while the booking is
// unassigned or assigned to that driver. Cancelling clears the driver.
func (s *Service) Cancel(ctx context.Context, actor Actor, cmd CancelCommand) (*Booking, error) {
	var guard *types.ID
	b, err := s.loadChecked(ctx, cmd.BookingID, func(b *Booking) error {
		guard = nil
		if b.Status.IsTerminal() {
			return ErrInvalidTransition
		}
		switch actor.Role {
		case RoleRider:
			if actor.ID == "" || b.RiderID != actor.ID {
				return ErrForbidden
			}
		case RoleDriver:
			if actor.ID == "" || (b.DriverID != nil && *b.DriverID != actor.ID) {
				return ErrForbidden
			}
			d := actor.ID
			guard = &d
		default:
			return ErrForbidden
		}
		if !CanTransition(b.Status, StatusCancelled) {
			return ErrInvalidTransition
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	prevDriver := b.DriverID
	updated, err := s.transition(ctx, actor, b, StatusChange{
		ID:       b.ID,
		From:     b.Status,
		To:       StatusCancelled,
		DriverID: guard,
		Reason:   strings.TrimSpace(cmd.Reason),
	})
	if err != nil {
		return nil, err
	}
	if prevDriver != nil {
		s.recordTrip(ctx, updated, *prevDriver)
	}
	return updated, nil
}

// Get returns the booking without an authorization check; used by internal callers.
func (s *Service) Get(ctx context.Context, id types.ID) (*Booking, error) {
	return s.load(ctx, id)
}

// View returns the booking if actor may see it. Drivers see requested bookings
// (the feed) and the ones assigned to them.
func (s *Service) View(ctx context.Context, actor Actor, id types.ID) (*Booking, error) {
	b, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	switch actor.Role {
	case RoleAdmin, RoleSystem:
		return b, nil
	case RoleRider:
		if actor.ID != "" && b.RiderID == actor.ID {
			return b, nil
		}
	case RoleDriver:
		if actor.ID != "" && (b.Status == StatusRequested || b.AssignedTo(actor.ID)) {
			return b, nil
		}
	}
	return nil, ErrForbidden
}

func (s *Service) ListByRider(ctx context.Context, actor Actor, riderID types.ID) ([]*Booking, error) {
	if riderID == "" {
		return nil, fmt.Errorf("%w: rider id is required", ErrBadRequest)
	}
	if actor.Role != RoleAdmin && (actor.Role != RoleRider || actor.ID != riderID) {
		return nil, ErrForbidden
	}
	var out []*Booking
	err := s.read(ctx, func(ctx context.Context) error {
		var err error
		out, err = s.store.ListByRider(ctx, riderID)
		return err
	})
	return out, err
}

func (s *Service) ListByDriver(ctx context.Context, actor Actor, driverID types.ID, limit int) ([]*Booking, error) {
	if driverID == "" {
		return nil, fmt.Errorf("%w: driver id is required", ErrBadRequest)
	}
	if actor.Role != RoleAdmin && (actor.Role != RoleDriver || actor.ID != driverID) {
		return nil, ErrForbidden
	}
	limit = s.feedSize(limit)
	var out []*Booking
	err := s.read(ctx, func(ctx context.Context) error {
		var err error
		out, err = s.store.ListByDriver(ctx, driverID, limit)
		return err
	})
	return out, err
}

// ListAvailable returns requested bookings, newest first. Near narrows the
// feed to pickups in the surrounding geohash area.
func (s *Service) ListAvailable(ctx context.Context, actor Actor, limit int, near *types.Point) ([]*Booking, error) {
	if actor.Role != RoleDriver && actor.Role != RoleAdmin {
		return nil, ErrForbidden
	}
	q := AvailableQuery{Limit: s.feedSize(limit)}
	if near != nil {
		areas, err := geo.Area(*near)
		if err != nil {
			return nil, err
		}
		q.Areas = areas
	}
	var out []*Booking
	err := s.read(ctx, func(ctx context.Context) error {
		var err error
		out, err = s.store.ListAvailable(ctx, q)
		return err
	})
	return out, err
}

func (s *Service) Events(ctx context.Context, actor Actor, id types.ID) ([]*Event, error) {
	if actor.Role != RoleAdmin {
		return nil, ErrForbidden
	}
	if _, err := s.load(ctx, id); err != nil {
		return nil, err
	}
	var out []*Event
	err := s.read(ctx, func(ctx context.Context) error {
		var err error
		out, err = s.store.ListEvents(ctx, id)
		return err
	})
	return out, err
}

func (s *Service) transition(ctx context.Context, actor Actor, b *Booking, c StatusChange) (*Booking, error) {
	c.At = s.now()
	var updated *Booking
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		updated, err = s.store.CompareAndSetStatus(ctx, c)
		return err
	})
	if errors.Is(err, ErrConflict) {
		// someone else moved the booking first; report what it became
		if cur, gerr := s.load(ctx, b.ID); gerr == nil && cur.Status.IsTerminal() {
			return nil, ErrInvalidTransition
		}
		return nil, ErrConflict
	}
	if err != nil {
		return nil, err
	}
	s.afterTransition(ctx, updated, c.From, actor, b.DriverID, c.Reason)
	return updated, nil
}

// afterTransition appends the audit event and publishes it. Both are best effort.
func (s *Service) afterTransition(ctx context.Context, b *Booking, from Status, actor Actor, prevDriver *types.ID, reason string) {
	e := Event{
		ID:         newID(),
		BookingID:  b.ID,
		FromStatus: from,
		ToStatus:   b.Status,
		ActorRole:  actor.Role,
		ActorID:    types.IDPtr(actor.ID),
		DriverID:   prevDriver,
		Reason:     reason,
		CreatedAt:  b.UpdatedAt,
	}
	if e.ToStatus == StatusAccepted {
		e.DriverID = b.DriverID
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	if err := s.store.AppendEvent(ctx, &e); err != nil {
		s.log.Warn("append booking event failed",
			zap.String("booking_id", string(b.ID)),
			zap.String("to_status", string(e.ToStatus)),
			zap.Error(err))
	}
	if s.events != nil {
		if err := s.events.Publish(ctx, e); err != nil {
			s.log.Warn("publish booking event failed",
				zap.String("booking_id", string(b.ID)),
				zap.String("to_status", string(e.ToStatus)),
				zap.Error(err))
		}
	}
	s.log.Info("booking transition",
		zap.String("booking_id", string(b.ID)),
		zap.String("from", string(from)),
		zap.String("to", string(b.Status)),
		zap.String("actor_role", string(actor.Role)),
		zap.String("actor_id", string(actor.ID)))
}

func (s *Service) recordTrip(ctx context.Context, b *Booking, driverID types.ID) {
	if s.trips == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()
	if err := s.trips.RecordTrip(ctx, b, driverID); err != nil {
		s.log.Warn("record trip failed", zap.String("booking_id", string(b.ID)), zap.Error(err))
	}
}

// loadChecked loads the booking and runs check on it. When the store serves
// snapshots and check rejects one, the snapshot is dropped and check runs once
// more on a fresh read.
func (s *Service) loadChecked(ctx context.Context, id types.ID, check func(*Booking) error) (*Booking, error) {
	b, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	cerr := check(b)
	if cerr == nil {
		return b, nil
	}
	inv, ok := s.store.(Invalidator)
	if !ok {
		return nil, cerr
	}
	if err := s.call(ctx, func(ctx context.Context) error { return inv.Invalidate(ctx, id) }); err != nil {
		return nil, cerr
	}
	if b, err = s.load(ctx, id); err != nil {
		return nil, err
	}
	if err := check(b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Service) load(ctx context.Context, id types.ID) (*Booking, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: booking id is required", ErrBadRequest)
	}
	var b *Booking
	err := s.read(ctx, func(ctx context.Context) error {
		var err error
		b, err = s.store.Get(ctx, id)
		return err
	})
	return b, err
}

// call bounds one store call; an expired deadline is reported as ErrStoreUnavailable.
func (s *Service) call(ctx context.Context, fn func(context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	err := fn(cctx)
	if err == nil || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}

// read retries a read-only store call while the store reports itself unavailable.
func (s *Service) read(ctx context.Context, fn func(context.Context) error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 50 * time.Millisecond
	eb.MaxInterval = 500 * time.Millisecond
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, readRetries), ctx)

	return backoff.Retry(func() error {
		err := s.call(ctx, fn)
		if err != nil && !errors.Is(err, ErrStoreUnavailable) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

func (s *Service) feedSize(limit int) int {
	if limit <= 0 {
		return s.feedLimit
	}
	if limit > s.feedMaxLimit {
		return s.feedMaxLimit
	}
	return limit
}

// tripPrecondition checks a start or complete: the booking must not be
// terminal, the actor must be the assigned driver or system, and the booking
// must be in want. It returns the driver guard for the write.
func tripPrecondition(actor Actor, b *Booking, want Status) (*types.ID, error) {
	if b.Status.IsTerminal() {
		return nil, ErrInvalidTransition
	}
	guard, err := assignedDriverOrSystem(actor, b)
	if err != nil {
		return nil, err
	}
	if b.Status != want {
		return nil, ErrInvalidTransition
	}
	return guard, nil
}

func assignedDriverOrSystem(actor Actor, b *Booking) (*types.ID, error) {
	switch actor.Role {
	case RoleSystem:
		return nil, nil
	case RoleDriver:
		if actor.ID != "" && b.AssignedTo(actor.ID) {
			d := actor.ID
			return &d, nil
		}
	}
	return nil, ErrForbidden
}
