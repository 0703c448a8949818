// README: Booking store backed by PostgreSQL (pgx pool).
package booking

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ridehail/internal/modules/pricing"
	"ridehail/internal/types"
)

const bookingColumns = `id, rider_id, driver_id, ride_class,
	pickup_address, pickup_lat, pickup_lng,
	destination_address, destination_lat, destination_lng, pickup_cell,
	distance_km, duration_minutes, fare_amount, fare_currency,
	status, status_version, created_at, updated_at,
	accepted_at, started_at, completed_at, cancelled_at, cancel_reason`

type PostgresStore struct {
	db  *pgxpool.Pool
	now func() time.Time
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db, now: func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }}
}

func (s *PostgresStore) Create(ctx context.Context, b *Booking) (*Booking, error) {
	n := prepareNew(b, s.now())
	pLat, pLng := pointArgs(n.Pickup.Point)
	dLat, dLng := pointArgs(n.Destination.Point)
	_, err := s.db.Exec(ctx, `
		INSERT INTO bookings (
			id, rider_id, driver_id, ride_class,
			pickup_address, pickup_lat, pickup_lng,
			destination_address, destination_lat, destination_lng, pickup_cell,
			distance_km, duration_minutes, fare_amount, fare_currency,
			status, status_version, created_at, updated_at
		) VALUES (
			$1, $2, NULL, $3,
			$4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14,
			$15, $16, $17, $18
		)`,
		string(n.ID), string(n.RiderID), string(n.RideClass),
		n.Pickup.Address, pLat, pLng,
		n.Destination.Address, dLat, dLng, n.PickupCell,
		n.DistanceKm, n.DurationMinutes, n.Fare.Amount, n.Fare.Currency,
		string(n.Status), n.StatusVersion, n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		return nil, classifyPG(err)
	}
	return n, nil
}

func (s *PostgresStore) Get(ctx context.Context, id types.ID) (*Booking, error) {
	row := s.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, string(id))
	b, err := scanBooking(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classifyPG(err)
	}
	return b, nil
}

func (s *PostgresStore) ListByRider(ctx context.Context, riderID types.ID) ([]*Booking, error) {
	return s.query(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE rider_id = $1
		ORDER BY created_at DESC, id DESC`, string(riderID))
}

func (s *PostgresStore) ListByDriver(ctx context.Context, driverID types.ID, limit int) ([]*Booking, error) {
	return s.query(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE driver_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, string(driverID), limit)
}

func (s *PostgresStore) ListAvailable(ctx context.Context, q AvailableQuery) ([]*Booking, error) {
	if len(q.Areas) == 0 {
		return s.query(ctx, `
			SELECT `+bookingColumns+` FROM bookings
			WHERE status = 'requested'
			ORDER BY created_at DESC, id DESC
			LIMIT $1`, q.Limit)
	}
	return s.query(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE status = 'requested'
		  AND left(pickup_cell, 5) = ANY($2::text[])
		ORDER BY created_at DESC, id DESC
		LIMIT $1`, q.Limit, q.Areas)
}

// CompareAndSetStatus issues one conditional UPDATE; the follow-up read only
// tells a missing booking apart from a lost race.
func (s *PostgresStore) CompareAndSetStatus(ctx context.Context, c StatusChange) (*Booking, error) {
	var d *string
	if c.DriverID != nil {
		v := string(*c.DriverID)
		d = &v
	}
	at := c.At
	if at.IsZero() {
		at = s.now()
	}
	row := s.db.QueryRow(ctx, `
		UPDATE bookings
		SET status = $1,
			status_version = status_version + 1,
			updated_at = $2::timestamptz,
			driver_id = CASE WHEN $1 = 'accepted' THEN $3::text
			                 WHEN $1 = 'cancelled' THEN NULL
			                 ELSE driver_id END,
			accepted_at = CASE WHEN $1 = 'accepted' THEN $2::timestamptz ELSE accepted_at END,
			started_at = CASE WHEN $1 = 'in_progress' THEN $2::timestamptz ELSE started_at END,
			completed_at = CASE WHEN $1 = 'completed' THEN $2::timestamptz ELSE completed_at END,
			cancelled_at = CASE WHEN $1 = 'cancelled' THEN $2::timestamptz ELSE cancelled_at END,
			cancel_reason = CASE WHEN $1 = 'cancelled' THEN NULLIF($4::text, '') ELSE cancel_reason END
		WHERE id = $5 AND status = $6
		  AND ($1 = 'accepted' OR $3::text IS NULL OR driver_id IS NULL OR driver_id = $3::text)
		RETURNING `+bookingColumns,
		string(c.To), at, d, c.Reason, string(c.ID), string(c.From),
	)
	b, err := scanBooking(row)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, classifyPG(err)
	}

	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM bookings WHERE id = $1)`, string(c.ID)).Scan(&exists); err != nil {
		return nil, classifyPG(err)
	}
	if !exists {
		return nil, ErrNotFound
	}
	return nil, ErrConflict
}

func (s *PostgresStore) AppendEvent(ctx context.Context, e *Event) error {
	id := e.ID
	if id == "" {
		id = newID()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO booking_events (
			id, booking_id, from_status, to_status, actor_role, actor_id, driver_id, reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		string(id),
		string(e.BookingID),
		string(e.FromStatus),
		string(e.ToStatus),
		string(e.ActorRole),
		toStringPtr(e.ActorID),
		toStringPtr(e.DriverID),
		e.Reason,
		e.CreatedAt,
	)
	return classifyPG(err)
}

func (s *PostgresStore) ListEvents(ctx context.Context, bookingID types.ID) ([]*Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, booking_id, from_status, to_status, actor_role, actor_id, driver_id, reason, created_at
		FROM booking_events
		WHERE booking_id = $1
		ORDER BY created_at ASC, id ASC`, string(bookingID))
	if err != nil {
		return nil, classifyPG(err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		var e Event
		var id, bid, from, to, role string
		var actorID, driverID *string
		if err := rows.Scan(&id, &bid, &from, &to, &role, &actorID, &driverID, &e.Reason, &e.CreatedAt); err != nil {
			return nil, classifyPG(err)
		}
		e.ID, e.BookingID = types.ID(id), types.ID(bid)
		e.FromStatus, e.ToStatus, e.ActorRole = Status(from), Status(to), Role(role)
		e.ActorID = toIDPtr(actorID)
		e.DriverID = toIDPtr(driverID)
		out = append(out, &e)
	}
	return out, classifyPG(rows.Err())
}

func (s *PostgresStore) query(ctx context.Context, sql string, args ...any) ([]*Booking, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, classifyPG(err)
	}
	defer rows.Close()

	out := make([]*Booking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, classifyPG(err)
		}
		out = append(out, b)
	}
	return out, classifyPG(rows.Err())
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	var id, riderID, rideClass, status string
	var driverID, cancelReason *string
	var pLat, pLng, dLat, dLng *float64
	var acceptedAt, startedAt, completedAt, cnlAt *time.Time
	err := row.Scan(
		&id, &riderID, &driverID, &rideClass,
		&b.Pickup.Address, &pLat, &pLng,
		&b.Destination.Address, &dLat, &dLng, &b.PickupCell,
		&b.DistanceKm, &b.DurationMinutes, &b.Fare.Amount, &b.Fare.Currency,
		&status, &b.StatusVersion, &b.CreatedAt, &b.UpdatedAt,
		&acceptedAt, &startedAt, &completedAt, &cnlAt, &cancelReason,
	)
	if err != nil {
		return nil, err
	}
	b.ID = types.ID(id)
	b.RiderID = types.ID(riderID)
	b.DriverID = toIDPtr(driverID)
	b.RideClass = pricing.RideClass(rideClass)
	b.Pickup.Point = toPoint(pLat, pLng)
	b.Destination.Point = toPoint(dLat, dLng)
	b.Status = Status(status)
	b.AcceptedAt, b.StartedAt, b.CompletedAt, b.CancelledAt = acceptedAt, startedAt, completedAt, cnlAt
	b.CancelReason = cancelReason
	return &b, nil
}

// classifyPG maps transport level failures to ErrStoreUnavailable and keeps
// everything else as is.
func classifyPG(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"), pgErr.Code == "57P01", pgErr.Code == "57P03", pgErr.Code == "53300":
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		case pgErr.Code == "23505":
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}

func pointArgs(p *types.Point) (*float64, *float64) {
	if p == nil {
		return nil, nil
	}
	lat, lng := p.Lat, p.Lng
	return &lat, &lng
}

func toPoint(lat, lng *float64) *types.Point {
	if lat == nil || lng == nil {
		return nil
	}
	return &types.Point{Lat: *lat, Lng: *lng}
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func toIDPtr(v *string) *types.ID {
	if v == nil {
		return nil
	}
	id := types.ID(*v)
	return &id
}
