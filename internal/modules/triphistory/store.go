// README: Trip ledger stores (PostgreSQL, MongoDB, in-memory).
package triphistory

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ridehail/internal/modules/booking"
	"ridehail/internal/types"
)

// ErrDuplicate is returned when a trip for the same booking already exists.
var ErrDuplicate = errors.New("trip already recorded")

type Store interface {
	Append(ctx context.Context, t *Trip) error
	List(ctx context.Context, f Filter) ([]*Trip, error)
}

// Filter selects ledger entries; empty fields match everything. Results are newest first.
type Filter struct {
	DriverID types.ID
	RiderID  types.ID
	Status   string
	Limit    int
}

func (f Filter) matches(t *Trip) bool {
	return (f.DriverID == "" || t.DriverID == f.DriverID) &&
		(f.RiderID == "" || t.RiderID == f.RiderID) &&
		(f.Status == "" || t.Status == f.Status)
}

const tripColumns = `id, booking_id, driver_id, rider_id, pickup_address, destination_address,
	distance_km, duration_minutes, fare_amount, fare_currency, ride_class, status,
	started_at, completed_at, notes, created_at`

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, t *Trip) error {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO trip_history (`+tripColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (booking_id) DO NOTHING`,
		string(t.ID), string(t.BookingID), string(t.DriverID), string(t.RiderID),
		t.PickupAddress, t.DestinationAddress,
		t.DistanceKm, t.DurationMinutes, t.Fare.Amount, t.Fare.Currency, t.RideClass, t.Status,
		t.StartedAt, t.CompletedAt, t.Notes, t.CreatedAt,
	)
	if err != nil {
		return classifyPG(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicate
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, f Filter) ([]*Trip, error) {
	var where []string
	var args []any
	add := func(col, v string) {
		args = append(args, v)
		where = append(where, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if f.DriverID != "" {
		add("driver_id", string(f.DriverID))
	}
	if f.RiderID != "" {
		add("rider_id", string(f.RiderID))
	}
	if f.Status != "" {
		add("status", f.Status)
	}
	sql := `SELECT ` + tripColumns + ` FROM trip_history`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	sql += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return s.query(ctx, sql, args...)
}

func (s *PostgresStore) query(ctx context.Context, sql string, args ...any) ([]*Trip, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, classifyPG(err)
	}
	defer rows.Close()

	out := make([]*Trip, 0)
	for rows.Next() {
		var t Trip
		var id, bookingID, driverID, riderID string
		if err := rows.Scan(
			&id, &bookingID, &driverID, &riderID, &t.PickupAddress, &t.DestinationAddress,
			&t.DistanceKm, &t.DurationMinutes, &t.Fare.Amount, &t.Fare.Currency, &t.RideClass, &t.Status,
			&t.StartedAt, &t.CompletedAt, &t.Notes, &t.CreatedAt,
		); err != nil {
			return nil, classifyPG(err)
		}
		t.ID, t.BookingID = types.ID(id), types.ID(bookingID)
		t.DriverID, t.RiderID = types.ID(driverID), types.ID(riderID)
		out = append(out, &t)
	}
	return out, classifyPG(rows.Err())
}

type MongoStore struct {
	trips *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{trips: db.Collection("trip_history")}
}

func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.trips.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "booking_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "driver_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "rider_id", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	return err
}

func (s *MongoStore) Append(ctx context.Context, t *Trip) error {
	_, err := s.trips.InsertOne(ctx, t)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	return classifyMongo(err)
}

func (s *MongoStore) List(ctx context.Context, f Filter) ([]*Trip, error) {
	filter := bson.M{}
	if f.DriverID != "" {
		filter["driver_id"] = string(f.DriverID)
	}
	if f.RiderID != "" {
		filter["rider_id"] = string(f.RiderID)
	}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}
	cur, err := s.trips.Find(ctx, filter, opts)
	if err != nil {
		return nil, classifyMongo(err)
	}
	out := make([]*Trip, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, classifyMongo(err)
	}
	return out, nil
}

type MemoryStore struct {
	mu    sync.Mutex
	trips []*Trip
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, t *Trip) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.trips {
		if existing.BookingID == t.BookingID {
			return ErrDuplicate
		}
	}
	c := *t
	s.trips = append(s.trips, &c)
	return nil
}

func (s *MemoryStore) List(_ context.Context, f Filter) ([]*Trip, error) {
	return s.list(f.Limit, f.matches), nil
}

func (s *MemoryStore) list(limit int, match func(*Trip) bool) []*Trip {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Trip, 0)
	// newest appended last; walk backwards so ties keep insertion order reversed
	for i := len(s.trips) - 1; i >= 0; i-- {
		if match(s.trips[i]) {
			c := *s.trips[i]
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// classifyPG reports deadline and connection failures as booking.ErrStoreUnavailable.
func classifyPG(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %v", booking.ErrStoreUnavailable, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if strings.HasPrefix(pgErr.Code, "08") || pgErr.Code == "57P01" || pgErr.Code == "57P03" || pgErr.Code == "53300" {
			return fmt.Errorf("%w: %v", booking.ErrStoreUnavailable, err)
		}
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", booking.ErrStoreUnavailable, err)
	}
	return err
}

func classifyMongo(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || mongo.IsTimeout(err) || mongo.IsNetworkError(err) {
		return fmt.Errorf("%w: %v", booking.ErrStoreUnavailable, err)
	}
	return err
}
