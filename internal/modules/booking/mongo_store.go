// README: Booking store backed by MongoDB; the claim is a filtered FindOneAndUpdate.
package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ridehail/internal/modules/geo"
	"ridehail/internal/modules/pricing"
	"ridehail/internal/types"
)

type bookingDoc struct {
	ID              string      `bson:"_id"`
	RiderID         string      `bson:"rider_id"`
	DriverID        *string     `bson:"driver_id"`
	RideClass       string      `bson:"ride_class"`
	Pickup          Place       `bson:"pickup"`
	Destination     Place       `bson:"destination"`
	PickupCell      string      `bson:"pickup_cell"`
	PickupArea      string      `bson:"pickup_area"`
	DistanceKm      float64     `bson:"distance_km"`
	DurationMinutes int         `bson:"duration_minutes"`
	Fare            types.Money `bson:"fare"`
	Status          string      `bson:"status"`
	StatusVersion   int         `bson:"status_version"`
	CreatedAt       time.Time   `bson:"created_at"`
	UpdatedAt       time.Time   `bson:"updated_at"`
	AcceptedAt      *time.Time  `bson:"accepted_at,omitempty"`
	StartedAt       *time.Time  `bson:"started_at,omitempty"`
	CompletedAt     *time.Time  `bson:"completed_at,omitempty"`
	CancelledAt     *time.Time  `bson:"cancelled_at,omitempty"`
	CancelReason    *string     `bson:"cancel_reason,omitempty"`
}

type eventDoc struct {
	ID         string    `bson:"_id"`
	BookingID  string    `bson:"booking_id"`
	FromStatus string    `bson:"from_status"`
	ToStatus   string    `bson:"to_status"`
	ActorRole  string    `bson:"actor_role"`
	ActorID    *string   `bson:"actor_id,omitempty"`
	DriverID   *string   `bson:"driver_id,omitempty"`
	Reason     string    `bson:"reason,omitempty"`
	CreatedAt  time.Time `bson:"created_at"`
}

type MongoStore struct {
	bookings *mongo.Collection
	events   *mongo.Collection
	now      func() time.Time
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		bookings: db.Collection("bookings"),
		events:   db.Collection("booking_events"),
		// Mongo stores milliseconds; truncating keeps returned records equal to stored ones.
		now: func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	}
}

// EnsureIndexes creates the indexes the list queries rely on.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.bookings.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "rider_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "driver_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "pickup_area", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return classifyMongo(err)
	}
	_, err = s.events.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "booking_id", Value: 1}, {Key: "created_at", Value: 1}},
	})
	return classifyMongo(err)
}

func (s *MongoStore) Create(ctx context.Context, b *Booking) (*Booking, error) {
	n := prepareNew(b, s.now())
	if _, err := s.bookings.InsertOne(ctx, toBookingDoc(n)); err != nil {
		return nil, classifyMongo(err)
	}
	return n, nil
}

func (s *MongoStore) Get(ctx context.Context, id types.ID) (*Booking, error) {
	var doc bookingDoc
	err := s.bookings.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classifyMongo(err)
	}
	return doc.toBooking(), nil
}

func (s *MongoStore) ListByRider(ctx context.Context, riderID types.ID) ([]*Booking, error) {
	return s.find(ctx, bson.M{"rider_id": string(riderID)}, 0)
}

func (s *MongoStore) ListByDriver(ctx context.Context, driverID types.ID, limit int) ([]*Booking, error) {
	return s.find(ctx, bson.M{"driver_id": string(driverID)}, limit)
}

func (s *MongoStore) ListAvailable(ctx context.Context, q AvailableQuery) ([]*Booking, error) {
	filter := bson.M{"status": string(StatusRequested)}
	if len(q.Areas) > 0 {
		filter["pickup_area"] = bson.M{"$in": q.Areas}
	}
	return s.find(ctx, filter, q.Limit)
}

func (s *MongoStore) CompareAndSetStatus(ctx context.Context, c StatusChange) (*Booking, error) {
	at := c.At
	if at.IsZero() {
		at = s.now()
	}
	filter := bson.M{"_id": string(c.ID), "status": string(c.From)}
	if c.To != StatusAccepted && c.DriverID != nil {
		filter["$or"] = bson.A{
			bson.M{"driver_id": nil},
			bson.M{"driver_id": string(*c.DriverID)},
		}
	}

	set := bson.M{"status": string(c.To), "updated_at": at}
	switch c.To {
	case StatusAccepted:
		set["driver_id"] = toStringPtr(c.DriverID)
		set["accepted_at"] = at
	case StatusInProgress:
		set["started_at"] = at
	case StatusCompleted:
		set["completed_at"] = at
	case StatusCancelled:
		set["driver_id"] = nil
		set["cancelled_at"] = at
		if c.Reason != "" {
			set["cancel_reason"] = c.Reason
		}
	}
	update := bson.M{"$set": set, "$inc": bson.M{"status_version": 1}}

	var doc bookingDoc
	err := s.bookings.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
	if err == nil {
		return doc.toBooking(), nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, classifyMongo(err)
	}

	n, err := s.bookings.CountDocuments(ctx, bson.M{"_id": string(c.ID)}, options.Count().SetLimit(1))
	if err != nil {
		return nil, classifyMongo(err)
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	return nil, ErrConflict
}

func (s *MongoStore) AppendEvent(ctx context.Context, e *Event) error {
	id := e.ID
	if id == "" {
		id = newID()
	}
	_, err := s.events.InsertOne(ctx, eventDoc{
		ID:         string(id),
		BookingID:  string(e.BookingID),
		FromStatus: string(e.FromStatus),
		ToStatus:   string(e.ToStatus),
		ActorRole:  string(e.ActorRole),
		ActorID:    toStringPtr(e.ActorID),
		DriverID:   toStringPtr(e.DriverID),
		Reason:     e.Reason,
		CreatedAt:  e.CreatedAt,
	})
	return classifyMongo(err)
}

func (s *MongoStore) ListEvents(ctx context.Context, bookingID types.ID) ([]*Event, error) {
	cur, err := s.events.Find(ctx, bson.M{"booking_id": string(bookingID)},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, classifyMongo(err)
	}
	var docs []eventDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, classifyMongo(err)
	}
	out := make([]*Event, len(docs))
	for i, d := range docs {
		out[i] = &Event{
			ID:         types.ID(d.ID),
			BookingID:  types.ID(d.BookingID),
			FromStatus: Status(d.FromStatus),
			ToStatus:   Status(d.ToStatus),
			ActorRole:  Role(d.ActorRole),
			ActorID:    toIDPtr(d.ActorID),
			DriverID:   toIDPtr(d.DriverID),
			Reason:     d.Reason,
			CreatedAt:  d.CreatedAt,
		}
	}
	return out, nil
}

func (s *MongoStore) find(ctx context.Context, filter bson.M, limit int) ([]*Booking, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.bookings.Find(ctx, filter, opts)
	if err != nil {
		return nil, classifyMongo(err)
	}
	var docs []bookingDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, classifyMongo(err)
	}
	out := make([]*Booking, len(docs))
	for i := range docs {
		out[i] = docs[i].toBooking()
	}
	return out, nil
}

func toBookingDoc(b *Booking) bookingDoc {
	return bookingDoc{
		ID:              string(b.ID),
		RiderID:         string(b.RiderID),
		DriverID:        toStringPtr(b.DriverID),
		RideClass:       string(b.RideClass),
		Pickup:          b.Pickup,
		Destination:     b.Destination,
		PickupCell:      b.PickupCell,
		PickupArea:      geo.AreaOf(b.PickupCell),
		DistanceKm:      b.DistanceKm,
		DurationMinutes: b.DurationMinutes,
		Fare:            b.Fare,
		Status:          string(b.Status),
		StatusVersion:   b.StatusVersion,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
		AcceptedAt:      b.AcceptedAt,
		StartedAt:       b.StartedAt,
		CompletedAt:     b.CompletedAt,
		CancelledAt:     b.CancelledAt,
		CancelReason:    b.CancelReason,
	}
}

func (d bookingDoc) toBooking() *Booking {
	return &Booking{
		ID:              types.ID(d.ID),
		RiderID:         types.ID(d.RiderID),
		DriverID:        toIDPtr(d.DriverID),
		RideClass:       pricing.RideClass(d.RideClass),
		Pickup:          d.Pickup,
		Destination:     d.Destination,
		PickupCell:      d.PickupCell,
		DistanceKm:      d.DistanceKm,
		DurationMinutes: d.DurationMinutes,
		Fare:            d.Fare,
		Status:          Status(d.Status),
		StatusVersion:   d.StatusVersion,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
		AcceptedAt:      d.AcceptedAt,
		StartedAt:       d.StartedAt,
		CompletedAt:     d.CompletedAt,
		CancelledAt:     d.CancelledAt,
		CancelReason:    d.CancelReason,
	}
}

func classifyMongo(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || mongo.IsTimeout(err) || mongo.IsNetworkError(err) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}
