// README: Booking store contract shared by the Postgres, Mongo and in-memory backends.
package booking

import (
	"context"
	"time"

	"github.com/google/uuid"

	"ridehail/internal/types"
)

// Store persists bookings. CompareAndSetStatus must be a single conditional write:
// it succeeds only while the stored status still equals StatusChange.From.
type Store interface {
	Create(ctx context.Context, b *Booking) (*Booking, error)
	Get(ctx context.Context, id types.ID) (*Booking, error)
	ListByRider(ctx context.Context, riderID types.ID) ([]*Booking, error)
	ListByDriver(ctx context.Context, driverID types.ID, limit int) ([]*Booking, error)
	ListAvailable(ctx context.Context, q AvailableQuery) ([]*Booking, error)
	CompareAndSetStatus(ctx context.Context, c StatusChange) (*Booking, error)
	AppendEvent(ctx context.Context, e *Event) error
	ListEvents(ctx context.Context, bookingID types.ID) ([]*Event, error)
}

// Invalidator is implemented by stores that may serve a stale snapshot. Invalidate
// drops it so the next Get reads the backing store.
type Invalidator interface {
	Invalidate(ctx context.Context, id types.ID) error
}

func newID() types.ID {
	return types.ID(uuid.NewString())
}

// prepareNew returns the record a backend should insert for a new booking.
func prepareNew(b *Booking, now time.Time) *Booking {
	n := b.Clone()
	if n.ID == "" {
		n.ID = newID()
	}
	n.DriverID = nil
	n.Status = StatusRequested
	n.StatusVersion = 0
	n.CreatedAt = now
	n.UpdatedAt = now
	n.AcceptedAt, n.StartedAt, n.CompletedAt, n.CancelledAt = nil, nil, nil, nil
	n.CancelReason = nil
	return n
}

// applyChange mutates b the same way the SQL and Mongo updates do.
func applyChange(b *Booking, c StatusChange) {
	at := c.At
	b.Status = c.To
	b.StatusVersion++
	b.UpdatedAt = at
	switch c.To {
	case StatusAccepted:
		if c.DriverID != nil {
			d := *c.DriverID
			b.DriverID = &d
		}
		b.AcceptedAt = &at
	case StatusInProgress:
		b.StartedAt = &at
	case StatusCompleted:
		b.CompletedAt = &at
	case StatusCancelled:
		b.DriverID = nil
		b.CancelledAt = &at
		if c.Reason != "" {
			r := c.Reason
			b.CancelReason = &r
		}
	}
}

// guardAllows reports whether the driver guard of c permits writing b.
func guardAllows(b *Booking, c StatusChange) bool {
	if c.To == StatusAccepted || c.DriverID == nil {
		return true
	}
	return b.DriverID == nil || *b.DriverID == *c.DriverID
}
