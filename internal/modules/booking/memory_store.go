// README: In-memory booking store for local runs and tests.
package booking

import (
	"context"
	"sort"
	"sync"
	"time"

	"ridehail/internal/modules/geo"
	"ridehail/internal/types"
)

type memoryRecord struct {
	b   *Booking
	seq int64
}

type MemoryStore struct {
	mu       sync.Mutex
	bookings map[types.ID]*memoryRecord
	events   map[types.ID][]*Event
	seq      int64
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bookings: make(map[types.ID]*memoryRecord),
		events:   make(map[types.ID][]*Event),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Create(ctx context.Context, b *Booking) (*Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := prepareNew(b, s.now())
	if _, exists := s.bookings[n.ID]; exists {
		return nil, ErrConflict
	}
	s.seq++
	s.bookings[n.ID] = &memoryRecord{b: n, seq: s.seq}
	return n.Clone(), nil
}

func (s *MemoryStore) Get(ctx context.Context, id types.ID) (*Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.b.Clone(), nil
}

func (s *MemoryStore) ListByRider(ctx context.Context, riderID types.ID) ([]*Booking, error) {
	return s.list(ctx, 0, func(b *Booking) bool { return b.RiderID == riderID })
}

func (s *MemoryStore) ListByDriver(ctx context.Context, driverID types.ID, limit int) ([]*Booking, error) {
	return s.list(ctx, limit, func(b *Booking) bool { return b.AssignedTo(driverID) })
}

func (s *MemoryStore) ListAvailable(ctx context.Context, q AvailableQuery) ([]*Booking, error) {
	areas := make(map[string]struct{}, len(q.Areas))
	for _, a := range q.Areas {
		areas[a] = struct{}{}
	}
	return s.list(ctx, q.Limit, func(b *Booking) bool {
		if b.Status != StatusRequested {
			return false
		}
		if len(areas) == 0 {
			return true
		}
		_, ok := areas[geo.AreaOf(b.PickupCell)]
		return ok
	})
}

func (s *MemoryStore) CompareAndSetStatus(ctx context.Context, c StatusChange) (*Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.bookings[c.ID]
	if !ok {
		return nil, ErrNotFound
	}
	if r.b.Status != c.From || !guardAllows(r.b, c) {
		return nil, ErrConflict
	}
	applyChange(r.b, c)
	return r.b.Clone(), nil
}

func (s *MemoryStore) AppendEvent(ctx context.Context, e *Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ev := *e
	if ev.ID == "" {
		ev.ID = newID()
	}
	s.events[e.BookingID] = append(s.events[e.BookingID], &ev)
	return nil
}

func (s *MemoryStore) ListEvents(ctx context.Context, bookingID types.ID) ([]*Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Event, 0, len(s.events[bookingID]))
	for _, e := range s.events[bookingID] {
		ev := *e
		out = append(out, &ev)
	}
	return out, nil
}

// list returns matching bookings newest first; limit <= 0 means unbounded.
func (s *MemoryStore) list(ctx context.Context, limit int, match func(*Booking) bool) ([]*Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := make([]*memoryRecord, 0)
	for _, r := range s.bookings {
		if match(r.b) {
			recs = append(recs, r)
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].b.CreatedAt.Equal(recs[j].b.CreatedAt) {
			return recs[i].b.CreatedAt.After(recs[j].b.CreatedAt)
		}
		return recs[i].seq > recs[j].seq
	})
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	out := make([]*Booking, len(recs))
	for i, r := range recs {
		out[i] = r.b.Clone()
	}
	return out, nil
}
