// README: Redis snapshot cache in front of a booking Store; serves status polling.
package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ridehail/internal/types"
)

const snapshotKeyPrefix = "booking:%s:snapshot"

// CachedStore reads bookings through Redis and writes snapshots after every
// successful write. Fill-on-miss uses SETNX so it never overwrites a newer
// write-through snapshot. Cache failures fall back to the inner store.
type CachedStore struct {
	Store
	redis *redis.Client
	ttl   time.Duration
	log   *zap.Logger
}

func NewCachedStore(inner Store, rdb *redis.Client, ttl time.Duration, log *zap.Logger) *CachedStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &CachedStore{Store: inner, redis: rdb, ttl: ttl, log: log}
}

func (s *CachedStore) Create(ctx context.Context, b *Booking) (*Booking, error) {
	created, err := s.Store.Create(ctx, b)
	if err != nil {
		return nil, err
	}
	s.put(ctx, created)
	return created, nil
}

func (s *CachedStore) Get(ctx context.Context, id types.ID) (*Booking, error) {
	raw, err := s.redis.Get(ctx, snapshotKey(id)).Bytes()
	switch {
	case err == nil:
		var b Booking
		if jerr := json.Unmarshal(raw, &b); jerr == nil {
			return &b, nil
		}
		s.log.Warn("drop unreadable booking snapshot", zap.String("booking_id", string(id)))
		s.redis.Del(ctx, snapshotKey(id))
	case !errors.Is(err, redis.Nil):
		s.log.Warn("booking cache read failed", zap.String("booking_id", string(id)), zap.Error(err))
	}

	b, err := s.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if raw, jerr := json.Marshal(b); jerr == nil {
		if err := s.redis.SetNX(ctx, snapshotKey(id), raw, s.ttlFor(b.Status)).Err(); err != nil {
			s.log.Warn("booking cache fill failed", zap.String("booking_id", string(id)), zap.Error(err))
		}
	}
	return b, nil
}

func (s *CachedStore) CompareAndSetStatus(ctx context.Context, c StatusChange) (*Booking, error) {
	b, err := s.Store.CompareAndSetStatus(ctx, c)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			// the cached snapshot may be what led the caller to a stale precondition
			_ = s.Invalidate(ctx, c.ID)
		}
		return nil, err
	}
	s.put(ctx, b)
	return b, nil
}

func (s *CachedStore) Invalidate(ctx context.Context, id types.ID) error {
	if err := s.redis.Del(ctx, snapshotKey(id)).Err(); err != nil {
		s.log.Warn("booking cache evict failed", zap.String("booking_id", string(id)), zap.Error(err))
		return err
	}
	return nil
}

func (s *CachedStore) put(ctx context.Context, b *Booking) {
	raw, err := json.Marshal(b)
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, snapshotKey(b.ID), raw, s.ttlFor(b.Status)).Err(); err != nil {
		s.log.Warn("booking cache write failed", zap.String("booking_id", string(b.ID)), zap.Error(err))
	}
}

// terminal bookings never change again, so they can stay cached longer.
func (s *CachedStore) ttlFor(st Status) time.Duration {
	if st.IsTerminal() {
		return 10 * s.ttl
	}
	return s.ttl
}

func snapshotKey(id types.ID) string {
	return fmt.Sprintf(snapshotKeyPrefix, string(id))
}
