package booking

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("RIDEHAIL_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("RIDEHAIL_TEST_REDIS_ADDR not set; skipping Redis-backed tests")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("ping redis: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestCachedStoreContract(t *testing.T) {
	rdb := setupRedis(t)
	runStoreContract(t, NewCachedStore(NewMemoryStore(), rdb, time.Minute, nil))
}

func TestCachedStoreWritesThroughTransitions(t *testing.T) {
	rdb := setupRedis(t)
	ctx := context.Background()
	inner := NewMemoryStore()
	store := NewCachedStore(inner, rdb, time.Minute, nil)
	svc := newTestService(store)

	b := mustCreateBooking(t, svc, "r_cache")
	t.Cleanup(func() { rdb.Del(context.Background(), snapshotKey(b.ID)) })

	_, err := svc.Accept(ctx, driver("d1"), b.ID)
	require.NoError(t, err)

	raw, err := rdb.Get(ctx, snapshotKey(b.ID)).Bytes()
	require.NoError(t, err)
	var cached Booking
	require.NoError(t, json.Unmarshal(raw, &cached))
	assert.Equal(t, StatusAccepted, cached.Status)

	ttl, err := rdb.TTL(ctx, snapshotKey(b.ID)).Result()
	require.NoError(t, err)
	assert.LessOrEqual(t, ttl, time.Minute)

	_, err = svc.Cancel(ctx, rider("r_cache"), CancelCommand{BookingID: b.ID})
	require.NoError(t, err)
	ttl, err = rdb.TTL(ctx, snapshotKey(b.ID)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Minute, "terminal snapshots are kept longer")
}

func TestCachedStoreEvictsOnConflict(t *testing.T) {
	rdb := setupRedis(t)
	ctx := context.Background()
	inner := NewMemoryStore()
	store := NewCachedStore(inner, rdb, time.Minute, nil)

	b, err := store.Create(ctx, newStoredBooking("r_evict", mgRoad))
	require.NoError(t, err)
	t.Cleanup(func() { rdb.Del(context.Background(), snapshotKey(b.ID)) })

	// another instance claims the booking behind this cache's back
	_, err = inner.CompareAndSetStatus(ctx, StatusChange{ID: b.ID, From: StatusRequested, To: StatusCancelled, At: time.Now()})
	require.NoError(t, err)

	stale, err := store.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRequested, stale.Status)

	svc := newTestService(store)
	_, err = svc.Accept(ctx, driver("d1"), b.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	fresh, err := store.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, fresh.Status)
}

func TestCachedStoreRechecksStaleSnapshot(t *testing.T) {
	rdb := setupRedis(t)
	ctx := context.Background()
	inner := NewMemoryStore()
	store := NewCachedStore(inner, rdb, time.Minute, nil)
	svc := newTestService(store)

	b := mustCreateBooking(t, svc, "r_stale_cache")
	t.Cleanup(func() { rdb.Del(context.Background(), snapshotKey(b.ID)) })
	_, err := svc.Accept(ctx, driver("d1"), b.ID)
	require.NoError(t, err)

	// the start lands in the row but its snapshot write is lost
	_, err = inner.CompareAndSetStatus(ctx, StatusChange{ID: b.ID, From: StatusAccepted, To: StatusInProgress, At: time.Now().UTC()})
	require.NoError(t, err)
	stale, err := store.Get(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, stale.Status)

	done, err := svc.Complete(ctx, driver("d1"), b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)

	fresh, err := store.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, fresh.Status)
}
