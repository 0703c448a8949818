package booking

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// setupMongoStore uses a throwaway database on RIDEHAIL_TEST_MONGO_URI.
func setupMongoStore(t *testing.T) *MongoStore {
	t.Helper()
	uri := os.Getenv("RIDEHAIL_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("RIDEHAIL_TEST_MONGO_URI not set; skipping Mongo-backed tests")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	require.NoError(t, client.Ping(ctx, nil))

	db := client.Database("ridehail_test_" + uuid.NewString()[:8])
	t.Cleanup(func() {
		_ = db.Drop(context.Background())
		_ = client.Disconnect(context.Background())
	})

	store := NewMongoStore(db)
	require.NoError(t, store.EnsureIndexes(ctx))
	return store
}

func TestMongoStoreContract(t *testing.T) {
	runStoreContract(t, setupMongoStore(t))
}

func TestMongoConcurrentAcceptSameBooking(t *testing.T) {
	svc := newTestService(setupMongoStore(t))
	b := mustCreateBooking(t, svc, "r_mongo_race")

	errs := make(chan error, 6)
	start := make(chan struct{})
	for _, id := range []string{"d1", "d2", "d3", "d4", "d5", "d6"} {
		go func(did string) {
			<-start
			_, err := svc.Accept(context.Background(), driver(did), b.ID)
			errs <- err
		}(id)
	}
	close(start)

	success := 0
	for i := 0; i < 6; i++ {
		err := <-errs
		if err == nil {
			success++
			continue
		}
		require.ErrorIs(t, err, ErrConflict)
	}
	require.Equal(t, 1, success)
	assertStatus(t, svc, b.ID, StatusAccepted)
}
