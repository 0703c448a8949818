//go:build integration

package booking

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startPostgres runs a disposable PostgreSQL container and returns its DSN.
func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "ridehail_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start PostgreSQL container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate PostgreSQL container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)
	dsn := fmt.Sprintf("postgres://test:test@%s:%s/ridehail_test?sslmode=disable", host, port.Port())

	require.Eventually(t, func() bool {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return false
		}
		defer pool.Close()
		return pool.Ping(ctx) == nil
	}, 30*time.Second, time.Second, "PostgreSQL not ready for connections")
	return dsn
}

func TestIntegrationPostgresStore(t *testing.T) {
	store := openTestStore(t, startPostgres(t))

	t.Run("contract", func(t *testing.T) {
		runStoreContract(t, store)
	})

	t.Run("lifecycle through service", func(t *testing.T) {
		ctx := context.Background()
		svc := newTestService(store)

		b := mustCreateBooking(t, svc, "r_it")
		_, err := svc.Accept(ctx, driver("d1"), b.ID)
		require.NoError(t, err)
		_, err = svc.Start(ctx, driver("d1"), b.ID)
		require.NoError(t, err)
		done, err := svc.Complete(ctx, driver("d1"), b.ID)
		require.NoError(t, err)
		require.NotNil(t, done.CompletedAt)

		events, err := svc.Events(ctx, admin, b.ID)
		require.NoError(t, err)
		require.Len(t, events, 4)
	})
}
