package booking

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"ridehail/internal/modules/pricing"
	"ridehail/internal/types"
)

var (
	mgRoad      = types.Point{Lat: 12.9716, Lng: 77.5946}
	koramangala = types.Point{Lat: 12.9352, Lng: 77.6245}
)

func rider(id string) Actor  { return Actor{ID: types.ID(id), Role: RoleRider} }
func driver(id string) Actor { return Actor{ID: types.ID(id), Role: RoleDriver} }

var (
	admin  = Actor{ID: "admin_1", Role: RoleAdmin}
	system = Actor{Role: RoleSystem}
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(_ context.Context, e Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) statuses() []Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Status, len(p.events))
	for i, e := range p.events {
		out[i] = e.ToStatus
	}
	return out
}

type recordedTrip struct {
	booking  *Booking
	driverID types.ID
}

type recordingTrips struct {
	mu    sync.Mutex
	trips []recordedTrip
}

func (r *recordingTrips) RecordTrip(_ context.Context, b *Booking, driverID types.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trips = append(r.trips, recordedTrip{booking: b.Clone(), driverID: driverID})
	return nil
}

func newTestService(store Store, opts ...Option) *Service {
	return NewService(store, pricing.NewService(""), opts...)
}

func createCommand(class string) CreateCommand {
	p, d := mgRoad, koramangala
	return CreateCommand{
		RideClass:   class,
		Pickup:      Place{Address: "MG Road, Bengaluru", Point: &p},
		Destination: Place{Address: "Koramangala, Bengaluru", Point: &d},
	}
}

func mustCreateBooking(t *testing.T, svc *Service, riderID string) *Booking {
	t.Helper()
	b, err := svc.Create(context.Background(), rider(riderID), createCommand("economy"))
	if err != nil {
		t.Fatalf("create booking: %v", err)
	}
	return b
}

func assertStatus(t *testing.T, svc *Service, id types.ID, want Status) *Booking {
	t.Helper()
	b, err := svc.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get booking: %v", err)
	}
	if b.Status != want {
		t.Fatalf("expected status %s, got %s", want, b.Status)
	}
	return b
}

// setupTestStore returns a Postgres store on RIDEHAIL_TEST_DSN with empty tables.
func setupTestStore(t *testing.T) *PostgresStore {
	t.Helper()

	dsn := os.Getenv("RIDEHAIL_TEST_DSN")
	if dsn == "" {
		t.Skip("RIDEHAIL_TEST_DSN not set; skipping DB-backed tests")
	}
	return openTestStore(t, dsn)
}

func openTestStore(t *testing.T, dsn string) *PostgresStore {
	t.Helper()
	ctx := context.Background()
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := applyMigration(ctx, db); err != nil {
		t.Fatalf("apply migration: %v", err)
	}
	if _, err := db.Exec(ctx, "TRUNCATE TABLE booking_events, trip_history, bookings"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	return NewPostgresStore(db)
}

func applyMigration(ctx context.Context, db *pgxpool.Pool) error {
	root, err := repoRoot()
	if err != nil {
		return err
	}
	content, err := os.ReadFile(filepath.Join(root, "migrations", "0001_init.sql"))
	if err != nil {
		return err
	}
	for _, stmt := range splitSQL(stripSQLComments(string(content))) {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for i := 0; i < 6; i++ {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", os.ErrNotExist
}

func stripSQLComments(input string) string {
	var b strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(input))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		b.WriteString(scanner.Text())
		b.WriteString("\n")
	}
	return b.String()
}

func splitSQL(input string) []string {
	parts := strings.Split(input, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		stmt := strings.TrimSpace(p)
		if stmt == "" {
			continue
		}
		out = append(out, stmt)
	}
	return out
}
