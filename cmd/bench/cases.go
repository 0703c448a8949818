// README: Benchmark cases; booking lifecycle scenarios over HTTP plus DB, Redis and load checks.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"ridehail/internal/infra"
)

type Runner struct {
	cfg    Config
	httpc  *http.Client
	db     *pgxpool.Pool
	redis  *redis.Client
	issuer *infra.JWTIssuer

	riderID  string
	flowID   string
	driverID string
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

var (
	mgRoad = map[string]any{
		"address":  "MG Road, Bengaluru",
		"location": map[string]any{"lat": 12.9716, "lng": 77.5946},
	}
	koramangala = map[string]any{
		"address":  "Koramangala, Bengaluru",
		"location": map[string]any{"lat": 12.9352, "lng": 77.6245},
	}
)

func NewRunner(cfg Config) *Runner {
	r := &Runner{
		cfg:      cfg,
		httpc:    &http.Client{Timeout: 10 * time.Second},
		riderID:  "bench-rider-" + uuid.NewString()[:8],
		driverID: "bench-driver-" + uuid.NewString()[:8],
	}
	if cfg.JWTSecret != "" {
		r.issuer = infra.NewJWTIssuer(cfg.JWTSecret, cfg.JWTIssuer, time.Hour)
	}
	return r
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))

	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-7s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}

	return results
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{Name: "Env: Postgres connect", Run: func(ctx context.Context, r *Runner) Result {
			if r.db == nil {
				return skip("db not configured")
			}
			ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			if err := r.db.Ping(ctx); err != nil {
				return fail(err.Error())
			}
			return pass("")
		}},
		{Name: "Env: Redis connect", Run: func(ctx context.Context, r *Runner) Result {
			if r.redis == nil {
				return skip("redis not configured")
			}
			ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			if err := r.redis.Ping(ctx).Err(); err != nil {
				return fail(err.Error())
			}
			return pass("")
		}},
		{Name: "Migration: apply (optional)", Run: func(ctx context.Context, r *Runner) Result {
			if !r.cfg.ApplyMigration {
				return skip("apply-migration=false")
			}
			if r.db == nil {
				return fail("db not configured")
			}
			sql, err := os.ReadFile(r.cfg.MigrationPath)
			if err != nil {
				return fail(err.Error())
			}
			for _, s := range splitSQL(string(sql)) {
				if _, err := r.db.Exec(ctx, s); err != nil {
					return fail(err.Error())
				}
			}
			return pass("")
		}},
		{Name: "Migration: tables exist", Run: func(ctx context.Context, r *Runner) Result {
			if r.db == nil {
				return skip("db not configured")
			}
			tables, err := extractTables(r.cfg.MigrationPath)
			if err != nil {
				return fail(err.Error())
			}
			for _, t := range tables {
				var exists bool
				err := r.db.QueryRow(ctx,
					"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
					t,
				).Scan(&exists)
				if err != nil {
					return fail(err.Error())
				}
				if !exists {
					return fail("missing table: " + t)
				}
			}
			return pass("")
		}},
		{Name: "API: health", Run: func(ctx context.Context, r *Runner) Result {
			res := r.send(ctx, http.MethodGet, "/health", "", nil)
			return expect(res, http.StatusOK)
		}},
		{Name: "Auth: missing token -> 401", Run: func(ctx context.Context, r *Runner) Result {
			res := r.send(ctx, http.MethodGet, "/api/bookings", "", nil)
			return expect(res, http.StatusUnauthorized)
		}},

		{Name: "Estimate: MG Road -> Koramangala economy", Run: authed(func(ctx context.Context, r *Runner) Result {
			res := r.send(ctx, http.MethodPost, "/api/estimates", r.token(r.riderID, "rider"), map[string]any{
				"ride_class": "economy", "pickup": mgRoad, "destination": koramangala,
			})
			if out := expect(res, http.StatusOK); out.Status != "PASS" {
				return out
			}
			est, _ := res.body["estimate"].(map[string]any)
			fare, _ := est["fare"].(map[string]any)
			amount, _ := fare["amount"].(float64)
			if math.Abs(amount-51.8) > 0.01 || est["estimated_time"] != "16 min" {
				return fail(fmt.Sprintf("got fare=%v time=%v", amount, est["estimated_time"]))
			}
			return Result{Status: "PASS", Latency: res.latency, Note: "fare=51.80 time=16 min"}
		})},
		{Name: "Estimate: unresolved address -> calculating", Run: authed(func(ctx context.Context, r *Runner) Result {
			res := r.send(ctx, http.MethodPost, "/api/estimates", r.token(r.riderID, "rider"), map[string]any{
				"pickup": map[string]any{}, "destination": koramangala,
			})
			if out := expect(res, http.StatusOK); out.Status != "PASS" {
				return out
			}
			if res.body["status"] != "calculating" {
				return fail(fmt.Sprintf("status=%v", res.body["status"]))
			}
			return pass("")
		})},

		{Name: "Booking: rider creates", Run: authed(func(ctx context.Context, r *Runner) Result {
			id, res := r.createBooking(ctx)
			if id == "" {
				return expect(res, http.StatusCreated)
			}
			r.flowID = id
			if res.body["status"] != "requested" {
				return fail(fmt.Sprintf("status=%v", res.body["status"]))
			}
			return Result{Status: "PASS", Latency: res.latency, Note: "id=" + id}
		})},
		{Name: "Booking: stale quote -> 400", Run: authed(func(ctx context.Context, r *Runner) Result {
			res := r.send(ctx, http.MethodPost, "/api/bookings", r.token(r.riderID, "rider"), map[string]any{
				"ride_class": "economy", "pickup": mgRoad, "destination": koramangala, "quoted_fare": 10.0,
			})
			return expect(res, http.StatusBadRequest)
		})},
		{Name: "Booking: driver accepts", Run: r.flowStep(http.MethodPut, "accept", func(r *Runner) string { return r.driverID }, http.StatusOK, "")},
		{Name: "Booking: second driver accept -> 409 conflict", Run: r.flowStep(http.MethodPut, "accept", func(*Runner) string { return "bench-other-driver" }, http.StatusConflict, "")},
		{Name: "Booking: unassigned driver start -> 403", Run: r.flowStep(http.MethodPut, "start", func(*Runner) string { return "bench-other-driver" }, http.StatusForbidden, "")},
		{Name: "Booking: driver starts", Run: r.flowStep(http.MethodPut, "start", func(r *Runner) string { return r.driverID }, http.StatusOK, "")},
		{Name: "Booking: driver completes", Run: r.flowStep(http.MethodPut, "complete", func(r *Runner) string { return r.driverID }, http.StatusOK, "")},
		{Name: "Booking: cancel completed -> 409 invalid_transition", Run: r.flowStep(http.MethodPut, "cancel", func(r *Runner) string { return r.riderID }, http.StatusConflict, "invalid_transition")},

		{Name: "Cancel: rider cancels then accept is rejected", Run: authed(func(ctx context.Context, r *Runner) Result {
			id, res := r.createBooking(ctx)
			if id == "" {
				return expect(res, http.StatusCreated)
			}
			res = r.send(ctx, http.MethodPut, "/api/bookings/"+id+"/cancel", r.token(r.riderID, "rider"), map[string]any{"reason": "change_plans"})
			if out := expect(res, http.StatusOK); out.Status != "PASS" {
				return out
			}
			res = r.send(ctx, http.MethodPut, "/api/bookings/"+id+"/accept", r.token(r.driverID, "driver"), nil)
			if res.status != http.StatusConflict || res.body["code"] != "invalid_transition" {
				return fail(fmt.Sprintf("status=%d code=%v", res.status, res.body["code"]))
			}
			return pass("")
		})},

		{Name: "Consistency: version, events and trip ledger", Run: func(ctx context.Context, r *Runner) Result {
			if r.db == nil {
				return skip("db not configured")
			}
			if r.flowID == "" {
				return skip("lifecycle flow did not run")
			}
			var version, events, trips int
			err := r.db.QueryRow(ctx, `
				SELECT b.status_version,
				       (SELECT count(*) FROM booking_events e WHERE e.booking_id = b.id),
				       (SELECT count(*) FROM trip_history t WHERE t.booking_id = b.id)
				FROM bookings b WHERE b.id = $1`, r.flowID).Scan(&version, &events, &trips)
			if err != nil {
				return fail(err.Error())
			}
			if version != 3 || events != 4 || trips != 1 {
				return fail(fmt.Sprintf("version=%d events=%d trips=%d", version, events, trips))
			}
			return pass("version=3 events=4 trips=1")
		}},

		{Name: "Concurrency: many drivers accept one booking", Run: authed(func(ctx context.Context, r *Runner) Result {
			return concurrentAccept(ctx, r)
		})},

		{Name: "Perf: estimate throughput", Run: authed(func(ctx context.Context, r *Runner) Result {
			return perfLoad(ctx, r, "/api/estimates", r.token(r.riderID, "rider"), map[string]any{
				"ride_class": "economy", "pickup": mgRoad, "destination": koramangala,
			})
		})},
		{Name: "Perf: create booking throughput", Run: authed(func(ctx context.Context, r *Runner) Result {
			return perfLoad(ctx, r, "/api/bookings", r.token(r.riderID, "rider"), map[string]any{
				"ride_class": "economy", "pickup": mgRoad, "destination": koramangala,
			})
		})},
	}
}

type response struct {
	status  int
	body    map[string]any
	latency time.Duration
	err     error
}

func (r *Runner) send(ctx context.Context, method, path, token string, body any) response {
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return response{err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return response{err: err}
	}
	defer resp.Body.Close()
	out := response{status: resp.StatusCode, latency: time.Since(start), body: map[string]any{}}
	raw, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(raw, &out.body)
	return out
}

func (r *Runner) token(uid, role string) string {
	tok, err := r.issuer.Issue(uid, role)
	if err != nil {
		return ""
	}
	return tok
}

func (r *Runner) createBooking(ctx context.Context) (string, response) {
	res := r.send(ctx, http.MethodPost, "/api/bookings", r.token(r.riderID, "rider"), map[string]any{
		"ride_class": "economy", "pickup": mgRoad, "destination": koramangala, "quoted_fare": 51.8,
	})
	if res.status != http.StatusCreated {
		return "", res
	}
	id, _ := res.body["id"].(string)
	return id, res
}

// flowStep runs one transition on the lifecycle booking created earlier.
// Cancel is sent as the rider, everything else as a driver.
func (r *Runner) flowStep(method, action string, actor func(*Runner) string, want int, wantCode string) func(context.Context, *Runner) Result {
	return authed(func(ctx context.Context, r *Runner) Result {
		if r.flowID == "" {
			return skip("no booking from create step")
		}
		role := "driver"
		if action == "cancel" {
			role = "rider"
		}
		res := r.send(ctx, method, "/api/bookings/"+r.flowID+"/"+action, r.token(actor(r), role), nil)
		out := expect(res, want)
		if out.Status == "PASS" && wantCode != "" && res.body["code"] != wantCode {
			return fail(fmt.Sprintf("code=%v", res.body["code"]))
		}
		return out
	})
}

func authed(fn func(context.Context, *Runner) Result) func(context.Context, *Runner) Result {
	return func(ctx context.Context, r *Runner) Result {
		if r.issuer == nil {
			return skip("jwt secret not configured")
		}
		return fn(ctx, r)
	}
}

func expect(res response, want int) Result {
	if res.err != nil {
		return fail(res.err.Error())
	}
	note := fmt.Sprintf("status=%d", res.status)
	if res.status != want {
		if msg, ok := res.body["error"].(string); ok {
			note += " error=" + msg
		}
		return Result{Status: "FAIL", Latency: res.latency, Note: note}
	}
	return Result{Status: "PASS", Latency: res.latency, Note: note}
}

func pass(note string) Result { return Result{Status: "PASS", Note: note} }
func fail(note string) Result { return Result{Status: "FAIL", Note: note} }
func skip(note string) Result { return Result{Status: "SKIP", Note: note} }

func concurrentAccept(ctx context.Context, r *Runner) Result {
	id, res := r.createBooking(ctx)
	if id == "" {
		return expect(res, http.StatusCreated)
	}

	var succ, conflicts, other atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok := r.token(fmt.Sprintf("bench-racer-%d", i), "driver")
			res := r.send(ctx, http.MethodPut, "/api/bookings/"+id+"/accept", tok, nil)
			switch res.status {
			case http.StatusOK:
				succ.Add(1)
			case http.StatusConflict:
				conflicts.Add(1)
			default:
				other.Add(1)
			}
		}(i)
	}
	wg.Wait()

	note := fmt.Sprintf("success=%d conflict=%d other=%d", succ.Load(), conflicts.Load(), other.Load())
	if succ.Load() == 1 && other.Load() == 0 {
		return pass(note)
	}
	return fail(note)
}

func perfLoad(ctx context.Context, r *Runner, path, token string, payload any) Result {
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				res := r.send(ctx, http.MethodPost, path, token, payload)
				if res.err != nil || res.status >= 500 {
					errCount.Add(1)
					continue
				}
				count.Add(1)
			}
		}()
	}
	wg.Wait()

	if count.Load() == 0 {
		return fail("no requests completed")
	}
	rps := float64(count.Load()) / r.cfg.Duration.Seconds()
	return pass(fmt.Sprintf("rps=%.1f errors=%d", rps, errCount.Load()))
}

func extractTables(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)
	matches := re.FindAllStringSubmatch(string(b), -1)
	tables := make([]string, 0, len(matches))
	for _, m := range matches {
		tables = append(tables, m[1])
	}
	return tables, nil
}

func splitSQL(sql string) []string {
	lines := strings.Split(sql, "\n")
	filtered := make([]string, 0, len(lines))
	for _, line := range lines {
		l := strings.TrimSpace(line)
		if strings.HasPrefix(l, "--") || l == "" {
			continue
		}
		filtered = append(filtered, line)
	}
	parts := strings.Split(strings.Join(filtered, "\n"), ";")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
