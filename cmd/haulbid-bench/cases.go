// README: Benchmark cases: environment checks, API flows, concurrency races and throughput.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"haulbid/internal/infra"
	"haulbid/internal/types"
)

const (
	statusPass = "PASS"
	statusFail = "FAIL"
	statusSkip = "SKIP"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	auth  *infra.JWTAuth
	db    *pgxpool.Pool
	redis *redis.Client

	// Shared across the ordered API cases.
	customer types.ID
	drivers  []types.ID
	rideID   string
	bidIDs   map[types.ID]string
	winner   types.ID
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

func NewRunner(cfg Config) (*Runner, error) {
	auth, err := infra.NewJWTAuth(cfg.JWTSecret, time.Hour)
	if err != nil {
		return nil, fmt.Errorf("HAULBID_JWT_SECRET: %w", err)
	}
	r := &Runner{
		cfg:      cfg,
		httpc:    &http.Client{Timeout: 10 * time.Second},
		auth:     auth,
		customer: types.NewID(),
		bidIDs:   make(map[types.ID]string),
	}
	for i := 0; i < cfg.Concurrency; i++ {
		r.drivers = append(r.drivers, types.NewID())
	}
	return r, nil
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr, Password: r.cfg.RedisPassword})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))
	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
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

var quoteBody = map[string]any{
	"pickup":       map[string]any{"lat": 48.8566, "lng": 2.3522, "address": "1 Rue de Rivoli, Paris"},
	"dropoff":      map[string]any{"lat": 48.8049, "lng": 2.1204, "address": "Place d'Armes, Versailles"},
	"vehicle_type": "MEDIUM_VAN",
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{Name: "Env: Postgres connect", Run: func(ctx context.Context, r *Runner) Result {
			if r.db == nil {
				return Result{Status: statusSkip, Note: "db not configured"}
			}
			ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			if err := r.db.Ping(ctx); err != nil {
				return Result{Status: statusFail, Note: err.Error()}
			}
			return Result{Status: statusPass}
		}},
		{Name: "Env: Redis connect", Run: func(ctx context.Context, r *Runner) Result {
			if r.redis == nil {
				return Result{Status: statusSkip, Note: "redis not configured"}
			}
			ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			if err := r.redis.Ping(ctx).Err(); err != nil {
				return Result{Status: statusFail, Note: err.Error()}
			}
			return Result{Status: statusPass}
		}},
		{Name: "Migration: apply (optional)", Run: applyMigration},
		{Name: "Migration: tables exist", Run: tablesExist},
		{Name: "API: health", Run: func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodGet, "/health", "", nil, nil, http.StatusOK)
		}},
		{Name: "Pricing: quote (valid)", Run: func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodPost, "/api/quotes", r.token(r.customer, types.RoleCustomer), quoteBody, nil, http.StatusOK)
		}},
		{Name: "Pricing: unknown vehicle -> 400", Run: func(ctx context.Context, r *Runner) Result {
			body := map[string]any{"pickup": quoteBody["pickup"], "dropoff": quoteBody["dropoff"], "vehicle_type": "BUS"}
			return r.expect(ctx, http.MethodPost, "/api/quotes", r.token(r.customer, types.RoleCustomer), body, nil, http.StatusBadRequest)
		}},
		{Name: "Ride: create", Run: func(ctx context.Context, r *Runner) Result {
			var out struct {
				Ride struct {
					ID string `json:"id"`
				} `json:"ride"`
			}
			res := r.expect(ctx, http.MethodPost, "/api/rides", r.token(r.customer, types.RoleCustomer), quoteBody, &out, http.StatusCreated)
			r.rideID = out.Ride.ID
			return res
		}},
		{Name: "Ride: second active ride -> 409", Run: func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodPost, "/api/rides", r.token(r.customer, types.RoleCustomer), quoteBody, nil, http.StatusConflict)
		}},
		{Name: "Bids: concurrent submit", Run: concurrentSubmit},
		{Name: "Concurrency: accept every bid at once", Run: concurrentAccept},
		{Name: "Concurrency: one ACCEPTED, siblings REJECTED", Run: verifySingleWinner},
		{Name: "Lifecycle: winner drives to completion", Run: driveToCompletion},
		{Name: "Perf: quote throughput", Run: func(ctx context.Context, r *Runner) Result {
			return perfLoad(ctx, r, "/api/quotes", r.token(r.customer, types.RoleCustomer), quoteBody)
		}},
	}
}

func (r *Runner) token(id types.ID, role types.Role) string {
	tok, _ := r.auth.Issue(id, role)
	return tok
}

func (r *Runner) do(ctx context.Context, method, path, token string, body any) (int, []byte, time.Duration, error) {
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, 0, err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, raw, time.Since(start), nil
}

// expect performs one request and passes when the status matches; out, if
// non-nil, receives the decoded body.
func (r *Runner) expect(ctx context.Context, method, path, token string, body, out any, want int) Result {
	status, raw, latency, err := r.do(ctx, method, path, token, body)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	if status != want {
		return Result{Status: statusFail, Latency: latency, Note: fmt.Sprintf("status=%d body=%s", status, truncate(raw))}
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return Result{Status: statusFail, Latency: latency, Note: err.Error()}
		}
	}
	return Result{Status: statusPass, Latency: latency, Note: fmt.Sprintf("status=%d", status)}
}

func concurrentSubmit(ctx context.Context, r *Runner) Result {
	if r.rideID == "" {
		return Result{Status: statusSkip, Note: "no ride"}
	}
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		fail []string
	)
	start := time.Now()
	for i, d := range r.drivers {
		wg.Add(1)
		go func(i int, d types.ID) {
			defer wg.Done()
			body := map[string]any{"proposed_price": fmt.Sprintf("%d.00", 45+i), "estimated_arrival_min": 5 + i}
			status, raw, _, err := r.do(ctx, http.MethodPost, "/api/rides/"+r.rideID+"/bids", r.token(d, types.RoleDriver), body)
			mu.Lock()
			defer mu.Unlock()
			if err != nil || status != http.StatusCreated {
				fail = append(fail, fmt.Sprintf("status=%d err=%v", status, err))
				return
			}
			var b struct {
				ID string `json:"id"`
			}
			_ = json.Unmarshal(raw, &b)
			r.bidIDs[d] = b.ID
		}(i, d)
	}
	wg.Wait()
	if len(fail) > 0 {
		return Result{Status: statusFail, Note: fmt.Sprintf("%d failed, first: %s", len(fail), fail[0])}
	}
	return Result{Status: statusPass, Latency: time.Since(start), Note: fmt.Sprintf("bids=%d", len(r.bidIDs))}
}

func concurrentAccept(ctx context.Context, r *Runner) Result {
	if len(r.bidIDs) == 0 {
		return Result{Status: statusSkip, Note: "no bids"}
	}
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succ      int
		conflicts int
		other     []int
	)
	tok := r.token(r.customer, types.RoleCustomer)
	for d, bidID := range r.bidIDs {
		wg.Add(1)
		go func(d types.ID, bidID string) {
			defer wg.Done()
			status, _, _, err := r.do(ctx, http.MethodPost, "/api/rides/"+r.rideID+"/bids/"+bidID+"/accept", tok, nil)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				other = append(other, 0)
			case status == http.StatusOK:
				succ++
				r.winner = d
			case status == http.StatusConflict:
				conflicts++
			default:
				other = append(other, status)
			}
		}(d, bidID)
	}
	wg.Wait()

	note := fmt.Sprintf("success=%d conflicts=%d other=%v", succ, conflicts, other)
	if succ != 1 || len(other) > 0 {
		return Result{Status: statusFail, Note: note}
	}
	return Result{Status: statusPass, Note: note}
}

func verifySingleWinner(ctx context.Context, r *Runner) Result {
	if r.winner == "" {
		return Result{Status: statusSkip, Note: "no winner"}
	}
	var out struct {
		Bids []struct {
			DriverID types.ID `json:"driver_id"`
			Status   string   `json:"status"`
		} `json:"bids"`
	}
	res := r.expect(ctx, http.MethodGet, "/api/rides/"+r.rideID+"/bids", r.token(r.customer, types.RoleCustomer), nil, &out, http.StatusOK)
	if res.Status != statusPass {
		return res
	}
	accepted := 0
	for _, b := range out.Bids {
		switch {
		case b.Status == "ACCEPTED" && b.DriverID == r.winner:
			accepted++
		case b.Status == "ACCEPTED":
			return Result{Status: statusFail, Note: "unexpected winner " + b.DriverID.String()}
		case b.Status != "REJECTED" && b.Status != "EXPIRED":
			return Result{Status: statusFail, Note: "sibling left in " + b.Status}
		}
	}
	if accepted != 1 {
		return Result{Status: statusFail, Note: fmt.Sprintf("accepted=%d", accepted)}
	}
	return Result{Status: statusPass, Note: fmt.Sprintf("bids=%d", len(out.Bids))}
}

func driveToCompletion(ctx context.Context, r *Runner) Result {
	if r.winner == "" {
		return Result{Status: statusSkip, Note: "no winner"}
	}
	tok := r.token(r.winner, types.RoleDriver)
	base := "/api/rides/" + r.rideID
	start := time.Now()
	steps := []string{"BID_ACCEPTED", "DRIVER_ARRIVING", "PICKUP_ARRIVED", "LOADING", "IN_TRANSIT"}
	for _, from := range steps {
		if res := r.expect(ctx, http.MethodPost, base+"/advance", tok, map[string]any{"expected_status": from}, nil, http.StatusOK); res.Status != statusPass {
			return Result{Status: statusFail, Note: "advance from " + from + ": " + res.Note}
		}
		if from == "IN_TRANSIT" {
			break
		}
		if from == "LOADING" {
			loc := map[string]any{"lat": 48.83, "lng": 2.25}
			if res := r.expect(ctx, http.MethodPost, base+"/location", tok, loc, nil, http.StatusAccepted); res.Status != statusPass {
				return Result{Status: statusFail, Note: "location: " + res.Note}
			}
		}
	}
	if res := r.expect(ctx, http.MethodPost, base+"/confirm-delivery", tok, nil, nil, http.StatusNoContent); res.Status != statusPass {
		return Result{Status: statusFail, Note: "confirm: " + res.Note}
	}
	res := r.expect(ctx, http.MethodPost, base+"/advance", tok, map[string]any{"expected_status": "DROPOFF_ARRIVED"}, nil, http.StatusOK)
	res.Latency = time.Since(start)
	return res
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
				status, _, _, err := r.do(ctx, http.MethodPost, path, token, payload)
				if err != nil || status >= 500 {
					errCount.Add(1)
					continue
				}
				count.Add(1)
			}
		}()
	}
	wg.Wait()

	if count.Load() == 0 {
		return Result{Status: statusFail, Note: "no requests completed"}
	}
	rps := float64(count.Load()) / r.cfg.Duration.Seconds()
	return Result{Status: statusPass, Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount.Load())}
}

func applyMigration(ctx context.Context, r *Runner) Result {
	if !r.cfg.ApplyMigration {
		return Result{Status: statusSkip, Note: "apply-migration=false"}
	}
	if r.db == nil {
		return Result{Status: statusFail, Note: "db not configured"}
	}
	sql, err := os.ReadFile(r.cfg.MigrationPath)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	for _, s := range splitSQL(string(sql)) {
		if _, err := r.db.Exec(ctx, s); err != nil {
			return Result{Status: statusFail, Note: err.Error()}
		}
	}
	return Result{Status: statusPass}
}

func tablesExist(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: statusSkip, Note: "db not configured"}
	}
	tables, err := extractTables(r.cfg.MigrationPath)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	for _, t := range tables {
		var exists bool
		err := r.db.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)", t,
		).Scan(&exists)
		if err != nil {
			return Result{Status: statusFail, Note: err.Error()}
		}
		if !exists {
			return Result{Status: statusFail, Note: "missing table: " + t}
		}
	}
	return Result{Status: statusPass, Note: fmt.Sprintf("tables=%d", len(tables))}
}

func truncate(b []byte) string {
	const max = 200
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
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
