// README: Postgres-backed ride store tests; skipped unless HAULBID_TEST_DSN is set.
package ride

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"haulbid/internal/events"
	"haulbid/internal/types"
)

func setupPGStore(t *testing.T) (*Store, *events.Recorder) {
	t.Helper()

	dsn := os.Getenv("HAULBID_TEST_DSN")
	if dsn == "" {
		t.Skip("HAULBID_TEST_DSN not set; skipping DB-backed ride tests")
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := applyMigration(ctx, db); err != nil {
		t.Fatalf("apply migration: %v", err)
	}
	if _, err := db.Exec(ctx, "TRUNCATE TABLE ride_events, payments, bids, ride_status_history, rides"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}

	rec := events.NewRecorder()
	return NewStore(db, rec, nil), rec
}

func TestPGStore_LifecycleAndOutbox(t *testing.T) {
	store, rec := setupPGStore(t)
	ctx := context.Background()
	svc := NewService(store, NewPGPayments(store.db), nil)

	r, err := svc.Create(ctx, createCmd("pg_c1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Create(ctx, createCmd("pg_c1")); !errors.Is(err, ErrActiveRide) {
		t.Fatalf("expected ErrActiveRide, got %v", err)
	}

	f := &fixture{svc: svc, rec: rec}
	assignPG(t, store, r.ID, "pg_d1")
	f.driveTo(t, r.ID, "pg_d1", StatusInTransit)

	got, err := svc.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusInTransit || got.FinalPrice == nil || got.FinalPrice.String() != "50" {
		t.Fatalf("unexpected ride: status=%s final=%v", got.Status, got.FinalPrice)
	}
	if len(got.History) != 6 {
		t.Fatalf("expected 6 history entries, got %d", len(got.History))
	}

	var outbox int
	if err := store.db.QueryRow(ctx, `SELECT count(*) FROM ride_events WHERE ride_id = $1 AND published_at IS NOT NULL`, string(r.ID)).Scan(&outbox); err != nil {
		t.Fatalf("count outbox: %v", err)
	}
	if outbox != len(rec.ForRide(r.ID)) {
		t.Fatalf("outbox has %d published rows, recorder saw %d events", outbox, len(rec.ForRide(r.ID)))
	}
}

func TestPGStore_ConcurrentAdvance(t *testing.T) {
	store, _ := setupPGStore(t)
	ctx := context.Background()
	svc := NewService(store, nil, nil)

	r, err := svc.Create(ctx, createCmd("pg_c2"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	assignPG(t, store, r.ID, "pg_d2")

	const attempts = 8
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Advance(ctx, AdvanceCommand{RideID: r.ID, DriverID: "pg_d2", Expected: StatusBidAccepted})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
		} else if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly 1 success, got %d", success)
	}
}

func TestPGStore_SaveLocation(t *testing.T) {
	store, _ := setupPGStore(t)
	ctx := context.Background()
	svc := NewService(store, nil, nil)

	r, err := svc.Create(ctx, createCmd("pg_c3"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	sample := types.LocationSample{Point: types.Point{Lat: 48.1, Lng: 2.2}, RecordedAt: r.CreatedAt}
	if err := store.SaveLocation(ctx, r.ID, sample); err != nil {
		t.Fatalf("save location: %v", err)
	}
	got, _ := store.Get(ctx, r.ID)
	if got.LastLocation == nil || got.LastLocation.Point != sample.Point {
		t.Fatalf("unexpected location: %+v", got.LastLocation)
	}
	if err := store.SaveLocation(ctx, "missing", sample); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func assignPG(t *testing.T, store *Store, rideID, driverID types.ID) {
	t.Helper()
	err := store.InRide(context.Background(), rideID, func(u *Unit) error {
		return acceptForTest(u, driverID, "50")
	})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
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
		if stmt := strings.TrimSpace(p); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
