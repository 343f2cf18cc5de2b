// README: Ride store backed by PostgreSQL; one transaction with SELECT ... FOR UPDATE per ride unit, events written to an outbox.
package ride

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"haulbid/internal/events"
	"haulbid/internal/types"
)

const pgUniqueViolation = "23505"

type Store struct {
	db    *pgxpool.Pool
	sink  events.Sink
	log   *slog.Logger
	locks *keyedLock
	now   func() time.Time
}

func NewStore(db *pgxpool.Pool, sink events.Sink, log *slog.Logger) *Store {
	if sink == nil {
		sink = events.Discard
	}
	if log == nil {
		log = slog.Default()
	}
	return &Store{db: db, sink: sink, log: log, locks: newKeyedLock(), now: time.Now}
}

const rideColumns = `
	id, customer_id, driver_id, status,
	pickup_lat, pickup_lng, pickup_address, pickup_notes,
	dropoff_lat, dropoff_lng, dropoff_address, dropoff_notes,
	vehicle_type, trip_type, convoyeur, distance_km, duration_min,
	est_min_price::text, est_max_price::text, final_price::text, currency,
	winning_bid_id, payment_method, driver_confirmed_at, cancel_reason, failure_reason,
	last_lat, last_lng, last_speed, last_heading, last_recorded_at,
	created_at, updated_at`

const bidColumns = `
	id, ride_id, driver_id, proposed_price::text, eta_min, message, status,
	expires_at, created_at, updated_at`

func (s *Store) Create(ctx context.Context, r *Ride) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO rides (
			id, customer_id, status,
			pickup_lat, pickup_lng, pickup_address, pickup_notes,
			dropoff_lat, dropoff_lng, dropoff_address, dropoff_notes,
			vehicle_type, trip_type, convoyeur, distance_km, duration_min,
			est_min_price, est_max_price, currency, payment_method,
			created_at, updated_at
		) VALUES (
			$1, $2, $3,
			$4, $5, $6, $7,
			$8, $9, $10, $11,
			$12, $13, $14, $15, $16,
			$17::numeric, $18::numeric, $19, $20,
			$21, $21
		)`,
		string(r.ID), string(r.CustomerID), string(r.Status),
		r.Pickup.Point.Lat, r.Pickup.Point.Lng, r.Pickup.Address, r.Pickup.AccessNotes,
		r.Dropoff.Point.Lat, r.Dropoff.Point.Lng, r.Dropoff.Address, r.Dropoff.AccessNotes,
		string(r.VehicleType), string(r.TripType), r.Convoyeur, r.DistanceKm, r.EstimatedDurationMin,
		r.EstimatedMinPrice.String(), r.EstimatedMaxPrice.String(), r.Currency, string(r.PaymentMethod),
		r.CreatedAt,
	)
	if isUniqueViolation(err, "rides_one_active_per_customer") {
		return ErrActiveRide
	}
	if err != nil {
		return fmt.Errorf("insert ride: %w", err)
	}
	if err := insertHistory(ctx, tx, r.ID, r.History); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) InRide(ctx context.Context, rideID types.ID, fn func(u *Unit) error) error {
	// The process-local lock keeps publish order equal to commit order;
	// FOR UPDATE serializes against other instances.
	unlock := s.locks.Lock(rideID)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	r, err := scanRide(tx.QueryRow(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = $1 FOR UPDATE`, string(rideID)))
	if err != nil {
		return err
	}
	if r.History, err = loadHistory(ctx, tx, rideID); err != nil {
		return err
	}
	bids, err := queryBids(ctx, tx, `SELECT `+bidColumns+` FROM bids WHERE ride_id = $1 ORDER BY created_at, id FOR UPDATE`, string(rideID))
	if err != nil {
		return err
	}

	u := newUnit(r, bids, s.now())
	if err := fn(u); err != nil {
		return err
	}
	if u.empty() {
		return u.rejected
	}
	if err := s.apply(ctx, tx, u); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ride %s: %w", rideID, err)
	}

	publish(ctx, s.sink, s.log, u.events)
	s.markPublished(ctx, u.events)
	return u.rejected
}

func (s *Store) apply(ctx context.Context, tx pgx.Tx, u *Unit) error {
	if u.rideDirty {
		if err := updateRide(ctx, tx, u.Ride); err != nil {
			return err
		}
	}
	if err := insertHistory(ctx, tx, u.Ride.ID, u.history); err != nil {
		return err
	}
	for _, b := range u.inserted {
		_, err := tx.Exec(ctx, `
			INSERT INTO bids (id, ride_id, driver_id, proposed_price, eta_min, message, status, expires_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10)`,
			string(b.ID), string(b.RideID), string(b.DriverID), b.ProposedPrice.String(),
			b.EstimatedArrivalMin, b.Message, string(b.Status), b.ExpiresAt, b.CreatedAt, b.UpdatedAt,
		)
		if isUniqueViolation(err, "bids_one_active_per_driver") {
			return ErrDuplicateActiveBid
		}
		if err != nil {
			return fmt.Errorf("insert bid: %w", err)
		}
	}
	for _, b := range u.updatedBids() {
		// Terminal bid statuses are immutable; the guard keeps that true in SQL too.
		tag, err := tx.Exec(ctx, `
			UPDATE bids SET status = $2, updated_at = $3
			WHERE id = $1 AND status = 'ACTIVE'`,
			string(b.ID), string(b.Status), b.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("update bid %s: %w", b.ID, err)
		}
		if tag.RowsAffected() != 1 {
			return ErrBidNotActive
		}
	}
	for _, ev := range u.events {
		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO ride_events (id, ride_id, type, audience, payload, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			string(ev.ID), string(ev.RideID), string(ev.Type), string(ev.Audience), payload, ev.OccurredAt,
		); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}
	return nil
}

func (s *Store) markPublished(ctx context.Context, evs []events.Event) {
	if len(evs) == 0 {
		return
	}
	ids := make([]string, len(evs))
	for i, ev := range evs {
		ids[i] = string(ev.ID)
	}
	if _, err := s.db.Exec(ctx, `UPDATE ride_events SET published_at = now() WHERE id = ANY($1)`, ids); err != nil {
		s.log.Warn("mark events published failed", "ride_id", evs[0].RideID, "err", err)
	}
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Ride, error) {
	r, err := scanRide(s.db.QueryRow(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = $1`, string(id)))
	if err != nil {
		return nil, err
	}
	if r.History, err = loadHistory(ctx, s.db, id); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Store) ListBids(ctx context.Context, rideID types.ID) ([]*Bid, error) {
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM rides WHERE id = $1)`, string(rideID)).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}
	return queryBids(ctx, s.db, `SELECT `+bidColumns+` FROM bids WHERE ride_id = $1 ORDER BY created_at, id`, string(rideID))
}

func (s *Store) RidesWithDueBids(ctx context.Context, now time.Time, limit int) ([]types.ID, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT DISTINCT ride_id FROM bids
		WHERE status = 'ACTIVE' AND expires_at <= $1
		ORDER BY ride_id
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []types.ID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, types.ID(id))
	}
	return out, rows.Err()
}

// SaveLocation is a plain row update; it does not take the ride lock since
// the mirrored sample is advisory and never read by a state transition.
func (s *Store) SaveLocation(ctx context.Context, rideID types.ID, sample types.LocationSample) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE rides SET last_lat = $2, last_lng = $3, last_speed = $4, last_heading = $5, last_recorded_at = $6
		WHERE id = $1`,
		string(rideID), sample.Point.Lat, sample.Point.Lng, sample.Speed, sample.Heading, sample.RecordedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func updateRide(ctx context.Context, tx pgx.Tx, r *Ride) error {
	var finalPrice *string
	if r.FinalPrice != nil {
		v := r.FinalPrice.String()
		finalPrice = &v
	}
	_, err := tx.Exec(ctx, `
		UPDATE rides SET
			driver_id = $2, status = $3, final_price = $4::numeric, winning_bid_id = $5,
			driver_confirmed_at = $6, cancel_reason = $7, failure_reason = $8,
			pickup_address = $9, dropoff_address = $10, updated_at = $11
		WHERE id = $1`,
		string(r.ID), idPtr(r.DriverID), string(r.Status), finalPrice, idPtr(r.WinningBidID),
		r.DriverConfirmedAt, r.CancelReason, r.FailureReason,
		r.Pickup.Address, r.Dropoff.Address, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update ride %s: %w", r.ID, err)
	}
	return nil
}

func insertHistory(ctx context.Context, tx pgx.Tx, rideID types.ID, entries []HistoryEntry) error {
	for _, h := range entries {
		if _, err := tx.Exec(ctx, `
			INSERT INTO ride_status_history (ride_id, status, actor_id, actor_role, note, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			string(rideID), string(h.Status), string(h.ActorID), string(h.ActorRole), h.Note, h.At,
		); err != nil {
			return fmt.Errorf("insert history: %w", err)
		}
	}
	return nil
}

func loadHistory(ctx context.Context, q queryer, rideID types.ID) ([]HistoryEntry, error) {
	rows, err := q.Query(ctx, `
		SELECT status, actor_id, actor_role, note, created_at
		FROM ride_status_history WHERE ride_id = $1 ORDER BY id`, string(rideID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(&h.Status, &h.ActorID, &h.ActorRole, &h.Note, &h.At); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func scanRide(row pgx.Row) (*Ride, error) {
	var (
		r                                  Ride
		driverID, winningBidID, finalPrice *string
		minPrice, maxPrice                 string
		lastLat, lastLng                   *float64
		lastSpeed, lastHeading             *float64
		lastAt                             *time.Time
	)
	err := row.Scan(
		&r.ID, &r.CustomerID, &driverID, &r.Status,
		&r.Pickup.Point.Lat, &r.Pickup.Point.Lng, &r.Pickup.Address, &r.Pickup.AccessNotes,
		&r.Dropoff.Point.Lat, &r.Dropoff.Point.Lng, &r.Dropoff.Address, &r.Dropoff.AccessNotes,
		&r.VehicleType, &r.TripType, &r.Convoyeur, &r.DistanceKm, &r.EstimatedDurationMin,
		&minPrice, &maxPrice, &finalPrice, &r.Currency,
		&winningBidID, &r.PaymentMethod, &r.DriverConfirmedAt, &r.CancelReason, &r.FailureReason,
		&lastLat, &lastLng, &lastSpeed, &lastHeading, &lastAt,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if r.EstimatedMinPrice, err = decimal.NewFromString(minPrice); err != nil {
		return nil, err
	}
	if r.EstimatedMaxPrice, err = decimal.NewFromString(maxPrice); err != nil {
		return nil, err
	}
	if finalPrice != nil {
		d, err := decimal.NewFromString(*finalPrice)
		if err != nil {
			return nil, err
		}
		r.FinalPrice = &d
	}
	r.DriverID = toIDPtr(driverID)
	r.WinningBidID = toIDPtr(winningBidID)
	if lastLat != nil && lastLng != nil && lastAt != nil {
		r.LastLocation = &types.LocationSample{
			Point:      types.Point{Lat: *lastLat, Lng: *lastLng},
			Speed:      lastSpeed,
			Heading:    lastHeading,
			RecordedAt: *lastAt,
		}
	}
	return &r, nil
}

func queryBids(ctx context.Context, q queryer, sql string, args ...any) ([]*Bid, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Bid
	for rows.Next() {
		var b Bid
		var price string
		if err := rows.Scan(
			&b.ID, &b.RideID, &b.DriverID, &price, &b.EstimatedArrivalMin, &b.Message, &b.Status,
			&b.ExpiresAt, &b.CreatedAt, &b.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if b.ProposedPrice, err = decimal.NewFromString(price); err != nil {
			return nil, err
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == constraint
}

func idPtr(id *types.ID) *string {
	if id == nil {
		return nil
	}
	v := string(*id)
	return &v
}

func toIDPtr(s *string) *types.ID {
	if s == nil {
		return nil
	}
	id := types.ID(*s)
	return &id
}
