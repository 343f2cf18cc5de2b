// README: Pricing configuration store backed by PostgreSQL (vehicle_types, pricing_settings, pricing_windows).
package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"haulbid/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Load(ctx context.Context) (Config, error) {
	var (
		cfg                                 Config
		oneWay, roundTrip                   string
		weekend, peak, night                string
		trafficLow, trafficMedium, trafficD string
		fee, bandLow, bandHigh              string
	)
	err := s.db.QueryRow(ctx, `
		SELECT one_way_coef::text, round_trip_coef::text,
		       weekend_coef::text, peak_coef::text, night_coef::text,
		       traffic_low_coef::text, traffic_medium_coef::text, traffic_dense_coef::text,
		       convoyeur_fee::text, band_low::text, band_high::text, currency
		FROM pricing_settings WHERE id = 1`,
	).Scan(&oneWay, &roundTrip, &weekend, &peak, &night,
		&trafficLow, &trafficMedium, &trafficD, &fee, &bandLow, &bandHigh, &cfg.Currency)
	if errors.Is(err, pgx.ErrNoRows) {
		return Config{}, ErrMissingConfiguration
	}
	if err != nil {
		return Config{}, fmt.Errorf("load pricing settings: %w", err)
	}

	dec := decimalParser{}
	cfg.TripType = map[types.TripType]decimal.Decimal{
		types.TripOneWay:    dec.parse(oneWay),
		types.TripRoundTrip: dec.parse(roundTrip),
	}
	cfg.Weekend = dec.parse(weekend)
	cfg.Peak = dec.parse(peak)
	cfg.Night = dec.parse(night)
	cfg.Traffic = map[Traffic]decimal.Decimal{
		TrafficLow:    dec.parse(trafficLow),
		TrafficMedium: dec.parse(trafficMedium),
		TrafficDense:  dec.parse(trafficD),
	}
	cfg.ConvoyeurFee = dec.parse(fee)
	cfg.BandLow = dec.parse(bandLow)
	cfg.BandHigh = dec.parse(bandHigh)
	if dec.err != nil {
		return Config{}, dec.err
	}

	if cfg.Vehicles, err = s.vehicles(ctx); err != nil {
		return Config{}, err
	}
	if cfg.PeakWindows, cfg.NightWindows, err = s.windows(ctx); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (s *Store) vehicles(ctx context.Context) (map[types.VehicleType]VehicleParams, error) {
	rows, err := s.db.Query(ctx, `
		SELECT code, price_per_km::text, price_per_hour::text, minimum_price::text
		FROM vehicle_types WHERE active`)
	if err != nil {
		return nil, fmt.Errorf("load vehicle types: %w", err)
	}
	defer rows.Close()

	out := map[types.VehicleType]VehicleParams{}
	for rows.Next() {
		var code, perKm, perHour, minimum string
		if err := rows.Scan(&code, &perKm, &perHour, &minimum); err != nil {
			return nil, err
		}
		dec := decimalParser{}
		out[types.VehicleType(code)] = VehicleParams{
			PricePerKm:   dec.parse(perKm),
			PricePerHour: dec.parse(perHour),
			MinimumPrice: dec.parse(minimum),
		}
		if dec.err != nil {
			return nil, dec.err
		}
	}
	return out, rows.Err()
}

func (s *Store) windows(ctx context.Context) (peak, night []Window, err error) {
	rows, err := s.db.Query(ctx, `SELECT kind, start_hm, end_hm FROM pricing_windows ORDER BY id`)
	if err != nil {
		return nil, nil, fmt.Errorf("load pricing windows: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind, start, end string
		if err := rows.Scan(&kind, &start, &end); err != nil {
			return nil, nil, err
		}
		w, err := ParseWindow(start, end)
		if err != nil {
			return nil, nil, err
		}
		if kind == "peak" {
			peak = append(peak, w)
		} else {
			night = append(night, w)
		}
	}
	return peak, night, rows.Err()
}

// decimalParser keeps the first parse error so a row can be decoded in one pass.
type decimalParser struct {
	err error
}

func (p *decimalParser) parse(v string) decimal.Decimal {
	d, err := decimal.NewFromString(v)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("parse decimal %q: %w", v, err)
	}
	return d
}
