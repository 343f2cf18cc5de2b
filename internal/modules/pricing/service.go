// README: Pricing service resolves route and configuration, then runs the pure engine.
package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"haulbid/internal/types"
)

type Router interface {
	Route(ctx context.Context, from, to types.Point) (types.Route, error)
}

type ConfigSource interface {
	Load(ctx context.Context) (Config, error)
}

type Service struct {
	router Router
	source ConfigSource
	log    *slog.Logger
	now    func() time.Time
}

func NewService(router Router, source ConfigSource, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{router: router, source: source, log: log, now: time.Now}
}

type QuoteRequest struct {
	Pickup      types.Point
	Dropoff     types.Point
	VehicleType types.VehicleType
	TripType    types.TripType
	DepartureAt time.Time
	Traffic     Traffic
	Convoyeur   bool
}

type Quote struct {
	Route       types.Route       `json:"route"`
	VehicleType types.VehicleType `json:"vehicle_type"`
	TripType    types.TripType    `json:"trip_type"`
	DepartureAt time.Time         `json:"departure_at"`
	Breakdown   Breakdown         `json:"breakdown"`
	MinPrice    decimal.Decimal   `json:"estimated_min_price"`
	MaxPrice    decimal.Decimal   `json:"estimated_max_price"`
	Currency    string            `json:"currency"`
}

// Quote is estimatePrice: it fails with ErrRoutingUnavailable when the
// routing collaborator fails and never touches ride or bid state.
func (s *Service) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	if !req.Pickup.Valid() || !req.Dropoff.Valid() {
		return Quote{}, ErrInvalidRoute
	}
	cfg, err := s.source.Load(ctx)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %v", ErrMissingConfiguration, err)
	}
	if _, ok := cfg.Vehicles[req.VehicleType]; !ok {
		return Quote{}, ErrUnknownVehicleType
	}

	route, err := s.router.Route(ctx, req.Pickup, req.Dropoff)
	if err != nil {
		s.log.Warn("route lookup failed", "err", err)
		return Quote{}, fmt.Errorf("%w: %v", ErrRoutingUnavailable, err)
	}

	departure := req.DepartureAt
	if departure.IsZero() {
		departure = s.now()
	}
	loc, err := location(cfg.Timezone)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %v", ErrMissingConfiguration, err)
	}
	departure = departure.In(loc)

	tripType := req.TripType
	if tripType == "" {
		tripType = types.TripOneWay
	}
	b, err := Calculate(Input{
		DistanceKm:  route.DistanceKm,
		DurationMin: route.DurationMin,
		VehicleType: req.VehicleType,
		TripType:    tripType,
		DepartureAt: departure,
		Traffic:     req.Traffic,
		Convoyeur:   req.Convoyeur,
	}, cfg)
	if err != nil {
		return Quote{}, err
	}
	lo, hi := Band(b, cfg)
	currency := cfg.Currency
	if currency == "" {
		currency = types.DefaultCurrency
	}
	return Quote{
		Route:       route,
		VehicleType: req.VehicleType,
		TripType:    tripType,
		DepartureAt: departure,
		Breakdown:   b,
		MinPrice:    lo,
		MaxPrice:    hi,
		Currency:    currency,
	}, nil
}

func location(tz string) (*time.Location, error) {
	if tz == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(tz)
}

// StaticSource serves a fixed configuration.
type StaticSource Config

func (s StaticSource) Load(context.Context) (Config, error) {
	return Config(s), nil
}
