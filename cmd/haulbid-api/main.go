// README: Entry point; loads config, wires services, starts HTTP server and background schedulers.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"haulbid/internal/config"
	"haulbid/internal/events"
	httpapi "haulbid/internal/http"
	"haulbid/internal/http/handlers"
	"haulbid/internal/infra"
	"haulbid/internal/maps"
	"haulbid/internal/modules/bidding"
	"haulbid/internal/modules/pricing"
	"haulbid/internal/modules/ride"
	"haulbid/internal/modules/tracking"
)

func main() {
	envFile := pflag.String("env-file", ".env", "dotenv file loaded before the environment")
	storage := pflag.String("storage", "", "storage driver override (postgres|memory)")
	pricingFile := pflag.String("pricing-file", "", "YAML pricing configuration override")
	pflag.Parse()

	cfg, err := config.LoadWithOverrides(*envFile, config.Overrides{
		Storage:     *storage,
		PricingFile: *pricingFile,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}

	log := infra.NewLogger("haulbid-api", cfg.Log.Level, cfg.Log.Format)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("haulbid-api exited", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	verifier, err := infra.NewJWTAuth(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = infra.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password)
		if err != nil {
			return err
		}
		defer rdb.Close()
	}

	var db *pgxpool.Pool
	if cfg.Storage.Driver == config.StoragePostgres {
		db, err = infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			return err
		}
		defer db.Close()
	}

	hub := tracking.NewHub(log)
	sink := events.Fanout{hub}
	if cfg.AMQP.Enabled {
		conn, err := infra.NewRabbitMQ(ctx, cfg.AMQP.URL, log)
		if err != nil {
			return err
		}
		defer conn.Close()
		amqpSink, err := events.NewAMQPSink(conn, cfg.AMQP.Exchange, log)
		if err != nil {
			return err
		}
		defer amqpSink.Close()
		sink = append(sink, amqpSink)
	}

	var (
		repo     ride.Repository
		payments ride.PaymentChecker
	)
	if db != nil {
		repo = ride.NewStore(db, sink, log)
		payments = ride.NewPGPayments(db)
	} else {
		log.Warn("using in-memory storage; state is lost on restart")
		repo = ride.NewMemoryStore(sink, log)
		payments = ride.NewMemoryPayments()
	}

	source, err := pricingSource(cfg, db, rdb, log)
	if err != nil {
		return err
	}
	router, geocoder, err := mapsClients(cfg, rdb, log)
	if err != nil {
		return err
	}

	rides := ride.NewService(repo, payments, log)
	ledger := bidding.NewLedger(repo, bidding.Config{
		BidTTL:        cfg.Bidding.BidTTL,
		SweepInterval: cfg.Bidding.SweepInterval,
	}, log)

	var mirror tracking.Mirror = tracking.NewMemoryThrottle(cfg.Tracking.MirrorInterval)
	if rdb != nil {
		mirror = tracking.NewRedisMirror(rdb, cfg.Tracking.MirrorInterval)
	}
	trackSvc := tracking.NewService(rides, hub, mirror, log)
	transport := tracking.NewTransport(trackSvc, tracking.TransportConfig{
		SendBuffer: cfg.Tracking.SendBuffer,
		PongWait:   cfg.Tracking.PongWait,
	}, log)

	handler := httpapi.NewRouter(httpapi.RouterDeps{
		Pricing:     pricing.NewService(router, source, log),
		Rides:       rides,
		Ledger:      ledger,
		Tracking:    trackSvc,
		Transport:   transport,
		Geocoder:    geocoder,
		Verifier:    verifier,
		Log:         log,
		CORSOrigins: cfg.HTTP.CORSOrigins,
		Ready:       readiness(db, rdb),
	})

	go ledger.RunExpiryTicker(ctx)

	server := httpapi.NewServer(httpapi.ServerConfig{
		Addr:            cfg.HTTP.Addr,
		ReadTimeout:     cfg.HTTP.ReadTimeout,
		WriteTimeout:    cfg.HTTP.WriteTimeout,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
	}, handler, log)
	return server.Run(ctx)
}

func pricingSource(cfg config.Config, db *pgxpool.Pool, rdb *redis.Client, log *slog.Logger) (pricing.ConfigSource, error) {
	var src pricing.ConfigSource
	switch {
	case cfg.Pricing.ConfigFile != "":
		src = pricing.NewFileSource(cfg.Pricing.ConfigFile)
	case db != nil:
		src = pricing.NewStore(db)
	default:
		return nil, errors.New("pricing: set HAULBID_PRICING_FILE when running without postgres")
	}
	if rdb != nil {
		src = pricing.NewCachedSource(src, rdb, cfg.Pricing.CacheTTL, log)
	}
	return src, nil
}

// mapsClients returns the routing collaborator and, when an API key is set,
// the geocoder. Without a key routes are great-circle estimates.
func mapsClients(cfg config.Config, rdb *redis.Client, log *slog.Logger) (maps.Router, handlers.Geocoder, error) {
	if cfg.Maps.APIKey == "" {
		log.Warn("GOOGLE_MAPS_API_KEY not set; using great-circle routing")
		return &maps.GreatCircleRouter{Detour: cfg.Maps.Detour, Kmh: maps.DefaultAverageKmh}, nil, nil
	}
	opts := maps.Options{Language: cfg.Maps.Language, Region: cfg.Maps.Region}
	routes, err := maps.NewRouteService(cfg.Maps.APIKey, opts)
	if err != nil {
		return nil, nil, err
	}
	geo, err := maps.NewGeocodeService(cfg.Maps.APIKey, opts)
	if err != nil {
		return nil, nil, err
	}
	var router maps.Router = routes
	if rdb != nil {
		router = maps.NewCachedRouter(routes, rdb, cfg.Maps.CacheTTL, log)
	}
	return router, geo, nil
}

func readiness(db *pgxpool.Pool, rdb *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		if db != nil {
			if err := db.Ping(ctx); err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
		}
		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
		}
		return nil
	}
}
