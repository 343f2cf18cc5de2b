// README: Benchmark runner; exercises the API end to end (bidding races, lifecycle, throughput) and prints results.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

func main() {
	cfg := loadConfig()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	bench, err := NewRunner(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	results := bench.RunAll(ctx)

	fmt.Println("\n== Summary ==")
	pass, fail, skipped := 0, 0, 0
	for _, r := range results {
		switch r.Status {
		case statusPass:
			pass++
		case statusFail:
			fail++
		case statusSkip:
			skipped++
		}
	}
	fmt.Printf("PASS=%d FAIL=%d SKIP=%d\n", pass, fail, skipped)

	if fail > 0 || (cfg.Strict && skipped > 0) {
		os.Exit(1)
	}
}

type Config struct {
	BaseURL        string
	DSN            string
	RedisAddr      string
	RedisPassword  string
	JWTSecret      string
	MigrationPath  string
	ApplyMigration bool
	Strict         bool
	Timeout        time.Duration
	Concurrency    int
	Duration       time.Duration
}

func loadConfig() Config {
	var cfg Config
	envFile := pflag.String("env-file", ".env", "dotenv file")
	pflag.StringVar(&cfg.BaseURL, "base-url", "http://localhost:8080", "API base URL")
	pflag.StringVar(&cfg.DSN, "dsn", "", "Postgres DSN (default HAULBID_DB_DSN)")
	pflag.StringVar(&cfg.RedisAddr, "redis", "", "Redis address (default HAULBID_REDIS_ADDR)")
	pflag.StringVar(&cfg.MigrationPath, "migration", "migrations/0001_init.sql", "Migration SQL path")
	pflag.BoolVar(&cfg.ApplyMigration, "apply-migration", false, "Apply migration SQL before tests")
	pflag.BoolVar(&cfg.Strict, "strict", false, "Fail on skipped cases")
	pflag.DurationVar(&cfg.Timeout, "timeout", 60*time.Second, "Total timeout")
	pflag.IntVar(&cfg.Concurrency, "concurrency", 20, "Concurrent drivers / workers")
	pflag.DurationVar(&cfg.Duration, "duration", 10*time.Second, "Duration for perf cases")
	pflag.Parse()

	_ = godotenv.Load(*envFile)
	if cfg.DSN == "" {
		cfg.DSN = os.Getenv("HAULBID_DB_DSN")
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = os.Getenv("HAULBID_REDIS_ADDR")
	}
	cfg.RedisPassword = os.Getenv("HAULBID_REDIS_PASSWORD")
	cfg.JWTSecret = os.Getenv("HAULBID_JWT_SECRET")
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Concurrency < 2 {
		cfg.Concurrency = 2
	}
	return cfg
}
