package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/wooai/wooai/internal/config"
	"github.com/wooai/wooai/internal/migrations"
	"github.com/wooai/wooai/internal/ratelimit"
	ratelimitpostgres "github.com/wooai/wooai/internal/ratelimit/postgres"
	storepostgres "github.com/wooai/wooai/internal/store/postgres"
)

func main() {
	direction := flag.String("direction", "up", "migration direction: up|down|prune")
	steps := flag.Int("steps", 0, "number of migration steps; 0 means all for up, 1 for down")
	keep := flag.Duration("keep", 24*time.Hour, "prune: keep rate limit counters newer than this")
	flag.Parse()

	cfg, err := config.LoadFromEnv("wooai-migrate")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if cfg.AppDB.DSN == "" {
		fmt.Fprintln(os.Stderr, "WOOAI_APPDB_DSN is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := storepostgres.Open(ctx, "app db", storepostgres.DBConfig{DSN: cfg.AppDB.DSN, MaxOpenConns: 1})
	if err != nil {
		fmt.Fprintf(os.Stderr, "database open error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	runner := migrations.NewRunner()
	switch *direction {
	case "up":
		applied, err := runner.Up(ctx, db, *steps)
		if err != nil {
			fmt.Fprintf(os.Stderr, "migration up failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("applied %d migration(s)\n", applied)
	case "down":
		applied, err := runner.Down(ctx, db, *steps)
		if err != nil {
			fmt.Fprintf(os.Stderr, "migration down failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("rolled back %d migration(s)\n", applied)
	case "prune":
		limiter, err := ratelimitpostgres.NewLimiter(db, ratelimit.Plans{
			Quotas:      cfg.RateLimit.Quotas,
			DefaultTier: cfg.RateLimit.DefaultTier,
			Window:      cfg.RateLimit.Window,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "rate limit config error: %v\n", err)
			os.Exit(1)
		}
		removed, err := limiter.Prune(ctx, time.Now().Add(-*keep))
		if err != nil {
			fmt.Fprintf(os.Stderr, "prune failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("pruned %d rate limit counter(s)\n", removed)
	default:
		fmt.Fprintf(os.Stderr, "invalid direction: %s\n", *direction)
		os.Exit(1)
	}
}
