// Command gardener runs the autonomous world steward. It observes world
// state, decides on at most one gentle intervention per cycle, and acts via
// the admin intervention API.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/talgya/chronicle/internal/gardener"
)

type settings struct {
	APIURL     string        `env:"WORLDSIM_API_URL" envDefault:"http://localhost:8080"`
	AdminKey   string        `env:"WORLDSIM_ADMIN_KEY,required"`
	Interval   time.Duration `env:"GARDENER_INTERVAL" envDefault:"6h"`
	MemoryPath string        `env:"GARDENER_MEMORY" envDefault:"data/gardener_memory.json"`
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	var cfg settings
	if err := env.Parse(&cfg); err != nil {
		slog.Error("invalid environment", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("gardener starting", "api_url", cfg.APIURL, "interval", cfg.Interval)
	steward := gardener.NewSteward(cfg.APIURL, cfg.AdminKey, gardener.LoadMemory(cfg.MemoryPath))

	// Process start does not mean the API is serving yet.
	slog.Info("waiting for worldsim API...")
	if !waitForAPI(ctx, steward.Observer) {
		slog.Error("worldsim API did not become ready")
		os.Exit(1)
	}

	runCycle(ctx, steward)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			runCycle(ctx, steward)
		case <-ctx.Done():
			slog.Info("gardener stopped")
			return
		}
	}
}

func runCycle(ctx context.Context, s *gardener.Steward) {
	slog.Info("gardener cycle starting")
	if _, err := s.Cycle(ctx); err != nil {
		slog.Error("gardener cycle failed", "error", err)
	}
}

// waitForAPI polls the status endpoint with exponential backoff for up to
// five minutes.
func waitForAPI(ctx context.Context, o *gardener.Observer) bool {
	backoff := 2 * time.Second
	maxBackoff := 30 * time.Second
	deadline := time.Now().Add(5 * time.Minute)

	for {
		if o.Ready(ctx) {
			slog.Info("worldsim API is ready")
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		slog.Info("worldsim not ready, retrying...", "backoff", backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return false
		}
		backoff = min(backoff*2, maxBackoff)
	}
}
