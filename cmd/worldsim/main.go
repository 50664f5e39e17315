// Command worldsim runs the world history simulation and serves it over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/talgya/chronicle/internal/api"
	"github.com/talgya/chronicle/internal/config"
	"github.com/talgya/chronicle/internal/engine"
	"github.com/talgya/chronicle/internal/persistence"
	"github.com/talgya/chronicle/internal/phi"
	"github.com/talgya/chronicle/internal/telemetry"
)

// keepSnapshots is how many database snapshots survive each autosave.
const keepSnapshots = 10

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(*configPath); err != nil {
		slog.Error("worldsim failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	slog.Info("Chronicle world history simulation",
		"seed", cfg.Seed,
		"factions", cfg.World.Factions,
		"agnosis", fmt.Sprintf("%.5f", phi.Agnosis),
		"totality", fmt.Sprintf("%.5f", phi.Totality),
	)

	shutdownTracing, err := telemetry.Setup(ctx)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			slog.Warn("tracing shutdown", "error", err)
		}
	}()

	// ── Database ──────────────────────────────────────────────────────
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return err
	}
	db, err := persistence.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	slog.Info("database opened", "path", cfg.DBPath)

	// ── Load or Generate World State ─────────────────────────────────
	sim, err := engine.New(cfg)
	if err != nil {
		return err
	}
	snap, err := db.LoadLatestSnapshot(ctx)
	switch {
	case err == nil:
		if err := sim.Import(snap); err != nil {
			return fmt.Errorf("restore: %w", err)
		}
		slog.Info("world state restored", "tick", sim.Tick(), "sim_time", engine.SimTime(sim.Tick()))
	case errors.Is(err, persistence.ErrNoSnapshot):
		slog.Info("no saved state found, generating new world...")
		if err := sim.GenerateWorld(ctx); err != nil {
			return err
		}
		if err := db.SaveWorldState(ctx, sim); err != nil {
			slog.Error("initial save failed", "error", err)
		}
	default:
		return fmt.Errorf("load snapshot: %w", err)
	}

	if stats := sim.StatsHistory(); len(stats) > 0 {
		st := stats[len(stats)-1]
		slog.Info("world ready",
			"factions", st.Factions,
			"settlements", st.Settlements,
			"population", humanize.Comma(int64(st.Population)),
			"routes", st.ActiveRoutes,
		)
	}

	// ── Engine ────────────────────────────────────────────────────────
	eng := engine.NewEngine(sim, cfg.TickInterval, cfg.SaveEvery)
	eng.OnSave = func(ctx context.Context, tick uint64) error {
		if err := db.SaveWorldState(ctx, sim); err != nil {
			return err
		}
		if n, err := db.PruneSnapshots(ctx, keepSnapshots); err != nil {
			return err
		} else if n > 0 {
			slog.Debug("pruned snapshots", "count", n)
		}
		slog.Info("world saved", "tick", tick, "sim_time", engine.SimTime(tick))
		return nil
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	if cfg.AdminKey == "" {
		slog.Warn("WORLDSIM_ADMIN_KEY not set, admin POST endpoints will be disabled")
	}
	srv := &api.Server{
		Sim:         sim,
		Eng:         eng,
		DB:          db,
		Port:        cfg.APIPort,
		AdminKey:    cfg.AdminKey,
		RelayKey:    cfg.RelayKey,
		SnapshotDir: cfg.SnapshotDir,
	}

	// ── Start ─────────────────────────────────────────────────────────
	fmt.Printf("API: http://localhost:%d/api/v1/status\n", cfg.APIPort)
	fmt.Println("Starting simulation... (Ctrl+C to stop)")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(gctx) })
	g.Go(func() error { return srv.Start(gctx) })
	runErr := g.Wait()

	// Final save on shutdown.
	slog.Info("final save...")
	if err := db.SaveWorldState(context.Background(), sim); err != nil {
		slog.Error("final save failed", "error", err)
	}
	fmt.Println("Simulation stopped. World state saved.")
	return runErr
}
