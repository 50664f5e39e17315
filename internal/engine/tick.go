package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/talgya/chronicle/internal/economy"
)

// pausePoll is how often a paused engine checks for a new speed.
const pausePoll = 100 * time.Millisecond

// Engine drives a Simulation forward in real time. One tick is one day.
type Engine struct {
	Sim       *Simulation
	Interval  time.Duration // Base tick interval at speed 1
	SaveEvery uint64        // Ticks between OnSave calls; 0 disables

	// OnSave persists the world. Failures are logged and the loop continues.
	OnSave func(ctx context.Context, tick uint64) error

	mu    sync.Mutex
	speed float64 // 1.0 = real-time, 0 = paused

	stopOnce sync.Once
	stop     chan struct{}
}

// NewEngine creates an engine for sim at speed 1.
func NewEngine(sim *Simulation, interval time.Duration, saveEvery uint64) *Engine {
	if interval <= 0 {
		interval = time.Second
	}
	return &Engine{
		Sim:       sim,
		Interval:  interval,
		SaveEvery: saveEvery,
		speed:     1,
		stop:      make(chan struct{}),
	}
}

// Speed returns the current speed multiplier.
func (e *Engine) Speed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speed
}

// SetSpeed changes the speed multiplier. Zero or below pauses the engine.
func (e *Engine) SetSpeed(speed float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.speed = max(speed, 0)
	slog.Info("engine speed changed", "speed", e.speed)
}

// Pause is SetSpeed(0).
func (e *Engine) Pause() { e.SetSpeed(0) }

// Run steps the simulation until ctx is done or Stop is called.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("simulation engine started", "tick", e.Sim.Tick(), "speed", e.Speed())
	defer func() { slog.Info("simulation engine stopped", "tick", e.Sim.Tick()) }()

	for {
		speed := e.Speed()
		wait := pausePoll
		if speed > 0 {
			start := time.Now()
			if err := e.Step(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			wait = time.Duration(float64(e.Interval)/speed) - time.Since(start)
		}

		timer := time.NewTimer(max(wait, 0))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-e.stop:
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// Stop halts Run. It is safe to call more than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
}

// Step advances one tick and saves when the tick is due.
func (e *Engine) Step(ctx context.Context) error {
	if err := e.Sim.ProcessTimeStep(ctx, 1); err != nil {
		return err
	}
	tick := e.Sim.Tick()
	if e.OnSave != nil && e.SaveEvery > 0 && tick%e.SaveEvery == 0 {
		if err := e.OnSave(ctx, tick); err != nil {
			slog.Error("autosave failed", "tick", tick, "error", err)
		}
	}
	return nil
}

// SimTime returns a human-readable calendar date for a tick.
func SimTime(tick uint64) string {
	days := tick%economy.TicksPerSeason + 1
	seasons := tick / economy.TicksPerSeason
	return fmt.Sprintf("%s Day %d, Year %d", economy.SeasonOf(tick), days, seasons/4+1)
}
