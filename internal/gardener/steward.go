package gardener

import (
	"context"
	"fmt"
	"log/slog"
)

// Steward runs observe, decide and act cycles against one world.
type Steward struct {
	Observer *Observer
	Actor    *Actor
	Memory   *CycleMemory
}

// NewSteward creates a Steward for the API at baseURL.
func NewSteward(baseURL, adminKey string, mem *CycleMemory) *Steward {
	return &Steward{
		Observer: NewObserver(baseURL),
		Actor:    NewActor(baseURL, adminKey),
		Memory:   mem,
	}
}

// Cycle executes one observe → decide → act cycle and records it.
func (s *Steward) Cycle(ctx context.Context) (*Decision, error) {
	snap, err := s.Observer.Observe(ctx)
	if err != nil {
		return nil, fmt.Errorf("observe: %w", err)
	}
	h := Triage(snap)
	slog.Info("observation complete",
		"tick", snap.Status.Tick,
		"crisis", h.CrisisLevel,
		"market_floor", fmt.Sprintf("%.2f", h.MarketFloor),
		"stability", fmt.Sprintf("%.1f", h.AvgStability),
		"wars", h.ActiveWars,
	)

	d := Decide(h, s.Memory)
	rec := CycleRecord{
		Tick:        snap.Status.Tick,
		Action:      d.Action,
		CrisisLevel: h.CrisisLevel,
		Stability:   h.AvgStability,
		MarketFloor: h.MarketFloor,
		Rationale:   d.Rationale,
	}
	defer func() {
		s.Memory.Record(rec)
		s.Memory.Save()
	}()

	if d.Intervention == nil {
		slog.Info("gardener cycle complete, no intervention", "rationale", d.Rationale)
		return d, nil
	}
	rec.Target = d.Intervention.target()

	receipt, err := s.Actor.Act(ctx, d.Intervention)
	if err != nil {
		rec.Action = ActionNone
		return d, fmt.Errorf("act: %w", err)
	}
	slog.Info("intervention executed",
		"type", d.Intervention.Type,
		"target", rec.Target,
		"details", receipt.Details,
	)
	return d, nil
}
