// Package config loads the simulation's tunables: documented defaults,
// overlaid by a YAML file checked against an embedded JSON Schema, then by
// WORLDSIM_* environment variables.
package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/talgya/chronicle/internal/diplomacy"
	"github.com/talgya/chronicle/internal/economy"
	"github.com/talgya/chronicle/internal/event"
	"github.com/talgya/chronicle/internal/politics"
	"github.com/talgya/chronicle/internal/warfare"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

//go:embed config.schema.json
var schemaJSON string

var schema = jsonschema.MustCompileString("config.schema.json", schemaJSON)

// World sizes the generated world.
type World struct {
	Radius                int `yaml:"radius" env:"WORLDSIM_RADIUS"`
	Factions              int `yaml:"factions" env:"WORLDSIM_FACTIONS"`
	SettlementsPerFaction int `yaml:"settlementsPerFaction"`
	CourtSize             int `yaml:"courtSize"`
	MaxRouteDistance      int `yaml:"maxRouteDistance"`
	RoutesPerSettlement   int `yaml:"routesPerSettlement"`
}

// History bounds the recorded event history and statistics series.
type History struct {
	Capacity      int `yaml:"capacity"`
	StatsCapacity int `yaml:"statsCapacity"`
}

// ComplexEvents holds the per-subsystem tunables.
type ComplexEvents struct {
	Enabled    bool             `yaml:"enabled"`
	War        warfare.Config   `yaml:"war"`
	Trade      economy.Config   `yaml:"trade"`
	Political  politics.Config  `yaml:"political"`
	Diplomatic diplomacy.Config `yaml:"diplomatic"`
}

// Config is the complete simulation configuration.
type Config struct {
	Seed            int64         `yaml:"seed" env:"WORLDSIM_SEED"`
	DBPath          string        `yaml:"dbPath" env:"WORLDSIM_DB_PATH"`
	SnapshotDir     string        `yaml:"snapshotDir" env:"WORLDSIM_SNAPSHOT_DIR"`
	APIPort         int           `yaml:"apiPort" env:"WORLDSIM_API_PORT"`
	AdminKey        string        `yaml:"-" env:"WORLDSIM_ADMIN_KEY"`
	RelayKey        string        `yaml:"-" env:"WORLDSIM_RELAY_KEY"`
	TickInterval    time.Duration `yaml:"tickInterval" env:"WORLDSIM_TICK_INTERVAL"`
	SaveEvery       uint64        `yaml:"saveEvery" env:"WORLDSIM_SAVE_EVERY"`
	ParallelUpdates bool          `yaml:"parallelUpdates" env:"WORLDSIM_PARALLEL_UPDATES"`

	World         World             `yaml:"world"`
	History       History           `yaml:"history"`
	Cooldowns     map[string]uint64 `yaml:"cooldowns"`
	ComplexEvents ComplexEvents     `yaml:"complexEvents"`
}

// Default returns the documented defaults.
func Default() Config {
	return Config{
		DBPath:          "data/chronicle.db",
		SnapshotDir:     "data/snapshots",
		APIPort:         8080,
		TickInterval:    time.Second,
		SaveEvery:       90,
		ParallelUpdates: true,
		World: World{
			Radius:                30,
			Factions:              5,
			SettlementsPerFaction: 3,
			CourtSize:             8,
			MaxRouteDistance:      12,
			RoutesPerSettlement:   2,
		},
		History: History{Capacity: 1000, StatsCapacity: 365},
		Cooldowns: map[string]uint64{
			string(event.WarDeclared):        30,
			string(event.Battle):             3,
			string(event.PeaceSigned):        10,
			string(event.RulerDied):          30,
			string(event.Succession):         5,
			string(event.Unrest):             10,
			string(event.DiplomaticIncident): 5,
			string(event.DiplomaticAction):   3,
			string(event.TreatyProposed):     10,
			string(event.MarketCrash):        30,
			string(event.MarketBoom):         20,
			string(event.MarketShortage):     15,
			string(event.MarketSurplus):      15,
		},
		ComplexEvents: ComplexEvents{
			Enabled:    true,
			War:        warfare.DefaultConfig(),
			Trade:      economy.DefaultConfig(),
			Political:  politics.DefaultConfig(),
			Diplomatic: diplomacy.DefaultConfig(),
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := Decode(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Decode checks raw against the schema and decodes it over cfg. Keys
// missing from raw keep their value in cfg; unknown keys are ignored.
func Decode(raw []byte, cfg *Config) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	if doc == nil {
		return nil
	}
	// The validator wants JSON-shaped values.
	js, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("convert yaml: %w", err)
	}
	var inst any
	if err := json.Unmarshal(js, &inst); err != nil {
		return fmt.Errorf("convert yaml: %w", err)
	}
	if err := schema.Validate(inst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("decode yaml: %w", err)
	}
	return nil
}

// Validate enforces the ranges the simulation relies on.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}
	if c.World.Radius <= 0 {
		bad("world.radius must be positive, got %d", c.World.Radius)
	}
	if c.World.Factions < 2 {
		bad("world.factions must be at least 2, got %d", c.World.Factions)
	}
	if c.World.SettlementsPerFaction < 1 {
		bad("world.settlementsPerFaction must be at least 1, got %d", c.World.SettlementsPerFaction)
	}
	if c.World.CourtSize < 0 || c.World.CourtSize > 50 {
		bad("world.courtSize must be in [0, 50], got %d", c.World.CourtSize)
	}
	if c.History.Capacity <= 0 {
		bad("history.capacity must be positive, got %d", c.History.Capacity)
	}
	if c.TickInterval < 0 {
		bad("tickInterval must not be negative, got %s", c.TickInterval)
	}
	ce := c.ComplexEvents
	chances := []struct {
		name string
		p    float64
	}{
		{"war.declarationChance", ce.War.DeclarationChance},
		{"war.battleChance", ce.War.BattleChance},
		{"trade.crashChance", ce.Trade.CrashChance},
		{"trade.boomChance", ce.Trade.BoomChance},
		{"trade.shortageChance", ce.Trade.ShortageChance},
		{"trade.surplusChance", ce.Trade.SurplusChance},
		{"trade.caravanEventChance", ce.Trade.CaravanEventChance},
		{"trade.baseTariff", ce.Trade.BaseTariff},
		{"trade.taxRate", ce.Trade.TaxRate},
		{"political.rulerDeathChance", ce.Political.RulerDeathChance},
		{"political.unrestChance", ce.Political.UnrestChance},
		{"political.discoveryChance", ce.Political.DiscoveryChance},
		{"diplomatic.incidentChance", ce.Diplomatic.IncidentChance},
		{"diplomatic.proposalChance", ce.Diplomatic.ProposalChance},
		{"diplomatic.actionChance", ce.Diplomatic.ActionChance},
		{"diplomatic.driftRate", ce.Diplomatic.DriftRate},
	}
	for _, ch := range chances {
		if ch.p < 0 || ch.p > 1 {
			bad("complexEvents.%s must be in [0, 1], got %g", ch.name, ch.p)
		}
	}
	if t := ce.Trade; t.CrashChance+t.BoomChance+t.ShortageChance+t.SurplusChance > 1 {
		bad("complexEvents.trade market event chances sum above 1")
	}
	if n := ce.Diplomatic.NegotiationRounds; n < 1 || n > diplomacy.MaxRounds {
		bad("complexEvents.diplomatic.negotiationRounds must be in [1, %d], got %d", diplomacy.MaxRounds, n)
	}
	if ce.Political.ElectionRounds < 1 {
		bad("complexEvents.political.electionRounds must be positive, got %d", ce.Political.ElectionRounds)
	}
	if t := ce.Trade; t.UpkeepRate < 0 || t.Garrison < 0 || t.RecruitRate < 0 || t.RecruitCost < 0 {
		bad("complexEvents.trade upkeep and recruitment must not be negative")
	}
	if ce.Trade.MaxCaravans < 1 {
		bad("complexEvents.trade.maxCaravans must be positive, got %d", ce.Trade.MaxCaravans)
	}
	return errors.Join(errs...)
}

// CooldownTicks returns the cooldowns keyed by event type.
func (c Config) CooldownTicks() map[event.Type]uint64 {
	out := make(map[event.Type]uint64, len(c.Cooldowns))
	for k, v := range c.Cooldowns {
		out[event.Type(k)] = v
	}
	return out
}
