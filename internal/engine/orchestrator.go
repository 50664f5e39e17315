package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/talgya/chronicle/internal/entropy"
	"github.com/talgya/chronicle/internal/event"
)

// DefaultHistoryCapacity bounds the recorded history.
const DefaultHistoryCapacity = 1000

var (
	// ErrNoHandler is recorded on events whose type no subsystem handles.
	ErrNoHandler = errors.New("no handler for event type")
	// ErrDuplicateHandler is returned when two subsystems claim one type.
	ErrDuplicateHandler = errors.New("event type already handled")
)

// Subsystem is one simulation domain driven by the orchestrator.
//
// Update runs concurrently with the other subsystems and may only touch
// state the subsystem owns. CandidateEvents and Handle run one at a time.
type Subsystem interface {
	Name() string
	EventTypes() []event.Type
	Reseed(src entropy.Source)
	Update(ctx context.Context, tick uint64) error
	CandidateEvents(tick uint64, gate event.Gate) []*event.Event
	Handle(ev *event.Event) error
}

// Orchestrator gates, merges, orders and dispatches candidate events and
// keeps the bounded history of what was dispatched.
type Orchestrator struct {
	subsystems []Subsystem
	handlers   map[event.Type]Subsystem
	cooldowns  map[event.Type]uint64
	lastFired  map[string]uint64
	capacity   int
	tick       uint64

	history []*event.Event
	outcome map[string]bool // recorded id -> dispatched without failure
	tracer  trace.Tracer
}

// NewOrchestrator returns an orchestrator with per-type cooldowns in ticks.
// A capacity below one falls back to DefaultHistoryCapacity.
func NewOrchestrator(cooldowns map[event.Type]uint64, capacity int) *Orchestrator {
	if capacity < 1 {
		capacity = DefaultHistoryCapacity
	}
	return &Orchestrator{
		handlers:  make(map[event.Type]Subsystem),
		cooldowns: maps.Clone(cooldowns),
		lastFired: make(map[string]uint64),
		capacity:  capacity,
		outcome:   make(map[string]bool),
		tracer:    otel.Tracer("github.com/talgya/chronicle/internal/engine"),
	}
}

// Register adds a subsystem and claims its event types.
func (o *Orchestrator) Register(s Subsystem) error {
	for _, t := range s.EventTypes() {
		if prev, ok := o.handlers[t]; ok {
			return fmt.Errorf("%s: %s claimed by %s: %w", s.Name(), t, prev.Name(), ErrDuplicateHandler)
		}
	}
	for _, t := range s.EventTypes() {
		o.handlers[t] = s
	}
	o.subsystems = append(o.subsystems, s)
	return nil
}

// Subsystems returns the registered subsystems in registration order.
func (o *Orchestrator) Subsystems() []Subsystem {
	return slices.Clone(o.subsystems)
}

// CanTrigger reports whether the (t, entity) key is off cooldown at the
// current tick. An empty entity is the global key.
func (o *Orchestrator) CanTrigger(t event.Type, entity string) bool {
	last, ok := o.lastFired[event.Key(t, entity)]
	if !ok {
		return true
	}
	if o.tick < last {
		return false
	}
	return o.tick-last >= o.cooldowns[t]
}

// eligible is false when every type the subsystem produces is cooling
// down at the global key.
func (o *Orchestrator) eligible(s Subsystem) bool {
	for _, t := range s.EventTypes() {
		if o.CanTrigger(t, event.Global) {
			return true
		}
	}
	return false
}

// CheckEmergentEvents asks every eligible subsystem for candidates at tick
// and returns them aggregated. Candidates whose key is cooling down are
// discarded.
func (o *Orchestrator) CheckEmergentEvents(tick uint64) []*event.Event {
	o.tick = tick
	var out []*event.Event
	for _, s := range o.subsystems {
		if !o.eligible(s) {
			slog.Debug("subsystem cooling down", "subsystem", s.Name(), "tick", tick)
			continue
		}
		for _, ev := range s.CandidateEvents(tick, o) {
			if !o.CanTrigger(ev.Type, ev.CooldownEntity()) {
				slog.Warn("candidate ignored cooldown", "subsystem", s.Name(), "type", ev.Type, "entity", ev.CooldownEntity())
				continue
			}
			out = append(out, ev)
		}
	}
	return Aggregate(out)
}

// Aggregate merges events sharing (type, location): magnitudes add,
// consciousness impact keeps the maximum. The first event of each key
// survives, in first-seen order.
func Aggregate(events []*event.Event) []*event.Event {
	index := make(map[string]*event.Event, len(events))
	var out []*event.Event
	for _, ev := range events {
		key := string(ev.Type) + "@" + ev.Location
		first, ok := index[key]
		if !ok {
			index[key] = ev
			out = append(out, ev)
			continue
		}
		first.Magnitude += ev.Magnitude
		first.ConsciousnessImpact = max(first.ConsciousnessImpact, ev.ConsciousnessImpact)
		first.Merged++
		for _, r := range ev.Entities {
			if !slices.Contains(first.Entities, r) {
				first.Entities = append(first.Entities, r)
			}
		}
		for _, d := range ev.DependsOn {
			if !slices.Contains(first.DependsOn, d) {
				first.DependsOn = append(first.DependsOn, d)
			}
		}
	}
	return out
}

// Priority is the base weight of the event's category, scaled by its
// magnitude when set and by one plus its consciousness impact.
func Priority(ev *event.Event) float64 {
	p := event.CategoryOf(ev.Type).BasePriority()
	if ev.Magnitude > 0 {
		p *= ev.Magnitude
	}
	return p * (1 + ev.ConsciousnessImpact)
}

// Prioritize scores the events and sorts them by descending priority,
// keeping insertion order among equals.
func Prioritize(events []*event.Event) {
	for _, ev := range events {
		ev.Priority = Priority(ev)
		ev.Significance = ev.Priority / 100
	}
	slices.SortStableFunc(events, func(a, b *event.Event) int {
		switch {
		case a.Priority > b.Priority:
			return -1
		case a.Priority < b.Priority:
			return 1
		}
		return 0
	})
}

// frame is one entry of the explicit dependency walk stack.
type frame struct {
	idx  int
	next int
}

// schedule orders events so every event follows the batch events it
// depends on, otherwise keeping priority order. Events on a dependency
// cycle are reported in cyclic. The walk is iterative over an arena of
// event indices.
func schedule(events []*event.Event) (order []*event.Event, cyclic map[string]bool) {
	const (
		unvisited = iota
		visiting
		done
	)
	index := make(map[string]int, len(events))
	for i, ev := range events {
		index[ev.ID] = i
	}
	state := make([]uint8, len(events))
	cyclic = make(map[string]bool)
	order = make([]*event.Event, 0, len(events))

	var stack []frame
	for root := range events {
		if state[root] != unvisited {
			continue
		}
		stack = append(stack[:0], frame{idx: root})
		state[root] = visiting
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			deps := events[top.idx].DependsOn
			if top.next < len(deps) {
				dep := deps[top.next]
				top.next++
				j, ok := index[dep]
				if !ok {
					continue
				}
				switch state[j] {
				case unvisited:
					state[j] = visiting
					stack = append(stack, frame{idx: j})
				case visiting:
					for k := len(stack) - 1; k >= 0; k-- {
						cyclic[events[stack[k].idx].ID] = true
						if stack[k].idx == j {
							break
						}
					}
				}
				continue
			}
			state[top.idx] = done
			order = append(order, events[top.idx])
			stack = stack[:len(stack)-1]
		}
	}
	return order, cyclic
}

// ProcessEvents prioritizes and dispatches events in order. Each handled
// event is recorded; a failed event is recorded with Failed set, leaves
// its cooldown untouched, and dispatch carries on. It returns the events
// in the order they were recorded.
func (o *Orchestrator) ProcessEvents(ctx context.Context, tick uint64, events []*event.Event) []*event.Event {
	o.tick = tick
	Prioritize(events)
	order, cyclic := schedule(events)

	inBatch := make(map[string]bool, len(events))
	for _, ev := range events {
		inBatch[ev.ID] = true
	}
	succeeded := make(map[string]bool, len(events))

	for _, ev := range order {
		var err error
		switch {
		case cyclic[ev.ID]:
			err = errors.New("dependency cycle")
		default:
			err = o.dependencyError(ev, inBatch, succeeded)
		}
		if err == nil {
			err = o.dispatch(ctx, ev)
		}
		if err != nil {
			ev.Failed = true
			ev.Error = err.Error()
			slog.Warn("event failed", "type", ev.Type, "id", ev.ID, "source", ev.Source, "error", err)
		} else {
			succeeded[ev.ID] = true
			o.lastFired[event.Key(ev.Type, ev.CooldownEntity())] = tick
			slog.Debug("event dispatched", "type", ev.Type, "priority", ev.Priority, "description", ev.Description)
		}
		o.record(ev)
	}
	return order
}

func (o *Orchestrator) dependencyError(ev *event.Event, inBatch, succeeded map[string]bool) error {
	for _, dep := range ev.DependsOn {
		if inBatch[dep] {
			if !succeeded[dep] {
				return fmt.Errorf("dependency %s failed", dep)
			}
			continue
		}
		ok, seen := o.outcome[dep]
		if !seen {
			return fmt.Errorf("dependency %s missing", dep)
		}
		if !ok {
			return fmt.Errorf("dependency %s failed", dep)
		}
	}
	return nil
}

// dispatch runs the owning handler and turns a panic into an error.
func (o *Orchestrator) dispatch(ctx context.Context, ev *event.Event) (err error) {
	h, ok := o.handlers[ev.Type]
	if !ok {
		return fmt.Errorf("%s: %w", ev.Type, ErrNoHandler)
	}
	_, span := o.tracer.Start(ctx, "dispatch "+string(ev.Type), trace.WithAttributes(
		attribute.String("event.id", ev.ID),
		attribute.String("event.source", h.Name()),
		attribute.Float64("event.priority", ev.Priority),
	))
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s handler panicked: %v", h.Name(), r)
		}
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	return h.Handle(ev)
}

// Record adds an event raised outside the subsystems, such as an operator
// intervention, to history. It bypasses cooldowns and handlers.
func (o *Orchestrator) Record(ev *event.Event) {
	ev.Priority = Priority(ev)
	ev.Significance = ev.Priority / 100
	o.record(ev)
}

func (o *Orchestrator) record(ev *event.Event) {
	o.history = append(o.history, ev)
	o.outcome[ev.ID] = !ev.Failed
	if over := len(o.history) - o.capacity; over > 0 {
		for _, old := range o.history[:over] {
			delete(o.outcome, old.ID)
		}
		o.history = slices.Delete(o.history, 0, over)
	}
}

// History returns copies of the recorded events, oldest first.
func (o *Orchestrator) History() []event.Event {
	out := make([]event.Event, len(o.history))
	for i, ev := range o.history {
		out[i] = ev.Clone()
	}
	return out
}

// Criteria filters a history query. Zero values do not filter; ToTick of
// zero means no upper bound. Limit keeps the most recent matches.
type Criteria struct {
	FromTick        uint64       `json:"from_tick,omitempty"`
	ToTick          uint64       `json:"to_tick,omitempty"`
	EntityID        string       `json:"entity_id,omitempty"`
	Types           []event.Type `json:"types,omitempty"`
	MinSignificance float64      `json:"min_significance,omitempty"`
	Limit           int          `json:"limit,omitempty"`
}

// Match reports whether ev satisfies c.
func (c Criteria) Match(ev *event.Event) bool {
	if ev.Tick < c.FromTick || (c.ToTick > 0 && ev.Tick > c.ToTick) {
		return false
	}
	if c.EntityID != "" && !ev.Involves(c.EntityID) {
		return false
	}
	if len(c.Types) > 0 && !slices.Contains(c.Types, ev.Type) {
		return false
	}
	return ev.Significance >= c.MinSignificance
}

// QueryHistory returns the recorded events matching c, oldest first.
func (o *Orchestrator) QueryHistory(c Criteria) []event.Event {
	var out []event.Event
	for _, ev := range o.history {
		if c.Match(ev) {
			out = append(out, ev.Clone())
		}
	}
	if c.Limit > 0 && len(out) > c.Limit {
		out = out[len(out)-c.Limit:]
	}
	return out
}

// OrchestratorSnapshot is the serializable state of the orchestrator.
type OrchestratorSnapshot struct {
	History   []event.Event     `json:"history"`
	LastFired map[string]uint64 `json:"last_fired"`
}

// Export copies history and cooldown stamps.
func (o *Orchestrator) Export() OrchestratorSnapshot {
	return OrchestratorSnapshot{
		History:   o.History(),
		LastFired: maps.Clone(o.lastFired),
	}
}

// Import replaces history and cooldown stamps with snap.
func (o *Orchestrator) Import(snap OrchestratorSnapshot) {
	o.history = nil
	o.outcome = make(map[string]bool, len(snap.History))
	for i := range snap.History {
		ev := snap.History[i]
		o.record(&ev)
	}
	o.lastFired = make(map[string]uint64, len(snap.LastFired))
	for k, v := range snap.LastFired {
		o.lastFired[k] = v
	}
}
