// Command historian prints the state and recent history of a saved world,
// read from a snapshot file or from the simulation database.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/talgya/chronicle/internal/config"
	"github.com/talgya/chronicle/internal/engine"
	"github.com/talgya/chronicle/internal/event"
	"github.com/talgya/chronicle/internal/persistence"
	"github.com/talgya/chronicle/internal/social"
)

func main() {
	var (
		dbPath   = flag.String("db", "", "simulation database to read")
		snapPath = flag.String("snapshot", "", "snapshot file (.json.zst) to read instead of the database")
		limit    = flag.Int("events", 20, "number of recent events to print")
		types    = flag.String("type", "", "comma-separated event types to include")
	)
	flag.Parse()

	if err := run(context.Background(), *dbPath, *snapPath, *limit, *types); err != nil {
		fmt.Fprintln(os.Stderr, "historian:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, dbPath, snapPath string, limit int, types string) error {
	var (
		snap    engine.Snapshot
		savedAt time.Time
		archive []event.Event
	)
	switch {
	case snapPath != "":
		hdr, s, err := persistence.ReadSnapshot(snapPath)
		if err != nil {
			return err
		}
		snap, savedAt = s, hdr.SavedAt
	case dbPath != "":
		db, err := persistence.Open(dbPath)
		if err != nil {
			return err
		}
		defer db.Close()
		if snap, err = db.LoadLatestSnapshot(ctx); err != nil {
			return err
		}
		q := persistence.EventQuery{Limit: limit, Types: parseTypes(types)}
		if archive, err = db.QueryEvents(ctx, q); err != nil {
			return err
		}
	default:
		return errors.New("one of -db or -snapshot is required")
	}

	sim, err := engine.New(config.Default())
	if err != nil {
		return err
	}
	if err := sim.Import(snap); err != nil {
		return err
	}
	if archive == nil {
		archive = sim.QueryHistory(engine.Criteria{Types: parseTypes(types), Limit: limit})
	}

	printWorld(sim, savedAt)
	printEvents(archive)
	return nil
}

func parseTypes(s string) []event.Type {
	var out []event.Type
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, event.Type(t))
		}
	}
	return out
}

func printWorld(sim *engine.Simulation, savedAt time.Time) {
	tick := sim.Tick()
	fmt.Printf("%s (tick %d)", engine.SimTime(tick), tick)
	if !savedAt.IsZero() {
		fmt.Printf(", saved %s", humanize.Time(savedAt))
	}
	fmt.Println()

	if stats := sim.StatsHistory(); len(stats) > 0 {
		st := stats[len(stats)-1]
		fmt.Printf("Population %s across %d settlements, %s gold, %d wars, %d treaties\n\n",
			humanize.Comma(int64(st.Population)), st.Settlements,
			humanize.Commaf(float64(int64(st.Gold))), st.ActiveWars, st.Treaties)
	}

	names := make(map[social.FactionID]string)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FACTION\tGOVERNMENT\tSTABILITY\tGOLD\tMILITARY\tSETTLEMENTS")
	for _, f := range sim.Factions() {
		names[f.ID] = f.Name
		if f.Dissolved {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%.0f\t%s\t%.0f\t%d\n",
			f.Name, f.Government.Type, f.Government.Stability,
			humanize.Commaf(float64(int64(f.Resources.Gold))), f.Resources.Military, len(f.Settlements))
	}
	w.Flush()
	fmt.Println()

	for _, war := range sim.ActiveWars() {
		fmt.Printf("War: %s against %s since %s, %d battles\n",
			names[war.Attacker], names[war.Defender], engine.SimTime(war.StartTick), war.Battles)
	}
}

func printEvents(events []event.Event) {
	if len(events) == 0 {
		fmt.Println("No events recorded.")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TICK\tTYPE\tDESCRIPTION")
	for _, ev := range events {
		desc := ev.Description
		if ev.Failed {
			desc += " (failed: " + ev.Error + ")"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\n", ev.Tick, ev.Type, desc)
	}
	w.Flush()
}
