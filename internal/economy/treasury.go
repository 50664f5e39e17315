package economy

import (
	"log/slog"

	"github.com/dustin/go-humanize"

	"github.com/talgya/chronicle/internal/phi"
	"github.com/talgya/chronicle/internal/social"
)

// Turnover is the value of goods the town consumed from its own market at
// tick.
func (m *Market) Turnover(tick uint64) float64 {
	total := 0.0
	for i := len(m.Transactions) - 1; i >= 0; i-- {
		tx := m.Transactions[i]
		if tx.Tick != tick {
			break
		}
		if tx.Kind == "local" {
			total += tx.Quantity * tx.Price
		}
	}
	return total
}

// ledger is one faction's takings for a tick.
type ledger struct {
	taxes, upkeep, wages float64
}

// collectTaxes levies every owned market's turnover into its faction's
// treasury, charges settlement upkeep and raises troops up to the garrison
// the faction's population supports. Faction resources belong to the
// economy during the update phase.
func (e *Exchange) collectTaxes(tick uint64) {
	ledgers := make(map[social.FactionID]ledger)
	population := make(map[social.FactionID]float64)

	for _, s := range e.store.Settlements() {
		if s.FactionID == 0 {
			continue
		}
		f, err := e.store.Faction(s.FactionID)
		if err != nil || f.Dissolved {
			continue
		}
		l := ledgers[f.ID]
		population[f.ID] += float64(s.Population)

		if m, ok := e.markets[s.ID]; ok {
			tax := m.Turnover(tick) * e.cfg.TaxRate
			f.Resources.Add(social.Resources{Gold: tax})
			l.taxes += tax
		}

		// Upkeep: thousands of residents * Agnosis * rate, never more than
		// the treasury holds.
		upkeep := float64(s.Population) / 1000 * phi.Agnosis * e.cfg.UpkeepRate
		l.upkeep += f.Resources.Spend(upkeep)
		ledgers[f.ID] = l
	}

	for _, f := range e.store.Factions() {
		l, ok := ledgers[f.ID]
		if !ok {
			continue
		}
		garrison := population[f.ID] / 1000 * e.cfg.Garrison
		want := min(garrison-f.Resources.Military, e.cfg.RecruitRate)
		// Wages never take more than half the treasury.
		if want > 0 && e.cfg.RecruitCost > 0 {
			want = min(want, f.Resources.Gold/2/e.cfg.RecruitCost)
		}
		if want > 0 {
			l.wages = f.Resources.Spend(want * e.cfg.RecruitCost)
			f.Resources.Add(social.Resources{Military: want})
		}
		if tick%TicksPerSeason == 0 {
			slog.Debug("treasury", "tick", tick, "faction", f.Name,
				"gold", humanize.Commaf(f.Resources.Gold), "military", humanize.Commaf(f.Resources.Military),
				"taxes", humanize.Commaf(l.taxes), "upkeep", humanize.Commaf(l.upkeep), "wages", humanize.Commaf(l.wages))
		}
	}
}
