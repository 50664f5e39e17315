package social

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/talgya/chronicle/internal/world"
)

func TestResourcesNeverNegative(t *testing.T) {
	r := Resources{Gold: 10, Influence: 5, Military: 3}
	r.Add(Resources{Gold: -50, Influence: -1, Military: -10})
	assert.Equal(t, Resources{Gold: 0, Influence: 4, Military: 0}, r)

	r.Gold = 20
	assert.Equal(t, 20.0, r.Spend(35))
	assert.Zero(t, r.Gold)
	assert.Zero(t, r.Spend(-5))
}

func TestGovernmentClamp(t *testing.T) {
	g := Government{Stability: 95, Corruption: 3}
	g.AdjustStability(20)
	g.AdjustCorruption(-10)
	assert.Equal(t, 100.0, g.Stability)
	assert.Equal(t, 0.0, g.Corruption)
}

func TestSetRuler(t *testing.T) {
	f := &Faction{}
	assert.False(t, f.HasRuler())
	f.SetRuler(7)
	assert.Equal(t, uint64(7), *f.RulerID)
	f.SetRuler(0)
	assert.False(t, f.HasRuler())
}

func TestAddValue(t *testing.T) {
	c := Consciousness{Values: []string{"order"}}
	assert.False(t, c.AddValue("order"))
	assert.True(t, c.AddValue("unity"))
	assert.Equal(t, []string{"order", "unity"}, c.Values)
}

func TestSettlementOutputByTerrain(t *testing.T) {
	farm := &Settlement{Population: 1000, Terrain: world.TerrainPlains}
	mine := &Settlement{Population: 1000, Terrain: world.TerrainMountain}
	assert.Greater(t, farm.Output()["food"], mine.Output()["food"])
	assert.Greater(t, mine.Output()["iron"], farm.Output()["iron"])
}
