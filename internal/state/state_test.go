package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/chronicle/internal/social"
	"github.com/talgya/chronicle/internal/world"
)

func TestLookupNotFound(t *testing.T) {
	w := NewWorld(1)
	_, err := w.Faction(9)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = w.Settlement(3)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = w.Distance(1, 2)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFactionsSortedAndActive(t *testing.T) {
	w := NewWorld(1)
	w.AddFaction(&social.Faction{ID: 3})
	w.AddFaction(&social.Faction{ID: 1})
	w.AddFaction(&social.Faction{ID: 2, Dissolved: true})

	ids := []social.FactionID{}
	for _, f := range w.Factions() {
		ids = append(ids, f.ID)
	}
	assert.Equal(t, []social.FactionID{1, 3}, ids)
}

func TestDistance(t *testing.T) {
	w := NewWorld(1)
	w.AddSettlement(&social.Settlement{ID: 1, Position: world.HexCoord{Q: 0, R: 0}})
	w.AddSettlement(&social.Settlement{ID: 2, Position: world.HexCoord{Q: 3, R: -1}})
	d, err := w.Distance(1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, d)
}

func TestNextIDStable(t *testing.T) {
	a, b := NewWorld(42), NewWorld(42)
	assert.Equal(t, a.NextID("treaty"), b.NextID("treaty"))
	assert.NotEqual(t, a.NextID("treaty"), a.NextID("treaty"))
	assert.NotEqual(t, NewWorld(43).NextID("treaty"), NewWorld(42).NextID("treaty"))
	assert.Equal(t, uint64(1), a.NextSerial())
}

func TestExportRestore(t *testing.T) {
	w := NewWorld(5)
	w.SetTick(12)
	w.SetMap(world.Generate(world.DefaultGenConfig(4, 5)))
	w.AddFaction(&social.Faction{ID: 1, Name: "A", Consciousness: social.Consciousness{Values: []string{"x"}}})
	w.AddSettlement(&social.Settlement{ID: 1, Name: "Town", FactionID: 1})
	w.NextID("plot")

	snap := w.Export()
	back := Restore(snap)

	assert.Equal(t, uint64(12), back.Tick())
	assert.Equal(t, w.Map().HexCount(), back.Map().HexCount())
	assert.Equal(t, w.NextID("plot"), back.NextID("plot"))

	// Snapshot is a copy, not an alias.
	f, _ := w.Faction(1)
	f.Consciousness.Values[0] = "changed"
	assert.Equal(t, "x", snap.Factions[0].Consciousness.Values[0])
}
