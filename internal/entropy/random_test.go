package entropy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForTick_Deterministic(t *testing.T) {
	a := ForTick(42, StreamEconomy, 17)
	b := ForTick(42, StreamEconomy, 17)
	for i := 0; i < 50; i++ {
		require.Equal(t, a.Int63(), b.Int63())
	}
}

func TestForTick_StreamsDiverge(t *testing.T) {
	a := ForTick(42, StreamEconomy, 17)
	b := ForTick(42, StreamPolitics, 17)
	c := ForTick(42, StreamEconomy, 18)
	first := a.Int63()
	assert.NotEqual(t, first, b.Int63())
	assert.NotEqual(t, first, c.Int63())
}

func TestNewSeed_FallsBackWithoutClient(t *testing.T) {
	var c *Client
	assert.False(t, c.Enabled())
	seed, err := NewSeed(c)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, seed, int64(0))
}
