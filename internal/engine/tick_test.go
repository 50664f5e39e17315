package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimTime(t *testing.T) {
	tests := []struct {
		tick uint64
		want string
	}{
		{0, "Spring Day 1, Year 1"},
		{89, "Spring Day 90, Year 1"},
		{90, "Summer Day 1, Year 1"},
		{359, "Winter Day 90, Year 1"},
		{360, "Spring Day 1, Year 2"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SimTime(tt.tick))
	}
}

func TestEngineStepSaves(t *testing.T) {
	sim := newTestSim(t, testConfig())
	eng := NewEngine(sim, time.Millisecond, 2)
	var saved []uint64
	eng.OnSave = func(_ context.Context, tick uint64) error {
		saved = append(saved, tick)
		return errors.New("disk full")
	}

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, eng.Step(ctx), "save failures do not stop the engine")
	}
	assert.Equal(t, []uint64{2, 4}, saved)
	assert.Equal(t, uint64(5), sim.Tick())
}

func TestEngineSpeed(t *testing.T) {
	eng := NewEngine(nil, 0, 0)
	assert.Equal(t, time.Second, eng.Interval)
	assert.Equal(t, 1.0, eng.Speed())
	eng.SetSpeed(4)
	assert.Equal(t, 4.0, eng.Speed())
	eng.SetSpeed(-2)
	assert.Zero(t, eng.Speed())
	eng.SetSpeed(1)
	eng.Pause()
	assert.Zero(t, eng.Speed())
}

func TestEngineRunUntilStopped(t *testing.T) {
	sim := newTestSim(t, testConfig())
	eng := NewEngine(sim, time.Millisecond, 0)
	var saves atomic.Int32
	eng.SaveEvery = 1
	eng.OnSave = func(context.Context, uint64) error {
		saves.Add(1)
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- eng.Run(context.Background()) }()

	require.Eventually(t, func() bool { return sim.Tick() >= 3 }, 5*time.Second, time.Millisecond)
	eng.Pause()
	paused := sim.Tick()
	time.Sleep(3 * pausePoll)
	assert.LessOrEqual(t, sim.Tick(), paused+1, "a paused engine does not advance")

	eng.Stop()
	eng.Stop()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
	}
	assert.GreaterOrEqual(t, int(saves.Load()), 3)
}

func TestEngineRunStopsWithContext(t *testing.T) {
	sim := newTestSim(t, testConfig())
	eng := NewEngine(sim, time.Hour, 0)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()
	require.Eventually(t, func() bool { return sim.Tick() == 1 }, 5*time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine ignored cancellation")
	}
}
