package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupNoopWithoutEndpoint(t *testing.T) {
	t.Setenv("WORLDSIM_OTEL_ENDPOINT", "")
	t.Setenv("WORLDSIM_OTEL_ENABLED", "")

	shutdown, err := Setup(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, shutdown(ctx))
}

func TestSetupDisabled(t *testing.T) {
	t.Setenv("WORLDSIM_OTEL_ENDPOINT", "http://192.0.2.1:4318")
	t.Setenv("WORLDSIM_OTEL_ENABLED", "false")

	shutdown, err := Setup(context.Background())
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestSetupWithEndpoint(t *testing.T) {
	// Non-routable, nothing is exported before shutdown.
	t.Setenv("WORLDSIM_OTEL_ENDPOINT", "http://192.0.2.1:4318")
	t.Setenv("WORLDSIM_OTEL_ENABLED", "")

	shutdown, err := Setup(context.Background())
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
