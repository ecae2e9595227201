package config

import (
	"os"
	"testing"

	"github.com/orion-homelab/orion/internal/orionerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	c := Default()
	assert.Equal(t, "redis://localhost:6379/0", c.BusURL)
	assert.Equal(t, "N2", c.AutonomyLevel)
	assert.Equal(t, 8080, c.HTTPPort)
}

func TestLoadFromEnvOverridesDefaults(t *testing.T) {
	os.Setenv("ORION_BUS_URL", "redis://bus.internal:6379/1")
	os.Setenv("ORION_HTTP_PORT", "9090")
	os.Setenv("ORION_AUTONOMY_LEVEL", "N3")
	t.Cleanup(func() {
		os.Unsetenv("ORION_BUS_URL")
		os.Unsetenv("ORION_HTTP_PORT")
		os.Unsetenv("ORION_AUTONOMY_LEVEL")
	})

	c := Default()
	c.LoadFromEnv()

	assert.Equal(t, "redis://bus.internal:6379/1", c.BusURL)
	assert.Equal(t, 9090, c.HTTPPort)
	assert.Equal(t, "N3", c.AutonomyLevel)
}

func TestLoadFromEnvIgnoresInvalidInt(t *testing.T) {
	os.Setenv("ORION_HTTP_PORT", "not-a-number")
	t.Cleanup(func() { os.Unsetenv("ORION_HTTP_PORT") })

	c := Default()
	c.LoadFromEnv()
	assert.Equal(t, 8080, c.HTTPPort)
}

func TestHeartbeatAndWatchdogDurations(t *testing.T) {
	c := Default()
	c.HeartbeatIntervalSeconds = 5
	c.WatchdogTimeoutSeconds = 10
	assert.Equal(t, 5e9, float64(c.HeartbeatInterval()))
	assert.Equal(t, 10e9, float64(c.WatchdogTimeout()))
}

func TestValidateBrain(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		c := Default()
		require.NoError(t, c.ValidateBrain())
	})
	t.Run("missing bus url", func(t *testing.T) {
		c := Default()
		c.BusURL = ""
		assert.ErrorIs(t, c.ValidateBrain(), orionerr.ErrMissingConfiguration)
	})
	t.Run("invalid autonomy level", func(t *testing.T) {
		c := Default()
		c.AutonomyLevel = "N9"
		assert.ErrorIs(t, c.ValidateBrain(), orionerr.ErrInvalidConfiguration)
	})
}

func TestValidateEdgeRequiresDeviceID(t *testing.T) {
	c := Default()
	assert.ErrorIs(t, c.ValidateEdge(), orionerr.ErrMissingConfiguration)

	c.DeviceID = "device-1"
	require.NoError(t, c.ValidateEdge())
}

func TestValidateEdgeRequiresPositiveWatchdogTimeout(t *testing.T) {
	c := Default()
	c.DeviceID = "device-1"
	c.WatchdogTimeoutSeconds = 0
	assert.ErrorIs(t, c.ValidateEdge(), orionerr.ErrInvalidConfiguration)
}

func TestValidateInferenceRouterRequiresBusURL(t *testing.T) {
	c := Default()
	c.BusURL = ""
	assert.ErrorIs(t, c.ValidateInferenceRouter(), orionerr.ErrMissingConfiguration)
}

func TestValidateInferenceWorkerRequiresNodeIDAndRuntimeURL(t *testing.T) {
	c := Default()
	assert.ErrorIs(t, c.ValidateInferenceWorker(), orionerr.ErrMissingConfiguration)

	c.NodeID = "node-1"
	require.NoError(t, c.ValidateInferenceWorker())

	c.RuntimeBaseURL = ""
	assert.ErrorIs(t, c.ValidateInferenceWorker(), orionerr.ErrMissingConfiguration)
}
