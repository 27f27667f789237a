package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playforge-studio/gamecore/gamecore/statemachine"
)

func TestDefault_IsValid(t *testing.T) {
	c := Default()
	assert.NoError(t, c.Validate())
	assert.Equal(t, DispatcherPolling, c.Dispatcher)
	assert.Equal(t, 16*time.Millisecond, c.UpdateInterval())
	assert.Equal(t, statemachine.TraceLevelError, c.StateTraceLevel())
}

func TestFromMap(t *testing.T) {
	c := FromMap(map[string]any{
		"log_level":          "debug",
		"dispatcher":         "threaded",
		"trace_level":        "verbose",
		"update_interval_ms": 33.0, // decoded YAML numbers may be floats
		"metrics_enabled":    true,
	})

	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, DispatcherThreaded, c.Dispatcher)
	assert.Equal(t, statemachine.TraceLevelVerbose, c.StateTraceLevel())
	assert.Equal(t, 33, c.UpdateIntervalMs)
	assert.True(t, c.MetricsEnabled)

	// Unknown keys and absent keys fall back to defaults.
	assert.Equal(t, ":9100", c.MetricsAddr)
}

func TestFromYAML(t *testing.T) {
	c, err := FromYAML([]byte(`
log_level: warn
log_json: true
dispatcher: immediate
trace_level: info
update_interval_ms: 8
`))
	require.NoError(t, err)
	assert.Equal(t, "warn", c.LogLevel)
	assert.True(t, c.LogJSON)
	assert.Equal(t, DispatcherImmediate, c.Dispatcher)
	assert.Equal(t, statemachine.TraceLevelInfo, c.StateTraceLevel())
	assert.Equal(t, 8*time.Millisecond, c.UpdateInterval())
}

func TestFromYAML_Invalid(t *testing.T) {
	_, err := FromYAML([]byte(`dispatcher: carrier-pigeon`))
	assert.Error(t, err)

	_, err = FromYAML([]byte(`{`))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	c := Default()
	c.TraceLevel = "loud"
	assert.Error(t, c.Validate())

	c = Default()
	c.UpdateIntervalMs = 0
	assert.Error(t, c.Validate())

	c = Default()
	c.MetricsEnabled = true
	c.MetricsAddr = ""
	assert.Error(t, c.Validate())

	c = Default()
	c.TracingEnabled = true
	c.TracingEndpoint = ""
	assert.Error(t, c.Validate())
}
