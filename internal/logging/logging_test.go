package logging

import (
	"bytes"
	"testing"

	"github.com/prometheus/common/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/timzifer/ctxguard/config"
)

func keepGlobalLevel(t *testing.T) {
	t.Helper()
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })
}

func TestSetupWritesJSONAtConfiguredLevel(t *testing.T) {
	keepGlobalLevel(t)
	var buf bytes.Buffer
	logger, cleanup, err := setup(config.LoggingConfig{Level: "WARN"}, &buf)
	require.NoError(t, err)
	defer cleanup()

	logger.Info().Msg("hidden")
	logger.Warn().Str("handle", "ctx-1").Msg("rendering context lost")

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, `"handle":"ctx-1"`)
	require.Contains(t, out, `"level":"warn"`)
}

func TestSetupTextFormat(t *testing.T) {
	keepGlobalLevel(t)
	var buf bytes.Buffer
	logger, _, err := setup(config.LoggingConfig{Format: "text"}, &buf)
	require.NoError(t, err)
	logger.Info().Msg("registered rendering context")
	require.Contains(t, buf.String(), "registered rendering context")
	require.NotContains(t, buf.String(), `"message"`)
}

func TestApplyLevelAfterSetup(t *testing.T) {
	keepGlobalLevel(t)
	var buf bytes.Buffer
	logger, _, err := setup(config.LoggingConfig{Level: "warn"}, &buf)
	require.NoError(t, err)

	logger.Debug().Msg("before reload")
	level, err := ApplyLevel("debug")
	require.NoError(t, err)
	require.Equal(t, zerolog.DebugLevel, level)
	logger.Debug().Msg("after reload")

	require.NotContains(t, buf.String(), "before reload")
	require.Contains(t, buf.String(), "after reload")

	_, err = ApplyLevel("loud")
	require.Error(t, err)
	require.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("")
	require.NoError(t, err)
	require.Equal(t, zerolog.InfoLevel, level)

	level, err = ParseLevel(" Debug ")
	require.NoError(t, err)
	require.Equal(t, zerolog.DebugLevel, level)

	_, err = ParseLevel("loud")
	require.Error(t, err)
}

func TestLokiRequiresURL(t *testing.T) {
	_, _, err := Setup(config.LoggingConfig{Loki: config.LokiConfig{Enabled: true}})
	require.Error(t, err)
}

func TestLokiLabelsDefault(t *testing.T) {
	require.Equal(t, model.LabelSet{"app": "ctxguard"}, lokiLabels(nil))
	require.Equal(t, model.LabelSet{"env": "dev"}, lokiLabels(map[string]string{"env": "dev"}))
}
