package log

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zerolog.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("nonsense"))
}

func TestSetupWritesFiles(t *testing.T) {
	dir := t.TempDir()
	mainPath := filepath.Join(dir, "server.log")
	activityPath := filepath.Join(dir, "activity.log")

	logs := Setup("info",
		FileOptions{Path: mainPath, MaxSizeMB: 1},
		FileOptions{Path: activityPath, MaxSizeMB: 1},
	)
	logs.Main.Info().Msg("server started")
	logs.Main.Debug().Msg("hidden")
	logs.Activity.Info().Str("user", "alice").Msg("user connected")
	require.NoError(t, logs.Close())

	mainData, err := os.ReadFile(mainPath)
	require.NoError(t, err)
	assert.Contains(t, string(mainData), "server started")
	assert.NotContains(t, string(mainData), "hidden")
	assert.NotContains(t, string(mainData), "user connected")

	activityData, err := os.ReadFile(activityPath)
	require.NoError(t, err)
	assert.Contains(t, string(activityData), `"component":"activity"`)
	assert.Contains(t, string(activityData), `"user":"alice"`)
}

func TestSetupActivityFallsBackToMain(t *testing.T) {
	dir := t.TempDir()
	mainPath := filepath.Join(dir, "server.log")

	logs := Setup("info", FileOptions{Path: mainPath}, FileOptions{})
	logs.Activity.Info().Msg("menu option selected")
	require.NoError(t, logs.Close())

	data, err := os.ReadFile(mainPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "menu option selected")
	assert.Contains(t, string(data), `"component":"activity"`)
}
