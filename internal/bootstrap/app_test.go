package bootstrap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewApp_Defaults(t *testing.T) {
	app, err := NewApp("")
	require.NoError(t, err)
	assert.Equal(t, "info", app.Cfg.Logging.Level)
	assert.NotNil(t, app.Logger)
}

func TestNewAppWithLevel_OverridesBeforeLoggerBuild(t *testing.T) {
	// The override must land in the config the logger is built from.
	app, err := NewAppWithLevel("", "debug")
	require.NoError(t, err)
	assert.Equal(t, "debug", app.Cfg.Logging.Level)

	// Empty override keeps the configured level.
	app, err = NewAppWithLevel("", "")
	require.NoError(t, err)
	assert.Equal(t, "info", app.Cfg.Logging.Level)
}

func TestNewApp_MissingConfigFile(t *testing.T) {
	_, err := NewApp("does/not/exist.yaml")
	assert.Error(t, err)
}
