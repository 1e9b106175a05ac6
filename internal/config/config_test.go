package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultServerPort, cfg.Server.Port)
	assert.Equal(t, DefaultEngineDirName, cfg.Engine.DirName)
	assert.Equal(t, DefaultEngineThreshold, cfg.Engine.Threshold)
	assert.Equal(t, int64(DefaultEngineMaxRecordingBytes), cfg.Engine.MaxRecordingBytes)
	assert.Equal(t, DefaultEngineMaxChaptersInMemory, cfg.Engine.MaxChaptersInMemory)
	assert.False(t, cfg.Engine.AllowContent)
	assert.False(t, cfg.Engine.RecordTelemetry)
	assert.Equal(t, "fs", cfg.Engine.Storage)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("PATCHLINGS_SERVER_PORT", "9999")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
}

func TestLoad_AllowContentEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv(AllowContentEnv, "true")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.True(t, cfg.Engine.AllowContent)
}

func TestDurationOrDefault(t *testing.T) {
	d, err := DurationOrDefault("", "30s")
	require.NoError(t, err)
	assert.Equal(t, "30s", d.String())

	d, err = DurationOrDefault("250ms", "30s")
	require.NoError(t, err)
	assert.Equal(t, "250ms", d.String())

	_, err = DurationOrDefault("bogus", "30s")
	assert.Error(t, err)
}
