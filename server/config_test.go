package main

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/cellgraph")
	t.Setenv("LISTEN_ADDR", "")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CELLGRAPH_APPLY", "true")

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":3000", cfg.ListenAddr)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.True(t, cfg.ApplyChanges)
}

func TestLoadConfigRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := loadConfig()
	require.Error(t, err)
}

func TestLoadConfigRejectsBadLevel(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/cellgraph")
	t.Setenv("LOG_LEVEL", "loud")
	_, err := loadConfig()
	require.Error(t, err)
}
