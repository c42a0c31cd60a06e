package main

import (
	"testing"

	"github.com/radiusdt/insights-cache/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRootCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["collect"])
	assert.True(t, names["migrate"])
}

func TestMigrateRejectsUnknownDirection(t *testing.T) {
	err := runMigrate(migrateCmd, []string{"sideways"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sideways")
}

func TestCollectRejectsUnknownType(t *testing.T) {
	collectType = "yearly"
	defer func() { collectType = "weekly" }()

	err := runCollect(collectCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "yearly")
}

func TestSetupLoggerLevel(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{Env: "production"},
		Log:    config.LogConfig{Level: "warn", Format: "json"},
	}
	logger := setupLogger(cfg)
	assert.False(t, logger.Core().Enabled(zap.InfoLevel))
	assert.True(t, logger.Core().Enabled(zap.WarnLevel))
}
