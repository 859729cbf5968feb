package config

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, DefaultAddr, cfg.Addr)
	assert.Equal(t, DefaultSweepInterval, cfg.SweepInterval)
	assert.Equal(t, DefaultCacheTTL, cfg.CacheTTL)
	assert.Equal(t, DefaultWorkers, cfg.Workers)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Empty(t, cfg.DBPath)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("AGENTID_ADDR", ":9090")
	t.Setenv("AGENTID_DB_PATH", "/tmp/agentid.db")
	t.Setenv("AGENTID_SWEEP_INTERVAL", "30s")
	t.Setenv("AGENTID_WORKERS", "8")
	t.Setenv("AGENTID_LOG_FORMAT", "json")
	t.Setenv("AGENTID_LOG_LEVEL", "debug")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, "/tmp/agentid.db", cfg.DBPath)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
	assert.Equal(t, 8, cfg.Workers)
	assert.True(t, cfg.Logger().Enabled(context.Background(), slog.LevelDebug))
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"AGENTID_SWEEP_INTERVAL", "soon"},
		{"AGENTID_SWEEP_INTERVAL", "-1s"},
		{"AGENTID_WORKERS", "many"},
		{"AGENTID_WORKERS", "0"},
		{"AGENTID_LOG_FORMAT", "xml"},
		{"AGENTID_LOG_LEVEL", "loud"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}
