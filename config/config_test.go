package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	viper.Reset()
	cfg := GetDefaultConfig()

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 7700, cfg.Server.Port)
	assert.Equal(t, "badger", cfg.Storage.Backend)
	assert.Equal(t, 1, cfg.Coordinator.ReplicationFactor)
	assert.Equal(t, "last-write-wins", cfg.Coordinator.ConflictResolution)
	assert.True(t, cfg.Coordinator.AutoFailover)
	assert.Equal(t, 4, cfg.Coordinator.MaxConcurrentSyncs)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadConfigFromFile(t *testing.T) {
	viper.Reset()
	path := writeConfigFile(t, `
server:
  port: 9000
storage:
  backend: memory
coordinator:
  replication_factor: 3
  sync_interval_ms: 60000
  conflict_resolution: merge
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, 3, cfg.Coordinator.ReplicationFactor)
	assert.Equal(t, "merge", cfg.Coordinator.ConflictResolution)
	// Unset keys keep their defaults.
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 3, cfg.Coordinator.MaxRetries)
}

func TestCoordinatorConfigTranslation(t *testing.T) {
	viper.Reset()
	path := writeConfigFile(t, `
coordinator:
  replication_factor: 2
  sync_interval_ms: 15000
  health_check_interval_ms: 10000
  health_check_timeout_ms: 2000
  retry_delay_ms: 500
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	cc := cfg.CoordinatorConfig()
	assert.Equal(t, 2, cc.ReplicationFactor)
	assert.Equal(t, 15*time.Second, cc.SyncInterval)
	assert.Equal(t, 10*time.Second, cc.HealthCheckInterval)
	assert.Equal(t, 2*time.Second, cc.HealthCheckTimeout)
	assert.Equal(t, 500*time.Millisecond, cc.RetryDelay)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"bad backend": `
storage:
  backend: sqlite
`,
		"bad resolution": `
coordinator:
  conflict_resolution: newest
`,
		"bad port": `
server:
  port: 0
`,
		"bad replication factor": `
coordinator:
  replication_factor: 0
`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			viper.Reset()
			_, err := LoadConfig(writeConfigFile(t, content))
			assert.Error(t, err)
		})
	}
}
