package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"vex/pkg/coordinator"
)

// Config represents the daemon configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig contains the HTTP server settings.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// StorageConfig contains local vector store settings.
type StorageConfig struct {
	Backend string `mapstructure:"backend"` // "badger" or "memory"
	DataDir string `mapstructure:"data_dir"`
}

// CoordinatorConfig contains the multi-instance coordination tunables.
type CoordinatorConfig struct {
	ReplicationFactor     int    `mapstructure:"replication_factor"`
	SyncIntervalMs        int64  `mapstructure:"sync_interval_ms"`
	ConflictResolution    string `mapstructure:"conflict_resolution"`
	HealthCheckIntervalMs int64  `mapstructure:"health_check_interval_ms"`
	HealthCheckTimeoutMs  int64  `mapstructure:"health_check_timeout_ms"`
	AutoFailover          bool   `mapstructure:"auto_failover"`
	MaxRetries            int    `mapstructure:"max_retries"`
	RetryDelayMs          int64  `mapstructure:"retry_delay_ms"`
	MaxConcurrentSyncs    int    `mapstructure:"max_concurrent_syncs"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "text" or "json"
}

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/vex")
	}

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("VEX")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// GetDefaultConfig returns the built-in defaults.
func GetDefaultConfig() *Config {
	setDefaults()
	var cfg Config
	_ = viper.Unmarshal(&cfg)
	_ = validateConfig(&cfg)
	return &cfg
}

// CoordinatorConfig translates the file-level section into the runtime
// coordinator configuration.
func (c *Config) CoordinatorConfig() coordinator.Config {
	cc := c.Coordinator
	return coordinator.Config{
		ReplicationFactor:   cc.ReplicationFactor,
		SyncInterval:        time.Duration(cc.SyncIntervalMs) * time.Millisecond,
		Resolution:          coordinator.ConflictResolution(cc.ConflictResolution),
		HealthCheckInterval: time.Duration(cc.HealthCheckIntervalMs) * time.Millisecond,
		HealthCheckTimeout:  time.Duration(cc.HealthCheckTimeoutMs) * time.Millisecond,
		AutoFailover:        cc.AutoFailover,
		MaxRetries:          cc.MaxRetries,
		RetryDelay:          time.Duration(cc.RetryDelayMs) * time.Millisecond,
		MaxConcurrentSyncs:  cc.MaxConcurrentSyncs,
	}
}

func setDefaults() {
	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("server.port", 7700)
	viper.SetDefault("server.read_timeout", 30)
	viper.SetDefault("server.write_timeout", 30)

	viper.SetDefault("storage.backend", "badger")
	viper.SetDefault("storage.data_dir", "./data")

	viper.SetDefault("coordinator.replication_factor", 1)
	viper.SetDefault("coordinator.sync_interval_ms", 0)
	viper.SetDefault("coordinator.conflict_resolution", "last-write-wins")
	viper.SetDefault("coordinator.health_check_interval_ms", 30000)
	viper.SetDefault("coordinator.health_check_timeout_ms", 5000)
	viper.SetDefault("coordinator.auto_failover", true)
	viper.SetDefault("coordinator.max_retries", 3)
	viper.SetDefault("coordinator.retry_delay_ms", 1000)
	viper.SetDefault("coordinator.max_concurrent_syncs", 4)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
}

func validateConfig(cfg *Config) error {
	cfg.Storage.DataDir = filepath.Clean(cfg.Storage.DataDir)

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	switch cfg.Storage.Backend {
	case "badger", "memory":
	default:
		return fmt.Errorf("storage.backend must be badger or memory, got %q", cfg.Storage.Backend)
	}
	if cfg.Coordinator.ReplicationFactor < 1 {
		return fmt.Errorf("coordinator.replication_factor must be >= 1")
	}
	switch cfg.Coordinator.ConflictResolution {
	case "last-write-wins", "manual", "merge":
	default:
		return fmt.Errorf("coordinator.conflict_resolution must be last-write-wins, manual or merge, got %q",
			cfg.Coordinator.ConflictResolution)
	}
	return nil
}
