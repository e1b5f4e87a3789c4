package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"

	sharedConfig "github.com/orris-inc/rolloutd/internal/shared/config"
)

type Config struct {
	Server         sharedConfig.ServerConfig         `mapstructure:"server"`
	Database       sharedConfig.DatabaseConfig       `mapstructure:"database"`
	Logger         sharedConfig.LoggerConfig         `mapstructure:"logger"`
	Redis          sharedConfig.RedisConfig          `mapstructure:"redis"`
	Rollout        sharedConfig.RolloutConfig        `mapstructure:"rollout"`
	TenantDefaults sharedConfig.TenantDefaultsConfig `mapstructure:"tenant_defaults"`
	Events         sharedConfig.EventsConfig         `mapstructure:"events"`
}

var (
	appConfig   *Config
	appConfigMu sync.RWMutex
)

// Load loads configuration from file and environment variables.
// A missing config file is tolerated; defaults and ROLLOUTD_* variables still apply.
func Load(env string, configPath ...string) (*Config, error) {
	v := viper.New()

	if len(configPath) > 0 && configPath[0] != "" {
		v.SetConfigFile(configPath[0])
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath("../configs")
		v.AddConfigPath("../../configs")
	}

	v.SetEnvPrefix("ROLLOUTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if env != "" && env != "default" {
		v.Set("server.mode", env)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	appConfigMu.Lock()
	appConfig = &config
	appConfigMu.Unlock()

	return &config, nil
}

// Get returns the loaded configuration, or nil before Load.
func Get() *Config {
	appConfigMu.RLock()
	defer appConfigMu.RUnlock()
	return appConfig
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.timezone", "UTC")

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.username", "root")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.database", "rolloutd_dev")
	v.SetDefault("database.sqlite_path", "rolloutd.db")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", 60)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.output_path", "stdout")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("rollout.scheduler_interval", 2*time.Second)
	v.SetDefault("rollout.autoassign_interval", time.Minute)
	v.SetDefault("rollout.max_concurrent_tenants", 4)
	v.SetDefault("rollout.transaction_targets", 5000)
	v.SetDefault("rollout.transaction_actions", 5000)
	v.SetDefault("rollout.lock_timeout", 5*time.Second)
	v.SetDefault("rollout.lock_lease", time.Minute)
	v.SetDefault("rollout.reject_action_status_for_closed_action", false)

	v.SetDefault("tenant_defaults.multi_assignments_enabled", false)
	v.SetDefault("tenant_defaults.user_confirmation_enabled", false)
	v.SetDefault("tenant_defaults.cache_size", 1024)
	v.SetDefault("tenant_defaults.cache_ttl", 30*time.Second)

	v.SetDefault("events.buffer_size", 1024)
	v.SetDefault("events.redis_channel", "rolloutd:events")
}
