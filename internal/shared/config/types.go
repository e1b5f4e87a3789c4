package config

import (
	"fmt"
	"time"
)

type ServerConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Mode     string `mapstructure:"mode"`
	Timezone string `mapstructure:"timezone"`
}

func (s *ServerConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Username        string `mapstructure:"username"`
	Password        string `mapstructure:"password"`
	Database        string `mapstructure:"database"`
	SQLitePath      string `mapstructure:"sqlite_path"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

func (d *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&collation=utf8mb4_general_ci&parseTime=true&loc=UTC",
		d.Username, d.Password, d.Host, d.Port, d.Database)
}

type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (r *RedisConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// RolloutConfig tunes the rollout control loop and the invalidation lock.
type RolloutConfig struct {
	SchedulerInterval    time.Duration `mapstructure:"scheduler_interval"`
	AutoAssignInterval   time.Duration `mapstructure:"autoassign_interval"`
	MaxConcurrentTenants int           `mapstructure:"max_concurrent_tenants"`
	// TransactionTargets bounds how many targets are written per group-fill transaction.
	TransactionTargets int `mapstructure:"transaction_targets"`
	// TransactionActions bounds how many actions are written per transaction.
	TransactionActions int           `mapstructure:"transaction_actions"`
	LockTimeout        time.Duration `mapstructure:"lock_timeout"`
	LockLease          time.Duration `mapstructure:"lock_lease"`

	RejectActionStatusForClosedAction bool `mapstructure:"reject_action_status_for_closed_action"`
}

// TenantDefaultsConfig holds the fallback values for per-tenant settings.
type TenantDefaultsConfig struct {
	MultiAssignmentsEnabled bool          `mapstructure:"multi_assignments_enabled"`
	UserConfirmationEnabled bool          `mapstructure:"user_confirmation_enabled"`
	CacheSize               int           `mapstructure:"cache_size"`
	CacheTTL                time.Duration `mapstructure:"cache_ttl"`
}

type EventsConfig struct {
	BufferSize   int    `mapstructure:"buffer_size"`
	RedisChannel string `mapstructure:"redis_channel"`
}
