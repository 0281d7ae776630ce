// Package config loads and validates command server configuration via Viper.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Archive drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Pool     PoolConfig     `mapstructure:"pool"`
	Page     PageConfig     `mapstructure:"page"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Progress ProgressConfig `mapstructure:"progress"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Relay    RelayConfig    `mapstructure:"relay"`
}

// ServerConfig controls the command listener.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// PoolConfig sizes the worker pool.
type PoolConfig struct {
	Capacity     int           `mapstructure:"capacity"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// PageConfig selects the static page. Path wins over Content when both are set.
type PageConfig struct {
	Content string `mapstructure:"content"`
	// Path is a local file or a gs://bucket/object URI.
	Path string `mapstructure:"path"`
}

// AdminConfig controls the HTTP admin API.
type AdminConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ProgressConfig tunes the request event hub.
type ProgressConfig struct {
	Enabled       bool                `mapstructure:"enabled"`
	LogEnabled    bool                `mapstructure:"log_enabled"`
	BufferSize    int                 `mapstructure:"buffer_size"`
	RecentSize    int                 `mapstructure:"recent_size"`
	Batch         ProgressBatchConfig `mapstructure:"batch"`
	SinkTimeoutMs int                 `mapstructure:"sink_timeout_ms"`
}

// ProgressBatchConfig bounds hub batches.
type ProgressBatchConfig struct {
	MaxEvents int `mapstructure:"max_events"`
	MaxWaitMs int `mapstructure:"max_wait_ms"`
}

// ArchiveConfig enables the archive lookup subscriber.
type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Driver  string `mapstructure:"driver"`
	DSN     string `mapstructure:"dsn"`
	Command string `mapstructure:"command"`
}

// RelayConfig enables forwarding of commands to Pub/Sub.
type RelayConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	ProjectID string   `mapstructure:"project_id"`
	Topic     string   `mapstructure:"topic"`
	Commands  []string `mapstructure:"commands"`

	// RatePerSecond caps publishes per command name. Zero disables the cap.
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
}

// Load builds a Config from an optional file and CMDGATE_* environment
// variables.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CMDGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("pool.capacity", 5)
	v.SetDefault("pool.read_timeout", 0)
	v.SetDefault("pool.write_timeout", 0)
	v.SetDefault("page.content", "")
	v.SetDefault("page.path", "")
	v.SetDefault("admin.enabled", true)
	v.SetDefault("admin.port", 9090)
	v.SetDefault("admin.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", false)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.recent_size", 100)
	v.SetDefault("progress.batch.max_events", 256)
	v.SetDefault("progress.batch.max_wait_ms", 250)
	v.SetDefault("progress.sink_timeout_ms", 5000)
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.driver", DriverSQLite)
	v.SetDefault("archive.dsn", "")
	v.SetDefault("archive.command", "lookup")
	v.SetDefault("relay.enabled", false)
	v.SetDefault("relay.project_id", "")
	v.SetDefault("relay.topic", "")
	v.SetDefault("relay.commands", []string{})
	v.SetDefault("relay.rate_per_second", 0)
	v.SetDefault("relay.burst", 1)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Pool.Capacity < 0 {
		return fmt.Errorf("pool.capacity must be >= 0")
	}
	if c.Pool.ReadTimeout < 0 || c.Pool.WriteTimeout < 0 {
		return fmt.Errorf("pool.read_timeout and pool.write_timeout must be >= 0")
	}
	if c.Admin.Enabled {
		if c.Admin.Port <= 0 || c.Admin.Port > 65535 {
			return fmt.Errorf("admin.port must be between 1 and 65535 when admin is enabled")
		}
		if c.Admin.Port == c.Server.Port {
			return fmt.Errorf("admin.port must differ from server.port")
		}
	}
	if c.Progress.Enabled && c.Progress.BufferSize <= 0 {
		return fmt.Errorf("progress.buffer_size must be > 0 when progress is enabled")
	}
	if c.Archive.Enabled {
		switch c.Archive.Driver {
		case DriverSQLite, DriverPostgres:
		default:
			return fmt.Errorf("archive.driver must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.Archive.Driver)
		}
		if c.Archive.DSN == "" {
			return fmt.Errorf("archive.dsn must be set when archive is enabled")
		}
		if c.Archive.Command == "" {
			return fmt.Errorf("archive.command must be set when archive is enabled")
		}
	}
	if c.Relay.Enabled {
		if c.Relay.ProjectID == "" || c.Relay.Topic == "" {
			return fmt.Errorf("relay.project_id and relay.topic must be set when relay is enabled")
		}
		if len(c.Relay.Commands) == 0 {
			return fmt.Errorf("relay.commands must list at least one command when relay is enabled")
		}
		if c.Relay.RatePerSecond < 0 || c.Relay.Burst < 0 {
			return fmt.Errorf("relay.rate_per_second and relay.burst must be >= 0")
		}
	}
	return nil
}

// Addr returns the command listener address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// AdminAddr returns the admin API address.
func (c Config) AdminAddr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Admin.Port))
}

// ProgressMaxWait converts the batch wait to a duration.
func (c Config) ProgressMaxWait() time.Duration {
	return time.Duration(c.Progress.Batch.MaxWaitMs) * time.Millisecond
}

// ProgressSinkTimeout converts the sink timeout to a duration.
func (c Config) ProgressSinkTimeout() time.Duration {
	return time.Duration(c.Progress.SinkTimeoutMs) * time.Millisecond
}
