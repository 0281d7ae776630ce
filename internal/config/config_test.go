package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 5, cfg.Pool.Capacity)
	require.Zero(t, cfg.Pool.ReadTimeout)
	require.True(t, cfg.Admin.Enabled)
	require.Equal(t, 9090, cfg.Admin.Port)
	require.Equal(t, "lookup", cfg.Archive.Command)
	require.Equal(t, DriverSQLite, cfg.Archive.Driver)
	require.Equal(t, ":8080", cfg.Addr())
	require.Equal(t, 250*time.Millisecond, cfg.ProgressMaxWait())
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  host: 127.0.0.1
  port: 7070
pool:
  capacity: 2
  read_timeout: 3s
page:
  path: gs://pages/index.html
admin:
  enabled: true
  port: 7071
  api_key: secret
logging:
  development: false
  level: warn
progress:
  log_enabled: true
  batch:
    max_events: 10
    max_wait_ms: 50
archive:
  enabled: true
  driver: postgres
  dsn: postgres://localhost/archive
relay:
  enabled: true
  project_id: proj
  topic: commands
  commands: [play, stop]
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "127.0.0.1:7070", cfg.Addr())
	require.Equal(t, "127.0.0.1:7071", cfg.AdminAddr())
	require.Equal(t, 2, cfg.Pool.Capacity)
	require.Equal(t, 3*time.Second, cfg.Pool.ReadTimeout)
	require.Equal(t, "gs://pages/index.html", cfg.Page.Path)
	require.Equal(t, "secret", cfg.Admin.APIKey)
	require.False(t, cfg.Logging.Development)
	require.Equal(t, "warn", cfg.Logging.Level)
	require.True(t, cfg.Progress.LogEnabled)
	require.Equal(t, 10, cfg.Progress.Batch.MaxEvents)
	require.Equal(t, 50*time.Millisecond, cfg.ProgressMaxWait())
	require.Equal(t, DriverPostgres, cfg.Archive.Driver)
	require.Equal(t, []string{"play", "stop"}, cfg.Relay.Commands)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CMDGATE_POOL_CAPACITY", "9")
	t.Setenv("CMDGATE_SERVER_PORT", "6060")
	t.Setenv("CMDGATE_PAGE_CONTENT", "<html>env</html>")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 9, cfg.Pool.Capacity)
	require.Equal(t, 6060, cfg.Server.Port)
	require.Equal(t, "<html>env</html>", cfg.Page.Content)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorContains(t, err, "read config")
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:   ServerConfig{Port: 8080},
		Pool:     PoolConfig{Capacity: 1},
		Admin:    AdminConfig{Enabled: true, Port: 9090},
		Progress: ProgressConfig{Enabled: true, BufferSize: 8},
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"negative capacity", func(c *Config) { c.Pool.Capacity = -1 }, "pool.capacity"},
		{"negative timeout", func(c *Config) { c.Pool.ReadTimeout = -time.Second }, "pool.read_timeout"},
		{"admin port clash", func(c *Config) { c.Admin.Port = 8080 }, "admin.port"},
		{"progress buffer", func(c *Config) { c.Progress.BufferSize = 0 }, "progress.buffer_size"},
		{"archive driver", func(c *Config) {
			c.Archive = ArchiveConfig{Enabled: true, Driver: "mysql", DSN: "x", Command: "lookup"}
		}, "archive.driver"},
		{"archive dsn", func(c *Config) {
			c.Archive = ArchiveConfig{Enabled: true, Driver: DriverSQLite, Command: "lookup"}
		}, "archive.dsn"},
		{"relay topic", func(c *Config) {
			c.Relay = RelayConfig{Enabled: true, ProjectID: "p", Commands: []string{"play"}}
		}, "relay.project_id"},
		{"relay commands", func(c *Config) {
			c.Relay = RelayConfig{Enabled: true, ProjectID: "p", Topic: "t"}
		}, "relay.commands"},
		{"relay rate", func(c *Config) {
			c.Relay = RelayConfig{Enabled: true, ProjectID: "p", Topic: "t", Commands: []string{"play"}, RatePerSecond: -1}
		}, "relay.rate_per_second"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			require.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}
