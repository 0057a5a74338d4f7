// 配置加载器测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, "rhubarb_linux/rhubarb", cfg.Extractor.BinaryPath)
	assert.NoError(t, cfg.Validate())
}

func TestLoader_LoadFromYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  http_port: 8888
  read_header_timeout: 3s
  cors_allowed_origins: ["https://app.example.com"]

extractor:
  binary_path: /opt/rhubarb/rhubarb
  recognizer: pocketSphinx
  timeout: 45s
  extra_args: ["--machineReadable"]

session:
  max_frame_bytes: 1048576
  idle_timeout: 90s

pool:
  max_workers: 8

registry:
  backend: redis
  ttl: 2m

redis:
  addr: "redis.example.com:6379"
  password: "secret"
  db: 1

database:
  driver: sqlite
  name: /var/lib/visemeflow/history.db

log:
  level: "debug"
  format: "console"
`)

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 3*time.Second, cfg.Server.ReadHeaderTimeout)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.CORSAllowedOrigins)

	assert.Equal(t, "/opt/rhubarb/rhubarb", cfg.Extractor.BinaryPath)
	assert.Equal(t, "pocketSphinx", cfg.Extractor.Recognizer)
	assert.Equal(t, 45*time.Second, cfg.Extractor.Timeout)
	assert.Equal(t, []string{"--machineReadable"}, cfg.Extractor.ExtraArgs)
	assert.Equal(t, 1, cfg.Extractor.Threads, "unset fields keep defaults")

	assert.Equal(t, int64(1<<20), cfg.Session.MaxFrameBytes)
	assert.Equal(t, 90*time.Second, cfg.Session.IdleTimeout)
	assert.Equal(t, 10*time.Second, cfg.Session.WriteTimeout)
	assert.Equal(t, 8, cfg.Pool.MaxWorkers)

	assert.Equal(t, "redis", cfg.Registry.Backend)
	assert.Equal(t, 2*time.Minute, cfg.Registry.TTL)
	assert.Equal(t, "redis.example.com:6379", cfg.Redis.Addr)
	assert.Equal(t, "secret", cfg.Redis.Password)
	assert.Equal(t, 1, cfg.Redis.DB)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.NoError(t, cfg.Validate())
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("VISEMEFLOW_SERVER_HTTP_PORT", "7777")
	t.Setenv("VISEMEFLOW_SERVER_RATE_LIMIT_RPS", "12.5")
	t.Setenv("VISEMEFLOW_SERVER_API_KEYS", "k1, k2,,")
	t.Setenv("VISEMEFLOW_EXTRACTOR_TIMEOUT", "1m")
	t.Setenv("VISEMEFLOW_PROVISION_ENABLED", "false")
	t.Setenv("VISEMEFLOW_SESSION_MAX_FRAME_BYTES", "2048")
	t.Setenv("VISEMEFLOW_SESSION_MAX_PENDING_BYTES", "8192")
	t.Setenv("VISEMEFLOW_POOL_QUEUE_SIZE", "3")
	t.Setenv("VISEMEFLOW_REDIS_ADDR", "env-redis:6379")
	t.Setenv("VISEMEFLOW_LOG_LEVEL", "warn")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.HTTPPort)
	assert.Equal(t, 12.5, cfg.Server.RateLimitRPS)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Server.APIKeys)
	assert.Equal(t, time.Minute, cfg.Extractor.Timeout)
	assert.False(t, cfg.Provision.Enabled)
	assert.Equal(t, int64(2048), cfg.Session.MaxFrameBytes)
	assert.Equal(t, int64(8192), cfg.Session.MaxPendingBytes)
	assert.Equal(t, 3, cfg.Pool.QueueSize)
	assert.Equal(t, "env-redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  http_port: 8888
extractor:
  recognizer: pocketSphinx
`)
	t.Setenv("VISEMEFLOW_SERVER_HTTP_PORT", "9999")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.HTTPPort)
	assert.Equal(t, "pocketSphinx", cfg.Extractor.Recognizer)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_SERVER_HTTP_PORT", "6666")

	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)
	assert.Equal(t, 6666, cfg.Server.HTTPPort)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("VISEMEFLOW_EXTRACTOR_TIMEOUT", "soon")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "VISEMEFLOW_EXTRACTOR_TIMEOUT")
}

func TestLoader_WithValidator(t *testing.T) {
	t.Setenv("VISEMEFLOW_SERVER_HTTP_PORT", "80")

	_, err := NewLoader().
		WithValidator(func(cfg *Config) error {
			if cfg.Server.HTTPPort < 1024 {
				return assert.AnError
			}
			return nil
		}).
		Load()
	assert.ErrorIs(t, err, assert.AnError)
}

func TestLoader_NonExistentFile(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/non/existent/path/config.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_InvalidYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  http_port: [invalid
  this is not valid yaml
`)
	_, err := NewLoader().WithConfigPath(path).Load()
	assert.Error(t, err)
}

// --- Config 方法测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{name: "bad http port", mutate: func(c *Config) { c.Server.HTTPPort = 70000 }, wantErr: "invalid HTTP port"},
		{name: "metrics port clash", mutate: func(c *Config) { c.Server.MetricsPort = c.Server.HTTPPort }, wantErr: "metrics port"},
		{name: "metrics disabled", mutate: func(c *Config) { c.Server.MetricsPort = 0 }},
		{name: "half tls", mutate: func(c *Config) { c.Server.TLSCertFile = "cert.pem" }, wantErr: "tls_cert_file"},
		{name: "burst without rps", mutate: func(c *Config) { c.Server.RateLimitBurst = 0 }, wantErr: "rate_limit_burst"},
		{name: "rate limit off", mutate: func(c *Config) { c.Server.RateLimitRPS = 0; c.Server.RateLimitBurst = 0 }},
		{name: "no binary path", mutate: func(c *Config) { c.Extractor.BinaryPath = "" }, wantErr: "binary_path"},
		{name: "zero timeout", mutate: func(c *Config) { c.Extractor.Timeout = 0 }, wantErr: "extractor.timeout"},
		{name: "zero workers", mutate: func(c *Config) { c.Pool.MaxWorkers = 0 }, wantErr: "max_workers"},
		{name: "zero frame limit", mutate: func(c *Config) { c.Session.MaxFrameBytes = 0 }, wantErr: "max_frame_bytes"},
		{name: "pending below frame limit", mutate: func(c *Config) { c.Session.MaxPendingBytes = c.Session.MaxFrameBytes - 1 }, wantErr: "max_pending_bytes"},
		{name: "unknown registry", mutate: func(c *Config) { c.Registry.Backend = "etcd" }, wantErr: "registry backend"},
		{name: "redis without addr", mutate: func(c *Config) { c.Registry.Backend = "redis"; c.Redis.Addr = "" }, wantErr: "redis.addr"},
		{name: "unknown driver", mutate: func(c *Config) { c.Database.Driver = "oracle" }, wantErr: "database driver"},
		{name: "bad log level", mutate: func(c *Config) { c.Log.Level = "loud" }, wantErr: "log level"},
		{name: "bad sample rate", mutate: func(c *Config) { c.Telemetry.SampleRate = 2 }, wantErr: "sample_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name     string
		config   DatabaseConfig
		expected string
	}{
		{
			name: "postgres",
			config: DatabaseConfig{
				Driver: "postgres", Host: "localhost", Port: 5432,
				User: "user", Password: "pass", Name: "db", SSLMode: "disable",
			},
			expected: "host=localhost port=5432 user=user password=pass dbname=db sslmode=disable",
		},
		{
			name: "mysql",
			config: DatabaseConfig{
				Driver: "mysql", Host: "localhost", Port: 3306,
				User: "user", Password: "pass", Name: "db",
			},
			expected: "user:pass@tcp(localhost:3306)/db?parseTime=true",
		},
		{
			name:     "sqlite",
			config:   DatabaseConfig{Driver: "sqlite", Name: "/tmp/history.db"},
			expected: "/tmp/history.db",
		},
		{
			name:     "disabled",
			config:   DatabaseConfig{},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.config.DSN())
		})
	}
}

func TestDatabaseConfig_PoolConfig(t *testing.T) {
	d := DatabaseConfig{MaxOpenConns: 4, MaxIdleConns: 8, ConnMaxLifetime: time.Minute}
	pc := d.PoolConfig()

	assert.Equal(t, 4, pc.MaxOpenConns)
	assert.Equal(t, 4, pc.MaxIdleConns, "idle is capped at open")
	assert.Equal(t, time.Minute, pc.ConnMaxLifetime)
	assert.NoError(t, pc.Validate())
}

func TestServerConfig_TLSEnabled(t *testing.T) {
	assert.False(t, ServerConfig{}.TLSEnabled())
	assert.False(t, ServerConfig{TLSCertFile: "c"}.TLSEnabled())
	assert.True(t, ServerConfig{TLSCertFile: "c", TLSKeyFile: "k"}.TLSEnabled())
}

func TestMustLoad(t *testing.T) {
	path := writeConfig(t, "server:\n  http_port: 8181\n")
	assert.Equal(t, 8181, MustLoad(path).Server.HTTPPort)

	bad := writeConfig(t, "server: [")
	assert.Panics(t, func() { MustLoad(bad) })
}

func TestLoadFromEnv_Function(t *testing.T) {
	t.Setenv("VISEMEFLOW_SERVER_METRICS_PORT", "9300")
	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 9300, cfg.Server.MetricsPort)
}
