package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 1, cfg.Session.HumanQuota)
	assert.Equal(t, 6, cfg.Session.JoinCodeLength)
	assert.Equal(t, "static", cfg.Auth.Mode)
}

func TestValidateRejections(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown backend":    func(c *Config) { c.Store.Backend = "etcd" },
		"sqlite no path":     func(c *Config) { c.Store.Backend = "sqlite"; c.Store.SQLitePath = "" },
		"mongo no uri":       func(c *Config) { c.Store.Backend = "mongo"; c.Store.MongoURI = "" },
		"redis no addr":      func(c *Config) { c.Store.Backend = "redis"; c.Store.RedisAddr = "" },
		"bad port":           func(c *Config) { c.HTTP.Port = 0 },
		"empty host":         func(c *Config) { c.HTTP.Host = "" },
		"zero quota":         func(c *Config) { c.Session.HumanQuota = 0 },
		"short join code":    func(c *Config) { c.Session.JoinCodeLength = 3 },
		"zero sweep":         func(c *Config) { c.Session.SweepInterval = 0 },
		"zero buffer":        func(c *Config) { c.WebSocket.BufferSize = 0 },
		"zero rate limit":    func(c *Config) { c.WebSocket.MessagesPerMinute = 0 },
		"unknown auth mode":  func(c *Config) { c.Auth.Mode = "oauth" },
		"jwt without key":    func(c *Config) { c.Auth.Mode = "jwt"; c.Auth.SigningKey = "" },
	}

	for name, mutate := range cases {
		cfg := DefaultConfig()
		mutate(cfg)
		assert.Error(t, cfg.Validate(), name)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PARLOR_STORE_BACKEND", "redis")
	t.Setenv("PARLOR_REDIS_ADDR", "redis.internal:6379")
	t.Setenv("PARLOR_HTTP_PORT", "9090")
	t.Setenv("PARLOR_HUMAN_QUOTA", "2")
	t.Setenv("PARLOR_SWEEP_INTERVAL", "45s")
	t.Setenv("PARLOR_AUTH_MODE", "jwt")
	t.Setenv("PARLOR_AUTH_SIGNING_KEY", "env-key")
	t.Setenv("PARLOR_AI_SERVICE_URL", "http://ai.internal/api/ai/join")

	cfg := LoadFromEnv(DefaultConfig())

	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, "redis.internal:6379", cfg.Store.RedisAddr)
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, 2, cfg.Session.HumanQuota)
	assert.Equal(t, 45*time.Second, cfg.Session.SweepInterval)
	assert.Equal(t, "jwt", cfg.Auth.Mode)
	assert.Equal(t, "env-key", cfg.Auth.SigningKey)
	assert.Equal(t, "http://ai.internal/api/ai/join", cfg.AI.ServiceURL)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	content := `
store:
  backend: sqlite
  sqlite_path: /var/lib/parlor/sessions.db
http:
  port: 9000
  read_timeout: 15s
websocket:
  messages_per_minute: 120
  ping_interval: 20s
session:
  human_quota: 2
  join_code_length: 8
  sweep_interval: 1m
auth:
  mode: jwt
  signing_key: file-key
  issuer: parlor
ai:
  service_url: http://localhost:3001/api/ai/join
  timeout: 5s
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFromFile(path, DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, "/var/lib/parlor/sessions.db", cfg.Store.SQLitePath)
	assert.Equal(t, 9000, cfg.HTTP.Port)
	assert.Equal(t, 15*time.Second, cfg.HTTP.ReadTimeout)
	assert.Equal(t, 120, cfg.WebSocket.MessagesPerMinute)
	assert.Equal(t, 20*time.Second, cfg.WebSocket.PingInterval)
	assert.Equal(t, 2, cfg.Session.HumanQuota)
	assert.Equal(t, 8, cfg.Session.JoinCodeLength)
	assert.Equal(t, time.Minute, cfg.Session.SweepInterval)
	assert.Equal(t, "jwt", cfg.Auth.Mode)
	assert.Equal(t, "parlor", cfg.Auth.Issuer)
	assert.Equal(t, "http://localhost:3001/api/ai/join", cfg.AI.ServiceURL)
	assert.Equal(t, 5*time.Second, cfg.AI.Timeout)
	require.NoError(t, cfg.Validate())

	// Unset fields keep their defaults.
	assert.Equal(t, "0.0.0.0", cfg.HTTP.Host)
	assert.Equal(t, 100, cfg.WebSocket.BufferSize)
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/config.yaml", DefaultConfig())
	assert.Error(t, err)
}

func TestLoadFromFileMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store: ["), 0o644))

	_, err := LoadFromFile(path, DefaultConfig())
	assert.Error(t, err)
}

func TestLoadWithPrecedenceFileWinsOverEnv(t *testing.T) {
	t.Setenv("PARLOR_HTTP_PORT", "9090")

	content := "http:\n  port: 7000\n"
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg := LoadWithPrecedence(path)
	assert.Equal(t, 7000, cfg.HTTP.Port)

	// Without a file the env value stands.
	cfg = LoadWithPrecedence("")
	assert.Equal(t, 9090, cfg.HTTP.Port)
}
