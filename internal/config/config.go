package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the system-wide settings tree. Precedence when loading:
// file > environment > defaults.
type Config struct {
	Store     *StoreConfig     `yaml:"store"`
	HTTP      *HTTPConfig      `yaml:"http"`
	WebSocket *WebSocketConfig `yaml:"websocket"`
	Session   *SessionConfig   `yaml:"session"`
	Auth      *AuthConfig      `yaml:"auth"`
	AI        *AIConfig        `yaml:"ai"`
}

// StoreConfig selects and parameterizes the session store backend.
type StoreConfig struct {
	Backend       string        `yaml:"backend"` // memory | sqlite | mongo | redis
	SQLitePath    string        `yaml:"sqlite_path"`
	MongoURI      string        `yaml:"mongo_uri"`
	MongoDatabase string        `yaml:"mongo_database"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	Timeout       time.Duration `yaml:"-"`
}

type HTTPConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"-"`
	WriteTimeout time.Duration `yaml:"-"`
}

type WebSocketConfig struct {
	PingInterval      time.Duration `yaml:"-"`
	ReadTimeout       time.Duration `yaml:"-"`
	WriteTimeout      time.Duration `yaml:"-"`
	BufferSize        int           `yaml:"buffer_size"`
	MessagesPerMinute int           `yaml:"messages_per_minute"`
}

// SessionConfig bounds the lifecycle manager's retry loops and the
// admission policy.
type SessionConfig struct {
	HumanQuota       int           `yaml:"human_quota"`
	JoinCodeLength   int           `yaml:"join_code_length"`
	JoinCodeAttempts int           `yaml:"join_code_attempts"`
	CASRetries       int           `yaml:"cas_retries"`
	SweepInterval    time.Duration `yaml:"-"`
}

// AuthConfig selects the token verifier. jwt verifies HMAC-signed
// bearer tokens; static is the development fallback with fixed tokens.
type AuthConfig struct {
	Mode       string `yaml:"mode"` // jwt | static
	SigningKey string `yaml:"signing_key"`
	Issuer     string `yaml:"issuer"`
}

// AIConfig points at the external service that supplies the AI
// participant. An empty URL disables the trigger.
type AIConfig struct {
	ServiceURL string        `yaml:"service_url"`
	Timeout    time.Duration `yaml:"-"`
}

// DefaultConfig returns production-ready defaults: in-process memory
// store, one human slot plus host, classic three-seat rounds.
func DefaultConfig() *Config {
	return &Config{
		Store: &StoreConfig{
			Backend:       "memory",
			SQLitePath:    "./parlor.db",
			MongoURI:      "mongodb://localhost:27017",
			MongoDatabase: "parlor",
			RedisAddr:     "localhost:6379",
			Timeout:       10 * time.Second,
		},
		HTTP: &HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval:      30 * time.Second,
			ReadTimeout:       60 * time.Second,
			WriteTimeout:      10 * time.Second,
			BufferSize:        100,
			MessagesPerMinute: 60,
		},
		Session: &SessionConfig{
			HumanQuota:       1,
			JoinCodeLength:   6,
			JoinCodeAttempts: 10,
			CASRetries:       5,
			SweepInterval:    30 * time.Second,
		},
		Auth: &AuthConfig{
			Mode: "static",
		},
		AI: &AIConfig{
			Timeout: 10 * time.Second,
		},
	}
}

// Validate rejects configurations that would fail at runtime.
func (c *Config) Validate() error {
	if c.Store == nil {
		return fmt.Errorf("store configuration is required")
	}
	switch c.Store.Backend {
	case "memory":
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("sqlite path cannot be empty")
		}
	case "mongo":
		if c.Store.MongoURI == "" || c.Store.MongoDatabase == "" {
			return fmt.Errorf("mongo URI and database are required")
		}
	case "redis":
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("redis address is required")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 || c.WebSocket.ReadTimeout <= 0 || c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket timeouts must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}
	if c.WebSocket.MessagesPerMinute <= 0 {
		return fmt.Errorf("WebSocket message rate limit must be positive")
	}

	if c.Session == nil {
		return fmt.Errorf("session configuration is required")
	}
	if c.Session.HumanQuota < 1 {
		return fmt.Errorf("human quota must be at least 1")
	}
	if c.Session.JoinCodeLength < 4 || c.Session.JoinCodeLength > 10 {
		return fmt.Errorf("join code length must be between 4 and 10")
	}
	if c.Session.JoinCodeAttempts <= 0 || c.Session.CASRetries <= 0 {
		return fmt.Errorf("session retry bounds must be positive")
	}
	if c.Session.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive")
	}

	if c.Auth == nil {
		return fmt.Errorf("auth configuration is required")
	}
	switch c.Auth.Mode {
	case "static":
	case "jwt":
		if c.Auth.SigningKey == "" {
			return fmt.Errorf("jwt auth requires a signing key")
		}
	default:
		return fmt.Errorf("unknown auth mode %q", c.Auth.Mode)
	}

	return nil
}

// LoadFromEnv overlays PARLOR_* environment variables onto base.
func LoadFromEnv(base *Config) *Config {
	if v := os.Getenv("PARLOR_STORE_BACKEND"); v != "" {
		base.Store.Backend = v
	}
	if v := os.Getenv("PARLOR_SQLITE_PATH"); v != "" {
		base.Store.SQLitePath = v
	}
	if v := os.Getenv("PARLOR_MONGO_URI"); v != "" {
		base.Store.MongoURI = v
	}
	if v := os.Getenv("PARLOR_MONGO_DATABASE"); v != "" {
		base.Store.MongoDatabase = v
	}
	if v := os.Getenv("PARLOR_REDIS_ADDR"); v != "" {
		base.Store.RedisAddr = v
	}
	if v := os.Getenv("PARLOR_REDIS_PASSWORD"); v != "" {
		base.Store.RedisPassword = v
	}
	if v := os.Getenv("PARLOR_HTTP_HOST"); v != "" {
		base.HTTP.Host = v
	}
	if v := os.Getenv("PARLOR_HTTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			base.HTTP.Port = p
		}
	}
	if v := os.Getenv("PARLOR_HUMAN_QUOTA"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			base.Session.HumanQuota = n
		}
	}
	if v := os.Getenv("PARLOR_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			base.Session.SweepInterval = d
		}
	}
	if v := os.Getenv("PARLOR_AUTH_MODE"); v != "" {
		base.Auth.Mode = v
	}
	if v := os.Getenv("PARLOR_AUTH_SIGNING_KEY"); v != "" {
		base.Auth.SigningKey = v
	}
	if v := os.Getenv("PARLOR_AUTH_ISSUER"); v != "" {
		base.Auth.Issuer = v
	}
	if v := os.Getenv("PARLOR_AI_SERVICE_URL"); v != "" {
		base.AI.ServiceURL = v
	}
	return base
}

// fileConfig mirrors Config for YAML parsing, with durations as
// strings so operators can write "30s" rather than nanoseconds.
type fileConfig struct {
	Store *struct {
		Backend       string `yaml:"backend"`
		SQLitePath    string `yaml:"sqlite_path"`
		MongoURI      string `yaml:"mongo_uri"`
		MongoDatabase string `yaml:"mongo_database"`
		RedisAddr     string `yaml:"redis_addr"`
		RedisPassword string `yaml:"redis_password"`
		RedisDB       *int   `yaml:"redis_db"`
		Timeout       string `yaml:"timeout"`
	} `yaml:"store"`
	HTTP *struct {
		Host         string `yaml:"host"`
		Port         int    `yaml:"port"`
		ReadTimeout  string `yaml:"read_timeout"`
		WriteTimeout string `yaml:"write_timeout"`
	} `yaml:"http"`
	WebSocket *struct {
		PingInterval      string `yaml:"ping_interval"`
		ReadTimeout       string `yaml:"read_timeout"`
		WriteTimeout      string `yaml:"write_timeout"`
		BufferSize        int    `yaml:"buffer_size"`
		MessagesPerMinute int    `yaml:"messages_per_minute"`
	} `yaml:"websocket"`
	Session *struct {
		HumanQuota       int    `yaml:"human_quota"`
		JoinCodeLength   int    `yaml:"join_code_length"`
		JoinCodeAttempts int    `yaml:"join_code_attempts"`
		CASRetries       int    `yaml:"cas_retries"`
		SweepInterval    string `yaml:"sweep_interval"`
	} `yaml:"session"`
	Auth *struct {
		Mode       string `yaml:"mode"`
		SigningKey string `yaml:"signing_key"`
		Issuer     string `yaml:"issuer"`
	} `yaml:"auth"`
	AI *struct {
		ServiceURL string `yaml:"service_url"`
		Timeout    string `yaml:"timeout"`
	} `yaml:"ai"`
}

func setDuration(dst *time.Duration, raw string) {
	if raw == "" {
		return
	}
	if d, err := time.ParseDuration(raw); err == nil {
		*dst = d
	}
}

// LoadFromFile overlays a YAML file onto base.
func LoadFromFile(path string, base *Config) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if fc.Store != nil {
		if fc.Store.Backend != "" {
			base.Store.Backend = fc.Store.Backend
		}
		if fc.Store.SQLitePath != "" {
			base.Store.SQLitePath = fc.Store.SQLitePath
		}
		if fc.Store.MongoURI != "" {
			base.Store.MongoURI = fc.Store.MongoURI
		}
		if fc.Store.MongoDatabase != "" {
			base.Store.MongoDatabase = fc.Store.MongoDatabase
		}
		if fc.Store.RedisAddr != "" {
			base.Store.RedisAddr = fc.Store.RedisAddr
		}
		if fc.Store.RedisPassword != "" {
			base.Store.RedisPassword = fc.Store.RedisPassword
		}
		if fc.Store.RedisDB != nil {
			base.Store.RedisDB = *fc.Store.RedisDB
		}
		setDuration(&base.Store.Timeout, fc.Store.Timeout)
	}
	if fc.HTTP != nil {
		if fc.HTTP.Host != "" {
			base.HTTP.Host = fc.HTTP.Host
		}
		if fc.HTTP.Port > 0 {
			base.HTTP.Port = fc.HTTP.Port
		}
		setDuration(&base.HTTP.ReadTimeout, fc.HTTP.ReadTimeout)
		setDuration(&base.HTTP.WriteTimeout, fc.HTTP.WriteTimeout)
	}
	if fc.WebSocket != nil {
		if fc.WebSocket.BufferSize > 0 {
			base.WebSocket.BufferSize = fc.WebSocket.BufferSize
		}
		if fc.WebSocket.MessagesPerMinute > 0 {
			base.WebSocket.MessagesPerMinute = fc.WebSocket.MessagesPerMinute
		}
		setDuration(&base.WebSocket.PingInterval, fc.WebSocket.PingInterval)
		setDuration(&base.WebSocket.ReadTimeout, fc.WebSocket.ReadTimeout)
		setDuration(&base.WebSocket.WriteTimeout, fc.WebSocket.WriteTimeout)
	}
	if fc.Session != nil {
		if fc.Session.HumanQuota > 0 {
			base.Session.HumanQuota = fc.Session.HumanQuota
		}
		if fc.Session.JoinCodeLength > 0 {
			base.Session.JoinCodeLength = fc.Session.JoinCodeLength
		}
		if fc.Session.JoinCodeAttempts > 0 {
			base.Session.JoinCodeAttempts = fc.Session.JoinCodeAttempts
		}
		if fc.Session.CASRetries > 0 {
			base.Session.CASRetries = fc.Session.CASRetries
		}
		setDuration(&base.Session.SweepInterval, fc.Session.SweepInterval)
	}
	if fc.Auth != nil {
		if fc.Auth.Mode != "" {
			base.Auth.Mode = fc.Auth.Mode
		}
		if fc.Auth.SigningKey != "" {
			base.Auth.SigningKey = fc.Auth.SigningKey
		}
		if fc.Auth.Issuer != "" {
			base.Auth.Issuer = fc.Auth.Issuer
		}
	}
	if fc.AI != nil {
		if fc.AI.ServiceURL != "" {
			base.AI.ServiceURL = fc.AI.ServiceURL
		}
		setDuration(&base.AI.Timeout, fc.AI.Timeout)
	}

	return base, nil
}

// LoadWithPrecedence resolves the effective configuration: defaults,
// then environment, then the file at path if one is given. A missing
// or malformed file is logged by the caller via the returned error of
// LoadFromFile; here it simply falls back to env+defaults.
func LoadWithPrecedence(path string) *Config {
	cfg := LoadFromEnv(DefaultConfig())
	if path == "" {
		return cfg
	}
	if loaded, err := LoadFromFile(path, cfg); err == nil {
		return loaded
	}
	return cfg
}
