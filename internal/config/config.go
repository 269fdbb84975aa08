package config

import (
	"time"

	"github.com/rickgao/cogdash/internal/stream"
)

// Config is the root configuration for a cogdash instance.
type Config struct {
	Instance InstanceConfig `yaml:"instance"`
	Backend  BackendConfig  `yaml:"backend"`
	Stream   StreamConfig   `yaml:"stream"`
	Journal  JournalConfig  `yaml:"journal"`
	Status   StatusConfig   `yaml:"status"`
	Log      LogConfig      `yaml:"log"`
}

// InstanceConfig identifies this client.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// BackendConfig holds the dashboard backend endpoints.
//
// Pointer fields distinguish an explicit 0 from an absent key; read them
// through the accessor methods.
type BackendConfig struct {
	HTTPURL    string        `yaml:"http_url"`
	WSURL      string        `yaml:"ws_url"`
	APIKey     string        `yaml:"api_key"` // optional, sent as a bearer token
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries *int          `yaml:"max_retries"`

	BreakerThreshold uint32        `yaml:"breaker_threshold"` // consecutive failures before the circuit opens
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown"`
	SearchCacheSize  *int          `yaml:"search_cache_size"` // 0 disables the cache
	SearchCacheTTL   time.Duration `yaml:"search_cache_ttl"`
}

// Retries returns max_retries, or the default when unset.
func (b BackendConfig) Retries() int {
	return valueOr(b.MaxRetries, DefaultMaxRetries)
}

// CacheSize returns search_cache_size, or the default when unset.
func (b BackendConfig) CacheSize() int {
	return valueOr(b.SearchCacheSize, DefaultSearchCacheSize)
}

// StreamConfig holds event stream connection settings.
type StreamConfig struct {
	ReconnectBaseDelay   time.Duration  `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration  `yaml:"reconnect_max_delay"`
	MaxReconnectAttempts *int           `yaml:"max_reconnect_attempts"` // 0 never reconnects
	HandshakeTimeout     time.Duration  `yaml:"handshake_timeout"`
	PingInterval         *time.Duration `yaml:"ping_interval"` // 0 disables the heartbeat
	PongTimeout          time.Duration  `yaml:"pong_timeout"`
	WriteTimeout         time.Duration  `yaml:"write_timeout"`
	BufferSize           int            `yaml:"buffer_size"`
}

// ReconnectAttempts returns max_reconnect_attempts, or the default when unset.
func (s StreamConfig) ReconnectAttempts() int {
	return valueOr(s.MaxReconnectAttempts, DefaultMaxReconnectAttempts)
}

// Heartbeat returns ping_interval, or the default when unset.
func (s StreamConfig) Heartbeat() time.Duration {
	return valueOr(s.PingInterval, DefaultPingInterval)
}

// JournalConfig controls the PostgreSQL event journal.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Database      DBConfig      `yaml:"database"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// StatusConfig holds the status HTTP server settings. Port 0 disables it.
type StatusConfig struct {
	Port *int `yaml:"port"`
}

// ListenPort returns the status port, or the default when unset.
func (s StatusConfig) ListenPort() int {
	return valueOr(s.Port, DefaultStatusPort)
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// StreamOptions converts the stream section into manager settings.
func (c *Config) StreamOptions() stream.Config {
	cfg := stream.DefaultConfig()
	cfg.ReconnectBaseDelay = c.Stream.ReconnectBaseDelay
	cfg.ReconnectMaxDelay = c.Stream.ReconnectMaxDelay
	cfg.MaxReconnectAttempts = c.Stream.ReconnectAttempts()
	cfg.HandshakeTimeout = c.Stream.HandshakeTimeout
	cfg.PingInterval = c.Stream.Heartbeat()
	cfg.PongTimeout = c.Stream.PongTimeout
	cfg.WriteTimeout = c.Stream.WriteTimeout
	cfg.BufferSize = c.Stream.BufferSize
	return cfg
}

func valueOr[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}
