package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultInstanceID           = "cogdash"
	DefaultHTTPURL              = "http://localhost:8000"
	DefaultWSURL                = "ws://localhost:8000/ws/cognitive-stream"
	DefaultAPITimeout           = 30 * time.Second
	DefaultMaxRetries           = 3
	DefaultBreakerThreshold     = 5
	DefaultBreakerCooldown      = 30 * time.Second
	DefaultSearchCacheSize      = 256
	DefaultSearchCacheTTL       = 30 * time.Second
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultReconnectMaxDelay    = 30 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultPingInterval         = 30 * time.Second
	DefaultPongTimeout          = 60 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultStreamBufferSize     = 1000
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 10
	DefaultMinConns             = 2
	DefaultBatchSize            = 500
	DefaultFlushInterval        = 1 * time.Second
	DefaultJournalBufferSize    = 10000
	DefaultStatusPort           = 8080
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
)

func (c *Config) applyDefaults() {
	// Backend defaults
	if c.Backend.HTTPURL == "" {
		c.Backend.HTTPURL = DefaultHTTPURL
	}
	if c.Backend.WSURL == "" {
		c.Backend.WSURL = DefaultWSURL
	}
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = DefaultAPITimeout
	}
	setDefault(&c.Backend.MaxRetries, DefaultMaxRetries)
	if c.Backend.BreakerThreshold == 0 {
		c.Backend.BreakerThreshold = DefaultBreakerThreshold
	}
	if c.Backend.BreakerCooldown == 0 {
		c.Backend.BreakerCooldown = DefaultBreakerCooldown
	}
	setDefault(&c.Backend.SearchCacheSize, DefaultSearchCacheSize)
	if c.Backend.SearchCacheTTL == 0 {
		c.Backend.SearchCacheTTL = DefaultSearchCacheTTL
	}

	// Stream defaults
	if c.Stream.ReconnectBaseDelay == 0 {
		c.Stream.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Stream.ReconnectMaxDelay == 0 {
		c.Stream.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	setDefault(&c.Stream.MaxReconnectAttempts, DefaultMaxReconnectAttempts)
	if c.Stream.HandshakeTimeout == 0 {
		c.Stream.HandshakeTimeout = DefaultHandshakeTimeout
	}
	setDefault(&c.Stream.PingInterval, DefaultPingInterval)
	if c.Stream.PongTimeout == 0 {
		c.Stream.PongTimeout = DefaultPongTimeout
	}
	if c.Stream.WriteTimeout == 0 {
		c.Stream.WriteTimeout = DefaultWriteTimeout
	}
	if c.Stream.BufferSize == 0 {
		c.Stream.BufferSize = DefaultStreamBufferSize
	}

	// Journal defaults
	applyDBDefaults(&c.Journal.Database)
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = DefaultBatchSize
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = DefaultFlushInterval
	}
	if c.Journal.BufferSize == 0 {
		c.Journal.BufferSize = DefaultJournalBufferSize
	}

	setDefault(&c.Status.Port, DefaultStatusPort)

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}

// setDefault fills an optional field only when the key was absent, so an
// explicit 0 survives.
func setDefault[T any](p **T, def T) {
	if *p == nil {
		*p = &def
	}
}
