package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sony/gobreaker"
)

// Client provides access to the backend REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger

	maxRetries   int
	retryBackoff time.Duration

	breakerThreshold uint32
	breakerCooldown  time.Duration
	breaker          *gobreaker.CircuitBreaker

	cacheSize int
	cacheTTL  time.Duration
	cache     *expirable.LRU[string, []KnowledgeItem]
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new REST API client.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:           slog.Default(),
		maxRetries:       3,
		retryBackoff:     time.Second,
		breakerThreshold: 5,
		breakerCooldown:  30 * time.Second,
		cacheSize:        256,
		cacheTTL:         30 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "backend-api",
		Timeout: c.breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= c.breakerThreshold
		},
		IsSuccessful: breakerSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	if c.cacheSize > 0 {
		c.cache = expirable.NewLRU[string, []KnowledgeItem](c.cacheSize, nil, c.cacheTTL)
	}

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the retry configuration.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithBreaker trips the circuit after threshold consecutive failed requests
// and keeps it open for cooldown before probing again.
func WithBreaker(threshold uint32, cooldown time.Duration) ClientOption {
	return func(c *Client) {
		if threshold < 1 {
			threshold = 1
		}
		c.breakerThreshold = threshold
		c.breakerCooldown = cooldown
	}
}

// WithSearchCache sizes the search result cache. A size of 0 disables it.
func WithSearchCache(size int, ttl time.Duration) ClientOption {
	return func(c *Client) {
		c.cacheSize = size
		c.cacheTTL = ttl
	}
}

// BreakerState reports the circuit breaker state ("closed", "half-open", "open").
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}
