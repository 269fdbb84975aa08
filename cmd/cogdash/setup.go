package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/rickgao/cogdash/internal/api"
	"github.com/rickgao/cogdash/internal/config"
)

// loadConfig reads --config, or falls back to defaults.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.LoadAndValidate(path)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the slog handler selected by the log section.
func newLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
	}

	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(cfg.Format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
}

func newAPIClient(cfg *config.Config, logger *slog.Logger) *api.Client {
	return api.NewClient(
		cfg.Backend.HTTPURL,
		cfg.Backend.APIKey,
		api.WithLogger(logger.With("component", "api")),
		api.WithTimeout(cfg.Backend.Timeout),
		api.WithRetries(cfg.Backend.Retries(), time.Second),
		api.WithBreaker(cfg.Backend.BreakerThreshold, cfg.Backend.BreakerCooldown),
		api.WithSearchCache(cfg.Backend.CacheSize(), cfg.Backend.SearchCacheTTL),
	)
}
