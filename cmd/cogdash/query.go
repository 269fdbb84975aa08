package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/rickgao/cogdash/internal/api"
	"github.com/rickgao/cogdash/internal/config"
	"github.com/rickgao/cogdash/internal/events"
	"github.com/rickgao/cogdash/internal/stream"
	"github.com/rickgao/cogdash/internal/version"
)

func queryCmd() *cli.Command {
	return &cli.Command{
		Name:      "query",
		Aliases:   []string{"q"},
		Usage:     "Submit a query and print the answer",
		ArgsUsage: "<text>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "reasoning",
				Usage: "request and print the reasoning trace",
			},
			&cli.BoolFlag{
				Name:  "stream",
				Usage: "send the query over the event stream instead of HTTP",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Value: 60 * time.Second,
				Usage: "how long to wait for the answer",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "print the raw result as JSON",
			},
		},
		Action: runQuery,
	}
}

func runQuery(c *cli.Context) error {
	text := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if text == "" {
		return cli.Exit("query text is required", 2)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
	defer cancel()

	out := c.App.Writer

	if c.Bool("stream") {
		qr, err := streamQuery(ctx, cfg, logger, text)
		if err != nil {
			return err
		}
		if c.Bool("json") {
			return writeJSON(out, qr)
		}
		fmt.Fprintf(out, "%s\n(confidence %.2f)\n", qr.Response, qr.Confidence)
		return nil
	}

	res, err := newAPIClient(cfg, logger).SubmitQuery(ctx, api.QueryRequest{
		Query:            text,
		IncludeReasoning: c.Bool("reasoning"),
	})
	if err != nil {
		return fmt.Errorf("submit query: %w", err)
	}

	if c.Bool("json") {
		return writeJSON(out, res)
	}
	fmt.Fprintf(out, "%s\n(confidence %.2f, %.2fs)\n", res.Response, res.Confidence, res.ProcessingTime)
	for _, step := range res.ReasoningSteps {
		fmt.Fprintf(out, "  %d. %s (%.2f)\n", step.Step, step.Description, step.Confidence)
	}
	return nil
}

// streamQuery sends the query as a stream message and waits for the matching
// query_response event. The message is queued until the link is up.
func streamQuery(ctx context.Context, cfg *config.Config, logger *slog.Logger, text string) (events.QueryResponse, error) {
	m := stream.NewManager(cfg.StreamOptions(), logger.With("component", "stream"))
	defer m.Disconnect()

	queryID := uuid.NewString()
	answers := make(chan events.QueryResponse, 1)
	failed := make(chan struct{})

	stream.Subscribe(m, func(qr events.QueryResponse) error {
		if qr.QueryID != "" && qr.QueryID != queryID {
			return nil
		}
		select {
		case answers <- qr:
		default:
		}
		return nil
	})
	stream.Subscribe(m, func(events.ReconnectExhausted) error {
		close(failed)
		return nil
	})

	if err := m.Send("query", map[string]any{"query_id": queryID, "query": text}); err != nil {
		return events.QueryResponse{}, err
	}
	if err := m.Connect(cfg.Backend.WSURL); err != nil {
		return events.QueryResponse{}, err
	}

	select {
	case qr := <-answers:
		return qr, nil
	case <-failed:
		return events.QueryResponse{}, errors.New("event stream unavailable")
	case <-ctx.Done():
		return events.QueryResponse{}, fmt.Errorf("waiting for query response: %w", ctx.Err())
	}
}

func healthCmd() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check backend health",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Log, os.Stderr)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(c.Context, cfg.Backend.Timeout)
			defer cancel()

			hs, err := newAPIClient(cfg, logger).Health(ctx)
			if err != nil {
				return fmt.Errorf("check health: %w", err)
			}
			if err := writeJSON(c.App.Writer, hs); err != nil {
				return err
			}
			if !hs.Healthy() {
				return cli.Exit("backend is "+hs.Status, 1)
			}
			return nil
		},
	}
}

func versionCmd() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print build information",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "print as JSON"},
		},
		Action: func(c *cli.Context) error {
			if c.Bool("json") {
				return writeJSON(c.App.Writer, version.Get())
			}
			fmt.Fprintln(c.App.Writer, version.String())
			return nil
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
