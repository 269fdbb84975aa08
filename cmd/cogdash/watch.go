package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/cogdash/internal/config"
	"github.com/rickgao/cogdash/internal/dashboard"
	"github.com/rickgao/cogdash/internal/events"
	"github.com/rickgao/cogdash/internal/journal"
	"github.com/rickgao/cogdash/internal/relay"
	"github.com/rickgao/cogdash/internal/stream"
	"github.com/rickgao/cogdash/internal/version"
)

func watchCmd() *cli.Command {
	return &cli.Command{
		Name:    "watch",
		Aliases: []string{"w"},
		Usage:   "Follow the event stream and serve the dashboard status",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "url",
				Usage: "override backend.ws_url",
			},
			&cli.BoolFlag{
				Name:  "print",
				Usage: "print every domain event as a JSON line",
			},
		},
		Action: runWatch,
	}
}

func runWatch(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if u := c.String("url"); u != "" {
		cfg.Backend.WSURL = u
	}

	logger, err := newLogger(cfg.Log, os.Stdout)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	logger.Info("starting cogdash",
		"version", version.Version,
		"commit", version.Commit,
		"instance_id", cfg.Instance.ID,
		"ws_url", cfg.Backend.WSURL,
	)

	// Handle shutdown signals
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager := stream.NewManager(cfg.StreamOptions(), logger.With("component", "stream"))
	apiClient := newAPIClient(cfg, logger)

	bus := relay.New(relay.DefaultConfig(), logger)
	bus.Attach(manager)
	defer bus.Close()

	state := dashboard.NewState(logger)

	if cfg.Journal.Enabled {
		w, closeJournal, err := startJournal(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer closeJournal()
		w.Attach(manager)
	}

	if c.Bool("print") {
		manager.OnAny(printEvents(c.App.Writer))
	}

	g, gctx := errgroup.WithContext(ctx)

	// Subscribe before connecting; the bus does not keep messages for late
	// subscribers.
	follow, err := state.Follow(gctx, bus)
	if err != nil {
		return err
	}
	g.Go(follow)

	if port := cfg.Status.ListenPort(); port > 0 {
		srv := dashboard.NewServer(state, manager, apiClient, logger)
		g.Go(func() error {
			return srv.ListenAndServe(gctx, fmt.Sprintf(":%d", port))
		})
		logger.Info("status server enabled",
			"health_url", fmt.Sprintf("http://localhost:%d/health", port),
		)
	} else {
		logger.Info("status server disabled")
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")
		bus.Detach()
		manager.Disconnect()
		return nil
	})

	if err := manager.Connect(cfg.Backend.WSURL); err != nil {
		stop()
		g.Wait()
		return err
	}

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("cogdash stopped")
	return nil
}

// startJournal connects to PostgreSQL and starts the writer. The returned
// func stops the writer and closes the pool.
func startJournal(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*journal.Writer, func(), error) {
	db := cfg.Journal.Database
	logger.Info("connecting to journal database",
		"host", db.Host,
		"port", db.Port,
		"database", db.Name,
	)

	pool, err := journal.Connect(ctx, db)
	if err != nil {
		return nil, nil, fmt.Errorf("connect journal database: %w", err)
	}
	if err := journal.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}

	w := journal.NewWriter(journal.Config{
		BatchSize:     cfg.Journal.BatchSize,
		FlushInterval: cfg.Journal.FlushInterval,
		BufferSize:    cfg.Journal.BufferSize,
	}, pool, logger)
	if err := w.Start(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	return w, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		w.Stop(shutdownCtx)
		pool.Close()
	}, nil
}

type printedEvent struct {
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// printEvents writes wire events as JSON lines.
func printEvents(w io.Writer) stream.Handler {
	enc := json.NewEncoder(w)
	return func(ev events.Event) error {
		data := events.Payload(ev)
		if data == nil {
			return nil
		}
		return enc.Encode(printedEvent{Type: string(ev.Kind()), At: time.Now().UTC(), Data: data})
	}
}
