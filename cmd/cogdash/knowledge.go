package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/rickgao/cogdash/internal/api"
)

func knowledgeCmd() *cli.Command {
	return &cli.Command{
		Name:    "knowledge",
		Aliases: []string{"k"},
		Usage:   "Search or import knowledge items",
		Subcommands: []*cli.Command{
			{
				Name:      "search",
				Usage:     "Search the knowledge store",
				ArgsUsage: "<text>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 10, Usage: "maximum results (0 for the backend default)"},
					&cli.BoolFlag{Name: "json", Usage: "print the results as JSON"},
				},
				Action: runKnowledgeSearch,
			},
			{
				Name:      "import",
				Usage:     "Import knowledge items from a JSON file",
				ArgsUsage: "<file>",
				Action:    runKnowledgeImport,
			},
		},
	}
}

func runKnowledgeSearch(c *cli.Context) error {
	text := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if text == "" {
		return cli.Exit("search text is required", 2)
	}

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

	items, err := newAPIClient(cfg, logger).SearchKnowledge(ctx, text, c.Int("limit"))
	if err != nil {
		return fmt.Errorf("search knowledge: %w", err)
	}

	out := c.App.Writer
	if c.Bool("json") {
		return writeJSON(out, items)
	}
	if len(items) == 0 {
		fmt.Fprintln(out, "no results")
		return nil
	}
	for _, it := range items {
		fmt.Fprintf(out, "%s\t%s", it.ID, it.Concept)
		if it.Category != "" {
			fmt.Fprintf(out, " [%s]", it.Category)
		}
		fmt.Fprintln(out)
	}
	return nil
}

func runKnowledgeImport(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("exactly one file is required", 2)
	}

	items, err := readKnowledgeFile(c.Args().First())
	if err != nil {
		return err
	}

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

	res, err := newAPIClient(cfg, logger).ImportKnowledge(ctx, items)
	if err != nil {
		return fmt.Errorf("import knowledge: %w", err)
	}

	fmt.Fprintf(c.App.Writer, "imported %d, failed %d\n", res.Imported, res.Failed)
	for _, e := range res.Errors {
		fmt.Fprintf(c.App.Writer, "  %s\n", e)
	}
	if res.Failed > 0 {
		return cli.Exit(fmt.Sprintf("%d items failed to import", res.Failed), 1)
	}
	return nil
}

// readKnowledgeFile accepts either a JSON array of items or an object with
// an "items" array.
func readKnowledgeFile(path string) ([]api.KnowledgeItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read knowledge file: %w", err)
	}

	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var items []api.KnowledgeItem
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("parse knowledge file: %w", err)
		}
		return items, nil
	}

	var req api.ImportRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("parse knowledge file: %w", err)
	}
	return req.Items, nil
}
