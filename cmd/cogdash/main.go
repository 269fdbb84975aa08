// cogdash is a headless client for the cognitive architecture dashboard
// backend.
//
// Usage:
//
//	cogdash --config configs/cogdash.yaml watch
//	cogdash query "what is working memory?"
//	cogdash knowledge search --limit 5 memory
//	cogdash health
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/rickgao/cogdash/internal/version"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "cogdash",
		Usage:   "Follow and query a cognitive architecture backend",
		Version: version.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file (defaults apply when omitted)",
				EnvVars: []string{"COGDASH_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			watchCmd(),
			queryCmd(),
			knowledgeCmd(),
			healthCmd(),
			versionCmd(),
		},
	}
}
