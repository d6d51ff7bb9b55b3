package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/owlet/pkg/usecase/orchestrate"
	"github.com/urfave/cli/v3"
)

func searchCommand() *cli.Command {
	var cfg config
	var query string
	var limit int64

	flags := append(globalFlags(&cfg), llmFlags(&cfg)...)
	flags = append(flags, storeFlags(&cfg)...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "query",
			Aliases:     []string{"q"},
			Usage:       "Natural language description of the task",
			Destination: &query,
			Required:    true,
		},
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"n"},
			Usage:       "Maximum number of matches to show",
			Value:       5,
			Destination: &limit,
		},
	)

	return &cli.Command{
		Name:  "search",
		Usage: "Rank catalog entries against a task description",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			cat, err := cfg.loadCatalog(ctx)
			if err != nil {
				return err
			}
			if cat.Size() == 0 {
				return goerr.New("catalog is empty", goerr.V("root", cfg.catalogRoot))
			}

			idx, err := cfg.newIndex(ctx, cat)
			if err != nil {
				return err
			}

			uc := orchestrate.New(cat, idx, cfg.newEngine(nil))
			selections, err := uc.Rank(ctx, query, int(limit))
			if err != nil {
				return err
			}

			w := c.Root().Writer
			for i, sel := range selections {
				fmt.Fprintf(w, "%2d. [%s] %-24s %.4f\n", i+1, sel.Kind, sel.Name, sel.Score)
			}

			return nil
		},
	}
}
