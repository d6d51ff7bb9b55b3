package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func warmCommand() *cli.Command {
	var cfg config

	flags := append(globalFlags(&cfg), llmFlags(&cfg)...)
	flags = append(flags, storeFlags(&cfg)...)

	return &cli.Command{
		Name:  "warm",
		Usage: "Precompute embeddings for every catalog entry",
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

			if err := idx.Warm(ctx); err != nil {
				return err
			}

			fmt.Fprintf(c.Root().Writer, "Embedded %d catalog entries\n", cat.Size())
			return nil
		},
	}
}
