package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

func listCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:  "list",
		Usage: "List discovered agents and workflows",
		Flags: globalFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			cat, err := cfg.loadCatalog(ctx)
			if err != nil {
				return err
			}

			w := c.Root().Writer

			fmt.Fprintf(w, "Agents (%d):\n", len(cat.Agents()))
			for _, a := range cat.Agents() {
				fmt.Fprintf(w, "  %-24s %s\n", a.Name, a.Description)
			}

			fmt.Fprintf(w, "\nWorkflows (%d):\n", len(cat.Workflows()))
			for _, wf := range cat.Workflows() {
				fmt.Fprintf(w, "  %-24s %s (%d steps)\n", wf.Name, wf.Description, len(wf.Steps))
			}

			if errs := cat.Errors(); len(errs) > 0 {
				fmt.Fprintf(w, "\nSkipped (%d):\n", len(errs))
				for _, e := range errs {
					fmt.Fprintf(w, "  %s: %s\n", e.Path, e.Cause)
				}
			}

			return nil
		},
	}
}
