package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/arbiterhq/arbiter/pkg/query"
)

func listCommand() *cli.Command {
	var (
		cfg    config
		offset int64
		limit  int64
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "offset",
			Usage:       "Offset for pagination",
			Value:       0,
			Sources:     cli.EnvVars("ARBITER_LIST_OFFSET"),
			Destination: &offset,
		},
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"l"},
			Usage:       "Maximum number of records to list",
			Value:       100,
			Sources:     cli.EnvVars("ARBITER_LIST_LIMIT"),
			Destination: &limit,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "list",
		Usage: "List stored arguments, newest first",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setup(ctx)
			if err != nil {
				return err
			}

			st, err := cfg.newStore(ctx)
			if err != nil {
				return err
			}

			svc := query.New(st)
			entries := svc.List(ctx, query.ListOptions{
				Offset: int(offset),
				Limit:  int(limit),
			})

			for _, e := range entries {
				title := e.Title
				if title == "" {
					title = "(untitled)"
				}
				fmt.Fprintf(c.Root().Writer, "%s\t%s\t%s\t%s (%d%%)\n",
					e.ID, e.CreatedAt.Format("2006-01-02 15:04:05"), title, e.Winner, e.Confidence)
			}

			return nil
		},
	}
}
