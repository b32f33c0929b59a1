package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/arbiterhq/arbiter/pkg/query"
)

func searchCommand() *cli.Command {
	var (
		cfg     config
		keyword string
		limit   int64
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "query",
			Aliases:     []string{"q"},
			Usage:       "Keyword to search for in titles and transcripts",
			Sources:     cli.EnvVars("ARBITER_SEARCH_QUERY"),
			Destination: &keyword,
			Required:    true,
		},
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"l"},
			Usage:       "Maximum number of matches to return",
			Value:       20,
			Sources:     cli.EnvVars("ARBITER_SEARCH_LIMIT"),
			Destination: &limit,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "search",
		Usage: "Search stored arguments by keyword",
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

			matches := query.New(st).Search(ctx, keyword, int(limit))
			if len(matches) == 0 {
				fmt.Fprintf(c.Root().Writer, "No arguments found containing %q\n", keyword)
				return nil
			}

			fmt.Fprintf(c.Root().Writer, "Found %d result(s) for %q\n", len(matches), keyword)
			for _, e := range matches {
				title := e.Title
				if title == "" {
					title = "(untitled)"
				}
				fmt.Fprintf(c.Root().Writer, "%s\t%s\t%s\n", e.ID, title, e.Winner)
			}

			return nil
		},
	}
}
