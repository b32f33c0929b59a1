package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/arbiterhq/arbiter/pkg/query"
)

func statsCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:  "stats",
		Usage: "Show aggregate statistics over the argument store",
		Flags: globalFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setup(ctx)
			if err != nil {
				return err
			}

			st, err := cfg.newStore(ctx)
			if err != nil {
				return err
			}

			stats := query.New(st).Stats(ctx)

			fmt.Fprintf(c.Root().Writer, "Total arguments: %d\n", stats.TotalRecords)
			if stats.TotalRecords == 0 {
				return nil
			}

			fmt.Fprintf(c.Root().Writer, "Winner distribution:\n")
			for winner, count := range stats.WinnerCounts {
				pct := float64(count) / float64(stats.TotalRecords) * 100
				fmt.Fprintf(c.Root().Writer, "  %s: %d (%.1f%%)\n", winner, count, pct)
			}
			fmt.Fprintf(c.Root().Writer, "Latest recording: %s\n", stats.LatestRecord.Format("2006-01-02 15:04:05"))

			return nil
		},
	}
}
