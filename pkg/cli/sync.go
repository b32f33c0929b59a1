package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/arbiterhq/arbiter/pkg/store"
	"github.com/arbiterhq/arbiter/pkg/transport"
	"github.com/arbiterhq/arbiter/pkg/utils/logging"
)

func syncCommand() *cli.Command {
	var cfg config

	flags := append(globalFlags(&cfg), syncFlags(&cfg)...)

	return &cli.Command{
		Name:  "sync",
		Usage: "Push local records missing on the archive device",
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

			sender, err := cfg.newSender()
			if err != nil {
				return err
			}

			var pushed, skipped int
			for _, entry := range st.List(ctx, store.ListOptions{}) {
				exists, err := sender.Exists(ctx, entry.ID)
				if err != nil {
					return goerr.Wrap(err, "archive device unreachable, try again later")
				}
				if exists {
					skipped++
					continue
				}

				rec, err := st.Get(ctx, entry.ID)
				if err != nil {
					logging.From(ctx).Warn("skipping unreadable record", "id", entry.ID, "error", err)
					continue
				}
				audio, err := st.ReadAudio(ctx, entry.ID)
				if err != nil {
					logging.From(ctx).Warn("skipping record without audio", "id", entry.ID, "error", err)
					continue
				}

				outcome := sender.Send(ctx, rec, audio)
				switch outcome.Status {
				case transport.StatusAcked:
					pushed++
					fmt.Fprintf(c.Root().Writer, "Pushed %s\n", entry.ID)
				case transport.StatusUnreachable:
					return goerr.New("archive device went offline mid-sync",
						goerr.V("pushed", pushed), goerr.V("reason", outcome.Reason))
				case transport.StatusFailed:
					logging.From(ctx).Warn("delivery rejected", "id", entry.ID, "reason", outcome.Reason)
				}
			}

			fmt.Fprintf(c.Root().Writer, "Sync complete: %d pushed, %d already present\n", pushed, skipped)
			return nil
		},
	}
}
