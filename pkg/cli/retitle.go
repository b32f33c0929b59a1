package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/arbiterhq/arbiter/pkg/model"
	"github.com/arbiterhq/arbiter/pkg/store"
	"github.com/arbiterhq/arbiter/pkg/utils/logging"
	"github.com/arbiterhq/arbiter/pkg/verdict"
)

func retitleCommand() *cli.Command {
	var (
		cfg      config
		recordID model.RecordID
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "id",
			Usage:       "Backfill a single record instead of all untitled ones",
			Sources:     cli.EnvVars("ARBITER_RECORD_ID"),
			Destination: (*string)(&recordID),
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, geminiFlags(&cfg)...)

	return &cli.Command{
		Name:  "retitle",
		Usage: "Generate titles for records that were persisted without one",
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

			gemini, err := cfg.newGemini(ctx)
			if err != nil {
				return err
			}
			titler := verdict.NewTitler(gemini)

			targets := st.List(ctx, store.ListOptions{})
			if recordID != "" {
				if !st.Exists(recordID) {
					return goerr.Wrap(model.ErrRecordNotFound, "cannot retitle", goerr.V("id", recordID))
				}
				targets = []model.IndexEntry{{ID: recordID}}
			}

			var updated int
			for _, entry := range targets {
				if entry.Title != "" && recordID == "" {
					continue
				}

				rec, err := st.Get(ctx, entry.ID)
				if err != nil {
					logging.From(ctx).Warn("skipping unreadable record", "id", entry.ID, "error", err)
					continue
				}
				if rec.Title != "" {
					continue
				}

				title, err := titler.GenerateTitle(ctx, rec.TranscriptText)
				if err != nil {
					logging.From(ctx).Warn("title generation failed", "id", entry.ID, "error", err)
					continue
				}
				if err := st.BackfillTitle(ctx, entry.ID, title); err != nil {
					return goerr.Wrap(err, "failed to backfill title", goerr.V("id", entry.ID))
				}

				updated++
				fmt.Fprintf(c.Root().Writer, "%s: %s\n", entry.ID, title)
			}

			fmt.Fprintf(c.Root().Writer, "Backfilled %d title(s)\n", updated)
			return nil
		},
	}
}
