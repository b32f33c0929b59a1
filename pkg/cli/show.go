package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/arbiterhq/arbiter/pkg/model"
	"github.com/arbiterhq/arbiter/pkg/query"
)

func showCommand() *cli.Command {
	var (
		cfg      config
		recordID model.RecordID
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "id",
			Usage:       "Record ID to show",
			Sources:     cli.EnvVars("ARBITER_RECORD_ID"),
			Destination: (*string)(&recordID),
			Required:    true,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "show",
		Usage: "Show full details of one stored argument",
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

			rec, err := query.New(st).Get(ctx, recordID)
			if err != nil {
				return goerr.Wrap(err, "failed to show record")
			}

			data, err := json.MarshalIndent(rec, "", "  ")
			if err != nil {
				return goerr.Wrap(err, "failed to marshal record")
			}

			fmt.Fprintf(c.Root().Writer, "%s\n", string(data))
			return nil
		},
	}
}
