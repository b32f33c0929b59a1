package cli

import (
	"context"

	"github.com/urfave/cli/v3"
)

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	cmd := &cli.Command{
		Name:  "arbiter",
		Usage: "Record, resolve, and browse two-party arguments",
		Commands: []*cli.Command{
			recordCommand(),
			listCommand(),
			showCommand(),
			searchCommand(),
			statsCommand(),
			serveCommand(),
			syncCommand(),
			retitleCommand(),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}
