package main

import (
	"context"
	"os"

	"github.com/arbiterhq/arbiter/pkg/cli"
)

func main() {
	ctx := context.Background()
	if err := cli.Run(ctx, os.Args); err != nil {
		os.Exit(err.Code)
	}
}
