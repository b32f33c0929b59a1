package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/arbiterhq/arbiter/pkg/pipeline"
	"github.com/arbiterhq/arbiter/pkg/transport"
	"github.com/arbiterhq/arbiter/pkg/verdict"
)

func recordCommand() *cli.Command {
	var (
		cfg        config
		inputPath  string
		sampleRate int64
		duration   float64
		startedAt  string
		noSync     bool
		noVerdict  bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "input",
			Aliases:     []string{"i"},
			Usage:       "Path to the captured audio buffer (LINEAR16 mono PCM)",
			Sources:     cli.EnvVars("ARBITER_INPUT"),
			Destination: &inputPath,
			Required:    true,
		},
		&cli.IntFlag{
			Name:        "sample-rate",
			Usage:       "Capture sample rate in Hz",
			Value:       16000,
			Sources:     cli.EnvVars("ARBITER_SAMPLE_RATE"),
			Destination: &sampleRate,
		},
		&cli.FloatFlag{
			Name:        "duration",
			Usage:       "Recording duration in seconds (derived from the buffer when omitted)",
			Destination: &duration,
		},
		&cli.StringFlag{
			Name:        "started-at",
			Usage:       "Recording start time, RFC3339 (defaults to now)",
			Destination: &startedAt,
		},
		&cli.BoolFlag{
			Name:        "no-sync",
			Usage:       "Skip replication to the archive device",
			Destination: &noSync,
		},
		&cli.BoolFlag{
			Name:        "no-verdict",
			Usage:       "Skip the fact-check and title stages",
			Destination: &noVerdict,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, geminiFlags(&cfg)...)
	flags = append(flags, speechFlags(&cfg)...)
	flags = append(flags, syncFlags(&cfg)...)

	return &cli.Command{
		Name:  "record",
		Usage: "Resolve one captured recording into a stored argument",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setup(ctx)
			if err != nil {
				return err
			}

			audio, err := os.ReadFile(inputPath)
			if err != nil {
				return goerr.Wrap(err, "failed to read capture buffer", goerr.Value("path", inputPath))
			}

			capture := pipeline.Capture{
				Audio:           audio,
				SampleRate:      int(sampleRate),
				DurationSeconds: duration,
			}
			if startedAt != "" {
				t, err := time.Parse(time.RFC3339, startedAt)
				if err != nil {
					return goerr.Wrap(err, "invalid started-at timestamp", goerr.Value("started-at", startedAt))
				}
				capture.StartedAt = t
			}

			st, err := cfg.newStore(ctx)
			if err != nil {
				return err
			}

			speech, err := cfg.newSpeech(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = speech.Close() }()

			sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
			opts := []pipeline.Option{
				pipeline.WithStageHook(func(stage pipeline.Stage) {
					sp.Suffix = fmt.Sprintf(" %s...", stage)
				}),
			}

			if !noVerdict && cfg.geminiProject != "" {
				gemini, err := cfg.newGemini(ctx)
				if err != nil {
					return err
				}
				resolver, err := cfg.newResolver(ctx, gemini)
				if err != nil {
					return err
				}
				opts = append(opts,
					pipeline.WithResolver(resolver),
					pipeline.WithTitler(verdict.NewTitler(gemini)),
				)
			}

			if !noSync && cfg.remoteURL != "" {
				sender, err := cfg.newSender()
				if err != nil {
					return err
				}
				opts = append(opts, pipeline.WithSyncer(sender))
			}

			p := pipeline.New(st, speech, speech, opts...)

			sp.Start()
			result, err := p.Run(ctx, capture)
			sp.Stop()

			if err != nil {
				if stage, ok := pipeline.FailedStage(err); ok {
					fmt.Fprintf(c.Root().Writer, "Run failed at %s; raw audio retained for retry\n", stage)
				}
				return err
			}

			rec := result.Record
			fmt.Fprintf(c.Root().Writer, "Record persisted: %s\n", rec.ID)
			if rec.Title != "" {
				fmt.Fprintf(c.Root().Writer, "Title: %s\n", rec.Title)
			}
			if rec.Verdict != nil {
				fmt.Fprintf(c.Root().Writer, "Winner: %s (%d%% confidence)\n", rec.Verdict.Winner, rec.Verdict.Confidence)
			} else {
				fmt.Fprintf(c.Root().Writer, "Winner: %s (no verdict)\n", rec.Winner())
			}

			switch result.Sync.Status {
			case transport.StatusAcked:
				fmt.Fprintf(c.Root().Writer, "Synced to archive\n")
			case transport.StatusUnreachable:
				fmt.Fprintf(c.Root().Writer, "Archive offline; run 'arbiter sync' later\n")
			case transport.StatusFailed:
				fmt.Fprintf(c.Root().Writer, "Sync failed: %s\n", result.Sync.Reason)
			}

			return nil
		},
	}
}
