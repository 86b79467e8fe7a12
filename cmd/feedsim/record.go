package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lukemurraynz/SantaDigitalShowcase25-sub001/internal/feed"
)

func recordCmd() *cobra.Command {
	var (
		topics []string
		count  int
	)

	cmd := &cobra.Command{
		Use:   "record FILE",
		Short: "Capture live change events into a scenario file",
		Long: `Record subscribes to a relay and writes the change events it receives to
FILE, one JSON event per line, ready for later use with replay. The file
appears once the capture finishes; interrupting with Ctrl-C keeps what
was captured so far.

Examples:
  feedsim record demo.jsonl
  feedsim record demo.jsonl --count 100 --topics gift-production`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			// Websocket access wants an identity, not an ingest key.
			clientKey := ingestKey
			if clientKey == "" {
				clientKey = "feedsim"
			}

			recorder, err := feed.NewRecorder(relayURL, clientKey, topics, logger)
			if err != nil {
				return err
			}

			logger.Info("recording events",
				zap.String("relay", relayURL),
				zap.String("file", args[0]),
				zap.Int("count", count),
			)

			captured, err := recorder.Record(ctx, args[0], count)
			if err != nil {
				return err
			}

			if captured == 0 {
				logger.Warn("no events captured", zap.String("file", args[0]))
				return nil
			}
			logger.Info("recording complete",
				zap.Int("events", captured),
				zap.String("file", args[0]),
			)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&topics, "topics", nil, "topics to capture (default: built-in workshop topics)")
	cmd.Flags().IntVar(&count, "count", 0, "stop after this many events, 0 records until interrupted")

	return cmd
}
