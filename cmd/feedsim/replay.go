package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lukemurraynz/SantaDigitalShowcase25-sub001/internal/feed"
)

func replayCmd() *cobra.Command {
	var (
		interval time.Duration
		rate     int
		compress bool
	)

	cmd := &cobra.Command{
		Use:   "replay FILE",
		Short: "Replay change events from a scenario file",
		Long: `Replay reads a scenario file with one JSON event per line and publishes
the events one at a time, preserving file order on the wire.

Example line:
  {"topic": "gift-production", "operation": "insert", "value": {"id": "gift-1"}}

Examples:
  feedsim replay demo.jsonl --key santakey
  feedsim replay demo.jsonl --key santakey --interval 500ms`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			events, err := feed.LoadScenario(args[0])
			if err != nil {
				return err
			}
			logger.Info("scenario loaded",
				zap.String("file", args[0]),
				zap.Int("events", len(events)),
			)

			publisher, err := newPublisher(rate, 3, compress)
			if err != nil {
				return err
			}
			defer publisher.Close()

			for i, event := range events {
				if ctx.Err() != nil {
					logger.Info("replay interrupted", zap.Int("published", i))
					return nil
				}

				if err := publisher.Publish(ctx, event); err != nil {
					if ctx.Err() != nil {
						logger.Info("replay interrupted", zap.Int("published", i))
						return nil
					}
					return fmt.Errorf("event %d (%s): %w", i, event.String(), err)
				}
				logger.Debug("published", zap.Int("index", i), zap.String("event", event.String()))

				if interval > 0 && i < len(events)-1 {
					select {
					case <-ctx.Done():
					case <-time.After(interval):
					}
				}
			}

			logger.Info("replay complete", zap.Int("published", len(events)))
			return nil
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 0, "pause between events")
	cmd.Flags().IntVar(&rate, "rate", 100, "client-side rate limit in requests per second")
	cmd.Flags().BoolVar(&compress, "compress", false, "zstd-compress large request bodies")

	return cmd
}
