package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lukemurraynz/SantaDigitalShowcase25-sub001/internal/feed"
)

func burstCmd() *cobra.Command {
	var (
		topics    []string
		seed      int64
		count     int
		workers   int
		batchSize int
		rate      int
		compress  bool
	)

	cmd := &cobra.Command{
		Use:   "burst",
		Short: "Publish a burst of synthetic events through a worker pool",
		Long: `Burst generates a fixed number of events and publishes them in batches
across concurrent workers. Useful for load-testing a relay or filling
replay buffers quickly.

Batches from different workers can interleave; use --workers 1 when the
relay must see events in generation order.

Examples:
  feedsim burst --key santakey --count 1000
  feedsim burst --key santakey --count 5000 --workers 8 --compress
  feedsim burst --key santakey --topics gift-production --seed 42`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if count <= 0 {
				return fmt.Errorf("count must be positive, got %d", count)
			}

			publisher, err := newPublisher(rate, 3, compress)
			if err != nil {
				return err
			}
			defer publisher.Close()

			events := feed.NewGenerator(resolveSeed(seed), topics).Take(count)
			runner := feed.NewRunner(publisher, workers, batchSize, logger)

			logger.Info("publishing burst",
				zap.String("relay", relayURL),
				zap.Int("events", len(events)),
				zap.Int("workers", workers),
				zap.Int("batchSize", batchSize),
			)
			start := time.Now()

			result, err := runner.Execute(ctx, events)
			if err != nil {
				return err
			}

			logger.Info("burst complete",
				zap.Int("total", result.Total),
				zap.Int("published", result.Published),
				zap.Int("rejected", result.Rejected),
				zap.Int("failed", result.Failed),
				zap.Duration("duration", time.Since(start)),
			)

			if len(result.Errors) > 0 {
				for _, e := range result.Errors {
					logger.Error("publish error", zap.String("error", e))
				}
				return fmt.Errorf("%d events not accepted", result.Rejected+result.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&topics, "topics", nil, "topics to feed (default: built-in workshop topics)")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed, 0 derives one from the clock")
	cmd.Flags().IntVar(&count, "count", 500, "number of events to publish")
	cmd.Flags().IntVar(&workers, "workers", 4, "concurrent publish workers")
	cmd.Flags().IntVar(&batchSize, "batch-size", 25, "events per webhook request")
	cmd.Flags().IntVar(&rate, "rate", 200, "client-side rate limit in requests per second")
	cmd.Flags().BoolVar(&compress, "compress", true, "zstd-compress large request bodies")

	return cmd
}
