package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lukemurraynz/SantaDigitalShowcase25-sub001/internal/feed"
)

func streamCmd() *cobra.Command {
	var (
		topics   []string
		seed     int64
		interval time.Duration
		rate     int
		compress bool
	)

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Continuously publish synthetic change events",
		Long: `Stream publishes one synthetic change event per interval until interrupted.

Events cycle through inserts, updates, and deletes against the configured
topics so connected clients see a live feed.

Examples:
  feedsim stream --key santakey
  feedsim stream --key santakey --interval 250ms --topics gift-production
  feedsim stream --key santakey --seed 42`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if interval <= 0 {
				return fmt.Errorf("interval must be positive, got %v", interval)
			}

			publisher, err := newPublisher(rate, 3, compress)
			if err != nil {
				return err
			}
			defer publisher.Close()

			generator := feed.NewGenerator(resolveSeed(seed), topics)

			logger.Info("streaming events",
				zap.String("relay", relayURL),
				zap.Strings("topics", generator.Topics()),
				zap.Duration("interval", interval),
			)

			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			var published, failed int
			for {
				select {
				case <-ctx.Done():
					logger.Info("stream stopped",
						zap.Int("published", published),
						zap.Int("failed", failed),
					)
					return nil

				case <-ticker.C:
					event := generator.Next()
					err := publisher.Publish(ctx, event)
					switch {
					case err == nil:
						published++
						logger.Debug("published", zap.String("event", event.String()))
					case ctx.Err() != nil:
						// Shutdown raced the publish; the next spin exits.
					case errors.Is(err, feed.ErrUnauthorized):
						return err
					default:
						failed++
						logger.Warn("publish failed",
							zap.String("event", event.String()),
							zap.Error(err),
						)
					}
				}
			}
		},
	}

	cmd.Flags().StringSliceVar(&topics, "topics", nil, "topics to feed (default: built-in workshop topics)")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed, 0 derives one from the clock")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "pause between events")
	cmd.Flags().IntVar(&rate, "rate", 50, "client-side rate limit in events per second")
	cmd.Flags().BoolVar(&compress, "compress", false, "zstd-compress large request bodies")

	return cmd
}
