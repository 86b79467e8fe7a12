package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	relayURL  string
	ingestKey string
	verbose   bool
	logger    *zap.Logger
)

// setupLogger creates a zap logger based on verbosity.
func setupLogger(verbose bool) (*zap.Logger, error) {
	var zapConfig zap.Config
	if verbose {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.DisableStacktrace = true
	}
	return zapConfig.Build()
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "feedsim",
		Short: "Feed workshop change events into a relay",
		Long: `feedsim publishes change events to a relay's webhook endpoint.

It can stream synthetic workshop activity at a steady pace, fire a burst
of events through a worker pool, replay a scenario file, or record live
relay traffic into one.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			logger, err = setupLogger(verbose)
			if err != nil {
				return fmt.Errorf("failed to setup logger: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&relayURL, "relay",
		envOr("WORKSHOP_RELAY_URL", "http://localhost:8080"),
		"relay base URL (or set WORKSHOP_RELAY_URL)")
	rootCmd.PersistentFlags().StringVar(&ingestKey, "key",
		os.Getenv("WORKSHOP_INGEST_KEY"),
		"ingest key for the webhook endpoint (or set WORKSHOP_INGEST_KEY)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(streamCmd())
	rootCmd.AddCommand(burstCmd())
	rootCmd.AddCommand(replayCmd())
	rootCmd.AddCommand(recordCmd())

	// Setup signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
