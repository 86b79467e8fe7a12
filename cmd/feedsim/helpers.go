package main

import (
	"fmt"
	"os"
	"time"

	"github.com/lukemurraynz/SantaDigitalShowcase25-sub001/internal/feed"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// newPublisher builds a webhook publisher from the persistent flags.
func newPublisher(ratePerSec, retryCount int, compress bool) (*feed.Publisher, error) {
	if ingestKey == "" {
		return nil, fmt.Errorf("ingest key required (--key or WORKSHOP_INGEST_KEY)")
	}
	if ratePerSec <= 0 {
		return nil, fmt.Errorf("rate must be positive, got %d", ratePerSec)
	}
	return feed.NewPublisher(relayURL, ingestKey, ratePerSec,
		30*time.Second, time.Second, retryCount, compress, logger)
}

// resolveSeed turns the zero flag value into a time-derived seed.
func resolveSeed(seed int64) int64 {
	if seed == 0 {
		return time.Now().UnixNano()
	}
	return seed
}
