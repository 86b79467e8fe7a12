package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Bodies below this size go out uncompressed even when compression is on.
const compressMinBytes = 512

var (
	ErrUnauthorized = errors.New("ingest key rejected by relay")
	ErrRateLimited  = errors.New("rate limited by relay")
	ErrRejected     = errors.New("events rejected by relay")
)

// BatchPublisher publishes event batches. Interface for testability.
type BatchPublisher interface {
	PublishBatch(ctx context.Context, events []Event) error
}

// Publisher delivers change events to a relay's webhook endpoint. Retries
// with exponential backoff on transient failures; auth and validation
// failures return immediately.
type Publisher struct {
	httpClient  *http.Client
	baseURL     string
	ingestKey   string
	limiter     *rate.Limiter
	retryCount  int
	retryDelay  time.Duration
	zstdEncoder *zstd.Encoder
	logger      *zap.Logger
}

type batchBody struct {
	Events []Event `json:"events"`
}

func NewPublisher(baseURL, ingestKey string, ratePerSec int, timeout, retryDelay time.Duration, retryCount int, compress bool, logger *zap.Logger) (*Publisher, error) {
	transport := &http.Transport{
		MaxIdleConns:       100,
		MaxConnsPerHost:    10,
		IdleConnTimeout:    90 * time.Second,
		DisableCompression: false,
	}

	var encoder *zstd.Encoder
	if compress {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		encoder = enc
	}

	return &Publisher{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		baseURL:     baseURL,
		ingestKey:   ingestKey,
		limiter:     rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec*2),
		retryCount:  retryCount,
		retryDelay:  retryDelay,
		zstdEncoder: encoder,
		logger:      logger,
	}, nil
}

// Publish sends a single event.
func (p *Publisher) Publish(ctx context.Context, event Event) error {
	return p.post(ctx, event)
}

// PublishBatch sends events as one webhook request. The relay applies the
// whole batch or none of it.
func (p *Publisher) PublishBatch(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	return p.post(ctx, batchBody{Events: events})
}

func (p *Publisher) post(ctx context.Context, payload any) error {
	// Wait for rate limiter
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding events: %w", err)
	}

	encoding := ""
	if p.zstdEncoder != nil && len(body) >= compressMinBytes {
		body = p.zstdEncoder.EncodeAll(body, nil)
		encoding = "zstd"
	}

	url := p.baseURL + "/api/events"

	var lastErr error
	for attempt := 0; attempt <= p.retryCount; attempt++ {
		if attempt > 0 {
			delay := p.retryDelay * time.Duration(1<<(attempt-1)) // Exponential backoff
			p.logger.Debug("retrying publish", zap.Int("attempt", attempt), zap.Duration("delay", delay))

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}

		req.Header.Set("Authorization", "Basic "+p.ingestKey)
		req.Header.Set("Content-Type", "application/json")
		if encoding != "" {
			req.Header.Set("Content-Encoding", encoding)
		}

		resp, err := p.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		// Read body before closing for error messages
		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		if readErr != nil {
			lastErr = readErr
			continue
		}

		switch {
		case resp.StatusCode == http.StatusAccepted:
			return nil

		case resp.StatusCode == http.StatusUnauthorized:
			return ErrUnauthorized

		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = ErrRateLimited
			continue

		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue

		case resp.StatusCode == http.StatusBadRequest:
			return fmt.Errorf("%w: %s", ErrRejected, string(respBody))

		default:
			return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// Close releases the compressor.
func (p *Publisher) Close() {
	if p.zstdEncoder != nil {
		p.zstdEncoder.Close()
	}
}
