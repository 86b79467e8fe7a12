package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lukemurraynz/SantaDigitalShowcase25-sub001/internal/relay"
)

// Recorder subscribes to a relay over websocket and captures the live change
// events it receives into a scenario file, one JSON event per line. The file
// is written to a temp path and renamed into place on completion, so an
// interrupted capture never replaces an existing scenario.
type Recorder struct {
	wsURL  string
	topics []string
	logger *zap.Logger
}

// wireFrame covers both control messages and change envelopes on the relay
// websocket. Type is set only on control messages.
type wireFrame struct {
	Type    string `json:"type"`
	Success *bool  `json:"success"`
	Error   string `json:"error"`
	relay.Envelope
}

// NewRecorder creates a Recorder for the relay at baseURL. Empty topics
// falls back to DefaultTopics.
func NewRecorder(baseURL, clientKey string, topics []string, logger *zap.Logger) (*Recorder, error) {
	if len(topics) == 0 {
		topics = DefaultTopics
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing relay URL: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported relay URL scheme: %q", u.Scheme)
	}
	u.Path = "/ws"
	u.RawQuery = url.Values{
		"access_token": {clientKey + ":" + uuid.New().String()},
	}.Encode()

	return &Recorder{
		wsURL:  u.String(),
		topics: topics,
		logger: logger,
	}, nil
}

// Record captures change events into the file at path until limit events
// arrive or ctx ends. A limit of zero or less records until interrupted.
// Interruption keeps what was captured so far; a transport or subscribe
// failure removes the partial file and returns the error.
func (rec *Recorder) Record(ctx context.Context, path string, limit int) (int, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		Subprotocols:     []string{relay.SubprotocolJSON},
	}
	conn, _, err := dialer.DialContext(ctx, rec.wsURL, nil)
	if err != nil {
		return 0, fmt.Errorf("dialing relay: %w", err)
	}
	defer conn.Close()

	// Unblock the read loop when the context ends.
	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		case <-stopped:
		}
	}()

	for i, topic := range rec.topics {
		sub := map[string]any{"type": "subscribe", "topic": topic, "ackId": uint64(i + 1)}
		if err := conn.WriteJSON(sub); err != nil {
			return 0, fmt.Errorf("subscribing to %s: %w", topic, err)
		}
	}

	// Create parent directories
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return 0, fmt.Errorf("creating directories: %w", err)
		}
	}

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}

	count, err := rec.capture(ctx, conn, f, limit)

	if closeErr := f.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return count, err
	}

	// Atomic rename
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return count, fmt.Errorf("renaming temp file: %w", err)
	}

	return count, nil
}

// capture reads frames and appends change events to w until limit is
// reached, the context ends, or the connection fails.
func (rec *Recorder) capture(ctx context.Context, conn *websocket.Conn, w io.Writer, limit int) (int, error) {
	count := 0
	for limit <= 0 || count < limit {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil ||
				websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return count, nil
			}
			return count, fmt.Errorf("reading frame: %w", err)
		}

		var frame wireFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			rec.logger.Warn("dropping undecodable frame", zap.Error(err))
			continue
		}

		if frame.Type != "" {
			if frame.Type == "ack" && frame.Success != nil && !*frame.Success {
				return count, fmt.Errorf("subscribe rejected: %s", frame.Error)
			}
			continue
		}

		event, ok := changeFromEnvelope(frame.Envelope)
		if !ok {
			continue
		}

		line, err := json.Marshal(event)
		if err != nil {
			return count, fmt.Errorf("encoding event: %w", err)
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return count, fmt.Errorf("writing event: %w", err)
		}
		count++

		rec.logger.Debug("captured", zap.Int("count", count), zap.String("event", event.String()))
	}
	return count, nil
}

// changeFromEnvelope converts a live change record back into a publishable
// event. Header and reload records report false.
func changeFromEnvelope(env relay.Envelope) (Event, bool) {
	if env.Payload == nil {
		return Event{}, false
	}

	var operation string
	switch env.Op {
	case relay.OpInsert:
		operation = relay.OperationInsert
	case relay.OpUpdate:
		operation = relay.OperationUpdate
	case relay.OpDelete:
		operation = relay.OperationDelete
	default:
		return Event{}, false
	}

	return Event{
		Topic:     env.Payload.Source.Topic,
		Operation: operation,
		Value:     env.Payload.After,
	}, true
}
