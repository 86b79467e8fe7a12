package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"syscall"
	"time"

	zmq "github.com/pebbe/zmq4"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/lukemurraynz/SantaDigitalShowcase25-sub001/internal/config"
	"github.com/lukemurraynz/SantaDigitalShowcase25-sub001/internal/relay"
)

// Bridge subscribes to a ZeroMQ PUB bus and relays its change events into
// the ingestion gate. Producers already publishing on a bus use this path
// instead of the HTTP webhook.
type Bridge struct {
	gate     *relay.Gate
	endpoint string
	topics   []string
	logger   *zap.Logger
}

// busMessage is the msgpack body of one bus frame.
type busMessage struct {
	Operation string          `msgpack:"operation"`
	Value     json.RawMessage `msgpack:"value"`
}

func NewBridge(gate *relay.Gate, cfg config.FeedConfig, logger *zap.Logger) *Bridge {
	return &Bridge{
		gate:     gate,
		endpoint: cfg.ZMQEndpoint,
		topics:   cfg.ZMQTopics,
		logger:   logger,
	}
}

// Run receives bus frames until ctx is cancelled. Frames are multipart
// [topic, payload]. Malformed or rejected frames are logged and skipped;
// one bad producer must not stall the bus.
func (b *Bridge) Run(ctx context.Context) error {
	sub, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return fmt.Errorf("creating sub socket: %w", err)
	}
	defer sub.Close()

	_ = sub.SetLinger(0)

	// A receive timeout paces the shutdown check below.
	if err := sub.SetRcvtimeo(time.Second); err != nil {
		return fmt.Errorf("setting receive timeout: %w", err)
	}
	if err := sub.Connect(b.endpoint); err != nil {
		return fmt.Errorf("connecting to %s: %w", b.endpoint, err)
	}

	if len(b.topics) == 0 {
		if err := sub.SetSubscribe(""); err != nil {
			return fmt.Errorf("subscribing: %w", err)
		}
	}
	for _, topic := range b.topics {
		if err := sub.SetSubscribe(topic); err != nil {
			return fmt.Errorf("subscribing to %q: %w", topic, err)
		}
	}

	b.logger.Info("feed bridge listening",
		zap.String("endpoint", b.endpoint),
		zap.Strings("topics", b.topics),
	)

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("feed bridge shutting down")
			return nil
		default:
		}

		parts, err := sub.RecvMessageBytes(0)
		if err != nil {
			if zmq.AsErrno(err) == zmq.Errno(syscall.EAGAIN) {
				continue
			}
			b.logger.Warn("bus receive failed", zap.Error(err))
			continue
		}

		if len(parts) < 2 {
			b.logger.Warn("dropping short bus frame", zap.Int("parts", len(parts)))
			continue
		}

		topic := string(parts[0])
		var msg busMessage
		if err := msgpack.Unmarshal(parts[1], &msg); err != nil {
			b.logger.Warn("dropping undecodable bus frame",
				zap.String("topic", topic),
				zap.Error(err),
			)
			continue
		}

		if err := b.gate.Ingest(ctx, topic, msg.Operation, msg.Value); err != nil {
			b.logger.Warn("dropping rejected bus event",
				zap.String("topic", topic),
				zap.String("operation", msg.Operation),
				zap.Error(err),
			)
		}
	}
}
