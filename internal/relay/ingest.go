package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lukemurraynz/SantaDigitalShowcase25-sub001/internal/replay"
	"github.com/lukemurraynz/SantaDigitalShowcase25-sub001/internal/sequence"
)

// Change operation names accepted by Ingest.
const (
	OperationInsert = "insert"
	OperationUpdate = "update"
	OperationDelete = "delete"
)

// Ingestion input errors. Delivery failures never surface here; they are
// logged at the point of delivery.
var (
	ErrInvalidTopic     = errors.New("invalid topic")
	ErrUnknownOperation = errors.New("unknown operation")
	ErrMissingValue     = errors.New("missing value")
)

// Gate is the entry point for change-feed producers. It validates one
// change event, updates the replay cache, mints a sequence, and queues the
// broadcast. Cache update, sequence mint, and enqueue happen under one
// per-topic lock, so broadcasts for a topic leave in Ingest call order;
// distinct topics never contend.
type Gate struct {
	hub    *Hub
	cache  *replay.Cache
	seq    *sequence.Generator
	logger *zap.Logger

	mu     sync.Mutex
	topics map[string]*sync.Mutex
}

// NewGate creates a Gate publishing through hub and caching in cache.
func NewGate(hub *Hub, cache *replay.Cache, seq *sequence.Generator, logger *zap.Logger) *Gate {
	return &Gate{
		hub:    hub,
		cache:  cache,
		seq:    seq,
		logger: logger,
		topics: make(map[string]*sync.Mutex),
	}
}

// CheckChange validates a change event without applying it. It returns the
// same error Ingest would return for that input. Batch producers use it to
// reject a whole request before any element takes effect.
func CheckChange(topic, operation string, value json.RawMessage) error {
	_, err := mapChange(topic, operation, value)
	return err
}

// mapChange validates one change event and maps its operation name to the
// wire op code.
func mapChange(topic, operation string, value json.RawMessage) (string, error) {
	if !ValidTopic(topic) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}

	var op string
	switch operation {
	case OperationInsert:
		op = OpInsert
	case OperationUpdate:
		op = OpUpdate
	case OperationDelete:
		op = OpDelete
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownOperation, operation)
	}

	if op != OpDelete && len(value) == 0 {
		return "", fmt.Errorf("%w for %s on topic %q", ErrMissingValue, operation, topic)
	}
	return op, nil
}

// Ingest applies one change event. Insert and update append value to the
// topic's replay buffer before broadcasting; delete broadcasts an
// empty-payload record and leaves the buffer untouched (items carry no
// identity key to match on, so clients reconcile deletes themselves).
//
// Returns an error only for malformed input or a cancelled context; the
// broadcast itself is fire-and-forget.
func (g *Gate) Ingest(ctx context.Context, topic, operation string, value json.RawMessage) error {
	op, err := mapChange(topic, operation, value)
	if err != nil {
		return err
	}

	lock := g.topicLock(topic)
	lock.Lock()
	defer lock.Unlock()

	if op != OpDelete {
		g.cache.Append(topic, value)
	}

	now := time.Now().UnixMilli()
	env := changeEnvelope(op, g.seq.Next(), topic, value, now)

	if err := g.hub.enqueue(ctx, topic, env); err != nil {
		return fmt.Errorf("queue broadcast for topic %q: %w", topic, err)
	}

	g.logger.Debug("change ingested",
		zap.String("topic", topic),
		zap.String("operation", operation),
		zap.String("seq", env.Seq),
	)
	return nil
}

// topicLock returns the mutex serializing ingestion for one topic.
func (g *Gate) topicLock(topic string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()

	lock, ok := g.topics[topic]
	if !ok {
		lock = &sync.Mutex{}
		g.topics[topic] = lock
	}
	return lock
}
