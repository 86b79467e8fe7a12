package feed

import (
	"encoding/json"
	"fmt"
	"math/rand"

	"github.com/lukemurraynz/SantaDigitalShowcase25-sub001/internal/relay"
)

// DefaultTopics are the demo queries the simulator feeds when none are
// given on the command line.
var DefaultTopics = []string{
	"gift-production",
	"wishlist-trending-1h",
	"sleigh-telemetry",
}

var giftNames = []string{
	"wooden train",
	"plush bear",
	"toy sled",
	"puzzle box",
	"rocking horse",
	"snow globe",
	"marble set",
	"tin soldier",
}

var giftStatuses = []string{
	"queued",
	"crafting",
	"painting",
	"wrapping",
	"loaded",
}

type giftValue struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	Priority int    `json:"priority"`
}

// Generator produces a synthetic stream of workshop change events. The same
// seed yields the same stream, so demo runs are reproducible. Updates and
// deletes only ever reference items the generator previously inserted.
type Generator struct {
	rng    *rand.Rand
	topics []string
	nextID int
	live   map[string][]string // topic -> ids still present
}

// NewGenerator creates a Generator over topics. Empty topics falls back to
// DefaultTopics.
func NewGenerator(seed int64, topics []string) *Generator {
	if len(topics) == 0 {
		topics = DefaultTopics
	}
	return &Generator{
		rng:    rand.New(rand.NewSource(seed)),
		topics: topics,
		live:   make(map[string][]string),
	}
}

// Next returns the next event in the stream. Roughly half are inserts; the
// rest split between updates and the occasional delete.
func (g *Generator) Next() Event {
	topic := g.topics[g.rng.Intn(len(g.topics))]
	ids := g.live[topic]

	roll := g.rng.Float64()
	switch {
	case roll < 0.1 && len(ids) > 0:
		idx := g.rng.Intn(len(ids))
		g.live[topic] = append(ids[:idx:idx], ids[idx+1:]...)
		return Event{Topic: topic, Operation: relay.OperationDelete}

	case roll < 0.5 && len(ids) > 0:
		id := ids[g.rng.Intn(len(ids))]
		return Event{Topic: topic, Operation: relay.OperationUpdate, Value: g.giftJSON(id)}

	default:
		g.nextID++
		id := fmt.Sprintf("gift-%d", g.nextID)
		g.live[topic] = append(ids, id)
		return Event{Topic: topic, Operation: relay.OperationInsert, Value: g.giftJSON(id)}
	}
}

// Topics returns the topics the generator feeds.
func (g *Generator) Topics() []string {
	topics := make([]string, len(g.topics))
	copy(topics, g.topics)
	return topics
}

// Take returns the next n events.
func (g *Generator) Take(n int) []Event {
	events := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		events = append(events, g.Next())
	}
	return events
}

func (g *Generator) giftJSON(id string) json.RawMessage {
	value, _ := json.Marshal(giftValue{
		ID:       id,
		Name:     giftNames[g.rng.Intn(len(giftNames))],
		Status:   giftStatuses[g.rng.Intn(len(giftStatuses))],
		Priority: 1 + g.rng.Intn(5),
	})
	return value
}
