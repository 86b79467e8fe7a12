package relay

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

const (
	// Pending broadcasts queued ahead of the run loop.
	broadcastQueueSize = 256

	// Longest accepted topic name, in bytes.
	maxTopicLength = 256
)

// Hub tracks live connections and their topic memberships, and fans
// broadcast envelopes out to members. Membership mutation goes through the
// run loop channels or the mutex-guarded helpers, so fanout never observes
// partial state.
type Hub struct {
	clients    map[*Client]bool
	topics     map[string]map[*Client]bool // topic -> members
	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcastJob
	reloader   *Reloader
	sendBuffer int
	mu         sync.RWMutex
	logger     *zap.Logger
}

type broadcastJob struct {
	topic string
	env   Envelope
}

// NewHub creates a Hub. sendBuffer is the per-connection outbound queue
// length; non-positive falls back to the default.
func NewHub(logger *zap.Logger, reloader *Reloader, sendBuffer int) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		topics:     make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan broadcastJob, broadcastQueueSize),
		reloader:   reloader,
		sendBuffer: sendBuffer,
		logger:     logger,
	}
}

// Run processes hub events. Call this in a goroutine.
// Returns when context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("hub shutting down")
			h.shutdown()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", zap.String("connID", client.connID))

		case client := <-h.unregister:
			h.removeClient(client)

		case job := <-h.broadcast:
			h.deliver(job.topic, job.env)
		}
	}
}

// removeClient drops a connection from every topic it joined. Membership is
// tracked here, not by the transport, so disconnect cleanup is explicit.
// Closing done releases the write pump and any in-flight reload stream.
func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		for topic := range client.topics {
			if members, ok := h.topics[topic]; ok {
				delete(members, client)
				if len(members) == 0 {
					delete(h.topics, topic)
				}
			}
		}
		close(client.done)
	}
	h.mu.Unlock()

	h.logger.Debug("client unregistered", zap.String("connID", client.connID))
}

// deliver fans one envelope out to every member of topic. The envelope is
// encoded once per negotiated codec. Sends are non-blocking: a connection
// whose buffer is full is dropped and unregistered rather than allowed to
// stall the loop.
func (h *Hub) deliver(topic string, env Envelope) {
	h.mu.RLock()
	members, ok := h.topics[topic]
	if !ok || len(members) == 0 {
		h.mu.RUnlock()
		return
	}
	clients := make([]*Client, 0, len(members))
	for client := range members {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	var jsonFrame, msgpackFrame []byte
	for _, client := range clients {
		var frame []byte
		if client.protocol == protocolMsgpack {
			if msgpackFrame == nil {
				msgpackFrame = encodeEnvelopeMsgpack(env)
			}
			frame = msgpackFrame
		} else {
			if jsonFrame == nil {
				jsonFrame = encodeEnvelopeJSON(env)
			}
			frame = jsonFrame
		}

		select {
		case client.send <- frame:
		default:
			// Buffer full, schedule disconnect
			h.logger.Debug("send buffer full, dropping client",
				zap.String("connID", client.connID),
				zap.String("topic", topic),
			)
			go func(c *Client) {
				h.unregister <- c
			}(client)
		}
	}
}

// shutdown releases all client connections.
func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.done)
		delete(h.clients, client)
	}
	h.topics = make(map[string]map[*Client]bool)
}

// Broadcast queues env for delivery to every subscriber of topic. Delivery
// is fire-and-forget: failures on individual connections are logged by the
// run loop and never reach the caller.
func (h *Hub) Broadcast(topic string, env Envelope) {
	h.broadcast <- broadcastJob{topic: topic, env: env}
}

// enqueue is Broadcast bounded by a context, for ingestion callers that
// must not outlive their request.
func (h *Hub) enqueue(ctx context.Context, topic string, env Envelope) error {
	select {
	case h.broadcast <- broadcastJob{topic: topic, env: env}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe adds client to topic's membership. Idempotent.
func (h *Hub) Subscribe(client *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*Client]bool)
	}
	h.topics[topic][client] = true
	client.topics[topic] = true

	h.logger.Debug("client subscribed",
		zap.String("connID", client.connID),
		zap.String("topic", topic),
	)
}

// Unsubscribe removes client from topic's membership. Idempotent.
func (h *Hub) Unsubscribe(client *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if members, ok := h.topics[topic]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.topics, topic)
		}
	}
	delete(client.topics, topic)

	h.logger.Debug("client unsubscribed",
		zap.String("connID", client.connID),
		zap.String("topic", topic),
	)
}

// MembersOf returns the connection ids currently subscribed to topic.
func (h *Hub) MembersOf(topic string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	members := h.topics[topic]
	out := make([]string, 0, len(members))
	for client := range members {
		out = append(out, client.connID)
	}
	return out
}

// SubscriberCount returns how many connections are subscribed to topic.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// ActiveTopics returns all topics with at least one subscriber.
func (h *Hub) ActiveTopics() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var topics []string
	for topic, members := range h.topics {
		if len(members) > 0 {
			topics = append(topics, topic)
		}
	}
	return topics
}

// ConnectionCount returns the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ValidTopic reports whether a topic name is usable as a subscription key.
// Topics are query identifiers: non-empty, at most maxTopicLength bytes.
func ValidTopic(topic string) bool {
	return topic != "" && len(topic) <= maxTopicLength
}
