package relay

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Upstream traffic is control
	// messages only, never payloads.
	maxMessageSize = 64 * 1024 // 64KB

	// Default send buffer size per client.
	defaultSendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // Browser clients connect from the demo site origin
	Subprotocols: []string{
		SubprotocolJSON,
		SubprotocolMsgpack,
	},
}

// Client represents a live websocket connection. done is closed exactly
// once, by the hub, when the connection unregisters; the write pump and any
// in-flight reload stream watch it. send itself is never closed.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	key      string
	connID   string
	topics   map[string]bool
	logger   *zap.Logger
	protocol string // "json" or "msgpack"
}

// ServeWS handles the websocket upgrade and starts the client pumps.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("access_token")
	if token == "" {
		http.Error(w, "missing access_token", http.StatusUnauthorized)
		return
	}

	// Token format: key:provisionalConnID. A fresh connID is minted for
	// the actual connection; the provisional one only made the negotiate
	// URL unique.
	parts := strings.SplitN(token, ":", 2)
	key := parts[0]
	connID := uuid.New().String()

	// Negotiate subprotocol - json unless the client asks for msgpack
	protocol := protocolJSON
	var responseHeader http.Header
	for _, proto := range websocket.Subprotocols(r) {
		switch proto {
		case SubprotocolMsgpack:
			protocol = protocolMsgpack
			responseHeader = http.Header{"Sec-WebSocket-Protocol": {proto}}
		case SubprotocolJSON:
			protocol = protocolJSON
			responseHeader = http.Header{"Sec-WebSocket-Protocol": {proto}}
		}
		if responseHeader != nil {
			break
		}
	}

	conn, err := upgrader.Upgrade(w, r, responseHeader)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, h.sendBuffer),
		done:     make(chan struct{}),
		key:      key,
		connID:   connID,
		topics:   make(map[string]bool),
		logger:   h.logger,
		protocol: protocol,
	}

	h.register <- client

	h.logger.Info("websocket client connected",
		zap.String("connID", connID),
		zap.String("protocol", protocol),
		zap.String("key", maskKey(key)),
		zap.String("remote_addr", r.RemoteAddr),
	)

	client.send <- client.buildConnected()

	go client.writePump()
	go client.readPump()
}

// readPump reads control messages from the websocket connection.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("websocket read error",
					zap.String("connID", c.connID),
					zap.Error(err),
				)
			}
			break
		}
		c.handleMessage(message)
	}
}

// writePump writes queued frames to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	// Frame type follows the negotiated codec
	msgType := websocket.TextMessage
	if c.protocol == protocolMsgpack {
		msgType = websocket.BinaryMessage
	}

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(msgType, message); err != nil {
				c.logger.Debug("websocket write error",
					zap.String("connID", c.connID),
					zap.Error(err),
				)
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming upstream control message.
func (c *Client) handleMessage(data []byte) {
	var msg any
	var err error
	if c.protocol == protocolMsgpack {
		msg, err = parseUpstreamMsgpack(data)
	} else {
		msg, err = parseUpstreamJSON(data)
	}

	if err != nil {
		c.logger.Debug("failed to parse upstream message",
			zap.String("connID", c.connID),
			zap.String("protocol", c.protocol),
			zap.Error(err),
		)
		return
	}

	switch m := msg.(type) {
	case *subscribeRequest:
		if ValidTopic(m.topic) {
			c.hub.Subscribe(c, m.topic)
			c.ack(m.ackID, true, "")
		} else {
			c.logger.Debug("invalid topic name",
				zap.String("connID", c.connID),
				zap.String("topic", m.topic),
			)
			c.ack(m.ackID, false, "invalid topic")
		}

	case *unsubscribeRequest:
		if ValidTopic(m.topic) {
			c.hub.Unsubscribe(c, m.topic)
			c.ack(m.ackID, true, "")
		} else {
			c.ack(m.ackID, false, "invalid topic")
		}

	case *reloadRequest:
		if !ValidTopic(m.topic) {
			c.logger.Debug("reload requested for invalid topic",
				zap.String("connID", c.connID),
				zap.String("topic", m.topic),
			)
			return
		}
		go c.streamReload(m.topic)

	case *pingRequest:
		c.enqueue(c.buildPong())
	}
}

// streamReload emits the catch-up stream for topic through the send queue.
// Emission respects write-side backpressure; a disconnect mid-stream stops
// it and is normal termination, not an error.
func (c *Client) streamReload(topic string) {
	stream := c.hub.reloader.Reload(topic)

	sent := 0
	for {
		env, ok := stream.Next()
		if !ok {
			break
		}
		select {
		case c.send <- c.encodeEnvelope(env):
			sent++
		case <-c.done:
			c.logger.Debug("reload cancelled by disconnect",
				zap.String("connID", c.connID),
				zap.String("topic", topic),
				zap.Int("records", sent),
			)
			return
		}
	}

	c.logger.Debug("reload complete",
		zap.String("connID", c.connID),
		zap.String("topic", topic),
		zap.Int("records", sent),
	)
}

// enqueue queues a frame for the write pump, giving up if the connection is
// going away.
func (c *Client) enqueue(frame []byte) {
	select {
	case c.send <- frame:
	case <-c.done:
	}
}

// ack sends an acknowledgment when the request carried an ackId.
func (c *Client) ack(ackID *uint64, success bool, errMsg string) {
	if ackID == nil {
		return
	}
	c.enqueue(c.buildAck(*ackID, success, errMsg))
}

// buildConnected creates the connected message for this client's protocol.
func (c *Client) buildConnected() []byte {
	if c.protocol == protocolMsgpack {
		return buildConnectedMessageMsgpack(c.connID)
	}
	return buildConnectedMessageJSON(c.connID)
}

// buildAck creates an ack message for this client's protocol.
func (c *Client) buildAck(ackID uint64, success bool, errMsg string) []byte {
	if c.protocol == protocolMsgpack {
		return buildAckMessageMsgpack(ackID, success, errMsg)
	}
	return buildAckMessageJSON(ackID, success, errMsg)
}

// buildPong creates a pong message for this client's protocol.
func (c *Client) buildPong() []byte {
	if c.protocol == protocolMsgpack {
		return buildPongMessageMsgpack()
	}
	return buildPongMessageJSON()
}

// encodeEnvelope renders an envelope for this client's protocol.
func (c *Client) encodeEnvelope(env Envelope) []byte {
	if c.protocol == protocolMsgpack {
		return encodeEnvelopeMsgpack(env)
	}
	return encodeEnvelopeJSON(env)
}
