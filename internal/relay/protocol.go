package relay

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Subprotocol names offered during the websocket upgrade.
const (
	SubprotocolJSON    = "json.workshop.relay.v1"
	SubprotocolMsgpack = "msgpack.workshop.relay.v1"
)

// Internal names for the negotiated codec.
const (
	protocolJSON    = "json"
	protocolMsgpack = "msgpack"
)

// Upstream message types for internal routing
type (
	subscribeRequest struct {
		topic string
		ackID *uint64
	}
	unsubscribeRequest struct {
		topic string
		ackID *uint64
	}
	reloadRequest struct {
		topic string
	}
	pingRequest struct{}
)

// upstreamFrame is the shared shape of client control messages in both
// codecs. Live pushes never travel upstream, so "type" is always present.
type upstreamFrame struct {
	Type  string  `json:"type" msgpack:"type"`
	Topic string  `json:"topic" msgpack:"topic"`
	AckID *uint64 `json:"ackId" msgpack:"ackId"`
}

func (f *upstreamFrame) route() (any, error) {
	switch f.Type {
	case "subscribe":
		return &subscribeRequest{topic: f.Topic, ackID: f.AckID}, nil
	case "unsubscribe":
		return &unsubscribeRequest{topic: f.Topic, ackID: f.AckID}, nil
	case "reload":
		return &reloadRequest{topic: f.Topic}, nil
	case "ping":
		return &pingRequest{}, nil
	default:
		return nil, fmt.Errorf("unknown message type: %q", f.Type)
	}
}

// parseUpstreamJSON parses a JSON-encoded upstream control message.
func parseUpstreamJSON(data []byte) (any, error) {
	var frame upstreamFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("unmarshal upstream message: %w", err)
	}
	return frame.route()
}

// parseUpstreamMsgpack parses a msgpack-encoded upstream control message.
func parseUpstreamMsgpack(data []byte) (any, error) {
	var frame upstreamFrame
	if err := msgpack.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("unmarshal upstream message: %w", err)
	}
	return frame.route()
}

// ============================================================================
// JSON control message builders
// ============================================================================

func buildConnectedMessageJSON(connID string) []byte {
	msg := map[string]interface{}{
		"type":         "connected",
		"connectionId": connID,
	}
	data, _ := json.Marshal(msg)
	return data
}

func buildAckMessageJSON(ackID uint64, success bool, errMsg string) []byte {
	msg := map[string]interface{}{
		"type":    "ack",
		"ackId":   ackID,
		"success": success,
	}
	if errMsg != "" {
		msg["error"] = errMsg
	}
	data, _ := json.Marshal(msg)
	return data
}

func buildPongMessageJSON() []byte {
	msg := map[string]interface{}{
		"type": "pong",
	}
	data, _ := json.Marshal(msg)
	return data
}

// encodeEnvelopeJSON renders an envelope for json-protocol clients.
func encodeEnvelopeJSON(env Envelope) []byte {
	data, _ := json.Marshal(env)
	return data
}

// ============================================================================
// Msgpack control message builders
// ============================================================================

func buildConnectedMessageMsgpack(connID string) []byte {
	msg := map[string]interface{}{
		"type":         "connected",
		"connectionId": connID,
	}
	data, _ := msgpack.Marshal(msg)
	return data
}

func buildAckMessageMsgpack(ackID uint64, success bool, errMsg string) []byte {
	msg := map[string]interface{}{
		"type":    "ack",
		"ackId":   ackID,
		"success": success,
	}
	if errMsg != "" {
		msg["error"] = errMsg
	}
	data, _ := msgpack.Marshal(msg)
	return data
}

func buildPongMessageMsgpack() []byte {
	msg := map[string]interface{}{
		"type": "pong",
	}
	data, _ := msgpack.Marshal(msg)
	return data
}

// encodeEnvelopeMsgpack renders an envelope for msgpack-protocol clients.
// Item bytes stay raw JSON inside the frame; the codec wraps, it does not
// re-parse.
func encodeEnvelopeMsgpack(env Envelope) []byte {
	data, _ := msgpack.Marshal(env)
	return data
}
