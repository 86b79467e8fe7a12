package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/lukemurraynz/SantaDigitalShowcase25-sub001/internal/replay"
	"github.com/lukemurraynz/SantaDigitalShowcase25-sub001/internal/sequence"
)

type wsFixture struct {
	srv  *httptest.Server
	hub  *Hub
	gate *Gate
}

func startWSFixture(t *testing.T) *wsFixture {
	t.Helper()

	logger := zap.NewNop()
	seq := sequence.NewWithInstance("test")
	cache := replay.New(100)
	hub := NewHub(logger, NewReloader(cache, seq), 32)
	gate := NewGate(hub, cache, seq, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)
	srv := httptest.NewServer(mux)

	t.Cleanup(func() {
		srv.Close()
		cancel()
	})

	return &wsFixture{srv: srv, hub: hub, gate: gate}
}

func (f *wsFixture) dial(t *testing.T, subprotocols ...string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws?access_token=testkey:prov"
	dialer := websocket.Dialer{Subprotocols: subprotocols}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	return conn
}

func sendJSON(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func readControlJSON(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var msg map[string]interface{}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal failed: %v (raw: %s)", err, data)
	}
	return msg
}

func readEnvelopeJSON(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal failed: %v (raw: %s)", err, data)
	}
	return env
}

// expectNoFrame asserts silence on the wire. Reading past a deadline leaves
// the connection unusable, so call this only as a test's final step.
func expectNoFrame(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(wait))
	if _, data, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected no frame, got: %s", data)
	}
}

func subscribe(t *testing.T, conn *websocket.Conn, topic string, ackID uint64) {
	t.Helper()
	sendJSON(t, conn, map[string]interface{}{"type": "subscribe", "topic": topic, "ackId": ackID})
	ack := readControlJSON(t, conn)
	if ack["type"] != "ack" || ack["success"] != true {
		t.Fatalf("expected successful ack, got: %v", ack)
	}
	if ack["ackId"].(float64) != float64(ackID) {
		t.Fatalf("ack for wrong request: %v", ack)
	}
}

func TestServeWS_RequiresAccessToken(t *testing.T) {
	f := startWSFixture(t)

	resp, err := http.Get(f.srv.URL + "/ws")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without access_token, got: %d", resp.StatusCode)
	}
}

func TestServeWS_ConnectedMessageFirst(t *testing.T) {
	f := startWSFixture(t)
	conn := f.dial(t)

	msg := readControlJSON(t, conn)
	if msg["type"] != "connected" {
		t.Errorf("expected connected message first, got: %v", msg)
	}
	if id, _ := msg["connectionId"].(string); id == "" {
		t.Error("connected message should carry a connection id")
	}
}

func TestServeWS_SubscribeReceivesLivePush(t *testing.T) {
	f := startWSFixture(t)
	conn := f.dial(t)
	readControlJSON(t, conn) // connected

	subscribe(t, conn, "wishlist-trending-1h", 1)

	value := json.RawMessage(`{"item":"LEGO Set","frequency":3}`)
	if err := f.gate.Ingest(context.Background(), "wishlist-trending-1h", OperationInsert, value); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	env := readEnvelopeJSON(t, conn)
	if env.Op != OpInsert {
		t.Errorf("expected op %q, got: %q", OpInsert, env.Op)
	}
	if env.Seq != "test-1" {
		t.Errorf("expected seq test-1, got: %q", env.Seq)
	}
	if string(env.Payload.After) != string(value) {
		t.Errorf("expected payload %s, got: %s", value, env.Payload.After)
	}
	if env.Payload.Source.Topic != "wishlist-trending-1h" {
		t.Errorf("expected source topic, got: %q", env.Payload.Source.Topic)
	}
}

func TestServeWS_LateSubscriberOnlySeesLaterEvents(t *testing.T) {
	f := startWSFixture(t)

	early := f.dial(t)
	readControlJSON(t, early)
	subscribe(t, early, "t", 1)

	if err := f.gate.Ingest(context.Background(), "t", OperationInsert, json.RawMessage(`{"n":1}`)); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	// Reading the push on the early connection proves the broadcast was
	// fully processed before the late subscriber joins.
	if env := readEnvelopeJSON(t, early); string(env.Payload.After) != `{"n":1}` {
		t.Fatalf("early subscriber got wrong event: %s", env.Payload.After)
	}

	late := f.dial(t)
	readControlJSON(t, late)
	subscribe(t, late, "t", 2)

	if err := f.gate.Ingest(context.Background(), "t", OperationInsert, json.RawMessage(`{"n":2}`)); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	env := readEnvelopeJSON(t, late)
	if string(env.Payload.After) != `{"n":2}` {
		t.Errorf("late subscriber's first push should be the second event, got: %s", env.Payload.After)
	}
}

func TestServeWS_ReloadCatchUp(t *testing.T) {
	f := startWSFixture(t)

	for _, v := range []string{`{"n":1}`, `{"n":2}`} {
		if err := f.gate.Ingest(context.Background(), "t", OperationInsert, json.RawMessage(v)); err != nil {
			t.Fatalf("ingest failed: %v", err)
		}
	}

	conn := f.dial(t)
	readControlJSON(t, conn)

	sendJSON(t, conn, map[string]interface{}{"type": "reload", "topic": "t"})

	header := readEnvelopeJSON(t, conn)
	if header.Op != OpHeader {
		t.Fatalf("expected header first, got: %+v", header)
	}
	if header.Seq == "" {
		t.Error("header must carry a seq")
	}

	for i, want := range []string{`{"n":1}`, `{"n":2}`} {
		rec := readEnvelopeJSON(t, conn)
		if rec.Op != OpReload {
			t.Errorf("record %d: expected op %q, got: %q", i, OpReload, rec.Op)
		}
		if string(rec.Payload.After) != want {
			t.Errorf("record %d: expected %s, got: %s", i, want, rec.Payload.After)
		}
	}

	expectNoFrame(t, conn, 300*time.Millisecond)
}

func TestServeWS_ReloadEmptyTopicHeaderOnly(t *testing.T) {
	f := startWSFixture(t)
	conn := f.dial(t)
	readControlJSON(t, conn)

	sendJSON(t, conn, map[string]interface{}{"type": "reload", "topic": "never-seen"})

	header := readEnvelopeJSON(t, conn)
	if header.Op != OpHeader {
		t.Fatalf("expected header, got: %+v", header)
	}

	expectNoFrame(t, conn, 300*time.Millisecond)
}

func TestServeWS_PingPong(t *testing.T) {
	f := startWSFixture(t)
	conn := f.dial(t)
	readControlJSON(t, conn)

	sendJSON(t, conn, map[string]interface{}{"type": "ping"})

	msg := readControlJSON(t, conn)
	if msg["type"] != "pong" {
		t.Errorf("expected pong, got: %v", msg)
	}
}

func TestServeWS_InvalidTopicNacked(t *testing.T) {
	f := startWSFixture(t)
	conn := f.dial(t)
	readControlJSON(t, conn)

	sendJSON(t, conn, map[string]interface{}{"type": "subscribe", "topic": "", "ackId": 4})

	ack := readControlJSON(t, conn)
	if ack["type"] != "ack" || ack["success"] != false {
		t.Fatalf("expected failed ack for empty topic, got: %v", ack)
	}
	if ack["error"] == "" {
		t.Error("nack should explain itself")
	}
}

func TestServeWS_UnsubscribeStopsDelivery(t *testing.T) {
	f := startWSFixture(t)
	conn := f.dial(t)
	readControlJSON(t, conn)

	subscribe(t, conn, "t", 1)

	if err := f.gate.Ingest(context.Background(), "t", OperationInsert, json.RawMessage(`{"n":1}`)); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	readEnvelopeJSON(t, conn)

	sendJSON(t, conn, map[string]interface{}{"type": "unsubscribe", "topic": "t", "ackId": 2})
	ack := readControlJSON(t, conn)
	if ack["success"] != true {
		t.Fatalf("expected successful unsubscribe ack, got: %v", ack)
	}

	if err := f.gate.Ingest(context.Background(), "t", OperationInsert, json.RawMessage(`{"n":2}`)); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	expectNoFrame(t, conn, 300*time.Millisecond)
}

func TestServeWS_MsgpackSubprotocol(t *testing.T) {
	f := startWSFixture(t)
	conn := f.dial(t, SubprotocolMsgpack)

	if conn.Subprotocol() != SubprotocolMsgpack {
		t.Fatalf("expected negotiated subprotocol %q, got: %q", SubprotocolMsgpack, conn.Subprotocol())
	}

	msgType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if msgType != websocket.BinaryMessage {
		t.Errorf("msgpack clients should receive binary frames, got type: %d", msgType)
	}

	var connected map[string]interface{}
	if err := msgpack.Unmarshal(data, &connected); err != nil {
		t.Fatalf("unmarshal connected failed: %v", err)
	}
	if connected["type"] != "connected" {
		t.Errorf("expected connected message, got: %v", connected)
	}

	// Subscribe over msgpack and take a live push end to end.
	sub, err := msgpack.Marshal(map[string]interface{}{"type": "subscribe", "topic": "t", "ackId": uint64(1)})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, sub); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	_, data, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("read ack failed: %v", err)
	}
	var ack map[string]interface{}
	if err := msgpack.Unmarshal(data, &ack); err != nil {
		t.Fatalf("unmarshal ack failed: %v", err)
	}
	if ack["type"] != "ack" || ack["success"] != true {
		t.Fatalf("expected successful ack, got: %v", ack)
	}

	value := json.RawMessage(`{"item":"LEGO Set"}`)
	if err := f.gate.Ingest(context.Background(), "t", OperationInsert, value); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	_, data, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("read envelope failed: %v", err)
	}
	var env Envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal envelope failed: %v", err)
	}
	if env.Op != OpInsert {
		t.Errorf("expected op %q, got: %q", OpInsert, env.Op)
	}
	if string(env.Payload.After) != string(value) {
		t.Errorf("expected payload %s to survive msgpack framing, got: %s", value, env.Payload.After)
	}
}

func TestServeWS_DisconnectCleansSubscriptions(t *testing.T) {
	f := startWSFixture(t)
	conn := f.dial(t)
	readControlJSON(t, conn)

	subscribe(t, conn, "t", 1)
	if n := f.hub.SubscriberCount("t"); n != 1 {
		t.Fatalf("expected 1 subscriber, got: %d", n)
	}

	conn.Close()

	waitFor(t, time.Second, func() bool { return f.hub.SubscriberCount("t") == 0 })
	waitFor(t, time.Second, func() bool { return f.hub.ConnectionCount() == 0 })
}
