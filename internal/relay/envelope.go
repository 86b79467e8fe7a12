package relay

import "encoding/json"

// Envelope op codes.
const (
	OpHeader = "h" // reload header
	OpReload = "r" // reload item
	OpInsert = "i"
	OpUpdate = "u"
	OpDelete = "d"
)

// Envelope is the wire-level notification record sent to clients, both for
// live pushes and reload streams. Reload item records omit seq (the header
// carries the sequence for the whole stream); the header omits the payload.
type Envelope struct {
	Op          string   `json:"op" msgpack:"op"`
	Seq         string   `json:"seq,omitempty" msgpack:"seq,omitempty"`
	TimestampMs int64    `json:"ts_ms" msgpack:"ts_ms"`
	Payload     *Payload `json:"payload,omitempty" msgpack:"payload,omitempty"`
}

// Payload carries the materialized value and its provenance. After is
// omitted on delete records; Source is present on every record that has a
// payload.
type Payload struct {
	After  json.RawMessage `json:"after,omitempty" msgpack:"after,omitempty"`
	Source Source          `json:"source" msgpack:"source"`
}

// Source identifies the topic a record belongs to.
type Source struct {
	Topic       string `json:"topic" msgpack:"topic"`
	TimestampMs int64  `json:"ts_ms" msgpack:"ts_ms"`
}

func headerEnvelope(seq string, tsMs int64) Envelope {
	return Envelope{Op: OpHeader, Seq: seq, TimestampMs: tsMs}
}

func reloadEnvelope(topic string, item json.RawMessage, tsMs int64) Envelope {
	return Envelope{
		Op:          OpReload,
		TimestampMs: tsMs,
		Payload: &Payload{
			After:  item,
			Source: Source{Topic: topic, TimestampMs: tsMs},
		},
	}
}

func changeEnvelope(op, seq, topic string, value json.RawMessage, tsMs int64) Envelope {
	env := Envelope{
		Op:          op,
		Seq:         seq,
		TimestampMs: tsMs,
		Payload: &Payload{
			Source: Source{Topic: topic, TimestampMs: tsMs},
		},
	}
	if op != OpDelete {
		env.Payload.After = value
	}
	return env
}
