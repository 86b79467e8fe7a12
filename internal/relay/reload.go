package relay

import (
	"encoding/json"
	"time"

	"github.com/lukemurraynz/SantaDigitalShowcase25-sub001/internal/replay"
	"github.com/lukemurraynz/SantaDigitalShowcase25-sub001/internal/sequence"
)

// Reloader builds catch-up streams from the replay cache. A reload answers
// "give me current state" for one topic: one header record followed by the
// cached items in arrival order. Events arriving while a reload is being
// consumed may be seen twice or, rarely, not at all; clients reconcile by
// seq.
type Reloader struct {
	cache *replay.Cache
	seq   *sequence.Generator
}

// NewReloader creates a Reloader over cache, minting stream sequences
// from seq.
func NewReloader(cache *replay.Cache, seq *sequence.Generator) *Reloader {
	return &Reloader{cache: cache, seq: seq}
}

// Reload returns a one-shot stream of records for topic. The sequence and
// timestamp are fixed now; the cache snapshot is deferred until the first
// item record is pulled. Each call re-reads the cache fresh; streams are
// not restartable.
func (r *Reloader) Reload(topic string) *ReloadStream {
	return &ReloadStream{
		topic: topic,
		cache: r.cache,
		seq:   r.seq.Next(),
		now:   time.Now().UnixMilli(),
	}
}

// ReloadStream yields the header first, then one record per cached item.
// Not safe for concurrent use; a stream belongs to the single connection
// pump consuming it.
type ReloadStream struct {
	topic string
	cache *replay.Cache
	seq   string
	now   int64

	headerSent bool
	taken      bool
	items      []json.RawMessage
	idx        int
}

// Next returns the next record. ok is false once the stream is exhausted.
func (s *ReloadStream) Next() (env Envelope, ok bool) {
	if !s.headerSent {
		s.headerSent = true
		return headerEnvelope(s.seq, s.now), true
	}

	if !s.taken {
		s.taken = true
		s.items = s.cache.Snapshot(s.topic)
	}

	if s.idx >= len(s.items) {
		return Envelope{}, false
	}

	item := s.items[s.idx]
	s.idx++
	return reloadEnvelope(s.topic, item, s.now), true
}

// Seq returns the sequence identifier carried by the stream's header.
func (s *ReloadStream) Seq() string {
	return s.seq
}
