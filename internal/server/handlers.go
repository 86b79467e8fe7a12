package server

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lukemurraynz/SantaDigitalShowcase25-sub001/internal/config"
	"github.com/lukemurraynz/SantaDigitalShowcase25-sub001/internal/relay"
	"github.com/lukemurraynz/SantaDigitalShowcase25-sub001/internal/replay"
	"github.com/lukemurraynz/SantaDigitalShowcase25-sub001/internal/sequence"
)

// maxEventBody caps a webhook body after decompression.
const maxEventBody = 4 << 20

type Server struct {
	hub       *relay.Hub
	gate      *relay.Gate
	cache     *replay.Cache
	seq       *sequence.Generator
	negotiate *relay.NegotiateHandler
	config    *config.ServerConfig
	logger    *zap.Logger
	started   time.Time

	keys      map[string]bool
	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

func NewServer(hub *relay.Hub, gate *relay.Gate, cache *replay.Cache, seq *sequence.Generator, cfg *config.ServerConfig, logger *zap.Logger) *Server {
	keys := make(map[string]bool, len(cfg.IngestKeys))
	for _, key := range cfg.IngestKeys {
		keys[key] = true
	}
	return &Server{
		hub:       hub,
		gate:      gate,
		cache:     cache,
		seq:       seq,
		negotiate: relay.NewNegotiateHandler(logger),
		config:    cfg,
		logger:    logger,
		started:   time.Now(),
		keys:      keys,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// changeEvent is one producer-submitted change.
type changeEvent struct {
	Topic     string          `json:"topic"`
	Operation string          `json:"operation"`
	Value     json.RawMessage `json:"value,omitempty"`
}

// eventBatch is the envelope for multi-event requests.
type eventBatch struct {
	Events []changeEvent `json:"events"`
}

// handleEvents accepts change events from producers, either a single event
// object or an {"events": [...]} batch. The whole request is validated
// before any element takes effect.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	body, err := decodeEventBody(r)
	if err != nil {
		if errors.Is(err, errUnsupportedEncoding) {
			writeError(w, http.StatusUnsupportedMediaType, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := parseEvents(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	for i, event := range events {
		if err := relay.CheckChange(event.Topic, event.Operation, event.Value); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("event %d: %v", i, err))
			return
		}
	}

	for _, event := range events {
		if err := s.gate.Ingest(r.Context(), event.Topic, event.Operation, event.Value); err != nil {
			s.logger.Warn("event ingestion aborted", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "ingestion aborted")
			return
		}
	}

	s.logger.Debug("events accepted", zap.Int("count", len(events)))
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": len(events)})
}

// parseEvents decodes a webhook body as a batch first, falling back to a
// single event object.
func parseEvents(body []byte) ([]changeEvent, error) {
	var batch eventBatch
	if err := json.Unmarshal(body, &batch); err == nil && batch.Events != nil {
		if len(batch.Events) == 0 {
			return nil, errors.New("empty event batch")
		}
		return batch.Events, nil
	}

	var single changeEvent
	if err := json.Unmarshal(body, &single); err != nil {
		return nil, fmt.Errorf("malformed event body: %w", err)
	}
	return []changeEvent{single}, nil
}

var errUnsupportedEncoding = errors.New("unsupported content encoding")

// decodeEventBody reads the request body, transparently decompressing
// gzip and zstd codings.
func decodeEventBody(r *http.Request) ([]byte, error) {
	var reader io.Reader = r.Body

	switch encoding := strings.ToLower(r.Header.Get("Content-Encoding")); encoding {
	case "", "identity":
	case "gzip":
		gz, err := gzip.NewReader(r.Body)
		if err != nil {
			return nil, fmt.Errorf("reading gzip body: %w", err)
		}
		defer gz.Close()
		reader = gz
	case "zstd":
		dec, err := zstd.NewReader(r.Body)
		if err != nil {
			return nil, fmt.Errorf("reading zstd body: %w", err)
		}
		defer dec.Close()
		reader = dec
	default:
		return nil, fmt.Errorf("%w: %q", errUnsupportedEncoding, encoding)
	}

	body, err := io.ReadAll(io.LimitReader(reader, maxEventBody+1))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	if len(body) > maxEventBody {
		return nil, errors.New("event body too large")
	}
	return body, nil
}

type resetResponse struct {
	Status  string `json:"status"`
	Topic   string `json:"topic"`
	Dropped int    `json:"dropped"`
}

// handleTopicReset drops all cached replay items for one topic. Live
// subscriptions are unaffected; only reconnect catch-up state is cleared.
func (s *Server) handleTopicReset(w http.ResponseWriter, r *http.Request) {
	topic := chi.URLParam(r, "topic")
	if !relay.ValidTopic(topic) {
		writeError(w, http.StatusBadRequest, "invalid topic")
		return
	}

	dropped := s.cache.Len(topic)
	s.cache.Clear(topic)

	s.logger.Info("replay buffer cleared",
		zap.String("topic", topic),
		zap.Int("dropped", dropped),
	)

	writeJSON(w, http.StatusOK, resetResponse{
		Status:  "success",
		Topic:   topic,
		Dropped: dropped,
	})
}

type healthResponse struct {
	Status        string `json:"status"`
	Instance      string `json:"instance"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Connections   int    `json:"connections"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		Instance:      s.seq.Instance(),
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Connections:   s.hub.ConnectionCount(),
	})
}

type topicStats struct {
	Subscribers int `json:"subscribers"`
	CachedItems int `json:"cached_items"`
}

type statsResponse struct {
	Connections int                   `json:"connections"`
	Topics      map[string]topicStats `json:"topics"`
	Instance    string                `json:"instance"`
	Sequence    uint64                `json:"sequence"`
}

// handleStats reports per-topic subscriber and replay counts. Topics appear
// if they have live subscribers, cached items, or both.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	topics := make(map[string]topicStats)
	for _, topic := range s.hub.ActiveTopics() {
		topics[topic] = topicStats{
			Subscribers: s.hub.SubscriberCount(topic),
			CachedItems: s.cache.Len(topic),
		}
	}
	for _, topic := range s.cache.Topics() {
		if _, ok := topics[topic]; ok {
			continue
		}
		topics[topic] = topicStats{CachedItems: s.cache.Len(topic)}
	}

	writeJSON(w, http.StatusOK, statsResponse{
		Connections: s.hub.ConnectionCount(),
		Topics:      topics,
		Instance:    s.seq.Instance(),
		Sequence:    s.seq.Current(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
