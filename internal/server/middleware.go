package server

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type contextKey string

// ingestKeyContext carries the authenticated producer key through the
// request context.
const ingestKeyContext contextKey = "ingest-key"

// requireIngestKey authenticates producer requests. The key travels as
// "Authorization: Basic <key>", the same shape the negotiate handshake uses.
func (s *Server) requireIngestKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Basic ") {
			writeError(w, http.StatusUnauthorized, "missing authorization")
			return
		}

		key := strings.TrimPrefix(auth, "Basic ")
		if !s.keys[key] {
			s.logger.Debug("rejected ingest key", zap.String("key", maskKey(key)))
			writeError(w, http.StatusUnauthorized, "unknown ingest key")
			return
		}

		ctx := context.WithValue(r.Context(), ingestKeyContext, key)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// limitIngestRate enforces the per-key token bucket. Requests over budget
// get 429 instead of queueing.
func (s *Server) limitIngestRate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, _ := r.Context().Value(ingestKeyContext).(string)
		if !s.limiterFor(key).Allow() {
			s.logger.Debug("ingest rate exceeded", zap.String("key", maskKey(key)))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// limiterFor returns the token bucket for key, creating it on first use.
// A non-positive configured rate disables limiting.
func (s *Server) limiterFor(key string) *rate.Limiter {
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()

	limiter, ok := s.limiters[key]
	if !ok {
		limit := rate.Limit(s.config.IngestRate)
		if s.config.IngestRate <= 0 {
			limit = rate.Inf
		}
		limiter = rate.NewLimiter(limit, s.config.IngestBurst)
		s.limiters[key] = limiter
	}
	return limiter
}

// maskKey masks all but the first 4 characters of an ingest key for logging.
func maskKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return key[:4] + "****"
}
