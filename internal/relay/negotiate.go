package relay

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NegotiateResponse tells a client where to connect and how.
type NegotiateResponse struct {
	URL          string   `json:"url"`
	AccessToken  string   `json:"access_token"`
	Subprotocols []string `json:"subprotocols"`
}

// NegotiateHandler handles the /negotiate endpoint.
type NegotiateHandler struct {
	logger *zap.Logger
}

// NewNegotiateHandler creates a NegotiateHandler.
func NewNegotiateHandler(logger *zap.Logger) *NegotiateHandler {
	return &NegotiateHandler{logger: logger}
}

// HandleNegotiate handles GET /negotiate.
// The client key arrives via "Authorization: Basic <key>"; the response
// carries the websocket URL with a provisional access token baked in.
func (h *NegotiateHandler) HandleNegotiate(w http.ResponseWriter, r *http.Request) {
	var key string
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Basic ") {
		key = strings.TrimPrefix(authHeader, "Basic ")
	}

	if key == "" {
		h.logger.Debug("negotiate request missing authorization")
		http.Error(w, `{"error":"missing authorization"}`, http.StatusUnauthorized)
		return
	}

	connID := uuid.New().String()
	token := fmt.Sprintf("%s:%s", key, connID)

	scheme := "ws"
	if r.TLS != nil {
		scheme = "wss"
	}

	response := NegotiateResponse{
		URL:          fmt.Sprintf("%s://%s/ws?access_token=%s", scheme, r.Host, token),
		AccessToken:  token,
		Subprotocols: []string{SubprotocolJSON, SubprotocolMsgpack},
	}

	h.logger.Debug("negotiate successful",
		zap.String("connID", connID),
		zap.String("key", maskKey(key)),
	)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("failed to encode negotiate response", zap.Error(err))
	}
}

// maskKey masks all but the first 4 characters of a client key for logging.
func maskKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return key[:4] + "****"
}
