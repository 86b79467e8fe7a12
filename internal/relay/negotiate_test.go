package relay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestHandleNegotiate_RequiresAuthorization(t *testing.T) {
	h := NewNegotiateHandler(zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/negotiate", nil)
	rec := httptest.NewRecorder()
	h.HandleNegotiate(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without authorization, got: %d", rec.Code)
	}
}

func TestHandleNegotiate_ReturnsWebsocketURL(t *testing.T) {
	h := NewNegotiateHandler(zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/negotiate", nil)
	req.Header.Set("Authorization", "Basic santakey")
	req.Host = "relay.example:8080"
	rec := httptest.NewRecorder()
	h.HandleNegotiate(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got: %d", rec.Code)
	}

	var resp NegotiateResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if !strings.HasPrefix(resp.URL, "ws://relay.example:8080/ws?access_token=santakey:") {
		t.Errorf("unexpected websocket url: %s", resp.URL)
	}
	if !strings.HasPrefix(resp.AccessToken, "santakey:") {
		t.Errorf("access token should embed the key, got: %s", resp.AccessToken)
	}
	if len(resp.Subprotocols) != 2 {
		t.Errorf("expected both subprotocols advertised, got: %v", resp.Subprotocols)
	}
}

func TestHandleNegotiate_TokensUniquePerCall(t *testing.T) {
	h := NewNegotiateHandler(zap.NewNop())

	tokens := map[string]bool{}
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/negotiate", nil)
		req.Header.Set("Authorization", "Basic santakey")
		rec := httptest.NewRecorder()
		h.HandleNegotiate(rec, req)

		var resp NegotiateResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if tokens[resp.AccessToken] {
			t.Errorf("token reused across negotiations: %s", resp.AccessToken)
		}
		tokens[resp.AccessToken] = true
	}
}

func TestMaskKey(t *testing.T) {
	if got := maskKey("abc"); got != "****" {
		t.Errorf("short keys should be fully masked, got: %s", got)
	}
	if got := maskKey("santakey123"); got != "sant****" {
		t.Errorf("expected sant****, got: %s", got)
	}
}
