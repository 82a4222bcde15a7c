package session

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"deribit-gateway/internal/latency"
	"deribit-gateway/internal/model"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func jsonResponse(t *testing.T, body map[string]interface{}) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return &http.Response{
		StatusCode: 200,
		Body:       io.NopCloser(bytes.NewReader(raw)),
		Header:     make(http.Header),
	}
}

func methodFromRequest(req *http.Request) string {
	parts := strings.SplitN(req.URL.Path, "/api/v2/", 2)
	if len(parts) != 2 {
		return ""
	}
	return parts[1]
}

func newTestSession(t *testing.T, rt roundTripFunc) *Session {
	t.Helper()
	s := New("key", "secret", true, 0, 0, latency.NewRegistry())
	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(s.Close)
	s.httpClient = &http.Client{Transport: rt}
	return s
}

func TestAuthenticateSuccessSetsAuthenticated(t *testing.T) {
	s := newTestSession(t, func(req *http.Request) (*http.Response, error) {
		if methodFromRequest(req) != "public/auth" {
			t.Fatalf("unexpected method %s", methodFromRequest(req))
		}
		return jsonResponse(t, map[string]interface{}{
			"result": map[string]interface{}{
				"access_token":  "tok-1",
				"refresh_token": "ref-1",
				"expires_in":    900,
			},
		}), nil
	})

	resp := s.Authenticate(context.Background())
	if !resp.Success {
		t.Fatalf("want successful authenticate, got %+v", resp)
	}
	if !s.IsAuthenticated() {
		t.Fatalf("want authenticated after a successful client_credentials grant")
	}
}

func TestAuthenticateFailureLeavesUnauthenticated(t *testing.T) {
	s := newTestSession(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(t, map[string]interface{}{
			"error": map[string]interface{}{"message": "invalid_credentials"},
		}), nil
	})

	resp := s.Authenticate(context.Background())
	if resp.Success {
		t.Fatalf("want failed authenticate, got %+v", resp)
	}
	if s.IsAuthenticated() {
		t.Fatalf("want unauthenticated after a failed grant")
	}
}

// TestPrivateRequestRefreshesExpiredTokenThenSucceeds exercises the
// expiry -> refresh -> private call path: an already-authenticated
// session whose token has gone stale refreshes once before issuing the
// requested private method, ending authenticated with a new expiry.
func TestPrivateRequestRefreshesExpiredTokenThenSucceeds(t *testing.T) {
	var calls []string
	s := newTestSession(t, func(req *http.Request) (*http.Response, error) {
		method := methodFromRequest(req)
		calls = append(calls, method)

		switch method {
		case "public/auth":
			raw, _ := io.ReadAll(req.Body)
			var body map[string]interface{}
			_ = json.Unmarshal(raw, &body)
			params, _ := body["params"].(map[string]interface{})
			if params["grant_type"] != "refresh_token" {
				t.Fatalf("want refresh_token grant, got %+v", params["grant_type"])
			}
			return jsonResponse(t, map[string]interface{}{
				"result": map[string]interface{}{
					"access_token":  "tok-2",
					"refresh_token": "ref-2",
					"expires_in":    900,
				},
			}), nil
		case "private/get_order_state":
			return jsonResponse(t, map[string]interface{}{
				"result": map[string]interface{}{"order_id": "o-1", "order_state": "open"},
			}), nil
		}
		t.Fatalf("unexpected method %s", method)
		return nil, nil
	})

	s.authMu.Lock()
	s.creds.Authenticated = true
	s.creds.AccessToken = "tok-old"
	s.creds.RefreshToken = "ref-old"
	s.creds.TokenExpiry = time.Now().Add(-time.Minute)
	s.authMu.Unlock()

	resp := s.PrivateRequest(context.Background(), "private/get_order_state", map[string]interface{}{"order_id": "o-1"})
	if !resp.Success {
		t.Fatalf("want successful private request, got %+v", resp)
	}

	if len(calls) != 2 || calls[0] != "public/auth" || calls[1] != "private/get_order_state" {
		t.Fatalf("want refresh before the private call, got %+v", calls)
	}

	s.authMu.Lock()
	authenticated := s.creds.Authenticated
	expiry := s.creds.TokenExpiry
	accessToken := s.creds.AccessToken
	s.authMu.Unlock()

	if !authenticated {
		t.Fatalf("want authenticated=true in final state")
	}
	if accessToken != "tok-2" {
		t.Fatalf("want refreshed access token, got %q", accessToken)
	}
	if !expiry.After(time.Now()) {
		t.Fatalf("want a new, non-expired token expiry, got %v", expiry)
	}
}

func TestPrivateRequestRefreshFailureIsNotRetried(t *testing.T) {
	var calls int
	s := newTestSession(t, func(req *http.Request) (*http.Response, error) {
		calls++
		return jsonResponse(t, map[string]interface{}{
			"error": map[string]interface{}{"message": "refresh_token_invalid"},
		}), nil
	})

	s.authMu.Lock()
	s.creds.Authenticated = true
	s.creds.TokenExpiry = time.Now().Add(-time.Minute)
	s.authMu.Unlock()

	resp := s.PrivateRequest(context.Background(), "private/get_order_state", nil)
	if resp.Success {
		t.Fatalf("want failed private request after refresh failure, got %+v", resp)
	}
	if calls != 1 {
		t.Fatalf("want exactly one refresh attempt, got %d", calls)
	}
	if s.IsAuthenticated() {
		t.Fatalf("want unauthenticated after a failed refresh")
	}
}

func TestHandleFrameDropsMalformedFrame(t *testing.T) {
	s := New("key", "secret", true, 0, 0, latency.NewRegistry())

	s.handleFrame([]byte("not json"))

	if len(s.queue) != 0 {
		t.Fatalf("want no queued push from a malformed frame, got %d", len(s.queue))
	}
}

func TestHandleFrameDispatchesNotificationToRegisteredCallback(t *testing.T) {
	s := New("key", "secret", true, 0, 0, latency.NewRegistry())
	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer s.Close()

	received := make(chan *model.Dynamic, 1)
	s.callbacksMu.Lock()
	s.callbacks["orderbook.BTC-PERPETUAL"] = func(channel string, data *model.Dynamic) {
		received <- data
	}
	s.callbacksMu.Unlock()

	frame, err := json.Marshal(map[string]interface{}{
		"method": "subscription",
		"params": map[string]interface{}{
			"channel": "orderbook.BTC-PERPETUAL",
			"data":    map[string]interface{}{"bids": []interface{}{}},
		},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	s.handleFrame(frame)

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatalf("want callback dispatched within timeout")
	}
}

func TestHandleFrameIgnoresUnregisteredChannel(t *testing.T) {
	s := New("key", "secret", true, 0, 0, latency.NewRegistry())
	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer s.Close()

	frame, err := json.Marshal(map[string]interface{}{
		"method": "subscription",
		"params": map[string]interface{}{
			"channel": "orderbook.NEVER-SUBSCRIBED",
			"data":    map[string]interface{}{},
		},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	s.handleFrame(frame)

	time.Sleep(50 * time.Millisecond)
}
