package session

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"deribit-gateway/internal/logger"
	"deribit-gateway/internal/model"
)

var dialer = websocket.Dialer{
	HandshakeTimeout: 10 * time.Second,
	TLSClientConfig:  &tls.Config{MinVersion: tls.VersionTLS12},
}

// ConnectWebsocket establishes the persistent duplex channel, installs
// the demux handler and launches the I/O worker. Idempotent: a no-op if
// already connected.
func (s *Session) ConnectWebsocket(ctx context.Context) error {
	s.wsMu.Lock()
	if s.connected {
		s.wsMu.Unlock()
		return nil
	}
	s.wsMu.Unlock()

	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return err
	}

	s.wsMu.Lock()
	s.conn = conn
	s.connected = true
	s.wsMu.Unlock()
	s.closing.Store(false)

	if s.IsAuthenticated() {
		s.sendAuthFrameBestEffort()
	}

	s.wg.Add(1)
	go s.ioLoop(ctx)
	return nil
}

// DisconnectWebsocket sends a normal close frame and closes the socket.
// It does not wait for the I/O worker, which exits once its read fails;
// Close waits for it. Safe to call on an already-disconnected session.
func (s *Session) DisconnectWebsocket() {
	s.closing.Store(true)

	s.wsMu.Lock()
	conn := s.conn
	s.connected = false
	s.wsMu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
}

func (s *Session) sendAuthFrameBestEffort() {
	s.authMu.Lock()
	refreshToken := s.creds.RefreshToken
	s.authMu.Unlock()

	id := s.nextID.Add(1)
	body, err := buildEnvelope(id, "public/auth", map[string]interface{}{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
	})
	if err != nil {
		return
	}
	_ = s.sendWS(body)
}

// sendWS writes raw bytes to the duplex channel under the upstream
// send mutex, the single serialization point for concurrent writers.
func (s *Session) sendWS(body []byte) error {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	if s.conn == nil {
		return model.ErrTransport
	}
	return s.conn.WriteMessage(websocket.TextMessage, body)
}

// ioLoop drives the duplex channel's read side. On an unexpected
// disconnect it reconnects with exponential backoff until the caller
// disconnects explicitly or ctx is cancelled.
func (s *Session) ioLoop(ctx context.Context) {
	defer s.wg.Done()

	bo := &backoff.Backoff{Min: 500 * time.Millisecond, Max: 30 * time.Second, Factor: 2, Jitter: true}

	for {
		s.wsMu.Lock()
		conn := s.conn
		s.wsMu.Unlock()

		if conn != nil {
			s.readPump(conn)
			bo.Reset()
		}

		if s.closing.Load() || ctx.Err() != nil {
			return
		}

		delay := bo.Duration()
		s.log.WithFields(logger.Fields{"delay_ms": delay.Milliseconds()}).Warn("duplex channel dropped, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		newConn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
		if err != nil {
			s.log.WithError(err).Warn("reconnect attempt failed")
			continue
		}
		s.wsMu.Lock()
		if s.closing.Load() {
			s.wsMu.Unlock()
			_ = newConn.Close()
			return
		}
		s.conn = newConn
		s.connected = true
		s.wsMu.Unlock()

		if s.IsAuthenticated() {
			s.sendAuthFrameBestEffort()
		}
		s.resubscribeAll()
	}
}

// readPump blocks reading frames from conn until it errors or is
// closed, dispatching each parsed frame. It returns on any read error
// so ioLoop can decide whether to reconnect.
func (s *Session) readPump(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.handleFrame(raw)
	}
}

// handleFrame parses one inbound frame. A JSON parse failure or a
// malformed notification is logged and the frame alone is dropped; the
// session continues.
func (s *Session) handleFrame(raw []byte) {
	outcome, err := parseFrame(raw)
	if err != nil {
		s.log.WithError(err).Debug("dropping malformed inbound frame")
		return
	}

	switch {
	case outcome.isNotification:
		select {
		case s.queue <- pushItem{channel: outcome.channel, data: outcome.data}:
		default:
			s.log.WithFields(logger.Fields{"channel": outcome.channel}).Warn("dispatch queue full, dropping push frame")
		}
	case outcome.hasError:
		s.log.WithFields(logger.Fields{"error": outcome.errorMessage}).Warn("inbound frame carried a venue error")
	case outcome.hasResult:
		// Response frames are currently unmatched to their request id;
		// a request/response correlator would be a natural follow-up.
	}
}

// Subscribe registers channel -> callback locally, then sends
// public/subscribe over the duplex channel.
func (s *Session) Subscribe(channel string, cb PushCallback) error {
	s.callbacksMu.Lock()
	s.callbacks[channel] = cb
	s.callbacksMu.Unlock()

	id := s.nextID.Add(1)
	body, err := buildEnvelope(id, "public/subscribe", map[string]interface{}{"channels": []string{channel}})
	if err != nil {
		return err
	}
	return s.sendWS(body)
}

// Unsubscribe sends public/unsubscribe then removes the local mapping.
func (s *Session) Unsubscribe(channel string) error {
	id := s.nextID.Add(1)
	body, err := buildEnvelope(id, "public/unsubscribe", map[string]interface{}{"channels": []string{channel}})
	sendErr := s.sendWS(body)
	if err != nil {
		return err
	}

	s.callbacksMu.Lock()
	delete(s.callbacks, channel)
	s.callbacksMu.Unlock()

	return sendErr
}

// resubscribeAll re-sends public/subscribe for every currently
// registered channel after a reconnect, so upstream pushes resume
// without the coordinator having to notice the disconnect.
func (s *Session) resubscribeAll() {
	s.callbacksMu.Lock()
	channels := make([]string, 0, len(s.callbacks))
	for ch := range s.callbacks {
		channels = append(channels, ch)
	}
	s.callbacksMu.Unlock()

	if len(channels) == 0 {
		return
	}
	id := s.nextID.Add(1)
	body, err := buildEnvelope(id, "public/subscribe", map[string]interface{}{"channels": channels})
	if err != nil {
		return
	}
	_ = s.sendWS(body)
}
