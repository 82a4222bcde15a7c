// Package broadcast implements the local distribution server: a
// WebSocket endpoint that fans upstream order-book updates out to
// local subscribers, each tracked by the channels it has subscribed
// to.
package broadcast

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"deribit-gateway/internal/logger"
)

// SnapshotProvider returns the current order-book payload
// (instrument_name/timestamp/bids/asks) for an "orderbook."-prefixed
// channel, if one exists, so a fresh subscriber can be caught up
// immediately after its subscribe acknowledgment.
type SnapshotProvider func(channel string) (map[string]interface{}, bool)

const orderbookChannelPrefix = "orderbook."

// Server is the local distribution gateway's downstream WebSocket
// endpoint. Safe for concurrent use.
type Server struct {
	upgrader websocket.Upgrader
	http     *http.Server
	log      *logger.Entry

	snapshot SnapshotProvider

	connsMu sync.Mutex
	conns   map[*Connection]struct{}

	subsMu         sync.Mutex
	channelToConns map[string]map[*Connection]struct{}
	connToChannels map[*Connection]map[string]struct{}
}

// New builds an idle Server. Call Start to begin listening.
func New() *Server {
	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log:            logger.Global().WithComponent("broadcast"),
		conns:          make(map[*Connection]struct{}),
		channelToConns: make(map[string]map[*Connection]struct{}),
		connToChannels: make(map[*Connection]map[string]struct{}),
	}
}

// SetSnapshotProvider installs the callback used to catch a fresh
// subscriber up on the current state of a channel. Optional; a nil
// provider means subscribers only ever see updates from the moment
// they subscribe onward.
func (s *Server) SetSnapshotProvider(fn SnapshotProvider) {
	s.snapshot = fn
}

// Start mounts the upgrade handler on "/ws" and begins listening on
// addr. Returns once the listener is bound; serving continues in the
// background until Stop.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)

	s.http = &http.Server{Addr: addr, Handler: mux}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("broadcast server stopped unexpectedly")
		}
	}()

	s.log.WithFields(logger.Fields{"addr": addr}).Info("broadcast server listening")
	return nil
}

// Stop shuts the HTTP listener down and closes every open connection.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	if s.http != nil {
		shutdownErr = s.http.Shutdown(ctx)
	}

	s.connsMu.Lock()
	conns := make([]*Connection, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.connsMu.Unlock()

	for _, c := range conns {
		c.close()
	}
	return shutdownErr
}

// ConnectionCount reports how many local subscribers are currently
// connected.
func (s *Server) ConnectionCount() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return len(s.conns)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	s.onOpen(conn)
}

func (s *Server) onOpen(conn *websocket.Conn) {
	c := newConnection(uuid.NewString(), conn)

	s.connsMu.Lock()
	s.conns[c] = struct{}{}
	s.connsMu.Unlock()

	if err := c.write(welcomeFrame(c.id)); err != nil {
		s.onClose(c)
		return
	}

	go s.readLoop(c)
}

func (s *Server) onClose(c *Connection) {
	s.connsMu.Lock()
	delete(s.conns, c)
	s.connsMu.Unlock()

	s.subsMu.Lock()
	for channel := range s.connToChannels[c] {
		delete(s.channelToConns[channel], c)
		if len(s.channelToConns[channel]) == 0 {
			delete(s.channelToConns, channel)
		}
	}
	delete(s.connToChannels, c)
	s.subsMu.Unlock()

	c.close()
}

func (s *Server) readLoop(c *Connection) {
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			s.onClose(c)
			return
		}
		s.handleInbound(c, raw)
	}
}

func (s *Server) handleInbound(c *Connection, raw []byte) {
	msg, err := parseInbound(raw)
	if err != nil {
		_ = c.write(errorFrame("malformed message"))
		return
	}

	switch msg.Type {
	case "subscribe":
		if msg.Channel == "" {
			_ = c.write(errorFrame("subscribe requires a channel"))
			return
		}
		s.subscribe(c, msg.Channel)
	case "unsubscribe":
		if msg.Channel == "" {
			_ = c.write(errorFrame("unsubscribe requires a channel"))
			return
		}
		s.unsubscribe(c, msg.Channel)
	default:
		_ = c.write(errorFrame(fmt.Sprintf("unknown message type %q", msg.Type)))
	}
}

func (s *Server) subscribe(c *Connection, channel string) {
	s.subsMu.Lock()
	if s.channelToConns[channel] == nil {
		s.channelToConns[channel] = make(map[*Connection]struct{})
	}
	s.channelToConns[channel][c] = struct{}{}
	if s.connToChannels[c] == nil {
		s.connToChannels[c] = make(map[string]struct{})
	}
	s.connToChannels[c][channel] = struct{}{}
	s.subsMu.Unlock()

	if err := c.write(subscribedFrame(channel)); err != nil {
		s.onClose(c)
		return
	}

	if s.snapshot != nil && strings.HasPrefix(channel, orderbookChannelPrefix) {
		if data, ok := s.snapshot(channel); ok {
			_ = c.write(orderbookSnapshotFrame(data))
		}
	}
}

func (s *Server) unsubscribe(c *Connection, channel string) {
	s.subsMu.Lock()
	delete(s.channelToConns[channel], c)
	if len(s.channelToConns[channel]) == 0 {
		delete(s.channelToConns, channel)
	}
	delete(s.connToChannels[c], channel)
	s.subsMu.Unlock()

	_ = c.write(unsubscribedFrame(channel))
}

// Broadcast sends payload to every connected local subscriber,
// regardless of subscription state.
func (s *Server) Broadcast(payload []byte) {
	s.connsMu.Lock()
	conns := make([]*Connection, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.connsMu.Unlock()

	for _, c := range conns {
		if err := c.write(payload); err != nil {
			s.onClose(c)
		}
	}
}

// BroadcastToChannel sends payload only to subscribers of channel.
func (s *Server) BroadcastToChannel(channel string, payload []byte) {
	s.subsMu.Lock()
	targets := make([]*Connection, 0, len(s.channelToConns[channel]))
	for c := range s.channelToConns[channel] {
		targets = append(targets, c)
	}
	s.subsMu.Unlock()

	for _, c := range targets {
		if err := c.write(payload); err != nil {
			s.onClose(c)
		}
	}
}

// Send writes payload to one specific connection.
func (s *Server) Send(c *Connection, payload []byte) error {
	return c.write(payload)
}

// HandleOrderbookUpdate serializes an order-book update and fans it
// out to subscribers of "orderbook." + instrument.
func (s *Server) HandleOrderbookUpdate(instrument string, timestamp int64, bids, asks [][]float64) {
	channel := orderbookChannelPrefix + instrument
	s.BroadcastToChannel(channel, orderbookFrame(instrument, timestamp, bids, asks))
}
