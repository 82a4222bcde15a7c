// Package coordinator composes the upstream session, the order/book
// store and the local broadcast server into one runnable gateway:
// authenticate, join the configured instrument streams, and fan every
// upstream push out to local subscribers.
package coordinator

import (
	"context"
	"fmt"
	"sync/atomic"

	"deribit-gateway/internal/broadcast"
	"deribit-gateway/internal/latency"
	"deribit-gateway/internal/logger"
	"deribit-gateway/internal/model"
	"deribit-gateway/internal/session"
	"deribit-gateway/internal/store"
)

// Upstream is the subset of *session.Session the coordinator drives
// directly, narrowed so tests can substitute a fake.
type Upstream interface {
	Initialize() error
	IsAuthenticated() bool
	Authenticate(ctx context.Context) model.ApiResponse
	ConnectWebsocket(ctx context.Context) error
	DisconnectWebsocket()
	Subscribe(channel string, cb session.PushCallback) error
	Unsubscribe(channel string) error
	Close()
}

// Coordinator owns the lifecycle of the session, store and broadcast
// server it is built from. Start/Stop are idempotent and safe to call
// from a signal handler goroutine.
type Coordinator struct {
	sess Upstream
	st   *store.Store
	srv  *broadcast.Server
	lat  *latency.Registry
	log  *logger.Entry

	currency string

	writeThroughBooks bool

	running atomic.Bool
}

// Option customizes a Coordinator at construction time.
type Option func(*Coordinator)

// WithWriteThroughBooks makes the coordinator also write every
// order-book push into the store's book cache, rather than only
// fanning it out over the broadcast server. Off by default: the book
// cache's read-through path already has its own first-read fetch, and
// folding pushes into it doubles the write path for little benefit
// unless local callers read the cache directly.
func WithWriteThroughBooks(enabled bool) Option {
	return func(c *Coordinator) { c.writeThroughBooks = enabled }
}

// New builds a Coordinator. currency selects the user-channel streams
// (orders, portfolio) joined on Start.
func New(sess Upstream, st *store.Store, srv *broadcast.Server, lat *latency.Registry, currency string, opts ...Option) *Coordinator {
	c := &Coordinator{
		sess:     sess,
		st:       st,
		srv:      srv,
		lat:      lat,
		log:      logger.Global().WithComponent("coordinator"),
		currency: currency,
	}
	for _, opt := range opts {
		opt(c)
	}
	srv.SetSnapshotProvider(c.snapshotFor)
	return c
}

// Initialize prepares the session's background workers without
// opening the duplex channel yet. Safe to call once.
func (c *Coordinator) Initialize() error {
	return c.sess.Initialize()
}

// Start connects the duplex channel, authenticates if the session is
// not already authenticated, joins the user-scoped order/portfolio streams and begins
// listening for local subscribers. A no-op if already running.
func (c *Coordinator) Start(ctx context.Context, listenAddr string) error {
	if !c.running.CompareAndSwap(false, true) {
		return nil
	}

	if err := c.sess.ConnectWebsocket(ctx); err != nil {
		c.running.Store(false)
		return fmt.Errorf("connect duplex channel: %w", err)
	}

	if !c.sess.IsAuthenticated() {
		if resp := c.sess.Authenticate(ctx); !resp.Success {
			c.log.WithFields(logger.Fields{"error": resp.ErrorMessage}).Warn("startup authentication failed, continuing unauthenticated")
		}
	}

	if err := c.sess.Subscribe(fmt.Sprintf("user.orders.%s.any.raw", c.currency), c.onOrderPush); err != nil {
		c.log.WithError(err).Warn("failed to join order-update stream")
	}
	if err := c.sess.Subscribe(fmt.Sprintf("user.portfolio.%s", c.currency), c.onPositionPush); err != nil {
		c.log.WithError(err).Warn("failed to join portfolio-update stream")
	}

	if err := c.srv.Start(listenAddr); err != nil {
		c.running.Store(false)
		return fmt.Errorf("start broadcast server: %w", err)
	}

	c.log.Info("coordinator started")
	return nil
}

// Stop tears everything down in reverse order. A no-op if not running.
func (c *Coordinator) Stop(ctx context.Context) error {
	if !c.running.CompareAndSwap(true, false) {
		return nil
	}

	if err := c.srv.Stop(ctx); err != nil {
		c.log.WithError(err).Warn("broadcast server shutdown reported an error")
	}
	c.sess.DisconnectWebsocket()
	c.sess.Close()

	c.log.Info("coordinator stopped")
	return nil
}

// SubscribeMarketData joins the 100ms order-book stream for instrument
// and wires it to the broadcast server; pushes are also written into
// the store's book cache only when WithWriteThroughBooks is enabled.
func (c *Coordinator) SubscribeMarketData(instrument string) error {
	channel := bookChannel(instrument)
	return c.sess.Subscribe(channel, c.onBookPush)
}

// UnsubscribeMarketData leaves the 100ms order-book stream for
// instrument.
func (c *Coordinator) UnsubscribeMarketData(instrument string) error {
	return c.sess.Unsubscribe(bookChannel(instrument))
}

func bookChannel(instrument string) string {
	return fmt.Sprintf("book.%s.100ms", instrument)
}
