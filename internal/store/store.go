// Package store implements the order/position/book cache: three
// independently-locked maps with read-through access to the upstream
// session. Never hold two of the three locks simultaneously.
package store

import (
	"context"
	"sync"

	"deribit-gateway/internal/latency"
	"deribit-gateway/internal/logger"
	"deribit-gateway/internal/model"
)

// Upstream is the narrow contract the store needs from the session:
// enough to submit JSON-RPC calls. The store never touches the duplex
// channel, auth state or subscription tables directly.
type Upstream interface {
	PublicRequest(ctx context.Context, method string, params map[string]interface{}) model.ApiResponse
	PrivateRequest(ctx context.Context, method string, params map[string]interface{}) model.ApiResponse
}

// Store holds the three caches. It is safe for concurrent use.
type Store struct {
	upstream Upstream
	lat      *latency.Registry
	log      *logger.Entry

	ordersMu sync.RWMutex
	orders   map[string]model.Order

	positionsMu sync.RWMutex
	positions   map[string]model.Position

	booksMu sync.RWMutex
	books   map[string]model.OrderBook
}

// New builds an empty Store bound to upstream.
func New(upstream Upstream, lat *latency.Registry) *Store {
	return &Store{
		upstream:  upstream,
		lat:       lat,
		log:       logger.Global().WithComponent("store"),
		orders:    make(map[string]model.Order),
		positions: make(map[string]model.Position),
		books:     make(map[string]model.OrderBook),
	}
}
