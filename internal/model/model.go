// Package model holds the data types shared by the session, store,
// broadcast and coordinator packages: credentials, orders, positions,
// order books and the venue's JSON-RPC envelope shapes.
package model

import "time"

// OrderType is the venue's order-type enumeration.
type OrderType int

const (
	Market OrderType = iota
	Limit
	StopMarket
	StopLimit
)

func (t OrderType) String() string {
	switch t {
	case Market:
		return "market"
	case Limit:
		return "limit"
	case StopMarket:
		return "stop_market"
	case StopLimit:
		return "stop_limit"
	default:
		return "limit"
	}
}

// Direction is buy or sell.
type Direction int

const (
	Buy Direction = iota
	Sell
)

func (d Direction) String() string {
	if d == Sell {
		return "sell"
	}
	return "buy"
}

// TimeInForce is the venue's time-in-force enumeration.
type TimeInForce int

const (
	GoodTilCancelled TimeInForce = iota
	FillOrKill
	ImmediateOrCancel
)

func (f TimeInForce) String() string {
	switch f {
	case FillOrKill:
		return "fill_or_kill"
	case ImmediateOrCancel:
		return "immediate_or_cancel"
	default:
		return "good_til_cancelled"
	}
}

// OpenOrderStates are the statuses that keep an order in the open-orders
// cache. Any other status removes it.
var OpenOrderStates = map[string]bool{
	"open":        true,
	"untriggered": true,
}

// Credentials tracks the venue bearer-token lifecycle for one session.
//
// Invariant: if Authenticated is true then TokenExpiry is meaningful and
// RefreshToken is non-empty.
type Credentials struct {
	APIKey       string
	APISecret    string
	AccessToken  string
	RefreshToken string
	TokenExpiry  time.Time
	Authenticated bool
}

// Order mirrors the venue's order resource as tracked by the open-orders
// cache.
type Order struct {
	OrderID        string
	InstrumentName string
	Type           OrderType
	Direction      Direction
	Price          float64
	Amount         float64
	TimeInForce    TimeInForce
	Status         string
	CreatedAt      int64 // venue creation_timestamp, ms since epoch
	LastUpdatedAt  int64 // ms since epoch
}

// IsOpen reports whether status keeps the order in the open-orders cache.
func (o Order) IsOpen() bool {
	return OpenOrderStates[o.Status]
}

// Position is replaced wholesale on every refresh or push; never patched.
type Position struct {
	InstrumentName   string
	Size             float64
	EntryPrice       float64
	MarkPrice        float64
	LiquidationPrice float64
	UnrealizedPNL    float64
	RealizedPNL      float64
}

// PriceLevel is one (price, size) entry of an order book side.
type PriceLevel struct {
	Price float64
	Size  float64
}

// OrderBook is replaced wholesale per update; no delta merge in the core.
// Bids are sorted descending by price, asks ascending, ties broken by
// upstream order.
type OrderBook struct {
	InstrumentName string
	Bids           []PriceLevel
	Asks           []PriceLevel
	Timestamp      string
}

// Clone returns a deep copy so callers can hand out OrderBook values
// without sharing the backing slices with the cache.
func (b OrderBook) Clone() OrderBook {
	out := b
	out.Bids = append([]PriceLevel(nil), b.Bids...)
	out.Asks = append([]PriceLevel(nil), b.Asks...)
	return out
}

// ApiResponse is the result of a one-shot or private JSON-RPC call.
// Data carries the raw dynamic result payload on success.
type ApiResponse struct {
	Success      bool
	Data         *Dynamic
	ErrorMessage string
}
