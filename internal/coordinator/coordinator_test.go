package coordinator

import (
	"context"
	"encoding/json"
	"testing"

	"deribit-gateway/internal/broadcast"
	"deribit-gateway/internal/latency"
	"deribit-gateway/internal/model"
	"deribit-gateway/internal/session"
	"deribit-gateway/internal/store"
)

type fakeSession struct {
	connectCalls int
	subscribed   map[string]session.PushCallback
	authed       bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{subscribed: make(map[string]session.PushCallback)}
}

func (f *fakeSession) Initialize() error { return nil }
func (f *fakeSession) IsAuthenticated() bool { return f.authed }
func (f *fakeSession) Authenticate(ctx context.Context) model.ApiResponse {
	f.authed = true
	return model.ApiResponse{Success: true}
}
func (f *fakeSession) ConnectWebsocket(ctx context.Context) error {
	f.connectCalls++
	return nil
}
func (f *fakeSession) DisconnectWebsocket() {}
func (f *fakeSession) Subscribe(channel string, cb session.PushCallback) error {
	f.subscribed[channel] = cb
	return nil
}
func (f *fakeSession) Unsubscribe(channel string) error {
	delete(f.subscribed, channel)
	return nil
}
func (f *fakeSession) Close() {}

type fakeStoreUpstream struct {
	public func(ctx context.Context, method string, params map[string]interface{}) model.ApiResponse
}

func (f fakeStoreUpstream) PublicRequest(ctx context.Context, method string, params map[string]interface{}) model.ApiResponse {
	if f.public != nil {
		return f.public(ctx, method, params)
	}
	return model.ApiResponse{Success: false, ErrorMessage: "not implemented"}
}
func (fakeStoreUpstream) PrivateRequest(ctx context.Context, method string, params map[string]interface{}) model.ApiResponse {
	return model.ApiResponse{Success: false, ErrorMessage: "not implemented"}
}

func dynamicFrom(t *testing.T, v interface{}) *model.Dynamic {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	d, err := model.NewDynamic(raw)
	if err != nil {
		t.Fatalf("NewDynamic: %v", err)
	}
	return d
}

func TestStartIsIdempotent(t *testing.T) {
	fs := newFakeSession()
	st := store.New(fakeStoreUpstream{}, latency.NewRegistry())
	srv := broadcast.New()
	c := New(fs, st, srv, latency.NewRegistry(), "BTC")

	if err := c.Start(context.Background(), "127.0.0.1:0"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Start(context.Background(), "127.0.0.1:0"); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if fs.connectCalls != 1 {
		t.Fatalf("want 1 connect call, got %d", fs.connectCalls)
	}
	_ = c.Stop(context.Background())
}

func TestStopIsIdempotent(t *testing.T) {
	fs := newFakeSession()
	st := store.New(fakeStoreUpstream{}, latency.NewRegistry())
	srv := broadcast.New()
	c := New(fs, st, srv, latency.NewRegistry(), "BTC")

	if err := c.Start(context.Background(), "127.0.0.1:0"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestSubscribeMarketDataRegistersChannel(t *testing.T) {
	fs := newFakeSession()
	st := store.New(fakeStoreUpstream{}, latency.NewRegistry())
	srv := broadcast.New()
	c := New(fs, st, srv, latency.NewRegistry(), "BTC")

	if err := c.SubscribeMarketData("BTC-PERPETUAL"); err != nil {
		t.Fatalf("SubscribeMarketData: %v", err)
	}
	if _, ok := fs.subscribed["book.BTC-PERPETUAL.100ms"]; !ok {
		t.Fatalf("want channel registered with upstream session")
	}
}

func TestOnBookPushWithWriteThroughPopulatesCache(t *testing.T) {
	fs := newFakeSession()
	st := store.New(fakeStoreUpstream{}, latency.NewRegistry())
	srv := broadcast.New()
	c := New(fs, st, srv, latency.NewRegistry(), "BTC", WithWriteThroughBooks(true))

	push := dynamicFrom(t, map[string]interface{}{
		"timestamp": 1700000000000,
		"bids":      [][]float64{{100, 1}},
		"asks":      [][]float64{{101, 2}},
	})

	c.onBookPush("book.BTC-PERPETUAL.100ms", push)

	book, ok := st.PeekOrderbook("BTC-PERPETUAL")
	if !ok {
		t.Fatalf("want book written through to cache")
	}
	if len(book.Bids) != 1 || book.Bids[0].Price != 100 {
		t.Fatalf("unexpected book contents: %+v", book)
	}
}

func TestOnBookPushWithoutWriteThroughLeavesCacheEmpty(t *testing.T) {
	fs := newFakeSession()
	st := store.New(fakeStoreUpstream{}, latency.NewRegistry())
	srv := broadcast.New()
	c := New(fs, st, srv, latency.NewRegistry(), "BTC")

	push := dynamicFrom(t, map[string]interface{}{
		"timestamp": 1700000000000,
		"bids":      [][]float64{{100, 1}},
		"asks":      [][]float64{{101, 2}},
	})

	c.onBookPush("book.BTC-PERPETUAL.100ms", push)

	if _, ok := st.PeekOrderbook("BTC-PERPETUAL"); ok {
		t.Fatalf("want cache untouched when write-through is disabled")
	}
}

func TestOnOrderPushUpdatesStore(t *testing.T) {
	fs := newFakeSession()
	st := store.New(fakeStoreUpstream{}, latency.NewRegistry())
	srv := broadcast.New()
	c := New(fs, st, srv, latency.NewRegistry(), "BTC")

	push := dynamicFrom(t, map[string]interface{}{
		"order_id":        "o-9",
		"instrument_name": "BTC-PERPETUAL",
		"order_state":     "open",
	})
	c.onOrderPush("user.orders.BTC.any.raw", push)

	order, found, err := st.GetOrder(context.Background(), "o-9")
	if err != nil || !found {
		t.Fatalf("want order cached, got found=%v err=%v", found, err)
	}
	if order.InstrumentName != "BTC-PERPETUAL" {
		t.Fatalf("unexpected order: %+v", order)
	}
}

func TestOnPositionPushUpdatesStore(t *testing.T) {
	fs := newFakeSession()
	st := store.New(fakeStoreUpstream{}, latency.NewRegistry())
	srv := broadcast.New()
	c := New(fs, st, srv, latency.NewRegistry(), "BTC")

	push := dynamicFrom(t, map[string]interface{}{
		"instrument_name": "BTC-PERPETUAL",
		"size":            5.0,
	})
	c.onPositionPush("user.portfolio.BTC", push)

	pos, found, err := st.GetPosition(context.Background(), "BTC-PERPETUAL")
	if err != nil || !found {
		t.Fatalf("want position cached, got found=%v err=%v", found, err)
	}
	if pos.Size != 5 {
		t.Fatalf("unexpected position: %+v", pos)
	}
}

func TestSnapshotForReturnsCachedBook(t *testing.T) {
	fs := newFakeSession()
	st := store.New(fakeStoreUpstream{}, latency.NewRegistry())
	srv := broadcast.New()
	c := New(fs, st, srv, latency.NewRegistry(), "BTC", WithWriteThroughBooks(true))

	push := dynamicFrom(t, map[string]interface{}{
		"timestamp": 1700000000000,
		"bids":      [][]float64{{100, 1}},
		"asks":      [][]float64{{101, 2}},
	})
	c.onBookPush("book.BTC-PERPETUAL.100ms", push)

	payload, ok := c.snapshotFor("orderbook.BTC-PERPETUAL")
	if !ok {
		t.Fatalf("want snapshot for populated channel")
	}
	if payload["instrument_name"] != "BTC-PERPETUAL" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestSnapshotForReadsThroughForUnpopulatedInstrument(t *testing.T) {
	fs := newFakeSession()
	up := fakeStoreUpstream{
		public: func(ctx context.Context, method string, params map[string]interface{}) model.ApiResponse {
			if method != "public/get_order_book" {
				t.Fatalf("unexpected method %s", method)
			}
			return model.ApiResponse{Success: true, Data: dynamicFrom(t, map[string]interface{}{
				"timestamp": 1700000000000,
				"bids":      [][]float64{{100, 1}},
				"asks":      [][]float64{{101, 2}},
			})}
		},
	}
	st := store.New(up, latency.NewRegistry())
	srv := broadcast.New()
	c := New(fs, st, srv, latency.NewRegistry(), "BTC")

	payload, ok := c.snapshotFor("orderbook.ETH-PERPETUAL")
	if !ok {
		t.Fatalf("want snapshot fetched through the store even with no prior push")
	}
	if payload["instrument_name"] != "ETH-PERPETUAL" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestSnapshotForReportsNoSnapshotOnUpstreamFailure(t *testing.T) {
	fs := newFakeSession()
	up := fakeStoreUpstream{
		public: func(ctx context.Context, method string, params map[string]interface{}) model.ApiResponse {
			return model.ApiResponse{Success: false, ErrorMessage: "no such instrument"}
		},
	}
	st := store.New(up, latency.NewRegistry())
	srv := broadcast.New()
	c := New(fs, st, srv, latency.NewRegistry(), "BTC")

	if _, ok := c.snapshotFor("orderbook.DOES-NOT-EXIST"); ok {
		t.Fatalf("want no snapshot when the read-through call fails")
	}
}
