package coordinator

import (
	"context"
	"fmt"

	"deribit-gateway/internal/logger"
	"deribit-gateway/internal/model"
)

// onOrderPush feeds a user.orders.* notification into the open-orders
// cache. Runs on the session's dispatch worker, never on the caller.
func (c *Coordinator) onOrderPush(channel string, data *model.Dynamic) {
	c.st.HandleOrderUpdate(data)
}

// onPositionPush feeds a user.portfolio.* notification into the
// positions cache.
func (c *Coordinator) onPositionPush(channel string, data *model.Dynamic) {
	c.st.HandlePositionUpdate(data)
}

// onBookPush fans a book.*.100ms upstream notification out to local
// "orderbook."-namespaced subscribers. It never blocks on the upstream
// session: broadcasting only touches the broadcast server's own locks.
func (c *Coordinator) onBookPush(channel string, data *model.Dynamic) {
	scope := c.lat.GetTracker("coordinator.book_push", true, 1000).Begin()
	defer scope.End()

	instrument := instrumentFromUpstreamBookChannel(channel)
	if instrument == "" {
		return
	}

	timestamp, _ := data.Get("timestamp").Int64()
	bids := rawLevels(data.Get("bids"))
	asks := rawLevels(data.Get("asks"))
	c.srv.HandleOrderbookUpdate(instrument, timestamp, bids, asks)

	if c.writeThroughBooks {
		c.st.WriteOrderbook(bookFromPush(instrument, data))
	}
}

// snapshotFor backs the broadcast server's catch-up path for a fresh
// local subscriber: a read-through GetOrderbook call, so a subscriber
// gets a snapshot even for an instrument the book cache has not been
// populated for yet. channel is the local "orderbook."-namespaced
// channel, not the upstream venue subscription channel.
func (c *Coordinator) snapshotFor(channel string) (map[string]interface{}, bool) {
	instrument := instrumentFromLocalOrderbookChannel(channel)
	if instrument == "" {
		return nil, false
	}
	book, err := c.st.GetOrderbook(context.Background(), instrument, 0)
	if err != nil {
		c.log.WithFields(logger.Fields{"instrument": instrument}).WithError(err).Warn("failed to fetch snapshot for fresh subscriber")
		return nil, false
	}
	return orderBookPayload(book), true
}

// instrumentFromUpstreamBookChannel parses Deribit's own push channel
// name, e.g. "book.BTC-PERPETUAL.100ms".
func instrumentFromUpstreamBookChannel(channel string) string {
	const prefix = "book."
	const suffix = ".100ms"
	if len(channel) <= len(prefix)+len(suffix) {
		return ""
	}
	if channel[:len(prefix)] != prefix || channel[len(channel)-len(suffix):] != suffix {
		return ""
	}
	return channel[len(prefix) : len(channel)-len(suffix)]
}

// instrumentFromLocalOrderbookChannel parses the local distribution
// channel name local subscribers use, e.g. "orderbook.BTC-PERPETUAL".
func instrumentFromLocalOrderbookChannel(channel string) string {
	const prefix = "orderbook."
	if len(channel) <= len(prefix) {
		return ""
	}
	if channel[:len(prefix)] != prefix {
		return ""
	}
	return channel[len(prefix):]
}

func rawLevels(arr *model.Dynamic) [][]float64 {
	rows, err := arr.Array()
	if err != nil {
		return nil
	}
	out := make([][]float64, 0, len(rows))
	for i := range rows {
		pair, err := arr.GetIndex(i).Array()
		if err != nil || len(pair) < 2 {
			continue
		}
		price, _ := arr.GetIndex(i).GetIndex(0).Float64()
		size, _ := arr.GetIndex(i).GetIndex(1).Float64()
		out = append(out, []float64{price, size})
	}
	return out
}

func bookFromPush(instrument string, data *model.Dynamic) model.OrderBook {
	timestamp, err := data.Get("timestamp").Int64()
	ts := ""
	if err == nil {
		ts = fmt.Sprintf("%d", timestamp)
	}
	return model.OrderBook{
		InstrumentName: instrument,
		Timestamp:      ts,
		Bids:           levelsFromPush(data.Get("bids")),
		Asks:           levelsFromPush(data.Get("asks")),
	}
}

func levelsFromPush(arr *model.Dynamic) []model.PriceLevel {
	rows, err := arr.Array()
	if err != nil {
		return nil
	}
	out := make([]model.PriceLevel, 0, len(rows))
	for i := range rows {
		pair, err := arr.GetIndex(i).Array()
		if err != nil || len(pair) < 2 {
			continue
		}
		price, _ := arr.GetIndex(i).GetIndex(0).Float64()
		size, _ := arr.GetIndex(i).GetIndex(1).Float64()
		out = append(out, model.PriceLevel{Price: price, Size: size})
	}
	return out
}

func orderBookPayload(book model.OrderBook) map[string]interface{} {
	bids := make([][]float64, 0, len(book.Bids))
	for _, lvl := range book.Bids {
		bids = append(bids, []float64{lvl.Price, lvl.Size})
	}
	asks := make([][]float64, 0, len(book.Asks))
	for _, lvl := range book.Asks {
		asks = append(asks, []float64{lvl.Price, lvl.Size})
	}
	return map[string]interface{}{
		"instrument_name": book.InstrumentName,
		"timestamp":       book.Timestamp,
		"bids":            bids,
		"asks":            asks,
	}
}
