package store

import (
	"context"
	"fmt"

	"deribit-gateway/internal/model"
)

// GetOrderbook returns the cached book unchanged if this instrument is
// already present, with no staleness check. A cache miss calls
// public/get_order_book once and stores the result; the book cache
// never evicts an instrument once populated.
func (st *Store) GetOrderbook(ctx context.Context, instrument string, depth int) (model.OrderBook, error) {
	st.booksMu.RLock()
	if book, ok := st.books[instrument]; ok {
		st.booksMu.RUnlock()
		return book.Clone(), nil
	}
	st.booksMu.RUnlock()

	if depth <= 0 {
		depth = 10
	}

	resp := st.upstream.PublicRequest(ctx, "public/get_order_book", map[string]interface{}{
		"instrument_name": instrument,
		"depth":           depth,
	})
	if !resp.Success {
		return model.OrderBook{}, fmt.Errorf("%w: %s", model.ErrVenue, resp.ErrorMessage)
	}

	book := bookFromDynamic(instrument, resp.Data)

	st.booksMu.Lock()
	st.books[instrument] = book
	st.booksMu.Unlock()

	return book.Clone(), nil
}

// PeekOrderbook returns the cached book for instrument without ever
// calling upstream. Used by callers that need a non-blocking read,
// such as catching a fresh broadcast subscriber up on current state.
func (st *Store) PeekOrderbook(instrument string) (model.OrderBook, bool) {
	st.booksMu.RLock()
	defer st.booksMu.RUnlock()
	book, ok := st.books[instrument]
	if !ok {
		return model.OrderBook{}, false
	}
	return book.Clone(), true
}

// WriteOrderbook overwrites the cached book wholesale. Exposed for the
// coordinator's optional push-to-cache wiring; the core read-through
// path above never calls it from a push handler.
func (st *Store) WriteOrderbook(book model.OrderBook) {
	st.booksMu.Lock()
	st.books[book.InstrumentName] = book
	st.booksMu.Unlock()
}

func bookFromDynamic(instrument string, node *model.Dynamic) model.OrderBook {
	timestamp, err := node.Get("timestamp").Int64()
	ts := ""
	if err == nil {
		ts = fmt.Sprintf("%d", timestamp)
	}

	bids := levelsFromDynamic(node.Get("bids"))
	asks := levelsFromDynamic(node.Get("asks"))

	return model.OrderBook{
		InstrumentName: instrument,
		Timestamp:      ts,
		Bids:           bids,
		Asks:           asks,
	}
}

func levelsFromDynamic(arr *model.Dynamic) []model.PriceLevel {
	rows, err := arr.Array()
	if err != nil {
		return nil
	}
	levels := make([]model.PriceLevel, 0, len(rows))
	for i := range rows {
		pair, err := arr.GetIndex(i).Array()
		if err != nil || len(pair) < 2 {
			continue
		}
		price, _ := arr.GetIndex(i).GetIndex(0).Float64()
		size, _ := arr.GetIndex(i).GetIndex(1).Float64()
		levels = append(levels, model.PriceLevel{Price: price, Size: size})
	}
	return levels
}
