package store

import (
	"context"
	"fmt"

	"deribit-gateway/internal/model"
)

// GetPositions is a cache-first snapshot read, refreshing from the
// venue on an empty cache. Positions are replaced wholesale, never
// partially patched.
func (st *Store) GetPositions(ctx context.Context, currency string) ([]model.Position, error) {
	st.positionsMu.RLock()
	if len(st.positions) > 0 {
		out := snapshotPositions(st.positions)
		st.positionsMu.RUnlock()
		return out, nil
	}
	st.positionsMu.RUnlock()

	resp := st.upstream.PrivateRequest(ctx, "private/get_positions", map[string]interface{}{"currency": currency})
	if !resp.Success {
		return nil, fmt.Errorf("%w: %s", model.ErrVenue, resp.ErrorMessage)
	}

	items, err := resp.Data.Array()
	if err != nil {
		return nil, err
	}

	st.positionsMu.Lock()
	for i := range items {
		p := positionFromDynamic(resp.Data.GetIndex(i))
		st.positions[p.InstrumentName] = p
	}
	out := snapshotPositions(st.positions)
	st.positionsMu.Unlock()

	return out, nil
}

// GetPosition is a cache-first lookup by instrument.
func (st *Store) GetPosition(ctx context.Context, instrument string) (model.Position, bool, error) {
	st.positionsMu.RLock()
	if p, ok := st.positions[instrument]; ok {
		st.positionsMu.RUnlock()
		return p, true, nil
	}
	st.positionsMu.RUnlock()

	resp := st.upstream.PrivateRequest(ctx, "private/get_position", map[string]interface{}{"instrument_name": instrument})
	if !resp.Success {
		return model.Position{}, false, fmt.Errorf("%w: %s", model.ErrVenue, resp.ErrorMessage)
	}

	p := positionFromDynamic(resp.Data)
	if p.InstrumentName == "" {
		return model.Position{}, false, nil
	}

	st.positionsMu.Lock()
	st.positions[p.InstrumentName] = p
	st.positionsMu.Unlock()

	return p, true, nil
}

// HandlePositionUpdate replaces a position wholesale from an upstream
// push.
func (st *Store) HandlePositionUpdate(push *model.Dynamic) {
	p := positionFromDynamic(push)
	if p.InstrumentName == "" {
		return
	}
	st.positionsMu.Lock()
	st.positions[p.InstrumentName] = p
	st.positionsMu.Unlock()
}

func positionFromDynamic(node *model.Dynamic) model.Position {
	instrument, _ := node.Get("instrument_name").String()
	size, _ := node.Get("size").Float64()
	entry, _ := node.Get("average_price").Float64()
	mark, _ := node.Get("mark_price").Float64()
	liq, _ := node.Get("estimated_liquidation_price").Float64()
	upnl, _ := node.Get("floating_profit_loss").Float64()
	rpnl, _ := node.Get("realized_profit_loss").Float64()

	return model.Position{
		InstrumentName:   instrument,
		Size:             size,
		EntryPrice:       entry,
		MarkPrice:        mark,
		LiquidationPrice: liq,
		UnrealizedPNL:    upnl,
		RealizedPNL:      rpnl,
	}
}

func snapshotPositions(m map[string]model.Position) []model.Position {
	out := make([]model.Position, 0, len(m))
	for _, p := range m {
		out = append(out, p)
	}
	return out
}
