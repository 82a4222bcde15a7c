package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"deribit-gateway/internal/model"
)

// PlaceOrder validates preconditions, submits private/buy (the venue's
// side discriminator carries the direction for both buy and sell orders),
// and on success inserts the order into the open-orders cache.
//
// Preconditions violated or a venue error return an empty id and a
// non-nil error; the cache is left untouched either way.
func (st *Store) PlaceOrder(
	ctx context.Context,
	instrument string,
	orderType model.OrderType,
	direction model.Direction,
	amount float64,
	price float64,
	tif model.TimeInForce,
) (string, error) {
	if instrument == "" || amount <= 0 {
		return "", model.ErrInvalidArgument
	}
	if (orderType == model.Limit || orderType == model.StopLimit) && price <= 0 {
		return "", model.ErrInvalidArgument
	}

	params := map[string]interface{}{
		"instrument_name": instrument,
		"amount":          amount,
		"type":            orderType.String(),
		"side":            direction.String(),
		"label":           uuid.NewString(),
		"time_in_force":   tif.String(),
	}
	if price > 0 {
		params["price"] = price
	}

	scope := st.lat.GetTracker("store.place_order", true, 1000).Begin()
	resp := st.upstream.PrivateRequest(ctx, "private/buy", params)
	scope.End()

	if !resp.Success {
		st.log.WithError(fmt.Errorf("%w: %s", model.ErrVenue, resp.ErrorMessage)).Warn("place_order rejected by venue")
		return "", fmt.Errorf("%w: %s", model.ErrVenue, resp.ErrorMessage)
	}

	orderID, err := resp.Data.GetPath("order", "order_id").String()
	if err != nil || orderID == "" {
		return "", fmt.Errorf("%w: venue response missing order_id", model.ErrVenue)
	}
	createdAt, _ := resp.Data.GetPath("order", "creation_timestamp").Int64()

	order := model.Order{
		OrderID:        orderID,
		InstrumentName: instrument,
		Type:           orderType,
		Direction:      direction,
		Price:          price,
		Amount:         amount,
		TimeInForce:    tif,
		Status:         "open",
		CreatedAt:      createdAt,
		LastUpdatedAt:  createdAt,
	}

	st.ordersMu.Lock()
	st.orders[orderID] = order
	st.ordersMu.Unlock()

	return orderID, nil
}

// CancelOrder sends private/cancel; on success the order is evicted
// from the open-orders cache.
func (st *Store) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	if orderID == "" {
		return false, model.ErrInvalidArgument
	}

	resp := st.upstream.PrivateRequest(ctx, "private/cancel", map[string]interface{}{"order_id": orderID})
	if !resp.Success {
		return false, fmt.Errorf("%w: %s", model.ErrVenue, resp.ErrorMessage)
	}

	st.ordersMu.Lock()
	delete(st.orders, orderID)
	st.ordersMu.Unlock()

	return true, nil
}

// ModifyOrder requires at least one of amount/price to be positive. On
// success the cached order is patched and LastUpdatedAt refreshed to
// wall-clock time.
func (st *Store) ModifyOrder(ctx context.Context, orderID string, amount, price float64) (bool, error) {
	if orderID == "" || (amount <= 0 && price <= 0) {
		return false, model.ErrInvalidArgument
	}

	params := map[string]interface{}{"order_id": orderID}
	if amount > 0 {
		params["amount"] = amount
	}
	if price > 0 {
		params["price"] = price
	}

	resp := st.upstream.PrivateRequest(ctx, "private/edit", params)
	if !resp.Success {
		return false, fmt.Errorf("%w: %s", model.ErrVenue, resp.ErrorMessage)
	}

	st.ordersMu.Lock()
	if order, ok := st.orders[orderID]; ok {
		if amount > 0 {
			order.Amount = amount
		}
		if price > 0 {
			order.Price = price
		}
		order.LastUpdatedAt = nowMillis()
		st.orders[orderID] = order
	}
	st.ordersMu.Unlock()

	return true, nil
}

// GetOpenOrders returns a cache-first snapshot, refreshing from the
// venue on an empty cache.
func (st *Store) GetOpenOrders(ctx context.Context, currency string) ([]model.Order, error) {
	st.ordersMu.RLock()
	if len(st.orders) > 0 {
		out := snapshotOrders(st.orders)
		st.ordersMu.RUnlock()
		return out, nil
	}
	st.ordersMu.RUnlock()

	resp := st.upstream.PrivateRequest(ctx, "private/get_open_orders_by_currency", map[string]interface{}{"currency": currency})
	if !resp.Success {
		return nil, fmt.Errorf("%w: %s", model.ErrVenue, resp.ErrorMessage)
	}

	items, err := resp.Data.Array()
	if err != nil {
		return nil, err
	}

	st.ordersMu.Lock()
	for i := range items {
		node := resp.Data.GetIndex(i)
		order := orderFromDynamic(node)
		if order.IsOpen() {
			st.orders[order.OrderID] = order
		}
	}
	out := snapshotOrders(st.orders)
	st.ordersMu.Unlock()

	return out, nil
}

// GetOrder is a cache-first lookup by id, falling back to
// private/get_order_state. Orders whose status is not open/untriggered
// are not written back into the cache.
func (st *Store) GetOrder(ctx context.Context, orderID string) (model.Order, bool, error) {
	st.ordersMu.RLock()
	if order, ok := st.orders[orderID]; ok {
		st.ordersMu.RUnlock()
		return order, true, nil
	}
	st.ordersMu.RUnlock()

	resp := st.upstream.PrivateRequest(ctx, "private/get_order_state", map[string]interface{}{"order_id": orderID})
	if !resp.Success {
		return model.Order{}, false, fmt.Errorf("%w: %s", model.ErrVenue, resp.ErrorMessage)
	}

	order := orderFromDynamic(resp.Data)
	if order.OrderID == "" {
		return model.Order{}, false, nil
	}
	if order.IsOpen() {
		st.ordersMu.Lock()
		st.orders[order.OrderID] = order
		st.ordersMu.Unlock()
	}
	return order, true, nil
}

// HandleOrderUpdate applies an upstream push to the open-orders cache:
// upsert on open/untriggered, otherwise remove. This is the only path
// by which the cache shrinks without an explicit cancel reply.
func (st *Store) HandleOrderUpdate(push *model.Dynamic) {
	order := orderFromDynamic(push)
	if order.OrderID == "" {
		return
	}

	st.ordersMu.Lock()
	defer st.ordersMu.Unlock()
	if order.IsOpen() {
		st.orders[order.OrderID] = order
	} else {
		delete(st.orders, order.OrderID)
	}
}

func orderFromDynamic(node *model.Dynamic) model.Order {
	orderID, _ := node.Get("order_id").String()
	instrument, _ := node.Get("instrument_name").String()
	status, _ := node.Get("order_state").String()
	if status == "" {
		status, _ = node.Get("status").String()
	}
	price, _ := node.Get("price").Float64()
	amount, _ := node.Get("amount").Float64()
	createdAt, _ := node.Get("creation_timestamp").Int64()
	updatedAt, _ := node.Get("last_update_timestamp").Int64()

	return model.Order{
		OrderID:        orderID,
		InstrumentName: instrument,
		Price:          price,
		Amount:         amount,
		Status:         status,
		CreatedAt:      createdAt,
		LastUpdatedAt:  updatedAt,
	}
}

func snapshotOrders(m map[string]model.Order) []model.Order {
	out := make([]model.Order, 0, len(m))
	for _, o := range m {
		out = append(out, o)
	}
	return out
}
