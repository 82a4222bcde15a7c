package broadcast

import "encoding/json"

// inboundMessage is the shape of a message a local subscriber sends
// over its connection: subscribe/unsubscribe by channel name.
type inboundMessage struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

func parseInbound(raw []byte) (inboundMessage, error) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return inboundMessage{}, err
	}
	return msg, nil
}

func welcomeFrame(connectionID string) []byte {
	return mustMarshal(map[string]interface{}{
		"type":          "welcome",
		"message":       "Welcome to Deribit Trading System WebSocket Server",
		"connection_id": connectionID,
	})
}

func subscribedFrame(channel string) []byte {
	return mustMarshal(map[string]interface{}{
		"type":    "subscribed",
		"channel": channel,
	})
}

func unsubscribedFrame(channel string) []byte {
	return mustMarshal(map[string]interface{}{
		"type":    "unsubscribed",
		"channel": channel,
	})
}

func errorFrame(message string) []byte {
	return mustMarshal(map[string]interface{}{
		"type":    "error",
		"message": message,
	})
}

// orderbookFrame builds the {"type":"orderbook", instrument_name,
// timestamp, bids, asks} wire shape local subscribers receive, both
// for live updates and for the one-shot snapshot sent right after a
// subscribe acknowledgment.
func orderbookFrame(instrument string, timestamp int64, bids, asks [][]float64) []byte {
	return mustMarshal(map[string]interface{}{
		"type":            "orderbook",
		"instrument_name": instrument,
		"timestamp":       timestamp,
		"bids":            bids,
		"asks":            asks,
	})
}

// orderbookSnapshotFrame tags an already-built payload (as returned by
// a SnapshotProvider) with the same "orderbook" type and re-encodes it.
func orderbookSnapshotFrame(data map[string]interface{}) []byte {
	tagged := make(map[string]interface{}, len(data)+1)
	for k, v := range data {
		tagged[k] = v
	}
	tagged["type"] = "orderbook"
	return mustMarshal(tagged)
}

func mustMarshal(v interface{}) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"type":"error","message":"internal encode failure"}`)
	}
	return raw
}
