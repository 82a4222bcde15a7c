package session

import (
	"encoding/json"
	"fmt"

	"deribit-gateway/internal/model"
)

// rpcRequest is the JSON-RPC 2.0 envelope shared by both transports.
type rpcRequest struct {
	JSONRPC string                 `json:"jsonrpc"`
	ID      int64                  `json:"id"`
	Method  string                 `json:"method"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

func buildEnvelope(id int64, method string, params map[string]interface{}) ([]byte, error) {
	return json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
}

// rpcOutcome is the parsed shape of an inbound frame, using the
// dynamic-value library for fields whose presence and shape vary by
// method.
type rpcOutcome struct {
	isNotification bool
	channel        string
	data           *model.Dynamic

	hasResult bool
	result    *model.Dynamic

	hasError     bool
	errorMessage string
}

func parseFrame(raw []byte) (rpcOutcome, error) {
	doc, err := model.NewDynamic(raw)
	if err != nil {
		return rpcOutcome{}, fmt.Errorf("%w: %v", model.ErrProtocol, err)
	}

	if method, err := doc.Get("method").String(); err == nil && method == "subscription" {
		params := doc.Get("params")
		if channel, err := params.Get("channel").String(); err == nil && channel != "" {
			return rpcOutcome{
				isNotification: true,
				channel:        channel,
				data:           params.Get("data"),
			}, nil
		}
		return rpcOutcome{}, fmt.Errorf("%w: subscription frame missing params.channel", model.ErrProtocol)
	}

	if errNode, ok := doc.CheckGet("error"); ok {
		msg, _ := errNode.Get("message").String()
		if msg == "" {
			msg = "venue error"
		}
		return rpcOutcome{hasError: true, errorMessage: msg}, nil
	}

	if resultNode, ok := doc.CheckGet("result"); ok {
		return rpcOutcome{hasResult: true, result: resultNode}, nil
	}

	return rpcOutcome{}, fmt.Errorf("%w: frame has neither result nor error", model.ErrProtocol)
}

func apiResponseFromBody(raw []byte) model.ApiResponse {
	doc, err := model.NewDynamic(raw)
	if err != nil {
		return model.ApiResponse{Success: false, ErrorMessage: fmt.Sprintf("invalid JSON response: %v", err)}
	}
	if errNode, ok := doc.CheckGet("error"); ok {
		msg, _ := errNode.Get("message").String()
		if msg == "" {
			msg = "venue error"
		}
		return model.ApiResponse{Success: false, ErrorMessage: msg}
	}
	result := doc.Get("result")
	return model.ApiResponse{Success: true, Data: result}
}
