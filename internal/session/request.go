package session

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"deribit-gateway/internal/logger"
	"deribit-gateway/internal/model"
)

// PublicRequest performs a one-shot HTTPS JSON-RPC call. It never
// returns a Go error for venue/transport failures — those are carried
// in the returned ApiResponse so callers never need a type switch on
// error causes. Each call opens its own request; there is no connection
// reuse requirement beyond the shared *http.Client's pool.
func (s *Session) PublicRequest(ctx context.Context, method string, params map[string]interface{}) model.ApiResponse {
	scope := s.lat.GetTracker("session.public_request", true, 1000).Begin()
	defer scope.End()

	if err := s.limiter.Wait(ctx); err != nil {
		return model.ApiResponse{Success: false, ErrorMessage: fmt.Sprintf("rate limiter: %v", err)}
	}

	id := s.nextID.Add(1)
	body, err := buildEnvelope(id, method, params)
	if err != nil {
		return model.ApiResponse{Success: false, ErrorMessage: fmt.Sprintf("encode request: %v", err)}
	}

	url := s.apiURL + "/api/v2/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return model.ApiResponse{Success: false, ErrorMessage: fmt.Sprintf("%v: %v", model.ErrTransport, err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.log.WithError(err).WithFields(logger.Fields{"method": method}).Warn("HTTPS request failed")
		return model.ApiResponse{Success: false, ErrorMessage: fmt.Sprintf("%v: %v", model.ErrTransport, err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.ApiResponse{Success: false, ErrorMessage: fmt.Sprintf("%v: %v", model.ErrTransport, err)}
	}

	out := apiResponseFromBody(raw)
	if !out.Success {
		s.log.WithFields(logger.Fields{"method": method, "error": out.ErrorMessage}).Warn("venue returned an error")
	}
	return out
}

// PrivateRequest requires prior authentication. If the access token is
// stale it refreshes first; a refresh failure surfaces as
// ApiResponse{false, ...} without retrying.
func (s *Session) PrivateRequest(ctx context.Context, method string, params map[string]interface{}) model.ApiResponse {
	token, err := s.accessTokenFor(ctx)
	if err != nil {
		return model.ApiResponse{Success: false, ErrorMessage: err.Error()}
	}

	if params == nil {
		params = map[string]interface{}{}
	}
	params["access_token"] = token
	return s.PublicRequest(ctx, method, params)
}
