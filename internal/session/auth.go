package session

import (
	"context"
	"time"

	"deribit-gateway/internal/model"
)

// Authenticate exchanges (api_key, api_secret) for an access/refresh
// token pair via the client_credentials grant. On success it records
// the token expiry and flips Authenticated to true.
func (s *Session) Authenticate(ctx context.Context) model.ApiResponse {
	s.authMu.Lock()
	apiKey, apiSecret := s.creds.APIKey, s.creds.APISecret
	s.authMu.Unlock()

	resp := s.PublicRequest(ctx, "public/auth", map[string]interface{}{
		"grant_type":    "client_credentials",
		"client_id":     apiKey,
		"client_secret": apiSecret,
	})
	if !resp.Success {
		return resp
	}
	s.applyTokenResponse(resp)
	return resp
}

// refresh performs the refresh_token grant. On failure it flips
// Authenticated to false so the next private call surfaces the state
// rather than looping.
func (s *Session) refresh(ctx context.Context) error {
	s.authMu.Lock()
	refreshToken := s.creds.RefreshToken
	s.authMu.Unlock()

	resp := s.PublicRequest(ctx, "public/auth", map[string]interface{}{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
	})
	if !resp.Success {
		s.authMu.Lock()
		s.creds.Authenticated = false
		s.authMu.Unlock()
		return model.ErrRefreshFailed
	}
	s.applyTokenResponse(resp)
	return nil
}

func (s *Session) applyTokenResponse(resp model.ApiResponse) {
	accessToken, _ := resp.Data.Get("access_token").String()
	refreshToken, _ := resp.Data.Get("refresh_token").String()
	expiresIn, err := resp.Data.Get("expires_in").Int()
	if err != nil {
		expiresIn = 0
	}

	s.authMu.Lock()
	s.creds.AccessToken = accessToken
	s.creds.RefreshToken = refreshToken
	s.creds.TokenExpiry = time.Now().Add(time.Duration(expiresIn) * time.Second)
	s.creds.Authenticated = true
	s.authMu.Unlock()
}

// accessTokenFor returns the current access token and, if it is
// stale, performs a refresh first. It returns model.ErrNotAuthenticated
// or model.ErrRefreshFailed on failure.
func (s *Session) accessTokenFor(ctx context.Context) (string, error) {
	s.authMu.Lock()
	authenticated := s.creds.Authenticated
	expired := time.Now().After(s.creds.TokenExpiry)
	token := s.creds.AccessToken
	s.authMu.Unlock()

	if !authenticated {
		return "", model.ErrNotAuthenticated
	}
	if !expired {
		return token, nil
	}
	if err := s.refresh(ctx); err != nil {
		return "", err
	}
	s.authMu.Lock()
	token = s.creds.AccessToken
	s.authMu.Unlock()
	return token, nil
}
