package model

import "errors"

// Sentinel errors the session and store packages wrap with context via
// fmt.Errorf("...: %w", ...). None of these ever propagate as a panic;
// every public method that can fail this way returns a zero value
// (empty string/false/ApiResponse{false,...}) alongside a logged
// description.
var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrRefreshFailed    = errors.New("token refresh failed")
	ErrTransport        = errors.New("transport failure")
	ErrVenue            = errors.New("venue error")
	ErrProtocol         = errors.New("protocol error")
)
