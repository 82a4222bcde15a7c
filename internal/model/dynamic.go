package model

import "github.com/bitly/go-simplejson"

// Dynamic is the dynamic-value JSON representation used for venue
// response/push payloads whose shape varies by method.
type Dynamic = simplejson.Json

// NewDynamic parses raw JSON bytes into a Dynamic value.
func NewDynamic(raw []byte) (*Dynamic, error) {
	return simplejson.NewJson(raw)
}
