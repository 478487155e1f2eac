package streaming

import "errors"

var (
	ErrEmptyPayload = errors.New("empty payload")
	ErrNoType       = errors.New("envelope has no type")
)
