package transport

import "errors"

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timed out")
	ErrEncodePayload    = errors.New("failed to encode payload")
)
