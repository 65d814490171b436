package client

import "errors"

var (
	ErrClientClosed   = errors.New("client is closed")
	ErrAlreadyRunning = errors.New("client is already running")
	ErrNotConnected   = errors.New("client is not connected")
	ErrInvalidConfig  = errors.New("invalid client configuration")
)
