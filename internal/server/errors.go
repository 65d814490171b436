package server

import "errors"

var (
	ErrServerClosed = errors.New("server is closed")
	ErrSlowConsumer = errors.New("session send queue full")
	ErrRateLimited  = errors.New("session exceeded inbound rate")
)
