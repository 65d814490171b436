// Package transport carries protocol frames over WebSocket or QUIC. Both
// transports expose the same message-oriented Conn.
package transport

import (
	"errors"
	"net"
	"time"
)

var (
	ErrClosed        = errors.New("transport: connection closed")
	ErrFrameTooLarge = errors.New("transport: frame too large")
)

// Conn sends and receives whole frames. WriteFrame is safe for concurrent
// use; ReadFrame must be called from one goroutine.
type Conn interface {
	ID() string
	Kind() string
	RemoteAddr() net.Addr
	ReadFrame() ([]byte, error)
	WriteFrame(frame []byte) error
	Close() error
}

type Options struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxFrameSize int
}

func DefaultOptions() Options {
	return Options{
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Second,
		MaxFrameSize: 1 << 20,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = d.ReadTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.MaxFrameSize <= 0 {
		o.MaxFrameSize = d.MaxFrameSize
	}
	return o
}
