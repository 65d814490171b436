package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed marks a payload that was rejected without touching state.
	ErrMalformed     = errors.New("protocol: malformed message")
	ErrShortFrame    = errors.New("protocol: frame too short")
	ErrUnknownType   = errors.New("protocol: unknown message type")
	ErrUnknownCodec  = errors.New("protocol: unknown codec")
	ErrFrameTooLarge = errors.New("protocol: frame too large")
)

func malformed(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrMalformed, err)
}
