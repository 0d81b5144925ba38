package mux

import (
	"errors"
	"fmt"
)

// Channel errors returned to line consumers
var (
	ErrNotConnected    = errors.New("channel not connected")
	ErrRejected        = errors.New("channel rejected by peer")
	ErrTimeout         = errors.New("operation timed out")
	ErrInterrupted     = errors.New("operation interrupted")
	ErrDeviceCrashed   = errors.New("device crashed")
	ErrNoDevice        = errors.New("no such device")
	ErrInvalidDLCI     = errors.New("invalid DLCI")
	ErrInvalidLine     = errors.New("invalid line")
	ErrBusy            = errors.New("resource busy")
	ErrNoMemory        = errors.New("out of queue memory")
	ErrClosed          = errors.New("mux is closed")
	ErrSelfTestFailed  = errors.New("self test failed")
	ErrHandshakeFailed = errors.New("handshake failed")
	ErrConnectionLost  = errors.New("transport connection lost")
)

// TransportError is an I/O failure reported by the physical channel.
// It ends the current session and triggers recovery.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// interrupted wraps a context error
func interrupted(err error) error {
	return fmt.Errorf("%w: %w", ErrInterrupted, err)
}
