package channel

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"sync/atomic"
)

var (
	ErrChannelClosed = errors.New("channel is closed")
	ErrNoConnection  = errors.New("no connection")
)

// ConnectionStateListener receives notifications about connection state changes
type ConnectionStateListener interface {
	// OnConnectionEstablished is called when a new connection is established
	OnConnectionEstablished()

	// OnConnectionLost is called when a connection is lost
	OnConnectionLost()
}

// PhysicalChannel is the byte-stream duplex the multiplexer runs over.
// Implementations exist for serial ports, TCP, QUIC streams and any
// io.ReadWriteCloser.
type PhysicalChannel interface {
	// Read reads whatever bytes are available into p.
	// It returns 0 and a nil error when nothing arrived within the
	// implementation's poll interval; callers simply try again.
	// A non-nil error is fatal for the current session.
	Read(ctx context.Context, p []byte) (int, error)

	// Write writes p and returns how many bytes were accepted.
	// Short writes are legal; callers retry the remainder.
	Write(ctx context.Context, p []byte) (int, error)

	// Stop aborts pending I/O and flushes buffered data without closing
	Stop() error

	// Close closes the physical connection
	Close() error

	// Statistics returns transport-level statistics
	Statistics() TransportStats

	// SetConnectionStateListener sets a listener for connection state changes.
	// Channels without a notion of connection may ignore it.
	SetConnectionStateListener(listener ConnectionStateListener)
}

// TransportStats provides transport-level statistics
type TransportStats struct {
	BytesSent     uint64 // Total bytes sent
	BytesReceived uint64 // Total bytes received
	WriteErrors   uint64 // Number of write errors
	ReadErrors    uint64 // Number of read errors
	Connects      uint64 // Number of connections (for connection-oriented transports)
	Disconnects   uint64 // Number of disconnections
}

// counters holds the atomic counters behind TransportStats
type counters struct {
	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64
	writeErrors   atomic.Uint64
	readErrors    atomic.Uint64
	connects      atomic.Uint64
	disconnects   atomic.Uint64
}

func (c *counters) snapshot() TransportStats {
	return TransportStats{
		BytesSent:     c.bytesSent.Load(),
		BytesReceived: c.bytesReceived.Load(),
		WriteErrors:   c.writeErrors.Load(),
		ReadErrors:    c.readErrors.Load(),
		Connects:      c.connects.Load(),
		Disconnects:   c.disconnects.Load(),
	}
}

// notifier delivers connection state changes to the registered listener
type notifier struct {
	mu       sync.RWMutex
	listener ConnectionStateListener
}

// SetConnectionStateListener sets a listener for connection state changes
func (n *notifier) SetConnectionStateListener(listener ConnectionStateListener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listener = listener
}

func (n *notifier) established() {
	n.mu.RLock()
	l := n.listener
	n.mu.RUnlock()
	if l != nil {
		l.OnConnectionEstablished()
	}
}

func (n *notifier) lost() {
	n.mu.RLock()
	l := n.listener
	n.mu.RUnlock()
	if l != nil {
		l.OnConnectionLost()
	}
}

// isTimeout reports whether err is a deadline expiry rather than a failure
func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
