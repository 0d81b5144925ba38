package channel

import (
	"context"
	"io"
	"sync/atomic"
	"time"
)

// DefaultPollInterval bounds how long a single Read waits for data
const DefaultPollInterval = 100 * time.Millisecond

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// StreamChannelConfig configures a stream channel
type StreamChannelConfig struct {
	PollInterval time.Duration // Longest wait inside one Read (0 = default)
	WriteTimeout time.Duration // Write deadline when supported (0 = none)
}

// StreamChannel adapts any io.ReadWriteCloser, such as a net.Conn, a pty or
// one end of net.Pipe, to PhysicalChannel. Streams with read deadlines are
// polled; other streams block in Read until data arrives or Close.
type StreamChannel struct {
	rw           io.ReadWriteCloser
	pollInterval time.Duration
	writeTimeout time.Duration

	stats  counters
	notify notifier
	closed atomic.Bool
	failed atomic.Bool
}

// NewStreamChannel wraps rw
func NewStreamChannel(rw io.ReadWriteCloser, config StreamChannelConfig) *StreamChannel {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	sc := &StreamChannel{
		rw:           rw,
		pollInterval: config.PollInterval,
		writeTimeout: config.WriteTimeout,
	}
	sc.stats.connects.Add(1)
	return sc
}

// Read implements PhysicalChannel.Read
func (sc *StreamChannel) Read(ctx context.Context, p []byte) (int, error) {
	if sc.closed.Load() {
		return 0, ErrChannelClosed
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if d, ok := sc.rw.(readDeadliner); ok {
		d.SetReadDeadline(time.Now().Add(sc.pollInterval))
	}

	n, err := sc.rw.Read(p)
	sc.stats.bytesReceived.Add(uint64(n))
	if err != nil {
		if isTimeout(err) {
			return n, nil
		}
		if sc.closed.Load() {
			return n, ErrChannelClosed
		}
		sc.stats.readErrors.Add(1)
		sc.fail()
		return n, err
	}
	return n, nil
}

// Write implements PhysicalChannel.Write
func (sc *StreamChannel) Write(ctx context.Context, p []byte) (int, error) {
	if sc.closed.Load() {
		return 0, ErrChannelClosed
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if d, ok := sc.rw.(writeDeadliner); ok {
		var t time.Time
		if sc.writeTimeout > 0 {
			t = time.Now().Add(sc.writeTimeout)
		}
		d.SetWriteDeadline(t)
	}

	n, err := sc.rw.Write(p)
	sc.stats.bytesSent.Add(uint64(n))
	if err != nil {
		if sc.closed.Load() {
			return n, ErrChannelClosed
		}
		sc.stats.writeErrors.Add(1)
		if !isTimeout(err) {
			sc.fail()
		}
		return n, err
	}
	return n, nil
}

// Stop implements PhysicalChannel.Stop by expiring pending reads and
// writes
func (sc *StreamChannel) Stop() error {
	now := time.Now()
	if d, ok := sc.rw.(writeDeadliner); ok {
		d.SetWriteDeadline(now)
	}
	if d, ok := sc.rw.(readDeadliner); ok {
		return d.SetReadDeadline(now)
	}
	return nil
}

// Close implements PhysicalChannel.Close
func (sc *StreamChannel) Close() error {
	if !sc.closed.CompareAndSwap(false, true) {
		return nil
	}
	sc.stats.disconnects.Add(1)
	return sc.rw.Close()
}

// Statistics implements PhysicalChannel.Statistics
func (sc *StreamChannel) Statistics() TransportStats {
	return sc.stats.snapshot()
}

// SetConnectionStateListener implements PhysicalChannel
func (sc *StreamChannel) SetConnectionStateListener(listener ConnectionStateListener) {
	sc.notify.SetConnectionStateListener(listener)
}

// fail reports the first hard I/O error as a lost connection
func (sc *StreamChannel) fail() {
	if sc.failed.CompareAndSwap(false, true) {
		sc.stats.disconnects.Add(1)
		sc.notify.lost()
	}
}
