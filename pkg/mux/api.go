package mux

import (
	"context"
	"errors"
	"fmt"
	"time"

	"avaneesh/ts0710-go/pkg/internal/queue"
	"avaneesh/ts0710-go/pkg/link"
)

var errFlowStopped = errors.New("flow stopped")

// Open opens a line, connecting its DLCI when this is the first user.
// Opening a line whose DLCI is already connected sends nothing.
func (m *Mux) Open(ctx context.Context, n int) error {
	l, err := m.router.line(n)
	if err != nil {
		return err
	}
	if err := m.statusErr(false); err != nil {
		return err
	}

	l.mu.Lock()
	if l.send == nil {
		l.send = queue.NewSendRing(m.cfg.SendRingSlots, m.cfg.DefaultMTU)
		l.recv = queue.NewRecvQueue(m.cfg.DefaultMTU, m.cfg.MaxReceiveBacklog)
	}
	l.refs++
	l.mu.Unlock()

	m.openMu.Lock()
	err = m.connect(ctx, l.dlci, false)
	m.openMu.Unlock()
	if err != nil {
		m.release(l)
		return fmt.Errorf("line %d: %w", n, err)
	}
	m.log.Debug("%s: line %d open on DLCI %d", m.name, n, l.dlci)
	return nil
}

// release drops one reference and frees the queues with the last one
func (m *Mux) release(l *line) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.refs > 0 {
		l.refs--
	}
	if l.refs == 0 {
		l.send = nil
		l.recv = nil
	}
}

// CloseLine releases a line. The last user waits for queued frames to go
// out and disconnects the DLCI unless another line still uses it. Closing
// a line that is not open is a no-op.
func (m *Mux) CloseLine(n int) error {
	l, err := m.router.line(n)
	if err != nil {
		return err
	}

	l.mu.Lock()
	if l.refs == 0 {
		l.mu.Unlock()
		return nil
	}
	if l.refs > 1 {
		l.refs--
		l.mu.Unlock()
		return nil
	}
	ring := l.send
	l.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CloseTimeout)
	defer cancel()

	d := m.dlcis[l.dlci]
	if ring != nil && m.statusErr(false) == nil {
		m.await(ctx, nil, false, ring.Space, d.changed.C, func() (bool, error) {
			return ring.Len() == 0 || d.State() != StateConnected, nil
		})
	}

	m.release(l)

	// An Open during the drain keeps the line, and its DLCI, in use
	if l.isOpen() || m.router.inUse(l.dlci, l) || m.statusErr(false) != nil {
		return nil
	}
	m.openMu.Lock()
	defer m.openMu.Unlock()
	if l.isOpen() || m.router.inUse(l.dlci, l) {
		return nil
	}
	err = m.disconnect(ctx, l.dlci)
	if err != nil && !errors.Is(err, ErrTimeout) && !errors.Is(err, ErrInterrupted) {
		return fmt.Errorf("line %d: %w", n, err)
	}
	return nil
}

// Read copies received payload into p. A timeout of zero never blocks
// and returns ErrBusy when nothing is queued or another reader holds the
// line; a negative timeout waits forever. The timeout covers the wait for
// other readers too. Read returns 0 and no error when the DLCI is flow-stopped
// while waiting.
func (m *Mux) Read(ctx context.Context, n int, p []byte, timeout time.Duration) (int, error) {
	l, err := m.router.line(n)
	if err != nil {
		return 0, err
	}
	_, rq := l.queues()
	if rq == nil {
		return 0, ErrNotConnected
	}
	if err := m.statusErr(false); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}

	timer, stop := deadline(timeout)
	defer stop()

	if timeout == 0 {
		if !rq.TryAcquire() {
			return 0, ErrBusy
		}
	} else if err := rq.Acquire(ctx, timer); err != nil {
		if errors.Is(err, queue.ErrGateTimeout) {
			return 0, ErrTimeout
		}
		return 0, interrupted(err)
	}
	defer rq.Release()

	if read := rq.Read(p); read > 0 {
		return read, nil
	}
	if timeout == 0 {
		return 0, ErrBusy
	}

	d := m.dlcis[l.dlci]
	start := d.State()
	read := 0
	err = m.await(ctx, timer, false, rq.Data, d.changed.C, func() (bool, error) {
		if read = rq.Read(p); read > 0 {
			return true, nil
		}
		if !l.isOpen() {
			return true, ErrNotConnected
		}
		switch s := d.State(); s {
		case StateFlowStopped:
			return start != StateFlowStopped, nil
		case StateConnected:
			return false, nil
		default:
			return true, ErrNotConnected
		}
	})
	return read, err
}

// Write queues p for transmission in frames of at most the DLCI's MTU.
// It returns how many bytes were queued. With a full ring, a zero timeout
// returns ErrBusy when nothing was queued; otherwise Write waits for room
// until the timeout. Writes to a flow-stopped DLCI return 0 and no error.
func (m *Mux) Write(ctx context.Context, n int, p []byte, timeout time.Duration) (int, error) {
	l, err := m.router.line(n)
	if err != nil {
		return 0, err
	}
	ring, _ := l.queues()
	if ring == nil {
		return 0, ErrNotConnected
	}
	if err := m.statusErr(false); err != nil {
		return 0, err
	}

	d := m.dlcis[l.dlci]
	switch d.State() {
	case StateConnected:
	case StateFlowStopped:
		return 0, nil
	default:
		return 0, ErrNotConnected
	}
	if len(p) == 0 {
		return 0, nil
	}

	mtu := min(ring.MTU(), d.MTU())
	timer, stop := deadline(timeout)
	defer stop()

	written := 0
	for written < len(p) {
		chunk := p[written:min(written+mtu, len(p))]
		err := ring.Enqueue(l.dlci, m.cmdCR(), chunk)
		if err == nil {
			written += len(chunk)
			continue
		}
		if !errors.Is(err, queue.ErrFull) {
			m.kick()
			return written, fmt.Errorf("%w: %v", ErrNoMemory, err)
		}

		m.kick()
		if timeout == 0 {
			if written > 0 {
				return written, nil
			}
			return 0, ErrBusy
		}
		err = m.await(ctx, timer, false, ring.Space, d.changed.C, func() (bool, error) {
			if !ring.Full() {
				return true, nil
			}
			switch d.State() {
			case StateConnected:
				return false, nil
			case StateFlowStopped:
				return true, errFlowStopped
			default:
				return true, ErrNotConnected
			}
		})
		if err != nil {
			if errors.Is(err, errFlowStopped) || (written > 0 && errors.Is(err, ErrTimeout)) {
				return written, nil
			}
			return written, err
		}
	}

	m.kick()
	return written, nil
}

// Poll reports whether a line has data to read and room to write
func (m *Mux) Poll(n int) Readiness {
	l, err := m.router.line(n)
	if err != nil {
		return Readiness{}
	}
	ring, rq := l.queues()
	if ring == nil {
		return Readiness{}
	}
	return Readiness{
		Readable: rq.Len() > 0,
		Writable: m.Status() == StatusReady && m.dlcis[l.dlci].State() == StateConnected && !ring.Full(),
	}
}

// RegisterEventHandler sets the callback for a line's events. Handlers
// run on the mux workers and must not block.
func (m *Mux) RegisterEventHandler(n int, h EventHandler) error {
	l, err := m.router.line(n)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.handler = h
	l.mu.Unlock()
	return nil
}

// LineBusy reports whether a line's send ring is full
func (m *Mux) LineBusy(n int) bool {
	l, err := m.router.line(n)
	if err != nil {
		return false
	}
	ring, _ := l.queues()
	return ring != nil && ring.Full()
}

// LineDLCI returns the DLCI a line is bound to
func (m *Mux) LineDLCI(n int) (uint8, error) {
	l, err := m.router.line(n)
	if err != nil {
		return 0, err
	}
	return l.dlci, nil
}

// Hangup drops the V.24 signals of a line's DLCI, which modems treat as
// hanging up the call
func (m *Mux) Hangup(n int) error {
	l, err := m.router.line(n)
	if err != nil {
		return err
	}
	if !l.isOpen() {
		return ErrNotConnected
	}
	if err := m.statusErr(false); err != nil {
		return err
	}
	if !m.dlcis[l.dlci].State().established() {
		return ErrNotConnected
	}
	m.sendModemStatus(l.dlci, link.SignalEA)
	m.log.Info("%s: line %d hangup", m.name, n)
	return nil
}
