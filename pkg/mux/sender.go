package mux

import (
	"context"
	"time"

	"avaneesh/ts0710-go/pkg/internal/logger"
	"avaneesh/ts0710-go/pkg/link"
)

// sendControl queues a frame ahead of all data traffic
func (m *Mux) sendControl(f *link.Frame) {
	data, err := f.Serialize()
	if err != nil {
		m.log.Error("%s: serialize %s: %v", m.name, f, err)
		return
	}
	m.ctrlMu.Lock()
	m.ctrlQ = append(m.ctrlQ, data)
	m.ctrlMu.Unlock()
	m.kick()
}

// sendMCC sends a multiplexer control message on DLCI 0
func (m *Mux) sendMCC(cmd link.MCC) {
	m.sendControl(link.NewFrame(0, m.cmdCR(), link.FrameUIH, cmd.Bytes()))
}

// clearControl drops queued control frames
func (m *Mux) clearControl() {
	m.ctrlMu.Lock()
	m.ctrlQ = nil
	m.ctrlMu.Unlock()
}

// sendLoop is the transmit worker. Control frames always go first; data
// rings are drained in line order while the mux is Ready.
func (m *Mux) sendLoop(ctx context.Context) error {
	m.log.Debug("%s: send worker started", m.name)
	defer m.log.Debug("%s: send worker stopped", m.name)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.wake:
		}

		if err := m.flushControl(ctx); err != nil {
			return err
		}
		if m.Status() != StatusReady {
			continue
		}
		for _, l := range m.router.lines[1:] {
			if err := m.drainLine(ctx, l); err != nil {
				return err
			}
		}
	}
}

// flushControl transmits every queued control frame
func (m *Mux) flushControl(ctx context.Context) error {
	for {
		m.ctrlMu.Lock()
		if len(m.ctrlQ) == 0 {
			m.ctrlMu.Unlock()
			return nil
		}
		frame := m.ctrlQ[0]
		m.ctrlQ[0] = nil
		m.ctrlQ = m.ctrlQ[1:]
		m.ctrlMu.Unlock()

		if err := m.transmit(ctx, frame); err != nil {
			return err
		}
	}
}

// drainLine sends a line's queued frames. A flow-stopped DLCI keeps its
// data; a DLCI that is no longer connected loses it.
func (m *Mux) drainLine(ctx context.Context, l *line) error {
	ring, _ := l.queues()
	if ring == nil || ring.Len() == 0 {
		return nil
	}

	d := m.dlcis[l.dlci]
	switch d.State() {
	case StateConnected:
	case StateFlowStopped:
		return nil
	default:
		if n := ring.Flush(); n > 0 {
			m.stats.DroppedTx(n)
			m.log.Debug("%s: line %d: dropped %d frames for %s DLCI %d", m.name, l.num, n, d.State(), l.dlci)
		}
		return nil
	}

	for d.State() == StateConnected {
		if err := m.flushControl(ctx); err != nil {
			return err
		}
		frame, ok := ring.Peek()
		if !ok {
			break
		}
		if err := m.transmit(ctx, frame); err != nil {
			return err
		}
		ring.Advance()
	}

	if ring.TakeDrainNotify() {
		m.notify(l, EventWritable)
	}
	return nil
}

// transmit writes one encoded frame, retrying short writes
func (m *Mux) transmit(ctx context.Context, frame []byte) error {
	if m.tap != nil {
		m.tap.TapFrame(DirectionTx, frame)
	}
	if logger.FrameDebug() {
		m.log.Debug("%s: TX %s", m.name, logger.Hex(frame))
	}

	for b := frame; len(b) > 0; {
		n, err := m.phys.Write(ctx, b)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return &TransportError{Op: "write", Err: err}
		}
		if n == 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Millisecond):
			}
		}
		b = b[n:]
	}
	m.stats.FrameTx()
	return nil
}
