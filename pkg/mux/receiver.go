package mux

import (
	"context"
	"errors"

	"avaneesh/ts0710-go/pkg/internal/logger"
	"avaneesh/ts0710-go/pkg/link"
)

// receiveLoop is the receive worker. It feeds transport bytes to the
// framer and dispatches every complete frame.
func (m *Mux) receiveLoop(ctx context.Context, framer *link.Framer, leftover []byte) error {
	m.log.Debug("%s: receive worker started", m.name)
	defer m.log.Debug("%s: receive worker stopped", m.name)

	if len(leftover) > 0 {
		m.feed(framer, leftover)
	}

	buf := make([]byte, m.cfg.ReadBufferSize)
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := m.phys.Read(ctx, buf)
		if n > 0 {
			m.feed(framer, buf[:n])
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return &TransportError{Op: "read", Err: err}
		}
	}
}

func (m *Mux) feed(framer *link.Framer, data []byte) {
	for _, f := range framer.Feed(data) {
		m.dispatch(f)
	}
}

// onFrameError counts frames the framer discarded
func (m *Mux) onFrameError(err error) {
	switch {
	case errors.Is(err, link.ErrCRCMismatch):
		m.stats.CRCError()
	case errors.Is(err, link.ErrDesync):
		m.stats.Desync()
	case errors.Is(err, link.ErrInvalidLength):
		m.stats.InvalidLength()
	default:
		m.stats.BadFrame()
	}
	m.log.Debug("%s: discarded frame: %v", m.name, err)
}

// dispatch applies one received frame to the DLCI state machines
func (m *Mux) dispatch(f *link.Frame) {
	m.stats.FrameRx()

	if m.tap != nil || logger.FrameDebug() {
		if raw, err := f.Serialize(); err == nil {
			if m.tap != nil {
				m.tap.TapFrame(DirectionRx, raw)
			}
			if logger.FrameDebug() {
				m.log.Debug("%s: RX %s", m.name, logger.Hex(raw))
			}
		}
	}

	if int(f.DLCI) >= len(m.dlcis) {
		m.log.Warn("%s: %s for DLCI %d beyond %d channels", m.name, f.Type, f.DLCI, len(m.dlcis))
		if f.Type == link.FrameSABM || f.Type == link.FrameDISC || f.Type == link.FrameUIH {
			m.sendControl(link.NewFrame(f.DLCI, m.respCR(), link.FrameDM, nil))
		}
		return
	}

	d := m.dlcis[f.DLCI]
	switch f.Type {
	case link.FrameSABM:
		m.onSABM(d)
	case link.FrameUA:
		m.onUA(d)
	case link.FrameDM:
		m.onDM(d)
	case link.FrameDISC:
		m.onDISC(d)
	case link.FrameUIH:
		if d.id == 0 {
			m.handleControl(f.Payload)
		} else {
			m.onData(d, f.Payload)
		}
	}
}

// connectedState is Connected unless the peer switched flow off globally
func (m *Mux) connectedState() DLCIState {
	if m.flowOff.Load() {
		return StateFlowStopped
	}
	return StateConnected
}

func (m *Mux) onSABM(d *dlciEntry) {
	if d.id != 0 && !m.dlcis[0].State().established() {
		m.sendControl(link.NewFrame(d.id, m.respCR(), link.FrameDM, nil))
		return
	}
	prev := d.set(m.connectedState())
	m.sendControl(link.NewFrame(d.id, m.respCR(), link.FrameUA, nil))
	if !prev.established() {
		m.log.Info("%s: DLCI %d opened by peer", m.name, d.id)
	}
}

func (m *Mux) onUA(d *dlciEntry) {
	switch d.State() {
	case StateConnecting:
		d.transition(m.connectedState(), StateConnecting)
	case StateDisconnecting:
		m.dropDLCI(d, false)
	default:
		m.log.Debug("%s: unexpected UA on %s DLCI %d", m.name, d.State(), d.id)
	}
}

func (m *Mux) onDM(d *dlciEntry) {
	switch s := d.State(); {
	case s == StateConnecting || s == StateNegotiating:
		d.set(StateRejected)
		m.log.Warn("%s: DLCI %d rejected by peer", m.name, d.id)
	case s == StateDisconnecting:
		m.dropDLCI(d, false)
	case s.established():
		m.log.Warn("%s: DLCI %d disconnected by peer", m.name, d.id)
		m.dropDLCI(d, true)
	}
}

func (m *Mux) onDISC(d *dlciEntry) {
	switch s := d.State(); {
	case d.id == 0:
		m.log.Warn("%s: peer closed the control channel", m.name)
		m.dropDLCI(d, true)
		m.sendControl(link.NewFrame(0, m.respCR(), link.FrameUA, nil))
	case s == StateDisconnected || s == StateRejected:
		m.sendControl(link.NewFrame(d.id, m.respCR(), link.FrameDM, nil))
	default:
		m.log.Info("%s: DLCI %d closed by peer", m.name, d.id)
		m.dropDLCI(d, true)
		m.sendControl(link.NewFrame(d.id, m.respCR(), link.FrameUA, nil))
	}
}

// dropDLCI resets d. Losing DLCI 0 takes every channel down with it.
func (m *Mux) dropDLCI(d *dlciEntry, hangup bool) {
	targets := []*dlciEntry{d}
	if d.id == 0 {
		targets = m.dlcis
		m.flowOff.Store(false)
	}
	for _, t := range targets {
		wasUp := t.State().established()
		t.reset(m.cfg.DefaultMTU)
		if hangup && wasUp {
			m.hangupLines(t.id)
		}
	}
}

// hangupLines tells the open lines of dlci that the peer hung up
func (m *Mux) hangupLines(dlci uint8) {
	for _, l := range m.router.linesOf(dlci) {
		if l.isOpen() {
			m.notify(l, EventHangup)
		}
	}
}

// onData routes a UIH payload to the lowest open line of its DLCI
func (m *Mux) onData(d *dlciEntry, payload []byte) {
	if !d.State().established() {
		m.log.Debug("%s: data on %s DLCI %d", m.name, d.State(), d.id)
		m.sendControl(link.NewFrame(d.id, m.respCR(), link.FrameDM, nil))
		return
	}

	l := m.router.route(d.id)
	if l == nil {
		m.stats.DroppedRx(len(payload))
		return
	}
	_, rq := l.queues()
	if rq == nil || !rq.Push(payload) {
		m.stats.DroppedRx(len(payload))
		m.log.Debug("%s: line %d: receive backlog full, dropped %d bytes", m.name, l.num, len(payload))
		return
	}
	m.notify(l, EventReadable)
}
