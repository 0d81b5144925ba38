package mux

import (
	"context"
	"errors"
	"fmt"
	"time"

	"avaneesh/ts0710-go/pkg/link"
)

// connect establishes dlci, bringing up DLCI 0 first. Callers hold openMu.
func (m *Mux) connect(ctx context.Context, dlci uint8, recovering bool) error {
	if int(dlci) >= len(m.dlcis) {
		return fmt.Errorf("%w: %d", ErrInvalidDLCI, dlci)
	}
	if err := m.statusErr(recovering); err != nil {
		return err
	}
	if dlci != 0 && !m.dlcis[0].State().established() {
		if err := m.connect(ctx, 0, recovering); err != nil {
			return fmt.Errorf("control channel: %w", err)
		}
	}

	d := m.dlcis[dlci]
	if d.State().established() {
		return nil
	}

	if dlci != 0 && m.cfg.NegotiateParams {
		if err := m.negotiateParams(ctx, d, recovering); err != nil {
			d.set(StateDisconnected)
			return err
		}
	}

	var err error
	for attempt := 1; attempt <= m.cfg.OpenRetries; attempt++ {
		if d.State().established() {
			return nil
		}
		d.set(StateConnecting)
		m.sendControl(link.NewFrame(dlci, m.cmdCR(), link.FrameSABM, nil))

		err = m.awaitState(ctx, d, m.cfg.OpenTimeout, recovering, func(s DLCIState) (bool, error) {
			switch s {
			case StateConnected, StateFlowStopped:
				return true, nil
			case StateRejected:
				return true, ErrRejected
			case StateDisconnected:
				return true, ErrNotConnected
			}
			return false, nil
		})
		if err == nil {
			m.log.Info("%s: DLCI %d connected", m.name, dlci)
			if dlci != 0 {
				m.sendModemStatus(dlci, link.SignalRTC|link.SignalRTR|link.SignalDV)
			}
			return nil
		}
		if !errors.Is(err, ErrTimeout) {
			break
		}
		m.log.Debug("%s: DLCI %d: no answer to SABM (%d/%d)", m.name, dlci, attempt, m.cfg.OpenRetries)
	}

	if !errors.Is(err, ErrRejected) {
		d.set(StateDisconnected)
	}
	return err
}

// negotiateParams offers our frame size before SABM. A peer that never
// answers PN keeps the default.
func (m *Mux) negotiateParams(ctx context.Context, d *dlciEntry, recovering bool) error {
	d.set(StateNegotiating)
	p := link.DefaultPNParams(d.id, uint16(d.MTU()))
	m.sendMCC(link.MCC{Type: link.CmdPN, Command: true, Value: p.Encode()})

	err := m.awaitState(ctx, d, m.cfg.OpenTimeout, recovering, func(s DLCIState) (bool, error) {
		switch s {
		case StateNegotiating:
			return false, nil
		case StateRejected:
			return true, ErrRejected
		}
		return true, nil
	})
	if errors.Is(err, ErrTimeout) {
		m.log.Warn("%s: DLCI %d: no PN response, using %d byte frames", m.name, d.id, d.MTU())
		return nil
	}
	return err
}

// disconnect sends DISC and waits for the peer. A peer that never answers
// still leaves the DLCI Disconnected. Callers hold openMu.
func (m *Mux) disconnect(ctx context.Context, dlci uint8) error {
	d := m.dlcis[dlci]
	switch d.State() {
	case StateDisconnected:
		return nil
	case StateRejected:
		d.set(StateDisconnected)
		return nil
	}

	d.set(StateDisconnecting)
	m.sendControl(link.NewFrame(dlci, m.cmdCR(), link.FrameDISC, nil))

	err := m.awaitState(ctx, d, m.cfg.CloseTimeout, false, func(s DLCIState) (bool, error) {
		return s == StateDisconnected, nil
	})
	if d.State() != StateDisconnected || dlci == 0 {
		m.dropDLCI(d, false)
	}
	if err != nil {
		m.log.Warn("%s: DLCI %d: forced disconnect: %v", m.name, dlci, err)
		return err
	}
	m.log.Info("%s: DLCI %d disconnected", m.name, dlci)
	return nil
}

// sendModemStatus announces V.24 signals for dlci
func (m *Mux) sendModemStatus(dlci uint8, signals uint8) {
	p := link.MSCParams{DLCI: dlci, Signals: signals}
	m.sendMCC(link.MCC{Type: link.CmdMSC, Command: true, Value: p.Encode()})
}

// awaitState waits until cond accepts the state of d
func (m *Mux) awaitState(ctx context.Context, d *dlciEntry, timeout time.Duration, recovering bool, cond func(DLCIState) (bool, error)) error {
	timer, stop := deadline(timeout)
	defer stop()
	return m.await(ctx, timer, recovering, d.changed.C, nil, func() (bool, error) {
		return cond(d.State())
	})
}
