package mux

import (
	"context"
	"errors"
	"time"
)

// NotifyCrash reports that the modem or its link failed. Blocked callers
// wake with ErrDeviceCrashed and, with AutoRecover, recovery starts in the
// background.
func (m *Mux) NotifyCrash(err error) {
	if err == nil {
		err = ErrDeviceCrashed
	}
	m.crash(err)
}

// crash moves a Ready or Recovering mux to Crashed
func (m *Mux) crash(err error) {
	for {
		cur := m.Status()
		if cur != StatusReady && cur != StatusRecovering {
			return
		}
		if m.status.CompareAndSwap(int32(cur), int32(StatusCrashed)) {
			break
		}
	}
	m.stats.Crash()
	m.log.Error("%s: crashed: %v", m.name, err)
	m.statusSig.Broadcast()
	m.wakeQueues()
	m.requestRecovery()
}

// requestRecovery asks the supervisor for a recovery run
func (m *Mux) requestRecovery() {
	if !m.cfg.AutoRecover || m.closed.Load() {
		return
	}
	select {
	case m.recoverReq <- struct{}{}:
	default:
	}
}

// supervise runs recovery on request
func (m *Mux) supervise() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.recoverReq:
		}

		for attempt := 1; attempt <= m.cfg.RecoveryRetries; attempt++ {
			select {
			case <-m.ctx.Done():
				return
			case <-time.After(m.cfg.RecoveryDelay):
			}

			err := m.Recover(m.ctx)
			if err == nil {
				break
			}
			if m.closed.Load() {
				return
			}
			m.log.Warn("%s: recovery attempt %d/%d failed: %v", m.name, attempt, m.cfg.RecoveryRetries, err)
		}
	}
}

// Recover re-runs the handshake and reconnects every DLCI that was open
// or being opened. Queued data is discarded. Recovering a Ready mux is a
// no-op.
func (m *Mux) Recover(ctx context.Context) error {
	m.recoverMu.Lock()
	defer m.recoverMu.Unlock()

	if m.closed.Load() {
		return ErrClosed
	}
	cur := m.Status()
	if cur == StatusReady {
		return nil
	}
	if !m.status.CompareAndSwap(int32(cur), int32(StatusRecovering)) {
		return ErrDeviceCrashed
	}
	m.statusSig.Broadcast()
	m.log.Info("%s: recovering from %s", m.name, cur)

	m.openMu.Lock()
	defer m.openMu.Unlock()

	restore := m.restoreSet()

	m.stopSession()
	m.flush()

	leftover, err := m.handshake(ctx)
	if err != nil {
		m.abortRecovery()
		return err
	}
	m.startSession(leftover)

	if err := m.connect(ctx, 0, true); err != nil {
		m.abortRecovery()
		return err
	}
	for _, dlci := range restore {
		err := m.connect(ctx, dlci, true)
		if err == nil {
			continue
		}
		if m.Status() != StatusRecovering || errors.Is(err, ErrInterrupted) {
			m.abortRecovery()
			return err
		}
		m.log.Warn("%s: DLCI %d not restored: %v", m.name, dlci, err)
	}

	if !m.status.CompareAndSwap(int32(StatusRecovering), int32(StatusReady)) {
		return ErrDeviceCrashed
	}
	m.statusSig.Broadcast()
	m.wakeQueues()
	m.kick()
	m.stats.Recovery()
	m.log.Info("%s: recovered, %d channels restored", m.name, len(restore))
	return nil
}

// abortRecovery leaves the mux Crashed after a failed recovery
func (m *Mux) abortRecovery() {
	m.status.CompareAndSwap(int32(StatusRecovering), int32(StatusCrashed))
	m.statusSig.Broadcast()
}

// restoreSet lists the DLCIs recovery must reconnect
func (m *Mux) restoreSet() []uint8 {
	var set []uint8
	for _, d := range m.dlcis[1:] {
		switch d.State() {
		case StateConnected, StateFlowStopped, StateConnecting, StateNegotiating:
			set = append(set, d.id)
			continue
		}
		for _, l := range m.router.linesOf(d.id) {
			if l.isOpen() {
				set = append(set, d.id)
				break
			}
		}
	}
	return set
}

// flush discards queued traffic and resets every DLCI
func (m *Mux) flush() {
	for _, l := range m.router.lines {
		ring, rq := l.queues()
		if ring != nil {
			ring.Reset()
		}
		if rq != nil {
			rq.Reset()
		}
	}
	m.clearControl()
	m.flowOff.Store(false)
	for _, d := range m.dlcis {
		d.reset(m.cfg.DefaultMTU)
	}
	m.selfTest.abort()
}
