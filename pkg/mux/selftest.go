package mux

import (
	"context"
	"fmt"
	"sync"

	"avaneesh/ts0710-go/pkg/link"
)

// selfTestPattern is echoed by the peer in a TEST response
var selfTestPattern = func() []byte {
	p := make([]byte, 64)
	for i := range p {
		p[i] = byte(i * 5)
	}
	return p
}()

// selfTest tracks the TEST command in flight
type selfTest struct {
	mu       sync.Mutex
	inFlight bool
	done     chan struct{}
	errors   int
}

// RunSelfTest sends a TEST command on the control channel and compares
// the echoed pattern. Only one self test runs at a time.
func (m *Mux) RunSelfTest(ctx context.Context) error {
	m.openMu.Lock()
	err := m.connect(ctx, 0, false)
	m.openMu.Unlock()
	if err != nil {
		return err
	}

	st := &m.selfTest
	st.mu.Lock()
	if st.inFlight {
		st.mu.Unlock()
		return ErrBusy
	}
	st.inFlight = true
	st.errors = 0
	st.done = make(chan struct{})
	done := st.done
	st.mu.Unlock()

	defer func() {
		st.mu.Lock()
		st.inFlight = false
		st.done = nil
		st.mu.Unlock()
	}()

	m.sendMCC(link.MCC{Type: link.CmdTEST, Command: true, Value: selfTestPattern})

	timer, stop := deadline(m.cfg.SelfTestTimeout)
	defer stop()

	err = m.await(ctx, timer, false, func() <-chan struct{} { return done }, nil, func() (bool, error) {
		select {
		case <-done:
		default:
			return false, nil
		}
		st.mu.Lock()
		n := st.errors
		st.mu.Unlock()
		if n > 0 {
			return true, fmt.Errorf("%w: %d bytes differ", ErrSelfTestFailed, n)
		}
		return true, nil
	})
	if err == nil {
		m.log.Info("%s: self test passed", m.name)
	}
	return err
}

// completeSelfTest compares a TEST response against the pattern
func (m *Mux) completeSelfTest(echo []byte) {
	st := &m.selfTest
	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.inFlight || st.done == nil {
		m.log.Debug("%s: unexpected TEST response", m.name)
		return
	}
	select {
	case <-st.done:
		return
	default:
	}

	n := len(selfTestPattern)
	if len(echo) != n {
		st.errors += max(len(echo), n) - min(len(echo), n)
		n = min(len(echo), n)
	}
	for i := 0; i < n; i++ {
		if echo[i] != selfTestPattern[i] {
			st.errors++
		}
	}
	close(st.done)
}

// abort forgets a self test interrupted by recovery
func (st *selfTest) abort() {
	st.mu.Lock()
	st.done = nil
	st.mu.Unlock()
}
