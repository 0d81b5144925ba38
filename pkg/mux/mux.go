// Package mux implements a TS 07.10 basic mode multiplexer: many logical
// lines carried over one physical byte stream to a cellular modem.
package mux

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"avaneesh/ts0710-go/pkg/channel"
	"avaneesh/ts0710-go/pkg/internal/logger"
	"avaneesh/ts0710-go/pkg/internal/queue"
	"avaneesh/ts0710-go/pkg/link"
)

// Mux is one multiplexer session bound to a physical channel
type Mux struct {
	cfg   Config
	name  string
	phys  channel.PhysicalChannel
	log   logger.Logger
	tap   FrameTap
	stats *Statistics

	status    atomic.Int32
	statusSig queue.Signal

	dlcis     []*dlciEntry
	router    *router
	initiator bool
	flowOff   atomic.Bool

	openMu    sync.Mutex // serializes SABM and DISC sequences
	recoverMu sync.Mutex // one handshake or recovery at a time

	// Control frames bypass the data rings
	ctrlMu sync.Mutex
	ctrlQ  [][]byte
	wake   chan struct{}

	selfTest selfTest

	// Lifecycle
	lifeMu     sync.Mutex
	started    bool
	closing    bool
	closed     atomic.Bool
	sess       *session
	recoverReq chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// session is one generation of send and receive workers
type session struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a mux over physical. Start must be called before use.
func New(physical channel.PhysicalChannel, config Config) (*Mux, error) {
	if physical == nil {
		return nil, fmt.Errorf("physical channel is required")
	}
	config = config.withDefaults()
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid mux config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	m := &Mux{
		cfg:        config,
		name:       config.Name,
		phys:       physical,
		log:        config.Logger,
		tap:        config.Tap,
		stats:      NewStatistics(),
		dlcis:      make([]*dlciEntry, config.MaxChannels),
		router:     newRouter(config.MaxChannels, config.Lines),
		initiator:  true,
		wake:       make(chan struct{}, 1),
		recoverReq: make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
	}
	for i := range m.dlcis {
		m.dlcis[i] = newDLCIEntry(uint8(i), config.DefaultMTU)
	}
	return m, nil
}

// Start runs the handshake, starts the workers and connects the control
// channel. When the handshake fails the mux stays NotReady and, with
// AutoRecover, keeps retrying in the background.
func (m *Mux) Start(ctx context.Context) error {
	m.lifeMu.Lock()
	if m.closing {
		m.lifeMu.Unlock()
		return ErrClosed
	}
	if m.started {
		m.lifeMu.Unlock()
		return nil
	}
	m.started = true
	m.lifeMu.Unlock()

	m.phys.SetConnectionStateListener(transportListener{m})

	m.wg.Add(1)
	go m.supervise()

	m.recoverMu.Lock()
	leftover, err := m.handshake(ctx)
	if err != nil {
		m.recoverMu.Unlock()
		m.log.Error("%s: handshake failed: %v", m.name, err)
		m.requestRecovery()
		return err
	}
	m.startSession(leftover)
	m.setStatus(StatusReady)
	m.recoverMu.Unlock()

	m.log.Info("%s: started", m.name)

	m.openMu.Lock()
	defer m.openMu.Unlock()
	if err := m.connect(ctx, 0, false); err != nil {
		return fmt.Errorf("open control channel: %w", err)
	}
	return nil
}

// Close disconnects every open DLCI, control channel last, stops the
// workers and closes the physical channel
func (m *Mux) Close() error {
	m.lifeMu.Lock()
	if m.closing {
		m.lifeMu.Unlock()
		return nil
	}
	m.closing = true
	started := m.started
	m.lifeMu.Unlock()

	m.log.Info("%s: closing", m.name)

	if started && m.Status() == StatusReady {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CloseTimeout)
		m.openMu.Lock()
		for i := len(m.dlcis) - 1; i >= 0; i-- {
			if m.dlcis[i].State().established() {
				if err := m.disconnect(ctx, uint8(i)); err != nil {
					m.log.Debug("%s: DLCI %d: %v", m.name, i, err)
				}
			}
		}
		m.openMu.Unlock()
		cancel()
	}

	m.closed.Store(true)
	m.cancel()
	m.statusSig.Broadcast()
	m.stopSession()
	m.wg.Wait()
	m.wakeQueues()

	err := m.phys.Close()
	m.log.Info("%s: closed", m.name)
	return err
}

// startSession launches the send and receive workers
func (m *Mux) startSession(leftover []byte) {
	ctx, cancel := context.WithCancel(m.ctx)
	g, gctx := errgroup.WithContext(ctx)
	framer := link.NewFramer(link.EncodedSize(m.cfg.MaxMTU), m.onFrameError)

	s := &session{cancel: cancel, done: make(chan struct{})}

	g.Go(func() error {
		return m.sendLoop(gctx)
	})
	g.Go(func() error {
		return m.receiveLoop(gctx, framer, leftover)
	})

	go func() {
		defer close(s.done)
		if err := g.Wait(); err != nil && ctx.Err() == nil {
			m.crash(err)
		}
	}()

	m.lifeMu.Lock()
	m.sess = s
	m.lifeMu.Unlock()
}

// stopSession stops the workers and waits for them
func (m *Mux) stopSession() {
	m.lifeMu.Lock()
	s := m.sess
	m.sess = nil
	m.lifeMu.Unlock()

	if s == nil {
		return
	}
	s.cancel()
	if err := m.phys.Stop(); err != nil {
		m.log.Debug("%s: stop transport: %v", m.name, err)
	}
	<-s.done
}

// Status returns the operating status
func (m *Mux) Status() Status {
	return Status(m.status.Load())
}

func (m *Mux) setStatus(s Status) {
	m.status.Store(int32(s))
	m.statusSig.Broadcast()
}

// statusErr maps the operating status to the error a blocked caller sees.
// The recovery path itself runs while Recovering.
func (m *Mux) statusErr(recovering bool) error {
	if m.closed.Load() {
		return ErrClosed
	}
	switch m.Status() {
	case StatusReady:
		return nil
	case StatusRecovering:
		if recovering {
			return nil
		}
		return ErrDeviceCrashed
	case StatusCrashed:
		return ErrDeviceCrashed
	default:
		return ErrNoDevice
	}
}

// await blocks until cond reports done, the status forbids waiting, ctx
// ends or timer fires. a and b return wake-up channels taken before each
// check.
func (m *Mux) await(ctx context.Context, timer <-chan time.Time, recovering bool, a, b func() <-chan struct{}, cond func() (bool, error)) error {
	for {
		var wa, wb <-chan struct{}
		if a != nil {
			wa = a()
		}
		if b != nil {
			wb = b()
		}
		st := m.statusSig.C()

		if err := m.statusErr(recovering); err != nil {
			return err
		}
		if done, err := cond(); done {
			return err
		}

		select {
		case <-wa:
		case <-wb:
		case <-st:
		case <-ctx.Done():
			return interrupted(ctx.Err())
		case <-timer:
			return ErrTimeout
		}
	}
}

// deadline returns a timer channel for timeout; non-positive timeouts
// never fire
func deadline(timeout time.Duration) (<-chan time.Time, func()) {
	if timeout <= 0 {
		return nil, func() {}
	}
	t := time.NewTimer(timeout)
	return t.C, func() { t.Stop() }
}

// kick wakes the send worker
func (m *Mux) kick() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// wakeQueues wakes every blocked reader and writer
func (m *Mux) wakeQueues() {
	for _, l := range m.router.lines {
		ring, rq := l.queues()
		if ring != nil {
			ring.WakeWriters()
		}
		if rq != nil {
			rq.WakeReaders()
		}
	}
}

// notify delivers ev to the line's handler
func (m *Mux) notify(l *line, ev Event) {
	if h := l.eventHandler(); h != nil {
		h(l.num, ev)
	}
}

// cmdCR is the C/R bit of commands we send
func (m *Mux) cmdCR() bool {
	return m.initiator
}

// respCR is the C/R bit of responses we send
func (m *Mux) respCR() bool {
	return !m.initiator
}

// DLCIState returns the state of dlci
func (m *Mux) DLCIState(dlci uint8) DLCIState {
	if int(dlci) >= len(m.dlcis) {
		return StateDisconnected
	}
	return m.dlcis[dlci].State()
}

// DLCIMTU returns the negotiated payload size of dlci
func (m *Mux) DLCIMTU(dlci uint8) int {
	if int(dlci) >= len(m.dlcis) {
		return 0
	}
	return m.dlcis[dlci].MTU()
}

// Statistics returns mux statistics
func (m *Mux) Statistics() *Statistics {
	return m.stats
}

// TransportStatistics returns physical channel statistics
func (m *Mux) TransportStatistics() channel.TransportStats {
	return m.phys.Statistics()
}

// String returns string representation of the mux
func (m *Mux) String() string {
	connected := 0
	for _, d := range m.dlcis[1:] {
		if d.State().established() {
			connected++
		}
	}
	return fmt.Sprintf("Mux{Name=%s, Status=%s, DLCIs=%d, FramesTx=%d, FramesRx=%d}",
		m.name, m.Status(), connected, m.stats.GetFramesTx(), m.stats.GetFramesRx())
}

// transportListener turns connection events into crash and recovery
type transportListener struct {
	m *Mux
}

func (l transportListener) OnConnectionEstablished() {
	if l.m.Status() != StatusReady {
		l.m.requestRecovery()
	}
}

func (l transportListener) OnConnectionLost() {
	l.m.crash(ErrConnectionLost)
}
