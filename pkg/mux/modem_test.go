package mux

import (
	"context"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"avaneesh/ts0710-go/pkg/at"
	"avaneesh/ts0710-go/pkg/channel"
	"avaneesh/ts0710-go/pkg/link"
)

// sabmPolicy is how the fake modem answers SABM on a DLCI
type sabmPolicy int

const (
	sabmAccept sabmPolicy = iota
	sabmReject
	sabmIgnore
)

// fakeModem is a scripted modem on the far end of a net.Pipe. It answers
// the AT handshake, accepts SABM and DISC, echoes control commands and
// records every frame it receives.
type fakeModem struct {
	conn    net.Conn
	muxMode atomic.Bool
	frames  chan *link.Frame
	done    chan struct{}

	mu          sync.Mutex
	received    []*link.Frame
	atLines     []string
	policy      map[uint8]sabmPolicy
	silentAT    bool
	trailer     []byte // sent right after the AT+CMUX answer
	pnSize      uint16 // frame size put in PN responses, 0 = echo
	ignoreTest  bool
	corruptTest bool
	gate        chan struct{}
}

func newFakeModem(conn net.Conn) *fakeModem {
	return &fakeModem{
		conn:   conn,
		frames: make(chan *link.Frame, 4096),
		done:   make(chan struct{}),
		policy: make(map[uint8]sabmPolicy),
	}
}

func (fm *fakeModem) run() {
	defer close(fm.done)

	buf := make([]byte, 4096)
	sc := &at.Scanner{}
	var framer *link.Framer

	for {
		fm.waitGate()
		n, err := fm.conn.Read(buf)
		if err != nil {
			return
		}
		data := buf[:n]

		if !fm.muxMode.Load() {
			framer = nil
			data = fm.handleAT(sc, data)
			if !fm.muxMode.Load() || len(data) == 0 {
				continue
			}
		}
		if framer == nil {
			framer = link.NewFramer(0, nil)
		}
		for _, f := range framer.Feed(data) {
			fm.handleFrame(f)
		}
	}
}

// handleAT answers AT commands and returns bytes following AT+CMUX
func (fm *fakeModem) handleAT(sc *at.Scanner, data []byte) []byte {
	for _, line := range sc.Feed(data) {
		// Frame bytes left over from a previous session may prefix the line
		var cmd string
		switch line = strings.TrimSpace(line); {
		case strings.Contains(line, "AT+CMUX"):
			cmd = line[strings.Index(line, "AT+CMUX"):]
		case strings.HasSuffix(line, "AT"):
			cmd = "AT"
		default:
			continue
		}

		fm.mu.Lock()
		fm.atLines = append(fm.atLines, cmd)
		silent := fm.silentAT
		trailer := fm.trailer
		fm.mu.Unlock()

		if silent {
			continue
		}
		if cmd == "AT" {
			fm.write([]byte("\r\nOK\r\n"))
			continue
		}
		fm.muxMode.Store(true)
		fm.write(append([]byte("\r\nOK\r\n"), trailer...))
		return sc.Rest()
	}
	return nil
}

func (fm *fakeModem) handleFrame(f *link.Frame) {
	fm.mu.Lock()
	fm.received = append(fm.received, f)
	policy := fm.policy[f.DLCI]
	fm.mu.Unlock()

	select {
	case fm.frames <- f:
	default:
	}

	switch f.Type {
	case link.FrameSABM:
		switch policy {
		case sabmAccept:
			fm.send(link.NewFrame(f.DLCI, false, link.FrameUA, nil))
		case sabmReject:
			fm.send(link.NewFrame(f.DLCI, false, link.FrameDM, nil))
		}
	case link.FrameDISC:
		fm.send(link.NewFrame(f.DLCI, false, link.FrameUA, nil))
	case link.FrameUIH:
		if f.DLCI == 0 {
			fm.handleMCC(f.Payload)
		}
	}
}

func (fm *fakeModem) handleMCC(payload []byte) {
	cmds, _ := link.ParseMCC(payload)
	for _, c := range cmds {
		if !c.Command {
			continue
		}
		value := append([]byte(nil), c.Value...)

		fm.mu.Lock()
		ignoreTest, corruptTest, pnSize := fm.ignoreTest, fm.corruptTest, fm.pnSize
		fm.mu.Unlock()

		switch c.Type {
		case link.CmdTEST:
			if ignoreTest {
				continue
			}
			if corruptTest && len(value) > 0 {
				value[0] ^= 0xFF
			}
		case link.CmdPN:
			if p, err := link.DecodePN(value); err == nil && pnSize != 0 {
				p.FrameSize = pnSize
				value = p.Encode()
			}
		}
		fm.sendMCC(link.MCC{Type: c.Type, Command: false, Value: value})
	}
}

func (fm *fakeModem) write(p []byte) {
	fm.conn.Write(p)
}

// send writes a frame to the mux
func (fm *fakeModem) send(f *link.Frame) {
	data, err := f.Serialize()
	if err != nil {
		panic(err)
	}
	fm.write(data)
}

// sendMCC writes a control message on DLCI 0
func (fm *fakeModem) sendMCC(c link.MCC) {
	fm.send(link.NewFrame(0, false, link.FrameUIH, c.Bytes()))
}

func (fm *fakeModem) setPolicy(dlci uint8, p sabmPolicy) {
	fm.mu.Lock()
	fm.policy[dlci] = p
	fm.mu.Unlock()
}

func (fm *fakeModem) configure(fn func(fm *fakeModem)) {
	fm.mu.Lock()
	fn(fm)
	fm.mu.Unlock()
}

// reboot puts the modem back into AT command mode
func (fm *fakeModem) reboot() {
	fm.muxMode.Store(false)
}

// pause stops reading after the read in progress
func (fm *fakeModem) pause() {
	fm.mu.Lock()
	if fm.gate == nil {
		fm.gate = make(chan struct{})
	}
	fm.mu.Unlock()
}

func (fm *fakeModem) resume() {
	fm.mu.Lock()
	if fm.gate != nil {
		close(fm.gate)
		fm.gate = nil
	}
	fm.mu.Unlock()
}

func (fm *fakeModem) waitGate() {
	fm.mu.Lock()
	g := fm.gate
	fm.mu.Unlock()
	if g != nil {
		<-g
	}
}

func (fm *fakeModem) close() {
	fm.resume()
	fm.conn.Close()
	<-fm.done
}

// count returns how many frames of type t arrived on dlci
func (fm *fakeModem) count(t link.FrameType, dlci uint8) int {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	n := 0
	for _, f := range fm.received {
		if f.Type == t && f.DLCI == dlci {
			n++
		}
	}
	return n
}

func (fm *fakeModem) commands() []string {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return append([]string(nil), fm.atLines...)
}

// expect waits for the next frame matching match, skipping others
func (fm *fakeModem) expect(t *testing.T, match func(*link.Frame) bool) *link.Frame {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case f := <-fm.frames:
			if match(f) {
				return f
			}
		case <-timeout:
			t.Fatalf("expected frame not received")
			return nil
		}
	}
}

// expectMCC waits for a control message of type typ
func (fm *fakeModem) expectMCC(t *testing.T, typ link.CommandType, command bool) link.MCC {
	t.Helper()
	var found link.MCC
	fm.expect(t, func(f *link.Frame) bool {
		if f.DLCI != 0 || f.Type != link.FrameUIH {
			return false
		}
		cmds, err := link.ParseMCC(f.Payload)
		if err != nil {
			return false
		}
		for _, c := range cmds {
			if c.Type == typ && c.Command == command {
				found = c
				return true
			}
		}
		return false
	})
	return found
}

func frameOf(t link.FrameType, dlci uint8) func(*link.Frame) bool {
	return func(f *link.Frame) bool {
		return f.Type == t && f.DLCI == dlci
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxChannels = 8
	cfg.OpenTimeout = 300 * time.Millisecond
	cfg.OpenRetries = 2
	cfg.CloseTimeout = 300 * time.Millisecond
	cfg.SelfTestTimeout = 300 * time.Millisecond
	cfg.Handshake.Timeout = 200 * time.Millisecond
	cfg.Handshake.Retries = 2
	cfg.AutoRecover = false
	cfg.RecoveryDelay = 10 * time.Millisecond
	return cfg
}

// newTestMux wires a mux to a fake modem without starting it
func newTestMux(t *testing.T, modify func(*Config), setup func(*fakeModem)) (*Mux, *fakeModem) {
	t.Helper()

	a, b := net.Pipe()
	fm := newFakeModem(b)
	if setup != nil {
		setup(fm)
	}
	go fm.run()

	cfg := testConfig()
	if modify != nil {
		modify(&cfg)
	}
	phys := channel.NewStreamChannel(a, channel.StreamChannelConfig{PollInterval: 10 * time.Millisecond})
	m, err := New(phys, cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		fm.resume()
		m.Close()
		fm.close()
	})
	return m, fm
}

// startTestMux returns a started mux with DLCI 0 connected
func startTestMux(t *testing.T, modify func(*Config), setup func(*fakeModem)) (*Mux, *fakeModem) {
	t.Helper()
	m, fm := newTestMux(t, modify, setup)
	require.NoError(t, m.Start(testContext(t)))
	fm.expect(t, frameOf(link.FrameSABM, 0))
	return m, fm
}

// openLine opens a line and waits for the modem to see its MSC
func openLine(t *testing.T, m *Mux, fm *fakeModem, n int) {
	t.Helper()
	require.NoError(t, m.Open(testContext(t), n))
	fm.expectMCC(t, link.CmdMSC, true)
	time.Sleep(20 * time.Millisecond)
}

// pending counts frames still queued on a line
func pending(m *Mux, n int) int {
	l, err := m.router.line(n)
	if err != nil {
		return 0
	}
	ring, _ := l.queues()
	if ring == nil {
		return 0
	}
	return ring.Len()
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func contextWithCancel(t *testing.T) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx, cancel
}
