package mux

import (
	"bytes"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"avaneesh/ts0710-go/pkg/link"
)

func TestNew(t *testing.T) {
	_, err := New(nil, DefaultConfig())
	assert.Error(t, err)

	m, _ := newTestMux(t, nil, nil)
	assert.Equal(t, StatusNotReady, m.Status())
	assert.Contains(t, m.String(), "NotReady")
}

func TestStartHandshake(t *testing.T) {
	m, fm := startTestMux(t, nil, nil)

	assert.Equal(t, StatusReady, m.Status())
	assert.Equal(t, StateConnected, m.DLCIState(0))
	assert.Equal(t, []string{"AT", "AT+CMUX=0"}, fm.commands())

	// Second start is a no-op
	require.NoError(t, m.Start(testContext(t)))
	assert.Equal(t, 1, fm.count(link.FrameSABM, 0))
}

func TestStartHandshakeDisabled(t *testing.T) {
	m, fm := newTestMux(t, func(c *Config) {
		c.Handshake.Disabled = true
	}, nil)
	fm.muxMode.Store(true)

	require.NoError(t, m.Start(testContext(t)))
	assert.Empty(t, fm.commands())
	assert.Equal(t, StateConnected, m.DLCIState(0))
}

func TestStartHandshakeFailure(t *testing.T) {
	m, fm := newTestMux(t, nil, func(fm *fakeModem) {
		fm.silentAT = true
	})

	err := m.Start(testContext(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrHandshakeFailed))
	assert.Equal(t, StatusNotReady, m.Status())
	assert.Len(t, fm.commands(), 2, "wake command retried")

	err = m.Open(testContext(t), 1)
	assert.True(t, errors.Is(err, ErrNoDevice))
}

func TestStartHandshakeLeftover(t *testing.T) {
	test := link.MCC{Type: link.CmdTEST, Command: true, Value: []byte("early")}
	early, err := link.NewFrame(0, false, link.FrameUIH, test.Bytes()).Serialize()
	require.NoError(t, err)

	_, fm := startTestMux(t, nil, func(fm *fakeModem) {
		fm.trailer = early
	})

	resp := fm.expectMCC(t, link.CmdTEST, false)
	assert.Equal(t, []byte("early"), resp.Value)
}

func TestOpenConnectsDLCI(t *testing.T) {
	m, fm := startTestMux(t, nil, nil)

	require.NoError(t, m.Open(testContext(t), 1))
	assert.Equal(t, StateConnected, m.DLCIState(1))

	msc := fm.expectMCC(t, link.CmdMSC, true)
	p, err := link.DecodeMSC(msc.Value)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), p.DLCI)
	assert.Equal(t, link.SignalRTC|link.SignalRTR|link.SignalDV|link.SignalEA, p.Signals)
}

func TestOpenIsIdempotent(t *testing.T) {
	m, fm := startTestMux(t, nil, nil)

	require.NoError(t, m.Open(testContext(t), 1))
	require.NoError(t, m.Open(testContext(t), 1))
	assert.Equal(t, 1, fm.count(link.FrameSABM, 1))
	assert.Equal(t, 1, fm.count(link.FrameSABM, 0))
}

func TestOpenInvalidLine(t *testing.T) {
	m, _ := startTestMux(t, nil, nil)

	for _, n := range []int{-1, 0, 8} {
		err := m.Open(testContext(t), n)
		assert.True(t, errors.Is(err, ErrInvalidLine), "line %d", n)
	}
}

func TestOpenRejected(t *testing.T) {
	m, fm := startTestMux(t, nil, func(fm *fakeModem) {
		fm.policy[2] = sabmReject
	})

	err := m.Open(testContext(t), 2)
	assert.True(t, errors.Is(err, ErrRejected))
	assert.Equal(t, StateRejected, m.DLCIState(2))
	assert.Equal(t, 1, fm.count(link.FrameSABM, 2), "rejection is not retried")

	_, err = m.Write(testContext(t), 2, []byte("x"), 0)
	assert.True(t, errors.Is(err, ErrNotConnected))

	// A later open tries again
	fm.setPolicy(2, sabmAccept)
	require.NoError(t, m.Open(testContext(t), 2))
	assert.Equal(t, StateConnected, m.DLCIState(2))
}

func TestOpenTimeout(t *testing.T) {
	m, fm := startTestMux(t, nil, func(fm *fakeModem) {
		fm.policy[3] = sabmIgnore
	})

	start := time.Now()
	err := m.Open(testContext(t), 3)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.GreaterOrEqual(t, time.Since(start), 2*300*time.Millisecond)
	assert.Equal(t, 2, fm.count(link.FrameSABM, 3))
	assert.Equal(t, StateDisconnected, m.DLCIState(3))
	assert.False(t, m.router.lines[3].isOpen())
}

func TestCloseLine(t *testing.T) {
	m, fm := startTestMux(t, nil, nil)

	// Not open
	require.NoError(t, m.CloseLine(1))
	assert.Equal(t, 0, fm.count(link.FrameDISC, 1))

	require.NoError(t, m.Open(testContext(t), 1))
	require.NoError(t, m.CloseLine(1))
	assert.Equal(t, StateDisconnected, m.DLCIState(1))
	assert.Equal(t, 1, fm.count(link.FrameDISC, 1))

	// Already closed
	require.NoError(t, m.CloseLine(1))
	assert.Equal(t, 1, fm.count(link.FrameDISC, 1))

	_, err := m.Write(testContext(t), 1, []byte("x"), 0)
	assert.True(t, errors.Is(err, ErrNotConnected))
}

func TestCloseLineKeepsSharedDLCI(t *testing.T) {
	m, fm := startTestMux(t, func(c *Config) {
		c.Lines = []uint8{0, 1, 1}
	}, nil)

	require.NoError(t, m.Open(testContext(t), 1))
	require.NoError(t, m.Open(testContext(t), 2))
	assert.Equal(t, 1, fm.count(link.FrameSABM, 1))

	// Lowest open line receives
	fm.send(link.NewFrame(1, false, link.FrameUIH, []byte("first")))
	buf := make([]byte, 16)
	n, err := m.Read(testContext(t), 1, buf, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "first", string(buf[:n]))

	require.NoError(t, m.CloseLine(1))
	assert.Equal(t, 0, fm.count(link.FrameDISC, 1))
	assert.Equal(t, StateConnected, m.DLCIState(1))

	fm.send(link.NewFrame(1, false, link.FrameUIH, []byte("second")))
	n, err = m.Read(testContext(t), 2, buf, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "second", string(buf[:n]))

	require.NoError(t, m.CloseLine(2))
	assert.Equal(t, 1, fm.count(link.FrameDISC, 1))
}

func TestOpenWhileCloseLineDrains(t *testing.T) {
	m, fm := startTestMux(t, nil, nil)
	openLine(t, m, fm, 1)

	fm.pause()
	for i := 0; i < 3; i++ {
		_, err := m.Write(testContext(t), 1, []byte("queued"), time.Second)
		require.NoError(t, err)
	}

	closed := make(chan error, 1)
	go func() {
		closed <- m.CloseLine(1)
	}()
	time.Sleep(30 * time.Millisecond)

	// The close is still waiting for the ring to drain
	require.NoError(t, m.Open(testContext(t), 1))
	fm.resume()

	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("CloseLine did not return")
	}

	assert.Equal(t, StateConnected, m.DLCIState(1))
	assert.Equal(t, 0, fm.count(link.FrameDISC, 1))

	n, err := m.Write(testContext(t), 1, []byte("after"), time.Second)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	fm.expect(t, func(f *link.Frame) bool {
		return f.Type == link.FrameUIH && f.DLCI == 1 && string(f.Payload) == "after"
	})
}

func TestClose(t *testing.T) {
	m, fm := startTestMux(t, nil, nil)
	require.NoError(t, m.Open(testContext(t), 1))
	require.NoError(t, m.Open(testContext(t), 3))

	require.NoError(t, m.Close())

	fm.expect(t, frameOf(link.FrameDISC, 3))
	fm.expect(t, frameOf(link.FrameDISC, 1))
	fm.expect(t, frameOf(link.FrameDISC, 0))

	assert.True(t, errors.Is(m.Open(testContext(t), 1), ErrClosed))
	_, err := m.Write(testContext(t), 1, []byte("x"), 0)
	assert.Error(t, err)

	require.NoError(t, m.Close())
}

func TestCloseNeverStarted(t *testing.T) {
	m, fm := newTestMux(t, nil, nil)
	require.NoError(t, m.Close())
	assert.Empty(t, fm.commands())
	assert.True(t, errors.Is(m.Start(testContext(t)), ErrClosed))
}

func TestWriteSendsUIH(t *testing.T) {
	m, fm := startTestMux(t, nil, nil)
	openLine(t, m, fm, 1)

	payload := bytes.Repeat([]byte{0xA5}, 100)
	n, err := m.Write(testContext(t), 1, payload, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 100, n)

	f := fm.expect(t, frameOf(link.FrameUIH, 1))
	assert.Equal(t, payload, f.Payload)
	assert.True(t, f.CR)

	assert.False(t, m.LineBusy(1))
	assert.Eventually(t, func() bool { return pending(m, 1) == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(0), m.Statistics().GetDroppedTxFrames())
}

func TestWriteSplitsByMTU(t *testing.T) {
	m, fm := startTestMux(t, func(c *Config) {
		c.DefaultMTU = 64
	}, nil)
	openLine(t, m, fm, 1)

	payload := make([]byte, 150)
	for i := range payload {
		payload[i] = byte(i)
	}
	n, err := m.Write(testContext(t), 1, payload, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 150, n)

	var got []byte
	for _, size := range []int{64, 64, 22} {
		f := fm.expect(t, frameOf(link.FrameUIH, 1))
		assert.Len(t, f.Payload, size)
		got = append(got, f.Payload...)
	}
	assert.Equal(t, payload, got)
}

func TestWriteDrainEventFiresOnce(t *testing.T) {
	m, fm := startTestMux(t, func(c *Config) {
		c.DefaultMTU = 32
	}, nil)

	var writable, other atomic.Int32
	require.NoError(t, m.RegisterEventHandler(1, func(line int, ev Event) {
		if ev == EventWritable && line == 1 {
			writable.Add(1)
		} else {
			other.Add(1)
		}
	}))
	openLine(t, m, fm, 1)

	_, err := m.Write(testContext(t), 1, make([]byte, 64), time.Second)
	require.NoError(t, err)

	fm.expect(t, frameOf(link.FrameUIH, 1))
	fm.expect(t, frameOf(link.FrameUIH, 1))

	assert.Eventually(t, func() bool { return writable.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), writable.Load())
	assert.Equal(t, int32(0), other.Load())
}

func TestWriteBackPressure(t *testing.T) {
	m, fm := startTestMux(t, func(c *Config) {
		c.SendRingSlots = 2
		c.DefaultMTU = 64
	}, nil)
	openLine(t, m, fm, 1)

	fm.pause()

	busy := false
	for i := 0; i < 50; i++ {
		_, err := m.Write(testContext(t), 1, make([]byte, 64), 0)
		if errors.Is(err, ErrBusy) {
			busy = true
			break
		}
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, busy, "ring never filled")
	assert.True(t, m.LineBusy(1))
	assert.False(t, m.Poll(1).Writable)

	// A bounded write times out without queuing anything
	n, err := m.Write(testContext(t), 1, make([]byte, 64), 30*time.Millisecond)
	assert.Equal(t, 0, n)
	assert.True(t, errors.Is(err, ErrTimeout))

	fm.resume()
	assert.Eventually(t, func() bool { return pending(m, 1) == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, m.Poll(1).Writable)
}

func TestWriteBlocksUntilSpace(t *testing.T) {
	m, fm := startTestMux(t, func(c *Config) {
		c.SendRingSlots = 1
		c.DefaultMTU = 16
	}, nil)
	openLine(t, m, fm, 1)

	n, err := m.Write(testContext(t), 1, make([]byte, 16*8), 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 128, n)

	for i := 0; i < 8; i++ {
		fm.expect(t, frameOf(link.FrameUIH, 1))
	}
}

func TestReadReceivedData(t *testing.T) {
	m, fm := startTestMux(t, nil, nil)

	var readable atomic.Int32
	require.NoError(t, m.RegisterEventHandler(1, func(line int, ev Event) {
		if ev == EventReadable {
			readable.Add(1)
		}
	}))
	openLine(t, m, fm, 1)

	buf := make([]byte, 64)
	_, err := m.Read(testContext(t), 1, buf, 0)
	assert.True(t, errors.Is(err, ErrBusy))

	_, err = m.Read(testContext(t), 1, buf, 20*time.Millisecond)
	assert.True(t, errors.Is(err, ErrTimeout))

	fm.send(link.NewFrame(1, false, link.FrameUIH, []byte("+CSQ: 20,99\r\n")))
	n, err := m.Read(testContext(t), 1, buf, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "+CSQ: 20,99\r\n", string(buf[:n]))
	assert.Equal(t, int32(1), readable.Load())
	assert.False(t, m.Poll(1).Readable)
}

func TestReadBlocksForData(t *testing.T) {
	m, fm := startTestMux(t, nil, nil)
	openLine(t, m, fm, 1)

	go func() {
		time.Sleep(30 * time.Millisecond)
		fm.send(link.NewFrame(1, false, link.FrameUIH, []byte("late")))
	}()

	buf := make([]byte, 8)
	n, err := m.Read(testContext(t), 1, buf, -1)
	require.NoError(t, err)
	assert.Equal(t, "late", string(buf[:n]))
}

func TestReadNotOpen(t *testing.T) {
	m, _ := startTestMux(t, nil, nil)
	_, err := m.Read(testContext(t), 1, make([]byte, 4), 0)
	assert.True(t, errors.Is(err, ErrNotConnected))
}

func TestReadInterrupted(t *testing.T) {
	m, fm := startTestMux(t, nil, nil)
	openLine(t, m, fm, 1)

	ctx, cancel := contextWithCancel(t)
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := m.Read(ctx, 1, make([]byte, 4), -1)
	assert.True(t, errors.Is(err, ErrInterrupted))
}

func TestReadTimeoutCoversOtherReaders(t *testing.T) {
	m, fm := startTestMux(t, nil, nil)
	openLine(t, m, fm, 1)

	ctx, cancel := contextWithCancel(t)
	first := make(chan error, 1)
	go func() {
		_, err := m.Read(ctx, 1, make([]byte, 8), -1)
		first <- err
	}()
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	_, err := m.Read(testContext(t), 1, make([]byte, 8), 0)
	assert.True(t, errors.Is(err, ErrBusy))
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	start = time.Now()
	_, err = m.Read(testContext(t), 1, make([]byte, 8), 30*time.Millisecond)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	cancel()
	select {
	case err := <-first:
		assert.True(t, errors.Is(err, ErrInterrupted))
	case <-time.After(time.Second):
		t.Fatal("blocked reader not interrupted")
	}
}

func TestReceiveBacklogLimit(t *testing.T) {
	m, fm := startTestMux(t, func(c *Config) {
		c.DefaultMTU = 32
		c.MaxReceiveBacklog = 64
	}, nil)
	openLine(t, m, fm, 1)

	for i := 0; i < 3; i++ {
		fm.send(link.NewFrame(1, false, link.FrameUIH, bytes.Repeat([]byte{byte(i)}, 32)))
	}
	assert.Eventually(t, func() bool {
		return m.Statistics().GetDroppedRxBytes() == 32
	}, time.Second, 5*time.Millisecond)

	buf := make([]byte, 128)
	n, err := m.Read(testContext(t), 1, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 64, n)
}

func TestStatisticsCountFrames(t *testing.T) {
	m, fm := startTestMux(t, nil, nil)
	openLine(t, m, fm, 1)

	bad, err := link.NewFrame(1, false, link.FrameUIH, []byte("bad")).Serialize()
	require.NoError(t, err)
	bad[len(bad)-2] ^= 0x01
	fm.write(bad)
	fm.send(link.NewFrame(1, false, link.FrameUIH, []byte("good")))

	buf := make([]byte, 8)
	n, err := m.Read(testContext(t), 1, buf, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "good", string(buf[:n]))

	stats := m.Statistics()
	assert.Equal(t, uint64(1), stats.GetCRCErrors())
	assert.NotZero(t, stats.GetFramesTx())
	assert.NotZero(t, stats.GetFramesRx())
	assert.NotZero(t, m.TransportStatistics().BytesSent)
}
