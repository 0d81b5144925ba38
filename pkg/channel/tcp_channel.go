package channel

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// TCPChannel implements PhysicalChannel for a modem exposed over TCP,
// e.g. through ser2net or a remote serial bridge
type TCPChannel struct {
	// Connection
	conn     net.Conn
	connLock sync.RWMutex
	writeMu  sync.Mutex

	// Configuration
	address        string
	isServer       bool
	listener       net.Listener
	reconnectDelay time.Duration
	pollInterval   time.Duration
	writeTimeout   time.Duration

	stats  counters
	notify notifier

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// TCPChannelConfig configures a TCP channel
type TCPChannelConfig struct {
	Address        string        // "host:port" format
	IsServer       bool          // true = listen, false = connect
	ReconnectDelay time.Duration // Delay between reconnection attempts (client only)
	PollInterval   time.Duration // Longest wait inside one Read
	WriteTimeout   time.Duration // Write timeout (0 = no timeout)
}

// NewTCPChannel creates a new TCP channel
func NewTCPChannel(config TCPChannelConfig) (*TCPChannel, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("address is required")
	}

	// Set defaults
	if config.ReconnectDelay == 0 {
		config.ReconnectDelay = 5 * time.Second
	}
	if config.PollInterval == 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	tc := &TCPChannel{
		address:        config.Address,
		isServer:       config.IsServer,
		reconnectDelay: config.ReconnectDelay,
		pollInterval:   config.PollInterval,
		writeTimeout:   config.WriteTimeout,
		ctx:            ctx,
		cancel:         cancel,
	}

	// Initialize connection
	if config.IsServer {
		if err := tc.startServer(); err != nil {
			cancel()
			return nil, err
		}
	} else {
		if err := tc.connect(); err != nil {
			cancel()
			return nil, err
		}
	}

	return tc, nil
}

// startServer starts listening for incoming connections
func (tc *TCPChannel) startServer() error {
	listener, err := net.Listen("tcp", tc.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", tc.address, err)
	}

	tc.listener = listener

	tc.wg.Add(1)
	go tc.acceptLoop()

	return nil
}

// acceptLoop accepts incoming connections. A new peer replaces the old one.
func (tc *TCPChannel) acceptLoop() {
	defer tc.wg.Done()

	for {
		select {
		case <-tc.ctx.Done():
			return
		default:
		}

		// Set accept deadline to allow periodic context checks
		if tcpListener, ok := tc.listener.(*net.TCPListener); ok {
			tcpListener.SetDeadline(time.Now().Add(1 * time.Second))
		}

		conn, err := tc.listener.Accept()
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if tc.closed.Load() {
				return
			}
			continue
		}

		tc.connLock.Lock()
		hadConnection := tc.conn != nil
		if tc.conn != nil {
			tc.conn.Close()
			tc.stats.disconnects.Add(1)
		}
		tc.conn = conn
		tc.stats.connects.Add(1)
		tc.connLock.Unlock()

		if hadConnection {
			tc.notify.lost()
		}
		tc.notify.established()
	}
}

// connect establishes a connection to the remote server
func (tc *TCPChannel) connect() error {
	conn, err := net.DialTimeout("tcp", tc.address, 10*time.Second)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", tc.address, err)
	}

	tc.connLock.Lock()
	tc.conn = conn
	tc.stats.connects.Add(1)
	tc.connLock.Unlock()

	tc.wg.Add(1)
	go tc.reconnectLoop()

	return nil
}

// reconnectLoop redials after a lost connection (client mode)
func (tc *TCPChannel) reconnectLoop() {
	defer tc.wg.Done()

	for {
		select {
		case <-tc.ctx.Done():
			return
		case <-time.After(1 * time.Second):
		}

		tc.connLock.RLock()
		conn := tc.conn
		tc.connLock.RUnlock()
		if conn != nil {
			continue
		}

		select {
		case <-tc.ctx.Done():
			return
		case <-time.After(tc.reconnectDelay):
		}

		newConn, err := net.DialTimeout("tcp", tc.address, 10*time.Second)
		if err != nil {
			continue
		}

		tc.connLock.Lock()
		tc.conn = newConn
		tc.stats.connects.Add(1)
		tc.connLock.Unlock()

		tc.notify.established()
	}
}

// current returns the live connection or nil
func (tc *TCPChannel) current() net.Conn {
	tc.connLock.RLock()
	defer tc.connLock.RUnlock()
	return tc.conn
}

// Read implements PhysicalChannel.Read. Without a connection it waits one
// poll interval and reports no data.
func (tc *TCPChannel) Read(ctx context.Context, p []byte) (int, error) {
	if tc.closed.Load() {
		return 0, ErrChannelClosed
	}

	conn := tc.current()
	if conn == nil {
		select {
		case <-time.After(tc.pollInterval):
			return 0, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-tc.ctx.Done():
			return 0, ErrChannelClosed
		}
	}

	conn.SetReadDeadline(time.Now().Add(tc.pollInterval))
	n, err := conn.Read(p)
	tc.stats.bytesReceived.Add(uint64(n))
	if err != nil {
		if isTimeout(err) {
			return n, nil
		}
		if tc.closed.Load() {
			return n, ErrChannelClosed
		}
		tc.drop(conn, &tc.stats.readErrors)
		return n, fmt.Errorf("read %s: %w", tc.address, err)
	}
	return n, nil
}

// Write implements PhysicalChannel.Write
func (tc *TCPChannel) Write(ctx context.Context, p []byte) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-tc.ctx.Done():
		return 0, ErrChannelClosed
	default:
	}

	conn := tc.current()
	if conn == nil {
		tc.stats.writeErrors.Add(1)
		return 0, ErrNoConnection
	}

	tc.writeMu.Lock()
	defer tc.writeMu.Unlock()

	if tc.writeTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(tc.writeTimeout))
	}

	n, err := conn.Write(p)
	tc.stats.bytesSent.Add(uint64(n))
	if err != nil {
		tc.drop(conn, &tc.stats.writeErrors)
		return n, fmt.Errorf("write %s: %w", tc.address, err)
	}
	return n, nil
}

// Stop implements PhysicalChannel.Stop by expiring pending reads
func (tc *TCPChannel) Stop() error {
	if conn := tc.current(); conn != nil {
		return conn.SetReadDeadline(time.Now())
	}
	return nil
}

// Close implements PhysicalChannel.Close
func (tc *TCPChannel) Close() error {
	if !tc.closed.CompareAndSwap(false, true) {
		return nil
	}

	tc.cancel()

	if tc.listener != nil {
		tc.listener.Close()
	}

	tc.connLock.Lock()
	if tc.conn != nil {
		tc.conn.Close()
		tc.stats.disconnects.Add(1)
		tc.conn = nil
	}
	tc.connLock.Unlock()

	tc.wg.Wait()

	return nil
}

// Statistics implements PhysicalChannel.Statistics
func (tc *TCPChannel) Statistics() TransportStats {
	return tc.stats.snapshot()
}

// SetConnectionStateListener implements PhysicalChannel
func (tc *TCPChannel) SetConnectionStateListener(listener ConnectionStateListener) {
	tc.notify.SetConnectionStateListener(listener)
}

// drop closes conn after an I/O error and reports the loss once
func (tc *TCPChannel) drop(conn net.Conn, counter *atomic.Uint64) {
	counter.Add(1)

	tc.connLock.Lock()
	current := tc.conn == conn
	if current {
		tc.conn.Close()
		tc.conn = nil
		tc.stats.disconnects.Add(1)
	}
	tc.connLock.Unlock()

	if current {
		tc.notify.lost()
	}
}

// IsConnected returns true if there is an active connection
func (tc *TCPChannel) IsConnected() bool {
	return tc.current() != nil
}

// LocalAddr returns the local address of the connection
func (tc *TCPChannel) LocalAddr() net.Addr {
	if tc.listener != nil {
		return tc.listener.Addr()
	}
	if conn := tc.current(); conn != nil {
		return conn.LocalAddr()
	}
	return nil
}
