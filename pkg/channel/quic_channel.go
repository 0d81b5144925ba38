package channel

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"math/big"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"
)

// ALPN is the application protocol negotiated by mux QUIC channels
const ALPN = "ts0710-mux"

// QUICChannelConfig configures a QUIC channel
type QUICChannelConfig struct {
	Address        string        // "host:port" to listen on or dial
	IsServer       bool          // true = listen, false = dial
	ReconnectDelay time.Duration // Pause before redialing a lost connection (client only)
	DialTimeout    time.Duration // Handshake timeout of one dial
	IdleTimeout    time.Duration // Silence after which the connection counts as lost
	PollInterval   time.Duration // Longest wait inside one Read
	WriteTimeout   time.Duration // Write timeout (0 = no timeout)
	TLSConfig      *tls.Config   // nil = self-signed certificate, peer not verified
}

// QUICChannel implements PhysicalChannel over one bidirectional QUIC
// stream, for modems bridged across the network. The dialing side opens
// the stream; the listening side sees it once the first bytes arrive.
// A client redials on its own after the connection drops; a server takes
// the newest incoming connection.
type QUICChannel struct {
	cfg      QUICChannelConfig
	tls      *tls.Config
	quicConf *quic.Config
	listener *quic.Listener

	mu      sync.RWMutex
	current *quicSession // nil while disconnected
	writeMu sync.Mutex

	stats  counters
	notify notifier

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// quicSession is one connection and the stream the mux runs on
type quicSession struct {
	conn   quic.Connection
	stream quic.Stream
}

func (s *quicSession) close(reason string) {
	s.stream.Close()
	s.conn.CloseWithError(0, reason)
}

// NewQUICChannel listens on or dials config.Address. A client returns only
// after its first connection and stream are up.
func NewQUICChannel(config QUICChannelConfig) (*QUICChannel, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("address is required")
	}
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = 5 * time.Second
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 5 * time.Second
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = 30 * time.Second
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}

	tlsConf := config.TLSConfig
	if tlsConf == nil {
		var err error
		if tlsConf, err = selfSignedTLS(); err != nil {
			return nil, fmt.Errorf("failed to generate TLS config: %w", err)
		}
	} else {
		tlsConf = tlsConf.Clone()
		if len(tlsConf.NextProtos) == 0 {
			tlsConf.NextProtos = []string{ALPN}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	qc := &QUICChannel{
		cfg: config,
		tls: tlsConf,
		quicConf: &quic.Config{
			HandshakeIdleTimeout: config.DialTimeout,
			MaxIdleTimeout:       config.IdleTimeout,
			KeepAlivePeriod:      config.IdleTimeout / 2,
		},
		ctx:    ctx,
		cancel: cancel,
	}

	if config.IsServer {
		ln, err := quic.ListenAddr(config.Address, qc.tls, qc.quicConf)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to listen on %s: %w", config.Address, err)
		}
		qc.listener = ln
		qc.wg.Add(1)
		go qc.acceptLoop()
		return qc, nil
	}

	s, err := qc.dial()
	if err != nil {
		cancel()
		return nil, err
	}
	qc.install(s)
	qc.wg.Add(1)
	go qc.redialLoop(s)
	return qc, nil
}

// selfSignedTLS returns a config with a throwaway P-256 certificate. The
// peer certificate is not verified: the link is encrypted, not
// authenticated.
func selfSignedTLS() (*tls.Config, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return nil, err
	}
	template := x509.Certificate{
		SerialNumber: serial,
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates:       []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}},
		NextProtos:         []string{ALPN},
		InsecureSkipVerify: true,
	}, nil
}

// dial connects to the server and opens the mux stream
func (qc *QUICChannel) dial() (*quicSession, error) {
	conn, err := quic.DialAddr(qc.ctx, qc.cfg.Address, qc.tls, qc.quicConf)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", qc.cfg.Address, err)
	}
	stream, err := conn.OpenStreamSync(qc.ctx)
	if err != nil {
		conn.CloseWithError(0, "no stream")
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	return &quicSession{conn: conn, stream: stream}, nil
}

// acceptLoop hands every incoming connection to serve
func (qc *QUICChannel) acceptLoop() {
	defer qc.wg.Done()

	for {
		conn, err := qc.listener.Accept(qc.ctx)
		if err != nil {
			if qc.ctx.Err() != nil || errors.Is(err, quic.ErrServerClosed) {
				return
			}
			continue
		}
		qc.wg.Add(1)
		go qc.serve(conn)
	}
}

// serve waits for the client's stream and makes it the live session
func (qc *QUICChannel) serve(conn quic.Connection) {
	defer qc.wg.Done()

	stream, err := conn.AcceptStream(qc.ctx)
	if err != nil {
		conn.CloseWithError(0, "no stream")
		return
	}
	s := &quicSession{conn: conn, stream: stream}
	qc.install(s)
	qc.watch(s)
}

// redialLoop replaces the client's session each time it drops
func (qc *QUICChannel) redialLoop(s *quicSession) {
	defer qc.wg.Done()

	for {
		qc.watch(s)
		for {
			select {
			case <-qc.ctx.Done():
				return
			case <-time.After(qc.cfg.ReconnectDelay):
			}
			next, err := qc.dial()
			if err == nil {
				s = next
				qc.install(s)
				break
			}
			if qc.ctx.Err() != nil {
				return
			}
		}
	}
}

// watch blocks until s ends or the channel closes
func (qc *QUICChannel) watch(s *quicSession) {
	select {
	case <-s.conn.Context().Done():
		qc.drop(s, "connection lost")
	case <-qc.ctx.Done():
	}
}

// install makes s the live session, closing the one it replaces
func (qc *QUICChannel) install(s *quicSession) {
	qc.mu.Lock()
	old := qc.current
	qc.current = s
	qc.mu.Unlock()

	qc.stats.connects.Add(1)
	if old != nil {
		old.close("replaced")
		qc.stats.disconnects.Add(1)
		qc.notify.lost()
	}
	qc.notify.established()
}

// drop tears down s if it is still the live session
func (qc *QUICChannel) drop(s *quicSession, reason string) {
	qc.mu.Lock()
	live := qc.current == s
	if live {
		qc.current = nil
	}
	qc.mu.Unlock()
	if !live {
		return
	}

	s.close(reason)
	qc.stats.disconnects.Add(1)
	if !qc.closed.Load() {
		qc.notify.lost()
	}
}

func (qc *QUICChannel) session() *quicSession {
	qc.mu.RLock()
	defer qc.mu.RUnlock()
	return qc.current
}

// Read implements PhysicalChannel.Read. Without a session it waits one
// poll interval and reports no data.
func (qc *QUICChannel) Read(ctx context.Context, p []byte) (int, error) {
	if qc.closed.Load() {
		return 0, ErrChannelClosed
	}

	s := qc.session()
	if s == nil {
		select {
		case <-time.After(qc.cfg.PollInterval):
			return 0, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-qc.ctx.Done():
			return 0, ErrChannelClosed
		}
	}

	s.stream.SetReadDeadline(time.Now().Add(qc.cfg.PollInterval))
	n, err := s.stream.Read(p)
	qc.stats.bytesReceived.Add(uint64(n))
	if err == nil || isTimeout(err) {
		return n, nil
	}
	if qc.closed.Load() {
		return n, ErrChannelClosed
	}
	qc.stats.readErrors.Add(1)
	qc.drop(s, "read error")
	return n, fmt.Errorf("quic read: %w", err)
}

// Write implements PhysicalChannel.Write
func (qc *QUICChannel) Write(ctx context.Context, p []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if qc.closed.Load() {
		return 0, ErrChannelClosed
	}

	s := qc.session()
	if s == nil {
		qc.stats.writeErrors.Add(1)
		return 0, ErrNoConnection
	}

	qc.writeMu.Lock()
	defer qc.writeMu.Unlock()

	if qc.cfg.WriteTimeout > 0 {
		s.stream.SetWriteDeadline(time.Now().Add(qc.cfg.WriteTimeout))
	}
	n, err := s.stream.Write(p)
	qc.stats.bytesSent.Add(uint64(n))
	if err != nil {
		qc.stats.writeErrors.Add(1)
		qc.drop(s, "write error")
		return n, fmt.Errorf("quic write: %w", err)
	}
	return n, nil
}

// Stop implements PhysicalChannel.Stop by expiring the pending read
func (qc *QUICChannel) Stop() error {
	if s := qc.session(); s != nil {
		return s.stream.SetReadDeadline(time.Now())
	}
	return nil
}

// Close implements PhysicalChannel.Close
func (qc *QUICChannel) Close() error {
	if !qc.closed.CompareAndSwap(false, true) {
		return nil
	}
	qc.cancel()

	var err error
	if qc.listener != nil {
		err = qc.listener.Close()
	}

	qc.mu.Lock()
	s := qc.current
	qc.current = nil
	qc.mu.Unlock()
	if s != nil {
		s.close("channel closed")
		qc.stats.disconnects.Add(1)
	}

	qc.wg.Wait()
	return err
}

// Statistics implements PhysicalChannel.Statistics
func (qc *QUICChannel) Statistics() TransportStats {
	return qc.stats.snapshot()
}

// SetConnectionStateListener implements PhysicalChannel
func (qc *QUICChannel) SetConnectionStateListener(listener ConnectionStateListener) {
	qc.notify.SetConnectionStateListener(listener)
}

// IsConnected reports whether a session is up
func (qc *QUICChannel) IsConnected() bool {
	s := qc.session()
	return s != nil && s.conn.Context().Err() == nil
}

// LocalAddr returns the listening address, or the local end of a client's
// connection
func (qc *QUICChannel) LocalAddr() net.Addr {
	if qc.listener != nil {
		return qc.listener.Addr()
	}
	if s := qc.session(); s != nil {
		return s.conn.LocalAddr()
	}
	return nil
}
