package channel

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
)

// SerialChannelConfig configures a serial channel
type SerialChannelConfig struct {
	Port        string        // Device path, e.g. /dev/ttyUSB0
	BaudRate    int           // Default 115200
	DataBits    int           // Default 8
	Parity      string        // none, odd, even, mark or space
	StopBits    int           // 1 or 2
	ReadTimeout time.Duration // Poll interval of a single Read
}

// DefaultSerialChannelConfig returns the usual 115200 8N1 settings
func DefaultSerialChannelConfig() SerialChannelConfig {
	return SerialChannelConfig{
		BaudRate:    115200,
		DataBits:    8,
		Parity:      "none",
		StopBits:    1,
		ReadTimeout: DefaultPollInterval,
	}
}

// ParseParity converts a parity name to its serial mode value
func ParseParity(s string) (serial.Parity, error) {
	switch strings.ToLower(s) {
	case "", "none", "n":
		return serial.NoParity, nil
	case "odd", "o":
		return serial.OddParity, nil
	case "even", "e":
		return serial.EvenParity, nil
	case "mark", "m":
		return serial.MarkParity, nil
	case "space", "s":
		return serial.SpaceParity, nil
	default:
		return serial.NoParity, fmt.Errorf("invalid parity %q: use none, odd, even, mark, or space", s)
	}
}

// ParseStopBits converts a stop bit count to its serial mode value
func ParseStopBits(n int) (serial.StopBits, error) {
	switch n {
	case 0, 1:
		return serial.OneStopBit, nil
	case 2:
		return serial.TwoStopBits, nil
	default:
		return serial.OneStopBit, fmt.Errorf("invalid stop bits %d: use 1 or 2", n)
	}
}

// Mode builds the serial mode described by the config
func (c SerialChannelConfig) Mode() (*serial.Mode, error) {
	parity, err := ParseParity(c.Parity)
	if err != nil {
		return nil, err
	}
	stopBits, err := ParseStopBits(c.StopBits)
	if err != nil {
		return nil, err
	}
	return &serial.Mode{
		BaudRate: c.BaudRate,
		DataBits: c.DataBits,
		Parity:   parity,
		StopBits: stopBits,
	}, nil
}

// SerialChannel implements PhysicalChannel over a UART
type SerialChannel struct {
	port   serial.Port
	name   string
	portMu sync.Mutex // serializes writers

	stats  counters
	notify notifier
	closed atomic.Bool
}

// NewSerialChannel opens the configured serial port
func NewSerialChannel(config SerialChannelConfig) (*SerialChannel, error) {
	if config.Port == "" {
		return nil, fmt.Errorf("serial port is required")
	}

	defaults := DefaultSerialChannelConfig()
	if config.BaudRate == 0 {
		config.BaudRate = defaults.BaudRate
	}
	if config.DataBits == 0 {
		config.DataBits = defaults.DataBits
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}

	mode, err := config.Mode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(config.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", config.Port, err)
	}

	sc, err := newSerialChannel(port, config.Port, config.ReadTimeout)
	if err != nil {
		port.Close()
		return nil, err
	}
	return sc, nil
}

// newSerialChannel wraps an already open port
func newSerialChannel(port serial.Port, name string, readTimeout time.Duration) (*SerialChannel, error) {
	if err := port.SetReadTimeout(readTimeout); err != nil {
		return nil, fmt.Errorf("set read timeout on %s: %w", name, err)
	}
	sc := &SerialChannel{port: port, name: name}
	sc.stats.connects.Add(1)
	return sc, nil
}

// Read implements PhysicalChannel.Read. The port's read timeout makes an
// idle Read return 0 bytes.
func (sc *SerialChannel) Read(ctx context.Context, p []byte) (int, error) {
	if sc.closed.Load() {
		return 0, ErrChannelClosed
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	n, err := sc.port.Read(p)
	if n > 0 {
		sc.stats.bytesReceived.Add(uint64(n))
	}
	if err != nil {
		if sc.closed.Load() {
			return n, ErrChannelClosed
		}
		sc.stats.readErrors.Add(1)
		sc.notify.lost()
		return n, fmt.Errorf("read %s: %w", sc.name, err)
	}
	return n, nil
}

// Write implements PhysicalChannel.Write
func (sc *SerialChannel) Write(ctx context.Context, p []byte) (int, error) {
	if sc.closed.Load() {
		return 0, ErrChannelClosed
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	sc.portMu.Lock()
	n, err := sc.port.Write(p)
	sc.portMu.Unlock()

	sc.stats.bytesSent.Add(uint64(n))
	if err != nil {
		sc.stats.writeErrors.Add(1)
		sc.notify.lost()
		return n, fmt.Errorf("write %s: %w", sc.name, err)
	}
	return n, nil
}

// Stop implements PhysicalChannel.Stop by discarding both UART buffers
func (sc *SerialChannel) Stop() error {
	if sc.closed.Load() {
		return nil
	}
	if err := sc.port.ResetOutputBuffer(); err != nil {
		return err
	}
	return sc.port.ResetInputBuffer()
}

// SetDTR drives the DTR line; many modems drop the mux session on DTR low
func (sc *SerialChannel) SetDTR(on bool) error {
	return sc.port.SetDTR(on)
}

// Close implements PhysicalChannel.Close
func (sc *SerialChannel) Close() error {
	if !sc.closed.CompareAndSwap(false, true) {
		return nil
	}
	sc.stats.disconnects.Add(1)
	return sc.port.Close()
}

// Statistics implements PhysicalChannel.Statistics
func (sc *SerialChannel) Statistics() TransportStats {
	return sc.stats.snapshot()
}

// SetConnectionStateListener implements PhysicalChannel
func (sc *SerialChannel) SetConnectionStateListener(listener ConnectionStateListener) {
	sc.notify.SetConnectionStateListener(listener)
}

// Name returns the device path
func (sc *SerialChannel) Name() string {
	return sc.name
}
