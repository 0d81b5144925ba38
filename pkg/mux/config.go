package mux

import (
	"fmt"
	"time"

	"avaneesh/ts0710-go/pkg/internal/logger"
	"avaneesh/ts0710-go/pkg/link"
)

// HandshakeConfig controls the AT dialogue that switches the modem into
// multiplexer mode
type HandshakeConfig struct {
	Disabled    bool          // Transport is already in mux mode
	WakeCommand string        // Sent until the modem answers OK
	ModeCommand string        // Switches to mux framing
	Retries     int           // Wake attempts
	Timeout     time.Duration // Per command
}

// Config configures a mux
type Config struct {
	Name              string        // Log prefix
	MaxChannels       int           // DLCIs and lines, DLCI 0 included
	DefaultMTU        int           // Payload size before negotiation
	MaxMTU            int           // Largest payload ever accepted
	SendRingSlots     int           // Frames per line send ring
	MaxReceiveBacklog int           // Bytes buffered per line before dropping
	OpenTimeout       time.Duration // Wait for UA per SABM
	OpenRetries       int           // SABM attempts
	CloseTimeout      time.Duration // Wait for UA after DISC
	SelfTestTimeout   time.Duration
	NegotiateParams   bool // Send PN before SABM

	// Lines maps line numbers to DLCIs. Empty means line n uses DLCI n.
	Lines []uint8

	Handshake HandshakeConfig

	AutoRecover     bool
	RecoveryRetries int
	RecoveryDelay   time.Duration

	ReadBufferSize int // Transport read chunk

	Logger logger.Logger
	Tap    FrameTap
}

// DefaultConfig returns the default mux configuration
func DefaultConfig() Config {
	return Config{
		Name:              "mux",
		MaxChannels:       32,
		DefaultMTU:        link.DefaultMTU,
		MaxMTU:            link.MaxMTU,
		SendRingSlots:     16,
		MaxReceiveBacklog: 64 * 1024,
		OpenTimeout:       2500 * time.Millisecond,
		OpenRetries:       3,
		CloseTimeout:      2500 * time.Millisecond,
		SelfTestTimeout:   2 * time.Second,
		Handshake: HandshakeConfig{
			WakeCommand: "AT",
			ModeCommand: "AT+CMUX=0",
			Retries:     5,
			Timeout:     time.Second,
		},
		AutoRecover:     true,
		RecoveryRetries: 3,
		RecoveryDelay:   time.Second,
		ReadBufferSize:  4096,
	}
}

// withDefaults fills zero fields from DefaultConfig
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Name == "" {
		c.Name = d.Name
	}
	if c.MaxChannels == 0 {
		c.MaxChannels = d.MaxChannels
	}
	if c.DefaultMTU == 0 {
		c.DefaultMTU = d.DefaultMTU
	}
	if c.MaxMTU == 0 {
		c.MaxMTU = d.MaxMTU
	}
	if c.SendRingSlots == 0 {
		c.SendRingSlots = d.SendRingSlots
	}
	if c.MaxReceiveBacklog == 0 {
		c.MaxReceiveBacklog = d.MaxReceiveBacklog
	}
	if c.OpenTimeout == 0 {
		c.OpenTimeout = d.OpenTimeout
	}
	if c.OpenRetries == 0 {
		c.OpenRetries = d.OpenRetries
	}
	if c.CloseTimeout == 0 {
		c.CloseTimeout = d.CloseTimeout
	}
	if c.SelfTestTimeout == 0 {
		c.SelfTestTimeout = d.SelfTestTimeout
	}
	if c.Handshake.WakeCommand == "" {
		c.Handshake.WakeCommand = d.Handshake.WakeCommand
	}
	if c.Handshake.ModeCommand == "" {
		c.Handshake.ModeCommand = d.Handshake.ModeCommand
	}
	if c.Handshake.Retries == 0 {
		c.Handshake.Retries = d.Handshake.Retries
	}
	if c.Handshake.Timeout == 0 {
		c.Handshake.Timeout = d.Handshake.Timeout
	}
	if c.RecoveryRetries == 0 {
		c.RecoveryRetries = d.RecoveryRetries
	}
	if c.RecoveryDelay == 0 {
		c.RecoveryDelay = d.RecoveryDelay
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	if c.Logger == nil {
		c.Logger = logger.NewNoOpLogger()
	}
	return c
}

// validate checks the configuration
func (c Config) validate() error {
	if c.MaxChannels < 2 || c.MaxChannels > link.MaxDLCI+1 {
		return fmt.Errorf("max channels %d out of range 2..%d", c.MaxChannels, link.MaxDLCI+1)
	}
	if c.MaxMTU > link.MaxMTU {
		return fmt.Errorf("max MTU %d exceeds %d", c.MaxMTU, link.MaxMTU)
	}
	if c.DefaultMTU < 1 || c.DefaultMTU > c.MaxMTU {
		return fmt.Errorf("default MTU %d out of range 1..%d", c.DefaultMTU, c.MaxMTU)
	}
	if c.SendRingSlots < 1 {
		return fmt.Errorf("send ring needs at least one slot")
	}
	if c.MaxReceiveBacklog < c.DefaultMTU {
		return fmt.Errorf("receive backlog %d smaller than MTU %d", c.MaxReceiveBacklog, c.DefaultMTU)
	}
	if len(c.Lines) > c.MaxChannels {
		return fmt.Errorf("%d lines configured, max %d", len(c.Lines), c.MaxChannels)
	}
	for i, dlci := range c.Lines {
		if int(dlci) >= c.MaxChannels {
			return fmt.Errorf("line %d: %w %d", i, ErrInvalidDLCI, dlci)
		}
		if i == 0 && dlci != 0 {
			return fmt.Errorf("line 0 must map to DLCI 0")
		}
		if i > 0 && dlci == 0 {
			return fmt.Errorf("line %d: %w: DLCI 0 is the control channel", i, ErrInvalidDLCI)
		}
	}
	return nil
}
