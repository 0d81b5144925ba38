package ts0710

import (
	"errors"
	"fmt"
	"strconv"

	"gopkg.in/ini.v1"

	"avaneesh/ts0710-go/pkg/channel"
	"avaneesh/ts0710-go/pkg/internal/logger"
	"avaneesh/ts0710-go/pkg/mux"
)

// FileConfig is everything a configuration file can describe
type FileConfig struct {
	Mux        mux.Config
	Serial     channel.SerialChannelConfig
	Capture    string // pcap file or named pipe, empty for none
	LogLevel   LogLevel
	FrameDebug bool
}

// LoadConfigFile reads an INI file with [mux], [handshake], [serial],
// [lines] and [log] sections. Missing keys keep their defaults.
//
//	[mux]
//	max_channels = 8
//	open_timeout = 3s
//
//	[serial]
//	port = /dev/ttyUSB0
//
//	[lines]
//	1 = 1
//	2 = 1
func LoadConfigFile(path string) (*FileConfig, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return parseConfig(f)
}

// LoadConfig parses INI data held in memory
func LoadConfig(data []byte) (*FileConfig, error) {
	f, err := ini.Load(data)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return parseConfig(f)
}

func parseConfig(f *ini.File) (*FileConfig, error) {
	cfg := &FileConfig{
		Mux:      mux.DefaultConfig(),
		Serial:   channel.DefaultSerialChannelConfig(),
		LogLevel: LevelInfo,
	}

	m := f.Section("mux")
	mc := &cfg.Mux
	mc.Name = m.Key("name").MustString(mc.Name)
	mc.MaxChannels = m.Key("max_channels").MustInt(mc.MaxChannels)
	mc.DefaultMTU = m.Key("default_mtu").MustInt(mc.DefaultMTU)
	mc.MaxMTU = m.Key("max_mtu").MustInt(mc.MaxMTU)
	mc.SendRingSlots = m.Key("send_ring_slots").MustInt(mc.SendRingSlots)
	mc.MaxReceiveBacklog = m.Key("max_receive_backlog").MustInt(mc.MaxReceiveBacklog)
	mc.OpenTimeout = m.Key("open_timeout").MustDuration(mc.OpenTimeout)
	mc.OpenRetries = m.Key("open_retries").MustInt(mc.OpenRetries)
	mc.CloseTimeout = m.Key("close_timeout").MustDuration(mc.CloseTimeout)
	mc.SelfTestTimeout = m.Key("self_test_timeout").MustDuration(mc.SelfTestTimeout)
	mc.NegotiateParams = m.Key("negotiate_params").MustBool(mc.NegotiateParams)
	mc.AutoRecover = m.Key("auto_recover").MustBool(mc.AutoRecover)
	mc.RecoveryRetries = m.Key("recovery_retries").MustInt(mc.RecoveryRetries)
	mc.RecoveryDelay = m.Key("recovery_delay").MustDuration(mc.RecoveryDelay)
	mc.ReadBufferSize = m.Key("read_buffer_size").MustInt(mc.ReadBufferSize)
	cfg.Capture = m.Key("capture").String()

	h := f.Section("handshake")
	hc := &cfg.Mux.Handshake
	hc.Disabled = h.Key("disabled").MustBool(hc.Disabled)
	hc.WakeCommand = h.Key("wake_command").MustString(hc.WakeCommand)
	hc.ModeCommand = h.Key("mode_command").MustString(hc.ModeCommand)
	hc.Retries = h.Key("retries").MustInt(hc.Retries)
	hc.Timeout = h.Key("timeout").MustDuration(hc.Timeout)

	s := f.Section("serial")
	sc := &cfg.Serial
	sc.Port = s.Key("port").MustString(sc.Port)
	sc.BaudRate = s.Key("baud_rate").MustInt(sc.BaudRate)
	sc.DataBits = s.Key("data_bits").InInt(sc.DataBits, []int{5, 6, 7, 8})
	sc.Parity = s.Key("parity").MustString(sc.Parity)
	sc.StopBits = s.Key("stop_bits").MustInt(sc.StopBits)
	sc.ReadTimeout = s.Key("read_timeout").MustDuration(sc.ReadTimeout)

	lines, err := parseLines(f.Section("lines"), mc.MaxChannels)
	if err != nil {
		return nil, err
	}
	mc.Lines = lines

	lg := f.Section("log")
	level, levelErr := logger.ParseLevel(lg.Key("level").String())
	cfg.LogLevel = LogLevel(level)
	cfg.FrameDebug = lg.Key("frames").MustBool(false)

	var parityErr, stopErr error
	if _, err := channel.ParseParity(sc.Parity); err != nil {
		parityErr = fmt.Errorf("serial parity: %w", err)
	}
	if _, err := channel.ParseStopBits(sc.StopBits); err != nil {
		stopErr = fmt.Errorf("serial stop_bits: %w", err)
	}
	if err := errors.Join(levelErr, parityErr, stopErr); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseLines builds the line to DLCI table. Lines not listed map to the
// DLCI of the same number.
func parseLines(sec *ini.Section, maxChannels int) ([]uint8, error) {
	keys := sec.Keys()
	if len(keys) == 0 {
		return nil, nil
	}

	mapping := make(map[int]uint8, len(keys))
	highest := 0
	for _, k := range keys {
		n, err := strconv.Atoi(k.Name())
		if err != nil || n < 1 || n >= maxChannels {
			return nil, fmt.Errorf("lines: invalid line %q", k.Name())
		}
		dlci, err := k.Int()
		if err != nil || dlci < 1 || dlci >= maxChannels {
			return nil, fmt.Errorf("lines: line %d has invalid DLCI %q", n, k.String())
		}
		mapping[n] = uint8(dlci)
		if n > highest {
			highest = n
		}
	}

	lines := make([]uint8, highest+1)
	for i := range lines {
		lines[i] = uint8(i)
		if dlci, ok := mapping[i]; ok {
			lines[i] = dlci
		}
	}
	return lines, nil
}
