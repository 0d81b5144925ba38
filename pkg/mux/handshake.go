package mux

import (
	"context"
	"fmt"
	"time"

	"avaneesh/ts0710-go/pkg/at"
)

// handshake wakes the modem and switches it into multiplexer mode. It
// returns bytes read after the final result, which already belong to the
// framed stream.
func (m *Mux) handshake(ctx context.Context) ([]byte, error) {
	hs := m.cfg.Handshake
	if hs.Disabled {
		return nil, nil
	}

	sc := &at.Scanner{}

	awake := false
	for attempt := 1; attempt <= hs.Retries; attempt++ {
		final, err := m.command(ctx, sc, hs.WakeCommand)
		if err != nil {
			return nil, err
		}
		if at.IsSuccess(final) {
			awake = true
			break
		}
		m.log.Debug("%s: no answer to %s (%d/%d)", m.name, hs.WakeCommand, attempt, hs.Retries)
	}
	if !awake {
		return nil, fmt.Errorf("%w: no answer to %s", ErrHandshakeFailed, hs.WakeCommand)
	}

	final, err := m.command(ctx, sc, hs.ModeCommand)
	if err != nil {
		return nil, err
	}
	if !at.IsSuccess(final) {
		if final == "" {
			final = "timeout"
		}
		return nil, fmt.Errorf("%w: %s: %s", ErrHandshakeFailed, hs.ModeCommand, final)
	}

	m.log.Info("%s: modem in multiplexer mode", m.name)
	return sc.Rest(), nil
}

// command sends one AT command and returns its final result line, or ""
// when none arrived in time
func (m *Mux) command(ctx context.Context, sc *at.Scanner, cmd string) (string, error) {
	sc.Reset()
	m.log.Debug("%s: AT > %s", m.name, cmd)

	req := []byte(cmd + at.CR)
	for len(req) > 0 {
		n, err := m.phys.Write(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return "", interrupted(ctx.Err())
			}
			return "", &TransportError{Op: "write", Err: err}
		}
		if n == 0 {
			select {
			case <-ctx.Done():
				return "", interrupted(ctx.Err())
			case <-time.After(time.Millisecond):
			}
		}
		req = req[n:]
	}

	buf := make([]byte, 256)
	end := time.Now().Add(m.cfg.Handshake.Timeout)
	for time.Now().Before(end) {
		if err := ctx.Err(); err != nil {
			return "", interrupted(err)
		}
		n, err := m.phys.Read(ctx, buf)
		if err != nil {
			if ctx.Err() != nil {
				return "", interrupted(ctx.Err())
			}
			return "", &TransportError{Op: "read", Err: err}
		}
		if n == 0 {
			continue
		}
		lines, done := sc.Next(buf[:n])
		for _, line := range lines {
			m.log.Debug("%s: AT < %s", m.name, line)
		}
		if done {
			return lines[len(lines)-1], nil
		}
	}
	return "", nil
}
