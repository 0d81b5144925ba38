// Package ts0710 is the entry point for running GSM 07.10 multiplexers.
// A Manager owns every mux of a process and hands out opaque handles.
package ts0710

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"avaneesh/ts0710-go/pkg/channel"
	"avaneesh/ts0710-go/pkg/mux"
)

// Handle identifies a registered mux
type Handle uint32

// ErrUnknownHandle is returned for handles that were never registered or
// were already removed
var ErrUnknownHandle = errors.New("unknown mux handle")

// Manager is the registry of running muxes
type Manager struct {
	muxes  map[Handle]*mux.Mux
	next   Handle
	mu     sync.RWMutex
	logger Logger
}

// NewManager creates a manager logging to the global logger
func NewManager() *Manager {
	return NewManagerWithLogger(DefaultLogger())
}

// NewManagerWithLogger creates a manager with a custom logger
func NewManagerWithLogger(log Logger) *Manager {
	if log == nil {
		log = NoOpLogger()
	}

	return &Manager{
		muxes:  make(map[Handle]*mux.Mux),
		next:   1,
		logger: log,
	}
}

// Register creates a mux over physical, starts it and adds it to the
// registry. The mux inherits the manager's logger unless cfg names one.
// When the modem does not answer the handshake and cfg.AutoRecover is set,
// the mux is registered anyway: it reports ErrNoDevice until a background
// recovery brings it up. On any other failure the mux is closed, which
// also closes physical.
func (m *Manager) Register(ctx context.Context, physical channel.PhysicalChannel, cfg mux.Config) (Handle, *mux.Mux, error) {
	log := m.log()
	if cfg.Logger == nil {
		cfg.Logger = log
	}

	mx, err := mux.New(physical, cfg)
	if err != nil {
		return 0, nil, err
	}
	if err := mx.Start(ctx); err != nil {
		if !cfg.AutoRecover || !errors.Is(err, mux.ErrHandshakeFailed) {
			mx.Close()
			return 0, nil, fmt.Errorf("failed to start mux: %w", err)
		}
		log.Warn("Manager: %v, waiting for recovery", err)
	}

	m.mu.Lock()
	h := m.next
	m.next++
	m.muxes[h] = mx
	m.mu.Unlock()

	log.Info("Manager: Registered mux %d (%s)", h, mx)
	return h, mx, nil
}

// Get returns the mux behind h
func (m *Manager) Get(h Handle) (*mux.Mux, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mx, exists := m.muxes[h]
	return mx, exists
}

// Unregister closes the mux behind h and removes it
func (m *Manager) Unregister(h Handle) error {
	m.mu.Lock()
	mx, exists := m.muxes[h]
	delete(m.muxes, h)
	m.mu.Unlock()

	if !exists {
		return fmt.Errorf("%w: %d", ErrUnknownHandle, h)
	}

	log := m.log()
	if err := mx.Close(); err != nil {
		log.Error("Error closing mux %d: %v", h, err)
		return err
	}
	log.Info("Manager: Unregistered mux %d", h)
	return nil
}

// Handles returns the registered handles in ascending order
func (m *Manager) Handles() []Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hs := make([]Handle, 0, len(m.muxes))
	for h := range m.muxes {
		hs = append(hs, h)
	}
	sort.Slice(hs, func(i, j int) bool { return hs[i] < hs[j] })
	return hs
}

// Statistics returns a snapshot of the counters of the mux behind h
func (m *Manager) Statistics(h Handle) (MuxStatistics, error) {
	mx, ok := m.Get(h)
	if !ok {
		return MuxStatistics{}, fmt.Errorf("%w: %d", ErrUnknownHandle, h)
	}
	return snapshot(mx), nil
}

// Shutdown closes every registered mux
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	muxes := m.muxes
	m.muxes = make(map[Handle]*mux.Mux)
	log := m.logger
	m.mu.Unlock()

	log.Info("Manager: Shutting down")

	var errs []error
	for h, mx := range muxes {
		if err := mx.Close(); err != nil {
			log.Error("Error closing mux %d: %v", h, err)
			errs = append(errs, fmt.Errorf("mux %d: %w", h, err))
		}
	}

	log.Info("Manager: Shutdown complete")
	return errors.Join(errs...)
}

// Count returns the number of registered muxes
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.muxes)
}

func (m *Manager) log() Logger {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.logger
}

// SetLogger sets the logger handed to muxes registered from now on
func (m *Manager) SetLogger(log Logger) {
	if log == nil {
		log = NoOpLogger()
	}
	m.mu.Lock()
	m.logger = log
	m.mu.Unlock()
}
