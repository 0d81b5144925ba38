package mux

import (
	"sync"

	"avaneesh/ts0710-go/pkg/internal/queue"
)

// dlciEntry is the connection state of one DLCI
type dlciEntry struct {
	id uint8

	mu    sync.Mutex
	state DLCIState
	mtu   int

	changed queue.Signal // broadcast on every state change
}

func newDLCIEntry(id uint8, mtu int) *dlciEntry {
	return &dlciEntry{id: id, mtu: mtu}
}

// State returns the current state
func (d *dlciEntry) State() DLCIState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// MTU returns the negotiated payload size
func (d *dlciEntry) MTU() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mtu
}

// set moves to s and returns the previous state
func (d *dlciEntry) set(s DLCIState) DLCIState {
	d.mu.Lock()
	prev := d.state
	d.state = s
	d.mu.Unlock()
	if prev != s {
		d.changed.Broadcast()
	}
	return prev
}

// transition moves to next only when the current state is one of from
func (d *dlciEntry) transition(next DLCIState, from ...DLCIState) bool {
	d.mu.Lock()
	ok := false
	for _, s := range from {
		if d.state == s {
			ok = true
			break
		}
	}
	if ok {
		d.state = next
	}
	d.mu.Unlock()
	if ok {
		d.changed.Broadcast()
	}
	return ok
}

// negotiate stores the smaller of the current and offered payload sizes
// and returns the result
func (d *dlciEntry) negotiate(offered int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if offered > 0 && offered < d.mtu {
		d.mtu = offered
	}
	return d.mtu
}

// reset forces Disconnected and restores default parameters
func (d *dlciEntry) reset(mtu int) {
	d.mu.Lock()
	d.state = StateDisconnected
	d.mtu = mtu
	d.mu.Unlock()
	d.changed.Broadcast()
}
