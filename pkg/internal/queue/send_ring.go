package queue

import (
	"errors"
	"sync"

	"avaneesh/ts0710-go/pkg/link"
)

var (
	ErrFull            = errors.New("send ring is full")
	ErrPayloadTooLarge = errors.New("payload exceeds ring slot size")
)

// SendRing is a fixed ring of serialized UIH frames for one channel.
// Frames are encoded straight into their slot so the send worker can hand
// a slot to the transport without another copy. One producer side (any
// number of goroutines under mu) and a single consumer are supported.
type SendRing struct {
	mu       sync.Mutex
	buf      []byte // slots * slotSize
	lens     []int
	slots    int
	slotSize int
	mtu      int

	rd uint64 // monotonic read index
	wr uint64 // monotonic write index

	notify bool
	space  Signal
}

// NewSendRing allocates a ring of slots frames, each carrying at most mtu
// payload bytes
func NewSendRing(slots, mtu int) *SendRing {
	if slots <= 0 {
		slots = 1
	}
	if mtu <= 0 || mtu > link.MaxMTU {
		mtu = link.DefaultMTU
	}
	slotSize := link.EncodedSize(mtu)
	return &SendRing{
		buf:      make([]byte, slots*slotSize),
		lens:     make([]int, slots),
		slots:    slots,
		slotSize: slotSize,
		mtu:      mtu,
	}
}

// Enqueue serializes a UIH frame for dlci into the next free slot.
// It returns ErrFull without touching the ring when no slot is free.
func (r *SendRing) Enqueue(dlci uint8, cr bool, payload []byte) error {
	if len(payload) > r.mtu {
		return ErrPayloadTooLarge
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.wr-r.rd >= uint64(r.slots) {
		return ErrFull
	}

	idx := int(r.wr % uint64(r.slots))
	slot := r.buf[idx*r.slotSize : idx*r.slotSize : (idx+1)*r.slotSize]
	out, err := link.AppendFrame(slot, dlci, cr, uint8(link.FrameUIH), payload)
	if err != nil {
		return err
	}
	r.lens[idx] = len(out)
	r.wr++
	r.notify = true
	return nil
}

// Peek returns the oldest queued frame. The slice aliases the ring and is
// valid until Advance.
func (r *SendRing) Peek() ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rd == r.wr {
		return nil, false
	}
	idx := int(r.rd % uint64(r.slots))
	start := idx * r.slotSize
	return r.buf[start : start+r.lens[idx]], true
}

// Advance releases the oldest frame and wakes blocked writers
func (r *SendRing) Advance() {
	r.mu.Lock()
	if r.rd < r.wr {
		r.rd++
	}
	r.mu.Unlock()
	r.space.Broadcast()
}

// TakeDrainNotify reports whether a drain event is due: a writer queued
// data since the last event and the backlog is now at most half the ring.
// It returns true once per event.
func (r *SendRing) TakeDrainNotify() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	backlog := int(r.wr - r.rd)
	if r.notify && (backlog == 0 || backlog <= r.slots/2) {
		r.notify = false
		return true
	}
	return false
}

// Flush drops every queued frame and returns how many were dropped
func (r *SendRing) Flush() int {
	r.mu.Lock()
	n := int(r.wr - r.rd)
	r.rd = r.wr
	r.mu.Unlock()
	if n > 0 {
		r.space.Broadcast()
	}
	return n
}

// Reset drops queued frames and clears the drain flag
func (r *SendRing) Reset() {
	r.mu.Lock()
	r.rd = r.wr
	r.notify = false
	r.mu.Unlock()
	r.space.Broadcast()
}

// Space returns a channel closed the next time a slot is released
func (r *SendRing) Space() <-chan struct{} {
	return r.space.C()
}

// WakeWriters wakes writers blocked on Space so they re-check state
func (r *SendRing) WakeWriters() {
	r.space.Broadcast()
}

// Len returns the number of queued frames
func (r *SendRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.wr - r.rd)
}

// Full reports whether every slot is occupied
func (r *SendRing) Full() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.wr-r.rd >= uint64(r.slots)
}

// Cap returns the number of slots
func (r *SendRing) Cap() int {
	return r.slots
}

// MTU returns the largest payload a slot holds
func (r *SendRing) MTU() int {
	return r.mtu
}
