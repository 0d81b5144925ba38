package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrGateTimeout is returned when another reader held the gate until the
// deadline
var ErrGateTimeout = errors.New("reader gate timeout")

// chunk is a received payload not yet fully consumed
type chunk struct {
	data []byte
	pos  int
}

// RecvQueue buffers received payload for one channel. The first pending
// payload lives in a preallocated immediate buffer; payload arriving while
// it is occupied is queued as owned chunks behind it.
type RecvQueue struct {
	mu     sync.Mutex
	imm    []byte // preallocated; imm[immPos:immLen] is pending
	immPos int
	immLen int
	chunks []chunk
	total  int
	limit  int

	gate chan struct{} // serializes readers
	data Signal
}

// NewRecvQueue creates a queue holding at most limit bytes, with an
// immediate buffer of immSize bytes
func NewRecvQueue(immSize, limit int) *RecvQueue {
	if immSize <= 0 {
		immSize = 1
	}
	if limit < immSize {
		limit = immSize
	}
	return &RecvQueue{
		imm:   make([]byte, immSize),
		limit: limit,
		gate:  make(chan struct{}, 1),
	}
}

// Push copies p into the queue. It returns false, dropping p, when p would
// push the backlog past the limit.
func (q *RecvQueue) Push(p []byte) bool {
	if len(p) == 0 {
		return true
	}

	q.mu.Lock()
	if q.total+len(p) > q.limit {
		q.mu.Unlock()
		return false
	}
	if q.immLen == q.immPos && len(q.chunks) == 0 && len(p) <= len(q.imm) {
		q.immPos = 0
		q.immLen = copy(q.imm, p)
	} else {
		q.chunks = append(q.chunks, chunk{data: append([]byte(nil), p...)})
	}
	q.total += len(p)
	q.mu.Unlock()

	q.data.Broadcast()
	return true
}

// Read drains up to len(p) bytes in arrival order
func (q *RecvQueue) Read(p []byte) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	if q.immPos < q.immLen {
		k := copy(p, q.imm[q.immPos:q.immLen])
		q.immPos += k
		n += k
	}
	for n < len(p) && len(q.chunks) > 0 {
		c := &q.chunks[0]
		k := copy(p[n:], c.data[c.pos:])
		c.pos += k
		n += k
		if c.pos == len(c.data) {
			q.chunks[0] = chunk{}
			q.chunks = q.chunks[1:]
		}
	}
	if len(q.chunks) == 0 {
		q.chunks = nil
	}
	q.total -= n
	return n
}

// Acquire takes the reader gate, giving up when ctx ends or timer fires.
// A nil timer never fires.
func (q *RecvQueue) Acquire(ctx context.Context, timer <-chan time.Time) error {
	select {
	case q.gate <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer:
		return ErrGateTimeout
	}
}

// TryAcquire takes the reader gate only if it is free
func (q *RecvQueue) TryAcquire() bool {
	select {
	case q.gate <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release returns the reader gate
func (q *RecvQueue) Release() {
	<-q.gate
}

// Reset discards all pending data
func (q *RecvQueue) Reset() {
	q.mu.Lock()
	q.immPos, q.immLen = 0, 0
	q.chunks = nil
	q.total = 0
	q.mu.Unlock()
	q.data.Broadcast()
}

// Data returns a channel closed the next time data arrives
func (q *RecvQueue) Data() <-chan struct{} {
	return q.data.C()
}

// WakeReaders wakes readers blocked on Data so they re-check state
func (q *RecvQueue) WakeReaders() {
	q.data.Broadcast()
}

// Len returns the number of buffered bytes
func (q *RecvQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.total
}

// Chunks returns the number of queued chunks behind the immediate buffer
func (q *RecvQueue) Chunks() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.chunks)
}
