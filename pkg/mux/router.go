package mux

import (
	"fmt"
	"sync"

	"avaneesh/ts0710-go/pkg/internal/queue"
)

// line is one consumer-facing logical channel. Several lines may share a
// DLCI.
type line struct {
	num  int
	dlci uint8

	mu      sync.Mutex // guards refs, queues and handler
	refs    int
	send    *queue.SendRing
	recv    *queue.RecvQueue
	handler EventHandler
}

// queues returns the line's queues, nil while the line is closed
func (l *line) queues() (*queue.SendRing, *queue.RecvQueue) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.send, l.recv
}

// isOpen reports whether the line has consumers
func (l *line) isOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refs > 0
}

// eventHandler returns the registered handler
func (l *line) eventHandler() EventHandler {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handler
}

// router maps lines to DLCIs and routes received payload to the lowest
// numbered open line of a DLCI
type router struct {
	lines  []*line
	byDLCI [][]*line // ascending line order
}

// newRouter builds the line table. Line n uses DLCI n unless lines says
// otherwise.
func newRouter(count int, lines []uint8) *router {
	r := &router{
		lines:  make([]*line, count),
		byDLCI: make([][]*line, count),
	}
	for n := 0; n < count; n++ {
		dlci := uint8(n)
		if n < len(lines) {
			dlci = lines[n]
		}
		l := &line{num: n, dlci: dlci}
		r.lines[n] = l
		r.byDLCI[dlci] = append(r.byDLCI[dlci], l)
	}
	return r
}

// line returns a consumer line. Line 0 is the control channel and cannot
// be opened.
func (r *router) line(n int) (*line, error) {
	if n < 1 || n >= len(r.lines) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLine, n)
	}
	return r.lines[n], nil
}

// route returns the line receiving payload for dlci, or nil when no line
// of that DLCI is open
func (r *router) route(dlci uint8) *line {
	if int(dlci) >= len(r.byDLCI) {
		return nil
	}
	for _, l := range r.byDLCI[dlci] {
		if l.isOpen() {
			return l
		}
	}
	return nil
}

// inUse reports whether a line other than except holds dlci open
func (r *router) inUse(dlci uint8, except *line) bool {
	for _, l := range r.byDLCI[dlci] {
		if l != except && l.isOpen() {
			return true
		}
	}
	return false
}

// linesOf returns the lines bound to dlci
func (r *router) linesOf(dlci uint8) []*line {
	if int(dlci) >= len(r.byDLCI) {
		return nil
	}
	return r.byDLCI[dlci]
}
