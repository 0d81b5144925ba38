package mux

// DLCIState is the connection state of one DLCI
type DLCIState int

const (
	StateDisconnected DLCIState = iota
	StateConnecting
	StateConnected
	StateFlowStopped
	StateDisconnecting
	StateNegotiating
	StateRejected
)

// String returns string representation of DLCIState
func (s DLCIState) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateFlowStopped:
		return "FlowStopped"
	case StateDisconnecting:
		return "Disconnecting"
	case StateNegotiating:
		return "Negotiating"
	case StateRejected:
		return "Rejected"
	default:
		return "Unknown"
	}
}

// established reports whether the DLCI carries traffic
func (s DLCIState) established() bool {
	return s == StateConnected || s == StateFlowStopped
}

// Status is the operating status of a mux
type Status int32

const (
	StatusNotReady Status = iota
	StatusReady
	StatusCrashed
	StatusRecovering
)

// String returns string representation of Status
func (s Status) String() string {
	switch s {
	case StatusNotReady:
		return "NotReady"
	case StatusReady:
		return "Ready"
	case StatusCrashed:
		return "Crashed"
	case StatusRecovering:
		return "Recovering"
	default:
		return "Unknown"
	}
}

// Event is delivered to a line's event handler
type Event int

const (
	// EventReadable fires when a received frame was queued for the line
	EventReadable Event = iota
	// EventWritable fires when the line's send backlog drained
	EventWritable
	// EventHangup fires when the peer disconnected the line's DLCI
	EventHangup
)

// String returns string representation of Event
func (e Event) String() string {
	switch e {
	case EventReadable:
		return "Readable"
	case EventWritable:
		return "Writable"
	case EventHangup:
		return "Hangup"
	default:
		return "Unknown"
	}
}

// EventHandler receives line events. It runs on a worker goroutine and must
// not block.
type EventHandler func(line int, ev Event)

// Readiness is the poll result of a line
type Readiness struct {
	Readable bool
	Writable bool
}

// Direction tells a frame tap which way a frame travelled
type Direction uint8

const (
	DirectionTx Direction = iota
	DirectionRx
)

// String returns string representation of Direction
func (d Direction) String() string {
	if d == DirectionRx {
		return "RX"
	}
	return "TX"
}

// FrameTap mirrors every frame crossing the transport, e.g. into a capture
type FrameTap interface {
	TapFrame(dir Direction, frame []byte)
}
