package mux

import "sync/atomic"

// Statistics tracks mux-level statistics
type Statistics struct {
	// Frame statistics
	numFramesTx       uint64
	numFramesRx       uint64
	numCRCErrors      uint64
	numDesyncs        uint64
	numInvalidLengths uint64
	numBadFrames      uint64

	// Queue statistics
	numDroppedRxBytes  uint64
	numDroppedTxFrames uint64

	// Control channel statistics
	numUnsupportedCommands uint64

	// Session statistics
	numCrashes    uint64
	numRecoveries uint64
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	return &Statistics{}
}

// FrameTx increments transmitted frames
func (s *Statistics) FrameTx() {
	atomic.AddUint64(&s.numFramesTx, 1)
}

// FrameRx increments received frames
func (s *Statistics) FrameRx() {
	atomic.AddUint64(&s.numFramesRx, 1)
}

// CRCError increments FCS failures
func (s *Statistics) CRCError() {
	atomic.AddUint64(&s.numCRCErrors, 1)
}

// Desync increments frames without a closing flag
func (s *Statistics) Desync() {
	atomic.AddUint64(&s.numDesyncs, 1)
}

// InvalidLength increments frames with an impossible length
func (s *Statistics) InvalidLength() {
	atomic.AddUint64(&s.numInvalidLengths, 1)
}

// BadFrame increments other malformed frames
func (s *Statistics) BadFrame() {
	atomic.AddUint64(&s.numBadFrames, 1)
}

// DroppedRx adds received bytes discarded for lack of a consumer or space
func (s *Statistics) DroppedRx(n int) {
	atomic.AddUint64(&s.numDroppedRxBytes, uint64(n))
}

// DroppedTx adds queued frames discarded because their DLCI went down
func (s *Statistics) DroppedTx(n int) {
	atomic.AddUint64(&s.numDroppedTxFrames, uint64(n))
}

// UnsupportedCommand increments control commands answered with NSC
func (s *Statistics) UnsupportedCommand() {
	atomic.AddUint64(&s.numUnsupportedCommands, 1)
}

// Crash increments detected transport crashes
func (s *Statistics) Crash() {
	atomic.AddUint64(&s.numCrashes, 1)
}

// Recovery increments completed recoveries
func (s *Statistics) Recovery() {
	atomic.AddUint64(&s.numRecoveries, 1)
}

// GetFramesTx returns transmitted frames
func (s *Statistics) GetFramesTx() uint64 {
	return atomic.LoadUint64(&s.numFramesTx)
}

// GetFramesRx returns received frames
func (s *Statistics) GetFramesRx() uint64 {
	return atomic.LoadUint64(&s.numFramesRx)
}

// GetCRCErrors returns FCS failures
func (s *Statistics) GetCRCErrors() uint64 {
	return atomic.LoadUint64(&s.numCRCErrors)
}

// GetDesyncs returns frames without a closing flag
func (s *Statistics) GetDesyncs() uint64 {
	return atomic.LoadUint64(&s.numDesyncs)
}

// GetInvalidLengths returns frames with an impossible length
func (s *Statistics) GetInvalidLengths() uint64 {
	return atomic.LoadUint64(&s.numInvalidLengths)
}

// GetBadFrames returns other malformed frames
func (s *Statistics) GetBadFrames() uint64 {
	return atomic.LoadUint64(&s.numBadFrames)
}

// GetDroppedRxBytes returns discarded received bytes
func (s *Statistics) GetDroppedRxBytes() uint64 {
	return atomic.LoadUint64(&s.numDroppedRxBytes)
}

// GetDroppedTxFrames returns discarded queued frames
func (s *Statistics) GetDroppedTxFrames() uint64 {
	return atomic.LoadUint64(&s.numDroppedTxFrames)
}

// GetUnsupportedCommands returns control commands answered with NSC
func (s *Statistics) GetUnsupportedCommands() uint64 {
	return atomic.LoadUint64(&s.numUnsupportedCommands)
}

// GetCrashes returns detected transport crashes
func (s *Statistics) GetCrashes() uint64 {
	return atomic.LoadUint64(&s.numCrashes)
}

// GetRecoveries returns completed recoveries
func (s *Statistics) GetRecoveries() uint64 {
	return atomic.LoadUint64(&s.numRecoveries)
}

// Reset resets all statistics
func (s *Statistics) Reset() {
	atomic.StoreUint64(&s.numFramesTx, 0)
	atomic.StoreUint64(&s.numFramesRx, 0)
	atomic.StoreUint64(&s.numCRCErrors, 0)
	atomic.StoreUint64(&s.numDesyncs, 0)
	atomic.StoreUint64(&s.numInvalidLengths, 0)
	atomic.StoreUint64(&s.numBadFrames, 0)
	atomic.StoreUint64(&s.numDroppedRxBytes, 0)
	atomic.StoreUint64(&s.numDroppedTxFrames, 0)
	atomic.StoreUint64(&s.numUnsupportedCommands, 0)
	atomic.StoreUint64(&s.numCrashes, 0)
	atomic.StoreUint64(&s.numRecoveries, 0)
}
