package ts0710

import "avaneesh/ts0710-go/pkg/mux"

// MuxStatistics is a point-in-time copy of mux and transport counters
type MuxStatistics struct {
	Status              mux.Status
	FramesTx            uint64 // Frames written to the transport
	FramesRx            uint64 // Valid frames received
	CRCErrors           uint64 // Frames failing the FCS
	Desyncs             uint64 // Frames without a closing flag
	InvalidLengths      uint64 // Frames with an impossible length
	BadFrames           uint64 // Other malformed frames
	DroppedRxBytes      uint64 // Received bytes with no room to queue
	DroppedTxFrames     uint64 // Queued frames lost when their DLCI went down
	UnsupportedCommands uint64 // Control commands answered with NSC
	Crashes             uint64
	Recoveries          uint64
	PhysicalBytesTx     uint64 // Bytes written to the transport
	PhysicalBytesRx     uint64 // Bytes read from the transport
}

func snapshot(mx *mux.Mux) MuxStatistics {
	stats := mx.Statistics()
	phys := mx.TransportStatistics()

	return MuxStatistics{
		Status:              mx.Status(),
		FramesTx:            stats.GetFramesTx(),
		FramesRx:            stats.GetFramesRx(),
		CRCErrors:           stats.GetCRCErrors(),
		Desyncs:             stats.GetDesyncs(),
		InvalidLengths:      stats.GetInvalidLengths(),
		BadFrames:           stats.GetBadFrames(),
		DroppedRxBytes:      stats.GetDroppedRxBytes(),
		DroppedTxFrames:     stats.GetDroppedTxFrames(),
		UnsupportedCommands: stats.GetUnsupportedCommands(),
		Crashes:             stats.GetCrashes(),
		Recoveries:          stats.GetRecoveries(),
		PhysicalBytesTx:     phys.BytesSent,
		PhysicalBytesRx:     phys.BytesReceived,
	}
}
