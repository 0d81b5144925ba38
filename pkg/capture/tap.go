package capture

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"avaneesh/ts0710-go/pkg/internal/logger"
	"avaneesh/ts0710-go/pkg/mux"
)

// Direction octets prepended to every captured frame
const (
	DirTx byte = 0x00
	DirRx byte = 0x01
)

// Tap implements mux.FrameTap. Each record is one direction octet followed
// by the raw frame, flags included.
type Tap struct {
	mu     sync.Mutex
	buf    *bufio.Writer
	pcap   *Writer
	closer io.Closer
	now    func() time.Time
	log    logger.Logger

	frames atomic.Uint64
	errors atomic.Uint64
}

// NewTap writes a capture to w. Closing the tap closes w when it is an
// io.Closer.
func NewTap(w io.Writer, log logger.Logger) (*Tap, error) {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	buf := bufio.NewWriter(w)
	pw, err := NewWriter(buf)
	if err != nil {
		return nil, fmt.Errorf("pcap header: %w", err)
	}
	if err := buf.Flush(); err != nil {
		return nil, fmt.Errorf("pcap header: %w", err)
	}
	t := &Tap{
		buf:  buf,
		pcap: pw,
		now:  time.Now,
		log:  log,
	}
	if c, ok := w.(io.Closer); ok {
		t.closer = c
	}
	return t, nil
}

// Create writes a capture to a new file at path
func Create(path string, log logger.Logger) (*Tap, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	t, err := NewTap(f, log)
	if err != nil {
		f.Close()
		return nil, err
	}
	return t, nil
}

// TapFrame implements mux.FrameTap. Write failures are counted and logged
// once; they never reach the mux.
func (t *Tap) TapFrame(dir mux.Direction, frame []byte) {
	prefix := []byte{DirTx}
	if dir == mux.DirectionRx {
		prefix[0] = DirRx
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pcap == nil {
		return
	}
	err := t.pcap.WritePacket(t.now(), prefix, frame)
	if err == nil {
		// A live reader on a pipe wants every frame as it happens
		err = t.buf.Flush()
	}
	if err != nil {
		if t.errors.Add(1) == 1 {
			t.log.Warn("capture: %v", err)
		}
		return
	}
	t.frames.Add(1)
}

// Frames returns the number of captured frames
func (t *Tap) Frames() uint64 {
	return t.frames.Load()
}

// Errors returns the number of frames that could not be written
func (t *Tap) Errors() uint64 {
	return t.errors.Load()
}

// Close flushes the capture and closes the underlying writer
func (t *Tap) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pcap == nil {
		return nil
	}
	t.pcap = nil
	err := t.buf.Flush()
	if t.closer != nil {
		if cerr := t.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
