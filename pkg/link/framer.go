package link

import "bytes"

// ErrorHandler is told about every candidate frame the framer discards
type ErrorHandler func(err error)

// Framer reassembles frames from an arbitrarily chunked byte stream.
// It is not safe for concurrent use; the mux feeds it from a single
// receive goroutine.
type Framer struct {
	buf      []byte // accumulated bytes, cap is the fixed capacity
	start    int    // index of the opening flag in buf, -1 while searching
	maxFrame int
	onError  ErrorHandler
}

// NewFramer creates a framer that accepts frames up to maxFrame bytes on the
// wire. The accumulation buffer holds two maximum frames.
func NewFramer(maxFrame int, onError ErrorHandler) *Framer {
	if maxFrame <= 0 || maxFrame > MaxTotalFrameSize {
		maxFrame = MaxTotalFrameSize
	}
	return &Framer{
		buf:      make([]byte, 0, 2*maxFrame),
		start:    -1,
		maxFrame: maxFrame,
		onError:  onError,
	}
}

// Feed consumes data and returns every frame completed by it
func (f *Framer) Feed(data []byte) []*Frame {
	var frames []*Frame
	for len(data) > 0 {
		space := cap(f.buf) - len(f.buf)
		if space == 0 {
			f.compact()
			space = cap(f.buf) - len(f.buf)
			if space == 0 {
				// A frame that cannot fit in the buffer is never completed
				f.report(ErrInvalidLength)
				f.skip()
				continue
			}
		}
		k := len(data)
		if k > space {
			k = space
		}
		f.buf = append(f.buf, data[:k]...)
		data = data[k:]
		frames = f.extract(frames)
	}
	return frames
}

// extract pulls complete frames out of the buffer
func (f *Framer) extract(frames []*Frame) []*Frame {
	for {
		if f.start < 0 {
			i := bytes.IndexByte(f.buf, Flag)
			if i < 0 {
				f.buf = f.buf[:0]
				return frames
			}
			f.start = i
		}

		// Consecutive flags are inter-frame fill
		for f.start+1 < len(f.buf) && f.buf[f.start+1] == Flag {
			f.start++
		}

		window := f.buf[f.start:]
		total, ok := ExpectedLength(window)
		if !ok {
			break
		}
		if total > f.maxFrame {
			f.report(ErrInvalidLength)
			f.skip()
			continue
		}
		if len(window) < total {
			break
		}
		if window[total-1] != Flag {
			f.report(ErrDesync)
			f.skip()
			continue
		}

		frame, _, err := Parse(window[:total])
		if err != nil {
			f.report(err)
			f.skip()
			continue
		}
		frames = append(frames, frame)

		// The closing flag may open the next frame
		f.start += total - 1
	}

	f.compact()
	return frames
}

// skip discards the opening flag of the current candidate and resumes the
// search one byte later
func (f *Framer) skip() {
	if f.start < 0 {
		f.buf = f.buf[:0]
		return
	}
	n := copy(f.buf, f.buf[f.start+1:])
	f.buf = f.buf[:n]
	f.start = -1
}

// compact moves the current candidate to the front of the buffer
func (f *Framer) compact() {
	if f.start <= 0 {
		return
	}
	n := copy(f.buf, f.buf[f.start:])
	f.buf = f.buf[:n]
	f.start = 0
}

func (f *Framer) report(err error) {
	if f.onError != nil {
		f.onError(err)
	}
}

// Reset drops all buffered bytes
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
	f.start = -1
}

// Buffered returns the number of bytes held for an incomplete frame
func (f *Framer) Buffered() int {
	return len(f.buf)
}
