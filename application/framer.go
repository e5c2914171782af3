package application

// Terminator delimits frames on the wire in both directions: the scale
// terminates each reading with it, and the printer expects it after each
// print job.
const Terminator byte = '\n'

// LineFramer splits a raw byte stream into frames delimited by Terminator.
// For every terminator seen, exactly one frame is emitted containing all
// bytes accumulated since the previous terminator, excluding the terminator
// itself. A carriage return immediately before the terminator is trimmed
// (scales emit CRLF on some firmwares); it never changes the frame count.
//
// The accumulator must be Reset on every serial reconnect so a partial line
// spanning a device loss is discarded rather than merged with post-reconnect
// data.
type LineFramer struct {
	buf []byte
}

func NewLineFramer() *LineFramer {
	return &LineFramer{}
}

// Push feeds p into the framer and returns the complete frames it closed,
// in stream order. Each returned frame owns its own backing array.
func (f *LineFramer) Push(p []byte) [][]byte {
	var frames [][]byte

	for _, b := range p {
		if b != Terminator {
			f.buf = append(f.buf, b)
			continue
		}

		line := f.buf
		if n := len(line); n > 0 && line[n-1] == '\r' {
			line = line[:n-1]
		}

		frame := make([]byte, len(line))
		copy(frame, line)
		frames = append(frames, frame)

		f.buf = f.buf[:0]
	}

	return frames
}

// Reset discards any partially accumulated frame.
func (f *LineFramer) Reset() {
	f.buf = f.buf[:0]
}

// Pending returns the number of buffered bytes not yet closed by a
// terminator.
func (f *LineFramer) Pending() int {
	return len(f.buf)
}

// AppendTerminator returns p followed by exactly one Terminator byte. The
// payload itself passes through byte for byte; ESC/POS control sequences
// are not interpreted.
func AppendTerminator(p []byte) []byte {
	out := make([]byte, len(p)+1)
	copy(out, p)
	out[len(p)] = Terminator
	return out
}
