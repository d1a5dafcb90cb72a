package wire

import "bytes"

// Decoder reassembles frames from arbitrarily fragmented input.
// The zero value is ready to use. A Decoder is not safe for concurrent use.
type Decoder struct {
	buf []byte
}

// Feed appends p to the accumulation buffer and returns every complete,
// non-empty frame body now available, in arrival order. Empty frames are
// keep-alive pokes and are dropped. Bytes after the last Terminator stay
// buffered for the next call.
func (d *Decoder) Feed(p []byte) []string {
	d.buf = append(d.buf, p...)

	var frames []string
	start := 0
	for {
		i := bytes.IndexByte(d.buf[start:], Terminator)
		if i < 0 {
			break
		}
		if i > 0 {
			frames = append(frames, string(d.buf[start:start+i]))
		}
		start += i + 1
	}

	if start > 0 {
		n := copy(d.buf, d.buf[start:])
		d.buf = d.buf[:n]
	}
	return frames
}

// Buffered returns the number of bytes waiting for a Terminator.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Reset discards any partial frame.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
}
