package redis

import "net"

// WriteBuffer is a scatter/gather deque of pending output. Small writes are
// coalesced into a growable tail segment to keep the segment count down;
// writes at or above memoryViewThreshold bytes are queued by reference
// instead of being copied, the same trade-off the original client's
// write buffer makes with its "use memory view" threshold.
//
// A WriteBuffer is not safe for concurrent use; each Call and Pipeline
// builds its own and writes it out while holding the connection's write
// lock.
type WriteBuffer struct {
	segments [][]byte
	pending  []byte
}

// NewWriteBuffer returns an empty WriteBuffer.
func NewWriteBuffer() *WriteBuffer {
	return &WriteBuffer{}
}

// Append queues p for output. Large payloads are referenced rather than
// copied, so the caller must not mutate p until it has been written.
func (w *WriteBuffer) Append(p []byte) {
	if len(p) == 0 {
		return
	}
	if len(p) >= memoryViewThreshold {
		w.flushPending()
		w.segments = append(w.segments, p)
		return
	}
	w.pending = append(w.pending, p...)
}

func (w *WriteBuffer) flushPending() {
	if len(w.pending) > 0 {
		w.segments = append(w.segments, w.pending)
		w.pending = nil
	}
}

// Len reports the number of bytes still queued.
func (w *WriteBuffer) Len() int {
	n := len(w.pending)
	for _, seg := range w.segments {
		n += len(seg)
	}
	return n
}

// IsEmpty reports whether there is nothing left to write.
func (w *WriteBuffer) IsEmpty() bool { return w.Len() == 0 }

// PopChunk removes and returns up to max bytes from the front of the
// buffer as a single contiguous slice, suitable for one net.Conn.Write
// call. It returns nil once the buffer is empty. When the next queued
// segment fits entirely within max, it is handed back by reference
// (zero-copy); otherwise it is split and the remainder stays queued.
func (w *WriteBuffer) PopChunk(max int) []byte {
	if max <= 0 {
		return nil
	}
	w.flushPending()
	if len(w.segments) == 0 {
		return nil
	}

	seg := w.segments[0]
	if len(seg) <= max {
		w.segments = w.segments[1:]
		return seg
	}
	w.segments[0] = seg[max:]
	return seg[:max]
}

// Reset discards all queued data.
func (w *WriteBuffer) Reset() {
	w.segments = nil
	w.pending = nil
}

// WriteTo flushes every queued segment to conn as a single net.Buffers
// scatter/gather write, so a large Bytes argument referenced earlier
// reaches the wire without ever being copied into a contiguous command
// buffer. The WriteBuffer is empty again when WriteTo returns, whether or
// not it returned an error.
func (w *WriteBuffer) WriteTo(conn net.Conn) error {
	w.flushPending()
	segments := w.segments
	w.Reset()
	if len(segments) == 0 {
		return nil
	}
	bufs := net.Buffers(segments)
	_, err := bufs.WriteTo(conn)
	return err
}
