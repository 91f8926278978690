// Package buffer implements the Slice/SliceBuffer pair: an ordered queue
// of byte slices forming one logical stream, with O(1) tail append and
// head advance and a peek operation that coalesces across slice
// boundaries when a caller needs a contiguous view.
//
// SliceBuffer itself holds no lock: the receive-side buffer is only
// ever touched from the poller goroutine that owns the connection's
// recv events, and the send-side buffer is protected by the
// connection's own send mutex.
package buffer

// Slice is a contiguous byte view. It is a thin named type rather than
// a bare []byte so call sites and doc comments can say "a Slice" and
// mean one coherent chunk of a SliceBuffer's stream.
type Slice []byte

// SliceBuffer is a queue of Slices forming one logical byte stream.
type SliceBuffer struct {
	chunks []Slice
	off    int // consumed bytes within chunks[0]
	length int // total unconsumed bytes across all chunks
}

// NewSliceBuffer returns an empty buffer.
func NewSliceBuffer() *SliceBuffer {
	return &SliceBuffer{}
}

// Len returns the current number of unconsumed bytes.
func (b *SliceBuffer) Len() int {
	return b.length
}

// IsEmpty reports whether the buffer currently holds no bytes.
func (b *SliceBuffer) IsEmpty() bool {
	return b.length == 0
}

// Append adds a slice at the tail of the stream. The caller must not
// mutate buf afterwards; Append takes ownership of it.
func (b *SliceBuffer) Append(buf []byte) {
	if len(buf) == 0 {
		return
	}
	b.chunks = append(b.chunks, Slice(buf))
	b.length += len(buf)
}

// Top returns the head chunk's unconsumed bytes, for writev-style
// draining of one OS write call. It returns ok=false when the buffer is
// empty.
func (b *SliceBuffer) Top() (Slice, bool) {
	if len(b.chunks) == 0 {
		return nil, false
	}
	return b.chunks[0][b.off:], true
}

// PeekN returns a contiguous view of the first n bytes of the stream.
// If those bytes already live in one chunk, the returned slice aliases
// it; otherwise PeekN coalesces the prefix into a freshly allocated
// buffer. ok is false when fewer than n bytes are currently buffered.
func (b *SliceBuffer) PeekN(n int) (out []byte, ok bool) {
	if n <= 0 {
		return nil, true
	}
	if n > b.length {
		return nil, false
	}

	first := b.chunks[0][b.off:]
	if len(first) >= n {
		return first[:n], true
	}

	coalesced := make([]byte, 0, n)
	coalesced = append(coalesced, first...)
	for i := 1; i < len(b.chunks) && len(coalesced) < n; i++ {
		remain := n - len(coalesced)
		chunk := b.chunks[i]
		if len(chunk) > remain {
			chunk = chunk[:remain]
		}
		coalesced = append(coalesced, chunk...)
	}
	return coalesced, true
}

// Advance drops the first n bytes of the stream, making them
// unobservable to future Peek/Top calls. n must not exceed Len().
func (b *SliceBuffer) Advance(n int) {
	if n <= 0 {
		return
	}
	if n > b.length {
		n = b.length
	}
	b.length -= n

	for n > 0 && len(b.chunks) > 0 {
		head := b.chunks[0]
		remain := len(head) - b.off
		if n < remain {
			b.off += n
			n = 0
			break
		}
		n -= remain
		b.chunks[0] = nil // release backing array
		b.chunks = b.chunks[1:]
		b.off = 0
	}

	if len(b.chunks) == 0 {
		b.chunks = nil
		b.off = 0
	}
}

// Discard is a synonym for Advance, for call sites that are draining
// bytes already written out rather than consuming and parsing them.
func (b *SliceBuffer) Discard(n int) { b.Advance(n) }

// Clear drops every buffered byte.
func (b *SliceBuffer) Clear() {
	b.chunks = nil
	b.off = 0
	b.length = 0
}
