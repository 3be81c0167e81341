// ABOUTME: Byte FIFO holding interleaved samples between a device and a queue
// ABOUTME: Appends at the tail, removes from the head, fills silence on demand
package audio

import "slices"

// SampleBuffer is an ordered byte queue owned by a single stage.
// It is not safe for concurrent use.
type SampleBuffer struct {
	buf  []byte
	head int
}

// NewSampleBuffer creates a buffer with the given initial capacity in bytes
func NewSampleBuffer(capacity int) *SampleBuffer {
	if capacity < 0 {
		capacity = 0
	}
	return &SampleBuffer{buf: make([]byte, 0, capacity)}
}

// Len returns the number of buffered bytes
func (b *SampleBuffer) Len() int {
	return len(b.buf) - b.head
}

// Cap returns the current capacity of the backing storage
func (b *SampleBuffer) Cap() int {
	return cap(b.buf)
}


// Append copies p to the tail
func (b *SampleBuffer) Append(p []byte) {
	if len(p) == 0 {
		return
	}
	b.reserve(len(p))
	b.buf = append(b.buf, p...)
}

// FillSilence appends n zero bytes
func (b *SampleBuffer) FillSilence(n int) {
	if n <= 0 {
		return
	}
	b.reserve(n)
	start := len(b.buf)
	b.buf = b.buf[:start+n]
	clear(b.buf[start:])
}


// Tail extends the buffer by n bytes and returns them for the caller to fill.
// The returned slice is only valid until the next call on b.
func (b *SampleBuffer) Tail(n int) []byte {
	if n <= 0 {
		return nil
	}
	b.reserve(n)
	start := len(b.buf)
	b.buf = b.buf[:start+n]
	return b.buf[start:]
}

// Next removes up to n bytes from the head and returns them without copying.
// The returned slice is only valid until the next call on b.
func (b *SampleBuffer) Next(n int) []byte {
	if n > b.Len() {
		n = b.Len()
	}
	if n <= 0 {
		return nil
	}
	p := b.buf[b.head : b.head+n]
	b.head += n
	if b.head == len(b.buf) {
		b.buf = b.buf[:0]
		b.head = 0
	}
	return p
}

// Pop removes up to n bytes from the head and returns a private copy
func (b *SampleBuffer) Pop(n int) []byte {
	p := b.Next(n)
	if p == nil {
		return nil
	}
	return slices.Clone(p)
}




// reserve ensures n bytes can be appended, compacting consumed head space first
func (b *SampleBuffer) reserve(n int) {
	if cap(b.buf)-len(b.buf) >= n {
		return
	}
	if b.head > 0 {
		live := b.Len()
		copy(b.buf, b.buf[b.head:])
		b.buf = b.buf[:live]
		b.head = 0
		if cap(b.buf)-len(b.buf) >= n {
			return
		}
	}
	b.buf = slices.Grow(b.buf, n)
}
