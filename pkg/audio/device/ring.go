// ABOUTME: Thread-safe byte ring between a device callback and a session
// ABOUTME: Zero-fills reads on underrun, drops writes on overrun
package device

import "sync"

// ring is a fixed-size circular byte buffer
type ring struct {
	buffer   []byte
	readPos  int
	writePos int
	count    int
	mu       sync.Mutex
}

func newRing(capacity int) *ring {
	return &ring{buffer: make([]byte, capacity)}
}

// Write stores as much of p as fits and returns the number of bytes stored
func (r *ring) Write(p []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := min(len(p), len(r.buffer)-r.count)
	written := 0
	for written < n {
		c := copy(r.buffer[r.writePos:], p[written:n])
		r.writePos = (r.writePos + c) % len(r.buffer)
		written += c
	}
	r.count += n
	return n
}

// Read fills p from the ring and zero-fills whatever the ring cannot supply.
// It returns the number of bytes that came from the ring.
func (r *ring) Read(p []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := min(len(p), r.count)
	read := 0
	for read < n {
		end := min(len(r.buffer), r.readPos+n-read)
		c := copy(p[read:], r.buffer[r.readPos:end])
		r.readPos = (r.readPos + c) % len(r.buffer)
		read += c
	}
	r.count -= n
	clear(p[n:])
	return n
}

// Len returns the number of buffered bytes
func (r *ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Free returns the number of bytes that can be written
func (r *ring) Free() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buffer) - r.count
}

// Cap returns the ring size in bytes
func (r *ring) Cap() int {
	return len(r.buffer)
}
