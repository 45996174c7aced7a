// ABOUTME: Byte ring buffer between the output worker and a device callback
// ABOUTME: Zero-fills reads on underrun and signals writers when space frees up
package output

import (
	"sync"
	"time"
)

// RingBuffer is a thread-safe circular buffer of PCM bytes
type RingBuffer struct {
	mu       sync.Mutex
	buffer   []byte
	readPos  int
	writePos int
	count    int
	space    chan struct{}
}

// NewRingBuffer creates a ring buffer with the given capacity in bytes
func NewRingBuffer(capacity int) *RingBuffer {
	return &RingBuffer{
		buffer: make([]byte, capacity),
		space:  make(chan struct{}, 1),
	}
}

// Write copies as much of p as fits and returns the number of bytes written
func (rb *RingBuffer) Write(p []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	size := len(rb.buffer)
	written := 0
	for written < len(p) && rb.count < size {
		end := rb.writePos + (size - rb.count)
		if end > size {
			end = size
		}
		n := copy(rb.buffer[rb.writePos:end], p[written:])
		rb.writePos = (rb.writePos + n) % size
		rb.count += n
		written += n
	}
	return written
}

// Read fills p from the buffer, padding with silence when it runs dry. It
// always reports len(p) so a device reader never sees end of stream.
func (rb *RingBuffer) Read(p []byte) (int, error) {
	rb.mu.Lock()

	size := len(rb.buffer)
	read := 0
	for read < len(p) && rb.count > 0 {
		end := rb.readPos + rb.count
		if end > size {
			end = size
		}
		n := copy(p[read:], rb.buffer[rb.readPos:end])
		rb.readPos = (rb.readPos + n) % size
		rb.count -= n
		read += n
	}
	rb.mu.Unlock()

	// Zero-fill remaining if underrun
	for i := read; i < len(p); i++ {
		p[i] = 0
	}

	if read > 0 {
		select {
		case rb.space <- struct{}{}:
		default:
		}
	}

	return len(p), nil
}

// WriteWait writes p, waiting up to timeout for room when the buffer is
// full. It returns 0 when no room appeared in time.
func (rb *RingBuffer) WriteWait(p []byte, timeout time.Duration) int {
	if n := rb.Write(p); n > 0 || len(p) == 0 {
		return n
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-rb.space:
			if n := rb.Write(p); n > 0 {
				return n
			}
		case <-timer.C:
			return 0
		}
	}
}

// Reset discards all buffered bytes
func (rb *RingBuffer) Reset() {
	rb.mu.Lock()
	rb.readPos = 0
	rb.writePos = 0
	rb.count = 0
	rb.mu.Unlock()

	select {
	case rb.space <- struct{}{}:
	default:
	}
}

// Available returns the number of buffered bytes
func (rb *RingBuffer) Available() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count
}

// Free returns the number of free bytes
func (rb *RingBuffer) Free() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return len(rb.buffer) - rb.count
}
