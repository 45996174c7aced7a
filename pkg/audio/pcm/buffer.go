// ABOUTME: Reusable byte buffer for sample conversion
// ABOUTME: Grows to the largest size requested and is never shrunk
package pcm

// bufferAlign is the granularity buffers grow by, so a stream whose chunk
// size wobbles does not reallocate on every call.
const bufferAlign = 8192

// Buffer is a scratch area for converted PCM. It is owned by exactly one
// goroutine; the slice returned by Get is only valid until the next Get.
type Buffer struct {
	data   []byte
	allocs int
}

// Get returns a slice of exactly size bytes. Existing contents are not
// preserved across growth.
func (b *Buffer) Get(size int) []byte {
	if size <= 0 {
		return b.data[:0]
	}

	if cap(b.data) < size {
		grown := (size + bufferAlign - 1) / bufferAlign * bufferAlign
		b.data = make([]byte, grown)
		b.allocs++
	}

	return b.data[:size]
}

// Cap returns the current capacity of the buffer
func (b *Buffer) Cap() int {
	return cap(b.data)
}
