// ABOUTME: Tests for the conversion buffer
// ABOUTME: Tests monotonic growth and reuse
package pcm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBufferGrowsOnlyWhenNeeded(t *testing.T) {
	var b Buffer

	first := b.Get(100)
	assert.Len(t, first, 100)
	assert.Equal(t, 1, b.allocs)
	assert.Equal(t, 8192, b.Cap())

	// Smaller request reuses storage
	second := b.Get(50)
	assert.Len(t, second, 50)
	assert.Equal(t, 1, b.allocs)
	assert.Same(t, &first[0], &second[0])

	b.Get(10000)
	assert.Equal(t, 2, b.allocs)
	assert.Equal(t, 16384, b.Cap())

	// Never shrinks
	b.Get(10)
	assert.Equal(t, 16384, b.Cap())
	assert.Equal(t, 2, b.allocs)
}

func TestBufferRepeatedSameSize(t *testing.T) {
	var b Buffer
	for i := 0; i < 100; i++ {
		b.Get(4608)
	}
	assert.Equal(t, 1, b.allocs)
}

func TestBufferZeroSize(t *testing.T) {
	var b Buffer
	assert.Empty(t, b.Get(0))
	assert.Equal(t, 0, b.allocs)
}
