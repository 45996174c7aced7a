// ABOUTME: Tests for the linear resampler
// ABOUTME: Tests rate conversion, chunk continuity and reset
package resample

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResampleIdentityKeepsSamples(t *testing.T) {
	r := New(48000, 48000, 1)

	out := r.Resample([]int32{1, 2, 3, 4}, nil)
	// The final frame is held back until the next chunk arrives
	assert.Equal(t, []int32{1, 2, 3}, out)

	out = r.Resample([]int32{5, 6}, out)
	assert.Equal(t, []int32{1, 2, 3, 4, 5}, out)
}

func TestResampleUpsampleInterpolates(t *testing.T) {
	r := New(24000, 48000, 1)

	out := r.Resample([]int32{0, 100, 200}, nil)
	assert.Equal(t, []int32{0, 50, 100, 150}, out)
}

func TestResampleDownsample(t *testing.T) {
	r := New(48000, 24000, 2)

	input := make([]int32, 0, 200)
	for i := 0; i < 100; i++ {
		input = append(input, int32(i), int32(-i))
	}

	out := r.Resample(input, nil)
	assert.Len(t, out, 50*2)
	assert.Equal(t, int32(2), out[2])
	assert.Equal(t, int32(-2), out[3])
}

func TestResampleContinuityAcrossChunks(t *testing.T) {
	chunked := New(44100, 48000, 2)
	whole := New(44100, 48000, 2)

	input := make([]int32, 0, 2000)
	for i := 0; i < 1000; i++ {
		input = append(input, 1000, -1000)
	}

	var a []int32
	for i := 0; i < len(input); i += 200 {
		a = chunked.Resample(input[i:i+200], a)
	}
	b := whole.Resample(input, nil)

	assert.Equal(t, len(b), len(a))
	for _, s := range a {
		assert.Contains(t, []int32{1000, -1000}, s)
	}
}

func TestResampleEmptyInput(t *testing.T) {
	r := New(44100, 48000, 2)
	assert.Empty(t, r.Resample(nil, nil))
}

func TestResetDropsCarriedFrame(t *testing.T) {
	r := New(48000, 48000, 1)
	r.Resample([]int32{1, 2}, nil)
	r.Reset()

	out := r.Resample([]int32{7, 8}, nil)
	assert.Equal(t, []int32{7}, out)
}

func TestOutputSamplesNeeded(t *testing.T) {
	r := New(44100, 48000, 2)
	input := make([]int32, 882)
	out := r.Resample(input, nil)
	assert.LessOrEqual(t, len(out), r.OutputSamplesNeeded(len(input)))
}
