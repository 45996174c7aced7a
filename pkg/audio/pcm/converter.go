// ABOUTME: Per-output PCM conversion state
// ABOUTME: Converts bit depth, channel layout and sample rate into an owned buffer
package pcm

import (
	"fmt"

	"github.com/Resonate-Protocol/resonated/pkg/audio"
	"github.com/Resonate-Protocol/resonated/pkg/audio/resample"
)

// Converter turns interleaved PCM in one format into another. It keeps the
// resampler state between calls, so it must be reset whenever either
// format changes.
type Converter struct {
	in  audio.Format
	out audio.Format

	resampler *resample.Resampler

	samples   []int32
	mapped    []int32
	resampled []int32
	buf       Buffer
}

// NewConverter creates a converter from in to out
func NewConverter(in, out audio.Format) (*Converter, error) {
	if err := in.Valid(); err != nil {
		return nil, fmt.Errorf("input format: %w", err)
	}
	if err := out.Valid(); err != nil {
		return nil, fmt.Errorf("output format: %w", err)
	}

	c := &Converter{in: in, out: out}
	if in.SampleRate != out.SampleRate {
		c.resampler = resample.New(in.SampleRate, out.SampleRate, out.Channels)
	}
	return c, nil
}

// Passthrough reports whether Convert returns its input unchanged
func (c *Converter) Passthrough() bool {
	return c.in == c.out
}

// Reset drops any carried resampler state
func (c *Converter) Reset() {
	if c.resampler != nil {
		c.resampler.Reset()
	}
}

// Convert converts src and returns the result. The returned slice aliases
// either src (passthrough) or the converter's own buffer and is only valid
// until the next call.
func (c *Converter) Convert(src []byte) ([]byte, error) {
	if c.Passthrough() {
		return src, nil
	}

	frameSize := c.in.FrameSize()
	if len(src)%frameSize != 0 {
		return nil, fmt.Errorf("chunk of %d bytes is not a multiple of frame size %d", len(src), frameSize)
	}

	c.samples = Decode(c.samples[:0], src, c.in.Bits)
	c.mapped = mapChannels(c.mapped[:0], c.samples, c.in.Channels, c.out.Channels)

	samples := c.mapped
	if c.resampler != nil {
		if need := c.resampler.OutputSamplesNeeded(len(samples)); cap(c.resampled) < need {
			c.resampled = make([]int32, 0, need)
		}
		c.resampled = c.resampler.Resample(samples, c.resampled[:0])
		samples = c.resampled
	}

	if c.in.Bits != c.out.Bits {
		for i, s := range samples {
			samples[i] = audio.Scale(s, c.in.Bits, c.out.Bits)
		}
	}

	dst := c.buf.Get(len(samples) * c.out.Bits.Size())
	Encode(dst, samples, c.out.Bits)
	return dst, nil
}

// mapChannels remaps interleaved samples from in to out channels. Mono is
// duplicated across all outputs, downmix to mono averages, and otherwise
// channels are taken in order and repeated as needed.
func mapChannels(dst, src []int32, in, out int) []int32 {
	if in == out {
		return append(dst, src...)
	}

	frames := len(src) / in
	for f := 0; f < frames; f++ {
		frame := src[f*in : (f+1)*in]
		if out == 1 {
			var sum int64
			for _, s := range frame {
				sum += int64(s)
			}
			dst = append(dst, int32(sum/int64(in)))
			continue
		}
		for ch := 0; ch < out; ch++ {
			dst = append(dst, frame[ch%in])
		}
	}
	return dst
}
