// ABOUTME: PCM byte packing and unpacking
// ABOUTME: Converts between int32 samples and little-endian interleaved bytes
package pcm

import (
	"encoding/binary"
	"fmt"

	"github.com/Resonate-Protocol/resonated/pkg/audio"
)

// Interleave packs planar samples into dst as little-endian interleaved
// frames of the given sample format. dst must hold frames*len(planes)*bits.Size()
// bytes. Samples are expected at the bit depth of bits.
func Interleave(dst []byte, planes [][]int32, frames int, bits audio.SampleFormat) error {
	channels := len(planes)
	if channels == 0 {
		return fmt.Errorf("no channels to interleave")
	}

	need := frames * channels * bits.Size()
	if len(dst) < need {
		return fmt.Errorf("destination too small: %d < %d", len(dst), need)
	}

	for ch, plane := range planes {
		if len(plane) < frames {
			return fmt.Errorf("channel %d has %d samples, want %d", ch, len(plane), frames)
		}
	}

	size := bits.Size()
	off := 0
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			putSample(dst[off:], planes[ch][i], bits)
			off += size
		}
	}

	return nil
}

// Encode writes interleaved samples to dst in the given sample format
func Encode(dst []byte, samples []int32, bits audio.SampleFormat) {
	size := bits.Size()
	for i, s := range samples {
		putSample(dst[i*size:], s, bits)
	}
}

// Decode reads little-endian samples from src, appending them to out
func Decode(out []int32, src []byte, bits audio.SampleFormat) []int32 {
	size := bits.Size()
	n := len(src) / size
	for i := 0; i < n; i++ {
		out = append(out, getSample(src[i*size:], bits))
	}
	return out
}

func putSample(b []byte, s int32, bits audio.SampleFormat) {
	switch bits {
	case audio.FormatS8:
		b[0] = byte(int8(s))
	case audio.FormatS16:
		binary.LittleEndian.PutUint16(b, uint16(int16(s)))
	case audio.FormatS24P32, audio.FormatS32:
		binary.LittleEndian.PutUint32(b, uint32(s))
	}
}

func getSample(b []byte, bits audio.SampleFormat) int32 {
	switch bits {
	case audio.FormatS8:
		return int32(int8(b[0]))
	case audio.FormatS16:
		return int32(int16(binary.LittleEndian.Uint16(b)))
	case audio.FormatS24P32:
		// Sign-extend from bit 23
		v := int32(binary.LittleEndian.Uint32(b))
		return v << 8 >> 8
	case audio.FormatS32:
		return int32(binary.LittleEndian.Uint32(b))
	}
	return 0
}
