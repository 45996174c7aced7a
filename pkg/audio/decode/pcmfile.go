// ABOUTME: WAV and AIFF decoder plugins
// ABOUTME: Reads uncompressed PCM files through go-audio decoders
package decode

import (
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/aiff"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/Resonate-Protocol/resonated/pkg/audio"
)

// pcmBlockFrames is how many frames are read per handoff write
const pcmBlockFrames = 4096

// pcmReader is the part of the go-audio decoders used for playback
type pcmReader interface {
	Format() *goaudio.Format
	PCMBuffer(buf *goaudio.IntBuffer) (int, error)
}

// WAV decodes RIFF/WAVE files
type WAV struct{}

// Name returns the decoder name
func (*WAV) Name() string { return "wav" }

// Suffixes returns the handled file extensions
func (*WAV) Suffixes() []string { return []string{"wav"} }

// Decode plays in through h
func (*WAV) Decode(in *Input, h *Handoff) error {
	dec := wav.NewDecoder(in)
	if !dec.IsValidFile() {
		return fmt.Errorf("%w: %s is not a wav file", ErrUnsupportedFormat, in.Name())
	}
	dec.ReadInfo()

	// WAV stores 8-bit samples unsigned
	return decodePCM(in, h, dec, int(dec.BitDepth), dec.BitDepth == 8)
}

// AIFF decodes Audio Interchange File Format files
type AIFF struct{}

// Name returns the decoder name
func (*AIFF) Name() string { return "aiff" }

// Suffixes returns the handled file extensions
func (*AIFF) Suffixes() []string { return []string{"aiff", "aif"} }

// Decode plays in through h
func (*AIFF) Decode(in *Input, h *Handoff) error {
	dec := aiff.NewDecoder(in)
	if !dec.IsValidFile() {
		return fmt.Errorf("%w: %s is not an aiff file", ErrUnsupportedFormat, in.Name())
	}
	dec.ReadInfo()

	return decodePCM(in, h, dec, int(dec.BitDepth), false)
}

func decodePCM(in *Input, h *Handoff, dec pcmReader, bitDepth int, unsigned8 bool) error {
	f := dec.Format()
	if f == nil {
		return fmt.Errorf("%w: missing format chunk", ErrUnsupportedFormat)
	}

	bits := audio.SampleFormatFromBits(bitDepth)
	if bits == audio.FormatUndefined {
		return fmt.Errorf("%w: %d bits per sample", ErrUnsupportedFormat, bitDepth)
	}

	format := audio.Format{SampleRate: f.SampleRate, Bits: bits, Channels: f.NumChannels}
	// go-audio decoders only read forward
	if err := h.Start(format, false); err != nil {
		return err
	}
	in.Take()

	channels := format.Channels
	buf := &goaudio.IntBuffer{
		Format: f,
		Data:   make([]int, pcmBlockFrames*channels),
	}
	planes := make([][]int32, channels)
	for ch := range planes {
		planes[ch] = make([]int32, pcmBlockFrames)
	}
	frame := make([][]int32, channels)

	for {
		if control(h, func(uint64) error { return ErrNotSeekable }) {
			return nil
		}

		n, err := dec.PCMBuffer(buf)
		frames := n / channels
		if frames > 0 {
			for i := 0; i < frames; i++ {
				for ch := 0; ch < channels; ch++ {
					s := int32(buf.Data[i*channels+ch])
					if unsigned8 {
						s -= 128
					}
					planes[ch][i] = s
				}
			}
			for ch := range frame {
				frame[ch] = planes[ch][:frames]
			}

			cmd := h.Write(&Frame{
				Channels:        frame,
				BlockSize:       frames,
				SampleRate:      format.SampleRate,
				CompressedBytes: in.Take(),
			})
			if cmd == CommandStop {
				return nil
			}
		}

		switch {
		case err != nil && !errors.Is(err, io.EOF):
			if err := h.Error(err); err != nil {
				return err
			}
		case err != nil, n == 0:
			return nil
		}
	}
}
