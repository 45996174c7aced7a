// ABOUTME: Ogg Vorbis decoder plugin
// ABOUTME: Decodes Vorbis with oggvorbis and quantises to 16-bit samples
package decode

import (
	"errors"
	"fmt"
	"io"

	"github.com/jfreymuth/oggvorbis"

	"github.com/Resonate-Protocol/resonated/pkg/audio"
)

// vorbisBlockFrames is how many frames are read per handoff write
const vorbisBlockFrames = 1024

// Vorbis decodes Ogg Vorbis streams
type Vorbis struct{}

// Name returns the decoder name
func (*Vorbis) Name() string { return "vorbis" }

// Suffixes returns the handled file extensions
func (*Vorbis) Suffixes() []string { return []string{"ogg", "oga"} }

// Decode plays in through h
func (*Vorbis) Decode(in *Input, h *Handoff) error {
	r, err := oggvorbis.NewReader(in)
	if err != nil {
		return fmt.Errorf("failed to open vorbis stream: %w", err)
	}

	format := audio.Format{SampleRate: r.SampleRate(), Bits: audio.FormatS16, Channels: r.Channels()}
	if err := h.Start(format, true); err != nil {
		return err
	}
	in.Take()

	channels := format.Channels
	buf := make([]float32, vorbisBlockFrames*channels)
	planes := make([][]int32, channels)
	for ch := range planes {
		planes[ch] = make([]int32, vorbisBlockFrames)
	}
	frame := make([][]int32, channels)

	seek := func(pos uint64) error {
		if err := r.SetPosition(int64(pos)); err != nil {
			return fmt.Errorf("vorbis seek to %d: %w", pos, err)
		}
		in.Take()
		return nil
	}

	for {
		if control(h, seek) {
			return nil
		}

		// Read reports sample values, not frames
		n, err := r.Read(buf)
		frames := n / channels
		if frames > 0 {
			for i := 0; i < frames; i++ {
				for ch := 0; ch < channels; ch++ {
					planes[ch][i] = floatToS16(buf[i*channels+ch])
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
		case err == nil:
		case errors.Is(err, io.EOF):
			return nil
		default:
			if err := h.Error(err); err != nil {
				return err
			}
		}
	}
}

func floatToS16(v float32) int32 {
	s := int32(v * 32767)
	if s > 32767 {
		return 32767
	}
	if s < -32768 {
		return -32768
	}
	return s
}
