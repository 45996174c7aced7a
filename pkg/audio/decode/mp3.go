// ABOUTME: MP3 decoder plugin
// ABOUTME: Decodes MP3 with go-mp3 in 1152-sample frames
package decode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"

	"github.com/Resonate-Protocol/resonated/pkg/audio"
)

// mp3FrameSamples is the number of samples per channel in an MPEG-1 layer III frame
const mp3FrameSamples = 1152

// MP3 decodes MPEG audio layer III
type MP3 struct{}

// Name returns the decoder name
func (*MP3) Name() string { return "mp3" }

// Suffixes returns the handled file extensions
func (*MP3) Suffixes() []string { return []string{"mp3"} }

// Decode plays in through h
func (*MP3) Decode(in *Input, h *Handoff) error {
	size, err := in.Size()
	if err != nil {
		return fmt.Errorf("failed to size mp3 stream: %w", err)
	}

	dec, err := mp3.NewDecoder(in)
	if err != nil {
		return fmt.Errorf("failed to create mp3 decoder: %w", err)
	}

	// go-mp3 always produces 16-bit stereo
	format := audio.Format{SampleRate: dec.SampleRate(), Bits: audio.FormatS16, Channels: 2}
	if err := h.Start(format, true); err != nil {
		return err
	}
	in.Take()

	frameBytes := format.FrameSize()
	buf := make([]byte, mp3FrameSamples*frameBytes)

	// go-mp3 scans the whole stream when it opens, so compressed bytes
	// are shared out by decoded length
	var totalFrames uint64
	if n := dec.Length(); n > 0 {
		totalFrames = uint64(n) / uint64(frameBytes)
	}
	compressed := func(frames int) uint64 {
		if totalFrames == 0 || size <= 0 {
			return in.Take()
		}
		return uint64(size) * uint64(frames) / totalFrames
	}
	planes := [][]int32{make([]int32, mp3FrameSamples), make([]int32, mp3FrameSamples)}

	seek := func(frame uint64) error {
		if _, err := dec.Seek(int64(frame)*int64(frameBytes), io.SeekStart); err != nil {
			return fmt.Errorf("mp3 seek to %d: %w", frame, err)
		}
		in.Take()
		return nil
	}

	for {
		if control(h, seek) {
			return nil
		}

		n, err := io.ReadFull(dec, buf)
		frames := n / frameBytes
		if frames > 0 {
			for i := 0; i < frames; i++ {
				planes[0][i] = int32(int16(binary.LittleEndian.Uint16(buf[i*4:])))
				planes[1][i] = int32(int16(binary.LittleEndian.Uint16(buf[i*4+2:])))
			}

			cmd := h.Write(&Frame{
				Channels:        [][]int32{planes[0][:frames], planes[1][:frames]},
				BlockSize:       frames,
				SampleRate:      format.SampleRate,
				CompressedBytes: compressed(frames),
			})
			if cmd == CommandStop {
				return nil
			}
		}

		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return nil
		default:
			if err := h.Error(err); err != nil {
				return err
			}
		}
	}
}
