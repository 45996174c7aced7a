// ABOUTME: FLAC decoder plugin
// ABOUTME: Decodes FLAC frames with mewkiz/flac and supports sample-accurate seeking
package decode

import (
	"errors"
	"fmt"
	"io"

	"github.com/mewkiz/flac"

	"github.com/Resonate-Protocol/resonated/pkg/audio"
)

// FLAC decodes native FLAC streams
type FLAC struct{}

// Name returns the decoder name
func (*FLAC) Name() string { return "flac" }

// Suffixes returns the handled file extensions
func (*FLAC) Suffixes() []string { return []string{"flac"} }

// Decode plays in through h
func (*FLAC) Decode(in *Input, h *Handoff) error {
	stream, err := flac.NewSeek(in)
	if err != nil {
		return fmt.Errorf("failed to open flac stream: %w", err)
	}
	defer stream.Close()

	bits := audio.SampleFormatFromBits(int(stream.Info.BitsPerSample))
	if bits == audio.FormatUndefined {
		return fmt.Errorf("%w: %d bits per sample", ErrUnsupportedFormat, stream.Info.BitsPerSample)
	}

	format := audio.Format{
		SampleRate: int(stream.Info.SampleRate),
		Bits:       bits,
		Channels:   int(stream.Info.NChannels),
	}
	if err := h.Start(format, true); err != nil {
		return err
	}
	in.Take()

	planes := make([][]int32, format.Channels)
	// skip is how many leading samples of the next frame precede a seek target
	var skip uint64
	seek := func(frame uint64) error {
		start, err := stream.Seek(frame)
		if err != nil {
			return fmt.Errorf("flac seek to %d: %w", frame, err)
		}
		skip = 0
		if frame > start {
			skip = frame - start
		}
		in.Take()
		return nil
	}

	for {
		if control(h, seek) {
			return nil
		}

		f, err := stream.ParseNext()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if err := h.Error(err); err != nil {
				return err
			}
			continue
		}

		if len(f.Subframes) != format.Channels {
			if err := h.Error(fmt.Errorf("bad header: frame has %d channels", len(f.Subframes))); err != nil {
				return err
			}
			continue
		}
		blockSize := int(f.BlockSize)
		offset := 0
		if skip > 0 {
			offset = int(min(skip, uint64(blockSize)))
			skip -= uint64(offset)
			blockSize -= offset
			if blockSize == 0 {
				continue
			}
		}
		for ch, sub := range f.Subframes {
			planes[ch] = sub.Samples[offset:]
		}

		cmd := h.Write(&Frame{
			Channels:        planes,
			BlockSize:       blockSize,
			SampleRate:      int(f.SampleRate),
			CompressedBytes: in.Take(),
		})
		if cmd == CommandStop {
			return nil
		}
	}
}
