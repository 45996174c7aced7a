// ABOUTME: Audio format definitions
// ABOUTME: Defines sample formats, stream formats and sample scaling helpers
package audio

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// MaxSampleRate is the highest sample rate a Format may carry
	MaxSampleRate = 768000

	// MaxChannels is the highest channel count a Format may carry
	MaxChannels = 8
)

// ErrInvalidFormat is returned for formats that cannot describe a PCM stream
var ErrInvalidFormat = errors.New("invalid audio format")

// SampleFormat describes how one sample is stored
type SampleFormat int

const (
	FormatUndefined SampleFormat = iota
	FormatS8
	FormatS16
	// FormatS24P32 stores signed 24-bit samples in the low bits of a 32-bit word
	FormatS24P32
	FormatS32
)

// SampleFormatFromBits maps a bit depth to its sample format
func SampleFormatFromBits(bits int) SampleFormat {
	switch bits {
	case 8:
		return FormatS8
	case 16:
		return FormatS16
	case 24:
		return FormatS24P32
	case 32:
		return FormatS32
	default:
		return FormatUndefined
	}
}

// Size returns the number of bytes one sample occupies
func (f SampleFormat) Size() int {
	switch f {
	case FormatS8:
		return 1
	case FormatS16:
		return 2
	case FormatS24P32, FormatS32:
		return 4
	default:
		return 0
	}
}

// Bits returns the number of significant bits per sample
func (f SampleFormat) Bits() int {
	switch f {
	case FormatS8:
		return 8
	case FormatS16:
		return 16
	case FormatS24P32:
		return 24
	case FormatS32:
		return 32
	default:
		return 0
	}
}

func (f SampleFormat) String() string {
	switch f {
	case FormatS8:
		return "s8"
	case FormatS16:
		return "s16"
	case FormatS24P32:
		return "s24_p32"
	case FormatS32:
		return "s32"
	default:
		return "undefined"
	}
}

// Format describes a PCM stream
type Format struct {
	SampleRate int
	Bits       SampleFormat
	Channels   int
}

// IsDefined reports whether any field is set
func (f Format) IsDefined() bool {
	return f.SampleRate != 0 || f.Bits != FormatUndefined || f.Channels != 0
}

// Valid checks that every field is within the supported range
func (f Format) Valid() error {
	if f.SampleRate <= 0 || f.SampleRate > MaxSampleRate {
		return fmt.Errorf("%w: sample rate %d", ErrInvalidFormat, f.SampleRate)
	}
	if f.Bits.Size() == 0 {
		return fmt.Errorf("%w: sample format %s", ErrInvalidFormat, f.Bits)
	}
	if f.Channels <= 0 || f.Channels > MaxChannels {
		return fmt.Errorf("%w: %d channels", ErrInvalidFormat, f.Channels)
	}
	return nil
}

// FrameSize returns the size in bytes of one frame (one sample per channel)
func (f Format) FrameSize() int {
	return f.Bits.Size() * f.Channels
}

// Duration returns the play time of nbytes of audio in this format
func (f Format) Duration(nbytes int) time.Duration {
	frameSize := f.FrameSize()
	if frameSize == 0 || f.SampleRate == 0 {
		return 0
	}
	frames := int64(nbytes / frameSize)
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// BytesFor returns the number of whole-frame bytes covering d
func (f Format) BytesFor(d time.Duration) int {
	frames := int64(d) * int64(f.SampleRate) / int64(time.Second)
	return int(frames) * f.FrameSize()
}

// Apply returns f with every defined field of override replacing its own
func (f Format) Apply(override Format) Format {
	if override.SampleRate != 0 {
		f.SampleRate = override.SampleRate
	}
	if override.Bits != FormatUndefined {
		f.Bits = override.Bits
	}
	if override.Channels != 0 {
		f.Channels = override.Channels
	}
	return f
}

// String renders the format in the rate:bits:channels form accepted by ParseFormat
func (f Format) String() string {
	field := func(v int) string {
		if v == 0 {
			return "*"
		}
		return strconv.Itoa(v)
	}
	return field(f.SampleRate) + ":" + field(f.Bits.Bits()) + ":" + field(f.Channels)
}

// ParseFormat parses "rate:bits:channels". A "*" field is left undefined so it
// can be filled from the stream later.
func ParseFormat(s string) (Format, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return Format{}, fmt.Errorf("%w: %q is not rate:bits:channels", ErrInvalidFormat, s)
	}

	values := make([]int, 3)
	for i, p := range parts {
		if p == "*" {
			continue
		}
		v, err := strconv.Atoi(p)
		if err != nil || v <= 0 {
			return Format{}, fmt.Errorf("%w: bad field %q in %q", ErrInvalidFormat, p, s)
		}
		values[i] = v
	}

	f := Format{SampleRate: values[0], Channels: values[2]}
	if values[1] != 0 {
		f.Bits = SampleFormatFromBits(values[1])
		if f.Bits == FormatUndefined {
			return Format{}, fmt.Errorf("%w: unsupported bit depth %d", ErrInvalidFormat, values[1])
		}
	}
	if f.SampleRate > MaxSampleRate || f.Channels > MaxChannels {
		return Format{}, fmt.Errorf("%w: %q out of range", ErrInvalidFormat, s)
	}
	return f, nil
}

// Scale converts a sample between the significant bit widths of two formats
func Scale(sample int32, from, to SampleFormat) int32 {
	shift := to.Bits() - from.Bits()
	if shift > 0 {
		return sample << shift
	}
	return sample >> -shift
}
