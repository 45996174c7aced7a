// ABOUTME: Opus audio encoder
// ABOUTME: Encodes 20ms frames of S16 PCM to Opus packets
package encode

import (
	"encoding/binary"
	"fmt"
	"time"

	"gopkg.in/hraban/opus.v2"

	"github.com/Resonate-Protocol/resonated/pkg/audio"
)

// FrameDuration is the length of audio in one Opus packet
const FrameDuration = 20 * time.Millisecond

// maxPacketSize is the largest Opus packet we accept from the encoder
const maxPacketSize = 4000

var _ Encoder = (*OpusEncoder)(nil)

// OpusEncoder encodes Opus audio
type OpusEncoder struct {
	encoder   *opus.Encoder
	format    audio.Format
	frameSize int // samples per channel per packet
	pcm       []int16
	packet    []byte
}

// NewOpus creates a new Opus encoder. bitrate is in bits per second, 0
// leaves the encoder default.
func NewOpus(format audio.Format, bitrate int) (*OpusEncoder, error) {
	if format.Bits != audio.FormatS16 {
		return nil, fmt.Errorf("opus encoder needs 16-bit input, got %s", format.Bits)
	}

	switch format.SampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		return nil, fmt.Errorf("unsupported opus sample rate: %d", format.SampleRate)
	}

	encoder, err := opus.NewEncoder(format.SampleRate, format.Channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}

	if bitrate > 0 {
		if err := encoder.SetBitrate(bitrate); err != nil {
			return nil, fmt.Errorf("failed to set opus bitrate: %w", err)
		}
	}

	frameSize := format.SampleRate / 50 // 20ms frame

	return &OpusEncoder{
		encoder:   encoder,
		format:    format,
		frameSize: frameSize,
		pcm:       make([]int16, frameSize*format.Channels),
		packet:    make([]byte, maxPacketSize),
	}, nil
}

// FrameBytes returns the PCM bytes in one 20ms frame
func (e *OpusEncoder) FrameBytes() int {
	return e.frameSize * e.format.FrameSize()
}

// Encode converts one frame of S16 bytes to an Opus packet. The returned
// slice is reused by the next call.
func (e *OpusEncoder) Encode(pcm []byte) ([]byte, error) {
	if len(pcm) != e.FrameBytes() {
		return nil, fmt.Errorf("opus frame must be %d bytes, got %d", e.FrameBytes(), len(pcm))
	}

	for i := range e.pcm {
		e.pcm[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}

	n, err := e.encoder.Encode(e.pcm, e.packet)
	if err != nil {
		return nil, fmt.Errorf("opus encode error: %w", err)
	}

	return e.packet[:n], nil
}

// Close releases resources
func (e *OpusEncoder) Close() error {
	return nil
}
