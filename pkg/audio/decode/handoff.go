// ABOUTME: Decoder-to-output handoff
// ABOUTME: Packs decoded frames, computes bit rate and returns the control verdict
package decode

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Resonate-Protocol/resonated/pkg/audio"
	"github.com/Resonate-Protocol/resonated/pkg/audio/pcm"
)

// MaxDesyncs is how many consecutive frame errors end a stream
const MaxDesyncs = 32

// Command is the control verdict the consuming stage hands back
type Command int

const (
	CommandNone Command = iota
	CommandStart
	CommandStop
	CommandSeek
)

func (c Command) String() string {
	switch c {
	case CommandNone:
		return "none"
	case CommandStart:
		return "start"
	case CommandStop:
		return "stop"
	case CommandSeek:
		return "seek"
	default:
		return fmt.Sprintf("Command(%d)", int(c))
	}
}

// Frame is one block of decoded planar samples at the stream's bit depth
type Frame struct {
	Channels        [][]int32
	BlockSize       int
	SampleRate      int
	CompressedBytes uint64
}

// Sink is the stage consuming decoded PCM
type Sink interface {
	// Start announces the stream format before the first chunk
	Start(format audio.Format, seekable bool) error
	// Data submits one interleaved chunk and returns the pending command
	Data(chunk []byte, bitRate int) Command
	// Pending returns the pending command without submitting audio
	Pending() Command
	// SeekTarget is the position requested by a pending seek
	SeekTarget() time.Duration
	// SeekDone clears a pending seek, err reports a failed reposition
	SeekDone(err error)
}

// Handoff carries one decoded stream into a Sink. It is used by a single
// decoder goroutine.
type Handoff struct {
	sink     Sink
	log      *logrus.Entry
	format   audio.Format
	seekable bool
	started  bool

	buf       pcm.Buffer
	nextFrame uint64
	desyncs   int

	// Codec libraries read ahead, so compressed bytes arrive in bursts.
	// The bit rate is averaged over windows of at least one second that
	// close just before a frame which read bytes; until the first window
	// closes the open window is reported.
	windowBytes  uint64
	windowFrames uint64
	windowClosed bool
	bitRate      int
}

// NewHandoff creates a handoff delivering into sink
func NewHandoff(sink Sink, log *logrus.Entry) *Handoff {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Handoff{sink: sink, log: log}
}

// Start validates the stream format and announces it to the sink
func (h *Handoff) Start(format audio.Format, seekable bool) error {
	if err := format.Valid(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	if err := h.sink.Start(format, seekable); err != nil {
		return err
	}

	h.format = format
	h.seekable = seekable
	h.started = true
	h.nextFrame = 0
	h.desyncs = 0
	h.resetBitRate()
	h.bitRate = 0

	h.log.WithField("format", format.String()).Debug("Stream started")
	return nil
}

// Format returns the announced stream format
func (h *Handoff) Format() audio.Format { return h.format }

// NextFrame is the index of the next frame the decoder will produce
func (h *Handoff) NextFrame() uint64 { return h.nextFrame }

// Write packs f into the stream format and submits it
func (h *Handoff) Write(f *Frame) Command {
	if !h.started {
		h.log.Error("Frame written before stream start")
		return CommandStop
	}

	if len(f.Channels) != h.format.Channels {
		h.log.Warnf("Dropping frame with %d channels, stream has %d", len(f.Channels), h.format.Channels)
		return h.Pending()
	}

	buf := h.buf.Get(f.BlockSize * h.format.FrameSize())
	if err := pcm.Interleave(buf, f.Channels, f.BlockSize, h.format.Bits); err != nil {
		h.log.WithError(err).Warn("Dropping malformed frame")
		return h.Pending()
	}

	rate := f.SampleRate
	if rate == 0 {
		rate = h.format.SampleRate
	}

	cmd := h.sink.Data(buf, h.updateBitRate(f.CompressedBytes, rate, f.BlockSize))
	h.nextFrame += uint64(f.BlockSize)
	h.desyncs = 0
	return cmd
}

func (h *Handoff) updateBitRate(nbytes uint64, rate, blockSize int) int {
	if nbytes > 0 && h.windowBytes > 0 && h.windowFrames >= uint64(rate) {
		h.bitRate = BitRate(h.windowBytes, rate, int(h.windowFrames))
		h.windowBytes, h.windowFrames = 0, 0
		h.windowClosed = true
	}

	h.windowBytes += nbytes
	h.windowFrames += uint64(blockSize)
	if !h.windowClosed && h.windowBytes > 0 {
		h.bitRate = BitRate(h.windowBytes, rate, int(h.windowFrames))
	}
	return h.bitRate
}

// resetBitRate starts a new averaging window. The last rate is kept until
// the window has bytes.
func (h *Handoff) resetBitRate() {
	h.windowBytes, h.windowFrames = 0, 0
	h.windowClosed = false
}

// Error reports a frame-level decoder error. Decoding continues with the
// next frame unless too many errors arrived in a row, in which case the
// returned error ends the stream.
func (h *Handoff) Error(err error) error {
	de := Classify(err)
	h.desyncs++

	if h.sink.Pending() != CommandStop {
		h.log.WithField("kind", de.Kind.String()).WithError(de.Err).Warn("Decoder error")
	}

	if h.desyncs >= MaxDesyncs {
		return fmt.Errorf("%w: %d consecutive frame errors", ErrDesync, h.desyncs)
	}
	return nil
}

// Pending returns the sink's pending command. A seek on a stream that
// cannot seek is answered here and reported as no command.
func (h *Handoff) Pending() Command {
	cmd := h.sink.Pending()
	if cmd == CommandSeek && !h.seekable {
		h.sink.SeekDone(ErrNotSeekable)
		return CommandNone
	}
	return cmd
}

// SeekFrame is the frame index the pending seek targets
func (h *Handoff) SeekFrame() uint64 {
	target := h.sink.SeekTarget()
	if target < 0 {
		return 0
	}
	return uint64(int64(target) * int64(h.format.SampleRate) / int64(time.Second))
}

// SeekDone finishes a seek. On success the frame position moves to the target.
func (h *Handoff) SeekDone(err error) {
	if err == nil {
		h.nextFrame = h.SeekFrame()
		h.desyncs = 0
		h.resetBitRate()
	} else {
		h.log.WithError(err).Warn("Seek failed")
	}
	h.sink.SeekDone(err)
}

// BitRate returns the bit rate in kbit/s of nbytes compressed bytes holding
// blockSize frames at rate Hz
func BitRate(nbytes uint64, rate, blockSize int) int {
	if nbytes == 0 || blockSize <= 0 || rate <= 0 {
		return 0
	}
	return int(nbytes * 8 * uint64(rate) / (1000 * uint64(blockSize)))
}
