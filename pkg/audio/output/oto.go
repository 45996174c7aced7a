// ABOUTME: Oto-based output plugin
// ABOUTME: Plays S16 PCM through the process-wide oto context
package output

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/sirupsen/logrus"

	"github.com/Resonate-Protocol/resonated/pkg/audio"
)

// oto allows only one context per process, so every oto device shares it
var (
	otoMu       sync.Mutex
	otoCtx      *oto.Context
	otoRate     int
	otoChannels int
)

// Oto is the plugin for the oto backend
type Oto struct{}

// Name returns the plugin type
func (*Oto) Name() string { return "oto" }

// Init validates the output block
func (*Oto) Init(name string, requested *audio.Format, params Params) (Device, error) {
	if requested != nil && requested.Bits != audio.FormatUndefined && requested.Bits != audio.FormatS16 {
		return nil, fmt.Errorf("%w: oto only plays 16-bit samples, not %s", ErrUnsupportedFormat, requested.Bits)
	}

	bufferTime, err := params.Duration("buffer_time", 500*time.Millisecond)
	if err != nil {
		return nil, err
	}

	return &otoDevice{
		log:        logrus.WithFields(logrus.Fields{"output": name, "plugin": "oto"}),
		bufferTime: bufferTime,
	}, nil
}

// TestDefaultDevice reports whether the platform has an audio device oto can use
func (*Oto) TestDefaultDevice() bool {
	switch runtime.GOOS {
	case "darwin", "windows":
		return true
	case "linux", "freebsd":
		_, err := os.Stat("/dev/snd")
		return err == nil
	}
	return false
}

type otoDevice struct {
	log        *logrus.Entry
	bufferTime time.Duration

	ring   *RingBuffer
	player *oto.Player
	paused bool
	format audio.Format
}

func (d *otoDevice) Open(format *audio.Format) error {
	format.Bits = audio.FormatS16

	otoMu.Lock()
	if otoCtx == nil {
		op := &oto.NewContextOptions{
			SampleRate:   format.SampleRate,
			ChannelCount: format.Channels,
			Format:       oto.FormatSignedInt16LE,
		}

		ctx, readyChan, err := oto.NewContext(op)
		if err != nil {
			otoMu.Unlock()
			return fmt.Errorf("%w: failed to create oto context: %v", ErrDevice, err)
		}
		<-readyChan

		otoCtx = ctx
		otoRate = format.SampleRate
		otoChannels = format.Channels
	} else if otoRate != format.SampleRate || otoChannels != format.Channels {
		d.log.Debugf("Oto context is fixed at %dHz %dch, converting from %s", otoRate, otoChannels, format)
	}
	format.SampleRate = otoRate
	format.Channels = otoChannels
	ctx := otoCtx
	otoMu.Unlock()

	d.format = *format
	d.ring = NewRingBuffer(format.BytesFor(d.bufferTime))
	d.player = ctx.NewPlayer(d.ring)
	d.player.Play()
	d.paused = false

	d.log.Infof("Audio output initialized: %s", format)
	return nil
}

func (d *otoDevice) Play(chunk []byte) (int, error) {
	if d.player == nil {
		return 0, fmt.Errorf("%w: output not open", ErrDevice)
	}
	if d.paused {
		d.player.Play()
		d.paused = false
	}

	n := d.ring.WriteWait(chunk, d.bufferTime+time.Second)
	if n == 0 {
		return 0, fmt.Errorf("%w: oto player stalled", ErrDevice)
	}
	return n, nil
}

func (d *otoDevice) Pause() error {
	if d.player == nil {
		return fmt.Errorf("%w: output not open", ErrDevice)
	}
	d.player.Pause()
	d.paused = true
	return nil
}

func (d *otoDevice) Cancel() {
	if d.ring != nil {
		d.ring.Reset()
	}
}

func (d *otoDevice) Close() {
	if d.player != nil {
		if err := d.player.Close(); err != nil {
			d.log.WithError(err).Warn("Oto player close failed")
		}
		d.player = nil
	}
	d.ring = nil
}
