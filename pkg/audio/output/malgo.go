// ABOUTME: Malgo-based output plugin with 24/32-bit support
// ABOUTME: Uses miniaudio via malgo, fed from a ring buffer in the data callback
package output

import (
	"fmt"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/sirupsen/logrus"

	"github.com/Resonate-Protocol/resonated/pkg/audio"
)

// Malgo is the plugin for the miniaudio backend
type Malgo struct{}

// Name returns the plugin type
func (*Malgo) Name() string { return "malgo" }

// Init validates the output block
func (*Malgo) Init(name string, requested *audio.Format, params Params) (Device, error) {
	if requested != nil && requested.Bits == audio.FormatS8 {
		return nil, fmt.Errorf("%w: malgo cannot play signed 8-bit samples", ErrUnsupportedFormat)
	}

	bufferTime, err := params.Duration("buffer_time", 500*time.Millisecond)
	if err != nil {
		return nil, err
	}

	return &malgoDevice{
		log:        logrus.WithFields(logrus.Fields{"output": name, "plugin": "malgo"}),
		deviceName: params.Get("device", ""),
		bufferTime: bufferTime,
	}, nil
}

// TestDefaultDevice reports whether miniaudio finds a playback device
func (*Malgo) TestDefaultDevice() bool {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return false
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()

	devices, err := ctx.Devices(malgo.Playback)
	return err == nil && len(devices) > 0
}

type malgoDevice struct {
	log        *logrus.Entry
	deviceName string
	bufferTime time.Duration

	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device
	ring     *RingBuffer
	paused   bool
}

func (d *malgoDevice) Open(format *audio.Format) error {
	var sampleFormat malgo.FormatType
	switch format.Bits {
	case audio.FormatS16:
		sampleFormat = malgo.FormatS16
	case audio.FormatS24P32, audio.FormatS32:
		// miniaudio has no padded 24-bit type
		format.Bits = audio.FormatS32
		sampleFormat = malgo.FormatS32
	case audio.FormatS8:
		format.Bits = audio.FormatS16
		sampleFormat = malgo.FormatS16
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format.Bits)
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to initialize malgo context: %v", ErrDevice, err)
	}
	d.malgoCtx = ctx

	d.ring = NewRingBuffer(format.BytesFor(d.bufferTime))

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = sampleFormat
	deviceConfig.Playback.Channels = uint32(format.Channels)
	deviceConfig.SampleRate = uint32(format.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	if d.deviceName != "" {
		devices, err := ctx.Devices(malgo.Playback)
		if err != nil {
			return fmt.Errorf("%w: failed to enumerate devices: %v", ErrDevice, err)
		}
		found := false
		for _, info := range devices {
			if info.Name() == d.deviceName {
				deviceConfig.Playback.DeviceID = info.ID.Pointer()
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: no playback device named %q", ErrDevice, d.deviceName)
		}
	}

	ring := d.ring
	callbacks := malgo.DeviceCallbacks{
		Data: func(pOutput, pInput []byte, frameCount uint32) {
			_, _ = ring.Read(pOutput)
		},
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("%w: failed to initialize playback device: %v", ErrDevice, err)
	}
	d.device = device

	if err := device.Start(); err != nil {
		return fmt.Errorf("%w: failed to start device: %v", ErrDevice, err)
	}
	d.paused = false

	d.log.Infof("Audio output initialized: %s", format)
	return nil
}

func (d *malgoDevice) Play(chunk []byte) (int, error) {
	if d.device == nil {
		return 0, fmt.Errorf("%w: output not open", ErrDevice)
	}
	if d.paused {
		if err := d.device.Start(); err != nil {
			return 0, fmt.Errorf("%w: failed to resume device: %v", ErrDevice, err)
		}
		d.paused = false
	}

	n := d.ring.WriteWait(chunk, d.bufferTime+time.Second)
	if n == 0 {
		return 0, fmt.Errorf("%w: playback device stalled", ErrDevice)
	}
	return n, nil
}

func (d *malgoDevice) Pause() error {
	if d.device == nil {
		return fmt.Errorf("%w: output not open", ErrDevice)
	}
	if err := d.device.Stop(); err != nil {
		return fmt.Errorf("%w: failed to stop device: %v", ErrDevice, err)
	}
	d.paused = true
	return nil
}

func (d *malgoDevice) Cancel() {
	if d.ring != nil {
		d.ring.Reset()
	}
}

func (d *malgoDevice) Close() {
	if d.device != nil {
		if err := d.device.Stop(); err != nil {
			d.log.WithError(err).Warn("Device stop failed")
		}
		d.device.Uninit()
		d.device = nil
	}
	if d.malgoCtx != nil {
		if err := d.malgoCtx.Uninit(); err != nil {
			d.log.WithError(err).Warn("Malgo context uninit failed")
		}
		d.malgoCtx.Free()
		d.malgoCtx = nil
	}
	d.ring = nil
}
