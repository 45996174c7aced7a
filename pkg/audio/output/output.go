// ABOUTME: Output plugin capability set
// ABOUTME: Defines the plugin, device and optional pause/probe interfaces
package output

import (
	"errors"

	"github.com/Resonate-Protocol/resonated/pkg/audio"
)

var (
	// ErrConfig is returned by Init when the output block is incomplete
	ErrConfig = errors.New("output configuration error")
	// ErrUnsupportedFormat is returned when a requested format cannot be honoured
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	// ErrDevice wraps failures of the underlying device
	ErrDevice = errors.New("audio device error")
	// ErrNotSupported is returned by optional operations a device lacks
	ErrNotSupported = errors.New("operation not supported")
)

// Plugin creates devices of one backend type
type Plugin interface {
	// Name is the value of the "type" key selecting this plugin
	Name() string

	// Init validates the output block and returns a closed device.
	// requested is the optional format override, nil when absent.
	Init(name string, requested *audio.Format, params Params) (Device, error)
}

// Prober is implemented by plugins that can detect a usable default device
// without side effects
type Prober interface {
	TestDefaultDevice() bool
}

// Device is one instance of a plugin bound to an output. A device is only
// ever used from a single goroutine.
type Device interface {
	// Open acquires the device. It may rewrite *format to the format the
	// device actually accepts.
	Open(format *audio.Format) error

	// Play submits interleaved PCM in the opened format and returns how
	// many bytes were consumed. It may block while the device is full.
	Play(chunk []byte) (int, error)

	// Cancel drops audio buffered in the device without blocking
	Cancel()

	// Close releases the device. It must be safe after a failed Open.
	Close()
}

// Pauser is implemented by devices that can stop playback without losing
// their buffered audio. The next Play resumes.
type Pauser interface {
	Pause() error
}
