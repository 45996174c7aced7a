// ABOUTME: Null output plugin
// ABOUTME: Discards audio, optionally consuming it at the real-time rate
package output

import (
	"time"

	"github.com/Resonate-Protocol/resonated/pkg/audio"
)

// Null is the plugin for an output that discards everything
type Null struct{}

// Name returns the plugin type
func (*Null) Name() string { return "null" }

// Init validates the output block. With sync enabled the device blocks for
// the duration of each chunk.
func (*Null) Init(name string, requested *audio.Format, params Params) (Device, error) {
	sync, err := params.Bool("sync", true)
	if err != nil {
		return nil, err
	}
	return &nullDevice{sync: sync}, nil
}

// TestDefaultDevice always succeeds so detection has a last resort
func (*Null) TestDefaultDevice() bool { return true }

type nullDevice struct {
	sync   bool
	format audio.Format
	next   time.Time
}

func (d *nullDevice) Open(format *audio.Format) error {
	d.format = *format
	d.next = time.Time{}
	return nil
}

func (d *nullDevice) Play(chunk []byte) (int, error) {
	if d.sync {
		now := time.Now()
		if d.next.Before(now) {
			d.next = now
		}
		d.next = d.next.Add(d.format.Duration(len(chunk)))
		// Stay at most one chunk ahead of the wall clock
		if wait := d.next.Sub(now) - d.format.Duration(len(chunk)); wait > 0 {
			time.Sleep(wait)
		}
	}
	return len(chunk), nil
}

func (d *nullDevice) Cancel() {
	d.next = time.Time{}
}

func (d *nullDevice) Close() {}
