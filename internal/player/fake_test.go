// ABOUTME: Test doubles for output controller tests
// ABOUTME: Fake plugins and devices recording every call
package player

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/resonated/pkg/audio"
	"github.com/Resonate-Protocol/resonated/pkg/audio/output"
)

type fakeDevice struct {
	mu       sync.Mutex
	calls    []string
	opened   []audio.Format
	played   []byte
	openErr  error
	playErr  error
	playZero bool
	// rewrite adjusts the format during Open
	rewrite func(*audio.Format)
	// block makes Play wait until the channel is closed
	block chan struct{}

	active     atomic.Int32
	overlapped atomic.Bool
}

func (d *fakeDevice) enter(name string) func() {
	if d.active.Add(1) > 1 {
		d.overlapped.Store(true)
	}
	d.mu.Lock()
	d.calls = append(d.calls, name)
	d.mu.Unlock()
	return func() { d.active.Add(-1) }
}

func (d *fakeDevice) Open(format *audio.Format) error {
	defer d.enter("open")()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return d.openErr
	}
	if d.rewrite != nil {
		d.rewrite(format)
	}
	d.opened = append(d.opened, *format)
	return nil
}

func (d *fakeDevice) Play(chunk []byte) (int, error) {
	defer d.enter("play")()
	if d.block != nil {
		<-d.block
	}
	// Yield so overlapping calls would be caught
	time.Sleep(time.Millisecond)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.playErr != nil {
		return 0, d.playErr
	}
	if d.playZero {
		return 0, nil
	}
	// Consume at most 1000 bytes per call to exercise partial writes
	n := len(chunk)
	if n > 1000 {
		n = 1000
	}
	d.played = append(d.played, chunk[:n]...)
	return n, nil
}

func (d *fakeDevice) Cancel() { defer d.enter("cancel")() }
func (d *fakeDevice) Close()  { defer d.enter("close")() }

func (d *fakeDevice) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func (d *fakeDevice) count(name string) int {
	n := 0
	for _, c := range d.Calls() {
		if c == name {
			n++
		}
	}
	return n
}

func (d *fakeDevice) Played() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.played...)
}

func (d *fakeDevice) set(fn func(d *fakeDevice)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d)
}

type pausableDevice struct {
	*fakeDevice
	pauseErr error
}

func (d *pausableDevice) Pause() error {
	defer d.enter("pause")()
	return d.pauseErr
}

type fakePlugin struct {
	name     string
	dev      *fakeDevice
	pausable bool
	pauseErr error
	initErr  error
	probe    bool
}

func (p *fakePlugin) Name() string { return p.name }

func (p *fakePlugin) Init(name string, requested *audio.Format, params output.Params) (output.Device, error) {
	if p.initErr != nil {
		return nil, p.initErr
	}
	if params.Get("needs", "") == "yes" {
		if _, err := params.Require("required"); err != nil {
			return nil, err
		}
	}
	if p.pausable {
		return &pausableDevice{fakeDevice: p.dev, pauseErr: p.pauseErr}, nil
	}
	return p.dev, nil
}

func (p *fakePlugin) TestDefaultDevice() bool { return p.probe }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errBroken = errors.New("device unplugged")
