// ABOUTME: Tests for the output controller
// ABOUTME: Tests state transitions, backoff, pause fallback and command serialisation
package player

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Resonate-Protocol/resonated/internal/idle"
	"github.com/Resonate-Protocol/resonated/pkg/audio"
	"github.com/Resonate-Protocol/resonated/pkg/audio/output"
	"github.com/Resonate-Protocol/resonated/pkg/audio/pcm"
)

var cd16 = audio.Format{SampleRate: 44100, Bits: audio.FormatS16, Channels: 2}

type harness struct {
	out   *AudioOutput
	dev   *fakeDevice
	clock *fakeClock
	hub   *idle.Hub
	sub   *idle.Subscriber
}

func newHarness(t *testing.T, plugin *fakePlugin, requested *audio.Format) *harness {
	t.Helper()
	if plugin.dev == nil {
		plugin.dev = &fakeDevice{}
	}
	if plugin.name == "" {
		plugin.name = "fake"
	}

	hub := idle.NewHub()
	sub := hub.Subscribe()
	out, err := NewAudioOutput("test", plugin, requested, output.Params{}, hub)
	require.NoError(t, err)

	clock := newFakeClock()
	out.now = clock.Now
	t.Cleanup(func() { _ = out.Kill() })

	return &harness{out: out, dev: plugin.dev, clock: clock, hub: hub, sub: sub}
}

func chunk(frames int) []byte {
	return make([]byte, frames*cd16.FrameSize())
}

func TestNewAudioOutputStartsClosed(t *testing.T) {
	h := newHarness(t, &fakePlugin{}, nil)
	assert.Equal(t, StateClosed, h.out.State())
	assert.True(t, h.out.Enabled())
	assert.Empty(t, h.dev.Calls())
}

func TestNewAudioOutputInitError(t *testing.T) {
	_, err := NewAudioOutput("bad", &fakePlugin{name: "fake", dev: &fakeDevice{}}, nil,
		output.Params{"needs": "yes"}, idle.NewHub())
	assert.ErrorIs(t, err, output.ErrConfig)
}

func TestOpenAndPlay(t *testing.T) {
	h := newHarness(t, &fakePlugin{}, nil)
	ctx := context.Background()

	require.NoError(t, h.out.Open(ctx, cd16))
	assert.Equal(t, StateOpen, h.out.State())
	assert.Equal(t, idle.Output, h.sub.Drain())

	// Partial writes are retried until the whole chunk is consumed
	require.NoError(t, h.out.Play(ctx, chunk(1000)))
	assert.Len(t, h.dev.Played(), 4000)
	assert.Equal(t, 4, h.dev.count("play"))
	assert.Equal(t, uint64(4000), h.out.Status().Played)
}

func TestOpenSameFormatIsNoop(t *testing.T) {
	h := newHarness(t, &fakePlugin{}, nil)
	ctx := context.Background()

	require.NoError(t, h.out.Open(ctx, cd16))
	require.NoError(t, h.out.Open(ctx, cd16))
	assert.Equal(t, []string{"open"}, h.dev.Calls())
}

func TestOpenNewFormatReopens(t *testing.T) {
	h := newHarness(t, &fakePlugin{}, nil)
	ctx := context.Background()

	require.NoError(t, h.out.Open(ctx, cd16))
	hires := audio.Format{SampleRate: 96000, Bits: audio.FormatS24P32, Channels: 2}
	require.NoError(t, h.out.Open(ctx, hires))

	assert.Equal(t, []string{"open", "close", "open"}, h.dev.Calls())
	assert.Equal(t, hires.String(), h.out.Status().Format)
}

func TestOpenDisabledSkipsPlugin(t *testing.T) {
	h := newHarness(t, &fakePlugin{}, nil)
	ctx := context.Background()

	require.NoError(t, h.out.Disable(ctx))
	require.NoError(t, h.out.Open(ctx, cd16))
	require.NoError(t, h.out.Play(ctx, chunk(10)))

	assert.Empty(t, h.dev.Calls())
	assert.Equal(t, StateClosed, h.out.State())
	assert.Nil(t, h.out.converter)
	assert.Zero(t, h.out.Status().Played)
}

func TestOpenFailureBacksOff(t *testing.T) {
	h := newHarness(t, &fakePlugin{dev: &fakeDevice{openErr: errBroken}}, nil)
	h.out.SetReopenAfter(10 * time.Second)
	ctx := context.Background()

	err := h.out.Open(ctx, cd16)
	require.Error(t, err)
	var derr *DeviceError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "open", derr.Op)
	assert.ErrorIs(t, err, output.ErrDevice)
	assert.ErrorIs(t, err, errBroken)
	assert.Equal(t, StateClosed, h.out.State())
	assert.Equal(t, 1, h.dev.count("open"))

	// Within the window the cached error comes back without touching hardware
	h.clock.Advance(5 * time.Second)
	assert.Equal(t, err, h.out.Open(ctx, cd16))
	assert.Equal(t, err, h.out.Play(ctx, chunk(10)))
	assert.Equal(t, 1, h.dev.count("open"))

	// After the window the device is tried again
	h.dev.set(func(d *fakeDevice) { d.openErr = nil })
	h.clock.Advance(6 * time.Second)
	require.NoError(t, h.out.Open(ctx, cd16))
	assert.Equal(t, 2, h.dev.count("open"))
	require.NoError(t, h.out.Play(ctx, chunk(10)))
	assert.Equal(t, StateOpen, h.out.State())
	assert.Empty(t, h.out.Status().LastError)
}

func TestEnableClearsBackoff(t *testing.T) {
	h := newHarness(t, &fakePlugin{dev: &fakeDevice{openErr: errBroken}}, nil)
	ctx := context.Background()

	require.Error(t, h.out.Open(ctx, cd16))
	h.dev.set(func(d *fakeDevice) { d.openErr = nil })

	require.NoError(t, h.out.Disable(ctx))
	h.out.Enable()
	require.NoError(t, h.out.Play(ctx, chunk(10)))
	assert.Equal(t, StateOpen, h.out.State())
}

func TestPlayErrorClosesOutput(t *testing.T) {
	h := newHarness(t, &fakePlugin{}, nil)
	ctx := context.Background()

	require.NoError(t, h.out.Open(ctx, cd16))
	h.sub.Drain()

	h.dev.set(func(d *fakeDevice) { d.playErr = errBroken })
	err := h.out.Play(ctx, chunk(10))
	assert.ErrorIs(t, err, errBroken)
	assert.Equal(t, StateClosed, h.out.State())
	assert.Equal(t, idle.Output, h.sub.Drain())
	assert.Contains(t, h.out.Status().LastError, "device unplugged")

	// Backoff applies to the implicit reopen as well
	h.dev.set(func(d *fakeDevice) { d.playErr = nil })
	assert.Error(t, h.out.Play(ctx, chunk(10)))
	assert.Equal(t, 1, h.dev.count("open"))
}

func TestPlayZeroBytesIsDeviceError(t *testing.T) {
	h := newHarness(t, &fakePlugin{dev: &fakeDevice{playZero: true}}, nil)
	ctx := context.Background()

	require.NoError(t, h.out.Open(ctx, cd16))
	err := h.out.Play(ctx, chunk(10))
	assert.ErrorIs(t, err, output.ErrDevice)
	assert.Equal(t, StateClosed, h.out.State())
}

func TestPlayOnClosedReopensWithLastFormat(t *testing.T) {
	h := newHarness(t, &fakePlugin{}, nil)
	ctx := context.Background()

	require.NoError(t, h.out.Open(ctx, cd16))
	require.NoError(t, h.out.Close(ctx))
	require.NoError(t, h.out.Play(ctx, chunk(10)))

	assert.Equal(t, []string{"open", "close", "open", "play"}, h.dev.Calls())
	h.dev.mu.Lock()
	assert.Equal(t, []audio.Format{cd16, cd16}, h.dev.opened)
	h.dev.mu.Unlock()
}

func TestPlayBeforeOpen(t *testing.T) {
	h := newHarness(t, &fakePlugin{}, nil)
	err := h.out.Play(context.Background(), chunk(10))
	assert.ErrorIs(t, err, ErrNotOpen)
	assert.Empty(t, h.dev.Calls())
}

func TestNegotiatedFormatIsConverted(t *testing.T) {
	dev := &fakeDevice{rewrite: func(f *audio.Format) { f.Bits = audio.FormatS32 }}
	h := newHarness(t, &fakePlugin{dev: dev}, nil)
	ctx := context.Background()

	require.NoError(t, h.out.Open(ctx, cd16))

	src := make([]byte, 4)
	pcm.Encode(src, []int32{1, -1}, audio.FormatS16)
	require.NoError(t, h.out.Play(ctx, src))

	assert.Equal(t, []int32{1 << 16, -1 << 16}, pcm.Decode(nil, dev.Played(), audio.FormatS32))
}

func TestRequestedFormatOverride(t *testing.T) {
	h := newHarness(t, &fakePlugin{}, &audio.Format{SampleRate: 48000})
	ctx := context.Background()

	require.NoError(t, h.out.Open(ctx, cd16))
	h.dev.mu.Lock()
	assert.Equal(t, audio.Format{SampleRate: 48000, Bits: audio.FormatS16, Channels: 2}, h.dev.opened[0])
	h.dev.mu.Unlock()

	status := h.out.Status()
	assert.Equal(t, "44100:16:2", status.InFormat)
	assert.Equal(t, "48000:16:2", status.Format)
}

func TestNativePause(t *testing.T) {
	h := newHarness(t, &fakePlugin{pausable: true}, nil)
	ctx := context.Background()

	require.NoError(t, h.out.Open(ctx, cd16))
	require.NoError(t, h.out.Pause(ctx))
	assert.Equal(t, StatePaused, h.out.State())

	// No silence is injected for devices that pause themselves
	time.Sleep(3 * silencePeriod)
	assert.Equal(t, 0, h.dev.count("play"))

	require.NoError(t, h.out.Play(ctx, chunk(10)))
	assert.Equal(t, StateOpen, h.out.State())
}

func TestPauseFallbackInjectsSilence(t *testing.T) {
	h := newHarness(t, &fakePlugin{}, nil)
	ctx := context.Background()

	require.NoError(t, h.out.Open(ctx, cd16))
	require.NoError(t, h.out.Pause(ctx))
	assert.Equal(t, StatePaused, h.out.State())

	assert.Eventually(t, func() bool {
		return len(h.dev.Played()) >= 2*cd16.BytesFor(silencePeriod)
	}, time.Second, 10*time.Millisecond)

	for _, b := range h.dev.Played() {
		require.Equal(t, byte(0), b)
	}

	// Cancel resumes and stops the silence
	require.NoError(t, h.out.Cancel(ctx))
	assert.Equal(t, StateOpen, h.out.State())
	n := len(h.dev.Played())
	time.Sleep(3 * silencePeriod)
	assert.Equal(t, n, len(h.dev.Played()))
}

func TestPauseUnsupportedFallsBack(t *testing.T) {
	h := newHarness(t, &fakePlugin{pausable: true, pauseErr: output.ErrNotSupported}, nil)
	ctx := context.Background()

	require.NoError(t, h.out.Open(ctx, cd16))
	require.NoError(t, h.out.Pause(ctx))
	assert.Equal(t, StatePaused, h.out.State())

	assert.Eventually(t, func() bool {
		return len(h.dev.Played()) > 0
	}, time.Second, 10*time.Millisecond)
}

func TestPauseWhenClosedIsNoop(t *testing.T) {
	h := newHarness(t, &fakePlugin{pausable: true}, nil)
	require.NoError(t, h.out.Pause(context.Background()))
	assert.Equal(t, StateClosed, h.out.State())
	assert.Empty(t, h.dev.Calls())
}

func TestCancel(t *testing.T) {
	h := newHarness(t, &fakePlugin{pausable: true}, nil)
	ctx := context.Background()

	// Closed: nothing to cancel
	require.NoError(t, h.out.Cancel(ctx))
	assert.Empty(t, h.dev.Calls())

	require.NoError(t, h.out.Open(ctx, cd16))
	require.NoError(t, h.out.Pause(ctx))
	require.NoError(t, h.out.Cancel(ctx))
	assert.Equal(t, StateOpen, h.out.State())
	assert.Equal(t, 1, h.dev.count("cancel"))
}

func TestCloseOnlyCallsPluginWhenOpen(t *testing.T) {
	h := newHarness(t, &fakePlugin{}, nil)
	ctx := context.Background()

	require.NoError(t, h.out.Close(ctx))
	assert.Empty(t, h.dev.Calls())
	assert.Equal(t, idle.Flags(0), h.sub.Drain())

	require.NoError(t, h.out.Open(ctx, cd16))
	require.NoError(t, h.out.Close(ctx))
	require.NoError(t, h.out.Close(ctx))
	assert.Equal(t, 1, h.dev.count("close"))
}

func TestKillRejectsLaterCommands(t *testing.T) {
	h := newHarness(t, &fakePlugin{}, nil)
	ctx := context.Background()

	require.NoError(t, h.out.Open(ctx, cd16))
	require.NoError(t, h.out.Kill())
	assert.Equal(t, StateKilled, h.out.State())
	assert.Equal(t, 1, h.dev.count("close"))

	assert.ErrorIs(t, h.out.Play(ctx, chunk(1)), ErrKilled)
	assert.ErrorIs(t, h.out.Open(ctx, cd16), ErrKilled)
	assert.NoError(t, h.out.Kill())
}

func TestCommandsNeverOverlap(t *testing.T) {
	h := newHarness(t, &fakePlugin{pausable: true}, nil)
	ctx := context.Background()
	require.NoError(t, h.out.Open(ctx, cd16))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				switch (i + j) % 4 {
				case 0, 1:
					_ = h.out.Play(ctx, chunk(300))
				case 2:
					_ = h.out.Pause(ctx)
				case 3:
					_ = h.out.Cancel(ctx)
				}
				_ = h.out.Status()
			}
		}(i)
	}
	wg.Wait()

	assert.False(t, h.dev.overlapped.Load())
}

func TestIssueHonoursContextWhileSlotBusy(t *testing.T) {
	block := make(chan struct{})
	h := newHarness(t, &fakePlugin{dev: &fakeDevice{block: block}}, nil)
	require.NoError(t, h.out.Open(context.Background(), cd16))

	done := make(chan error)
	go func() { done <- h.out.Play(context.Background(), chunk(10)) }()

	// Wait for the first play to reach the device
	assert.Eventually(t, func() bool { return h.dev.count("play") == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.out.Cancel(ctx), context.DeadlineExceeded)

	close(block)
	assert.NoError(t, <-done)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "paused", StatePaused.String())
	assert.Equal(t, "State(42)", State(42).String())
	assert.Equal(t, "kill", cmdKill.String())
}
