// ABOUTME: Tests for the output set
// ABOUTME: Tests construction, auto-detection and the play barrier
package player

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Resonate-Protocol/resonated/internal/config"
	"github.com/Resonate-Protocol/resonated/internal/idle"
	"github.com/Resonate-Protocol/resonated/pkg/audio/output"
)

func disabled() *bool {
	b := false
	return &b
}

func newSet(t *testing.T, cfg *config.Config, plugins ...output.Plugin) *Outputs {
	t.Helper()
	set, err := New(cfg, idle.NewHub(), WithRegistry(output.NewRegistry(plugins...)))
	require.NoError(t, err)
	t.Cleanup(set.Kill)
	return set
}

func TestNewFromConfig(t *testing.T) {
	a := &fakePlugin{name: "a", dev: &fakeDevice{}}
	b := &fakePlugin{name: "b", dev: &fakeDevice{}}

	set := newSet(t, &config.Config{
		ReopenAfter: time.Second,
		Outputs: []config.Output{
			{Name: "first", Type: "a"},
			{Name: "second", Type: "b", Format: "48000:*:*", Enabled: disabled()},
		},
	}, a, b)

	require.Equal(t, 2, set.Len())
	status := set.Status()
	assert.Equal(t, 0, status[0].ID)
	assert.Equal(t, "first", status[0].Name)
	assert.Equal(t, "a", status[0].Plugin)
	assert.True(t, status[0].Enabled)
	assert.Equal(t, "closed", status[0].State)
	assert.Equal(t, 1, status[1].ID)
	assert.False(t, status[1].Enabled)

	o, err := set.Get(1)
	require.NoError(t, err)
	assert.Equal(t, 48000, o.requested.SampleRate)
}

func TestNewUnknownPlugin(t *testing.T) {
	_, err := New(&config.Config{
		Outputs: []config.Output{{Name: "x", Type: "alsa"}},
	}, idle.NewHub(), WithRegistry(output.NewRegistry()))
	assert.ErrorIs(t, err, output.ErrConfig)
}

func TestNewInitErrorIsFatal(t *testing.T) {
	p := &fakePlugin{name: "a", dev: &fakeDevice{}}
	_, err := New(&config.Config{
		Outputs: []config.Output{
			{Name: "ok", Type: "a"},
			{Name: "bad", Type: "a", Params: output.Params{"needs": "yes"}},
		},
	}, idle.NewHub(), WithRegistry(output.NewRegistry(p)))
	assert.ErrorIs(t, err, output.ErrConfig)
}

func TestNewAutoDetects(t *testing.T) {
	none := &fakePlugin{name: "none", dev: &fakeDevice{}}
	found := &fakePlugin{name: "found", dev: &fakeDevice{}, probe: true}

	set := newSet(t, &config.Config{}, none, found)
	require.Equal(t, 1, set.Len())
	status := set.Status()[0]
	assert.Equal(t, DetectedOutputName, status.Name)
	assert.Equal(t, "found", status.Plugin)
	assert.True(t, status.Enabled)
}

func TestNewAutoDetectSkipsBrokenPlugin(t *testing.T) {
	broken := &fakePlugin{name: "broken", dev: &fakeDevice{}, probe: true, initErr: output.ErrConfig}
	found := &fakePlugin{name: "found", dev: &fakeDevice{}, probe: true}

	set := newSet(t, &config.Config{}, broken, found)
	require.Equal(t, 1, set.Len())
	assert.Equal(t, "found", set.Status()[0].Plugin)
}

func TestNewNothingDetected(t *testing.T) {
	_, err := New(&config.Config{}, idle.NewHub(),
		WithRegistry(output.NewRegistry(&fakePlugin{name: "none", dev: &fakeDevice{}})))
	assert.ErrorIs(t, err, ErrNoOutput)
}

func twoOutputs(t *testing.T) (*Outputs, *fakeDevice, *fakeDevice) {
	da, db := &fakeDevice{}, &fakeDevice{}
	set := newSet(t, &config.Config{
		Outputs: []config.Output{{Name: "a", Type: "a"}, {Name: "b", Type: "b"}},
	}, &fakePlugin{name: "a", dev: da}, &fakePlugin{name: "b", dev: db})
	return set, da, db
}

func TestPlayBarrierReachesEveryOutput(t *testing.T) {
	set, da, db := twoOutputs(t)
	ctx := context.Background()

	require.NoError(t, set.Open(ctx, cd16))
	require.NoError(t, set.Play(ctx, chunk(100)))

	// Both devices have the chunk by the time Play returns
	assert.Len(t, da.Played(), 400)
	assert.Len(t, db.Played(), 400)
}

func TestPlaySucceedsWhileOneOutputWorks(t *testing.T) {
	set, da, db := twoOutputs(t)
	ctx := context.Background()

	require.NoError(t, set.Open(ctx, cd16))
	da.set(func(d *fakeDevice) { d.playErr = errBroken })

	require.NoError(t, set.Play(ctx, chunk(10)))
	assert.Len(t, db.Played(), 40)
	assert.Equal(t, "closed", set.Status()[0].State)
	assert.NotEmpty(t, set.Status()[0].LastError)
}

func TestPlayFailsWhenAllOutputsFail(t *testing.T) {
	set, da, db := twoOutputs(t)
	ctx := context.Background()

	require.NoError(t, set.Open(ctx, cd16))
	da.set(func(d *fakeDevice) { d.playErr = errBroken })
	db.set(func(d *fakeDevice) { d.playErr = errBroken })

	err := set.Play(ctx, chunk(10))
	assert.ErrorIs(t, err, ErrNoOutput)
	assert.ErrorIs(t, err, errBroken)
}

func TestOpenNeedsOneSuccess(t *testing.T) {
	set, da, db := twoOutputs(t)
	ctx := context.Background()

	da.set(func(d *fakeDevice) { d.openErr = errBroken })
	require.NoError(t, set.Open(ctx, cd16))

	require.NoError(t, set.Close(ctx))
	db.set(func(d *fakeDevice) { d.openErr = errBroken })
	set.outputs[0].mu.Lock()
	set.outputs[0].retryAt = time.Time{}
	set.outputs[0].mu.Unlock()
	assert.ErrorIs(t, set.Open(ctx, cd16), ErrNoOutput)
}

func TestDisabledOutputsDoNotCount(t *testing.T) {
	set, da, db := twoOutputs(t)
	ctx := context.Background()

	require.NoError(t, set.Disable(ctx, 0))
	require.NoError(t, set.Disable(ctx, 1))
	assert.ErrorIs(t, set.Open(ctx, cd16), ErrNoOutput)
	assert.Empty(t, da.Calls())
	assert.Empty(t, db.Calls())
}

func TestEnableDisable(t *testing.T) {
	set, da, _ := twoOutputs(t)
	ctx := context.Background()
	sub := set.hub.Subscribe()

	require.NoError(t, set.Open(ctx, cd16))
	sub.Drain()

	require.NoError(t, set.Disable(ctx, 0))
	assert.False(t, set.Status()[0].Enabled)
	assert.Equal(t, "closed", set.Status()[0].State)
	assert.Equal(t, 1, da.count("close"))
	assert.Equal(t, idle.Output, sub.Drain())

	require.NoError(t, set.Enable(0))
	assert.True(t, set.Status()[0].Enabled)
	assert.Equal(t, idle.Output, sub.Drain())

	// Next chunk reopens the re-enabled output
	require.NoError(t, set.Play(ctx, chunk(10)))
	assert.Equal(t, "open", set.Status()[0].State)

	assert.ErrorIs(t, set.Enable(5), ErrNoSuchOutput)
	assert.ErrorIs(t, set.Disable(ctx, -1), ErrNoSuchOutput)
}

func TestCancelPauseCloseFanOut(t *testing.T) {
	set, da, db := twoOutputs(t)
	ctx := context.Background()

	require.NoError(t, set.Open(ctx, cd16))
	require.NoError(t, set.Cancel(ctx))
	assert.Equal(t, 1, da.count("cancel"))
	assert.Equal(t, 1, db.count("cancel"))

	require.NoError(t, set.Pause(ctx))
	assert.Equal(t, "paused", set.Status()[1].State)

	require.NoError(t, set.Close(ctx))
	assert.Equal(t, 1, da.count("close"))
	assert.Equal(t, 1, db.count("close"))
}

func TestKillAll(t *testing.T) {
	set, _, _ := twoOutputs(t)
	ctx := context.Background()

	require.NoError(t, set.Open(ctx, cd16))
	set.Kill()
	for _, s := range set.Status() {
		assert.Equal(t, "killed", s.State)
	}
	assert.ErrorIs(t, set.Cancel(ctx), ErrKilled)
}
