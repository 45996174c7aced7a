// ABOUTME: Tests for the status display model
// ABOUTME: Tests key handling, snapshot refresh and rendering
package ui

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Resonate-Protocol/resonated/internal/playback"
	"github.com/Resonate-Protocol/resonated/internal/player"
)

type fakePlayer struct {
	state  string
	stops  int
	pauses []bool
	err    error
}

func (p *fakePlayer) Stop() { p.stops++ }

func (p *fakePlayer) Pause(paused bool) error {
	if p.err != nil {
		return p.err
	}
	p.pauses = append(p.pauses, paused)
	if paused {
		p.state = "pause"
	} else {
		p.state = "play"
	}
	return nil
}

func (p *fakePlayer) Status() playback.Status {
	return playback.Status{State: p.state, Song: "music/a.flac", Elapsed: 61, BitRate: 920, Format: "44100:16:2"}
}

type fakeOutputs struct {
	outs []player.Status
}

func (o *fakeOutputs) Status() []player.Status {
	return append([]player.Status(nil), o.outs...)
}

func (o *fakeOutputs) Enable(id int) error {
	o.outs[id].Enabled = true
	return nil
}

func (o *fakeOutputs) Disable(ctx context.Context, id int) error {
	o.outs[id].Enabled = false
	return nil
}

func newTestModel() (model, *fakePlayer, *fakeOutputs) {
	p := &fakePlayer{state: "play"}
	o := &fakeOutputs{outs: []player.Status{
		{Name: "speakers", Plugin: "malgo", Enabled: true, State: "open", Format: "48000:32:2"},
		{Name: "web", Plugin: "webrtc", State: "closed", LastError: "device gone"},
	}}
	return newModel("Kitchen", p, o, make(chan struct{}, 1)), p, o
}

func press(m model, k tea.KeyMsg) model {
	next, _ := m.Update(k)
	return next.(model)
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestNewModelTakesSnapshot(t *testing.T) {
	m, _, _ := newTestModel()
	assert.Equal(t, "Kitchen", m.snap.Name)
	assert.Equal(t, "play", m.snap.Player.State)
	assert.Len(t, m.snap.Outputs, 2)
	assert.False(t, m.quitting)
}

func TestPauseToggle(t *testing.T) {
	m, p, _ := newTestModel()

	m = press(m, tea.KeyMsg{Type: tea.KeySpace})
	assert.Equal(t, "pause", m.snap.Player.State)

	m = press(m, runes("p"))
	assert.Equal(t, "play", m.snap.Player.State)
	assert.Equal(t, []bool{true, false}, p.pauses)
}

func TestPauseErrorShown(t *testing.T) {
	m, p, _ := newTestModel()
	p.err = errors.New("not playing")

	m = press(m, runes("p"))
	assert.Equal(t, "not playing", m.lastErr)
	assert.Contains(t, m.View(), "not playing")
}

func TestStopKey(t *testing.T) {
	m, p, _ := newTestModel()
	press(m, runes("s"))
	assert.Equal(t, 1, p.stops)
}

func TestDigitTogglesOutput(t *testing.T) {
	m, _, o := newTestModel()

	m = press(m, runes("1"))
	assert.False(t, o.outs[0].Enabled)
	assert.False(t, m.snap.Outputs[0].Enabled)

	m = press(m, runes("2"))
	assert.True(t, o.outs[1].Enabled)

	// Out of range is ignored
	press(m, runes("9"))
}

func TestQuitSignals(t *testing.T) {
	m, _, _ := newTestModel()

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.True(t, next.(model).quitting)

	select {
	case <-m.quitChan:
	default:
		t.Fatal("quit not signalled")
	}
	assert.Equal(t, "Shutting down...\n", next.(model).View())
}

func TestSnapshotMessage(t *testing.T) {
	m, _, _ := newTestModel()
	next, _ := m.Update(snapshotMsg(Snapshot{Name: "Kitchen", Player: playback.Status{State: "stop"}}))
	assert.Equal(t, "stop", next.(model).snap.Player.State)
	assert.Empty(t, next.(model).snap.Outputs)
}

func TestTickRefreshes(t *testing.T) {
	m, p, _ := newTestModel()
	p.state = "pause"

	next, cmd := m.Update(tickMsg(time.Now()))
	assert.NotNil(t, cmd)
	assert.Equal(t, "pause", next.(model).snap.Player.State)
}

func TestView(t *testing.T) {
	m, _, _ := newTestModel()
	view := m.View()

	assert.Contains(t, view, "Kitchen")
	assert.Contains(t, view, "music/a.flac")
	assert.Contains(t, view, "1m1s")
	assert.Contains(t, view, "920 kbit/s")
	assert.Contains(t, view, "speakers")
	assert.Contains(t, view, "48000:32:2")
	assert.Contains(t, view, "device gone")
	assert.Contains(t, view, "Outputs (2)")
}
