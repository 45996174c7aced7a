// ABOUTME: Terminal status display for the daemon
// ABOUTME: Shows player and output state with bubbletea and accepts playback keys
package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Resonate-Protocol/resonated/internal/idle"
	"github.com/Resonate-Protocol/resonated/internal/playback"
	"github.com/Resonate-Protocol/resonated/internal/player"
)

// Player is the playback session the display controls
type Player interface {
	Stop()
	Pause(paused bool) error
	Status() playback.Status
}

// Outputs is the output set the display controls
type Outputs interface {
	Status() []player.Status
	Enable(id int) error
	Disable(ctx context.Context, id int) error
}

// Snapshot is everything the display renders
type Snapshot struct {
	Name    string
	Player  playback.Status
	Outputs []player.Status
}

type tickMsg time.Time
type snapshotMsg Snapshot

// model is the bubbletea model for the status display
type model struct {
	name      string
	player    Player
	outputs   Outputs
	snap      Snapshot
	lastErr   string
	startTime time.Time
	quitting  bool
	quitChan  chan struct{}
}

func newModel(name string, p Player, o Outputs, quit chan struct{}) model {
	m := model{
		name:      name,
		player:    p,
		outputs:   o,
		startTime: time.Now(),
		quitChan:  quit,
	}
	m.snap = m.snapshot()
	return m
}

func (m model) snapshot() Snapshot {
	return Snapshot{Name: m.name, Player: m.player.Status(), Outputs: m.outputs.Status()}
}

func (m model) Init() tea.Cmd {
	return tickEvery()
}

func tickEvery() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		m.snap = m.snapshot()
		return m, tickEvery()

	case snapshotMsg:
		m.snap = Snapshot(msg)
		return m, nil
	}

	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch key {
	case "q", "ctrl+c":
		m.quitting = true
		select {
		case m.quitChan <- struct{}{}:
		default:
		}
		return m, tea.Quit

	case "s":
		m.player.Stop()

	case " ", "p":
		m.setErr(m.player.Pause(m.snap.Player.State != "pause"))

	default:
		// Digits toggle outputs by position
		if len(key) == 1 && key[0] >= '1' && key[0] <= '9' {
			id := int(key[0] - '1')
			if id < len(m.snap.Outputs) {
				if m.snap.Outputs[id].Enabled {
					m.setErr(m.outputs.Disable(context.Background(), id))
				} else {
					m.setErr(m.outputs.Enable(id))
				}
			}
		}
	}

	m.snap = m.snapshot()
	return m, nil
}

func (m *model) setErr(err error) {
	if err != nil {
		m.lastErr = err.Error()
	} else {
		m.lastErr = ""
	}
}

func (m model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		MarginBottom(1)

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("86"))

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("250"))

	outputHeaderStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("220"))

	errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	var b strings.Builder
	p := m.snap.Player

	b.WriteString(titleStyle.Render(m.snap.Name))
	b.WriteString("\n\n")

	field := func(name, value string) {
		b.WriteString(headerStyle.Render(name + ": "))
		b.WriteString(valueStyle.Render(value))
		b.WriteString("\n")
	}

	field("Uptime", time.Since(m.startTime).Round(time.Second).String())
	field("State", p.State)
	if p.Song != "" {
		field("Song", p.Song)
		elapsed := time.Duration(p.Elapsed * float64(time.Second)).Round(time.Second)
		field("Elapsed", elapsed.String())
		field("Audio", fmt.Sprintf("%s, %d kbit/s", p.Format, p.BitRate))
	}
	b.WriteString("\n")

	b.WriteString(outputHeaderStyle.Render(fmt.Sprintf("Outputs (%d)", len(m.snap.Outputs))))
	b.WriteString("\n\n")

	for i, o := range m.snap.Outputs {
		mark := " "
		if o.Enabled {
			mark = "x"
		}
		b.WriteString(fmt.Sprintf("  %d [%s] %s", i+1, mark, o.Name))
		detail := o.Plugin + ", " + o.State
		if o.Format != "" {
			detail += ", " + o.Format
		}
		b.WriteString(valueStyle.Render(" (" + detail + ")"))
		b.WriteString("\n")
		if o.LastError != "" {
			b.WriteString(errStyle.Render("      " + o.LastError))
			b.WriteString("\n")
		}
	}

	if m.lastErr != "" {
		b.WriteString("\n")
		b.WriteString(errStyle.Render(m.lastErr))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(lipgloss.NewStyle().Faint(true).Render("space pause, s stop, 1-9 toggle output, q quit"))

	return b.String()
}

// StatusTUI runs the status display
type StatusTUI struct {
	model    model
	quitChan chan struct{}
}

// New creates a status display for player and outputs
func New(name string, p Player, o Outputs) *StatusTUI {
	quit := make(chan struct{}, 1)
	return &StatusTUI{
		model:    newModel(name, p, o, quit),
		quitChan: quit,
	}
}

// Run shows the display until the user quits or ctx ends. Player and
// output events raised on hub refresh the display immediately.
func (t *StatusTUI) Run(ctx context.Context, hub *idle.Hub) error {
	program := tea.NewProgram(t.model, tea.WithAltScreen(), tea.WithContext(ctx))

	sub := hub.Subscribe()
	defer sub.Close()

	go func() {
		for {
			if _, err := sub.Wait(ctx, idle.Player|idle.Output); err != nil {
				return
			}
			program.Send(snapshotMsg(t.model.snapshot()))
		}
	}()

	_, err := program.Run()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// QuitChan signals when the user asks to quit
func (t *StatusTUI) QuitChan() <-chan struct{} {
	return t.quitChan
}
