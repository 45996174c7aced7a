// ABOUTME: Audio output controller
// ABOUTME: Owns one device and serialises commands to it through a single-slot channel
package player

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Resonate-Protocol/resonated/internal/idle"
	"github.com/Resonate-Protocol/resonated/pkg/audio"
	"github.com/Resonate-Protocol/resonated/pkg/audio/output"
	"github.com/Resonate-Protocol/resonated/pkg/audio/pcm"
)

const (
	// DefaultReopenAfter is how long a failed output waits before reopening
	DefaultReopenAfter = 10 * time.Second

	// silencePeriod is the length of silence fed to a paused device that
	// cannot pause itself
	silencePeriod = 50 * time.Millisecond
)

// AudioOutput is one configured output device and its controller
type AudioOutput struct {
	name       string
	pluginName string
	device     output.Device
	pauser     output.Pauser
	requested  *audio.Format
	hub        *idle.Hub
	log        *logrus.Entry
	now        func() time.Time

	reopenAfter time.Duration

	slot     chan struct{} // held by the issuer until its reply arrives
	requests chan request
	done     chan struct{}

	// mu guards the fields read by Status
	mu        sync.Mutex
	state     State
	enabled   bool
	inFormat  audio.Format
	outFormat audio.Format
	lastErr   error
	retryAt   time.Time

	played atomic.Uint64

	// owned by the worker
	converter   *pcm.Converter
	silence     []byte
	silenceTick *time.Ticker
}

// NewAudioOutput initialises a device with plugin and starts its worker.
// requested is the optional format override.
func NewAudioOutput(name string, plugin output.Plugin, requested *audio.Format, params output.Params, hub *idle.Hub) (*AudioOutput, error) {
	o := &AudioOutput{
		name:        name,
		pluginName:  plugin.Name(),
		requested:   requested,
		hub:         hub,
		log:         logrus.WithFields(logrus.Fields{"output": name, "plugin": plugin.Name()}),
		now:         time.Now,
		reopenAfter: DefaultReopenAfter,
		slot:        make(chan struct{}, 1),
		requests:    make(chan request, 1),
		done:        make(chan struct{}),
		state:       StateUninitialized,
		enabled:     true,
	}

	device, err := plugin.Init(name, requested, params)
	if err != nil {
		return nil, fmt.Errorf("output %q: %w", name, err)
	}
	o.device = device
	if p, ok := device.(output.Pauser); ok {
		o.pauser = p
	}
	o.state = StateClosed

	go o.run()

	return o, nil
}

// Name returns the configured output name
func (o *AudioOutput) Name() string { return o.name }

// Plugin returns the plugin type
func (o *AudioOutput) Plugin() string { return o.pluginName }

// SetReopenAfter changes the backoff after a device failure
func (o *AudioOutput) SetReopenAfter(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reopenAfter = d
}

// State returns the current state
func (o *AudioOutput) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Enabled reports the administrative flag
func (o *AudioOutput) Enabled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.enabled
}

// Open opens the device for a stream in format
func (o *AudioOutput) Open(ctx context.Context, format audio.Format) error {
	return o.issue(ctx, request{cmd: cmdOpen, format: format})
}

// Play submits one chunk of interleaved PCM in the opened input format and
// waits until the device has consumed it
func (o *AudioOutput) Play(ctx context.Context, chunk []byte) error {
	return o.issue(ctx, request{cmd: cmdPlay, chunk: chunk})
}

// Pause pauses playback
func (o *AudioOutput) Pause(ctx context.Context) error {
	return o.issue(ctx, request{cmd: cmdPause})
}

// Cancel drops audio buffered in the device
func (o *AudioOutput) Cancel(ctx context.Context) error {
	return o.issue(ctx, request{cmd: cmdCancel})
}

// Close releases the device
func (o *AudioOutput) Close(ctx context.Context) error {
	return o.issue(ctx, request{cmd: cmdClose})
}

// Kill closes the device, stops the worker and waits for it to exit
func (o *AudioOutput) Kill() error {
	err := o.issue(context.Background(), request{cmd: cmdKill})
	<-o.done
	if err == ErrKilled {
		return nil
	}
	return err
}

// Enable allows the output to be opened and clears any reopen backoff
func (o *AudioOutput) Enable() {
	o.mu.Lock()
	changed := !o.enabled
	o.enabled = true
	o.retryAt = time.Time{}
	o.mu.Unlock()

	if changed {
		o.log.Info("Output enabled")
		o.hub.Raise(idle.Output)
	}
}

// Disable stops using the output and closes its device
func (o *AudioOutput) Disable(ctx context.Context) error {
	o.mu.Lock()
	changed := o.enabled
	o.enabled = false
	o.mu.Unlock()

	if changed {
		o.log.Info("Output disabled")
		o.hub.Raise(idle.Output)
	}
	return o.Close(ctx)
}

// issue posts one command and waits for its completion. ctx only bounds
// acquiring the slot and posting; once the worker has the request the
// issuer waits for the reply because the worker may still be reading the
// chunk.
func (o *AudioOutput) issue(ctx context.Context, req request) error {
	select {
	case o.slot <- struct{}{}:
	case <-o.done:
		return ErrKilled
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-o.slot }()

	select {
	case <-o.done:
		return ErrKilled
	default:
	}

	req.reply = make(chan error, 1)
	select {
	case o.requests <- req:
	case <-o.done:
		return ErrKilled
	case <-ctx.Done():
		return ctx.Err()
	}

	return <-req.reply
}

// Status is a snapshot of an output for clients
type Status struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Plugin    string `json:"plugin"`
	Enabled   bool   `json:"enabled"`
	Open      bool   `json:"open"`
	State     string `json:"state"`
	InFormat  string `json:"in_format,omitempty"`
	Format    string `json:"format,omitempty"`
	Played    uint64 `json:"played_bytes"`
	LastError string `json:"last_error,omitempty"`
}

// Status returns a snapshot without waiting for the worker
func (o *AudioOutput) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := Status{
		Name:    o.name,
		Plugin:  o.pluginName,
		Enabled: o.enabled,
		Open:    o.state.isOpen(),
		State:   o.state.String(),
		Played:  o.played.Load(),
	}
	if o.inFormat.IsDefined() {
		s.InFormat = o.inFormat.String()
	}
	if s.Open {
		s.Format = o.outFormat.String()
	}
	if o.lastErr != nil {
		s.LastError = o.lastErr.Error()
	}
	return s
}
