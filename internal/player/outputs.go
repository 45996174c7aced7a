// ABOUTME: The set of configured audio outputs
// ABOUTME: Builds outputs from configuration and fans commands out with a per-chunk barrier
package player

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Resonate-Protocol/resonated/internal/config"
	"github.com/Resonate-Protocol/resonated/internal/idle"
	"github.com/Resonate-Protocol/resonated/pkg/audio"
	"github.com/Resonate-Protocol/resonated/pkg/audio/output"
)

// DetectedOutputName names the output created by auto-detection
const DetectedOutputName = "default detected output"

// Outputs is every configured output
type Outputs struct {
	outputs []*AudioOutput
	hub     *idle.Hub
	log     *logrus.Entry
}

type options struct {
	registry *output.Registry
}

// Option customises New
type Option func(*options)

// WithRegistry resolves plugin types against r instead of output.Default
func WithRegistry(r *output.Registry) Option {
	return func(o *options) { o.registry = r }
}

// New creates one output per configured block, or auto-detects a device
// when there are none. Any configuration error is fatal.
func New(cfg *config.Config, hub *idle.Hub, opts ...Option) (*Outputs, error) {
	o := options{registry: output.Default}
	for _, opt := range opts {
		opt(&o)
	}

	set := &Outputs{
		hub: hub,
		log: logrus.WithField("component", "outputs"),
	}

	reopenAfter := cfg.ReopenAfter
	if reopenAfter == 0 {
		reopenAfter = DefaultReopenAfter
	}

	if len(cfg.Outputs) == 0 {
		// A detected plugin that fails to initialise is skipped, not fatal
		var detected *AudioOutput
		plugin, ok := o.registry.Detect(func(p output.Plugin) bool {
			out, err := NewAudioOutput(DetectedOutputName, p, nil, output.Params{}, hub)
			if err != nil {
				set.log.WithField("plugin", p.Name()).WithError(err).Warn("Skipping detected output")
				return false
			}
			detected = out
			return true
		})
		if !ok {
			return nil, fmt.Errorf("%w: no output configured and none detected", ErrNoOutput)
		}
		set.log.Warnf("No audio output configured, using detected %q device", plugin.Name())

		detected.SetReopenAfter(reopenAfter)
		set.outputs = append(set.outputs, detected)
		return set, nil
	}

	for _, block := range cfg.Outputs {
		plugin, ok := o.registry.Lookup(block.Type)
		if !ok {
			set.Kill()
			return nil, fmt.Errorf("%w: output %q: unknown plugin type %q", output.ErrConfig, block.Name, block.Type)
		}

		requested, err := block.RequestedFormat()
		if err != nil {
			set.Kill()
			return nil, err
		}

		out, err := NewAudioOutput(block.Name, plugin, requested, block.Params, hub)
		if err != nil {
			set.Kill()
			return nil, err
		}
		out.SetReopenAfter(reopenAfter)
		if !block.IsEnabled() {
			out.mu.Lock()
			out.enabled = false
			out.mu.Unlock()
		}
		set.outputs = append(set.outputs, out)
	}

	return set, nil
}

// Len returns the number of outputs
func (s *Outputs) Len() int { return len(s.outputs) }

// Get returns output id
func (s *Outputs) Get(id int) (*AudioOutput, error) {
	if id < 0 || id >= len(s.outputs) {
		return nil, fmt.Errorf("%w: %d", ErrNoSuchOutput, id)
	}
	return s.outputs[id], nil
}

// Open opens every enabled output for format. At least one must succeed.
func (s *Outputs) Open(ctx context.Context, format audio.Format) error {
	return s.barrier(ctx, "open", func(o *AudioOutput) error {
		return o.Open(ctx, format)
	})
}

// Play submits chunk to every output and waits until all of them have
// consumed it. It fails only when no enabled output accepted the chunk.
func (s *Outputs) Play(ctx context.Context, chunk []byte) error {
	return s.barrier(ctx, "play", func(o *AudioOutput) error {
		return o.Play(ctx, chunk)
	})
}

// barrier runs fn on every output concurrently and waits for all of them
func (s *Outputs) barrier(ctx context.Context, op string, fn func(*AudioOutput) error) error {
	errs := make([]error, len(s.outputs))
	enabled := make([]bool, len(s.outputs))

	var g errgroup.Group
	for i, o := range s.outputs {
		enabled[i] = o.Enabled()
		g.Go(func() error {
			errs[i] = fn(o)
			return nil
		})
	}
	_ = g.Wait()

	accepted := 0
	var failed []error
	for i, o := range s.outputs {
		if !enabled[i] {
			continue
		}
		if errs[i] == nil && o.State().isOpen() {
			accepted++
			continue
		}
		if errs[i] != nil {
			failed = append(failed, errs[i])
		}
	}

	if accepted > 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%s: %w", op, errors.Join(append([]error{ErrNoOutput}, failed...)...))
}

// Cancel drops buffered audio on every output
func (s *Outputs) Cancel(ctx context.Context) error {
	return s.each(ctx, (*AudioOutput).Cancel)
}

// Pause pauses every output
func (s *Outputs) Pause(ctx context.Context) error {
	return s.each(ctx, (*AudioOutput).Pause)
}

// Close closes every output
func (s *Outputs) Close(ctx context.Context) error {
	return s.each(ctx, (*AudioOutput).Close)
}

func (s *Outputs) each(ctx context.Context, fn func(*AudioOutput, context.Context) error) error {
	errs := make([]error, len(s.outputs))

	var g errgroup.Group
	for i, o := range s.outputs {
		g.Go(func() error {
			errs[i] = fn(o, ctx)
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

// Kill stops every output worker and waits for them to exit
func (s *Outputs) Kill() {
	var g errgroup.Group
	for _, o := range s.outputs {
		g.Go(o.Kill)
	}
	if err := g.Wait(); err != nil {
		s.log.WithError(err).Warn("Output shutdown error")
	}
}

// Enable enables output id
func (s *Outputs) Enable(id int) error {
	o, err := s.Get(id)
	if err != nil {
		return err
	}
	o.Enable()
	return nil
}

// Disable disables output id and closes its device
func (s *Outputs) Disable(ctx context.Context, id int) error {
	o, err := s.Get(id)
	if err != nil {
		return err
	}
	return o.Disable(ctx)
}

// Status returns a snapshot of every output
func (s *Outputs) Status() []Status {
	out := make([]Status, len(s.outputs))
	for i, o := range s.outputs {
		out[i] = o.Status()
		out[i].ID = i
	}
	return out
}
