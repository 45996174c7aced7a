// ABOUTME: Output worker goroutine
// ABOUTME: Executes one command at a time against the device and runs the state machine
package player

import (
	"errors"
	"fmt"
	"time"

	"github.com/Resonate-Protocol/resonated/internal/idle"
	"github.com/Resonate-Protocol/resonated/pkg/audio"
	"github.com/Resonate-Protocol/resonated/pkg/audio/output"
	"github.com/Resonate-Protocol/resonated/pkg/audio/pcm"
)

func (o *AudioOutput) run() {
	defer close(o.done)
	defer o.stopSilence()

	for {
		var tick <-chan time.Time
		if o.silenceTick != nil {
			tick = o.silenceTick.C
		}

		select {
		case req := <-o.requests:
			err := o.handle(req)
			req.reply <- err
			if req.cmd == cmdKill {
				return
			}
		case <-tick:
			o.playSilence()
		}
	}
}

func (o *AudioOutput) handle(req request) error {
	switch req.cmd {
	case cmdOpen:
		return o.open(req.format)
	case cmdPlay:
		return o.play(req.chunk)
	case cmdPause:
		return o.pause()
	case cmdCancel:
		o.cancel()
		return nil
	case cmdClose:
		o.closeDevice()
		return nil
	case cmdKill:
		o.closeDevice()
		o.setState(StateKilled)
		o.log.Debug("Output worker stopped")
		return nil
	}
	return nil
}

func (o *AudioOutput) open(format audio.Format) error {
	o.mu.Lock()
	enabled := o.enabled
	state := o.state
	same := o.inFormat == format
	o.inFormat = format
	o.mu.Unlock()

	if !enabled {
		return nil
	}

	if state.isOpen() {
		if same {
			return nil
		}
		o.log.Infof("Stream format changed to %s, reopening", format)
		o.closeDevice()
	}

	return o.reopen()
}

// reopen acquires the device for the current input format, honouring the
// backoff left by an earlier failure
func (o *AudioOutput) reopen() error {
	o.mu.Lock()
	in := o.inFormat
	if !o.retryAt.IsZero() && o.now().Before(o.retryAt) {
		err := o.lastErr
		o.mu.Unlock()
		return err
	}
	o.mu.Unlock()

	if !in.IsDefined() {
		return &DeviceError{Output: o.name, Op: "open", Err: ErrNotOpen}
	}

	out := in
	if o.requested != nil {
		out = in.Apply(*o.requested)
	}

	if err := o.device.Open(&out); err != nil {
		o.device.Close()
		return o.fail("open", err)
	}

	converter, err := pcm.NewConverter(in, out)
	if err != nil {
		o.device.Close()
		return o.fail("open", fmt.Errorf("%w: %v", output.ErrUnsupportedFormat, err))
	}
	o.converter = converter
	o.silence = make([]byte, out.BytesFor(silencePeriod))

	o.mu.Lock()
	o.state = StateOpen
	o.outFormat = out
	o.retryAt = time.Time{}
	o.lastErr = nil
	o.mu.Unlock()

	if in == out {
		o.log.Infof("Opened device: %s", out)
	} else {
		o.log.Infof("Opened device: %s, converting from %s", out, in)
	}
	o.hub.Raise(idle.Output)
	return nil
}

// fail records a device error, schedules the reopen backoff and leaves
// the output closed
func (o *AudioOutput) fail(op string, err error) error {
	derr := &DeviceError{Output: o.name, Op: op, Err: err}

	o.mu.Lock()
	o.state = StateClosed
	o.lastErr = derr
	o.retryAt = o.now().Add(o.reopenAfter)
	o.mu.Unlock()

	o.stopSilence()
	o.log.WithError(err).Errorf("Failed to %s device", op)
	return derr
}

func (o *AudioOutput) play(chunk []byte) error {
	o.mu.Lock()
	enabled := o.enabled
	state := o.state
	o.mu.Unlock()

	if !enabled {
		return nil
	}

	switch state {
	case StateClosed:
		if err := o.reopen(); err != nil {
			return err
		}
	case StatePaused:
		o.stopSilence()
		o.setState(StateOpen)
	}

	data, err := o.converter.Convert(chunk)
	if err != nil {
		return fmt.Errorf("output %q: %w", o.name, err)
	}

	return o.write(data)
}

// write hands data to the device until all of it is consumed. A device
// error closes the output.
func (o *AudioOutput) write(data []byte) error {
	for len(data) > 0 {
		n, err := o.device.Play(data)
		if err == nil && n <= 0 {
			err = fmt.Errorf("%w: device accepted no data", output.ErrDevice)
		}
		if err != nil {
			o.device.Close()
			derr := o.fail("play", err)
			o.hub.Raise(idle.Output)
			return derr
		}
		if n > len(data) {
			n = len(data)
		}
		data = data[n:]
		o.played.Add(uint64(n))
	}
	return nil
}

func (o *AudioOutput) pause() error {
	o.mu.Lock()
	enabled := o.enabled
	state := o.state
	o.mu.Unlock()

	if !enabled || state != StateOpen {
		return nil
	}

	if o.pauser != nil {
		err := o.pauser.Pause()
		if err == nil {
			o.setState(StatePaused)
			return nil
		}
		if !errors.Is(err, output.ErrNotSupported) {
			o.device.Close()
			derr := o.fail("pause", err)
			o.hub.Raise(idle.Output)
			return derr
		}
	}

	// Keep the device fed so it does not underrun while paused
	o.setState(StatePaused)
	o.silenceTick = time.NewTicker(silencePeriod)
	return nil
}

func (o *AudioOutput) playSilence() {
	if o.State() != StatePaused {
		o.stopSilence()
		return
	}
	if err := o.write(o.silence); err != nil {
		o.log.WithError(err).Warn("Silence write failed")
	}
}

func (o *AudioOutput) stopSilence() {
	if o.silenceTick != nil {
		o.silenceTick.Stop()
		o.silenceTick = nil
	}
}

func (o *AudioOutput) cancel() {
	o.mu.Lock()
	state := o.state
	o.mu.Unlock()

	if !state.isOpen() {
		return
	}

	o.device.Cancel()
	if o.converter != nil {
		o.converter.Reset()
	}
	if state == StatePaused {
		o.stopSilence()
		o.setState(StateOpen)
	}
}

// closeDevice closes the device only when it is known to be open
func (o *AudioOutput) closeDevice() {
	o.stopSilence()

	o.mu.Lock()
	wasOpen := o.state.isOpen()
	if wasOpen {
		o.state = StateClosed
	}
	o.mu.Unlock()

	if !wasOpen {
		return
	}

	o.device.Close()
	o.log.Info("Closed device")
	o.hub.Raise(idle.Output)
}

func (o *AudioOutput) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}
