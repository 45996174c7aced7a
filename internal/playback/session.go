// ABOUTME: Playback session driving decoders into the output set
// ABOUTME: Implements the decoder sink and carries stop, seek and pause commands
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Resonate-Protocol/resonated/internal/idle"
	"github.com/Resonate-Protocol/resonated/pkg/audio"
	"github.com/Resonate-Protocol/resonated/pkg/audio/decode"
)

var (
	// ErrNotPlaying is returned for commands that need an active stream
	ErrNotPlaying = errors.New("not playing")
	// ErrBusy is returned when a seek is already in progress
	ErrBusy = errors.New("another command is pending")
)

// Outputs is the output set a session plays into
type Outputs interface {
	Open(ctx context.Context, format audio.Format) error
	Play(ctx context.Context, chunk []byte) error
	Pause(ctx context.Context) error
	Cancel(ctx context.Context) error
}

// PlayerState is the coarse state reported in status
type PlayerState int

const (
	Stopped PlayerState = iota
	Playing
	Paused
)

func (s PlayerState) String() string {
	switch s {
	case Playing:
		return "play"
	case Paused:
		return "pause"
	default:
		return "stop"
	}
}

// Status is a snapshot of the session
type Status struct {
	State    string  `json:"state"`
	Song     string  `json:"song,omitempty"`
	Elapsed  float64 `json:"elapsed"`
	BitRate  int     `json:"bitrate"`
	Format   string  `json:"audio,omitempty"`
	Seekable bool    `json:"seekable"`
	Error    string  `json:"error,omitempty"`
}

// Session plays one stream at a time into an output set
type Session struct {
	outputs  Outputs
	hub      *idle.Hub
	registry *decode.Registry
	log      *logrus.Entry

	// wake is signalled when a command arrives for a paused stream
	wake chan struct{}

	mu       sync.Mutex
	ctx      context.Context
	state    PlayerState
	paused   bool
	cmd      decode.Command
	target   time.Duration
	seekDone chan error
	song     string
	format   audio.Format
	seekable bool
	elapsed  time.Duration
	bitRate  int
	lastErr  error
	// failed ends the current stream after an output error without
	// counting as a stop
	failed bool
	// queued is set while PlayQueue runs; a stop between two entries
	// latches into stopLatched
	queued      bool
	stopLatched bool
}

// Option customises a Session
type Option func(*Session)

// WithRegistry resolves decoders against r instead of decode.Default
func WithRegistry(r *decode.Registry) Option {
	return func(s *Session) { s.registry = r }
}

// New creates an idle session over outputs
func New(outputs Outputs, hub *idle.Hub, opts ...Option) *Session {
	if hub == nil {
		hub = idle.Default
	}
	s := &Session{
		outputs:  outputs,
		hub:      hub,
		registry: decode.Default,
		log:      logrus.WithField("component", "playback"),
		wake:     make(chan struct{}, 1),
		ctx:      context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Play decodes path into the outputs and returns when the stream ends or is stopped
func (s *Session) Play(ctx context.Context, path string) error {
	_, err := s.play(ctx, path)
	return err
}

// PlayQueue plays paths in order. A failing file is skipped; a stop ends the queue.
func (s *Session) PlayQueue(ctx context.Context, paths []string) error {
	s.mu.Lock()
	s.queued = true
	s.stopLatched = false
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.queued = false
		s.stopLatched = false
		s.mu.Unlock()
	}()

	var errs []error
	for _, path := range paths {
		if s.latched() {
			break
		}
		stopped, err := s.play(ctx, path)
		if err != nil {
			s.log.WithField("song", path).WithError(err).Error("Playback failed")
			errs = append(errs, err)
		}
		if stopped || ctx.Err() != nil {
			break
		}
	}
	return errors.Join(errs...)
}

func (s *Session) play(ctx context.Context, path string) (stopped bool, err error) {
	dec, ok := s.registry.ForPath(path)
	if !ok {
		return false, fmt.Errorf("%w: %s", decode.ErrUnknownSuffix, path)
	}

	in, err := decode.OpenFile(path)
	if err != nil {
		return false, err
	}
	defer in.Close()

	if !s.begin(ctx, path) {
		return true, nil
	}
	h := decode.NewHandoff(s, s.log.WithFields(logrus.Fields{"decoder": dec.Name(), "song": path}))
	err = dec.Decode(in, h)
	stopped, failure := s.finish(err)

	if stopped {
		// Devices stay open for the next stream
		if cerr := s.outputs.Cancel(context.WithoutCancel(ctx)); cerr != nil {
			s.log.WithError(cerr).Debug("Cancel after stop")
		}
	}
	if err != nil {
		return stopped, fmt.Errorf("decode %s: %w", path, err)
	}
	if failure != nil {
		return stopped, fmt.Errorf("play %s: %w", path, failure)
	}
	return stopped, nil
}

func (s *Session) latched() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLatched
}

// begin resets the session for path. It returns false when a stop was
// latched between two queue entries.
func (s *Session) begin(ctx context.Context, path string) bool {
	s.mu.Lock()
	if s.stopLatched {
		s.mu.Unlock()
		return false
	}
	s.ctx = ctx
	s.state = Playing
	s.paused = false
	s.cmd = decode.CommandNone
	s.song = path
	s.format = audio.Format{}
	s.seekable = false
	s.elapsed = 0
	s.bitRate = 0
	s.lastErr = nil
	s.failed = false
	s.mu.Unlock()

	s.log.WithField("song", path).Info("Playing")
	return true
}

// finish reports whether the stream ended because of a stop, and the
// output error that ended it otherwise
func (s *Session) finish(err error) (bool, error) {
	s.mu.Lock()
	stopped := s.cmd == decode.CommandStop || s.ctx.Err() != nil
	var failure error
	if s.failed {
		failure = s.lastErr
	}
	s.state = Stopped
	s.paused = false
	s.bitRate = 0
	if err != nil {
		s.lastErr = err
	}
	if s.seekDone != nil {
		s.seekDone <- ErrNotPlaying
		s.seekDone = nil
	}
	s.mu.Unlock()

	s.hub.Raise(idle.Player)
	return stopped, failure
}

// Start opens the outputs with the stream format
func (s *Session) Start(format audio.Format, seekable bool) error {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	if err := s.outputs.Open(ctx, format); err != nil {
		return err
	}

	s.mu.Lock()
	s.format = format
	s.seekable = seekable
	s.mu.Unlock()

	s.hub.Raise(idle.Player)
	return nil
}

// Data plays one chunk on every output and returns the pending command
func (s *Session) Data(chunk []byte, bitRate int) decode.Command {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	if !s.waitWhilePaused(ctx) {
		return decode.CommandStop
	}

	s.mu.Lock()
	cmd := s.cmd
	format := s.format
	s.mu.Unlock()

	switch {
	case cmd == decode.CommandStop || ctx.Err() != nil:
		return decode.CommandStop
	case cmd == decode.CommandSeek:
		// Audio from before the seek point is dropped
		return cmd
	}

	if err := s.outputs.Play(ctx, chunk); err != nil {
		s.log.WithError(err).Error("Output failed, ending stream")
		s.mu.Lock()
		s.lastErr = err
		s.failed = true
		s.mu.Unlock()
		return decode.CommandStop
	}

	s.mu.Lock()
	s.elapsed += format.Duration(len(chunk))
	if bitRate > 0 {
		s.bitRate = bitRate
	}
	s.mu.Unlock()

	return s.Pending()
}

// waitWhilePaused holds the decoder while the session is paused and no
// other command is pending. It returns false when ctx ends.
func (s *Session) waitWhilePaused(ctx context.Context) bool {
	paused := false
	for {
		s.mu.Lock()
		hold := s.paused && s.cmd == decode.CommandNone
		s.mu.Unlock()
		if !hold {
			return true
		}

		if !paused {
			if err := s.outputs.Pause(ctx); err != nil {
				s.log.WithError(err).Warn("Pause failed")
			}
			paused = true
		}

		select {
		case <-s.wake:
		case <-ctx.Done():
			return false
		}
	}
}

// Pending returns the command waiting for the decoder
func (s *Session) Pending() decode.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil || s.failed {
		return decode.CommandStop
	}
	return s.cmd
}

// SeekTarget is the position a pending seek asks for
func (s *Session) SeekTarget() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// SeekDone clears the pending seek and drops audio buffered before it
func (s *Session) SeekDone(err error) {
	s.mu.Lock()
	if s.cmd != decode.CommandSeek {
		s.mu.Unlock()
		return
	}
	s.cmd = decode.CommandNone
	if err == nil {
		s.elapsed = s.target
	}
	done := s.seekDone
	s.seekDone = nil
	ctx := s.ctx
	s.mu.Unlock()

	if err == nil {
		if cerr := s.outputs.Cancel(ctx); cerr != nil {
			s.log.WithError(cerr).Debug("Cancel after seek")
		}
		s.hub.Raise(idle.Player)
	}
	if done != nil {
		done <- err
	}
}

// Stop asks the current stream to end. Outputs stay open. Between two
// queue entries the stop ends the queue.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state == Stopped {
		if s.queued {
			s.stopLatched = true
		}
		s.mu.Unlock()
		return
	}
	s.cmd = decode.CommandStop
	s.mu.Unlock()

	s.signal()
}

// Seek repositions the current stream to pos and waits for the decoder
// to report the outcome
func (s *Session) Seek(ctx context.Context, pos time.Duration) error {
	if pos < 0 {
		pos = 0
	}

	s.mu.Lock()
	if s.state == Stopped {
		s.mu.Unlock()
		return ErrNotPlaying
	}
	if s.cmd != decode.CommandNone {
		s.mu.Unlock()
		return ErrBusy
	}
	done := make(chan error, 1)
	s.cmd = decode.CommandSeek
	s.target = pos
	s.seekDone = done
	s.mu.Unlock()

	s.signal()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pause holds or resumes the current stream
func (s *Session) Pause(paused bool) error {
	s.mu.Lock()
	if s.state == Stopped {
		s.mu.Unlock()
		return ErrNotPlaying
	}
	changed := s.paused != paused
	s.paused = paused
	if paused {
		s.state = Paused
	} else {
		s.state = Playing
	}
	s.mu.Unlock()

	if changed {
		s.signal()
		s.hub.Raise(idle.Player)
	}
	return nil
}

func (s *Session) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// State returns the coarse player state
func (s *Session) State() PlayerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns a snapshot of the session
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		State:    s.state.String(),
		Elapsed:  s.elapsed.Seconds(),
		BitRate:  s.bitRate,
		Seekable: s.seekable,
	}
	if s.state != Stopped {
		st.Song = s.song
		if s.format.IsDefined() {
			st.Format = s.format.String()
		}
	}
	if s.lastErr != nil {
		st.Error = s.lastErr.Error()
	}
	return st
}
