// ABOUTME: Output controller errors
// ABOUTME: Sentinels and the device error carrying the failed output and operation
package player

import (
	"errors"
	"fmt"

	"github.com/Resonate-Protocol/resonated/pkg/audio/output"
)

var (
	// ErrKilled is returned for commands sent to an output after KILL
	ErrKilled = errors.New("output killed")
	// ErrNoOutput is returned when no enabled output is usable
	ErrNoOutput = errors.New("no audio output available")
	// ErrNoSuchOutput is returned for an out-of-range output id
	ErrNoSuchOutput = errors.New("no such output")
	// ErrNotOpen is returned when playing on an output that was never opened
	ErrNotOpen = errors.New("output has no stream format")
)

// DeviceError reports a failure of one output's device
type DeviceError struct {
	Output string
	Op     string
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("output %q: %s: %v", e.Output, e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// Is makes every DeviceError match output.ErrDevice
func (e *DeviceError) Is(target error) bool {
	return target == output.ErrDevice
}
