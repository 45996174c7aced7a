// ABOUTME: Output controller states and commands
// ABOUTME: Defines the lifecycle states and the single-slot command request
package player

import (
	"fmt"

	"github.com/Resonate-Protocol/resonated/pkg/audio"
)

// State is the lifecycle state of an output
type State int

const (
	StateUninitialized State = iota
	StateClosed
	StateOpen
	StatePaused
	StateKilled
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StatePaused:
		return "paused"
	case StateKilled:
		return "killed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// isOpen reports whether the device is acquired
func (s State) isOpen() bool {
	return s == StateOpen || s == StatePaused
}

type command int

const (
	cmdNone command = iota
	cmdOpen
	cmdClose
	cmdPlay
	cmdPause
	cmdCancel
	cmdKill
)

func (c command) String() string {
	switch c {
	case cmdNone:
		return "none"
	case cmdOpen:
		return "open"
	case cmdClose:
		return "close"
	case cmdPlay:
		return "play"
	case cmdPause:
		return "pause"
	case cmdCancel:
		return "cancel"
	case cmdKill:
		return "kill"
	default:
		return fmt.Sprintf("command(%d)", int(c))
	}
}

// request is one command in flight. The issuer keeps chunk alive until the
// reply arrives.
type request struct {
	cmd    command
	format audio.Format
	chunk  []byte
	reply  chan error
}
