// ABOUTME: Decoder error values and desync classification
// ABOUTME: Sorts stream errors into lost sync, bad header and CRC mismatch
package decode

import (
	"errors"
	"strings"
)

var (
	// ErrUnsupportedFormat is returned when a stream's PCM format cannot be played
	ErrUnsupportedFormat = errors.New("unsupported stream format")
	// ErrDesync marks recoverable frame-level stream errors
	ErrDesync = errors.New("decoder desync")
	// ErrNotSeekable is reported to the sink when a seek hits a stream that cannot seek
	ErrNotSeekable = errors.New("stream is not seekable")
	// ErrUnknownSuffix is returned when no decoder handles a file
	ErrUnknownSuffix = errors.New("no decoder for file type")
)

// DesyncKind classifies a frame-level decoder error
type DesyncKind int

const (
	DesyncUnknown DesyncKind = iota
	DesyncLostSync
	DesyncBadHeader
	DesyncCRCMismatch
)

func (k DesyncKind) String() string {
	switch k {
	case DesyncLostSync:
		return "lost sync"
	case DesyncBadHeader:
		return "bad header"
	case DesyncCRCMismatch:
		return "crc mismatch"
	default:
		return "decoder error"
	}
}

// DesyncError is a classified frame-level error
type DesyncError struct {
	Kind DesyncKind
	Err  error
}

func (e *DesyncError) Error() string {
	return e.Kind.String() + ": " + e.Err.Error()
}

// Unwrap exposes both ErrDesync and the codec's error
func (e *DesyncError) Unwrap() []error {
	return []error{ErrDesync, e.Err}
}

// Classify wraps err in a DesyncError, keeping an existing classification
func Classify(err error) *DesyncError {
	var de *DesyncError
	if errors.As(err, &de) {
		return de
	}

	msg := strings.ToLower(err.Error())
	kind := DesyncUnknown
	switch {
	case strings.Contains(msg, "sync"):
		kind = DesyncLostSync
	case strings.Contains(msg, "crc"), strings.Contains(msg, "checksum"):
		kind = DesyncCRCMismatch
	case strings.Contains(msg, "header"):
		kind = DesyncBadHeader
	}
	return &DesyncError{Kind: kind, Err: err}
}
