// ABOUTME: Decoder plugin interface and registry
// ABOUTME: Resolves decoders by file suffix in registration order
package decode

import (
	"path/filepath"
	"strings"
)

// Decoder is a codec plugin turning a compressed stream into frames
type Decoder interface {
	// Name identifies the decoder in logs
	Name() string
	// Suffixes are the lower-case file extensions the decoder handles
	Suffixes() []string
	// Decode announces the stream on h, then writes frames until the end
	// of the stream or a STOP verdict
	Decode(in *Input, h *Handoff) error
}

// Registry holds decoders in registration order
type Registry struct {
	decoders []Decoder
}

// NewRegistry creates a registry holding decoders in the given order
func NewRegistry(decoders ...Decoder) *Registry {
	return &Registry{decoders: decoders}
}

// Default holds the built-in decoders
var Default = NewRegistry(&FLAC{}, &MP3{}, &Vorbis{}, &WAV{}, &AIFF{})

// Register appends a decoder
func (r *Registry) Register(d Decoder) {
	r.decoders = append(r.decoders, d)
}

// ForSuffix returns the first decoder handling suffix
func (r *Registry) ForSuffix(suffix string) (Decoder, bool) {
	suffix = strings.ToLower(strings.TrimPrefix(suffix, "."))
	for _, d := range r.decoders {
		for _, s := range d.Suffixes() {
			if s == suffix {
				return d, true
			}
		}
	}
	return nil, false
}

// ForPath returns the decoder for the extension of path
func (r *Registry) ForPath(path string) (Decoder, bool) {
	return r.ForSuffix(filepath.Ext(path))
}

// Suffixes lists every handled suffix
func (r *Registry) Suffixes() []string {
	var out []string
	for _, d := range r.decoders {
		out = append(out, d.Suffixes()...)
	}
	return out
}

// control is the check every decode loop runs before producing a frame.
// It performs a pending seek with seek and reports whether to stop.
func control(h *Handoff, seek func(frame uint64) error) (stop bool) {
	switch h.Pending() {
	case CommandStop:
		return true
	case CommandSeek:
		h.SeekDone(seek(h.SeekFrame()))
	}
	return false
}
