// ABOUTME: Audio decoder package for file playback
// ABOUTME: Provides the decoder handoff, plugin registry and codec plugins
// Package decode turns compressed audio files into PCM for the output stage.
//
// Supports: FLAC, MP3, Ogg Vorbis, WAV, AIFF
//
// A decoder announces its stream with Handoff.Start, then writes planar
// frames with Handoff.Write. Each write returns the consumer's verdict: the
// decoder stops on CommandStop and keeps going otherwise.
//
// Example:
//
//	dec, ok := decode.Default.ForPath(path)
//	in, err := decode.OpenFile(path)
//	err = dec.Decode(in, decode.NewHandoff(sink, log))
package decode
