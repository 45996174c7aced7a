// ABOUTME: Audio encoder package for compressing PCM for network outputs
// ABOUTME: Provides the Encoder interface and an Opus implementation
// Package encode compresses interleaved PCM frames for network outputs.
//
// Example:
//
//	enc, err := encode.NewOpus(format, 128000)
//	packet, err := enc.Encode(frame) // len(frame) == enc.FrameBytes()
package encode
