// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines Format and SampleFormat plus format parsing and scaling
// Package audio provides the PCM format types shared by the decoders, the
// conversion layer and the output plugins.
//
// A Format is a sample rate, a sample format and a channel count. Output
// configuration may override any of them with the "rate:bits:channels"
// syntax, where "*" keeps the stream's own value:
//
//	override, err := audio.ParseFormat("48000:*:2")
//	negotiated := stream.Apply(override)
package audio
