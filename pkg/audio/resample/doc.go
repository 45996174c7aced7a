// ABOUTME: Sample rate conversion package
// ABOUTME: Provides a stateful linear-interpolation resampler
// Package resample converts interleaved int32 PCM between sample rates.
//
// Example:
//
//	r := resample.New(44100, 48000, 2)
//	out = r.Resample(chunk, out[:0])
package resample
