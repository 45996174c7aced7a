// ABOUTME: PCM packing and conversion package
// ABOUTME: Holds the conversion buffer and per-output converter
// Package pcm packs decoded samples into interleaved little-endian bytes and
// converts them between formats for an output device.
package pcm
