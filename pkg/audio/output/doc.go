// ABOUTME: Audio output plugin package
// ABOUTME: Provides the plugin capability set, registry and device backends
// Package output defines the capability set audio output backends implement
// and the registry the daemon resolves output "type" values against.
//
// Backends: malgo (miniaudio), oto, webrtc (Opus to browser peers) and null.
//
// Example:
//
//	plugin, ok := output.Default.Lookup("malgo")
//	dev, err := plugin.Init("living room", nil, output.Params{"device": "USB DAC"})
//	err = dev.Open(&format) // format may be rewritten to what the device accepts
//	n, err := dev.Play(pcm)
package output
