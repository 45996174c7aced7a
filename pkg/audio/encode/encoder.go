// ABOUTME: Encoder interface definition
// ABOUTME: Common interface for encoders fed with interleaved PCM frames
package encode

// Encoder encodes fixed-size frames of interleaved PCM
type Encoder interface {
	// Encode compresses exactly one frame of PCM bytes
	Encode(pcm []byte) ([]byte, error)

	// FrameBytes is the number of PCM bytes Encode expects per call
	FrameBytes() int

	// Close releases encoder resources
	Close() error
}
