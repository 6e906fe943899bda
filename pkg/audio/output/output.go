// ABOUTME: Audio output interface definition
// ABOUTME: Common interface for blocking PCM playback backends
package output

// Output represents an audio output device. Write blocks until the
// device has drained enough of its buffer, which is what paces the
// playback engine in play mode.
type Output interface {
	// Open initializes the output device for interleaved signed
	// little-endian PCM
	Open(sampleRate, channels, bytesPerSample int) error

	// Write outputs raw PCM bytes (blocks until written)
	Write(pcm []byte) error

	// Close releases output resources
	Close() error
}
