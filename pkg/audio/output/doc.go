// ABOUTME: Audio output package for playing audio
// ABOUTME: Provides Output interface and oto implementation
// Package output provides blocking audio playback sinks.
//
// The oto backend streams through a pipe into a persistent player, so
// Write applies back-pressure once the device buffer is full.
//
// Example:
//
//	out := output.NewOto()
//	err := out.Open(48000, 2, 2)
//	err = out.Write(pcm)
package output
