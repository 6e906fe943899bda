// ABOUTME: High-level ILDA-WAV player package
// ABOUTME: One-call wiring of reader, engine, audio sink and DAC session
// Package ildaplay streams 8-channel ILDA-WAV files to Ether Dream DACs.
//
// Example:
//
//	player, err := ildaplay.NewPlayer(ildaplay.Config{
//		WavPath: "show.wav",
//		DacAddr: dac.StreamAddr(),
//	})
//	player.Play()
package ildaplay
