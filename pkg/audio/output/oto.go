// ABOUTME: Oto-based audio output implementation
// ABOUTME: Streams PCM through a pipe into a persistent oto player
package output

import (
	"fmt"
	"io"
	"log"

	"github.com/OpenILDA/ildaplay-go/pkg/audio"
	"github.com/ebitengine/oto/v3"
)

// Oto output implementation using the oto library
type Oto struct {
	otoCtx         *oto.Context
	player         *oto.Player
	pipeReader     *io.PipeReader
	pipeWriter     *io.PipeWriter
	sampleRate     int
	channels       int
	bytesPerSample int
	ready          bool
}

// NewOto creates a new Oto output
func NewOto() Output {
	return &Oto{}
}

// Open initializes the output device
func (o *Oto) Open(sampleRate, channels, bytesPerSample int) error {
	// oto only supports 16-bit output; 24-bit input is narrowed in Write
	if bytesPerSample != 2 && bytesPerSample != 3 {
		return fmt.Errorf("unsupported sample width %d bytes", bytesPerSample)
	}

	// oto allows one context per process, so reuse on matching format
	if o.otoCtx != nil {
		if o.sampleRate == sampleRate && o.channels == channels {
			o.bytesPerSample = bytesPerSample
			return nil
		}
		return fmt.Errorf("audio output already open at %dHz/%dch", o.sampleRate, o.channels)
	}

	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
	}

	ctx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return fmt.Errorf("failed to create oto context: %w", err)
	}

	<-readyChan

	o.otoCtx = ctx
	o.sampleRate = sampleRate
	o.channels = channels
	o.bytesPerSample = bytesPerSample

	// Pipe into a persistent player for continuous streaming; writes
	// block once the player's buffer is full, pacing the producer
	o.pipeReader, o.pipeWriter = io.Pipe()
	o.player = o.otoCtx.NewPlayer(o.pipeReader)
	o.player.Play()

	o.ready = true

	log.Printf("audio output initialized: %dHz, %d channels, %d-bit source",
		sampleRate, channels, bytesPerSample*8)

	return nil
}

// Write outputs raw PCM bytes (blocks until written)
func (o *Oto) Write(pcm []byte) error {
	if !o.ready {
		return fmt.Errorf("output not initialized")
	}

	out := pcm
	if o.bytesPerSample == 3 {
		out = narrowTo16(pcm)
	}

	if _, err := o.pipeWriter.Write(out); err != nil {
		return fmt.Errorf("pipe write failed: %w", err)
	}
	return nil
}

// narrowTo16 converts packed 24-bit little-endian PCM to 16-bit by
// keeping the top two bytes of each sample
func narrowTo16(pcm []byte) []byte {
	samples := len(pcm) / 3
	out := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := audio.SampleFrom24Bit(pcm[i*3:i*3+3]) >> 8
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// Close releases output resources
func (o *Oto) Close() error {
	if o.pipeWriter != nil {
		o.pipeWriter.Close()
		o.pipeWriter = nil
	}
	if o.player != nil {
		o.player.Close()
		o.player = nil
	}
	if o.pipeReader != nil {
		o.pipeReader.Close()
		o.pipeReader = nil
	}
	if o.otoCtx != nil {
		o.otoCtx.Suspend()
		o.ready = false
	}
	return nil
}
