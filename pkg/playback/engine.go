// ABOUTME: Playback engine decoding ILDA-WAV into audio and laser points
// ABOUTME: Worker loop with play/pause/seek requests and display callback
package playback

import (
	"log"
	"math"
	"sync"
	"sync/atomic"

	"github.com/OpenILDA/ildaplay-go/pkg/audio"
	"github.com/OpenILDA/ildaplay-go/pkg/audio/output"
	"github.com/OpenILDA/ildaplay-go/pkg/protocol"
	"github.com/OpenILDA/ildaplay-go/pkg/wav"
	"github.com/google/uuid"
)

const (
	// FrameSamples is the number of PCM samples decoded per iteration
	FrameSamples = 1600

	// AudioChannel is the zero-indexed first channel of the stereo
	// audio pair
	AudioChannel = 6

	// Stereo is the audio output channel count
	Stereo = 2
)

// RGB is an 8-bit display color
type RGB struct {
	R, G, B uint8
}

// DisplayPoint is one preview point
type DisplayPoint struct {
	X, Y  int
	Color RGB
}

// DisplayFrame holds the preview points of one decoded block. The
// engine hands each callback its own copy.
type DisplayFrame []DisplayPoint

// DisplayFunc receives the stream position, a preview frame and
// whether this frame is the result of a seek
type DisplayFunc func(position float64, frame DisplayFrame, seeked bool)

// PointsFunc receives each decoded point block while playing
type PointsFunc func(*protocol.PointBlock)

// Engine demultiplexes an 8-channel WAV into audio and laser points on
// a dedicated goroutine. The audio sink's blocking write is the pacing
// clock; the DAC link gets whatever the sink lets through.
type Engine struct {
	reader  *wav.Reader
	sink    output.Output
	display DisplayFunc
	points  PointsFunc
	session uuid.UUID

	mu   sync.Mutex
	wake chan struct{}
	done chan struct{}

	seekReq  *float64
	playReq  bool
	stopReq  bool
	playFlag atomic.Bool

	cursor int64
}

// NewEngine opens the audio sink for the reader's format and starts
// the worker goroutine, paused at frame zero.
func NewEngine(reader *wav.Reader, sink output.Output, display DisplayFunc, points PointsFunc) (*Engine, error) {
	if err := sink.Open(reader.SampleRate(), Stereo, reader.BytesPerSample()); err != nil {
		return nil, err
	}

	e := &Engine{
		reader:  reader,
		sink:    sink,
		display: display,
		points:  points,
		session: uuid.New(),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	log.Printf("playback session %s: %d frames at %d Hz, %d-bit",
		e.session, reader.LengthFrames(), reader.SampleRate(), reader.BitDepth())

	go e.run()

	return e, nil
}

// Seek requests repositioning to a fraction of the stream in [0, 1].
// The move happens on the worker's next iteration.
func (e *Engine) Seek(position float64) {
	if position < 0 {
		position = 0
	}
	if position > 1 {
		position = 1
	}

	e.mu.Lock()
	e.seekReq = &position
	e.signal()
	e.mu.Unlock()
}

// RequestPlayback toggles between playing and paused
func (e *Engine) RequestPlayback(play bool) {
	e.mu.Lock()
	e.playReq = play
	e.playFlag.Store(play)
	e.signal()
	e.mu.Unlock()
}

// PlaybackRequested reports the current request without locking,
// cheap enough for UI polling
func (e *Engine) PlaybackRequested() bool {
	return e.playFlag.Load()
}

// Shutdown stops the worker and waits for it to exit
func (e *Engine) Shutdown() {
	e.mu.Lock()
	e.stopReq = true
	e.signal()
	e.mu.Unlock()
	<-e.done
}

func (e *Engine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// run is the worker loop: wait for a reason to decode, honor seeks,
// decode one block, fan out to display, audio sink and point sink.
func (e *Engine) run() {
	defer close(e.done)

	bps := e.reader.BytesPerSample()
	length := e.reader.LengthFrames()
	buf := e.reader.FrameBuffer(FrameSamples)
	display := make(DisplayFrame, FrameSamples)
	pcm := make([]byte, FrameSamples*Stereo*bps)

	for {
		e.mu.Lock()
		for !e.playReq && e.seekReq == nil && !e.stopReq {
			e.waitLocked()
		}
		if e.stopReq {
			e.mu.Unlock()
			return
		}
		seek := e.seekReq
		e.seekReq = nil
		playing := e.playReq
		e.mu.Unlock()

		if seek != nil {
			target := int64(math.Round(*seek * float64(length)))
			if err := e.reader.SeekFrame(target); err != nil {
				log.Printf("session %s seek failed: %v", e.session, err)
				return
			}
			e.cursor = target
		}

		frames, err := e.reader.ReadFrames(buf)
		if err != nil {
			log.Printf("session %s read failed: %v", e.session, err)
			return
		}
		if frames == 0 {
			// end of stream: fall back to paused and wait for a seek
			e.mu.Lock()
			e.playReq = false
			e.playFlag.Store(false)
			e.mu.Unlock()
			continue
		}

		srcBits := e.reader.BitDepth()
		block := protocol.NewPointBlock(frames, e.reader.SampleRate())
		for i := 0; i < frames; i++ {
			base := i * wav.RequiredChannels

			x := -audio.SampleTo16(buf.Data[base], srcBits)
			y := -audio.SampleTo16(buf.Data[base+1], srcBits)
			r := -2 * audio.SampleTo16(buf.Data[base+2], srcBits)
			g := -2 * audio.SampleTo16(buf.Data[base+3], srcBits)
			b := -2 * audio.SampleTo16(buf.Data[base+4], srcBits)

			block.SetPoint(i, x, y, r, g, b)

			audio.PutSampleLE(pcm[i*Stereo*bps:], buf.Data[base+AudioChannel], bps)
			audio.PutSampleLE(pcm[(i*Stereo+1)*bps:], buf.Data[base+AudioChannel+1], bps)

			display[i] = DisplayPoint{
				X: x,
				Y: y,
				Color: RGB{
					R: audio.Clamp8(r >> 8),
					G: audio.Clamp8(g >> 8),
					B: audio.Clamp8(b >> 8),
				},
			}
		}

		position := 0.0
		if length > 0 {
			position = float64(e.cursor) / float64(length)
		}
		if seek != nil {
			position = *seek
		}

		frameCopy := make(DisplayFrame, frames)
		copy(frameCopy, display[:frames])
		e.display(position, frameCopy, seek != nil)

		if playing {
			if err := e.sink.Write(pcm[:frames*Stereo*bps]); err != nil {
				log.Printf("session %s audio output failed: %v", e.session, err)
				return
			}
			e.points(block)
		}

		e.cursor += int64(frames)
	}
}

// waitLocked releases the lock until the next request arrives
func (e *Engine) waitLocked() {
	e.mu.Unlock()
	<-e.wake
	e.mu.Lock()
}
