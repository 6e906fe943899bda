// ABOUTME: Reader for 8-channel ILDA-WAV files
// ABOUTME: Validates the format and iterates interleaved PCM frames with seek
package wav

import (
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// RequiredChannels is the channel count an ILDA-WAV carries:
// X, Y, R, G, B, spare, left audio, right audio
const RequiredChannels = 8

// Reader iterates the PCM frames of one ILDA-WAV file. Seeking reopens
// the file and skips forward, so a Reader is safe to reposition at any
// frame boundary without tracking decoder internals.
type Reader struct {
	path string
	file *os.File
	dec  *wav.Decoder

	sampleRate   int
	bitDepth     int
	lengthFrames int64
}

// Open opens and validates an ILDA-WAV file. Anything other than
// 8-channel 16- or 24-bit PCM is rejected with a user-facing error.
func Open(path string) (*Reader, error) {
	r := &Reader{path: path}
	if err := r.open(); err != nil {
		return nil, err
	}

	r.sampleRate = int(r.dec.SampleRate)
	r.bitDepth = int(r.dec.BitDepth)
	r.lengthFrames = r.dec.PCMLen() / int64(r.frameSize())

	return r, nil
}

// open (re)opens the file and forwards the decoder to the PCM chunk
func (r *Reader) open() error {
	f, err := os.Open(r.path)
	if err != nil {
		return fmt.Errorf("open %s: %w", r.path, err)
	}

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return fmt.Errorf("%s is not a valid WAV file", r.path)
	}
	if dec.NumChans != RequiredChannels {
		f.Close()
		return fmt.Errorf("laser WAV needs %d channels, %s has %d", RequiredChannels, r.path, dec.NumChans)
	}
	if dec.BitDepth != 16 && dec.BitDepth != 24 {
		f.Close()
		return fmt.Errorf("unsupported sample size %d bits, want 16 or 24", dec.BitDepth)
	}
	if err := dec.FwdToPCM(); err != nil {
		f.Close()
		return fmt.Errorf("locate PCM data in %s: %w", r.path, err)
	}

	r.file = f
	r.dec = dec
	return nil
}

// SampleRate returns the PCM sample rate, which doubles as the laser
// point rate
func (r *Reader) SampleRate() int {
	return r.sampleRate
}

// BitDepth returns the source sample size in bits
func (r *Reader) BitDepth() int {
	return r.bitDepth
}

// BytesPerSample returns the source sample size in bytes
func (r *Reader) BytesPerSample() int {
	return r.bitDepth / 8
}

// LengthFrames returns the total number of interleaved frames
func (r *Reader) LengthFrames() int64 {
	return r.lengthFrames
}

func (r *Reader) frameSize() int {
	return RequiredChannels * int(r.dec.BitDepth) / 8
}

// FrameBuffer allocates an int buffer sized for n interleaved frames
func (r *Reader) FrameBuffer(n int) *goaudio.IntBuffer {
	return &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: RequiredChannels,
			SampleRate:  r.sampleRate,
		},
		Data:           make([]int, n*RequiredChannels),
		SourceBitDepth: r.bitDepth,
	}
}

// ReadFrames fills buf with interleaved samples and returns the number
// of complete frames read. Zero frames means end of stream.
func (r *Reader) ReadFrames(buf *goaudio.IntBuffer) (int, error) {
	n, err := r.dec.PCMBuffer(buf)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", r.path, err)
	}
	return n / RequiredChannels, nil
}

// SeekFrame repositions the stream to the given frame. The file is
// reopened and the PCM chunk skipped forward from the start.
func (r *Reader) SeekFrame(frame int64) error {
	if frame < 0 {
		frame = 0
	}
	if frame > r.lengthFrames {
		frame = r.lengthFrames
	}

	r.file.Close()
	if err := r.open(); err != nil {
		return err
	}

	skip := frame * int64(r.frameSize())
	if skip > 0 {
		if _, err := io.CopyN(io.Discard, r.dec.PCMChunk, skip); err != nil && err != io.EOF {
			return fmt.Errorf("seek %s: %w", r.path, err)
		}
	}
	return nil
}

// Close releases the file handle
func (r *Reader) Close() error {
	return r.file.Close()
}
