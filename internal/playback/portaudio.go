package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/gordonklaus/portaudio"
)

// ErrInvalidClip is returned for files that are not 16-bit PCM WAV
var ErrInvalidClip = errors.New("invalid clip")

// PortAudioPlayer plays WAV clips on the default output device
type PortAudioPlayer struct {
	framesPerBuffer int
}

// NewPortAudioPlayer creates a player writing framesPerBuffer frames per
// blocking write
func NewPortAudioPlayer(framesPerBuffer int) *PortAudioPlayer {
	if framesPerBuffer <= 0 {
		framesPerBuffer = 512
	}
	return &PortAudioPlayer{framesPerBuffer: framesPerBuffer}
}

// decodedClip holds interleaved 16-bit samples
type decodedClip struct {
	samples    []int16
	channels   int
	sampleRate int
}

func decodeClip(r io.ReadSeeker) (*decodedClip, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, fmt.Errorf("%w: not a wav file", ErrInvalidClip)
	}
	if d.BitDepth != 16 {
		return nil, fmt.Errorf("%w: unsupported bit depth %d", ErrInvalidClip, d.BitDepth)
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to decode clip: %w", err)
	}
	if buf.Format == nil || buf.Format.NumChannels <= 0 || buf.Format.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: missing format", ErrInvalidClip)
	}

	return &decodedClip{
		samples:    int16Samples(buf),
		channels:   buf.Format.NumChannels,
		sampleRate: buf.Format.SampleRate,
	}, nil
}

// int16Samples narrows a decoded 16-bit buffer
func int16Samples(buf *audio.IntBuffer) []int16 {
	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = int16(v)
	}
	return samples
}

// Play decodes path and writes it to the output stream, checking ctx
// between buffers.
func (p *PortAudioPlayer) Play(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open clip: %w", err)
	}
	clip, err := decodeClip(f)
	f.Close()
	if err != nil {
		return err
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	defer portaudio.Terminate()

	out := make([]int16, p.framesPerBuffer*clip.channels)
	stream, err := portaudio.OpenDefaultStream(0, clip.channels, float64(clip.sampleRate), p.framesPerBuffer, out)
	if err != nil {
		return fmt.Errorf("failed to open output stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("failed to start output stream: %w", err)
	}
	defer stream.Stop()

	for offset := 0; offset < len(clip.samples); offset += len(out) {
		if err := ctx.Err(); err != nil {
			return err
		}

		n := copy(out, clip.samples[offset:])
		for i := n; i < len(out); i++ {
			out[i] = 0
		}

		if err := stream.Write(); err != nil {
			return fmt.Errorf("failed to write output stream: %w", err)
		}
	}

	return nil
}
