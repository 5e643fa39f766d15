package audio

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/yok-tottii/EzEcho/internal/wav"
)

// ReaderSource streams frames out of a WAV container.
// A trailing partial frame is discarded and reported as io.EOF.
type ReaderSource struct {
	r         io.Reader
	closer    io.Closer
	format    Format
	frameSize int
	frameLen  int
}

// NewReaderSource parses the WAV header from r and prepares to stream
// frames of frameSamples samples. A malformed header fails here, before
// any frame is produced.
func NewReaderSource(r io.Reader, frameSamples int) (*ReaderSource, error) {
	if frameSamples <= 0 {
		return nil, fmt.Errorf("invalid frame size: %d", frameSamples)
	}

	h, err := wav.ReadHeader(r)
	if err != nil {
		return nil, err
	}
	if h.AudioFormat != wav.FormatPCM {
		return nil, fmt.Errorf("%w: unsupported audio format %d", wav.ErrInvalidHeader, h.AudioFormat)
	}

	format := Format{
		SampleRate:    int(h.SampleRate),
		Channels:      int(h.Channels),
		BitsPerSample: int(h.BitsPerSample),
	}
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", wav.ErrInvalidHeader, err)
	}

	return &ReaderSource{
		r:         r,
		format:    format,
		frameSize: frameSamples,
		frameLen:  format.FrameBytes(frameSamples),
	}, nil
}

// OpenFileSource opens a WAV file as a frame source
func OpenFileSource(path string, frameSamples int) (*ReaderSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}

	src, err := NewReaderSource(bufio.NewReader(f), frameSamples)
	if err != nil {
		f.Close()
		return nil, err
	}
	src.closer = f
	return src, nil
}

// Format returns the format recovered from the header
func (s *ReaderSource) Format() Format {
	return s.format
}

// FrameSize returns the frame size in samples
func (s *ReaderSource) FrameSize() int {
	return s.frameSize
}

// ReadFrame returns the next full frame or io.EOF
func (s *ReaderSource) ReadFrame() ([]byte, error) {
	frame := make([]byte, s.frameLen)
	if _, err := io.ReadFull(s.r, frame); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, err
	}
	return frame, nil
}

// Close releases the underlying file, if any
func (s *ReaderSource) Close() error {
	if s.closer == nil {
		return nil
	}
	err := s.closer.Close()
	s.closer = nil
	return err
}
