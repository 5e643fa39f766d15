// Package wav writes and parses the canonical 44-byte PCM WAV header.
//
// The layout is fixed: a RIFF chunk, a 16-byte "fmt " chunk with audio
// format 1 (PCM), and a single "data" chunk holding the raw samples. No
// other chunk types are emitted or accepted. Files are written through
// the go-audio encoder, which produces the same layout.
package wav

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-audio/audio"
	gowav "github.com/go-audio/wav"
)

// HeaderSize is the size in bytes of the canonical PCM WAV header
const HeaderSize = 44

// FormatPCM is the audio format code for uncompressed PCM
const FormatPCM = 1

// ErrInvalidHeader is returned when the header magic or size is wrong
var ErrInvalidHeader = errors.New("invalid wav header")

// Header holds the fields of a canonical PCM WAV header
type Header struct {
	RiffSize      uint32
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	DataSize      uint32
}

// BytesPerSample returns the size of a single sample of one channel
func (h Header) BytesPerSample() int {
	return int(h.BitsPerSample) / 8
}

// NewHeader builds the header for pcmSize bytes of PCM in the given format
func NewHeader(pcmSize, sampleRate, channels, bitsPerSample int) Header {
	return Header{
		RiffSize:      uint32(pcmSize + 36),
		AudioFormat:   FormatPCM,
		Channels:      uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * channels * bitsPerSample / 8),
		BlockAlign:    uint16(channels * bitsPerSample / 8),
		BitsPerSample: uint16(bitsPerSample),
		DataSize:      uint32(pcmSize),
	}
}

// Bytes serializes the header in little-endian order
func (h Header) Bytes() []byte {
	b := make([]byte, HeaderSize)
	copy(b[0:4], "RIFF")
	binary.LittleEndian.PutUint32(b[4:8], h.RiffSize)
	copy(b[8:12], "WAVE")
	copy(b[12:16], "fmt ")
	binary.LittleEndian.PutUint32(b[16:20], 16)
	binary.LittleEndian.PutUint16(b[20:22], h.AudioFormat)
	binary.LittleEndian.PutUint16(b[22:24], h.Channels)
	binary.LittleEndian.PutUint32(b[24:28], h.SampleRate)
	binary.LittleEndian.PutUint32(b[28:32], h.ByteRate)
	binary.LittleEndian.PutUint16(b[32:34], h.BlockAlign)
	binary.LittleEndian.PutUint16(b[34:36], h.BitsPerSample)
	copy(b[36:40], "data")
	binary.LittleEndian.PutUint32(b[40:44], h.DataSize)
	return b
}

// Encode wraps raw PCM in a WAV container. The payload is copied unmodified.
func Encode(pcm []byte, sampleRate, channels, bitsPerSample int) []byte {
	out := make([]byte, 0, HeaderSize+len(pcm))
	out = append(out, NewHeader(len(pcm), sampleRate, channels, bitsPerSample).Bytes()...)
	return append(out, pcm...)
}

// ParseHeader parses the first 44 bytes of b
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: need %d bytes, got %d", ErrInvalidHeader, HeaderSize, len(b))
	}
	if string(b[0:4]) != "RIFF" {
		return Header{}, fmt.Errorf("%w: RIFF marker not found", ErrInvalidHeader)
	}
	if string(b[8:12]) != "WAVE" {
		return Header{}, fmt.Errorf("%w: WAVE marker not found", ErrInvalidHeader)
	}
	if string(b[12:16]) != "fmt " {
		return Header{}, fmt.Errorf("%w: fmt chunk not found", ErrInvalidHeader)
	}

	return Header{
		RiffSize:      binary.LittleEndian.Uint32(b[4:8]),
		AudioFormat:   binary.LittleEndian.Uint16(b[20:22]),
		Channels:      binary.LittleEndian.Uint16(b[22:24]),
		SampleRate:    binary.LittleEndian.Uint32(b[24:28]),
		ByteRate:      binary.LittleEndian.Uint32(b[28:32]),
		BlockAlign:    binary.LittleEndian.Uint16(b[32:34]),
		BitsPerSample: binary.LittleEndian.Uint16(b[34:36]),
		DataSize:      binary.LittleEndian.Uint32(b[40:44]),
	}, nil
}

// ReadHeader reads and parses exactly HeaderSize bytes from r
func ReadHeader(r io.Reader) (Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}
	return ParseHeader(buf)
}

// Decode splits an encoded clip into its header and PCM payload
func Decode(data []byte) (Header, []byte, error) {
	h, err := ParseHeader(data)
	if err != nil {
		return Header{}, nil, err
	}
	payload := data[HeaderSize:]
	if int(h.DataSize) < len(payload) {
		payload = payload[:h.DataSize]
	}
	return h, payload, nil
}

// ConvertFile streams the raw PCM of pcmPath into a WAV file at wavPath.
// Supported depths are 8, 16, 24 and 32 bits. A trailing partial sample
// frame is dropped; for whole frames the file is identical to Encode.
func ConvertFile(pcmPath, wavPath string, sampleRate, channels, bitsPerSample int) error {
	if channels <= 0 {
		return fmt.Errorf("invalid channel count: %d", channels)
	}
	switch bitsPerSample {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("unsupported bit depth: %d", bitsPerSample)
	}

	in, err := os.Open(pcmPath)
	if err != nil {
		return fmt.Errorf("failed to open pcm file: %w", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(wavPath), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	out, err := os.Create(wavPath)
	if err != nil {
		return fmt.Errorf("failed to create wav file: %w", err)
	}

	enc := gowav.NewEncoder(out, sampleRate, bitsPerSample, channels, FormatPCM)
	if err := encodeStream(enc, bufio.NewReader(in), sampleRate, channels, bitsPerSample); err != nil {
		out.Close()
		return fmt.Errorf("failed to encode pcm payload: %w", err)
	}
	if err := enc.Close(); err != nil {
		out.Close()
		return fmt.Errorf("failed to finalize wav file: %w", err)
	}

	return out.Close()
}

// encodeStream feeds r to enc in whole sample frames. The encoder is
// written at least once so an empty input still gets its data chunk.
func encodeStream(enc *gowav.Encoder, r io.Reader, sampleRate, channels, bitsPerSample int) error {
	frameBytes := channels * bitsPerSample / 8
	chunk := make([]byte, frameBytes*1024)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		SourceBitDepth: bitsPerSample,
	}

	wrote := false
	for {
		n, err := io.ReadFull(r, chunk)
		n -= n % frameBytes
		if n > 0 || !wrote {
			buf.Data = samples(buf.Data[:0], chunk[:n], bitsPerSample)
			if werr := enc.Write(buf); werr != nil {
				return werr
			}
			wrote = true
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// samples decodes little-endian PCM into dst. 8-bit samples are unsigned
// and kept as their byte value.
func samples(dst []int, pcm []byte, bitsPerSample int) []int {
	switch bitsPerSample {
	case 8:
		for _, b := range pcm {
			dst = append(dst, int(b))
		}
	case 16:
		for i := 0; i+2 <= len(pcm); i += 2 {
			dst = append(dst, int(int16(binary.LittleEndian.Uint16(pcm[i:]))))
		}
	case 24:
		for i := 0; i+3 <= len(pcm); i += 3 {
			v := int32(pcm[i]) | int32(pcm[i+1])<<8 | int32(int8(pcm[i+2]))<<16
			dst = append(dst, int(v))
		}
	case 32:
		for i := 0; i+4 <= len(pcm); i += 4 {
			dst = append(dst, int(int32(binary.LittleEndian.Uint32(pcm[i:]))))
		}
	}
	return dst
}
