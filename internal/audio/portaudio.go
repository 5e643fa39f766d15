package audio

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

// ListInputDevices returns a list of available audio input devices
func ListInputDevices() ([]Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	defaultInput, err := portaudio.DefaultInputDevice()
	if err != nil {
		// If we can't get the default device, continue without marking any as default
		defaultInput = nil
	}

	var result []Device
	for i, dev := range devices {
		// Only include devices with input channels
		if dev.MaxInputChannels > 0 {
			isDefault := defaultInput != nil && dev.Name == defaultInput.Name
			result = append(result, Device{
				ID:        i,
				Name:      dev.Name,
				IsDefault: isDefault,
			})
		}
	}

	return result, nil
}

// PortAudioSource captures microphone frames through a blocking PortAudio stream
type PortAudioSource struct {
	config Config
	stream *portaudio.Stream
	buffer []int16
	mu     sync.Mutex
	closed bool
}

// OpenPortAudioSource opens and starts a capture stream for config.
// PortAudio is initialized per source; nested Initialize/Terminate pairs
// are reference counted by the library.
func OpenPortAudioSource(config Config) (*PortAudioSource, error) {
	if config.FrameSizeSamples <= 0 {
		return nil, fmt.Errorf("invalid frame size: %d", config.FrameSizeSamples)
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: failed to initialize PortAudio: %v", ErrDeviceUnavailable, err)
	}

	device, err := inputDevice(config.DeviceID)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}

	var latency time.Duration
	switch config.Latency {
	case LowLatency:
		latency = device.DefaultLowInputLatency
	default:
		latency = device.DefaultHighInputLatency
	}

	buffer := make([]int16, config.FrameSizeSamples*config.Channels)
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: config.Channels,
			Latency:  latency,
		},
		SampleRate:      float64(config.SampleRate),
		FramesPerBuffer: config.FrameSizeSamples,
	}

	stream, err := portaudio.OpenStream(params, buffer)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: failed to open stream: %v", ErrDeviceUnavailable, err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: failed to start stream: %v", ErrDeviceUnavailable, err)
	}

	return &PortAudioSource{
		config: config,
		stream: stream,
		buffer: buffer,
	}, nil
}

func inputDevice(id int) (*portaudio.DeviceInfo, error) {
	var device *portaudio.DeviceInfo
	if id == -1 {
		d, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("%w: failed to get default input device: %v", ErrDeviceUnavailable, err)
		}
		device = d
	} else {
		devices, err := portaudio.Devices()
		if err != nil {
			return nil, fmt.Errorf("%w: failed to list devices: %v", ErrDeviceUnavailable, err)
		}
		if id < 0 || id >= len(devices) {
			return nil, fmt.Errorf("%w: invalid device ID: %d", ErrDeviceUnavailable, id)
		}
		device = devices[id]
	}

	// Validate device has input channels
	if device.MaxInputChannels <= 0 {
		return nil, fmt.Errorf("%w: selected device '%s' (ID: %d) has no input channels",
			ErrDeviceUnavailable, device.Name, id)
	}
	return device, nil
}

// Format returns the capture format
func (s *PortAudioSource) Format() Format {
	return s.config.Format()
}

// FrameSize returns the frame size in samples
func (s *PortAudioSource) FrameSize() int {
	return s.config.FrameSizeSamples
}

// ReadFrame blocks for one buffer of samples and returns it as little-endian bytes
func (s *PortAudioSource) ReadFrame() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("source closed")
	}

	if err := s.stream.Read(); err != nil {
		return nil, fmt.Errorf("failed to read stream: %w", err)
	}

	data := make([]byte, len(s.buffer)*2)
	for i, sample := range s.buffer {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(sample))
	}
	return data, nil
}

// Close stops the stream and releases PortAudio
func (s *PortAudioSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	if err := s.stream.Stop(); err != nil {
		firstErr = fmt.Errorf("failed to stop stream: %w", err)
	}
	if err := s.stream.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to close stream: %w", err)
	}
	if err := portaudio.Terminate(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to terminate PortAudio: %w", err)
	}
	return firstErr
}
