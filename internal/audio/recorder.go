package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	log "log/slog"
	"strconv"
	"strings"

	"github.com/gordonklaus/portaudio"

	"aria/internal/capture"
)

// Init loads the PortAudio library. Call Terminate on shutdown.
func Init() error {
	return portaudio.Initialize()
}

func Terminate() {
	portaudio.Terminate()
}

// Microphone is a PortAudio input stream implementing capture.Device.
// Selector picks the input: empty for the system default, a decimal index
// into portaudio.Devices(), or a case-insensitive substring of the name.
type Microphone struct {
	selector string
	format   capture.Format

	name   string
	buf    []int16
	stream *portaudio.Stream
}

func NewMicrophone(selector string, format capture.Format) *Microphone {
	return &Microphone{selector: selector, format: format, name: selector}
}

func (m *Microphone) Name() string {
	if m.name == "" {
		return "default"
	}
	return m.name
}

func (m *Microphone) Open() error {
	dev, err := m.lookup()
	if err != nil {
		return err
	}
	m.name = dev.Name

	m.buf = make([]int16, m.format.FrameSize)

	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = 1
	params.Output.Channels = 0
	params.SampleRate = float64(m.format.SampleRate)
	params.FramesPerBuffer = len(m.buf)

	stream, err := portaudio.OpenStream(params, m.buf)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("start stream: %w", err)
	}

	m.stream = stream
	log.Debug("microphone open", "device", m.name, "rate", m.format.SampleRate, "frame", m.format.FrameSize)
	return nil
}

// Read blocks for one frame. Input overflows are logged and tolerated.
func (m *Microphone) Read() (capture.Frame, error) {
	if m.stream == nil {
		return nil, errors.New("stream not open")
	}

	if err := m.stream.Read(); err != nil {
		if !errors.Is(err, portaudio.InputOverflowed) {
			return nil, err
		}
		log.Warn("microphone input overflowed", "device", m.name)
	}

	frame := make(capture.Frame, len(m.buf)*2)
	for i, s := range m.buf {
		binary.LittleEndian.PutUint16(frame[i*2:], uint16(s))
	}
	return frame, nil
}

func (m *Microphone) Close() error {
	if m.stream == nil {
		return nil
	}
	stream := m.stream
	m.stream = nil

	stopErr := stream.Stop()
	closeErr := stream.Close()
	return errors.Join(stopErr, closeErr)
}

func (m *Microphone) lookup() (*portaudio.DeviceInfo, error) {
	if m.selector == "" {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("default input: %w", err)
		}
		return dev, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	if idx, err := strconv.Atoi(m.selector); err == nil {
		if idx < 0 || idx >= len(devices) {
			return nil, fmt.Errorf("device index %d out of range (%d devices)", idx, len(devices))
		}
		if devices[idx].MaxInputChannels < 1 {
			return nil, fmt.Errorf("device %q has no input channels", devices[idx].Name)
		}
		return devices[idx], nil
	}

	want := strings.ToLower(m.selector)
	for _, d := range devices {
		if d.MaxInputChannels > 0 && strings.Contains(strings.ToLower(d.Name), want) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("no input device matches %q", m.selector)
}
