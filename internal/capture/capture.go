// Package capture moves raw microphone audio from an input device into a
// bounded frame queue consumed by the recognizer.
//
// A Source owns exactly one Device at a time. The read loop runs on its own
// goroutine and never waits on recognition: when the queue is full the
// producer waits for at most one frame duration and then drops the frame.
// Devices that are not tied to a clock, such as a file replayed without
// pacing, get a lossless queue instead.
package capture

import (
	"errors"
	"fmt"
	"time"
)

// Frame is one buffer of mono signed 16-bit little-endian PCM.
type Frame []byte

// Format describes the PCM produced by a Device.
type Format struct {
	SampleRate int
	FrameSize  int // samples per frame
}

// DefaultFormat is 16 kHz mono with 100 ms frames.
var DefaultFormat = Format{SampleRate: 16000, FrameSize: 1600}

// FrameDuration is the nominal playback time of one frame.
func (f Format) FrameDuration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.FrameSize) * time.Second / time.Duration(f.SampleRate)
}

// FrameBytes is the byte length of one full frame.
func (f Format) FrameBytes() int { return f.FrameSize * 2 }

// Device is a blocking audio input.
type Device interface {
	// Open acquires the hardware. It is called once per Start.
	Open() error
	// Read blocks until one frame is available. io.EOF ends capture cleanly.
	Read() (Frame, error)
	// Close releases the hardware. It is always called after a successful Open.
	Close() error
	// Name identifies the device in logs and errors.
	Name() string
}

// Paced is implemented by devices that may run ahead of real time. A device
// whose Realtime reports false has no frames to lose by waiting.
type Paced interface {
	Realtime() bool
}

// NewQueueFor sizes the queue for dev: lossless for devices that are not
// real-time, block-then-drop for one frame duration otherwise.
func NewQueueFor(dev Device, size int, f Format) *Queue {
	if p, ok := dev.(Paced); ok && !p.Realtime() {
		return NewBlockingQueue(size)
	}
	return NewQueue(size, f.FrameDuration())
}

// DeviceError reports an unusable or failing input device. Capture halts and
// is not retried.
type DeviceError struct {
	Device string
	Op     string
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("audio device %q: %s: %v", e.Device, e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// IsDeviceError reports whether err carries a *DeviceError.
func IsDeviceError(err error) bool {
	var de *DeviceError
	return errors.As(err, &de)
}
