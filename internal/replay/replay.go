// Package replay feeds a recorded audio file through the pipeline in place of
// a microphone.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"path/filepath"
	"time"

	"aria/internal/capture"
	"aria/pkg/audioconv"
)

// File implements capture.Device over a decoded audio file. Frames are
// released at real-time pace unless Fast is set.
type File struct {
	path   string
	format capture.Format

	// Fast disables pacing.
	Fast bool
	// TailSilence is appended after the audio so the endpointer can close
	// the last utterance.
	TailSilence time.Duration

	pcm  []byte
	off  int
	next time.Time
}

func NewFile(path string, format capture.Format) *File {
	return &File{path: path, format: format, TailSilence: time.Second}
}

func (f *File) Name() string { return "replay:" + filepath.Base(f.path) }

// Realtime is false with Fast set, so capture waits for the recognizer
// instead of dropping frames.
func (f *File) Realtime() bool { return !f.Fast }

func (f *File) Open() error {
	if f.format.SampleRate <= 0 || f.format.FrameSize <= 0 {
		return errors.New("invalid replay format")
	}

	samples, err := audioconv.Decode(context.Background(), f.path, audioconv.Options{SampleRate: f.format.SampleRate})
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}

	tail := int(f.TailSilence.Seconds() * float64(f.format.SampleRate))
	f.pcm = audioconv.Float32ToPCM16(append(samples, make([]float32, tail)...))
	f.off = 0
	f.next = time.Now()

	log.Info("replay loaded", "file", f.path, "duration", time.Duration(len(samples))*time.Second/time.Duration(f.format.SampleRate))
	return nil
}

// Read returns the next frame, zero-padding the last one, then io.EOF.
func (f *File) Read() (capture.Frame, error) {
	if f.off >= len(f.pcm) {
		return nil, io.EOF
	}

	if !f.Fast {
		if wait := time.Until(f.next); wait > 0 {
			time.Sleep(wait)
		}
		f.next = f.next.Add(f.format.FrameDuration())
	}

	frame := make(capture.Frame, f.format.FrameBytes())
	n := copy(frame, f.pcm[f.off:])
	f.off += n
	return frame, nil
}

func (f *File) Close() error {
	f.pcm = nil
	return nil
}
