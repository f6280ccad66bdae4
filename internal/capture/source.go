package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"sync"
)

// Source reads frames from a Device into a Queue.
type Source struct {
	queue  *Queue
	onDrop func()
}

// SourceOption configures a Source.
type SourceOption func(*Source)

// WithDropHook registers fn to run every time a frame is dropped on overflow.
func WithDropHook(fn func()) SourceOption {
	return func(s *Source) { s.onDrop = fn }
}

// NewSource returns a Source feeding q.
func NewSource(q *Queue, opts ...SourceOption) *Source {
	s := &Source{queue: q}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handle is a running capture started by Source.Start.
type Handle struct {
	dev    Device
	cancel context.CancelFunc
	done   chan struct{}

	once sync.Once
	err  error
}

// Start opens dev and begins reading on a new goroutine. An Open failure is
// returned as a *DeviceError and nothing keeps running.
func (s *Source) Start(ctx context.Context, dev Device) (*Handle, error) {
	if err := dev.Open(); err != nil {
		return nil, asDeviceError(dev, "open", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		dev:    dev,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go s.run(ctx, h)

	log.Info("capture started", "device", dev.Name())
	return h, nil
}

// Stop ends capture and waits until the device is released.
func (s *Source) Stop(h *Handle) error {
	if h == nil {
		return nil
	}
	h.cancel()
	<-h.done
	return h.Err()
}

func (s *Source) run(ctx context.Context, h *Handle) {
	var runErr error

	defer close(h.done)
	defer func() {
		if r := recover(); r != nil {
			runErr = asDeviceError(h.dev, "read", fmt.Errorf("panic: %v", r))
		}
		if err := h.dev.Close(); err != nil {
			log.Warn("capture device close failed", "device", h.dev.Name(), "err", err)
		}
		h.setErr(runErr)
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		frame, err := h.dev.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.Info("capture input ended", "device", h.dev.Name())
				return
			}
			if ctx.Err() != nil {
				return
			}
			runErr = asDeviceError(h.dev, "read", err)
			log.Error("capture halted", "device", h.dev.Name(), "err", err)
			return
		}

		switch err := s.queue.Push(ctx, frame); {
		case err == nil:
		case errors.Is(err, ErrFrameDropped):
			log.Warn("audio queue full, dropping frame", "dropped", s.queue.Dropped())
			if s.onDrop != nil {
				s.onDrop()
			}
		default:
			return
		}
	}
}

// Done is closed once the read loop has exited and the device is closed.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err is the terminal capture error, nil on a clean stop or end of input.
// It is only meaningful after Done is closed.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

func (h *Handle) setErr(err error) {
	h.once.Do(func() { h.err = err })
}

func asDeviceError(dev Device, op string, err error) error {
	var de *DeviceError
	if errors.As(err, &de) {
		return err
	}
	return &DeviceError{Device: dev.Name(), Op: op, Err: err}
}
