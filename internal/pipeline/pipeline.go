package pipeline

import (
	"context"
	"errors"
	log "log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"aria/internal/capture"
	"aria/internal/session"
)

// Runner is a component with a blocking control loop.
type Runner interface {
	Run(ctx context.Context) error
}

// Pipeline owns the capture device for its lifetime and runs the
// recognition loop next to the session machine.
type Pipeline struct {
	source  *capture.Source
	device  capture.Device
	queue   *capture.Queue
	loop    *Loop
	machine Runner

	onInputEnd func(error)

	mu       sync.Mutex
	inputErr error
}

var (
	// ErrNotStarted is reported by Ready before capture has started.
	ErrNotStarted = errors.New("audio capture not started")
	// ErrInputEnded is reported by Ready once the input has run out.
	ErrInputEnded = errors.New("audio input ended")
)

type Option func(*Pipeline)

// OnInputEnd is called once when capture stops by itself (end of a replayed
// file, or a device failure). It is not called on shutdown.
func OnInputEnd(fn func(error)) Option {
	return func(p *Pipeline) { p.onInputEnd = fn }
}

func New(src *capture.Source, dev capture.Device, q *capture.Queue, loop *Loop, machine Runner, opts ...Option) *Pipeline {
	p := &Pipeline{
		source:   src,
		device:   dev,
		queue:    q,
		loop:     loop,
		machine:  machine,
		inputErr: ErrNotStarted,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run starts capture and blocks until ctx is done. Failing to open the
// device is returned immediately; a device that fails later only stops
// capture.
func (p *Pipeline) Run(ctx context.Context) error {
	h, err := p.source.Start(ctx, p.device)
	p.setInput(err)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ignoreCanceled(p.machine.Run(gctx))
	})

	g.Go(func() error {
		return ignoreCanceled(p.loop.Run(gctx))
	})

	g.Go(func() error {
		select {
		case <-h.Done():
		case <-gctx.Done():
		}
		err := p.source.Stop(h)
		if err != nil {
			log.Error("capture stopped", "err", err)
		}
		if gctx.Err() == nil {
			if err != nil {
				p.setInput(err)
			} else {
				p.setInput(ErrInputEnded)
			}
			// let the loop drain what is left and flush the last utterance
			p.queue.Close()
			if p.onInputEnd != nil {
				p.onInputEnd(err)
			}
		}
		return nil
	})

	return g.Wait()
}

// Ready is nil while audio is being captured. Otherwise it reports why not:
// ErrNotStarted, ErrInputEnded or the device failure.
func (p *Pipeline) Ready() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inputErr
}

func (p *Pipeline) setInput(err error) {
	p.mu.Lock()
	p.inputErr = err
	p.mu.Unlock()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Wire builds a recognition loop over frames and a session machine that
// flushes through it, each pointing at the other.
func Wire(rec Recognizer, frames <-chan capture.Frame, cfg session.Config, a session.Assistant, s session.Speaker, loopOpts []LoopOption, opts ...session.Option) (*Loop, *session.Machine) {
	loop := NewLoop(rec, frames, nil, loopOpts...)
	m := session.New(cfg, a, s, loop, opts...)
	loop.sink = m
	return loop, m
}
