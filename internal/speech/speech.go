// Package speech plays assistant replies through a text-to-speech engine and
// tracks whether anything is being spoken.
package speech

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
)

// Engine renders text as audio. Say returns when playback ends or ctx is
// done, whichever comes first.
type Engine interface {
	Say(ctx context.Context, text string) error
}

// Status is the process-wide speaking flag. It is safe for concurrent use.
type Status struct {
	active atomic.Int32
}

func (s *Status) Speaking() bool { return s.active.Load() > 0 }

func (s *Status) begin() { s.active.Add(1) }
func (s *Status) end()   { s.active.Add(-1) }

// Output serializes playback. A new Speak interrupts the one in progress.
type Output struct {
	engine Engine
	status *Status

	play sync.Mutex // held for the duration of engine.Say

	mu     sync.Mutex
	cancel context.CancelFunc
	gen    uint64
}

type Option func(*Output)

// WithStatus shares s with other components instead of a private flag.
func WithStatus(s *Status) Option {
	return func(o *Output) { o.status = s }
}

func New(engine Engine, opts ...Option) *Output {
	o := &Output{engine: engine, status: &Status{}}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Output) Status() *Status { return o.status }
func (o *Output) Speaking() bool  { return o.status.Speaking() }

// Speak blocks until text has been played. It returns context.Canceled when
// interrupted by Cancel or by a newer Speak.
func (o *Output) Speak(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.mu.Lock()
	if o.cancel != nil {
		o.cancel()
	}
	o.gen++
	gen := o.gen
	o.cancel = cancel
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		if o.gen == gen {
			o.cancel = nil
		}
		o.mu.Unlock()
	}()

	o.play.Lock()
	defer o.play.Unlock()

	if err := sctx.Err(); err != nil {
		return err
	}

	o.status.begin()
	defer o.status.end()

	if err := o.engine.Say(sctx, text); err != nil {
		if sctx.Err() != nil {
			return sctx.Err()
		}
		return fmt.Errorf("speak: %w", err)
	}
	return sctx.Err()
}

// Cancel interrupts the current playback. It may be called from any
// goroutine and is a no-op when nothing is playing.
func (o *Output) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
}

// Printer is an Engine that writes replies as text lines, for headless runs.
type Printer struct {
	W      io.Writer
	Prefix string
}

func (p Printer) Say(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(p.W, "%s%s\n", p.Prefix, text)
	return err
}
