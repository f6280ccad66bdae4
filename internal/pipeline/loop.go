// Package pipeline runs the recognition loop and ties capture, recognition
// and the session machine together.
package pipeline

import (
	"context"
	log "log/slog"
	"sync"
	"time"

	"aria/internal/capture"
	"aria/internal/observe"
	"aria/internal/recognize"
)

// Recognizer is the single-consumer side of speech recognition.
type Recognizer interface {
	Accept(pcm []byte) (recognize.Result, error)
	Flush() (recognize.Result, error)
}

// Sink receives recognizer output in production order.
type Sink interface {
	Utterance(text string)
	FlushDone(id, text string)
}

// Loop feeds frames to the recognizer. It blocks only on the frame channel
// and on flush requests.
type Loop struct {
	rec     Recognizer
	frames  <-chan capture.Frame
	sink    Sink
	metrics *observe.Metrics

	mu      sync.Mutex
	pending []string
	wake    chan struct{}
}

type LoopOption func(*Loop)

func WithMetrics(m *observe.Metrics) LoopOption {
	return func(l *Loop) { l.metrics = m }
}

func NewLoop(rec Recognizer, frames <-chan capture.Frame, sink Sink, opts ...LoopOption) *Loop {
	l := &Loop{
		rec:    rec,
		frames: frames,
		sink:   sink,
		wake:   make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// RequestFlush schedules a flush tagged with id. It never blocks.
func (l *Loop) RequestFlush(id string) {
	l.mu.Lock()
	l.pending = append(l.pending, id)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run returns when ctx is done. When the frame channel is closed the
// buffered speech is flushed as a last utterance and the loop keeps
// answering flush requests with empty tails.
func (l *Loop) Run(ctx context.Context) error {
	frames := l.frames
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-l.wake:
			l.serviceFlushes(ctx, frames)

		case f, ok := <-frames:
			if !ok {
				log.Info("audio input closed")
				l.flushTrailing(ctx)
				frames = nil
				continue
			}
			l.accept(ctx, f)
		}
	}
}

func (l *Loop) accept(ctx context.Context, f capture.Frame) {
	start := time.Now()
	res, err := l.rec.Accept(f)
	l.metrics.RecordRecognition(ctx, time.Since(start), err)

	if err != nil {
		log.Warn("recognition failed, utterance dropped", "err", err)
		return
	}
	if res.Final && res.Text != "" {
		log.Debug("final", "text", res.Text)
		l.sink.Utterance(res.Text)
	}
}

// serviceFlushes first consumes frames that were already queued when the
// flush was requested, so speech captured before a stop reaches the session.
func (l *Loop) serviceFlushes(ctx context.Context, frames <-chan capture.Frame) {
	l.mu.Lock()
	ids := l.pending
	l.pending = nil
	l.mu.Unlock()

	if len(ids) == 0 {
		return
	}

	for n := len(frames); n > 0; n-- {
		f, ok := <-frames
		if !ok {
			break
		}
		l.accept(ctx, f)
	}

	for _, id := range ids {
		start := time.Now()
		res, err := l.rec.Flush()
		l.metrics.RecordRecognition(ctx, time.Since(start), err)
		if err != nil {
			log.Warn("flush failed, tail dropped", "session", id, "err", err)
		}
		l.sink.FlushDone(id, res.Text)
	}
}

func (l *Loop) flushTrailing(ctx context.Context) {
	start := time.Now()
	res, err := l.rec.Flush()
	l.metrics.RecordRecognition(ctx, time.Since(start), err)
	if err != nil {
		log.Warn("final flush failed", "err", err)
		return
	}
	if res.Text != "" {
		l.sink.Utterance(res.Text)
	}
}
