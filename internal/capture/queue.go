package capture

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrQueueClosed is returned by Push after Close.
var ErrQueueClosed = errors.New("capture: queue closed")

// ErrFrameDropped is returned by Push when the queue stayed full for the
// whole wait budget.
var ErrFrameDropped = errors.New("capture: queue full, frame dropped")

// Queue is a bounded FIFO of frames with a single producer and a single
// consumer. Frames are handed over, never shared.
type Queue struct {
	ch       chan Frame
	wait     time.Duration
	lossless bool
	dropped  atomic.Uint64

	mu     sync.RWMutex
	closed bool
}

// NewQueue returns a queue holding at most size frames. A full queue makes
// Push wait up to maxWait before dropping.
func NewQueue(size int, maxWait time.Duration) *Queue {
	if size <= 0 {
		size = 64
	}
	return &Queue{
		ch:   make(chan Frame, size),
		wait: maxWait,
	}
}

// NewBlockingQueue returns a queue whose Push waits for room until ctx is
// done and never drops.
func NewBlockingQueue(size int) *Queue {
	q := NewQueue(size, 0)
	q.lossless = true
	return q
}

// Push enqueues f. It blocks for at most the configured wait when the queue
// is full, then drops f and returns ErrFrameDropped.
func (q *Queue) Push(ctx context.Context, f Frame) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	if q.lossless {
		select {
		case q.ch <- f:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	select {
	case q.ch <- f:
		return nil
	default:
	}

	if q.wait <= 0 {
		q.dropped.Add(1)
		return ErrFrameDropped
	}

	timer := time.NewTimer(q.wait)
	defer timer.Stop()

	select {
	case q.ch <- f:
		return nil
	case <-timer.C:
		q.dropped.Add(1)
		return ErrFrameDropped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// C exposes the receive side for consumers that select over several inputs.
func (q *Queue) C() <-chan Frame { return q.ch }

// Len is the number of frames waiting.
func (q *Queue) Len() int { return len(q.ch) }

// Dropped is the number of frames discarded on overflow.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

// Close stops accepting frames. Frames already queued can still be received
// from C.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}
