package pipeline

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"aria/internal/capture"
	"aria/internal/recognize"
)

const waitTimeout = 2 * time.Second

// fakeRecognizer treats each frame as text: "final:x" ends an utterance with
// x, "bad" fails, anything else is buffered speech.
type fakeRecognizer struct {
	buf []string
}

func (r *fakeRecognizer) Accept(pcm []byte) (recognize.Result, error) {
	s := string(pcm)
	switch {
	case s == "bad":
		r.buf = nil
		return recognize.Result{Final: true}, recognize.ErrRecognition
	case strings.HasPrefix(s, "final:"):
		r.buf = append(r.buf, strings.TrimPrefix(s, "final:"))
		return r.Flush()
	}
	r.buf = append(r.buf, s)
	return recognize.Result{}, nil
}

func (r *fakeRecognizer) Flush() (recognize.Result, error) {
	text := strings.Join(r.buf, " ")
	r.buf = nil
	return recognize.Result{Text: text, Final: true}, nil
}

type recordingSink struct {
	calls chan string
}

func newSink() *recordingSink { return &recordingSink{calls: make(chan string, 64)} }

func (s *recordingSink) Utterance(text string)     { s.calls <- "utterance:" + text }
func (s *recordingSink) FlushDone(id, text string) { s.calls <- "flush:" + id + ":" + text }

func (s *recordingSink) next(t *testing.T) string {
	t.Helper()
	select {
	case c := <-s.calls:
		return c
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for sink call")
		return ""
	}
}

func frames(texts ...string) chan capture.Frame {
	ch := make(chan capture.Frame, len(texts)+8)
	for _, t := range texts {
		ch <- capture.Frame(t)
	}
	return ch
}

func runLoop(t *testing.T, l *Loop) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; !errors.Is(err, context.Canceled) {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
	})
}

func TestLoop_FinalsInOrder(t *testing.T) {
	sink := newSink()
	l := NewLoop(&fakeRecognizer{}, frames("what", "final:is", "final:the", "final:weather"), sink)
	runLoop(t, l)

	for _, want := range []string{"utterance:what is", "utterance:the", "utterance:weather"} {
		if got := sink.next(t); got != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	}
}

func TestLoop_FlushConsumesQueuedFramesFirst(t *testing.T) {
	sink := newSink()
	l := NewLoop(&fakeRecognizer{}, frames("turn", "on"), sink)
	l.RequestFlush("s1")
	runLoop(t, l)

	if got := sink.next(t); got != "flush:s1:turn on" {
		t.Fatalf("got %q", got)
	}
}

func TestLoop_RecognitionErrorDropsUtterance(t *testing.T) {
	sink := newSink()
	l := NewLoop(&fakeRecognizer{}, frames("noise", "bad", "final:hello"), sink)
	runLoop(t, l)

	if got := sink.next(t); got != "utterance:hello" {
		t.Fatalf("got %q, want utterance:hello", got)
	}
}

func TestLoop_EmptyFinalsAreNotForwarded(t *testing.T) {
	sink := newSink()
	l := NewLoop(&fakeRecognizer{}, frames("final:", "final:ok"), sink)
	runLoop(t, l)

	if got := sink.next(t); got != "utterance:ok" {
		t.Fatalf("got %q, want utterance:ok", got)
	}
}

func TestLoop_ClosedInputFlushesAndKeepsServing(t *testing.T) {
	sink := newSink()
	ch := frames("good", "night")
	close(ch)
	l := NewLoop(&fakeRecognizer{}, ch, sink)
	runLoop(t, l)

	if got := sink.next(t); got != "utterance:good night" {
		t.Fatalf("got %q", got)
	}

	l.RequestFlush("late")
	if got := sink.next(t); got != "flush:late:" {
		t.Fatalf("got %q", got)
	}
}

func TestLoop_RequestFlushNeverBlocks(t *testing.T) {
	l := NewLoop(&fakeRecognizer{}, frames(), newSink())
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			l.RequestFlush("x")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatal("RequestFlush blocked without a running loop")
	}
}

type fakeDevice struct {
	openErr error

	mu     sync.Mutex
	frames []capture.Frame
}

func (d *fakeDevice) Open() error  { return d.openErr }
func (d *fakeDevice) Close() error { return nil }
func (d *fakeDevice) Name() string { return "fake" }

func (d *fakeDevice) Read() (capture.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.frames) == 0 {
		return nil, io.EOF
	}
	f := d.frames[0]
	d.frames = d.frames[1:]
	return f, nil
}

type blockingRunner struct{}

func (blockingRunner) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestPipeline_ReplayToEnd(t *testing.T) {
	q := capture.NewQueue(8, time.Second)
	sink := newSink()
	loop := NewLoop(&fakeRecognizer{}, q.C(), sink)
	dev := &fakeDevice{frames: []capture.Frame{capture.Frame("final:hello"), capture.Frame("there")}}

	ended := make(chan error, 1)
	p := New(capture.NewSource(q), dev, q, loop, blockingRunner{},
		OnInputEnd(func(err error) { ended <- err }))
	if !errors.Is(p.Ready(), ErrNotStarted) {
		t.Fatalf("Ready before Run = %v, want ErrNotStarted", p.Ready())
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	select {
	case err := <-ended:
		if err != nil {
			t.Fatalf("input ended with %v", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("input end not reported")
	}
	if !errors.Is(p.Ready(), ErrInputEnded) {
		t.Fatalf("Ready after end = %v, want ErrInputEnded", p.Ready())
	}

	if got := sink.next(t); got != "utterance:hello" {
		t.Fatalf("got %q", got)
	}
	if got := sink.next(t); got != "utterance:there" {
		t.Fatalf("trailing flush = %q", got)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run = %v, want nil on shutdown", err)
	}
}

func TestPipeline_OpenFailure(t *testing.T) {
	q := capture.NewQueue(1, 0)
	loop := NewLoop(&fakeRecognizer{}, q.C(), newSink())
	p := New(capture.NewSource(q), &fakeDevice{openErr: errors.New("busy")}, q, loop, blockingRunner{})

	err := p.Run(context.Background())
	if !capture.IsDeviceError(err) {
		t.Fatalf("Run = %v, want DeviceError", err)
	}
	if !capture.IsDeviceError(p.Ready()) {
		t.Fatalf("Ready = %v, want DeviceError", p.Ready())
	}
}

// liveDevice produces silent frames until it fails on demand.
type liveDevice struct {
	fail chan error
}

func (d *liveDevice) Open() error  { return nil }
func (d *liveDevice) Close() error { return nil }
func (d *liveDevice) Name() string { return "live" }

func (d *liveDevice) Read() (capture.Frame, error) {
	select {
	case err := <-d.fail:
		return nil, err
	case <-time.After(5 * time.Millisecond):
		return capture.Frame("silence"), nil
	}
}

func TestPipeline_ReadyTracksDevice(t *testing.T) {
	q := capture.NewQueue(8, time.Millisecond)
	loop := NewLoop(&fakeRecognizer{}, q.C(), newSink())
	dev := &liveDevice{fail: make(chan error, 1)}

	ended := make(chan error, 1)
	p := New(capture.NewSource(q), dev, q, loop, blockingRunner{},
		OnInputEnd(func(err error) { ended <- err }))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	deadline := time.Now().Add(waitTimeout)
	for p.Ready() != nil && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := p.Ready(); err != nil {
		t.Fatalf("Ready while capturing = %v", err)
	}

	dev.fail <- errors.New("unplugged")
	select {
	case <-ended:
	case <-time.After(waitTimeout):
		t.Fatal("device failure not reported")
	}
	if !capture.IsDeviceError(p.Ready()) {
		t.Fatalf("Ready after failure = %v, want DeviceError", p.Ready())
	}
}
