package pipeline

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"aria/internal/assistant/mock"
	"aria/internal/capture"
	"aria/internal/session"
	"aria/internal/speech"
	"aria/internal/wake"
)

type lockedBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (l *lockedBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.Write(p)
}

func (l *lockedBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.String()
}

type eventLog struct {
	ch chan session.Event
}

func (e *eventLog) Notify(ev session.Event) {
	select {
	case e.ch <- ev:
	default:
	}
}

func (e *eventLog) waitFor(t *testing.T, match func(session.Event) bool) session.Event {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case ev := <-e.ch:
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for event")
			return session.Event{}
		}
	}
}

func push(t *testing.T, q *capture.Queue, texts ...string) {
	t.Helper()
	for _, s := range texts {
		if err := q.Push(context.Background(), capture.Frame(s)); err != nil {
			t.Fatalf("push %q: %v", s, err)
		}
	}
}

func TestWire_WakeToSpokenReply(t *testing.T) {
	q := capture.NewQueue(16, time.Second)
	client := &mock.Client{Reply: "It is noon."}
	out := &lockedBuffer{}
	events := &eventLog{ch: make(chan session.Event, 64)}

	loop, machine := Wire(&fakeRecognizer{}, q.C(),
		session.Config{AssistantTimeout: time.Second},
		client,
		speech.New(speech.Printer{W: out, Prefix: "Aria: "}),
		nil,
		session.WithWake(wake.New("hi", 0)),
		session.WithObserver(events),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)
	go machine.Run(ctx)

	push(t, q, "final:Hi!")
	events.waitFor(t, func(e session.Event) bool { return e.Kind == session.EventState && e.State == session.Recording })

	push(t, q, "what", "final:time is it")
	events.waitFor(t, func(e session.Event) bool { return e.Kind == session.EventFragment })

	machine.ManualStop()
	tr := events.waitFor(t, func(e session.Event) bool { return e.Kind == session.EventTranscript })
	if tr.Text != "what time is it" {
		t.Fatalf("transcript = %q", tr.Text)
	}
	events.waitFor(t, func(e session.Event) bool { return e.Kind == session.EventReply })

	deadline := time.Now().Add(waitTimeout)
	for !strings.Contains(out.String(), "Aria: It is noon.") {
		if time.Now().After(deadline) {
			t.Fatalf("spoken output = %q", out.String())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if client.LastCall() != "what time is it" || client.CallCount() != 1 {
		t.Fatalf("assistant calls = %v", client.Calls)
	}
	if machine.State() != session.Idle {
		t.Fatalf("state = %v, want idle", machine.State())
	}
}

func TestWire_AssistantFailureSpeaksFallback(t *testing.T) {
	q := capture.NewQueue(16, time.Second)
	client := &mock.Client{Err: errors.New("503")}
	out := &lockedBuffer{}
	events := &eventLog{ch: make(chan session.Event, 64)}

	loop, machine := Wire(&fakeRecognizer{}, q.C(),
		session.Config{Fallback: "Offline."},
		client,
		speech.New(speech.Printer{W: out}),
		nil,
		session.WithObserver(events),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)
	go machine.Run(ctx)

	machine.ManualStart()
	events.waitFor(t, func(e session.Event) bool { return e.Kind == session.EventState && e.State == session.Recording })
	push(t, q, "lights")
	machine.ManualStop()

	ev := events.waitFor(t, func(e session.Event) bool { return e.Kind == session.EventError })
	if ev.Text != "Offline." {
		t.Fatalf("fallback = %q", ev.Text)
	}
	if client.LastCall() != "lights" {
		t.Fatalf("transcript sent = %q", client.LastCall())
	}

	deadline := time.Now().Add(waitTimeout)
	for !strings.Contains(out.String(), "Offline.") {
		if time.Now().After(deadline) {
			t.Fatalf("spoken output = %q", out.String())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
