// Package session implements the recording-session state machine that sits
// between speech recognition and the assistant.
//
// All inputs (recognizer finals, flush results, manual controls, assistant
// replies) arrive on one ordered channel and are applied by a single control
// loop, which is the only writer of session state.
package session

import (
	"context"
	"errors"
	log "log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Assistant answers a finalized transcript.
type Assistant interface {
	Ask(ctx context.Context, transcript string) (string, error)
}

// Speaker plays replies. Speak blocks until playback ends; Cancel may be
// called from any goroutine.
type Speaker interface {
	Speak(ctx context.Context, text string) error
	Cancel()
}

// Flusher asks the recognizer to end the current utterance. It must not
// block; the tail is delivered later through Machine.FlushDone with the same
// id.
type Flusher interface {
	RequestFlush(id string)
}

// WakeMatcher reports whether an utterance is the wake phrase.
type WakeMatcher interface {
	Match(text string) bool
}

const (
	DefaultAssistantTimeout = 20 * time.Second
	DefaultFallback         = "Sorry, I could not get an answer right now."
)

type Config struct {
	AssistantTimeout time.Duration
	// Fallback is spoken when the assistant call fails.
	Fallback    string
	EventBuffer int
}

type eventType int

const (
	evFinal eventType = iota
	evStart
	evStop
	evToggle
	evCancel
	evFlushed
	evReply
	evFailed
)

type input struct {
	typ  eventType
	id   string
	text string
	err  error
}

type Machine struct {
	cfg       Config
	assistant Assistant
	speaker   Speaker
	flusher   Flusher
	wake      WakeMatcher
	observer  Observer
	now       func() time.Time

	inputs  chan input
	done    chan struct{}
	started atomic.Bool

	snap atomic.Pointer[Snapshot]

	// owned by the control loop
	state       State
	current     *Session
	cancelAsk   context.CancelFunc
	cancelSpeak context.CancelFunc

	bg sync.WaitGroup
}

type Option func(*Machine)

func WithObserver(o Observer) Option {
	return func(m *Machine) { m.observer = o }
}

func WithWake(w WakeMatcher) Option {
	return func(m *Machine) { m.wake = w }
}

func withClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

func New(cfg Config, a Assistant, s Speaker, f Flusher, opts ...Option) *Machine {
	if cfg.AssistantTimeout <= 0 {
		cfg.AssistantTimeout = DefaultAssistantTimeout
	}
	if cfg.Fallback == "" {
		cfg.Fallback = DefaultFallback
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}

	m := &Machine{
		cfg:       cfg,
		assistant: a,
		speaker:   s,
		flusher:   f,
		observer:  Observers(nil),
		now:       time.Now,
		inputs:    make(chan input, cfg.EventBuffer),
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	if m.observer == nil {
		m.observer = Observers(nil)
	}
	m.publish()
	return m
}

// Utterance delivers a final recognizer result.
func (m *Machine) Utterance(text string) { m.post(input{typ: evFinal, text: text}) }

// FlushDone delivers the tail produced by a flush requested for session id.
func (m *Machine) FlushDone(id, text string) {
	m.post(input{typ: evFlushed, id: id, text: text})
}

func (m *Machine) ManualStart() { m.post(input{typ: evStart}) }
func (m *Machine) ManualStop()  { m.post(input{typ: evStop}) }

// Toggle starts a session when idle and stops it while recording.
func (m *Machine) Toggle() { m.post(input{typ: evToggle}) }

// Cancel discards the session in progress, aborts a pending assistant call
// and stops speech. It is a no-op when idle.
func (m *Machine) Cancel() { m.post(input{typ: evCancel}) }

// State is safe to call from any goroutine.
func (m *Machine) State() State { return m.snap.Load().State }

func (m *Machine) Snapshot() Snapshot { return *m.snap.Load() }

// post never blocks past Run's exit.
func (m *Machine) post(in input) {
	select {
	case m.inputs <- in:
	case <-m.done:
	}
}

// Run is the control loop. It returns when ctx is done, after background
// speech and assistant calls have finished.
func (m *Machine) Run(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return errors.New("session: machine already running")
	}
	defer close(m.done)

	for {
		select {
		case <-ctx.Done():
			if m.cancelAsk != nil {
				m.cancelAsk()
			}
			m.interruptSpeech()
			m.bg.Wait()
			return ctx.Err()
		case in := <-m.inputs:
			m.handle(ctx, in)
		}
	}
}

func (m *Machine) handle(ctx context.Context, in input) {
	switch in.typ {
	case evFinal:
		m.onFinal(in.text)
	case evStart:
		m.start(TriggerManual)
	case evStop:
		m.stop()
	case evToggle:
		switch m.state {
		case Idle:
			m.start(TriggerManual)
		case Recording:
			m.stop()
		default:
			log.Debug("toggle ignored", "state", m.state)
		}
	case evCancel:
		m.cancel()
	case evFlushed:
		m.onFlushed(ctx, in.id, in.text)
	case evReply:
		m.onReply(ctx, in.id, in.text)
	case evFailed:
		m.onFailed(ctx, in.id, in.err)
	}
}

func (m *Machine) onFinal(text string) {
	switch m.state {
	case Idle:
		if m.wake != nil && m.wake.Match(text) {
			log.Info("wake phrase detected", "text", text)
			m.start(TriggerWake)
		}
	case Recording, Finalizing:
		// finals queued ahead of the flush tail still belong to the session
		if m.current.append(text) {
			m.emit(Event{Kind: EventFragment, Text: m.current.Fragments[len(m.current.Fragments)-1]})
			m.publish()
		}
	default:
		log.Debug("final ignored", "state", m.state, "text", text)
	}
}

func (m *Machine) start(trigger Trigger) {
	if m.state != Idle {
		log.Debug("start ignored, session in progress", "state", m.state, "trigger", trigger)
		return
	}

	m.interruptSpeech()

	m.current = &Session{
		ID:      uuid.NewString(),
		Trigger: trigger,
		Started: m.now(),
	}
	m.setState(Recording)
	m.emit(Event{Kind: EventSessionStarted, Trigger: trigger})
	log.Info("session started", "session", m.current.ID, "trigger", trigger)
}

func (m *Machine) stop() {
	if m.state != Recording {
		log.Debug("stop ignored", "state", m.state)
		return
	}
	m.setState(Finalizing)
	m.flusher.RequestFlush(m.current.ID)
}

func (m *Machine) cancel() {
	if m.cancelAsk != nil {
		m.cancelAsk()
		m.cancelAsk = nil
	}
	m.interruptSpeech()

	if m.state == Idle {
		return
	}

	if m.state == Recording {
		// leave the recognizer clean for the next utterance
		m.flusher.RequestFlush(m.current.ID)
	}

	log.Info("session cancelled", "session", m.current.ID, "fragments", len(m.current.Fragments))
	m.current = nil
	m.setState(Idle)
}

func (m *Machine) onFlushed(ctx context.Context, id, text string) {
	if m.state != Finalizing || m.current == nil || m.current.ID != id {
		log.Debug("stale flush result dropped", "session", id)
		return
	}

	if m.current.append(text) {
		m.emit(Event{Kind: EventFragment, Text: m.current.Fragments[len(m.current.Fragments)-1]})
	}

	transcript := m.current.Transcript()
	if transcript == "" {
		log.Info("session ended with nothing to say", "session", id)
		m.current = nil
		m.setState(Idle)
		return
	}

	m.emit(Event{Kind: EventTranscript, Text: transcript})
	m.setState(Responding)

	askCtx, cancel := context.WithTimeout(ctx, m.cfg.AssistantTimeout)
	m.cancelAsk = cancel

	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		defer cancel()

		reply, err := m.assistant.Ask(askCtx, transcript)
		if err != nil {
			m.post(input{typ: evFailed, id: id, err: err})
			return
		}
		m.post(input{typ: evReply, id: id, text: reply})
	}()
}

func (m *Machine) onReply(ctx context.Context, id, text string) {
	if m.state != Responding || m.current == nil || m.current.ID != id {
		log.Debug("stale reply dropped", "session", id)
		return
	}
	m.finishExchange()
	m.emit(Event{Kind: EventReply, Session: id, Text: text})
	m.setState(Idle)
	m.speak(ctx, text)
}

func (m *Machine) onFailed(ctx context.Context, id string, err error) {
	if m.state != Responding || m.current == nil || m.current.ID != id {
		log.Debug("stale assistant failure dropped", "session", id, "err", err)
		return
	}
	log.Error("assistant call failed", "session", id, "err", err)
	m.finishExchange()
	m.emit(Event{Kind: EventError, Session: id, Text: m.cfg.Fallback, Err: err})
	m.setState(Idle)
	m.speak(ctx, m.cfg.Fallback)
}

func (m *Machine) finishExchange() {
	if m.cancelAsk != nil {
		m.cancelAsk()
		m.cancelAsk = nil
	}
	m.current = nil
}

func (m *Machine) speak(ctx context.Context, text string) {
	if text == "" {
		return
	}
	if m.cancelSpeak != nil {
		m.cancelSpeak()
	}
	// registered here so a cancel handled before playback begins still applies
	sctx, cancel := context.WithCancel(ctx)
	m.cancelSpeak = cancel

	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		defer cancel()
		if err := m.speaker.Speak(sctx, text); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("speech failed", "err", err)
		}
	}()
}

func (m *Machine) interruptSpeech() {
	if m.cancelSpeak != nil {
		m.cancelSpeak()
		m.cancelSpeak = nil
	}
	m.speaker.Cancel()
}

func (m *Machine) setState(s State) {
	if m.state == s {
		return
	}
	m.state = s
	m.publish()
	m.emit(Event{Kind: EventState})
}

// emit fills in the session fields from the current session.
func (m *Machine) emit(e Event) {
	e.State = m.state
	e.Time = m.now()
	if m.current != nil {
		if e.Session == "" {
			e.Session = m.current.ID
		}
		if e.Trigger == "" {
			e.Trigger = m.current.Trigger
		}
	}
	m.observer.Notify(e)
}

func (m *Machine) publish() {
	s := &Snapshot{State: m.state, StateName: m.state.String()}
	if m.current != nil {
		s.SessionID = m.current.ID
		s.Trigger = m.current.Trigger
		s.Fragments = len(m.current.Fragments)
		s.Started = m.current.Started
	}
	m.snap.Store(s)
}
