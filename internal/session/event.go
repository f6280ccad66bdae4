package session

import "time"

type EventKind string

const (
	EventSessionStarted EventKind = "session_started"
	EventFragment       EventKind = "fragment"
	EventTranscript     EventKind = "transcript"
	EventReply          EventKind = "reply"
	EventError          EventKind = "error"
	EventState          EventKind = "state"
)

// Event is what the machine reports to the UI side.
type Event struct {
	Kind    EventKind
	Session string
	Trigger Trigger
	State   State
	Text    string
	Err     error
	Time    time.Time
}

// Observer receives events on the control loop. Notify must not block.
type Observer interface {
	Notify(Event)
}

type ObserverFunc func(Event)

func (f ObserverFunc) Notify(e Event) { f(e) }

// Observers fans an event out to each member in order.
type Observers []Observer

func (o Observers) Notify(e Event) {
	for _, obs := range o {
		if obs != nil {
			obs.Notify(e)
		}
	}
}

// Record is the JSON form of an Event published to external listeners.
type Record struct {
	Kind    EventKind `json:"kind"`
	Session string    `json:"session,omitempty"`
	Trigger Trigger   `json:"trigger,omitempty"`
	State   string    `json:"state"`
	Text    string    `json:"text,omitempty"`
	Error   string    `json:"error,omitempty"`
	Time    time.Time `json:"time"`
}

func (e Event) Record() Record {
	r := Record{
		Kind:    e.Kind,
		Session: e.Session,
		Trigger: e.Trigger,
		State:   e.State.String(),
		Text:    e.Text,
		Time:    e.Time,
	}
	if e.Err != nil {
		r.Error = e.Err.Error()
	}
	return r
}
