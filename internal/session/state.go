package session

import (
	"strings"
	"time"
)

type State int32

const (
	Idle State = iota
	Recording
	Finalizing
	Responding
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Finalizing:
		return "finalizing"
	case Responding:
		return "responding"
	}
	return "unknown"
}

// Trigger records what opened a session.
type Trigger string

const (
	TriggerWake   Trigger = "wake"
	TriggerManual Trigger = "manual"
)

// Session is one recording window. It is owned by the control loop.
type Session struct {
	ID        string
	Trigger   Trigger
	Fragments []string
	Started   time.Time
}

func (s *Session) append(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	s.Fragments = append(s.Fragments, strings.TrimSpace(text))
	return true
}

// Transcript joins the fragments with single spaces.
func (s *Session) Transcript() string {
	return strings.Join(s.Fragments, " ")
}

// Snapshot is a read-only copy of the machine for status reporting.
type Snapshot struct {
	State     State     `json:"-"`
	StateName string    `json:"state"`
	SessionID string    `json:"session_id,omitempty"`
	Trigger   Trigger   `json:"trigger,omitempty"`
	Fragments int       `json:"fragments"`
	Started   time.Time `json:"started,omitzero"`
}
