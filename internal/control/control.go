// Package control turns commands from any input (keyboard, unix socket,
// HTTP, MQTT, the display UI) into session machine events.
package control

import (
	"errors"
	"fmt"
	"strings"

	"aria/internal/session"
)

type Command string

const (
	Start  Command = "start"
	Stop   Command = "stop"
	Cancel Command = "cancel"
	Toggle Command = "toggle"
	Status Command = "status"
)

var ErrUnknownCommand = errors.New("unknown command")

var aliases = map[string]Command{
	"start":  Start,
	"s":      Start,
	"stop":   Stop,
	"q":      Stop,
	"cancel": Cancel,
	"c":      Cancel,
	"toggle": Toggle,
	"t":      Toggle,
	"status": Status,
}

// Parse accepts full names and one-letter shortcuts, case-insensitively.
func Parse(s string) (Command, error) {
	cmd, ok := aliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCommand, s)
	}
	return cmd, nil
}

// Keys maps global hotkeys to commands: 's' starts, 'q' stops, 'c' cancels.
var Keys = map[rune]Command{
	's': Start,
	'q': Stop,
	'c': Cancel,
}

// Target receives control events. *session.Machine implements it.
type Target interface {
	ManualStart()
	ManualStop()
	Cancel()
	Toggle()
	Snapshot() session.Snapshot
}

// StatusReport is what status queries return.
type StatusReport struct {
	State     string `json:"state"`
	SessionID string `json:"session_id,omitempty"`
	Trigger   string `json:"trigger,omitempty"`
	Fragments int    `json:"fragments"`
	Speaking  bool   `json:"speaking"`
}

type Reply struct {
	OK     bool          `json:"ok"`
	Error  string        `json:"error,omitempty"`
	Status *StatusReport `json:"status,omitempty"`
}

type Dispatcher struct {
	target   Target
	speaking func() bool
}

type Option func(*Dispatcher)

// WithSpeaking reports playback state in status replies.
func WithSpeaking(fn func() bool) Option {
	return func(d *Dispatcher) { d.speaking = fn }
}

func NewDispatcher(t Target, opts ...Option) *Dispatcher {
	d := &Dispatcher{target: t, speaking: func() bool { return false }}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dispatch parses raw and applies it. Commands are fire-and-forget; the
// reply carries the status as of dispatch.
func (d *Dispatcher) Dispatch(raw string) Reply {
	cmd, err := Parse(raw)
	if err != nil {
		return Reply{Error: err.Error()}
	}
	d.Apply(cmd)
	st := d.Status()
	return Reply{OK: true, Status: &st}
}

func (d *Dispatcher) Apply(cmd Command) {
	switch cmd {
	case Start:
		d.target.ManualStart()
	case Stop:
		d.target.ManualStop()
	case Cancel:
		d.target.Cancel()
	case Toggle:
		d.target.Toggle()
	}
}

func (d *Dispatcher) Status() StatusReport {
	snap := d.target.Snapshot()
	return StatusReport{
		State:     snap.StateName,
		SessionID: snap.SessionID,
		Trigger:   string(snap.Trigger),
		Fragments: snap.Fragments,
		Speaking:  d.speaking(),
	}
}
