package control

import (
	"errors"
	"testing"

	"aria/internal/session"
)

type fakeTarget struct {
	calls []string
	snap  session.Snapshot
}

func (f *fakeTarget) ManualStart()               { f.calls = append(f.calls, "start") }
func (f *fakeTarget) ManualStop()                { f.calls = append(f.calls, "stop") }
func (f *fakeTarget) Cancel()                    { f.calls = append(f.calls, "cancel") }
func (f *fakeTarget) Toggle()                    { f.calls = append(f.calls, "toggle") }
func (f *fakeTarget) Snapshot() session.Snapshot { return f.snap }

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Command
	}{
		{"start", Start},
		{" S ", Start},
		{"stop", Stop},
		{"q", Stop},
		{"Cancel", Cancel},
		{"c", Cancel},
		{"toggle", Toggle},
		{"t", Toggle},
		{"STATUS", Status},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("Parse(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}

	if _, err := Parse("reboot"); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("Parse(reboot) err = %v, want ErrUnknownCommand", err)
	}
}

func TestDispatch(t *testing.T) {
	target := &fakeTarget{snap: session.Snapshot{
		State:     session.Recording,
		StateName: "recording",
		SessionID: "abc",
		Trigger:   session.TriggerManual,
		Fragments: 2,
	}}
	d := NewDispatcher(target, WithSpeaking(func() bool { return true }))

	for _, raw := range []string{"s", "q", "c", "toggle", "status"} {
		if r := d.Dispatch(raw); !r.OK {
			t.Fatalf("Dispatch(%q) = %+v", raw, r)
		}
	}
	want := []string{"start", "stop", "cancel", "toggle"}
	if len(target.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", target.calls, want)
	}
	for i := range want {
		if target.calls[i] != want[i] {
			t.Fatalf("calls = %v, want %v", target.calls, want)
		}
	}

	r := d.Dispatch("status")
	if r.Status == nil {
		t.Fatal("status reply has no status")
	}
	if *r.Status != (StatusReport{State: "recording", SessionID: "abc", Trigger: "manual", Fragments: 2, Speaking: true}) {
		t.Fatalf("status = %+v", *r.Status)
	}
}

func TestDispatch_Unknown(t *testing.T) {
	target := &fakeTarget{}
	r := NewDispatcher(target).Dispatch("dance")
	if r.OK || r.Error == "" {
		t.Fatalf("reply = %+v, want error", r)
	}
	if len(target.calls) != 0 {
		t.Fatalf("unknown command reached target: %v", target.calls)
	}
}

func TestKeys(t *testing.T) {
	for r, want := range map[rune]Command{'s': Start, 'q': Stop, 'c': Cancel} {
		if Keys[r] != want {
			t.Errorf("Keys[%q] = %q, want %q", r, Keys[r], want)
		}
	}
	if _, ok := Keys['x']; ok {
		t.Error("unexpected binding for 'x'")
	}
}
