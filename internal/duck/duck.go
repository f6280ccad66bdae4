// Package duck fades the volume of other applications down while the
// assistant is listening or speaking, and back up afterwards. It talks to
// PulseAudio/PipeWire through pactl.
package duck

import (
	"context"
	"fmt"
	log "log/slog"
	"math"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

var percentRe = regexp.MustCompile(`(\d+)\s*%`)

const maxVolume = 150

type stream struct {
	ID      int
	Volume  int
	AppName string
}

type fade struct {
	id   int
	from int
	to   int
}

// Runner executes pactl with the given arguments and returns stdout.
type Runner func(ctx context.Context, args ...string) ([]byte, error)

func pactl(ctx context.Context, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, "pactl", args...).Output()
}

// Config controls how far and how fast other streams are lowered.
type Config struct {
	// SelfNames are application.name values left untouched (our own output).
	SelfNames []string
	// Factor scales foreign volumes while ducked, e.g. 0.3.
	Factor float64
	// MinVolume is the floor in percent while ducked.
	MinVolume int
	// Fade is the ramp duration for both directions.
	Fade time.Duration
}

// Ducker remembers original volumes between Duck and Restore.
// Safe for concurrent use.
type Ducker struct {
	cfg Config
	run Runner

	mu       sync.Mutex
	active   bool
	original map[int]int
}

func New(cfg Config) *Ducker {
	return newWithRunner(cfg, pactl)
}

func newWithRunner(cfg Config, run Runner) *Ducker {
	cfg.MinVolume = clamp(cfg.MinVolume, 0, maxVolume)
	if cfg.Factor <= 0 || cfg.Factor > 1 {
		cfg.Factor = 0.3
	}
	return &Ducker{
		cfg:      cfg,
		run:      run,
		original: make(map[int]int),
	}
}

// Active reports whether foreign streams are currently lowered.
func (d *Ducker) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// Duck lowers every foreign stream. A second call while ducked is a no-op.
func (d *Ducker) Duck(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active {
		return nil
	}

	streams, err := d.list(ctx)
	if err != nil {
		return err
	}

	d.original = make(map[int]int)
	var targets []fade

	for _, s := range streams {
		if d.isSelf(s) {
			continue
		}
		to := int(math.Round(float64(s.Volume) * d.cfg.Factor))
		to = clamp(max(to, d.cfg.MinVolume), 0, maxVolume)

		d.original[s.ID] = s.Volume
		targets = append(targets, fade{id: s.ID, from: s.Volume, to: to})
	}

	if err := d.ramp(ctx, targets); err != nil {
		return err
	}

	d.active = true
	log.Debug("ducked foreign streams", "count", len(targets))
	return nil
}

// Restore returns foreign streams to the volumes saved by Duck. Streams that
// appeared after Duck are left alone.
func (d *Ducker) Restore(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.active {
		return nil
	}

	streams, err := d.list(ctx)
	if err != nil {
		return err
	}

	var targets []fade
	for _, s := range streams {
		if d.isSelf(s) {
			continue
		}
		orig, ok := d.original[s.ID]
		if !ok {
			continue
		}
		targets = append(targets, fade{id: s.ID, from: s.Volume, to: orig})
	}

	if err := d.ramp(ctx, targets); err != nil {
		return err
	}

	d.original = make(map[int]int)
	d.active = false
	log.Debug("restored foreign streams", "count", len(targets))
	return nil
}

func (d *Ducker) isSelf(s stream) bool {
	for _, name := range d.cfg.SelfNames {
		if s.AppName == name {
			return true
		}
	}
	return false
}

func (d *Ducker) ramp(ctx context.Context, targets []fade) error {
	if len(targets) == 0 {
		return nil
	}

	if d.cfg.Fade <= 0 {
		for _, t := range targets {
			if err := d.setVolume(ctx, t.id, t.to); err != nil {
				return err
			}
		}
		return nil
	}

	const minStep = 10 * time.Millisecond

	steps := max(int(d.cfg.Fade/minStep), 1)
	stepDur := d.cfg.Fade / time.Duration(steps)

	for i := 0; i <= steps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		frac := float64(i) / float64(steps)
		for _, t := range targets {
			v := int(math.Round(float64(t.from) + float64(t.to-t.from)*frac))
			if err := d.setVolume(ctx, t.id, v); err != nil {
				return err
			}
		}

		if i < steps {
			time.Sleep(stepDur)
		}
	}
	return nil
}

func (d *Ducker) list(ctx context.Context) ([]stream, error) {
	out, err := d.run(ctx, "list", "sink-inputs")
	if err != nil {
		return nil, fmt.Errorf("pactl list sink-inputs: %w", err)
	}
	return parseSinkInputs(string(out)), nil
}

func (d *Ducker) setVolume(ctx context.Context, id, percent int) error {
	percent = clamp(percent, 0, maxVolume)
	_, err := d.run(ctx, "set-sink-input-volume", strconv.Itoa(id), fmt.Sprintf("%d%%", percent))
	if err != nil {
		return fmt.Errorf("set volume id=%d: %w", id, err)
	}
	return nil
}

// parseSinkInputs extracts id, first-channel volume and application name
// from `pactl list sink-inputs` output.
func parseSinkInputs(text string) []stream {
	parts := strings.Split(text, "Sink Input #")
	if len(parts) <= 1 {
		return nil
	}

	var res []stream
	for _, block := range parts[1:] {
		nl := strings.IndexByte(block, '\n')
		if nl <= 0 {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSpace(block[:nl]))
		if err != nil {
			continue
		}

		s := stream{ID: id}
		for _, line := range strings.Split(block[nl+1:], "\n") {
			line = strings.TrimSpace(line)

			if strings.HasPrefix(line, "Volume:") && s.Volume == 0 {
				if m := percentRe.FindStringSubmatch(line); len(m) >= 2 {
					if v, err := strconv.Atoi(m[1]); err == nil {
						s.Volume = v
					}
				}
			}

			if strings.HasPrefix(line, "application.name =") && s.AppName == "" {
				if i := strings.IndexByte(line, '"'); i >= 0 {
					rest := line[i+1:]
					if j := strings.IndexByte(rest, '"'); j >= 0 {
						s.AppName = rest[:j]
					}
				}
			}
		}

		if s.Volume == 0 && s.AppName == "" {
			continue
		}
		res = append(res, s)
	}
	return res
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
