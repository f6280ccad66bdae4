// Package keyboard listens for global hotkeys and forwards them as control
// commands. It needs an X11 or Wayland-compatible hook backend.
package keyboard

import (
	"context"
	log "log/slog"

	hook "github.com/robotn/gohook"

	"aria/internal/control"
)

// Applier receives the command bound to a pressed key.
type Applier interface {
	Apply(cmd control.Command)
}

// Listen blocks until ctx is done, applying control.Keys bindings.
func Listen(ctx context.Context, a Applier) {
	events := hook.Start()
	defer hook.End()

	log.Info("keyboard hotkeys active", "start", "s", "stop", "q", "cancel", "c")

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Kind != hook.KeyDown {
				continue
			}
			cmd, bound := control.Keys[ev.Keychar]
			if !bound {
				continue
			}
			log.Debug("hotkey", "key", string(ev.Keychar), "cmd", cmd)
			a.Apply(cmd)
		}
	}
}
