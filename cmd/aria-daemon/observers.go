package main

import (
	"context"
	"fmt"
	log "log/slog"
	"sync/atomic"
	"time"

	"aria/internal/control"
	"aria/internal/duck"
	"aria/internal/notify"
	"aria/internal/session"
)

// consoleObserver prints the conversation to stdout. Replies are skipped
// when the print engine already writes them.
type consoleObserver struct {
	replies bool
}

func (o consoleObserver) Notify(e session.Event) {
	switch e.Kind {
	case session.EventSessionStarted:
		fmt.Println("Listening...")
	case session.EventTranscript:
		fmt.Printf("You: %s\n", e.Text)
	case session.EventReply, session.EventError:
		if o.replies {
			fmt.Printf("Aria: %s\n", e.Text)
		}
	}
}

type earconObserver struct {
	earcon *notify.Earcon
}

func (o earconObserver) Notify(e session.Event) {
	if e.Kind == session.EventSessionStarted {
		o.earcon.Play()
	}
}

// duckObserver keeps other audio lowered while a session is open or a
// reply is still playing.
type duckObserver struct {
	open atomic.Bool
}

func newDuckObserver(ctx context.Context, d *duck.Ducker, speaking func() bool) *duckObserver {
	o := &duckObserver{}
	go func() {
		tick := time.NewTicker(100 * time.Millisecond)
		defer tick.Stop()

		var retryAt time.Time
		for {
			select {
			case <-ctx.Done():
				if err := d.Restore(context.Background()); err != nil {
					log.Warn("Restore volume failed", "err", err)
				}
				return
			case <-tick.C:
			}

			want := o.open.Load() || speaking()
			if want == d.Active() || time.Now().Before(retryAt) {
				continue
			}
			var err error
			if want {
				err = d.Duck(ctx)
			} else {
				err = d.Restore(ctx)
			}
			if err != nil {
				log.Warn("Ducking failed", "duck", want, "err", err)
				retryAt = time.Now().Add(5 * time.Second)
			}
		}
	}()
	return o
}

func (o *duckObserver) Notify(e session.Event) {
	if e.Kind == session.EventState {
		o.open.Store(e.State != session.Idle)
	}
}

type dispatcherFunc func(cmd string) control.Reply

func (f dispatcherFunc) Dispatch(cmd string) control.Reply { return f(cmd) }
