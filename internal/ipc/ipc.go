// Package ipc carries control commands over a unix socket. One JSON request
// and one JSON reply per connection.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"net"
	"os"
	"time"

	"aria/internal/control"
)

const DefaultSocketPath = "/tmp/aria.sock"

type Request struct {
	Cmd string `json:"cmd"`
}

// Handler answers one command.
type Handler interface {
	Dispatch(cmd string) control.Reply
}

// Serve listens on path until ctx is done. A stale socket file is removed
// first.
func Serve(ctx context.Context, path string, h Handler) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "unix", path)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer os.Remove(path)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	log.Info("control socket listening", "path", path)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			log.Warn("accept failed", "err", err)
			continue
		}
		go handleConn(conn, h)
	}
}

func handleConn(conn net.Conn, h Handler) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		log.Warn("bad control request", "err", err)
		_ = json.NewEncoder(conn).Encode(control.Reply{Error: "malformed request"})
		return
	}

	reply := h.Dispatch(req.Cmd)
	log.Debug("control command", "cmd", req.Cmd, "ok", reply.OK)

	if err := json.NewEncoder(conn).Encode(reply); err != nil {
		log.Warn("write control reply", "err", err)
	}
}

// Send delivers cmd to the daemon listening on path and returns its reply.
func Send(ctx context.Context, path, cmd string) (control.Reply, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return control.Reply{}, fmt.Errorf("dial %s: %w", path, err)
	}
	defer conn.Close()

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	if err := json.NewEncoder(conn).Encode(Request{Cmd: cmd}); err != nil {
		return control.Reply{}, fmt.Errorf("send: %w", err)
	}

	var reply control.Reply
	if err := json.NewDecoder(conn).Decode(&reply); err != nil {
		return control.Reply{}, fmt.Errorf("read reply: %w", err)
	}
	return reply, nil
}
