package main

import (
	"context"
	"fmt"
	"os"
	"time"

	cli "github.com/spf13/pflag"

	"aria/internal/control"
	"aria/internal/ipc"
)

func main() {
	socket := cli.StringP("socket", "s", envOr("ARIA_SOCKET", ipc.DefaultSocketPath), "Daemon control socket")
	timeout := cli.DurationP("timeout", "t", 3*time.Second, "Reply timeout")
	cli.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: aria-ctl [flags] start|stop|cancel|toggle|status\n")
		cli.PrintDefaults()
	}
	cli.Parse()

	cmd := "toggle"
	if cli.NArg() > 0 {
		cmd = cli.Arg(0)
	}
	if _, err := control.Parse(cmd); err != nil {
		fmt.Fprintln(os.Stderr, err)
		cli.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	reply, err := ipc.Send(ctx, *socket, cmd)
	if err != nil {
		fmt.Fprintln(os.Stderr, "aria-daemon not running:", err)
		os.Exit(1)
	}
	if !reply.OK {
		fmt.Fprintln(os.Stderr, "error:", reply.Error)
		os.Exit(1)
	}
	if st := reply.Status; st != nil {
		fmt.Printf("state: %s", st.State)
		if st.SessionID != "" {
			fmt.Printf("  session: %s (%s, %d fragments)", st.SessionID, st.Trigger, st.Fragments)
		}
		if st.Speaking {
			fmt.Print("  speaking")
		}
		fmt.Println()
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
