package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	cli "github.com/spf13/pflag"

	"github.com/lmittmann/tint"
	log "log/slog"

	"aria/internal/control"
	"aria/internal/session"
	"aria/pkg/protocol"
)

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

func main() {
	url := cli.StringP("url", "u", "ws://localhost:8092", "Url of hub")
	shard := cli.StringP("shard", "s", "monitor", "Our shard name on the hub")
	target := cli.StringP("target", "t", "aria", "Daemon shard to send commands to")
	logLevel := cli.StringP("log", "l", "warn", "Log level")
	cli.Parse()

	log.SetDefault(log.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level: logLevelMap[*logLevel],
	})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := protocol.New(protocol.Config{
		Shard:     *shard,
		URL:       *url,
		OnMessage: render,
	})

	go readCommands(ctx, p, *target)

	fmt.Printf("monitoring %s as %q; type start, stop, cancel, toggle or status\n", *url, *shard)
	if err := p.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("Monitor failed", "err", err)
		os.Exit(1)
	}
}

func readCommands(ctx context.Context, p *protocol.Protocol, target string) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if _, err := control.Parse(line); err != nil {
			fmt.Println(err)
			continue
		}
		msg, err := protocol.NewMessage(target, protocol.KindCommand, protocol.Command{Cmd: line})
		if err != nil {
			continue
		}
		if err := p.Send(ctx, msg); err != nil {
			return
		}
	}
}

func render(msg *protocol.Message) {
	switch msg.Kind {
	case protocol.KindEvent:
		var rec session.Record
		if err := json.Unmarshal(msg.Body, &rec); err != nil {
			log.Warn("Bad event", "from", msg.From, "err", err)
			return
		}
		fmt.Println(describe(msg.From, rec))

	case protocol.KindReply:
		var reply control.Reply
		if err := json.Unmarshal(msg.Body, &reply); err != nil {
			log.Warn("Bad reply", "from", msg.From, "err", err)
			return
		}
		if !reply.OK {
			fmt.Printf("%s: error: %s\n", msg.From, reply.Error)
			return
		}
		if reply.Status != nil {
			fmt.Printf("%s: ok, state %s, speaking %v\n", msg.From, reply.Status.State, reply.Status.Speaking)
		}
	}
}

func describe(from string, rec session.Record) string {
	at := rec.Time.Local().Format(time.TimeOnly)
	switch rec.Kind {
	case session.EventSessionStarted:
		return fmt.Sprintf("%s [%s] session started (%s)", at, from, rec.Trigger)
	case session.EventFragment:
		return fmt.Sprintf("%s [%s] heard: %s", at, from, rec.Text)
	case session.EventTranscript:
		return fmt.Sprintf("%s [%s] asking: %s", at, from, rec.Text)
	case session.EventReply:
		return fmt.Sprintf("%s [%s] reply: %s", at, from, rec.Text)
	case session.EventError:
		return fmt.Sprintf("%s [%s] error: %s (said %q)", at, from, rec.Error, rec.Text)
	default:
		return fmt.Sprintf("%s [%s] %s", at, from, rec.State)
	}
}
