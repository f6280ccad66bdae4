// Package protocol speaks to the display's websocket hub. Every frame is a
// JSON Message addressed to a shard name or to Broadcast.
package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Broadcast addresses every shard on the hub.
const Broadcast = "ALL"

const (
	KindEvent   = "event"
	KindCommand = "command"
	KindReply   = "reply"
)

var ErrNotConnected = errors.New("protocol: not connected")

type Message struct {
	To   string          `json:"to"`
	From string          `json:"from"`
	Kind string          `json:"kind"`
	Body json.RawMessage `json:"body,omitempty"`
}

// Command is the body of a KindCommand message.
type Command struct {
	Cmd string `json:"cmd"`
}

func (m *Message) String() string {
	return fmt.Sprintf("%s->%s %s %s", m.From, m.To, m.Kind, m.Body)
}

func NewMessage(to, kind string, body any) (Message, error) {
	msg := Message{To: to, Kind: kind}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return Message{}, fmt.Errorf("encode %s body: %w", kind, err)
		}
		msg.Body = data
	}
	return msg, nil
}

// Parse decodes one frame.
func Parse(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if msg.To == "" || msg.From == "" || msg.Kind == "" {
		return nil, errors.New("message missing to, from or kind")
	}
	return &msg, nil
}

// CommandFunc answers a command; the result becomes the reply body.
type CommandFunc func(cmd string) any

type Config struct {
	Shard string
	URL   string
	// Reconnect is the pause between dial attempts.
	Reconnect time.Duration
	// Outbox bounds messages waiting for the connection.
	Outbox int
	// OnMessage sees every message addressed to this shard that is not a
	// handled command.
	OnMessage func(*Message)
	// OnCommand answers KindCommand messages addressed to this shard.
	OnCommand CommandFunc
}

type Protocol struct {
	cfg       Config
	outbox    chan []byte
	connected atomic.Bool
	dropped   atomic.Uint64

	runOnce sync.Once
}

func New(cfg Config) *Protocol {
	if cfg.Reconnect <= 0 {
		cfg.Reconnect = time.Second
	}
	if cfg.Outbox <= 0 {
		cfg.Outbox = 64
	}
	return &Protocol{
		cfg:    cfg,
		outbox: make(chan []byte, cfg.Outbox),
	}
}

func (p *Protocol) Shard() string   { return p.cfg.Shard }
func (p *Protocol) Connected() bool { return p.connected.Load() }
func (p *Protocol) Dropped() uint64 { return p.dropped.Load() }

// Send queues msg, waiting for room until ctx is done.
func (p *Protocol) Send(ctx context.Context, msg Message) error {
	data, err := p.encode(msg)
	if err != nil {
		return err
	}
	select {
	case p.outbox <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Publish queues msg without blocking. A full outbox drops the message.
func (p *Protocol) Publish(msg Message) {
	data, err := p.encode(msg)
	if err != nil {
		log.Warn("bus encode failed", "err", err)
		return
	}
	select {
	case p.outbox <- data:
	default:
		p.dropped.Add(1)
		log.Warn("bus outbox full, dropping message", "kind", msg.Kind, "dropped", p.dropped.Load())
	}
}

func (p *Protocol) encode(msg Message) ([]byte, error) {
	msg.From = p.cfg.Shard
	if msg.To == "" {
		msg.To = Broadcast
	}
	return json.Marshal(msg)
}

// Run keeps a hub connection alive until ctx is done, reconnecting after
// every loss.
func (p *Protocol) Run(ctx context.Context) error {
	started := false
	p.runOnce.Do(func() { started = true })
	if !started {
		return errors.New("protocol: Run called twice")
	}

	for {
		web, err := p.dial(ctx)
		if err != nil {
			return err
		}

		log.Info("bus connected", "url", p.cfg.URL, "shard", p.cfg.Shard)
		p.connected.Store(true)
		err = p.serve(ctx, web)
		p.connected.Store(false)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("bus connection lost, reconnecting", "url", p.cfg.URL, "err", err)
	}
}

func (p *Protocol) dial(ctx context.Context) (*WebSocket, error) {
	for {
		web, err := Dial(ctx, p.cfg.URL)
		if err == nil {
			return web, nil
		}
		log.Debug("bus dial failed", "url", p.cfg.URL, "err", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.cfg.Reconnect):
		}
	}
}

func (p *Protocol) serve(ctx context.Context, web *WebSocket) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- p.writeLoop(ctx, web)
		_ = web.Close()
	}()

	for {
		data, err := web.Read()
		if err != nil {
			cancel()
			if werr := <-writeErr; werr != nil && !IsClosed(err) {
				return errors.Join(err, werr)
			}
			return err
		}

		msg, err := Parse(data)
		if err != nil {
			log.Warn("bus dropped bad frame", "msg", string(data), "err", err)
			continue
		}
		p.deliver(ctx, msg)
	}
}

func (p *Protocol) writeLoop(ctx context.Context, web *WebSocket) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case data := <-p.outbox:
			if err := web.Write(data); err != nil {
				return fmt.Errorf("bus write: %w", err)
			}
		}
	}
}

func (p *Protocol) deliver(ctx context.Context, msg *Message) {
	if msg.From == p.cfg.Shard {
		return
	}
	if msg.To != p.cfg.Shard && msg.To != Broadcast {
		return
	}

	if msg.Kind == KindCommand && msg.To == p.cfg.Shard && p.cfg.OnCommand != nil {
		var cmd Command
		if err := json.Unmarshal(msg.Body, &cmd); err != nil {
			log.Warn("bus bad command body", "from", msg.From, "err", err)
			return
		}
		reply, err := NewMessage(msg.From, KindReply, p.cfg.OnCommand(cmd.Cmd))
		if err != nil {
			log.Warn("bus reply encode failed", "err", err)
			return
		}
		p.Publish(reply)
		return
	}

	if p.cfg.OnMessage != nil {
		p.cfg.OnMessage(msg)
	}
}
