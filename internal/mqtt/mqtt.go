// Package mqtt bridges the assistant to an MQTT broker: session events are
// published under <prefix>/event/<kind> and commands are taken from
// <prefix>/control.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	log "log/slog"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"aria/internal/control"
	"aria/internal/session"
)

type Config struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// Handler is satisfied by *control.Dispatcher.
type Handler interface {
	Dispatch(raw string) control.Reply
}

type Bridge struct {
	cfg     Config
	handler Handler
	client  paho.Client
}

func New(cfg Config, h Handler) *Bridge {
	return &Bridge{cfg: cfg, handler: h}
}

func TopicControl(prefix string) string { return prefix + "/control" }
func TopicOnline(prefix string) string  { return prefix + "/online" }
func TopicReply(prefix string) string   { return prefix + "/reply" }

func TopicEvent(prefix string, kind session.EventKind) string {
	return fmt.Sprintf("%s/event/%s", prefix, kind)
}

// Start connects, marks the bridge online (with an offline will) and
// subscribes to the control topic. It disconnects when ctx is done.
func (b *Bridge) Start(ctx context.Context) error {
	prefix := b.cfg.TopicPrefix
	opts := paho.NewClientOptions().
		AddBroker(b.cfg.BrokerURL).
		SetClientID(b.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(10*time.Second).
		SetWill(TopicOnline(prefix), "offline", 1, true)

	if b.cfg.Username != "" {
		opts.SetUsername(b.cfg.Username)
		opts.SetPassword(b.cfg.Password)
	}

	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		log.Error("mqtt connection lost", "err", err)
	})
	opts.SetOnConnectHandler(func(c paho.Client) {
		c.Publish(TopicOnline(prefix), 1, true, "online")
		if token := c.Subscribe(TopicControl(prefix), 1, b.handleControl); token.Wait() && token.Error() != nil {
			log.Error("mqtt subscribe failed", "topic", TopicControl(prefix), "err", token.Error())
		}
	})

	b.client = paho.NewClient(opts)
	if token := b.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt connect %s: %w", b.cfg.BrokerURL, token.Error())
	}
	log.Info("mqtt connected", "broker", b.cfg.BrokerURL, "prefix", prefix)

	go func() {
		<-ctx.Done()
		if token := b.client.Publish(TopicOnline(prefix), 1, true, "offline"); token.WaitTimeout(time.Second) && token.Error() != nil {
			log.Warn("mqtt offline publish failed", "err", token.Error())
		}
		b.client.Disconnect(250)
	}()
	return nil
}

func (b *Bridge) handleControl(c paho.Client, msg paho.Message) {
	cmd := ParseCommand(msg.Payload())
	reply := b.handler.Dispatch(cmd)
	if !reply.OK {
		log.Warn("mqtt control rejected", "payload", string(msg.Payload()), "err", reply.Error)
	}

	data, err := json.Marshal(reply)
	if err != nil {
		return
	}
	c.Publish(TopicReply(b.cfg.TopicPrefix), 0, false, data)
}

// ParseCommand accepts either a bare command word or {"cmd": "..."}.
func ParseCommand(payload []byte) string {
	s := strings.TrimSpace(string(payload))
	if strings.HasPrefix(s, "{") {
		var req struct {
			Cmd string `json:"cmd"`
		}
		if err := json.Unmarshal([]byte(s), &req); err == nil {
			return req.Cmd
		}
	}
	return s
}

// Notify implements session.Observer. Publishing is asynchronous so the
// control loop never waits on the broker.
func (b *Bridge) Notify(e session.Event) {
	if b.client == nil || !b.client.IsConnectionOpen() {
		return
	}
	data, err := json.Marshal(e.Record())
	if err != nil {
		log.Warn("mqtt encode event failed", "kind", e.Kind, "err", err)
		return
	}
	b.client.Publish(TopicEvent(b.cfg.TopicPrefix, e.Kind), 0, false, data)
}
