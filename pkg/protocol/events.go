package protocol

import "aria/internal/session"

// Notify implements session.Observer by broadcasting the event to every
// shard on the hub.
func (p *Protocol) Notify(e session.Event) {
	msg, err := NewMessage(Broadcast, KindEvent, e.Record())
	if err != nil {
		return
	}
	p.Publish(msg)
}
