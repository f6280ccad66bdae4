// Package mock provides a test double for assistant clients.
//
// Set Reply or Err before use. Block makes Ask wait for its context, which
// is how tests exercise timeouts and cancellation.
package mock

import (
	"context"
	"sync"
)

// Client is a scripted assistant.
type Client struct {
	mu sync.Mutex

	Reply string
	Err   error
	Block bool

	// Calls records every transcript passed to Ask, in order.
	Calls []string
}

func (c *Client) Ask(ctx context.Context, transcript string) (string, error) {
	c.mu.Lock()
	c.Calls = append(c.Calls, transcript)
	reply, err, block := c.Reply, c.Err, c.Block
	c.mu.Unlock()

	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return reply, err
}

func (c *Client) Name() string { return "mock" }

// CallCount is safe to call while Ask runs.
func (c *Client) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Calls)
}

// LastCall returns the most recent transcript, or "" when never called.
func (c *Client) LastCall() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Calls) == 0 {
		return ""
	}
	return c.Calls[len(c.Calls)-1]
}
