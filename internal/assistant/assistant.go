// Package assistant sends a finalized transcript to a hosted language model
// and returns its reply. Clients make exactly one round trip per call and
// never retry.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"
)

// DefaultPreamble is sent ahead of every transcript.
const DefaultPreamble = "You are Aria, a smart, witty, and polite personal assistant AI. " +
	"You are helpful, concise, and always respond as if you're speaking to your user personally. " +
	"You only answer briefly to all inquiries."

const DefaultTimeout = 15 * time.Second

// ErrTimeout matches any *Error caused by the call running out of time.
var ErrTimeout = errors.New("assistant: request timed out")

// Error is returned for every failed call. StatusCode is set for non-2xx
// responses; Reason describes parse failures.
type Error struct {
	Provider   string
	StatusCode int
	Reason     string
	Err        error
	timeout    bool
}

func (e *Error) Error() string {
	switch {
	case e.timeout:
		return fmt.Sprintf("%s: request timed out: %v", e.Provider, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Reason)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrTimeout && e.timeout }

// Timeout reports whether the call ran out of time.
func (e *Error) Timeout() bool { return e.timeout }

// transportError classifies a failure that happened before a response was
// read.
func transportError(provider string, err error) *Error {
	err = stripURL(err)

	timeout := errors.Is(err, context.DeadlineExceeded)
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		timeout = true
	}
	return &Error{Provider: provider, Reason: "request failed", Err: err, timeout: timeout}
}

// stripURL drops the request URL from err so an API key in the query string
// never ends up in logs.
func stripURL(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err
	}
	return err
}
