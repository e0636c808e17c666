// Package transport moves Janus JSON messages over one physical channel.
// The Connection only ever talks to the Adapter interface; the concrete
// websocket or unixdgram adapter is chosen once, by Connect.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/PedroDosS/janode/protocol"
)

// ErrTransportClosed is returned when you try to send on a transport that
// is not open. Named errors like this let callers check the exact cause
// with errors.Is() instead of comparing raw strings.
var ErrTransportClosed = errors.New("transport closed")

// ErrNotImplemented is the base error of the fallback adapter installed
// when no transport matches the configured URL scheme.
var ErrNotImplemented = errors.New("transport does not implement")

// DisconnectReason tells the connection layer why a transport closed.
// This is what decides between a graceful CONNECTION_CLOSED and an
// unexpected CONNECTION_ERROR.
type DisconnectReason int

const (
	ReasonUnknown      DisconnectReason = iota // catch-all, should be rare
	ReasonNetworkError                         // underlying connection failed
	ReasonTimeout                              // liveness probe missed its deadline
	ReasonClosedClean                          // graceful shutdown by either side
)

// DisconnectEvent is sent on the channel returned by Disconnected().
type DisconnectEvent struct {
	Reason DisconnectReason
	Err    error // nil on clean close, populated on errors
}

// Clean reports whether the transport went away gracefully.
func (e DisconnectEvent) Clean() bool {
	return e.Reason == ReasonClosedClean
}

// Adapter is the contract every transport must satisfy.
type Adapter interface {
	// Open establishes the channel, walking the configured addresses with
	// retries. It returns once a server accepted us or the retry budget
	// is spent.
	Open(ctx context.Context) error

	// Send encodes req as JSON and writes it once. Returns
	// ErrTransportClosed if the transport is not open.
	Send(req protocol.Request) error

	// Receive returns a channel that emits decoded inbound messages.
	// The channel is closed when the transport closes.
	Receive() <-chan protocol.Message

	// Disconnected returns a channel that emits exactly one
	// DisconnectEvent when the transport closes, for any reason.
	Disconnected() <-chan DisconnectEvent

	// RemoteHostname names the endpoint currently connected to: the URL
	// host for WebSocket, the socket path for unix datagrams.
	RemoteHostname() string

	// Close shuts down the transport. A close during an open retry
	// aborts the retry loop. Safe to call multiple times.
	Close() error
}

// Unsupported is the fallback adapter for unrecognized URL schemes.
// Every operation fails; nothing is ever delivered.
type Unsupported struct {
	Scheme string
}

func (u *Unsupported) opError(op string) error {
	return fmt.Errorf("%w %s (scheme %q)", ErrNotImplemented, op, u.Scheme)
}

func (u *Unsupported) Open(context.Context) error { return u.opError("open") }

func (u *Unsupported) Send(protocol.Request) error { return u.opError("send") }

func (u *Unsupported) Receive() <-chan protocol.Message {
	ch := make(chan protocol.Message)
	close(ch)
	return ch
}

func (u *Unsupported) Disconnected() <-chan DisconnectEvent {
	ch := make(chan DisconnectEvent)
	close(ch)
	return ch
}

func (u *Unsupported) RemoteHostname() string { return "" }

func (u *Unsupported) Close() error { return u.opError("close") }
