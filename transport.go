package nss

import (
	"context"
	"net"

	"github.com/pkg/errors"
)

// Mode selects the transport a server or client speaks.
type Mode string

const (
	// Stream is a raw TCP byte stream carrying one request per connection.
	Stream Mode = "stream"
	// Message is a web socket carrying one text frame each way.
	Message Mode = "message"
)

// ParseMode converts a configuration value to a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case Stream, Message:
		return Mode(s), nil
	}
	return "", errors.Wrapf(ErrUnknownTransport, "%q", s)
}

// Transport is one connected peer, independent of the wire it uses.
// A Transport is not safe for concurrent Send or concurrent Receive calls;
// Close may be called from any goroutine and is idempotent.
type Transport interface {
	// Receive blocks until one complete message has arrived.
	Receive(ctx context.Context) (string, error)
	// Send writes one message.
	Send(ctx context.Context, text string) error
	// CloseWrite signals that no more messages will be sent.
	CloseWrite() error
	// Close closes the connection.
	Close() error
	// RemoteAddr returns the address of the peer.
	RemoteAddr() net.Addr
	// Mode reports which transport variant this is.
	Mode() Mode
}

// Listener accepts transports of a single mode.
type Listener interface {
	// Accept blocks until a peer connects, the context is done or the listener is closed.
	Accept(ctx context.Context) (Transport, error)
	// Addr returns the bound address.
	Addr() net.Addr
	// Close stops accepting. Safe to call multiple times.
	Close() error
}

// Listen binds a listener of the given mode on addr.
func Listen(mode Mode, addr string, opt ...TransportOption) (Listener, error) {
	opts := newTransportOptions(opt)

	switch mode {
	case Stream:
		return listenStream(addr, opts)
	case Message:
		return listenMessage(addr, opts)
	}
	return nil, errors.Wrapf(ErrUnknownTransport, "%q", mode)
}

// Dial connects to a peer listening on addr.
func Dial(ctx context.Context, mode Mode, addr string, opt ...TransportOption) (Transport, error) {
	opts := newTransportOptions(opt)

	switch mode {
	case Stream:
		return dialStream(ctx, addr, opts)
	case Message:
		return dialMessage(ctx, addr, opts)
	}
	return nil, errors.Wrapf(ErrUnknownTransport, "%q", mode)
}

// boundPort extracts the port number from a listener address.
func boundPort(addr net.Addr) int {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.Port
	}
	_, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return 0
	}
	p, _ := net.LookupPort("tcp", port)
	return p
}
