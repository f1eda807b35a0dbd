// Package broker moves typed packets over TCP connections.
//
// A ClientBroker owns exactly one connection to a fixed counterpart. A
// ServerBroker accepts any number of inbound peers and dials peers it has no
// live connection to. Both run one listening loop per connection and deliver
// each decoded packet to their registered listeners in registration order.
package broker

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/danmuck/dccrelay/internal/protocol/packet"
)

var (
	ErrIO          = errors.New("broker: i/o failure")
	ErrUnsupported = errors.New("broker: unsupported operation")
	ErrClosed      = errors.New("broker: closed")
	ErrNoReceiver  = errors.New("broker: receiver required")
)

// Identity names a broker as a send target. Remote peers use their
// host:port.
type Identity string

// Counterpart addresses the single peer of a point-to-point broker.
const Counterpart Identity = "counterpart"

func (id Identity) String() string {
	return string(id)
}

// Broker is anything that can be named as a send target.
type Broker interface {
	Identity() Identity
}

// LocalBroker is a broker this process can send through.
type LocalBroker interface {
	Broker
	Send(ctx context.Context, to Broker, msg packet.Message) error
	AddListener(l Listener) ListenerID
	RemoveListener(id ListenerID)
}

// Remote is a bare identity usable as a send target.
type Remote Identity

func (r Remote) Identity() Identity {
	return Identity(r)
}

// Listener receives every packet a local broker decodes. Returning an
// I/O-class error (see IsIOError) tears the delivering connection down; any
// other error is logged and delivery continues.
type Listener interface {
	Receive(ctx context.Context, msg packet.Message, from Broker, local LocalBroker) error
}

type ListenerFunc func(ctx context.Context, msg packet.Message, from Broker, local LocalBroker) error

func (f ListenerFunc) Receive(ctx context.Context, msg packet.Message, from Broker, local LocalBroker) error {
	return f(ctx, msg, from, local)
}

// IsIOError reports whether err means the underlying stream is unusable.
func IsIOError(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrIO),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.ECONNRESET):
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
