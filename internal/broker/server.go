package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/danmuck/dccrelay/internal/protocol/frame"
	"github.com/danmuck/dccrelay/internal/protocol/packet"
	"github.com/danmuck/dccrelay/internal/protocol/schema"
)

// AcceptHook runs for each inbound connection before it becomes visible to
// senders. Writes made through c reach the peer ahead of any other traffic.
// A hook error rejects the connection.
type AcceptHook func(ctx context.Context, c *Conn) error

type Dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

type ServerOption func(*ServerBroker)

// WithAcceptGate serializes accept hooks and table insertion with any other
// holder of gate.
func WithAcceptGate(gate sync.Locker) ServerOption {
	return func(b *ServerBroker) {
		if gate != nil {
			b.gate = gate
		}
	}
}

func WithAcceptHook(h AcceptHook) ServerOption {
	return func(b *ServerBroker) {
		if h != nil {
			b.hooks = append(b.hooks, h)
		}
	}
}

func WithDialer(d Dialer) ServerOption {
	return func(b *ServerBroker) {
		if d != nil {
			b.dialer = d
		}
	}
}

func WithFrameLimits(l frame.Limits) ServerOption {
	return func(b *ServerBroker) {
		b.limits = l
	}
}

// ServerBroker is a multi-peer broker keyed by remote identity.
type ServerBroker struct {
	*endpoint
	gate   sync.Locker
	hooks  []AcceptHook
	dialer Dialer

	mu       sync.RWMutex
	conns    map[Identity]*Conn
	identity Identity
	ln       net.Listener

	dials  singleflight.Group
	closed atomic.Bool
}

func NewServerBroker(name string, registry *schema.Registry, opts ...ServerOption) *ServerBroker {
	b := &ServerBroker{
		endpoint: newEndpoint(name, registry),
		gate:     &sync.Mutex{},
		dialer:   &net.Dialer{Timeout: 5 * time.Second},
		conns:    make(map[Identity]*Conn),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *ServerBroker) Identity() Identity {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.identity
}

// Addr is the bound listen address, nil before Serve.
func (b *ServerBroker) Addr() net.Addr {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.ln == nil {
		return nil
	}
	return b.ln.Addr()
}

// Serve accepts peers on ln until ctx is done or the broker is closed.
func (b *ServerBroker) Serve(ctx context.Context, ln net.Listener) error {
	if b.closed.Load() {
		_ = ln.Close()
		return ErrClosed
	}
	b.mu.Lock()
	b.ln = ln
	b.identity = Identity(ln.Addr().String())
	b.mu.Unlock()
	defer ln.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = b.Close()
		case <-stop:
		}
	}()

	log.Info().Str("side", b.name).Str("addr", ln.Addr().String()).Msg("listening")
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || b.closed.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go b.admit(ctx, nc)
	}
}

// admit runs the accept hooks and publishes the connection while holding
// the gate.
func (b *ServerBroker) admit(ctx context.Context, nc net.Conn) {
	remote := Identity(nc.RemoteAddr().String())
	c := newConn(b.ctx, nc, remote, b.endpoint, b, b.forget)

	b.gate.Lock()
	defer b.gate.Unlock()
	for _, hook := range b.hooks {
		if err := hook(ctx, c); err != nil {
			log.Warn().Str("side", b.name).Str("peer", string(remote)).Err(err).Msg("accept hook rejected peer")
			_ = c.Close()
			return
		}
	}
	if !b.publish(c) {
		_ = c.Close()
		return
	}
	log.Info().Str("side", b.name).Str("peer", string(remote)).Str("conn_id", c.ID()).Msg("peer connected")
	c.start()
}

// publish inserts c, replacing any previous connection to the same peer.
func (b *ServerBroker) publish(c *Conn) bool {
	b.mu.Lock()
	if b.closed.Load() {
		b.mu.Unlock()
		return false
	}
	prev := b.conns[c.Remote()]
	b.conns[c.Remote()] = c
	b.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
	return true
}

// forget drops c from the table if it is still the live entry.
func (b *ServerBroker) forget(c *Conn, _ error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conns[c.Remote()] == c {
		delete(b.conns, c.Remote())
	}
}

// Peers lists the identities with a live connection.
func (b *ServerBroker) Peers() []Identity {
	b.mu.RLock()
	out := make([]Identity, 0, len(b.conns))
	for id := range b.conns {
		out = append(out, id)
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (b *ServerBroker) Conn(id Identity) (*Conn, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.conns[id]
	return c, ok
}

// Send writes msg to the peer named by to, dialing it first when there is
// no live connection. A failed write closes and forgets the connection and
// returns the error; the next Send dials again.
func (b *ServerBroker) Send(ctx context.Context, to Broker, msg packet.Message) error {
	if to == nil {
		return fmt.Errorf("%w: %s", ErrNoReceiver, b.name)
	}
	if b.closed.Load() {
		return ErrClosed
	}
	c, err := b.connFor(ctx, to.Identity())
	if err != nil {
		return err
	}
	if err := c.Write(msg); err != nil {
		b.forget(c, err)
		_ = c.Close()
		return err
	}
	return nil
}

func (b *ServerBroker) connFor(ctx context.Context, id Identity) (*Conn, error) {
	if c, ok := b.Conn(id); ok {
		return c, nil
	}
	v, err, _ := b.dials.Do(string(id), func() (any, error) {
		if c, ok := b.Conn(id); ok {
			return c, nil
		}
		nc, err := b.dialer.DialContext(ctx, "tcp", string(id))
		if err != nil {
			return nil, fmt.Errorf("%w: dial %s: %w", ErrIO, id, err)
		}
		c := newConn(b.ctx, nc, id, b.endpoint, b, b.forget)
		if !b.publish(c) {
			_ = c.Close()
			return nil, ErrClosed
		}
		log.Info().Str("side", b.name).Str("peer", string(id)).Str("conn_id", c.ID()).Msg("peer dialed")
		c.start()
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Conn), nil
}

// Close stops accepting, closes every connection and waits for their loops.
func (b *ServerBroker) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	b.cancel()
	b.mu.Lock()
	ln := b.ln
	conns := make([]*Conn, 0, len(b.conns))
	for _, c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	var err error
	if ln != nil {
		if cerr := ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	}
	for _, c := range conns {
		_ = c.Close()
	}
	for _, c := range conns {
		<-c.Done()
	}
	return err
}
