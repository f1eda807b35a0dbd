package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/dccrelay/internal/observability"
	"github.com/danmuck/dccrelay/internal/protocol/frame"
	"github.com/danmuck/dccrelay/internal/protocol/packet"
)

type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateFaulted
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateFaulted:
		return "faulted"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is one framed TCP stream plus its listening loop.
type Conn struct {
	id     xid.ID
	remote Identity
	nc     net.Conn
	ep     *endpoint
	local  LocalBroker
	reader *frame.Reader
	writer *frame.Writer
	logger zerolog.Logger

	state       atomic.Int32
	ctx         context.Context
	cancel      context.CancelFunc
	onTerminate func(*Conn, error)

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
	err       error
}

func newConn(parent context.Context, nc net.Conn, remote Identity, ep *endpoint, local LocalBroker, onTerminate func(*Conn, error)) *Conn {
	ctx, cancel := context.WithCancel(parent)
	id := xid.New()
	c := &Conn{
		id:          id,
		remote:      remote,
		nc:          nc,
		ep:          ep,
		local:       local,
		reader:      frame.NewReader(nc, ep.limits),
		writer:      frame.NewWriter(nc),
		ctx:         ctx,
		cancel:      cancel,
		onTerminate: onTerminate,
		done:        make(chan struct{}),
		logger: log.With().
			Str("side", ep.name).
			Str("peer", string(remote)).
			Str("conn_id", id.String()).
			Logger(),
	}
	c.state.Store(int32(StateConnecting))
	observability.RecordConnectionOpened(ep.name)
	return c
}

func (c *Conn) ID() string {
	return c.id.String()
}

func (c *Conn) Remote() Identity {
	return c.remote
}

func (c *Conn) State() State {
	return State(c.state.Load())
}

// Done is closed once the loop has ended and the stream is released.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns what ended the loop. Valid after Done is closed.
func (c *Conn) Err() error {
	<-c.done
	return c.err
}

// Write frames msg onto the stream. Concurrent writes never interleave.
func (c *Conn) Write(msg packet.Message) error {
	switch c.State() {
	case StateConnecting, StateOpen:
	default:
		return fmt.Errorf("%w: %s is %s", ErrClosed, c.remote, c.State())
	}
	if err := c.writer.WritePacket(msg.Raw()); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrIO, c.remote, err)
	}
	return nil
}

// SetWriteDeadline bounds every Write until it is reset with the zero time.
func (c *Conn) SetWriteDeadline(t time.Time) error {
	return c.nc.SetWriteDeadline(t)
}

// Close interrupts the loop and releases the stream. It does not wait for
// the loop to finish; use Done for that.
func (c *Conn) Close() error {
	c.state.CompareAndSwap(int32(StateConnecting), int32(StateClosing))
	c.state.CompareAndSwap(int32(StateOpen), int32(StateClosing))
	err := c.nc.Close()
	c.cancel()
	// A loop that never started cannot observe the closed stream.
	c.startOnce.Do(func() { c.terminate(ErrClosed) })
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// start launches the listening loop. It does nothing once Close has run.
func (c *Conn) start() {
	c.startOnce.Do(func() {
		c.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen))
		go c.listen()
	})
}

func (c *Conn) listen() {
	c.logger.Debug().Msg("listening")
	var cause error
	defer func() { c.terminate(cause) }()
	for {
		raw, err := c.reader.ReadPacket()
		if err != nil {
			cause = err
			return
		}
		msg, ok, err := c.ep.registry.Resolve(raw)
		if err != nil {
			c.logger.Warn().Err(err).Str("type", string(raw.Type())).Msg("dropping invalid packet")
			observability.RecordPacketDropped(c.ep.name, "invalid")
			continue
		}
		if !ok {
			c.logger.Debug().Str("type", string(raw.Type())).Msg("dropping unrecognized packet")
			observability.RecordPacketDropped(c.ep.name, "unknown")
			continue
		}
		observability.RecordPacketReceived(c.ep.name, msg.Kind().String())
		if err := c.dispatch(msg); err != nil {
			cause = err
			return
		}
	}
}

// dispatch hands msg to every listener in registration order. Only an
// I/O-class failure stops delivery and is returned.
func (c *Conn) dispatch(msg packet.Message) error {
	from := Remote(c.remote)
	for _, e := range c.ep.listeners.snapshot() {
		err := e.listener.Receive(c.ctx, msg, from, c.local)
		if err == nil {
			continue
		}
		if IsIOError(err) {
			observability.RecordListenerFailure(c.ep.name, true)
			return fmt.Errorf("broker: listener %d: %w", e.id, err)
		}
		observability.RecordListenerFailure(c.ep.name, false)
		c.logger.Warn().Err(err).Uint64("listener", uint64(e.id)).Str("kind", msg.Kind().String()).Msg("listener failed")
	}
	return nil
}

func (c *Conn) terminate(cause error) {
	c.closeOnce.Do(func() {
		faulted := c.State() != StateClosing && cause != nil && !errors.Is(cause, io.EOF)
		if faulted {
			c.state.Store(int32(StateFaulted))
		} else {
			c.state.Store(int32(StateClosing))
		}
		_ = c.nc.Close()
		c.cancel()
		c.err = cause

		ev := c.logger.Debug()
		if faulted {
			ev = c.logger.Warn()
		}
		ev.Err(cause).Str("state", c.State().String()).Msg("connection ended")
		observability.RecordConnectionClosed(c.ep.name, faulted)

		c.state.Store(int32(StateClosed))
		if c.onTerminate != nil {
			c.onTerminate(c, cause)
		}
		close(c.done)
	})
}
