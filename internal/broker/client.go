package broker

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/dccrelay/internal/protocol/packet"
	"github.com/danmuck/dccrelay/internal/protocol/schema"
)

var ErrAddressRequired = errors.New("broker: address required")

type ClientConfig struct {
	Name           string
	Address        string
	ConnectTimeout time.Duration
	// MaxAttempts bounds dial attempts; zero retries until ctx is done.
	MaxAttempts int
	Backoff     BackoffConfig
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Name:           "client",
		ConnectTimeout: 5 * time.Second,
		Backoff:        DefaultBackoff(),
	}
}

func (c ClientConfig) withDefaults() ClientConfig {
	def := DefaultClientConfig()
	if strings.TrimSpace(c.Name) == "" {
		c.Name = def.Name
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.Backoff == (BackoffConfig{}) {
		c.Backoff = def.Backoff
	}
	return c
}

// ClientBroker is a point-to-point broker bound to one counterpart.
type ClientBroker struct {
	*endpoint
	cfg ClientConfig
	rng *rand.Rand

	mu         sync.RWMutex
	conn       *Conn
	connecting bool
	identity   Identity
	done       chan struct{}
}

// NewClientBroker prepares a broker; listeners added before Connect see
// every packet the counterpart sends.
func NewClientBroker(cfg ClientConfig, registry *schema.Registry) *ClientBroker {
	cfg = cfg.withDefaults()
	return &ClientBroker{
		endpoint: newEndpoint(cfg.Name, registry),
		cfg:      cfg,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		done:     make(chan struct{}),
	}
}

// Connect dials the counterpart, retrying with backoff, and starts the
// listening loop.
func (b *ClientBroker) Connect(ctx context.Context) error {
	addr := strings.TrimSpace(b.cfg.Address)
	if addr == "" {
		return ErrAddressRequired
	}
	b.mu.Lock()
	if b.conn != nil || b.connecting {
		b.mu.Unlock()
		return fmt.Errorf("%w: already connecting to %s", ErrUnsupported, addr)
	}
	b.connecting = true
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.connecting = false
		b.mu.Unlock()
	}()

	var attempt int
	for {
		attempt++
		nc, err := b.dial(ctx, addr)
		if err == nil {
			b.attach(nc, Identity(addr))
			return nil
		}
		log.Warn().Str("side", b.name).Int("attempt", attempt).Str("addr", addr).Err(err).Msg("dial failed")
		if b.cfg.MaxAttempts > 0 && attempt >= b.cfg.MaxAttempts {
			return fmt.Errorf("%w: dial %s: %w", ErrIO, addr, err)
		}
		if err := b.sleepBackoff(ctx, attempt); err != nil {
			return err
		}
	}
}

func (b *ClientBroker) dial(ctx context.Context, addr string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: b.cfg.ConnectTimeout}
	return dialer.DialContext(ctx, "tcp", addr)
}

func (b *ClientBroker) sleepBackoff(ctx context.Context, attempt int) error {
	timer := time.NewTimer(b.cfg.Backoff.Delay(attempt, b.rng))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (b *ClientBroker) attach(nc net.Conn, remote Identity) {
	c := newConn(b.ctx, nc, remote, b.endpoint, b, func(*Conn, error) {
		close(b.done)
	})
	b.mu.Lock()
	b.conn = c
	b.identity = Identity(nc.LocalAddr().String())
	b.mu.Unlock()
	log.Info().Str("side", b.name).Str("peer", string(remote)).Str("conn_id", c.ID()).Msg("connected")
	c.start()
}

// Identity is the local end of the connection, empty before Connect.
func (b *ClientBroker) Identity() Identity {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.identity
}

// Peer is the counterpart as seen by listeners.
func (b *ClientBroker) Peer() Broker {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.conn == nil {
		return Remote(Counterpart)
	}
	return Remote(b.conn.Remote())
}

// Send writes msg to the counterpart. to may be nil, Counterpart or the
// counterpart's own identity; anything else is ErrUnsupported.
func (b *ClientBroker) Send(ctx context.Context, to Broker, msg packet.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	c := b.conn
	b.mu.RUnlock()
	if c == nil {
		return fmt.Errorf("%w: not connected", ErrClosed)
	}
	if to != nil {
		id := to.Identity()
		if id != Counterpart && id != c.Remote() {
			return fmt.Errorf("%w: %s is not the counterpart %s", ErrUnsupported, id, c.Remote())
		}
	}
	return c.Write(msg)
}

// Done is closed when the connection has ended.
func (b *ClientBroker) Done() <-chan struct{} {
	return b.done
}

// Wait parks until the connection ends or ctx is done, and returns what
// ended the connection.
func (b *ClientBroker) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
	}
	b.mu.RLock()
	c := b.conn
	b.mu.RUnlock()
	return c.Err()
}

// Close ends the connection and waits for its loop. Safe to call before
// Connect; must not be called from a listener.
func (b *ClientBroker) Close() error {
	b.cancel()
	b.mu.RLock()
	c := b.conn
	b.mu.RUnlock()
	if c == nil {
		return nil
	}
	err := c.Close()
	<-c.Done()
	return err
}
