package devices

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/dccrelay/internal/protocol/packet"
)

// Relay is an in-memory Switchable that logs every state change.
type Relay struct {
	name string
	addr packet.Address

	mu sync.Mutex
	on bool
}

func NewRelay(name string, addr packet.Address) *Relay {
	return &Relay{name: name, addr: addr}
}

func (r *Relay) Name() string { return r.name }

func (r *Relay) Address() (packet.Address, bool) { return r.addr, true }

func (r *Relay) SetState(on bool) {
	r.mu.Lock()
	changed := r.on != on
	r.on = on
	r.mu.Unlock()
	if changed {
		log.Info().Str("device", r.name).Str("address", r.addr.String()).Bool("on", on).Msg("output switched")
	}
}

func (r *Relay) State() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.on
}

// Contact is an in-memory Sensor driven by Set.
type Contact struct {
	name string
	addr packet.Address

	mu        sync.Mutex
	triggered bool
	watchers  []func(bool)
}

func NewContact(name string, addr packet.Address) *Contact {
	return &Contact{name: name, addr: addr}
}

func (c *Contact) Name() string { return c.name }

func (c *Contact) Address() (packet.Address, bool) { return c.addr, true }

func (c *Contact) Triggered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.triggered
}

func (c *Contact) Watch(fn func(bool)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.watchers = append(c.watchers, fn)
	c.mu.Unlock()
}

// Set changes the contact and notifies watchers when the value moved.
// Watchers run on the caller's goroutine.
func (c *Contact) Set(triggered bool) {
	c.mu.Lock()
	if c.triggered == triggered {
		c.mu.Unlock()
		return
	}
	c.triggered = triggered
	watchers := append(([]func(bool))(nil), c.watchers...)
	c.mu.Unlock()
	for _, fn := range watchers {
		fn(triggered)
	}
}
