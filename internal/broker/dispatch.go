package broker

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/danmuck/dccrelay/internal/protocol/frame"
	"github.com/danmuck/dccrelay/internal/protocol/schema"
)

type ListenerID uint64

type listenerEntry struct {
	id       ListenerID
	listener Listener
}

// listenerSet is copy-on-write: writers swap the slice, dispatch reads one
// immutable snapshot per packet.
type listenerSet struct {
	mu      sync.Mutex
	next    ListenerID
	entries atomic.Pointer[[]listenerEntry]
}

func (s *listenerSet) add(l Listener) ListenerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	cur := s.snapshot()
	out := make([]listenerEntry, 0, len(cur)+1)
	out = append(out, cur...)
	out = append(out, listenerEntry{id: s.next, listener: l})
	s.entries.Store(&out)
	return s.next
}

func (s *listenerSet) remove(id ListenerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.snapshot()
	out := make([]listenerEntry, 0, len(cur))
	for _, e := range cur {
		if e.id != id {
			out = append(out, e)
		}
	}
	s.entries.Store(&out)
}

func (s *listenerSet) snapshot() []listenerEntry {
	p := s.entries.Load()
	if p == nil {
		return nil
	}
	return *p
}

// endpoint is the state shared by every connection of one local broker.
type endpoint struct {
	name      string
	registry  *schema.Registry
	limits    frame.Limits
	listeners listenerSet

	ctx    context.Context
	cancel context.CancelFunc
}

func newEndpoint(name string, registry *schema.Registry) *endpoint {
	if registry == nil {
		registry = schema.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &endpoint{
		name:     name,
		registry: registry,
		limits:   frame.DefaultLimits(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// AddListener registers l behind every listener already present. Safe to
// call while packets are being dispatched.
func (e *endpoint) AddListener(l Listener) ListenerID {
	return e.listeners.add(l)
}

func (e *endpoint) RemoveListener(id ListenerID) {
	e.listeners.remove(id)
}

// Name is the label used in logs and metrics.
func (e *endpoint) Name() string {
	return e.name
}
