package devices

import (
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/dccrelay/internal/protocol/packet"
)

var (
	ErrDeviceRequired  = errors.New("devices: device required")
	ErrAddressRequired = errors.New("devices: address required")
	ErrAddressTaken    = errors.New("devices: address already owned")
)

// Device is anything placed at a protocol address. ok is false when the
// device has not been given one.
type Device interface {
	Name() string
	Address() (addr packet.Address, ok bool)
}

// Switchable is a two-state output such as a turnout motor or a relay.
type Switchable interface {
	Device
	SetState(on bool)
	State() bool
}

// Sensor is a two-state input. Watch registers fn to run on every change.
type Sensor interface {
	Device
	Triggered() bool
	Watch(fn func(triggered bool))
}

func addressOf(d Device) (packet.Address, error) {
	if d == nil {
		return packet.Address{}, ErrDeviceRequired
	}
	addr, ok := d.Address()
	if !ok {
		return packet.Address{}, fmt.Errorf("%w: %s", ErrAddressRequired, d.Name())
	}
	return addr, nil
}

// InputRegistry maps each address to exactly one sensor.
type InputRegistry struct {
	mu     sync.RWMutex
	byAddr map[packet.Address]Sensor
}

func NewInputRegistry() *InputRegistry {
	return &InputRegistry{byAddr: make(map[packet.Address]Sensor)}
}

func (r *InputRegistry) Register(s Sensor) error {
	addr, err := addressOf(s)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.byAddr[addr]; ok && cur != s {
		return fmt.Errorf("%w: %s held by %s", ErrAddressTaken, addr, cur.Name())
	}
	r.byAddr[addr] = s
	return nil
}

func (r *InputRegistry) Remove(s Sensor) (bool, error) {
	addr, err := addressOf(s)
	if err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byAddr[addr] != s {
		return false, nil
	}
	delete(r.byAddr, addr)
	return true, nil
}

func (r *InputRegistry) ClearAddress(addr packet.Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byAddr[addr]
	delete(r.byAddr, addr)
	return ok
}

func (r *InputRegistry) Lookup(addr packet.Address) (Sensor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byAddr[addr]
	return s, ok
}

// OutputRegistry maps each address to the set of outputs it drives.
type OutputRegistry struct {
	mu     sync.RWMutex
	byAddr map[packet.Address][]Switchable
}

func NewOutputRegistry() *OutputRegistry {
	return &OutputRegistry{byAddr: make(map[packet.Address][]Switchable)}
}

// Register adds sw to its address. Registering the same device twice is a
// no-op.
func (r *OutputRegistry) Register(sw Switchable) error {
	addr, err := addressOf(sw)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cur := range r.byAddr[addr] {
		if cur == sw {
			return nil
		}
	}
	r.byAddr[addr] = append(r.byAddr[addr], sw)
	return nil
}

func (r *OutputRegistry) Remove(sw Switchable) (bool, error) {
	addr, err := addressOf(sw)
	if err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.byAddr[addr]
	for i, cur := range set {
		if cur != sw {
			continue
		}
		set = append(set[:i:i], set[i+1:]...)
		if len(set) == 0 {
			delete(r.byAddr, addr)
		} else {
			r.byAddr[addr] = set
		}
		return true, nil
	}
	return false, nil
}

// ClearAddress drops every output at addr and returns how many there were.
func (r *OutputRegistry) ClearAddress(addr packet.Address) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.byAddr[addr])
	delete(r.byAddr, addr)
	return n
}

// Lookup returns a copy of the outputs at addr.
func (r *OutputRegistry) Lookup(addr packet.Address) []Switchable {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Switchable(nil), r.byAddr[addr]...)
}
