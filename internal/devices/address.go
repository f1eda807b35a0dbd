// Package devices maps protocol addresses onto device implementations.
package devices

import (
	"sync"

	"github.com/danmuck/dccrelay/internal/protocol/packet"
)

// NoRegistration is returned by ReverseLookup for unknown addresses.
const NoRegistration packet.RegistrationID = -1

// AddressRegistry is a bidirectional RegistrationID <-> Address table.
type AddressRegistry struct {
	mu     sync.RWMutex
	byID   map[packet.RegistrationID]packet.Address
	byAddr map[packet.Address]packet.RegistrationID
}

func NewAddressRegistry() *AddressRegistry {
	return &AddressRegistry{
		byID:   make(map[packet.RegistrationID]packet.Address),
		byAddr: make(map[packet.Address]packet.RegistrationID),
	}
}

// Define binds id to addr and reports whether anything changed. An address
// previously bound to another id moves to id.
func (r *AddressRegistry) Define(id packet.RegistrationID, addr packet.Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.byID[id]; ok {
		if cur == addr {
			return false
		}
		delete(r.byAddr, cur)
	}
	if prev, ok := r.byAddr[addr]; ok {
		delete(r.byID, prev)
	}
	r.byID[id] = addr
	r.byAddr[addr] = id
	return true
}

// Clear removes id's binding and reports whether one existed.
func (r *AddressRegistry) Clear(id packet.RegistrationID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	addr, ok := r.byID[id]
	if !ok {
		return false
	}
	delete(r.byID, id)
	delete(r.byAddr, addr)
	return true
}

func (r *AddressRegistry) Lookup(id packet.RegistrationID) (packet.Address, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	addr, ok := r.byID[id]
	return addr, ok
}

func (r *AddressRegistry) ReverseLookup(addr packet.Address) packet.RegistrationID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id, ok := r.byAddr[addr]; ok {
		return id
	}
	return NoRegistration
}

func (r *AddressRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
