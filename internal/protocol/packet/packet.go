// Package packet holds the DCC++ packet model: the raw type-char plus
// parameter value, the typed variants decoded from it and the builders
// that perform the decode.
//
// Every typed variant keeps the raw Packet it was decoded from (or
// constructed as), so Raw always returns the exact wire form and every
// accessor is a pure function of that raw value.
package packet

import (
	"strconv"
	"strings"
)

// Packet is one raw protocol message: a type char and its ordered
// parameter tokens. The zero value is not a valid packet.
type Packet struct {
	typ    byte
	params []string
}

// New builds a packet, copying params so later mutation of the caller's
// slice cannot reach the packet.
func New(typ byte, params ...string) Packet {
	cp := make([]string, len(params))
	copy(cp, params)
	return Packet{typ: typ, params: cp}
}

// Type returns the type char.
func (p Packet) Type() byte {
	return p.typ
}

// Len returns the parameter count.
func (p Packet) Len() int {
	return len(p.params)
}

// Param returns parameter i.
func (p Packet) Param(i int) (string, bool) {
	if i < 0 || i >= len(p.params) {
		return "", false
	}
	return p.params[i], true
}

// Params returns a copy of the parameter list.
func (p Packet) Params() []string {
	out := make([]string, len(p.params))
	copy(out, p.params)
	return out
}

// Equal reports whether both packets carry the same type char and parameters.
func (p Packet) Equal(o Packet) bool {
	if p.typ != o.typ || len(p.params) != len(o.params) {
		return false
	}
	for i := range p.params {
		if p.params[i] != o.params[i] {
			return false
		}
	}
	return true
}

// String renders the wire form, e.g. `<T 7 130 2>`.
func (p Packet) String() string {
	var b strings.Builder
	b.WriteByte('<')
	b.WriteByte(p.typ)
	for _, param := range p.params {
		b.WriteByte(' ')
		b.WriteString(param)
	}
	b.WriteByte('>')
	return b.String()
}

// Address is the two-part accessory decoder address. Sub is 0 when the
// device has no sub-address.
type Address struct {
	Main int
	Sub  int
}

func (a Address) String() string {
	return strconv.Itoa(a.Main) + "/" + strconv.Itoa(a.Sub)
}

// RegistrationID correlates one logical device across define/delete/query
// cycles, independent of its Address.
type RegistrationID int

func (id RegistrationID) String() string {
	return strconv.Itoa(int(id))
}

func itoa(v int) string {
	return strconv.Itoa(v)
}

func boolParam(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
