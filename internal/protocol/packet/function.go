package packet

import (
	"fmt"
	"sort"

	"github.com/danmuck/dccrelay/internal/protocol"
)

// Function block selectors carried in the first data byte.
const (
	FunctionBlockF0F4Min   = 128
	FunctionBlockF0F4Max   = 159
	FunctionBlockF9F12Min  = 160
	FunctionBlockF9F12Max  = 175
	FunctionBlockF5F8Min   = 176
	FunctionBlockF5F8Max   = 190
	FunctionBlockF13F20    = 222
	FunctionBlockF21F28    = 223
	functionHeadlightMask  = 0x10
	functionLowNibbleWidth = 4
)

// Function sets one block of train functions: `<f CAB BYTE1 [BYTE2]>`.
type Function struct {
	base
	cab    int
	states map[int]bool
}

func (Function) Kind() Kind { return KindFunction }
func (m Function) Cab() int { return m.cab }

// State returns the decoded state of function id. Asking for a function
// the packet's block does not carry is an error, not false.
func (m Function) State(id int) (bool, error) {
	v, ok := m.states[id]
	if !ok {
		return false, fmt.Errorf("%w: F%d not carried by %s", protocol.ErrFunctionNotDecoded, id, m.raw)
	}
	return v, nil
}

// Functions returns the decoded function ids in ascending order.
func (m Function) Functions() []int {
	ids := make([]int, 0, len(m.states))
	for id := range m.states {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// States returns a copy of the decoded id -> state mapping.
func (m Function) States() map[int]bool {
	out := make(map[int]bool, len(m.states))
	for id, v := range m.states {
		out[id] = v
	}
	return out
}

// NewFunction builds a single-byte function packet. It fails when the byte
// does not select a single-byte block.
func NewFunction(cab, data int) (Function, error) {
	return buildFunctionTyped(New(CharFunction, itoa(cab), itoa(data)))
}

// NewFunctionExtended builds a two-byte packet for the F13-F20 (222) or
// F21-F28 (223) blocks.
func NewFunctionExtended(cab, selector, data int) (Function, error) {
	return buildFunctionTyped(New(CharFunction, itoa(cab), itoa(selector), itoa(data)))
}

func buildFunctionTyped(p Packet) (Function, error) {
	m, err := BuildFunction(p)
	if err != nil {
		return Function{}, err
	}
	return m.(Function), nil
}

func BuildFunction(p Packet) (Message, error) {
	f := decode(KindFunction, p)
	cab := f.int(0, 0, MaxCab)
	first := f.int(1, 0, 255)
	if f.err != nil {
		return nil, f.err
	}

	states := make(map[int]bool, 8)
	switch {
	case first >= FunctionBlockF0F4Min && first <= FunctionBlockF0F4Max:
		// F0 is active-low in bit 4; F1-F4 follow in bits 0-3.
		states[0] = first&functionHeadlightMask == 0
		setBits(states, 1, first, functionLowNibbleWidth)
	case first >= FunctionBlockF9F12Min && first <= FunctionBlockF9F12Max:
		setBits(states, 9, first, functionLowNibbleWidth)
	case first >= FunctionBlockF5F8Min && first <= FunctionBlockF5F8Max:
		setBits(states, 5, first, functionLowNibbleWidth)
	case first == FunctionBlockF13F20 || first == FunctionBlockF21F28:
		second := f.int(2, 0, 255)
		if f.err != nil {
			return nil, f.err
		}
		offset := 13
		if first == FunctionBlockF21F28 {
			offset = 21
		}
		setBits(states, offset, second, 8)
	default:
		return nil, invalid(KindFunction, p, 1, "byte %d selects no function block", first)
	}
	return Function{base: base{p}, cab: cab, states: states}, nil
}

func setBits(states map[int]bool, offset, data, width int) {
	for bit := 0; bit < width; bit++ {
		states[offset+bit] = data&(1<<bit) != 0
	}
}
