package packet

import (
	"fmt"
	"strconv"

	"github.com/danmuck/dccrelay/internal/protocol"
)

// MaxRegistrationID bounds registration ids to the range DCC++ stations store.
const MaxRegistrationID = 32767

// ValidationError reports malformed or out-of-range packet data. It
// unwraps to protocol.ErrValidation.
type ValidationError struct {
	Kind   Kind
	Char   byte
	Index  int
	Reason string
}

func (e ValidationError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("packet: type=%q kind=%s: %s", e.Char, e.Kind, e.Reason)
	}
	return fmt.Sprintf("packet: type=%q kind=%s param=%d: %s", e.Char, e.Kind, e.Index, e.Reason)
}

func (e ValidationError) Unwrap() error {
	return protocol.ErrValidation
}

func invalid(kind Kind, p Packet, index int, format string, args ...any) ValidationError {
	return ValidationError{
		Kind:   kind,
		Char:   p.Type(),
		Index:  index,
		Reason: fmt.Sprintf(format, args...),
	}
}

// fields decodes numeric parameters of one packet, keeping the first failure.
type fields struct {
	kind Kind
	p    Packet
	err  error
}

func decode(kind Kind, p Packet) *fields {
	return &fields{kind: kind, p: p}
}

func (f *fields) int(i, lo, hi int) int {
	if f.err != nil {
		return 0
	}
	raw, ok := f.p.Param(i)
	if !ok {
		f.err = invalid(f.kind, f.p, i, "missing required parameter")
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		f.err = invalid(f.kind, f.p, i, "not a number: %q", raw)
		return 0
	}
	if v < lo || v > hi {
		f.err = invalid(f.kind, f.p, i, "value %d out of range [%d,%d]", v, lo, hi)
		return 0
	}
	return v
}

func (f *fields) flag(i int) bool {
	return f.int(i, 0, 1) == 1
}

func (f *fields) id(i int) RegistrationID {
	return RegistrationID(f.int(i, 0, MaxRegistrationID))
}

func (f *fields) result(m Message) (Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	return m, nil
}
