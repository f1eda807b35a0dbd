package station

import "github.com/danmuck/dccrelay/internal/protocol/packet"

// defineTable remembers the latest definition per id, in first-registration
// order.
type defineTable struct {
	order []packet.RegistrationID
	byID  map[packet.RegistrationID]packet.Definition
}

func newDefineTable() *defineTable {
	return &defineTable{byID: make(map[packet.RegistrationID]packet.Definition)}
}

func (t *defineTable) put(d packet.Definition) {
	if _, ok := t.byID[d.ID()]; !ok {
		t.order = append(t.order, d.ID())
	}
	t.byID[d.ID()] = d
}

func (t *defineTable) remove(id packet.RegistrationID) bool {
	if _, ok := t.byID[id]; !ok {
		return false
	}
	delete(t.byID, id)
	for i, v := range t.order {
		if v == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return true
}

func (t *defineTable) list() []packet.Definition {
	out := make([]packet.Definition, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.byID[id])
	}
	return out
}

func (t *defineTable) len() int {
	return len(t.order)
}
