package packet

// Builder decodes one raw packet into its typed variant.
type Builder func(Packet) (Message, error)

const (
	MaxAccessoryAddress    = 511
	MaxAccessorySubAddress = 3
	MaxPin                 = 255
	MaxOutputFlags         = 7
)

// Turnout family (`T`).

type TurnoutList struct{ base }

func (TurnoutList) Kind() Kind { return KindTurnoutList }

type TurnoutDelete struct {
	base
	id RegistrationID
}

func (TurnoutDelete) Kind() Kind { return KindTurnoutDelete }
func (m TurnoutDelete) ID() RegistrationID { return m.id }
func (TurnoutDelete) Family() Family { return FamilyTurnout }

type TurnoutThrow struct {
	base
	id     RegistrationID
	thrown bool
}

func (TurnoutThrow) Kind() Kind { return KindTurnoutThrow }
func (m TurnoutThrow) ID() RegistrationID { return m.id }
func (m TurnoutThrow) Thrown() bool { return m.thrown }

type TurnoutDefine struct {
	base
	id   RegistrationID
	addr Address
}

func (TurnoutDefine) Kind() Kind { return KindTurnoutDefine }
func (m TurnoutDefine) ID() RegistrationID { return m.id }
func (m TurnoutDefine) Address() Address { return m.addr }
func (TurnoutDefine) Family() Family { return FamilyTurnout }

func NewTurnoutList() TurnoutList {
	return TurnoutList{base{New(CharTurnout)}}
}

func NewTurnoutDelete(id RegistrationID) TurnoutDelete {
	return TurnoutDelete{base: base{New(CharTurnout, id.String())}, id: id}
}

func NewTurnoutThrow(id RegistrationID, thrown bool) TurnoutThrow {
	return TurnoutThrow{base: base{New(CharTurnout, id.String(), boolParam(thrown))}, id: id, thrown: thrown}
}

func NewTurnoutDefine(id RegistrationID, addr Address) TurnoutDefine {
	raw := New(CharTurnout, id.String(), itoa(addr.Main), itoa(addr.Sub))
	return TurnoutDefine{base: base{raw}, id: id, addr: addr}
}

// BuildTurnout resolves the turnout family by parameter count.
func BuildTurnout(p Packet) (Message, error) {
	switch p.Len() {
	case 0:
		return TurnoutList{base{p}}, nil
	case 1:
		f := decode(KindTurnoutDelete, p)
		m := TurnoutDelete{base: base{p}, id: f.id(0)}
		return f.result(m)
	case 2:
		f := decode(KindTurnoutThrow, p)
		m := TurnoutThrow{base: base{p}, id: f.id(0), thrown: f.flag(1)}
		return f.result(m)
	default:
		f := decode(KindTurnoutDefine, p)
		m := TurnoutDefine{base: base{p}, id: f.id(0), addr: Address{
			Main: f.int(1, 0, MaxAccessoryAddress),
			Sub:  f.int(2, 0, MaxAccessorySubAddress),
		}}
		return f.result(m)
	}
}

// Sensor family (`S`).

type SensorList struct{ base }

func (SensorList) Kind() Kind { return KindSensorList }

type SensorDelete struct {
	base
	id RegistrationID
}

func (SensorDelete) Kind() Kind { return KindSensorDelete }
func (m SensorDelete) ID() RegistrationID { return m.id }
func (SensorDelete) Family() Family { return FamilySensor }

type SensorDefine struct {
	base
	id     RegistrationID
	pin    int
	pullup bool
}

func (SensorDefine) Kind() Kind { return KindSensorDefine }
func (m SensorDefine) ID() RegistrationID { return m.id }
func (m SensorDefine) Pin() int { return m.pin }
func (m SensorDefine) Pullup() bool { return m.pullup }
func (m SensorDefine) Address() Address { return Address{Main: m.pin} }
func (SensorDefine) Family() Family { return FamilySensor }

func NewSensorList() SensorList {
	return SensorList{base{New(CharSensor)}}
}

func NewSensorDelete(id RegistrationID) SensorDelete {
	return SensorDelete{base: base{New(CharSensor, id.String())}, id: id}
}

func NewSensorDefine(id RegistrationID, pin int, pullup bool) SensorDefine {
	raw := New(CharSensor, id.String(), itoa(pin), boolParam(pullup))
	return SensorDefine{base: base{raw}, id: id, pin: pin, pullup: pullup}
}

// BuildSensor resolves the sensor family by parameter count. One or two
// parameters are both a delete; the second is ignored.
func BuildSensor(p Packet) (Message, error) {
	switch p.Len() {
	case 0:
		return SensorList{base{p}}, nil
	case 1, 2:
		f := decode(KindSensorDelete, p)
		m := SensorDelete{base: base{p}, id: f.id(0)}
		return f.result(m)
	default:
		f := decode(KindSensorDefine, p)
		m := SensorDefine{base: base{p}, id: f.id(0), pin: f.int(1, 0, MaxPin), pullup: f.flag(2)}
		return f.result(m)
	}
}

// Output pin family (`Z`).

type OutputList struct{ base }

func (OutputList) Kind() Kind { return KindOutputList }

type OutputDelete struct {
	base
	id RegistrationID
}

func (OutputDelete) Kind() Kind { return KindOutputDelete }
func (m OutputDelete) ID() RegistrationID { return m.id }
func (OutputDelete) Family() Family { return FamilyOutput }

type OutputSet struct {
	base
	id     RegistrationID
	active bool
}

func (OutputSet) Kind() Kind { return KindOutputSet }
func (m OutputSet) ID() RegistrationID { return m.id }
func (m OutputSet) Active() bool { return m.active }

type OutputDefine struct {
	base
	id    RegistrationID
	pin   int
	flags int
}

func (OutputDefine) Kind() Kind { return KindOutputDefine }
func (m OutputDefine) ID() RegistrationID { return m.id }
func (m OutputDefine) Pin() int { return m.pin }
func (m OutputDefine) Flags() int { return m.flags }
func (m OutputDefine) Address() Address { return Address{Main: m.pin} }
func (OutputDefine) Family() Family { return FamilyOutput }

// Inverted reports flag bit 0: the pin is driven low for an active state.
func (m OutputDefine) Inverted() bool { return m.flags&0x01 != 0 }

func NewOutputList() OutputList {
	return OutputList{base{New(CharOutput)}}
}

func NewOutputDelete(id RegistrationID) OutputDelete {
	return OutputDelete{base: base{New(CharOutput, id.String())}, id: id}
}

func NewOutputSet(id RegistrationID, active bool) OutputSet {
	return OutputSet{base: base{New(CharOutput, id.String(), boolParam(active))}, id: id, active: active}
}

func NewOutputDefine(id RegistrationID, pin, flags int) OutputDefine {
	raw := New(CharOutput, id.String(), itoa(pin), itoa(flags))
	return OutputDefine{base: base{raw}, id: id, pin: pin, flags: flags}
}

// BuildOutput resolves the output pin family by parameter count.
func BuildOutput(p Packet) (Message, error) {
	switch p.Len() {
	case 0:
		return OutputList{base{p}}, nil
	case 1:
		f := decode(KindOutputDelete, p)
		m := OutputDelete{base: base{p}, id: f.id(0)}
		return f.result(m)
	case 2:
		f := decode(KindOutputSet, p)
		m := OutputSet{base: base{p}, id: f.id(0), active: f.flag(1)}
		return f.result(m)
	default:
		f := decode(KindOutputDefine, p)
		m := OutputDefine{base: base{p}, id: f.id(0), pin: f.int(1, 0, MaxPin), flags: f.int(2, 0, MaxOutputFlags)}
		return f.result(m)
	}
}

// Sensor-state family (`Q`) and the inactive notification (`q`).

type SensorStateList struct{ base }

func (SensorStateList) Kind() Kind { return KindSensorStateList }

type SensorActive struct {
	base
	id RegistrationID
}

func (SensorActive) Kind() Kind { return KindSensorActive }
func (m SensorActive) ID() RegistrationID { return m.id }

type SensorStateData struct {
	base
	id        RegistrationID
	pin       int
	pullup    bool
	hasPullup bool
}

func (SensorStateData) Kind() Kind { return KindSensorStateData }
func (m SensorStateData) ID() RegistrationID { return m.id }
func (m SensorStateData) Pin() int { return m.pin }

// Pullup returns the pull-up flag and whether the packet carried one.
func (m SensorStateData) Pullup() (bool, bool) { return m.pullup, m.hasPullup }

type SensorInactive struct {
	base
	id RegistrationID
}

func (SensorInactive) Kind() Kind { return KindSensorInactive }
func (m SensorInactive) ID() RegistrationID { return m.id }

func NewSensorStateList() SensorStateList {
	return SensorStateList{base{New(CharSensorState)}}
}

func NewSensorActive(id RegistrationID) SensorActive {
	return SensorActive{base: base{New(CharSensorState, id.String())}, id: id}
}

func NewSensorStateData(id RegistrationID, pin int, pullup bool) SensorStateData {
	raw := New(CharSensorState, id.String(), itoa(pin), boolParam(pullup))
	return SensorStateData{base: base{raw}, id: id, pin: pin, pullup: pullup, hasPullup: true}
}

func NewSensorInactive(id RegistrationID) SensorInactive {
	return SensorInactive{base: base{New(CharSensorInactive, id.String())}, id: id}
}

// BuildSensorState resolves the sensor-state family by parameter count.
func BuildSensorState(p Packet) (Message, error) {
	switch p.Len() {
	case 0:
		return SensorStateList{base{p}}, nil
	case 1:
		f := decode(KindSensorActive, p)
		m := SensorActive{base: base{p}, id: f.id(0)}
		return f.result(m)
	default:
		f := decode(KindSensorStateData, p)
		m := SensorStateData{base: base{p}, id: f.id(0), pin: f.int(1, 0, MaxPin)}
		if p.Len() > 2 {
			m.pullup = f.flag(2)
			m.hasPullup = true
		}
		return f.result(m)
	}
}

func BuildSensorInactive(p Packet) (Message, error) {
	f := decode(KindSensorInactive, p)
	m := SensorInactive{base: base{p}, id: f.id(0)}
	return f.result(m)
}
