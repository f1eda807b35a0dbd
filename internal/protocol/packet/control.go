package packet

const (
	MaxCab          = 10293
	MaxSpeed        = 126
	EmergencySpeed  = -1
	MaxThrottleSlot = 255
)

// Accessory switches a stationary decoder output: `<a ADDRESS SUB ACTIVATE>`.
type Accessory struct {
	base
	addr   Address
	active bool
}

func (Accessory) Kind() Kind { return KindAccessory }
func (m Accessory) Address() Address { return m.addr }
func (m Accessory) Active() bool { return m.active }

func NewAccessory(addr Address, active bool) Accessory {
	raw := New(CharAccessory, itoa(addr.Main), itoa(addr.Sub), boolParam(active))
	return Accessory{base: base{raw}, addr: addr, active: active}
}

func BuildAccessory(p Packet) (Message, error) {
	f := decode(KindAccessory, p)
	m := Accessory{base: base{p}}
	m.addr.Main = f.int(0, 0, MaxAccessoryAddress)
	m.addr.Sub = f.int(1, 0, MaxAccessorySubAddress)
	m.active = f.flag(2)
	return f.result(m)
}

// Throttle sets engine speed and direction: `<t REGISTER CAB SPEED DIRECTION>`.
type Throttle struct {
	base
	register int
	cab      int
	speed    int
	forward  bool
}

func (Throttle) Kind() Kind { return KindThrottle }
func (m Throttle) Register() int { return m.register }
func (m Throttle) Cab() int { return m.cab }
func (m Throttle) Speed() int { return m.speed }
func (m Throttle) Forward() bool { return m.forward }

// EmergencyStop reports the -1 speed step.
func (m Throttle) EmergencyStop() bool { return m.speed == EmergencySpeed }

func NewThrottle(register, cab, speed int, forward bool) Throttle {
	raw := New(CharThrottle, itoa(register), itoa(cab), itoa(speed), boolParam(forward))
	return Throttle{base: base{raw}, register: register, cab: cab, speed: speed, forward: forward}
}

func BuildThrottle(p Packet) (Message, error) {
	f := decode(KindThrottle, p)
	m := Throttle{base: base{p}}
	m.register = f.int(0, 0, MaxThrottleSlot)
	m.cab = f.int(1, 0, MaxCab)
	m.speed = f.int(2, EmergencySpeed, MaxSpeed)
	m.forward = f.flag(3)
	return f.result(m)
}

// Success is the `<O>` acknowledgement.
type Success struct{ base }

func (Success) Kind() Kind { return KindSuccess }

func NewSuccess() Success { return Success{base{New(CharSuccess)}} }

func BuildSuccess(p Packet) (Message, error) { return Success{base{p}}, nil }

// Failure is the `<X>` acknowledgement.
type Failure struct{ base }

func (Failure) Kind() Kind { return KindFailure }

func NewFailure() Failure { return Failure{base{New(CharFailure)}} }

func BuildFailure(p Packet) (Message, error) { return Failure{base{p}}, nil }

// ReadCurrent is the `<c>` track current query, or `<c VALUE>` reading.
type ReadCurrent struct {
	base
	value    int
	hasValue bool
}

func (ReadCurrent) Kind() Kind { return KindReadCurrent }

// Value returns the reading and false for a bare query.
func (m ReadCurrent) Value() (int, bool) { return m.value, m.hasValue }

// Query reports a bare `<c>`.
func (m ReadCurrent) Query() bool { return !m.hasValue }

func NewReadCurrentQuery() ReadCurrent {
	return ReadCurrent{base: base{New(CharReadCurrent)}}
}

func NewReadCurrent(value int) ReadCurrent {
	return ReadCurrent{base: base{New(CharReadCurrent, itoa(value))}, value: value, hasValue: true}
}

func BuildReadCurrent(p Packet) (Message, error) {
	if p.Len() == 0 {
		return ReadCurrent{base: base{p}}, nil
	}
	f := decode(KindReadCurrent, p)
	m := ReadCurrent{base: base{p}, value: f.int(0, 0, 1<<16), hasValue: true}
	return f.result(m)
}

// ReadStationState is the `<s>` query.
type ReadStationState struct{ base }

func (ReadStationState) Kind() Kind { return KindReadStationState }

func NewReadStationState() ReadStationState {
	return ReadStationState{base{New(CharReadStationState)}}
}

func BuildReadStationState(p Packet) (Message, error) {
	return ReadStationState{base{p}}, nil
}

// Info carries free-form station identification tokens.
type Info struct{ base }

func (Info) Kind() Kind { return KindInfo }
func (m Info) Tokens() []string { return m.raw.Params() }

func NewInfo(tokens ...string) Info { return Info{base{New(CharInfo, tokens...)}} }

func BuildInfo(p Packet) (Message, error) { return Info{base{p}}, nil }

// Power reports track power: `<p STATE>`.
type Power struct {
	base
	on bool
}

func (Power) Kind() Kind { return KindPower }
func (m Power) On() bool { return m.on }

func NewPower(on bool) Power {
	return Power{base: base{New(CharPower, boolParam(on))}, on: on}
}

func BuildPower(p Packet) (Message, error) {
	f := decode(KindPower, p)
	m := Power{base: base{p}, on: f.flag(0)}
	return f.result(m)
}
