package packet

import (
	"errors"
	"testing"

	"github.com/danmuck/dccrelay/internal/protocol"
	"github.com/danmuck/dccrelay/internal/testutil/testlog"
)

func TestPacketIsImmutable(t *testing.T) {
	testlog.Start(t)

	params := []string{"7", "130", "2"}
	p := New('T', params...)
	params[0] = "99"
	if got, _ := p.Param(0); got != "7" {
		t.Fatalf("constructor aliased caller slice: %q", got)
	}

	out := p.Params()
	out[1] = "1"
	if got, _ := p.Param(1); got != "130" {
		t.Fatalf("Params leaked internal slice: %q", got)
	}
	if p.String() != "<T 7 130 2>" {
		t.Fatalf("unexpected wire form: %s", p)
	}
}

func TestFamilyDispatchByParameterCount(t *testing.T) {
	testlog.Start(t)

	params := []string{"1", "2", "1", "1"}
	cases := []struct {
		name  string
		build Builder
		char  byte
		want  [5]Kind
	}{
		{"turnout", BuildTurnout, CharTurnout, [5]Kind{KindTurnoutList, KindTurnoutDelete, KindTurnoutThrow, KindTurnoutDefine, KindTurnoutDefine}},
		{"sensor", BuildSensor, CharSensor, [5]Kind{KindSensorList, KindSensorDelete, KindSensorDelete, KindSensorDefine, KindSensorDefine}},
		{"output", BuildOutput, CharOutput, [5]Kind{KindOutputList, KindOutputDelete, KindOutputSet, KindOutputDefine, KindOutputDefine}},
		{"sensor_state", BuildSensorState, CharSensorState, [5]Kind{KindSensorStateList, KindSensorActive, KindSensorStateData, KindSensorStateData, KindSensorStateData}},
	}
	for _, tc := range cases {
		for n := 0; n <= 4; n++ {
			m, err := tc.build(New(tc.char, params[:n]...))
			if err != nil {
				t.Fatalf("%s with %d params: %v", tc.name, n, err)
			}
			if m.Kind() != tc.want[n] {
				t.Fatalf("%s with %d params: got %s want %s", tc.name, n, m.Kind(), tc.want[n])
			}
			if m.Kind().Char() != tc.char {
				t.Fatalf("%s kind %s has char %q", tc.name, m.Kind(), m.Kind().Char())
			}
		}
	}
}

func TestTurnoutDefineAccessors(t *testing.T) {
	testlog.Start(t)

	m, err := BuildTurnout(New('T', "7", "130", "2"))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	def, ok := m.(TurnoutDefine)
	if !ok {
		t.Fatalf("expected TurnoutDefine, got %T", m)
	}
	if def.ID() != 7 || def.Address() != (Address{Main: 130, Sub: 2}) || def.Family() != FamilyTurnout {
		t.Fatalf("unexpected define: id=%d addr=%s family=%s", def.ID(), def.Address(), def.Family())
	}
	if !def.Raw().Equal(NewTurnoutDefine(7, Address{Main: 130, Sub: 2}).Raw()) {
		t.Fatalf("typed constructor disagrees with decode: %s", def.Raw())
	}
}

func TestConstructorsDecodeToSameVariant(t *testing.T) {
	testlog.Start(t)

	fn, err := NewFunction(3, 144)
	if err != nil {
		t.Fatalf("function: %v", err)
	}
	msgs := []Message{
		NewTurnoutList(), NewTurnoutDelete(4), NewTurnoutThrow(4, true), NewTurnoutDefine(4, Address{Main: 10, Sub: 1}),
		NewSensorList(), NewSensorDelete(5), NewSensorDefine(5, 22, true),
		NewOutputList(), NewOutputDelete(6), NewOutputSet(6, true), NewOutputDefine(6, 33, 1),
		NewSensorStateList(), NewSensorActive(5), NewSensorStateData(5, 22, false), NewSensorInactive(5),
		NewAccessory(Address{Main: 12, Sub: 3}, true), NewThrottle(1, 3, 50, true), fn,
		NewSuccess(), NewFailure(), NewReadCurrentQuery(), NewReadCurrent(120), NewReadStationState(),
		NewInfo("DCCpp", "relay"), NewPower(true),
	}
	builders := map[byte]Builder{
		CharTurnout: BuildTurnout, CharSensor: BuildSensor, CharOutput: BuildOutput,
		CharSensorState: BuildSensorState, CharSensorInactive: BuildSensorInactive,
		CharAccessory: BuildAccessory, CharThrottle: BuildThrottle, CharFunction: BuildFunction,
		CharSuccess: BuildSuccess, CharFailure: BuildFailure, CharReadCurrent: BuildReadCurrent,
		CharReadStationState: BuildReadStationState, CharInfo: BuildInfo, CharPower: BuildPower,
	}
	for _, in := range msgs {
		out, err := builders[in.Raw().Type()](in.Raw())
		if err != nil {
			t.Fatalf("%s: %v", in.Raw(), err)
		}
		if out.Kind() != in.Kind() || !out.Raw().Equal(in.Raw()) {
			t.Fatalf("%s decoded to %s %s", in.Raw(), out.Kind(), out.Raw())
		}
	}
}

func TestValidationErrors(t *testing.T) {
	testlog.Start(t)

	cases := []struct {
		name  string
		build Builder
		p     Packet
		index int
	}{
		{"turnout address out of range", BuildTurnout, New('T', "1", "512", "0"), 1},
		{"turnout sub out of range", BuildTurnout, New('T', "1", "5", "4"), 2},
		{"throw not a flag", BuildTurnout, New('T', "1", "2"), 1},
		{"id not a number", BuildOutput, New('Z', "abc"), 0},
		{"throttle speed", BuildThrottle, New('t', "1", "3", "127", "1"), 2},
		{"throttle missing direction", BuildThrottle, New('t', "1", "3", "10"), 3},
		{"accessory missing", BuildAccessory, New('a'), 0},
		{"inactive missing id", BuildSensorInactive, New('q'), 0},
		{"power flag", BuildPower, New('p', "2"), 0},
	}
	for _, tc := range cases {
		m, err := tc.build(tc.p)
		if !errors.Is(err, protocol.ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
		if m != nil {
			t.Fatalf("%s: expected no message on error, got %T", tc.name, m)
		}
		var ve ValidationError
		if !errors.As(err, &ve) || ve.Index != tc.index {
			t.Fatalf("%s: unexpected validation detail: %+v", tc.name, ve)
		}
	}
}

func TestThrottleEmergencyStop(t *testing.T) {
	testlog.Start(t)

	m, err := BuildThrottle(New('t', "2", "1234", "-1", "0"))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	th := m.(Throttle)
	if !th.EmergencyStop() || th.Forward() || th.Cab() != 1234 {
		t.Fatalf("unexpected throttle: %+v", th)
	}
}

func TestSensorStateDataOptionalPullup(t *testing.T) {
	testlog.Start(t)

	m, err := BuildSensorState(New('Q', "5", "22"))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, ok := m.(SensorStateData).Pullup(); ok {
		t.Fatalf("expected pullup absent")
	}
	m, err = BuildSensorState(New('Q', "5", "22", "1"))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if v, ok := m.(SensorStateData).Pullup(); !ok || !v {
		t.Fatalf("expected pullup present and set")
	}
}

func TestParseKindRoundTrip(t *testing.T) {
	testlog.Start(t)

	for k, name := range kindNames {
		got, ok := ParseKind(name)
		if !ok || got != k {
			t.Fatalf("ParseKind(%q) = %v %v", name, got, ok)
		}
	}
	if _, ok := ParseKind("unknown"); ok {
		t.Fatalf("unknown should not parse")
	}
}
