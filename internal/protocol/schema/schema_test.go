package schema

import (
	"errors"
	"testing"

	"github.com/danmuck/dccrelay/internal/protocol"
	"github.com/danmuck/dccrelay/internal/protocol/packet"
	"github.com/danmuck/dccrelay/internal/testutil/testlog"
)

func TestRegisterDuplicateCharRejected(t *testing.T) {
	testlog.Start(t)

	r := New()
	spec := Spec{Char: 'T', Kinds: []packet.Kind{packet.KindTurnoutDefine}, Build: packet.BuildTurnout}
	if err := r.Register(spec); err != nil {
		t.Fatalf("register: %v", err)
	}
	err := r.Register(Spec{Char: 'T', Build: packet.BuildSensor})
	if !errors.Is(err, protocol.ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}

	msg, ok, err := r.Resolve(packet.New('T', "1", "2", "3"))
	if err != nil || !ok || msg.Kind() != packet.KindTurnoutDefine {
		t.Fatalf("original builder replaced: ok=%v err=%v", ok, err)
	}
}

func TestRegisterDuplicateKindRejectsWholeSpec(t *testing.T) {
	testlog.Start(t)

	r := New()
	if err := r.Register(Spec{Char: 'T', Kinds: []packet.Kind{packet.KindTurnoutDefine}, Build: packet.BuildTurnout}); err != nil {
		t.Fatalf("register: %v", err)
	}
	err := r.Register(Spec{Char: 'x', Kinds: []packet.Kind{packet.KindTurnoutDefine}, Build: packet.BuildTurnout})
	if !errors.Is(err, protocol.ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
	if r.Registered('x') {
		t.Fatalf("rejected spec left its char registered")
	}
}

func TestResolveUnregisteredIsNotAnError(t *testing.T) {
	testlog.Start(t)

	r := Default()
	msg, ok, err := r.Resolve(packet.New('W', "1"))
	if err != nil || ok || msg != nil {
		t.Fatalf("expected no packet, got msg=%v ok=%v err=%v", msg, ok, err)
	}
}

func TestResolvePropagatesValidationErrors(t *testing.T) {
	testlog.Start(t)

	r := Default()
	_, ok, err := r.Resolve(packet.New('f', "3", "100"))
	if ok || !errors.Is(err, protocol.ErrValidation) {
		t.Fatalf("expected validation error, got ok=%v err=%v", ok, err)
	}
}

func TestResolveEveryStandardChar(t *testing.T) {
	testlog.Start(t)

	r := Default()
	inputs := []struct {
		raw  packet.Packet
		kind packet.Kind
	}{
		{packet.New('T', "7", "130", "2"), packet.KindTurnoutDefine},
		{packet.New('S', "5", "22", "1"), packet.KindSensorDefine},
		{packet.New('Z', "6", "1"), packet.KindOutputSet},
		{packet.New('Q', "5"), packet.KindSensorActive},
		{packet.New('q', "5"), packet.KindSensorInactive},
		{packet.New('a', "12", "3", "1"), packet.KindAccessory},
		{packet.New('t', "1", "3", "50", "1"), packet.KindThrottle},
		{packet.New('f', "3", "128"), packet.KindFunction},
		{packet.New('O'), packet.KindSuccess},
		{packet.New('X'), packet.KindFailure},
		{packet.New('c'), packet.KindReadCurrent},
		{packet.New('s'), packet.KindReadStationState},
		{packet.New('i', "DCCpp"), packet.KindInfo},
		{packet.New('p', "1"), packet.KindPower},
	}
	for _, in := range inputs {
		msg, ok, err := r.Resolve(in.raw)
		if err != nil || !ok {
			t.Fatalf("%s: ok=%v err=%v", in.raw, ok, err)
		}
		if msg.Kind() != in.kind {
			t.Fatalf("%s: got %s want %s", in.raw, msg.Kind(), in.kind)
		}
	}
}

func TestBuildByKind(t *testing.T) {
	testlog.Start(t)

	r := Default()
	msg, err := r.Build(packet.KindTurnoutThrow, "4", "1")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !msg.(packet.TurnoutThrow).Thrown() {
		t.Fatalf("expected thrown")
	}

	_, err = r.Build(packet.KindTurnoutDefine, "4", "1")
	if !errors.Is(err, protocol.ErrValidation) {
		t.Fatalf("expected family mismatch rejected, got %v", err)
	}
	_, err = New().Build(packet.KindPower, "1")
	if !errors.Is(err, protocol.ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}
