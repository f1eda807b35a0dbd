// Package schema resolves raw packets into typed variants through an
// explicit registry of builders keyed by type char and by kind.
package schema

import (
	"fmt"
	"sync"

	"github.com/danmuck/dccrelay/internal/protocol"
	"github.com/danmuck/dccrelay/internal/protocol/packet"
	"github.com/rs/zerolog/log"
)

// Spec binds one type char and the kinds it can produce to a builder.
type Spec struct {
	Char  byte
	Kinds []packet.Kind
	Build packet.Builder
}

// Registry maps type chars and kinds to builders. Registration is
// rejected, never overwritten, when either key is already taken.
type Registry struct {
	mu     sync.RWMutex
	byChar map[byte]packet.Builder
	byKind map[packet.Kind]packet.Builder
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		byChar: make(map[byte]packet.Builder),
		byKind: make(map[packet.Kind]packet.Builder),
	}
}

// Default returns a registry with every DCC++ packet kind registered.
func Default() *Registry {
	r := New()
	for _, spec := range Standard() {
		if err := r.Register(spec); err != nil {
			panic(err)
		}
	}
	return r
}

// Standard lists the stock packet specs.
func Standard() []Spec {
	return []Spec{
		{packet.CharTurnout, []packet.Kind{packet.KindTurnoutList, packet.KindTurnoutDelete, packet.KindTurnoutThrow, packet.KindTurnoutDefine}, packet.BuildTurnout},
		{packet.CharSensor, []packet.Kind{packet.KindSensorList, packet.KindSensorDelete, packet.KindSensorDefine}, packet.BuildSensor},
		{packet.CharOutput, []packet.Kind{packet.KindOutputList, packet.KindOutputDelete, packet.KindOutputSet, packet.KindOutputDefine}, packet.BuildOutput},
		{packet.CharSensorState, []packet.Kind{packet.KindSensorStateList, packet.KindSensorActive, packet.KindSensorStateData}, packet.BuildSensorState},
		{packet.CharSensorInactive, []packet.Kind{packet.KindSensorInactive}, packet.BuildSensorInactive},
		{packet.CharAccessory, []packet.Kind{packet.KindAccessory}, packet.BuildAccessory},
		{packet.CharThrottle, []packet.Kind{packet.KindThrottle}, packet.BuildThrottle},
		{packet.CharFunction, []packet.Kind{packet.KindFunction}, packet.BuildFunction},
		{packet.CharSuccess, []packet.Kind{packet.KindSuccess}, packet.BuildSuccess},
		{packet.CharFailure, []packet.Kind{packet.KindFailure}, packet.BuildFailure},
		{packet.CharReadCurrent, []packet.Kind{packet.KindReadCurrent}, packet.BuildReadCurrent},
		{packet.CharReadStationState, []packet.Kind{packet.KindReadStationState}, packet.BuildReadStationState},
		{packet.CharInfo, []packet.Kind{packet.KindInfo}, packet.BuildInfo},
		{packet.CharPower, []packet.Kind{packet.KindPower}, packet.BuildPower},
	}
}

// Register adds spec. Nothing is registered when the char or any of the
// kinds is already present.
func (r *Registry) Register(spec Spec) error {
	if spec.Build == nil {
		return fmt.Errorf("schema: nil builder for type %q", spec.Char)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byChar[spec.Char]; ok {
		return fmt.Errorf("%w: type %q", protocol.ErrAlreadyRegistered, spec.Char)
	}
	for _, kind := range spec.Kinds {
		if _, ok := r.byKind[kind]; ok {
			return fmt.Errorf("%w: kind %s", protocol.ErrAlreadyRegistered, kind)
		}
	}
	r.byChar[spec.Char] = spec.Build
	for _, kind := range spec.Kinds {
		r.byKind[kind] = spec.Build
	}
	return nil
}

// Resolve decodes raw through the builder registered for its type char.
// An unregistered char yields ok=false with a nil error; builder
// validation errors are returned unchanged.
func (r *Registry) Resolve(raw packet.Packet) (packet.Message, bool, error) {
	r.mu.RLock()
	build, ok := r.byChar[raw.Type()]
	r.mu.RUnlock()
	if !ok {
		log.Debug().Str("type", string(raw.Type())).Msg("schema.Resolve unregistered type")
		return nil, false, nil
	}
	msg, err := build(raw)
	if err != nil {
		return nil, false, err
	}
	return msg, true, nil
}

// Build constructs a message of the given kind from params. It fails when
// the params select a different member of the kind's family.
func (r *Registry) Build(kind packet.Kind, params ...string) (packet.Message, error) {
	r.mu.RLock()
	build, ok := r.byKind[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", protocol.ErrUnknownKind, kind)
	}
	msg, err := build(packet.New(kind.Char(), params...))
	if err != nil {
		return nil, err
	}
	if msg.Kind() != kind {
		return nil, packet.ValidationError{
			Kind:   kind,
			Char:   kind.Char(),
			Index:  -1,
			Reason: fmt.Sprintf("%d params resolve to %s", len(params), msg.Kind()),
		}
	}
	return msg, nil
}

// Registered reports whether a builder exists for char.
func (r *Registry) Registered(char byte) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byChar[char]
	return ok
}
