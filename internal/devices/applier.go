package devices

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/dccrelay/internal/broker"
	"github.com/danmuck/dccrelay/internal/protocol/packet"
)

// Applier is a broker listener that drives registered devices from
// incoming packets and acknowledges each command with <O> or <X>.
type Applier struct {
	addrs   *AddressRegistry
	inputs  *InputRegistry
	outputs *OutputRegistry
}

func NewApplier(addrs *AddressRegistry, inputs *InputRegistry, outputs *OutputRegistry) *Applier {
	if addrs == nil {
		addrs = NewAddressRegistry()
	}
	if inputs == nil {
		inputs = NewInputRegistry()
	}
	if outputs == nil {
		outputs = NewOutputRegistry()
	}
	return &Applier{addrs: addrs, inputs: inputs, outputs: outputs}
}

func (a *Applier) Addresses() *AddressRegistry { return a.addrs }

func (a *Applier) Inputs() *InputRegistry { return a.inputs }

func (a *Applier) Outputs() *OutputRegistry { return a.outputs }

func (a *Applier) Receive(ctx context.Context, msg packet.Message, from broker.Broker, local broker.LocalBroker) error {
	switch m := msg.(type) {
	case packet.Definition:
		if a.addrs.Define(m.ID(), m.Address()) {
			log.Debug().Str("family", m.Family().String()).Int("id", int(m.ID())).Str("address", m.Address().String()).Msg("address defined")
		}
	case packet.Deletion:
		a.addrs.Clear(m.ID())
	case packet.Accessory:
		return a.drive(ctx, m.Address(), m.Active(), from, local)
	case packet.TurnoutThrow:
		return a.driveID(ctx, m.ID(), m.Thrown(), from, local)
	case packet.OutputSet:
		return a.driveID(ctx, m.ID(), m.Active(), from, local)
	}
	return nil
}

func (a *Applier) driveID(ctx context.Context, id packet.RegistrationID, on bool, from broker.Broker, local broker.LocalBroker) error {
	addr, ok := a.addrs.Lookup(id)
	if !ok {
		log.Debug().Int("id", int(id)).Msg("no address for registration")
		return local.Send(ctx, from, packet.NewFailure())
	}
	return a.drive(ctx, addr, on, from, local)
}

func (a *Applier) drive(ctx context.Context, addr packet.Address, on bool, from broker.Broker, local broker.LocalBroker) error {
	outs := a.outputs.Lookup(addr)
	if len(outs) == 0 {
		log.Debug().Str("address", addr.String()).Msg("no outputs at address")
		return local.Send(ctx, from, packet.NewFailure())
	}
	for _, sw := range outs {
		sw.SetState(on)
	}
	return local.Send(ctx, from, packet.NewSuccess())
}

// Report registers s and sends <Q id>/<q id> to to through local whenever
// s changes and its address has a registration.
func (a *Applier) Report(ctx context.Context, s Sensor, local broker.LocalBroker, to broker.Broker) error {
	if err := a.inputs.Register(s); err != nil {
		return err
	}
	addr, _ := s.Address()
	s.Watch(func(triggered bool) {
		id := a.addrs.ReverseLookup(addr)
		if id == NoRegistration {
			return
		}
		var msg packet.Message = packet.NewSensorInactive(id)
		if triggered {
			msg = packet.NewSensorActive(id)
		}
		if err := local.Send(ctx, to, msg); err != nil {
			log.Warn().Str("device", s.Name()).Err(err).Msg("sensor report failed")
		}
	})
	return nil
}
