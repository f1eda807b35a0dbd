package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/danmuck/dccrelay/internal/broker"
	"github.com/danmuck/dccrelay/internal/config"
	"github.com/danmuck/dccrelay/internal/devices"
	"github.com/danmuck/dccrelay/internal/protocol/packet"
)

// board holds the devices built from an accessory config.
type board struct {
	applier  *devices.Applier
	contacts map[int]*devices.Contact
}

func newBoard(cfg config.AccessoryConfig) (*board, error) {
	b := &board{
		applier:  devices.NewApplier(nil, nil, nil),
		contacts: make(map[int]*devices.Contact, len(cfg.Sensors)),
	}
	for _, o := range cfg.Outputs {
		relay := devices.NewRelay(o.Name, packet.Address{Main: o.Address, Sub: o.Sub})
		if err := b.applier.Outputs().Register(relay); err != nil {
			return nil, fmt.Errorf("output %s: %w", o.Name, err)
		}
	}
	for _, s := range cfg.Sensors {
		b.contacts[s.Pin] = devices.NewContact(s.Name, packet.Address{Main: s.Pin})
	}
	return b, nil
}

// report wires every contact to send its changes through local.
func (b *board) report(ctx context.Context, local broker.LocalBroker) error {
	for _, c := range b.contacts {
		if err := b.applier.Report(ctx, c, local, broker.Remote(broker.Counterpart)); err != nil {
			return fmt.Errorf("sensor %s: %w", c.Name(), err)
		}
	}
	return nil
}

// simulate applies a `PIN 0|1` line to the contact on PIN.
func (b *board) simulate(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	if len(fields) != 2 {
		return fmt.Errorf("expected `PIN 0|1`, got %q", line)
	}
	pin, err := strconv.Atoi(fields[0])
	if err != nil {
		return fmt.Errorf("bad pin %q", fields[0])
	}
	c, ok := b.contacts[pin]
	if !ok {
		return fmt.Errorf("no sensor on pin %d", pin)
	}
	switch fields[1] {
	case "0":
		c.Set(false)
	case "1":
		c.Set(true)
	default:
		return fmt.Errorf("bad state %q", fields[1])
	}
	return nil
}
