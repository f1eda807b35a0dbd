package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/danmuck/dccrelay/internal/protocol/frame"
	"github.com/danmuck/dccrelay/internal/protocol/packet"
	"github.com/danmuck/dccrelay/internal/protocol/schema"
)

var (
	errQuit        = errors.New("throttle: quit")
	errUnknownLine = errors.New("throttle: unknown command")
)

// parseLine turns one REPL line into the messages it sends. A line is
// either raw frames (`<t 1 3 40 1>`) or a kind name and its parameters
// (`throttle 1 3 40 1`).
func parseLine(registry *schema.Registry, line string) ([]packet.Message, error) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return nil, nil
	case line == "quit" || line == "exit":
		return nil, errQuit
	case strings.HasPrefix(line, string(frame.FrameStart)):
		return parseFrames(registry, line)
	}
	fields := strings.Fields(line)
	kind, ok := packet.ParseKind(fields[0])
	if !ok {
		return nil, fmt.Errorf("%w: %s", errUnknownLine, fields[0])
	}
	msg, err := registry.Build(kind, fields[1:]...)
	if err != nil {
		return nil, err
	}
	return []packet.Message{msg}, nil
}

func parseFrames(registry *schema.Registry, line string) ([]packet.Message, error) {
	r := frame.NewReader(strings.NewReader(line), frame.DefaultLimits())
	var out []packet.Message
	for {
		raw, err := r.ReadPacket()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("incomplete frame in %q", line)
		}
		msg, ok, err := registry.Resolve(raw)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: type %q", errUnknownLine, string(raw.Type()))
		}
		out = append(out, msg)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "enter raw frames like <t 1 3 40 1> or a kind and its parameters:")
	for k := packet.KindTurnoutList; k <= packet.KindPower; k++ {
		fmt.Fprintf(w, "  %s\n", k)
	}
	fmt.Fprintln(w, "help lists kinds, quit or ctrl-d exits")
}
