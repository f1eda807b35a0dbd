package main

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/dccrelay/internal/protocol"
	"github.com/danmuck/dccrelay/internal/protocol/packet"
	"github.com/danmuck/dccrelay/internal/protocol/schema"
	"github.com/danmuck/dccrelay/internal/testutil/testlog"
)

func TestParseLineRawFrames(t *testing.T) {
	testlog.Start(t)

	msgs, err := parseLine(schema.Default(), "<t 1 3 40 1> noise <T 7 1>")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Kind() != packet.KindThrottle || msgs[1].Kind() != packet.KindTurnoutThrow {
		t.Fatalf("unexpected kinds: %s %s", msgs[0].Kind(), msgs[1].Kind())
	}
}

func TestParseLineKindCommand(t *testing.T) {
	testlog.Start(t)

	msgs, err := parseLine(schema.Default(), "  turnout.define 7 130 2 ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Raw().String() != "<T 7 130 2>" {
		t.Fatalf("unexpected messages: %v", msgs)
	}

	if _, err := parseLine(schema.Default(), "turnout.define 7"); err == nil {
		t.Fatalf("expected kind mismatch error")
	}
	if _, err := parseLine(schema.Default(), "throttle 1 3 999 1"); !errors.Is(err, protocol.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestParseLineControlWords(t *testing.T) {
	testlog.Start(t)

	if msgs, err := parseLine(schema.Default(), "   "); err != nil || msgs != nil {
		t.Fatalf("blank line: %v %v", msgs, err)
	}
	if _, err := parseLine(schema.Default(), "quit"); !errors.Is(err, errQuit) {
		t.Fatalf("expected errQuit, got %v", err)
	}
	if _, err := parseLine(schema.Default(), "warp 9"); !errors.Is(err, errUnknownLine) {
		t.Fatalf("expected errUnknownLine, got %v", err)
	}
	if _, err := parseLine(schema.Default(), "<t 1 3"); err == nil {
		t.Fatalf("expected incomplete frame error")
	}
	if _, err := parseLine(schema.Default(), "<y 1>"); !errors.Is(err, errUnknownLine) {
		t.Fatalf("expected unknown type error, got %v", err)
	}
}

func TestUsageListsKinds(t *testing.T) {
	testlog.Start(t)

	var buf bytes.Buffer
	usage(&buf)
	for _, name := range []string{"turnout.throw", "throttle", "power"} {
		if !strings.Contains(buf.String(), name) {
			t.Fatalf("usage missing %s:\n%s", name, buf.String())
		}
	}
}

// scriptedLines hands out lines one per call from next.
type scriptedLines struct {
	next  chan string
	calls atomic.Int32
}

func (s *scriptedLines) readLine(string) (string, error) {
	s.calls.Add(1)
	line, ok := <-s.next
	if !ok {
		return "", io.EOF
	}
	return line, nil
}

func TestReadLinesStopsWhenREPLExits(t *testing.T) {
	testlog.Start(t)

	src := &scriptedLines{next: make(chan string)}
	stopped := make(chan struct{})
	lines, readErr := readLines(src, stopped)

	src.next <- "power 1"
	select {
	case line := <-lines:
		if line != "power 1" {
			t.Fatalf("unexpected line %q", line)
		}
	case <-time.After(time.Second):
		t.Fatalf("line never delivered")
	}

	// The reader now holds a line nobody will take.
	src.next <- "power 0"
	close(stopped)
	time.Sleep(50 * time.Millisecond)
	if got := src.calls.Load(); got != 2 {
		t.Fatalf("reader kept reading after stop: %d calls", got)
	}
	select {
	case err := <-readErr:
		t.Fatalf("unexpected read error %v", err)
	default:
	}
}
