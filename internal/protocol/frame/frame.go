// Package frame implements the DCC++ `<T P1 P2 ...>` framing.
//
// The reader never fails on garbled input: it discards bytes until the next
// `<` and restarts a frame whenever a stray `<` shows up inside one. Only
// the underlying stream's errors are returned.
package frame

import (
	"bufio"
	"errors"
	"io"
	"sync"

	"github.com/danmuck/dccrelay/internal/protocol/packet"
)

const (
	FrameStart byte = '<'
	FrameEnd   byte = '>'
	Separator  byte = ' '
)

// Limits constrains per-frame decode memory.
type Limits struct {
	// MaxParamChars bounds the characters accumulated across all parameters
	// of one frame. Characters past the bound are dropped up to the closing `>`.
	MaxParamChars int
}

func DefaultLimits() Limits {
	return Limits{MaxParamChars: 20}
}

// Reader decodes packets from a byte stream.
type Reader struct {
	r      *bufio.Reader
	limits Limits
	buf    []byte
}

func NewReader(r io.Reader, limits Limits) *Reader {
	if limits.MaxParamChars <= 0 {
		limits = DefaultLimits()
	}
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &Reader{
		r:      br,
		limits: limits,
		buf:    make([]byte, 0, limits.MaxParamChars),
	}
}

// ReadPacket blocks until one complete frame is read. It returns io.EOF
// when the stream ends between frames and io.ErrUnexpectedEOF when it ends
// inside one.
func (r *Reader) ReadPacket() (packet.Packet, error) {
	for {
		b, err := r.r.ReadByte()
		if err != nil {
			return packet.Packet{}, err
		}
		if b != FrameStart {
			continue
		}
		p, ok, err := r.readBody()
		if err != nil {
			return packet.Packet{}, err
		}
		if ok {
			return p, nil
		}
	}
}

// readBody reads after a `<`. ok is false when the frame was abandoned and
// the caller should resynchronize.
func (r *Reader) readBody() (packet.Packet, bool, error) {
	var typ byte
	for {
		b, err := r.readInFrame()
		if err != nil {
			return packet.Packet{}, false, err
		}
		if isSpace(b) {
			continue
		}
		typ = b
		break
	}
	switch typ {
	case FrameEnd:
		return packet.Packet{}, false, nil
	case FrameStart:
		_ = r.r.UnreadByte()
		return packet.Packet{}, false, nil
	}

	r.buf = r.buf[:0]
	var params []string
	start := 0
	flush := func() {
		if len(r.buf) > start {
			params = append(params, string(r.buf[start:]))
		}
		start = len(r.buf)
	}
	for {
		b, err := r.readInFrame()
		if err != nil {
			return packet.Packet{}, false, err
		}
		switch {
		case b == FrameEnd:
			flush()
			return packet.New(typ, params...), true, nil
		case b == FrameStart:
			_ = r.r.UnreadByte()
			return packet.Packet{}, false, nil
		case isSpace(b):
			flush()
		case len(r.buf) < r.limits.MaxParamChars:
			r.buf = append(r.buf, b)
		}
	}
}

func (r *Reader) readInFrame() (byte, error) {
	b, err := r.r.ReadByte()
	if errors.Is(err, io.EOF) {
		return 0, io.ErrUnexpectedEOF
	}
	return b, err
}

func isSpace(b byte) bool {
	return b == Separator || b == '\t' || b == '\r' || b == '\n'
}

// Writer encodes packets onto a stream. Each packet is written with a
// single Write call under a mutex, so concurrent callers never interleave
// partial frames.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (w *Writer) WritePacket(p packet.Packet) error {
	buf := Append(nil, p)
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.w.Write(buf)
	return err
}

// Append appends the wire form of p to dst. Parameters are written
// verbatim; keeping them free of delimiters is the caller's job.
func Append(dst []byte, p packet.Packet) []byte {
	dst = append(dst, FrameStart, p.Type())
	for i := 0; i < p.Len(); i++ {
		param, _ := p.Param(i)
		dst = append(dst, Separator)
		dst = append(dst, param...)
	}
	return append(dst, FrameEnd)
}

// Encode returns the wire form of p.
func Encode(p packet.Packet) []byte {
	return Append(nil, p)
}
