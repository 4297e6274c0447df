package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// ErrFrameTooLarge is reported by Err when a length prefixed frame announces more
// bytes than the frame capacity can hold.
var ErrFrameTooLarge = errors.New("frame: announced length exceeds frame capacity")

const (
	// mbapFixedLen is the number of MBAP bytes not covered by the length field.
	mbapFixedLen = 6
	// usbtmcHeaderLen is the size of a USBTMC bulk header.
	usbtmcHeaderLen = 12
)

// DefaultEndOfFrame is the end-of-frame sequence used by ASCII frames when none is given.
var DefaultEndOfFrame = []byte{'\n'}

// Option configures a Frame at construction.
type Option func(*Frame)

// WithEndOfFrame sets the end-of-frame sequence of an ASCII frame.
// An empty sequence keeps the default.
func WithEndOfFrame(seq []byte) Option {
	return func(f *Frame) {
		if len(seq) > 0 {
			f.eof = bytes.Clone(seq)
		}
	}
}

// WithIgnoreNullBytes drops NUL bytes received by an ASCII frame.
func WithIgnoreNullBytes(ignore bool) Option {
	return func(f *Frame) {
		f.ignoreNull = ignore
	}
}

// Frame is a fixed capacity byte accumulator.
type Frame struct {
	typ        Type
	capacity   int
	buf        []byte
	head       int
	complete   bool
	err        error
	ignoreNull bool
	eof        []byte
	// pending counts trailing bytes of buf that are a proper prefix of eof.
	pending int
	// expected is the total frame length once a length prefix has been decoded.
	expected int
}

// New creates an empty frame of the given type and capacity.
func New(typ Type, capacity int, opts ...Option) *Frame {
	if capacity < 1 {
		capacity = 1
	}

	f := &Frame{
		typ:      typ,
		capacity: capacity,
		eof:      DefaultEndOfFrame,
	}
	for _, opt := range opts {
		opt(f)
	}

	extra := 0
	if typ == TypeASCII {
		extra = len(f.eof)
	}
	f.buf = make([]byte, 0, capacity+extra)

	return f
}

// Type returns the end-of-message policy of the frame.
func (f *Frame) Type() Type { return f.typ }

// EndOfFrame returns the end-of-frame sequence of an ASCII frame.
func (f *Frame) EndOfFrame() []byte { return f.eof }

// Clear empties the frame so it can be reused.
func (f *Frame) Clear() {
	f.buf = f.buf[:0]
	f.head = 0
	f.complete = false
	f.err = nil
	f.pending = 0
	f.expected = 0
}

// Capacity returns the maximum number of payload bytes the frame can hold.
func (f *Frame) Capacity() int { return f.capacity }

// Len returns the number of stored payload bytes.
func (f *Frame) Len() int { return len(f.buf) - f.head - f.pending }

// Bytes returns the stored payload. The slice aliases the frame buffer and is only
// valid until the next mutation.
func (f *Frame) Bytes() []byte { return f.buf[f.head : len(f.buf)-f.pending] }

// RemainCapacity returns how many payload bytes can still be stored.
func (f *Frame) RemainCapacity() int {
	if n := f.capacity - f.Len(); n > 0 {
		return n
	}

	return 0
}

// IsEmpty reports whether the frame holds no byte at all.
func (f *Frame) IsEmpty() bool { return len(f.buf) == f.head }

// IsFull reports whether the payload reached the frame capacity.
func (f *Frame) IsFull() bool { return f.RemainCapacity() == 0 }

// IsComplete reports whether the end-of-message condition was met.
func (f *Frame) IsComplete() bool { return f.complete }

// Err returns the error detected while assembling the frame, if any.
func (f *Frame) Err() error { return f.err }

// BytesToStore returns the number of bytes the frame still accepts,
// or 0 once the frame is complete.
func (f *Frame) BytesToStore() int {
	if f.complete {
		return 0
	}

	switch f.typ {
	case TypeModbusTCP, TypeUsbtmc:
		if f.expected > 0 {
			return f.expected - len(f.buf)
		}
	}

	return f.RemainCapacity()
}

// MarkComplete declares a non empty frame complete. The reader uses it for
// protocols that end a message with a silence on the line.
func (f *Frame) MarkComplete() {
	if !f.IsEmpty() {
		f.complete = true
	}
}

// PutData stores received bytes and returns how many of them were consumed.
// It returns 0 when the frame is already complete or full. A matched end-of-frame
// sequence counts as consumed but is not part of the payload.
func (f *Frame) PutData(data []byte) int {
	if f.complete || len(data) == 0 {
		return 0
	}

	switch f.typ {
	case TypeASCII:
		return f.putUntilEOF(data)
	case TypeModbusTCP:
		return f.putLengthPrefixed(data, mbapFixedLen, func(h []byte) int {
			return mbapFixedLen + int(binary.BigEndian.Uint16(h[4:6]))
		})
	case TypeUsbtmc:
		return f.putLengthPrefixed(data, usbtmcHeaderLen, func(h []byte) int {
			n := usbtmcHeaderLen + int(binary.LittleEndian.Uint32(h[4:8]))
			return n + (4-n%4)%4
		})
	default:
		return f.putRaw(data)
	}
}

func (f *Frame) putRaw(data []byte) int {
	n := min(f.RemainCapacity(), len(data))
	f.buf = append(f.buf, data[:n]...)
	if f.IsFull() {
		f.complete = true
	}

	return n
}

func (f *Frame) putUntilEOF(data []byte) int {
	consumed := 0
	for _, b := range data {
		if f.ignoreNull && b == 0 {
			consumed++
			continue
		}

		f.buf = append(f.buf, b)
		if bytes.HasSuffix(f.buf[f.head:], f.eof) {
			f.buf = f.buf[:len(f.buf)-len(f.eof)]
			f.pending = 0
			f.complete = true
			consumed++

			break
		}

		prev := f.pending
		f.pending = f.eofPrefixLen()
		// a full frame only accepts the continuation of the end-of-frame sequence
		if f.Len() > f.capacity {
			f.buf = f.buf[:len(f.buf)-1]
			f.pending = prev

			break
		}
		consumed++
	}

	return consumed
}

// eofPrefixLen returns the length of the longest proper prefix of eof that ends buf.
func (f *Frame) eofPrefixLen() int {
	stored := f.buf[f.head:]
	for k := min(len(f.eof)-1, len(stored)); k > 0; k-- {
		if bytes.Equal(stored[len(stored)-k:], f.eof[:k]) {
			return k
		}
	}

	return 0
}

func (f *Frame) putLengthPrefixed(data []byte, headerLen int, frameLen func([]byte) int) int {
	consumed := 0

	if f.expected == 0 {
		n := min(headerLen-len(f.buf), len(data), f.RemainCapacity())
		f.buf = append(f.buf, data[:n]...)
		consumed = n
		data = data[n:]

		if len(f.buf) < headerLen {
			if f.IsFull() {
				f.err = ErrFrameTooLarge
				f.complete = true
			}

			return consumed
		}

		f.expected = frameLen(f.buf)
		if f.expected > f.capacity {
			f.err = ErrFrameTooLarge
			f.complete = true

			return consumed
		}
	}

	n := min(f.expected-len(f.buf), len(data))
	f.buf = append(f.buf, data[:n]...)
	consumed += n

	if len(f.buf) == f.expected {
		f.complete = true
	}

	return consumed
}

// Append copies as much of b as fits in the remaining capacity and returns the
// number of copied bytes. It is used to fill frames that are going to be written.
func (f *Frame) Append(b []byte) int {
	n := min(f.RemainCapacity(), len(b))
	f.buf = append(f.buf, b[:n]...)

	return n
}

// Take drops the n first payload bytes, typically after a partial write.
func (f *Frame) Take(n int) {
	if n <= 0 {
		return
	}

	f.head = min(f.head+n, len(f.buf)-f.pending)
	if f.head == len(f.buf) {
		f.buf = f.buf[:0]
		f.head = 0
	}
}
