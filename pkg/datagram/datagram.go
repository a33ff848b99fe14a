// Package datagram implements the primitive codec used by BAM containers:
// fixed-width integers, length-prefixed strings and raw byte spans over an
// in-memory buffer.
//
// All values are little-endian. The container's endianness byte is kept as
// metadata only.
package datagram

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// spanEscape marks a 32-bit span length whose real value follows as a uint64.
const spanEscape = math.MaxUint32

// ErrNegativeLength is returned when a caller asks for a negative number of bytes.
var ErrNegativeLength = errors.New("datagram: negative length")

// Writer accumulates an encoded datagram.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Bytes returns the encoded message. The slice aliases the writer's buffer.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

func (w *Writer) AddUint8(v uint8) { w.buf = append(w.buf, v) }

func (w *Writer) AddBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
		return
	}
	w.buf = append(w.buf, 0)
}

func (w *Writer) AddUint16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }

func (w *Writer) AddUint32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }

func (w *Writer) AddUint64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }

// AddString writes a uint16 length followed by the string bytes.
// Strings longer than 65535 bytes are truncated to fit the length field.
func (w *Writer) AddString(s string) {
	if len(s) > math.MaxUint16 {
		s = s[:math.MaxUint16]
	}
	w.AddUint16(uint16(len(s)))
	w.buf = append(w.buf, s...)
}

// AppendData writes p verbatim.
func (w *Writer) AppendData(p []byte) { w.buf = append(w.buf, p...) }

// AddSpan writes p prefixed by its length. Lengths that do not fit in 32 bits
// are written as 0xFFFFFFFF followed by the uint64 length.
func (w *Writer) AddSpan(p []byte) {
	n := uint64(len(p))
	if n >= spanEscape {
		w.AddUint32(spanEscape)
		w.AddUint64(n)
	} else {
		w.AddUint32(uint32(n))
	}
	w.AppendData(p)
}

// Iterator reads values from a datagram in order.
type Iterator struct {
	data []byte
	off  int
}

// NewIterator returns an iterator over data.
func NewIterator(data []byte) *Iterator {
	return &Iterator{data: data}
}

// Offset returns the cursor position.
func (it *Iterator) Offset() int { return it.off }

// Remaining returns the number of unread bytes.
func (it *Iterator) Remaining() int { return len(it.data) - it.off }

func (it *Iterator) next(n int) ([]byte, error) {
	if n < 0 {
		return nil, ErrNegativeLength
	}
	if n > it.Remaining() {
		return nil, io.ErrUnexpectedEOF
	}
	b := it.data[it.off : it.off+n]
	it.off += n
	return b, nil
}

func (it *Iterator) GetUint8() (uint8, error) {
	b, err := it.next(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (it *Iterator) GetBool() (bool, error) {
	v, err := it.GetUint8()
	return v != 0, err
}

func (it *Iterator) GetUint16() (uint16, error) {
	b, err := it.next(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (it *Iterator) GetUint32() (uint32, error) {
	b, err := it.next(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (it *Iterator) GetUint64() (uint64, error) {
	b, err := it.next(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// GetString reads a uint16 length-prefixed string.
func (it *Iterator) GetString() (string, error) {
	n, err := it.GetUint16()
	if err != nil {
		return "", err
	}
	b, err := it.next(int(n))
	if err != nil {
		return "", fmt.Errorf("string of %d bytes: %w", n, err)
	}
	return string(b), nil
}

// ExtractBytes returns a copy of the next n bytes.
func (it *Iterator) ExtractBytes(n int) ([]byte, error) {
	b, err := it.next(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// ExtractRemaining returns a copy of every unread byte.
func (it *Iterator) ExtractRemaining() []byte {
	b, _ := it.ExtractBytes(it.Remaining())
	return b
}

// GetSpan reads a length-prefixed span written by Writer.AddSpan.
func (it *Iterator) GetSpan() ([]byte, error) {
	n32, err := it.GetUint32()
	if err != nil {
		return nil, err
	}
	n := uint64(n32)
	if n32 == spanEscape {
		if n, err = it.GetUint64(); err != nil {
			return nil, err
		}
	}
	if n > uint64(it.Remaining()) {
		return nil, fmt.Errorf("span of %d bytes with %d remaining: %w", n, it.Remaining(), io.ErrUnexpectedEOF)
	}
	return it.ExtractBytes(int(n))
}
