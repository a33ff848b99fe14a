package bam

import (
	"fmt"
	"math"

	"github.com/samcharles93/alphacombiner/pkg/datagram"
)

// pointerEscape is the 16-bit object id that switches the stream to 32-bit ids.
const pointerEscape = 0xFFFF

// EncodingState tracks the object id width for a run.
//
// Ids start out as 2 bytes. Reading (or writing) the id 0xFFFF widens every
// later read (or write) to 4 bytes, and the width never narrows again. One
// state is shared by every file processed in the same run, so a width switch
// seen in one file applies to all files after it.
//
// An EncodingState is not safe for concurrent use.
type EncodingState struct {
	readWide  bool
	writeWide bool
}

// NewEncodingState returns a state with both directions narrow.
func NewEncodingState() *EncodingState {
	return &EncodingState{}
}

// ReadWide reports whether pointer reads use 4 bytes.
func (s *EncodingState) ReadWide() bool { return s.readWide }

// WriteWide reports whether pointer writes use 4 bytes.
func (s *EncodingState) WriteWide() bool { return s.writeWide }

// ReadPointer reads one object id.
func (s *EncodingState) ReadPointer(it *datagram.Iterator) (uint32, error) {
	if s.readWide {
		return it.GetUint32()
	}
	v, err := it.GetUint16()
	if err != nil {
		return 0, err
	}
	if v == pointerEscape {
		s.readWide = true
	}
	return uint32(v), nil
}

// WritePointer writes one object id. While writes are narrow an id above
// 0xFFFF cannot be represented and ErrPointerOverflow is returned.
func (s *EncodingState) WritePointer(w *datagram.Writer, id uint32) error {
	if s.writeWide {
		w.AddUint32(id)
		return nil
	}
	if id > math.MaxUint16 {
		return fmt.Errorf("%w: object id %d", ErrPointerOverflow, id)
	}
	w.AddUint16(uint16(id))
	if id == pointerEscape {
		s.writeWide = true
	}
	return nil
}
