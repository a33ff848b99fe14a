package bam

import (
	"errors"
	"fmt"
)

var (
	// ErrBadMagic is returned when the input does not start with the BAM magic.
	ErrBadMagic = errors.New("invalid BAM header")
	// ErrTruncatedStream is returned when a header field, block or payload
	// ends before its declared length.
	ErrTruncatedStream = errors.New("truncated BAM stream")
	// ErrUnknownOpcode is returned for a block opcode outside push, pop,
	// adjunct, remove and file data.
	ErrUnknownOpcode = errors.New("unknown BAM block opcode")
	// ErrHandleRecursionTooDeep is returned when nested type handle
	// definitions exceed the configured depth.
	ErrHandleRecursionTooDeep = errors.New("BAM type handle recursion too deep")
	// ErrUnresolvedHandle is returned when an object names a type handle that
	// was never defined.
	ErrUnresolvedHandle = errors.New("unresolved BAM type handle")
	// ErrUnsupportedVersion is returned when the target version cannot carry
	// the container's contents.
	ErrUnsupportedVersion = errors.New("unsupported BAM target version")
	// ErrPointerOverflow is returned when an object id above 0xFFFF must be
	// written while pointers are still 16 bits wide.
	ErrPointerOverflow = errors.New("BAM object id exceeds pointer width")
)

// FormatError describes a structural failure while decoding or encoding a
// container. It unwraps to one of the sentinel errors above.
type FormatError struct {
	Err    error
	Block  int // index of the stream block, -1 for the header
	Offset int // absolute file offset of the block or header field, -1 if unknown
	Detail string
}

func (e *FormatError) Error() string {
	msg := "bam: " + e.Err.Error()
	if e.Block >= 0 {
		msg += fmt.Sprintf(" in block %d", e.Block)
	}
	if e.Offset >= 0 {
		msg += fmt.Sprintf(" at offset %d", e.Offset)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *FormatError) Unwrap() error { return e.Err }

func formatErr(sentinel error, block, offset int, format string, args ...any) *FormatError {
	return &FormatError{
		Err:    sentinel,
		Block:  block,
		Offset: offset,
		Detail: fmt.Sprintf(format, args...),
	}
}
