package bam

import (
	"errors"
	"fmt"
	"io"

	"github.com/samcharles93/alphacombiner/pkg/datagram"
)

// streamReader decodes the block stream that follows the header.
type streamReader struct {
	f     *File
	it    *datagram.Iterator
	base  int // file offset of the iterator's first byte
	block int
}

func (r *streamReader) run() error {
	for r.it.Remaining() > 0 {
		if err := r.readBlock(); err != nil {
			return err
		}
		r.block++
	}
	return nil
}

func (r *streamReader) fail(err error, offset int, what string) error {
	var fe *FormatError
	if errors.As(err, &fe) {
		return fe
	}
	switch {
	case errors.Is(err, io.ErrUnexpectedEOF):
		return formatErr(ErrTruncatedStream, r.block, offset, "%s: %v", what, err)
	case errors.Is(err, ErrHandleRecursionTooDeep):
		return formatErr(ErrHandleRecursionTooDeep, r.block, offset, "%s", what)
	case errors.Is(err, ErrUnresolvedHandle):
		return formatErr(ErrUnresolvedHandle, r.block, offset, "%s: %v", what, err)
	default:
		return formatErr(ErrTruncatedStream, r.block, offset, "%s: %v", what, err)
	}
}

func (r *streamReader) readBlock() error {
	offset := r.base + r.it.Offset()
	data, err := r.it.GetSpan()
	if err != nil {
		return r.fail(err, offset, "block length")
	}
	bi := datagram.NewIterator(data)

	op := OpAdjunct
	if r.f.Version.AtLeast(VersionOpcodes) {
		b, err := bi.GetUint8()
		if err != nil {
			return r.fail(err, offset, "block opcode")
		}
		op = Opcode(b)
	}

	switch op {
	case OpPush:
		r.f.nesting++
		return r.readObject(bi, offset)
	case OpPop:
		r.f.nesting--
		return nil
	case OpAdjunct:
		return r.readObject(bi, offset)
	case OpRemove:
		// Freed ids are not tracked; they are read only to honour pointer width.
		for bi.Remaining() > 0 {
			if _, err := r.f.state.ReadPointer(bi); err != nil {
				return r.fail(err, offset, "freed object id")
			}
		}
		return nil
	case OpFileData:
		payload, err := bi.GetSpan()
		if err != nil {
			return r.fail(err, offset, "file data")
		}
		r.f.DataBlocks = append(r.f.DataBlocks, payload)
		return nil
	default:
		return formatErr(ErrUnknownOpcode, r.block, offset, "opcode %d", uint8(op))
	}
}

func (r *streamReader) readObject(bi *datagram.Iterator, offset int) error {
	handleID, err := r.f.Handles.read(bi, 0)
	if err != nil {
		return r.fail(err, offset, "type handle")
	}
	th, ok := r.f.Handles.Lookup(handleID)
	if !ok {
		return formatErr(ErrUnresolvedHandle, r.block, offset, "object references handle %d", handleID)
	}
	objID, err := r.f.state.ReadPointer(bi)
	if err != nil {
		return r.fail(err, offset, "object id")
	}
	r.f.Objects = append(r.f.Objects, &Object{
		HandleID: handleID,
		TypeName: th.Name,
		ID:       objID,
		Payload:  bi.ExtractRemaining(),
	})
	return nil
}

// writeStream frames objects, data blocks and the closing pop for target.
func (f *File) writeStream(w *datagram.Writer, target Version) error {
	opcodes := target.AtLeast(VersionOpcodes)
	if !opcodes && len(f.DataBlocks) > 0 {
		return fmt.Errorf("%w: %s cannot carry %d data blocks (need %s)",
			ErrUnsupportedVersion, target, len(f.DataBlocks), VersionOpcodes)
	}

	written := make(map[uint16]struct{})
	for i, obj := range f.Objects {
		if err := obj.encodeRecord(target); err != nil {
			return fmt.Errorf("bam: encode object %d (%s): %w", obj.ID, obj.TypeName, err)
		}
		op := OpAdjunct
		if i == 0 {
			op = OpPush
		}
		block := datagram.NewWriter()
		if opcodes {
			block.AddUint8(uint8(op))
		}
		if err := f.Handles.write(block, obj.HandleID, written, 0); err != nil {
			return &FormatError{Err: unwrapSentinel(err), Block: i, Offset: w.Len(), Detail: err.Error()}
		}
		if err := f.state.WritePointer(block, obj.ID); err != nil {
			return &FormatError{Err: ErrPointerOverflow, Block: i, Offset: w.Len(), Detail: err.Error()}
		}
		block.AppendData(obj.Payload)
		w.AddSpan(block.Bytes())
	}

	for _, data := range f.DataBlocks {
		block := datagram.NewWriter()
		block.AddUint8(uint8(OpFileData))
		block.AddSpan(data)
		w.AddSpan(block.Bytes())
	}

	if opcodes {
		w.AddSpan([]byte{uint8(OpPop)})
	}
	return nil
}

func unwrapSentinel(err error) error {
	for _, s := range []error{ErrUnresolvedHandle, ErrHandleRecursionTooDeep} {
		if errors.Is(err, s) {
			return s
		}
	}
	return err
}
