package bam

import (
	"bytes"
	"errors"
	"testing"

	"github.com/samcharles93/alphacombiner/pkg/datagram"
)

func TestReadPointerWidensAfterEscape(t *testing.T) {
	t.Parallel()

	s := NewEncodingState()
	it := datagram.NewIterator([]byte{0x01, 0x00, 0xFF, 0xFF, 0x02, 0x00, 0x00, 0x00})

	want := []uint32{1, 0xFFFF, 2}
	for i, w := range want {
		got, err := s.ReadPointer(it)
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if got != w {
			t.Fatalf("read %d: got %#x want %#x", i, got, w)
		}
	}
	if !s.ReadWide() {
		t.Fatalf("state must stay wide after the escape")
	}
	if s.WriteWide() {
		t.Fatalf("reads must not widen writes")
	}
}

func TestWritePointerWidensAfterEscape(t *testing.T) {
	t.Parallel()

	s := NewEncodingState()
	w := datagram.NewWriter()
	for _, id := range []uint32{1, 0xFFFF, 2} {
		if err := s.WritePointer(w, id); err != nil {
			t.Fatalf("write pointer %d: %v", id, err)
		}
	}

	want := []byte{0x01, 0x00, 0xFF, 0xFF, 0x02, 0x00, 0x00, 0x00}
	if !bytes.Equal(w.Bytes(), want) {
		t.Fatalf("encoding mismatch: got %x want %x", w.Bytes(), want)
	}
	if !s.WriteWide() {
		t.Fatalf("state must stay wide after the escape")
	}
}

func TestPointerWidthCarriesAcrossFiles(t *testing.T) {
	t.Parallel()

	v := Version{6, 27}
	first := newStream(v).
		object(OpPush, def(9, "PandaNode"), 0xFFFF, []byte{0xAB}).
		pop().
		bytes()

	// The second file was produced by a writer that had already widened.
	second := newStream(v).
		block(OpPush, func(w *datagram.Writer) {
			def(9, "PandaNode")(w)
			w.AddUint32(0x00010007)
			w.AppendData([]byte{0xCD})
		}).
		pop().
		bytes()

	state := NewEncodingState()
	f1, err := Parse(first, Options{State: state})
	if err != nil {
		t.Fatalf("parse first: %v", err)
	}
	if !state.ReadWide() {
		t.Fatalf("escape in first file must widen the shared state")
	}

	f2, err := Parse(second, Options{State: state})
	if err != nil {
		t.Fatalf("parse second: %v", err)
	}
	obj := f2.Objects[0]
	if obj.ID != 0x00010007 || !bytes.Equal(obj.Payload, []byte{0xCD}) {
		t.Fatalf("second file decoded with the wrong width: id=%#x payload=%x", obj.ID, obj.Payload)
	}

	if _, err := f1.Encode(v); err != nil {
		t.Fatalf("encode first: %v", err)
	}
	if !state.WriteWide() {
		t.Fatalf("writing the escape must widen the shared state")
	}
	out, err := f2.Encode(v)
	if err != nil {
		t.Fatalf("encode second: %v", err)
	}
	if !bytes.Contains(out, []byte{0x07, 0x00, 0x01, 0x00, 0xCD}) {
		t.Fatalf("second file must be written with 4-byte ids: %x", out)
	}
}

func TestWritePointerRejectsWideIDWhileNarrow(t *testing.T) {
	t.Parallel()

	s := NewEncodingState()
	w := datagram.NewWriter()
	if err := s.WritePointer(w, 0x10000); !errors.Is(err, ErrPointerOverflow) {
		t.Fatalf("expected ErrPointerOverflow, got %v", err)
	}
	if w.Len() != 0 || s.WriteWide() {
		t.Fatalf("a rejected id must not write or widen: %d bytes, wide %v", w.Len(), s.WriteWide())
	}
}

func TestEncodeRejectsWideIDWhileNarrow(t *testing.T) {
	t.Parallel()

	f := NewFile(Version{6, 27}, Options{})
	f.Handles.Define(2, "TypedWritable", nil)
	if _, err := f.Add(2, 0x10000, nil); err != nil {
		t.Fatalf("add: %v", err)
	}
	_, err := f.Encode(Version{6, 27})
	if !errors.Is(err, ErrPointerOverflow) {
		t.Fatalf("expected ErrPointerOverflow, got %v", err)
	}
	var fe *FormatError
	if !errors.As(err, &fe) || fe.Block != 0 {
		t.Fatalf("expected a FormatError for block 0, got %#v", err)
	}
}
