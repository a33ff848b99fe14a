package bam

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/samcharles93/alphacombiner/pkg/datagram"
)

// Object is one record of the container's flat object list.
type Object struct {
	HandleID uint16
	TypeName string
	ID       uint32
	Payload  []byte

	// Record is the decoded payload when a codec matched the type. It is
	// re-encoded into Payload every time the file is written.
	Record Record
}

func (o *Object) encodeRecord(target Version) error {
	if o.Record == nil {
		return nil
	}
	w := datagram.NewWriter()
	if err := o.Record.Encode(w, target); err != nil {
		return err
	}
	o.Payload = w.Bytes()
	return nil
}

// Options controls how a container is decoded.
type Options struct {
	// State carries the pointer width across files. A nil State gives the
	// file its own state.
	State *EncodingState
	// Codecs selects the record decoders. Nil means DefaultRegistry().
	Codecs *Registry
	// MaxHandleDepth bounds nested handle definitions. Zero means
	// DefaultMaxHandleDepth.
	MaxHandleDepth int
}

// File is a decoded BAM container.
type File struct {
	// Path is the location the file was opened from, if any.
	Path string

	HeaderSize     uint32
	Version        Version
	Endian         uint8
	StdFloatDouble bool

	Handles    *Handles
	Objects    []*Object
	DataBlocks [][]byte

	state   *EncodingState
	codecs  *Registry
	nesting int
}

// NewFile returns an empty little-endian container of version v.
func NewFile(v Version, opts Options) *File {
	f := &File{
		HeaderSize: headerSize(v),
		Version:    v,
		Endian:     EndianLittle,
		Handles:    newHandles(opts.MaxHandleDepth),
		state:      opts.State,
		codecs:     opts.Codecs,
	}
	if f.state == nil {
		f.state = NewEncodingState()
	}
	if f.codecs == nil {
		f.codecs = DefaultRegistry()
	}
	return f
}

// Add appends an object of an already defined handle. rec is encoded under
// the file's version to fill the payload.
func (f *File) Add(handleID uint16, id uint32, rec Record) (*Object, error) {
	th, ok := f.Handles.Lookup(handleID)
	if !ok {
		return nil, fmt.Errorf("%w: handle %d", ErrUnresolvedHandle, handleID)
	}
	obj := &Object{HandleID: handleID, TypeName: th.Name, ID: id, Record: rec}
	if err := obj.encodeRecord(f.Version); err != nil {
		return nil, err
	}
	f.Objects = append(f.Objects, obj)
	return obj, nil
}

// Load reads a whole container from r.
func Load(r io.Reader, opts Options) (*File, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Parse(data, opts)
}

// Parse decodes a container held in memory. The returned file does not
// retain data.
func Parse(data []byte, opts Options) (*File, error) {
	if !bytes.HasPrefix(data, []byte(Magic)) {
		return nil, &FormatError{Err: ErrBadMagic, Block: -1, Offset: 0}
	}

	f := &File{
		Handles: newHandles(opts.MaxHandleDepth),
		state:   opts.State,
		codecs:  opts.Codecs,
	}
	if f.state == nil {
		f.state = NewEncodingState()
	}
	if f.codecs == nil {
		f.codecs = DefaultRegistry()
	}

	it := datagram.NewIterator(data[len(Magic):])
	if err := f.readHeader(it); err != nil {
		return nil, err
	}

	sr := &streamReader{f: f, it: it, base: len(Magic)}
	if err := sr.run(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) readHeader(it *datagram.Iterator) error {
	truncated := func(field string, err error) error {
		return formatErr(ErrTruncatedStream, -1, len(Magic)+it.Offset(), "header %s: %v", field, err)
	}

	var err error
	if f.HeaderSize, err = it.GetUint32(); err != nil {
		return truncated("size", err)
	}
	if f.Version.Major, err = it.GetUint16(); err != nil {
		return truncated("major version", err)
	}
	if f.Version.Minor, err = it.GetUint16(); err != nil {
		return truncated("minor version", err)
	}

	f.Endian = EndianLittle
	if f.Version.AtLeast(VersionEndian) {
		if f.Endian, err = it.GetUint8(); err != nil {
			return truncated("endianness", err)
		}
	}
	if f.Version.AtLeast(VersionStdFloat) {
		if f.StdFloatDouble, err = it.GetBool(); err != nil {
			return truncated("float width", err)
		}
	}
	return nil
}

// State returns the pointer width state used by the file.
func (f *File) State() *EncodingState { return f.state }

// Nesting returns the push/pop balance left after reading the stream.
func (f *File) Nesting() int { return f.nesting }

// FindRelated returns the handle id of typeName and of every type deriving
// from it. A type that does not occur in the file yields nil.
func (f *File) FindRelated(typeName string) []uint16 {
	return f.Handles.Related(typeName)
}

// Records decodes every object related to typeName that has a registered
// codec. Objects already decoded are returned as they are.
func (f *File) Records(typeName string) ([]*Object, error) {
	related := f.FindRelated(typeName)
	if len(related) == 0 {
		return nil, nil
	}
	var out []*Object
	for i, obj := range f.Objects {
		if _, ok := slices.BinarySearch(related, obj.HandleID); !ok {
			continue
		}
		if obj.Record == nil {
			decode, _, ok := f.codecs.Match(f.Handles, obj.HandleID)
			if !ok {
				continue
			}
			rec, err := decode(datagram.NewIterator(obj.Payload), f.Version)
			if err != nil {
				if errors.Is(err, io.ErrUnexpectedEOF) {
					err = ErrTruncatedStream
				}
				return nil, &FormatError{
					Err:    err,
					Block:  i,
					Offset: -1,
					Detail: fmt.Sprintf("object %d (%s) payload", obj.ID, obj.TypeName),
				}
			}
			obj.Record = rec
		}
		out = append(out, obj)
	}
	return out, nil
}

// Textures decodes and returns every texture record in stream order.
func (f *File) Textures() ([]*Texture, error) {
	objs, err := f.Records(TypeTexture)
	if err != nil {
		return nil, err
	}
	out := make([]*Texture, 0, len(objs))
	for _, obj := range objs {
		if tex, ok := obj.Record.(*Texture); ok {
			out = append(out, tex)
		}
	}
	return out, nil
}

// Encode serialises the container for the target version. Decoded records
// are re-encoded into their object payloads first.
func (f *File) Encode(target Version) ([]byte, error) {
	w := datagram.NewWriter()
	w.AppendData([]byte(Magic))
	w.AddUint32(headerSize(target))
	w.AddUint16(target.Major)
	w.AddUint16(target.Minor)
	if target.AtLeast(VersionEndian) {
		w.AddUint8(f.Endian)
	}
	if target.AtLeast(VersionStdFloat) {
		w.AddBool(f.StdFloatDouble)
	}
	if err := f.writeStream(w, target); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// Write encodes the container and writes it to w in one call.
func (f *File) Write(w io.Writer, target Version) error {
	data, err := f.Encode(target)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// WriteFile encodes the container and writes it to path.
func (f *File) WriteFile(path string, target Version) error {
	data, err := f.Encode(target)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (f *File) String() string {
	endian := "Little-endian"
	if f.Endian == EndianBig {
		endian = "Big-endian"
	}
	width := "32-bit"
	if f.StdFloatDouble {
		width = "64-bit"
	}
	return fmt.Sprintf("BAM file version %s (%s, %s)", f.Version, endian, width)
}
