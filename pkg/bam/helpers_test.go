package bam

import (
	"github.com/samcharles93/alphacombiner/pkg/datagram"
)

// handleFn writes one handle reference (or inline definition) into w.
type handleFn func(w *datagram.Writer)

func ref(id uint16) handleFn {
	return func(w *datagram.Writer) { w.AddUint16(id) }
}

func def(id uint16, name string, parents ...handleFn) handleFn {
	return func(w *datagram.Writer) {
		w.AddUint16(id)
		w.AddString(name)
		w.AddUint8(uint8(len(parents)))
		for _, p := range parents {
			p(w)
		}
	}
}

// textureHandle is the usual Texture ancestry as it appears on first use.
func textureHandle() handleFn {
	return def(5, TypeTexture,
		def(3, "TypedWritableReferenceCount",
			def(2, "TypedWritable"),
			def(4, "ReferenceCount"),
		),
		def(6, "Namable"),
	)
}

// streamBuilder assembles a container byte by byte, without going through
// File.Encode.
type streamBuilder struct {
	v Version
	w *datagram.Writer
}

func newStream(v Version) *streamBuilder {
	w := datagram.NewWriter()
	w.AppendData([]byte(Magic))
	w.AddUint32(headerSize(v))
	w.AddUint16(v.Major)
	w.AddUint16(v.Minor)
	if v.AtLeast(VersionEndian) {
		w.AddUint8(EndianLittle)
	}
	if v.AtLeast(VersionStdFloat) {
		w.AddBool(false)
	}
	return &streamBuilder{v: v, w: w}
}

func (b *streamBuilder) rawBlock(body []byte) *streamBuilder {
	b.w.AddSpan(body)
	return b
}

func (b *streamBuilder) block(op Opcode, body func(w *datagram.Writer)) *streamBuilder {
	bw := datagram.NewWriter()
	if b.v.AtLeast(VersionOpcodes) {
		bw.AddUint8(uint8(op))
	}
	if body != nil {
		body(bw)
	}
	return b.rawBlock(bw.Bytes())
}

// object appends a push/adjunct block with a 16-bit object id.
func (b *streamBuilder) object(op Opcode, h handleFn, id uint16, payload []byte) *streamBuilder {
	return b.block(op, func(w *datagram.Writer) {
		h(w)
		w.AddUint16(id)
		w.AppendData(payload)
	})
}

func (b *streamBuilder) fileData(data []byte) *streamBuilder {
	return b.block(OpFileData, func(w *datagram.Writer) { w.AddSpan(data) })
}

func (b *streamBuilder) pop() *streamBuilder {
	return b.block(OpPop, nil)
}

func (b *streamBuilder) bytes() []byte { return b.w.Bytes() }

func texturePayload(v Version, name, filename, alpha string, channels, alphaChannel uint8, trailing []byte) []byte {
	w := datagram.NewWriter()
	w.AddString(name)
	w.AddString(filename)
	w.AddString(alpha)
	if v.AtLeast(VersionTextureChannels) {
		w.AddUint8(channels)
	}
	if v.AtLeast(VersionTextureAlphaChannel) {
		w.AddUint8(alphaChannel)
	}
	w.AppendData(trailing)
	return w.Bytes()
}
