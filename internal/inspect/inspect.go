// Package inspect builds a printable summary of a decoded BAM container.
package inspect

import (
	"io"

	"github.com/goccy/go-json"

	"github.com/samcharles93/alphacombiner/pkg/bam"
)

type Summary struct {
	Path           string    `json:"path,omitempty"`
	Version        string    `json:"version"`
	HeaderSize     uint32    `json:"header_size"`
	Endian         string    `json:"endian"`
	StdFloatDouble bool      `json:"stdfloat_double"`
	Nesting        int       `json:"nesting"`
	Handles        []Handle  `json:"handles"`
	Objects        []Object  `json:"objects"`
	DataBlocks     []int     `json:"data_blocks,omitempty"`
	Textures       []Texture `json:"textures,omitempty"`
}

type Handle struct {
	ID      uint16   `json:"id"`
	Name    string   `json:"name"`
	Parents []uint16 `json:"parents,omitempty"`
	Objects int      `json:"objects"`
}

type Object struct {
	ID     uint32 `json:"id"`
	Handle uint16 `json:"handle"`
	Type   string `json:"type"`
	Size   int    `json:"size"`
}

type Texture struct {
	ObjectID      uint32 `json:"object_id"`
	Name          string `json:"name"`
	Filename      string `json:"filename"`
	AlphaFilename string `json:"alpha_filename,omitempty"`
	Paired        bool   `json:"paired"`
	Channels      uint8  `json:"channels"`
	AlphaChannel  uint8  `json:"alpha_channel"`
}

// Summarize describes f. Texture records are decoded as part of it, so a
// malformed texture payload is reported as an error.
func Summarize(f *bam.File) (*Summary, error) {
	s := &Summary{
		Path:           f.Path,
		Version:        f.Version.String(),
		HeaderSize:     f.HeaderSize,
		Endian:         "little",
		StdFloatDouble: f.StdFloatDouble,
		Nesting:        f.Nesting(),
		Handles:        []Handle{},
		Objects:        make([]Object, 0, len(f.Objects)),
	}
	if f.Endian == bam.EndianBig {
		s.Endian = "big"
	}

	counts := make(map[uint16]int)
	for _, obj := range f.Objects {
		counts[obj.HandleID]++
		s.Objects = append(s.Objects, Object{
			ID:     obj.ID,
			Handle: obj.HandleID,
			Type:   obj.TypeName,
			Size:   len(obj.Payload),
		})
	}
	for _, h := range f.Handles.All() {
		s.Handles = append(s.Handles, Handle{
			ID:      h.ID,
			Name:    h.Name,
			Parents: h.Parents,
			Objects: counts[h.ID],
		})
	}
	for _, d := range f.DataBlocks {
		s.DataBlocks = append(s.DataBlocks, len(d))
	}

	objs, err := f.Records(bam.TypeTexture)
	if err != nil {
		return nil, err
	}
	for _, obj := range objs {
		tex, ok := obj.Record.(*bam.Texture)
		if !ok {
			continue
		}
		s.Textures = append(s.Textures, Texture{
			ObjectID:      obj.ID,
			Name:          tex.Name,
			Filename:      tex.Filename,
			AlphaFilename: tex.AlphaFilename,
			Paired:        tex.Paired(),
			Channels:      tex.PrimaryFileNumChannels,
			AlphaChannel:  tex.AlphaFileChannel,
		})
	}
	return s, nil
}

// Marshal encodes v as JSON, indented when indent is set.
func Marshal(v any, indent bool) ([]byte, error) {
	if indent {
		return json.MarshalIndent(v, "", "  ")
	}
	return json.Marshal(v)
}

// WriteJSON writes v as indented JSON followed by a newline.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
