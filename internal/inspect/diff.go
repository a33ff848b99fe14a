package inspect

import (
	"fmt"
	"strconv"
)

// Change is one difference between two container summaries.
type Change struct {
	// Scope is "header", "object" or "texture".
	Scope  string `json:"scope"`
	ID     uint32 `json:"id,omitempty"`
	Field  string `json:"field"`
	Before string `json:"before"`
	After  string `json:"after"`
}

func (c Change) String() string {
	if c.Scope == "header" {
		return fmt.Sprintf("header %s: %s -> %s", c.Field, c.Before, c.After)
	}
	return fmt.Sprintf("%s %d %s: %s -> %s", c.Scope, c.ID, c.Field, c.Before, c.After)
}

// Diff lists what changed from a to b. Objects and textures are matched by
// object id; ids present on one side only are reported as "present".
func Diff(a, b *Summary) []Change {
	var out []Change
	add := func(scope string, id uint32, field, before, after string) {
		if before != after {
			out = append(out, Change{Scope: scope, ID: id, Field: field, Before: before, After: after})
		}
	}

	add("header", 0, "version", a.Version, b.Version)
	add("header", 0, "header_size", utoa(uint64(a.HeaderSize)), utoa(uint64(b.HeaderSize)))
	add("header", 0, "endian", a.Endian, b.Endian)
	add("header", 0, "stdfloat_double", strconv.FormatBool(a.StdFloatDouble), strconv.FormatBool(b.StdFloatDouble))
	add("header", 0, "objects", strconv.Itoa(len(a.Objects)), strconv.Itoa(len(b.Objects)))
	add("header", 0, "handles", strconv.Itoa(len(a.Handles)), strconv.Itoa(len(b.Handles)))
	add("header", 0, "data_blocks", strconv.Itoa(len(a.DataBlocks)), strconv.Itoa(len(b.DataBlocks)))

	after := make(map[uint32]Object, len(b.Objects))
	for _, o := range b.Objects {
		after[o.ID] = o
	}
	seen := make(map[uint32]bool, len(a.Objects))
	for _, o := range a.Objects {
		seen[o.ID] = true
		n, ok := after[o.ID]
		if !ok {
			add("object", o.ID, "present", "true", "false")
			continue
		}
		add("object", o.ID, "type", o.Type, n.Type)
		add("object", o.ID, "size", strconv.Itoa(o.Size), strconv.Itoa(n.Size))
	}
	for _, o := range b.Objects {
		if !seen[o.ID] {
			add("object", o.ID, "present", "false", "true")
		}
	}

	texAfter := make(map[uint32]Texture, len(b.Textures))
	for _, t := range b.Textures {
		texAfter[t.ObjectID] = t
	}
	for _, t := range a.Textures {
		n, ok := texAfter[t.ObjectID]
		if !ok {
			continue
		}
		add("texture", t.ObjectID, "filename", t.Filename, n.Filename)
		add("texture", t.ObjectID, "alpha_filename", t.AlphaFilename, n.AlphaFilename)
		add("texture", t.ObjectID, "channels", utoa(uint64(t.Channels)), utoa(uint64(n.Channels)))
		add("texture", t.ObjectID, "alpha_channel", utoa(uint64(t.AlphaChannel)), utoa(uint64(n.AlphaChannel)))
	}
	return out
}

func utoa(v uint64) string { return strconv.FormatUint(v, 10) }
