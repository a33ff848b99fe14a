package bam

import "github.com/samcharles93/alphacombiner/pkg/datagram"

// Record is a decoded object payload that can be re-encoded for a target
// container version.
type Record interface {
	Encode(w *datagram.Writer, target Version) error
}

// DecodeFunc decodes an object payload written under version v.
type DecodeFunc func(it *datagram.Iterator, v Version) (Record, error)

// Registry maps type names to record decoders. Types without an entry stay
// opaque.
type Registry struct {
	decoders map[string]DecodeFunc
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[string]DecodeFunc)}
}

// DefaultRegistry returns a registry with every record type this package
// knows how to decode.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(TypeTexture, DecodeTexture)
	return r
}

// Register binds fn to typeName, replacing any earlier binding.
func (r *Registry) Register(typeName string, fn DecodeFunc) {
	r.decoders[typeName] = fn
}

// Match finds the decoder for handle id. The handle's own name is tried
// first, then each ancestor depth-first. It returns the matched type name.
func (r *Registry) Match(h *Handles, id uint16) (DecodeFunc, string, bool) {
	th, ok := h.Lookup(id)
	if !ok {
		return nil, "", false
	}
	if fn, ok := r.decoders[th.Name]; ok {
		return fn, th.Name, true
	}
	for _, parent := range h.ancestors(id) {
		if fn, ok := r.decoders[parent.Name]; ok {
			return fn, parent.Name, true
		}
	}
	return nil, "", false
}
