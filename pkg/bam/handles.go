package bam

import (
	"fmt"
	"math"
	"slices"

	"github.com/samcharles93/alphacombiner/pkg/datagram"
)

// DefaultMaxHandleDepth bounds nested parent definitions while reading handles.
const DefaultMaxHandleDepth = 512

// TypeHandle binds a per-file id to a type name and its parent types.
type TypeHandle struct {
	ID      uint16
	Name    string
	Parents []uint16
}

// Handles is the type registry of one file. Id 0 means "no type" and is
// never stored.
type Handles struct {
	byID     map[uint16]*TypeHandle
	order    []uint16
	maxDepth int

	// pending holds ids whose definition is being read or written.
	pending map[uint16]struct{}
}

func newHandles(maxDepth int) *Handles {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxHandleDepth
	}
	return &Handles{
		byID:     make(map[uint16]*TypeHandle),
		maxDepth: maxDepth,
		pending:  make(map[uint16]struct{}),
	}
}

// Len returns the number of registered handles.
func (h *Handles) Len() int { return len(h.order) }

// Lookup returns the handle registered under id.
func (h *Handles) Lookup(id uint16) (*TypeHandle, bool) {
	th, ok := h.byID[id]
	return th, ok
}

// All returns the handles in the order their definitions completed.
func (h *Handles) All() []*TypeHandle {
	out := make([]*TypeHandle, 0, len(h.order))
	for _, id := range h.order {
		out = append(out, h.byID[id])
	}
	return out
}

// IDByName returns the first registered handle with the given name.
func (h *Handles) IDByName(name string) (uint16, bool) {
	for _, id := range h.order {
		if h.byID[id].Name == name {
			return id, true
		}
	}
	return 0, false
}

// Define registers a handle unless id is 0 or already known. It reports
// whether the handle was added.
func (h *Handles) Define(id uint16, name string, parents []uint16) bool {
	if id == 0 {
		return false
	}
	if _, ok := h.byID[id]; ok {
		return false
	}
	h.byID[id] = &TypeHandle{ID: id, Name: name, Parents: slices.Clone(parents)}
	h.order = append(h.order, id)
	return true
}

// DerivesFrom reports whether ancestor appears anywhere in the parent chain
// of id. A handle does not derive from itself.
func (h *Handles) DerivesFrom(id, ancestor uint16) bool {
	seen := make(map[uint16]struct{})
	var walk func(uint16) bool
	walk = func(cur uint16) bool {
		th, ok := h.byID[cur]
		if !ok {
			return false
		}
		for _, p := range th.Parents {
			if p == ancestor {
				return true
			}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			if walk(p) {
				return true
			}
		}
		return false
	}
	return walk(id)
}

// Related returns the id of the named type plus every id deriving from it,
// in ascending order. It returns nil when the name is not registered.
func (h *Handles) Related(name string) []uint16 {
	root, ok := h.IDByName(name)
	if !ok {
		return nil
	}
	out := []uint16{root}
	for _, id := range h.order {
		if id != root && h.DerivesFrom(id, root) {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// ancestors returns the parent chain of id depth-first, in declaration order.
func (h *Handles) ancestors(id uint16) []*TypeHandle {
	var out []*TypeHandle
	seen := map[uint16]struct{}{id: {}}
	var walk func(uint16)
	walk = func(cur uint16) {
		th, ok := h.byID[cur]
		if !ok {
			return
		}
		for _, p := range th.Parents {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			if parent, ok := h.byID[p]; ok {
				out = append(out, parent)
				walk(p)
			}
		}
	}
	walk(id)
	return out
}

// read consumes a handle reference, registering any definition inlined at
// its first use. Parent definitions are read recursively before the handle
// itself is registered. An id defined again inside its own parent list is
// consumed but not registered, so the outer definition's name is kept.
func (h *Handles) read(it *datagram.Iterator, depth int) (uint16, error) {
	if depth > h.maxDepth {
		return 0, fmt.Errorf("%w: limit %d", ErrHandleRecursionTooDeep, h.maxDepth)
	}
	id, err := it.GetUint16()
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, nil
	}
	if _, ok := h.byID[id]; ok {
		return id, nil
	}

	name, err := it.GetString()
	if err != nil {
		return 0, err
	}
	count, err := it.GetUint8()
	if err != nil {
		return 0, err
	}
	_, nested := h.pending[id]
	if !nested {
		h.pending[id] = struct{}{}
		defer delete(h.pending, id)
	}
	parents := make([]uint16, 0, count)
	for range count {
		p, err := h.read(it, depth+1)
		if err != nil {
			return 0, err
		}
		parents = append(parents, p)
	}
	if !nested {
		h.Define(id, name, parents)
	}
	return id, nil
}

// write emits a handle reference. The full definition is written only the
// first time id is seen in written; parents are written the same way. A
// handle listed among its own ancestors is written there as a parentless
// definition, which read consumes without registering.
func (h *Handles) write(w *datagram.Writer, id uint16, written map[uint16]struct{}, depth int) error {
	if depth > h.maxDepth {
		return fmt.Errorf("%w: limit %d", ErrHandleRecursionTooDeep, h.maxDepth)
	}
	w.AddUint16(id)
	if id == 0 {
		return nil
	}
	if _, ok := written[id]; ok {
		return nil
	}
	th, ok := h.byID[id]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrUnresolvedHandle, id)
	}
	if len(th.Parents) > math.MaxUint8 {
		return fmt.Errorf("bam: handle %d (%s) has %d parents", id, th.Name, len(th.Parents))
	}

	w.AddString(th.Name)
	if _, ok := h.pending[id]; ok {
		w.AddUint8(0)
		return nil
	}
	h.pending[id] = struct{}{}
	defer delete(h.pending, id)

	w.AddUint8(uint8(len(th.Parents)))
	for _, p := range th.Parents {
		if err := h.write(w, p, written, depth+1); err != nil {
			return err
		}
	}
	written[id] = struct{}{}
	return nil
}
