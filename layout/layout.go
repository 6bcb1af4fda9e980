// Package layout computes byte-exact sizes, alignments, and member offsets
// for every schema type under a chosen ABI, and parses/evaluates
// textual paths over the resulting schema+layout pair.
package layout

import (
	"fmt"

	"github.com/cvuchener/libdfs/abi"
	"github.com/cvuchener/libdfs/schema"
)

// CompoundLayout is the computed layout of one Compound: its unrounded
// ("unaligned") size (needed by GNU's inheritance tail-packing rule), its
// rounded size, its alignment, and one offset per member in Compound.Members
// order (always 0 for every member of a union).
type CompoundLayout struct {
	UnalignedSize int
	Size          int
	Align         int
	MemberOffsets []int
}

// MemoryLayout is the immutable result of Compute: every reachable type's
// (size, align), plus the detailed per-member layout of every compound.
type MemoryLayout struct {
	abi       *abi.ABI
	typeInfo  map[schema.Type]abi.TypeInfo
	compounds map[*schema.Compound]*CompoundLayout
}

// ABI returns the ABI this layout was computed under.
func (l *MemoryLayout) ABI() *abi.ABI { return l.abi }

// TypeInfo returns the (size, align) of t, following through Ref indirection.
func (l *MemoryLayout) TypeInfo(t schema.Type) (abi.TypeInfo, bool) {
	ti, ok := l.typeInfo[schema.Deref(t)]
	return ti, ok
}

// Compound returns the detailed layout of c, if it was reachable from the
// schema's named types or globals during Compute.
func (l *MemoryLayout) Compound(c *schema.Compound) (*CompoundLayout, bool) {
	cl, ok := l.compounds[c]
	return cl, ok
}

// Compute walks every named schema type and global reachable under a, and
// returns their full (size, align, member offset) layout. It fails fast on
// the first hard error: a cyclic non-pointer dependency between compounds,
// or a type the ABI has no size table entry for.
func Compute(s *schema.Structures, a *abi.ABI) (*MemoryLayout, error) {
	b := &builder{
		abi:        a,
		typeInfo:   map[schema.Type]abi.TypeInfo{},
		compounds:  map[*schema.Compound]*CompoundLayout{},
		inProgress: map[*schema.Compound]bool{},
	}
	for _, c := range s.AllCompoundTypes() {
		if _, err := b.infoOf(c); err != nil {
			return nil, err
		}
	}
	for _, l := range s.AllLinkedListTypes() {
		if _, err := b.infoOf(l); err != nil {
			return nil, err
		}
	}
	for _, e := range s.AllEnumTypes() {
		if _, err := b.infoOf(e); err != nil {
			return nil, err
		}
	}
	for _, bf := range s.AllBitfieldTypes() {
		if _, err := b.infoOf(bf); err != nil {
			return nil, err
		}
	}
	for _, g := range s.AllGlobalObjects() {
		if _, err := b.infoOf(g.Type); err != nil {
			return nil, err
		}
	}
	return &MemoryLayout{abi: a, typeInfo: b.typeInfo, compounds: b.compounds}, nil
}

// builder holds Compute's working state: memoized type info, memoized
// compound layouts, and the set of compounds currently being laid out (for
// cyclic-dependency detection).
type builder struct {
	abi        *abi.ABI
	typeInfo   map[schema.Type]abi.TypeInfo
	compounds  map[*schema.Compound]*CompoundLayout
	inProgress map[*schema.Compound]bool
}

func (b *builder) infoOf(t schema.Type) (abi.TypeInfo, error) {
	t = schema.Deref(t)
	if ti, ok := b.typeInfo[t]; ok {
		return ti, nil
	}
	var ti abi.TypeInfo
	switch v := t.(type) {
	case *schema.Primitive:
		pti, ok := b.abi.PrimitiveInfo(v.Kind)
		if !ok {
			return abi.TypeInfo{}, fmt.Errorf("layout: no ABI size for primitive %q", v.DebugName())
		}
		ti = pti

	case *schema.Enum:
		pti, ok := b.abi.PrimitiveInfo(v.Underlying)
		if !ok {
			return abi.TypeInfo{}, fmt.Errorf("layout: no ABI size for enum %q's underlying type", v.DebugName())
		}
		ti = pti

	case *schema.Bitfield:
		pti, ok := b.abi.PrimitiveInfo(v.Underlying)
		if !ok {
			return abi.TypeInfo{}, fmt.Errorf("layout: no ABI size for bitfield %q's underlying type", v.DebugName())
		}
		ti = pti

	case *schema.Padding:
		align := v.Align
		if align < 1 {
			align = 1
		}
		ti = abi.TypeInfo{Size: v.Size, Align: align}

	case *schema.Pointer:
		ti = abi.TypeInfo{Size: b.abi.PointerSize, Align: b.abi.PointerAlign}
		if v.Target != nil && !v.KnownBad {
			// Best-effort: a pointer's own layout never depends on its
			// target, but computing it now means readers can look the
			// target's layout up later without re-entering Compute.
			_, _ = b.infoOf(v.Target)
		}

	case *schema.StaticArray:
		item, err := b.infoOf(v.Item)
		if err != nil {
			return abi.TypeInfo{}, fmt.Errorf("layout: %q item: %w", v.DebugName(), err)
		}
		ti = abi.TypeInfo{Size: v.ResolvedExtent() * item.Size, Align: item.Align}

	case *schema.StdContainer:
		if v.Kind.RequiresCompleteTypes() {
			params := make([]abi.TypeInfo, len(v.Params))
			for i, p := range v.Params {
				pi, err := b.infoOf(p)
				if err != nil {
					return abi.TypeInfo{}, fmt.Errorf("layout: %q parameter %d: %w", v.DebugName(), i, err)
				}
				params[i] = pi
			}
			ci, err := b.abi.ContainerInfo(v.Kind, params)
			if err != nil {
				return abi.TypeInfo{}, fmt.Errorf("layout: %q: %w", v.DebugName(), err)
			}
			ti = ci
		} else {
			ci, err := b.abi.ContainerInfo(v.Kind, nil)
			if err != nil {
				return abi.TypeInfo{}, fmt.Errorf("layout: %q: %w", v.DebugName(), err)
			}
			ti = ci
			for _, p := range v.Params {
				_, _ = b.infoOf(p)
			}
		}

	case *schema.DFContainer:
		ci, err := b.infoOf(v.Compound)
		if err != nil {
			return abi.TypeInfo{}, fmt.Errorf("layout: %q: %w", v.DebugName(), err)
		}
		ti = ci

	case *schema.Compound:
		cl, err := b.compoundLayout(v)
		if err != nil {
			return abi.TypeInfo{}, err
		}
		ti = abi.TypeInfo{Size: cl.Size, Align: cl.Align}

	default:
		return abi.TypeInfo{}, fmt.Errorf("layout: unsupported schema node %T", t)
	}
	b.typeInfo[t] = ti
	return ti, nil
}

func (b *builder) compoundLayout(c *schema.Compound) (*CompoundLayout, error) {
	if cl, ok := b.compounds[c]; ok {
		return cl, nil
	}
	if b.inProgress[c] {
		return nil, fmt.Errorf("layout: cyclic dependency on %q", c.DebugName())
	}
	b.inProgress[c] = true
	defer delete(b.inProgress, c)

	var offset, align int
	if c.Parent != nil {
		parent, ok := schema.Deref(c.Parent).(*schema.Compound)
		if !ok {
			return nil, fmt.Errorf("layout: %q parent is not a compound", c.DebugName())
		}
		pl, err := b.compoundLayout(parent)
		if err != nil {
			return nil, fmt.Errorf("layout: %q parent: %w", c.DebugName(), err)
		}
		if b.abi.Compiler == abi.MSVC2015 {
			offset = pl.Size
		} else {
			offset = pl.UnalignedSize
		}
		align = pl.Align
	} else if c.VTable {
		offset = b.abi.PointerSize
		align = b.abi.PointerAlign
	}

	cl := &CompoundLayout{Align: align, MemberOffsets: make([]int, len(c.Members))}
	if c.IsUnion {
		maxSize := 0
		for i, m := range c.Members {
			mi, err := b.infoOf(m.Type)
			if err != nil {
				return nil, fmt.Errorf("layout: %q member %q: %w", c.DebugName(), m.Name, err)
			}
			cl.MemberOffsets[i] = 0
			if mi.Size > maxSize {
				maxSize = mi.Size
			}
			if mi.Align > cl.Align {
				cl.Align = mi.Align
			}
		}
		if cl.Align < 1 {
			cl.Align = 1
		}
		cl.UnalignedSize = maxSize
		cl.Size = abi.RoundUp(maxSize, cl.Align)
	} else {
		for i, m := range c.Members {
			mi, err := b.infoOf(m.Type)
			if err != nil {
				return nil, fmt.Errorf("layout: %q member %q: %w", c.DebugName(), m.Name, err)
			}
			if mi.Align > 0 {
				offset = abi.RoundUp(offset, mi.Align)
			}
			cl.MemberOffsets[i] = offset
			offset += mi.Size
			if mi.Align > cl.Align {
				cl.Align = mi.Align
			}
		}
		if cl.Align < 1 {
			cl.Align = 1
		}
		cl.UnalignedSize = offset
		cl.Size = abi.RoundUp(offset, cl.Align)
	}
	b.compounds[c] = cl
	return cl, nil
}
