package layout

import (
	"testing"

	"github.com/cvuchener/libdfs/abi"
	"github.com/cvuchener/libdfs/schema"
)

func TestComputeS1MinimalUnitSchema(t *testing.T) {
	unit := &schema.Compound{DebugNameVal: "unit"}
	unit.Members = []schema.Member{
		{Name: "id", Type: &schema.Primitive{Kind: schema.Int32}},
		{Name: "name", Type: &schema.Primitive{Kind: schema.StdString}},
		{Name: "friends", Type: &schema.StdContainer{Kind: schema.StdVector, Params: []schema.Type{&schema.Pointer{Target: unit}}}},
	}
	s := schema.NewStructures()
	s.Compounds["unit"] = unit
	if err := s.Resolve(func(string) {}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	l, err := Compute(s, abi.GCCCXX1164)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	ti, ok := l.TypeInfo(unit)
	if !ok {
		t.Fatalf("no TypeInfo for unit")
	}
	if ti.Size != 64 || ti.Align != 8 {
		t.Fatalf("unit size/align = %d/%d, want 64/8", ti.Size, ti.Align)
	}
	cl, ok := l.Compound(unit)
	if !ok {
		t.Fatalf("no CompoundLayout for unit")
	}
	want := []int{0, 8, 40}
	for i, off := range want {
		if cl.MemberOffsets[i] != off {
			t.Fatalf("member %d offset = %d, want %d", i, cl.MemberOffsets[i], off)
		}
	}
}

func TestComputeS2InheritanceWithVTable(t *testing.T) {
	a := &schema.Compound{DebugNameVal: "A"}
	a.Members = []schema.Member{{Name: "a", Type: &schema.Primitive{Kind: schema.Int32}}}
	b := &schema.Compound{DebugNameVal: "B", Parent: a, VTable: true}
	b.Members = []schema.Member{{Name: "b", Type: &schema.Primitive{Kind: schema.Int32}}}

	s := schema.NewStructures()
	s.Compounds["A"] = a
	s.Compounds["B"] = b
	if err := s.Resolve(func(string) {}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	for _, tc := range []struct {
		name string
		abi  *abi.ABI
	}{
		{"msvc64", abi.MSVC201564},
		{"gnu64", abi.GCC64},
	} {
		l, err := Compute(s, tc.abi)
		if err != nil {
			t.Fatalf("%s: Compute: %v", tc.name, err)
		}
		ti, _ := l.TypeInfo(b)
		if ti.Size != 16 {
			t.Fatalf("%s: sizeof(B) = %d, want 16", tc.name, ti.Size)
		}
		cl, _ := l.Compound(b)
		if cl.MemberOffsets[0] != 8 {
			t.Fatalf("%s: B.b offset = %d, want 8", tc.name, cl.MemberOffsets[0])
		}
		al, _ := l.Compound(a)
		if al.MemberOffsets[0] != 8 {
			t.Fatalf("%s: A.a offset = %d, want 8", tc.name, al.MemberOffsets[0])
		}
	}
}

func TestComputeUnionInvariant(t *testing.T) {
	u := &schema.Compound{DebugNameVal: "value", IsUnion: true}
	u.Members = []schema.Member{
		{Name: "i", Type: &schema.Primitive{Kind: schema.Int32}},
		{Name: "d", Type: &schema.Primitive{Kind: schema.DFloat}},
	}
	s := schema.NewStructures()
	s.Compounds["value"] = u
	l, err := Compute(s, abi.GCC64)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	cl, _ := l.Compound(u)
	for i, off := range cl.MemberOffsets {
		if off != 0 {
			t.Fatalf("union member %d offset = %d, want 0", i, off)
		}
	}
	if cl.Size != 8 || cl.Align != 8 {
		t.Fatalf("union size/align = %d/%d, want 8/8", cl.Size, cl.Align)
	}
}

func TestComputeCyclicDependencyIsHardError(t *testing.T) {
	a := &schema.Compound{DebugNameVal: "a"}
	b := &schema.Compound{DebugNameVal: "b"}
	a.Members = []schema.Member{{Name: "b", Type: b}}
	b.Members = []schema.Member{{Name: "a", Type: a}} // value member, not pointer: real cycle

	s := schema.NewStructures()
	s.Compounds["a"] = a
	s.Compounds["b"] = b
	if _, err := Compute(s, abi.GCC64); err == nil {
		t.Fatalf("expected a cyclic-dependency error")
	}
}

func TestComputeMemberOffsetMonotonicity(t *testing.T) {
	c := &schema.Compound{DebugNameVal: "mixed"}
	c.Members = []schema.Member{
		{Name: "a", Type: &schema.Primitive{Kind: schema.UInt8}},
		{Name: "b", Type: &schema.Primitive{Kind: schema.Int64}},
		{Name: "c", Type: &schema.Primitive{Kind: schema.UInt16}},
	}
	s := schema.NewStructures()
	s.Compounds["mixed"] = c
	l, err := Compute(s, abi.GCCCXX1164)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	cl, _ := l.Compound(c)
	prevEnd := 0
	for i, off := range cl.MemberOffsets {
		if off < prevEnd {
			t.Fatalf("member %d offset %d precedes previous member's end %d", i, off, prevEnd)
		}
		ti, _ := l.TypeInfo(c.Members[i].Type)
		if off%ti.Align != 0 {
			t.Fatalf("member %d offset %d not aligned to %d", i, off, ti.Align)
		}
		prevEnd = off + ti.Size
	}
}

func TestPathParseStringRoundTrip(t *testing.T) {
	cases := []string{
		"world.raws.plants.all[7].material.prefix",
		"flags.(bits)",
		"items[Weapon]",
		"a",
	}
	for _, c := range cases {
		p, err := Parse(c)
		if err != nil {
			t.Fatalf("Parse(%q): %v", c, err)
		}
		if got := p.String(); got != c {
			t.Fatalf("Parse(%q).String() = %q", c, got)
		}
		p2, err := Parse(p.String())
		if err != nil {
			t.Fatalf("re-Parse(%q): %v", p.String(), err)
		}
		if len(p2.Steps) != len(p.Steps) {
			t.Fatalf("round-trip step count mismatch for %q", c)
		}
	}
}

func TestGetOffsetS4VectorIndexAndNonContainerError(t *testing.T) {
	plantRaw := &schema.Compound{DebugNameVal: "plant_raw"}
	plantRaw.Members = []schema.Member{
		{Name: "id", Type: &schema.Primitive{Kind: schema.Int32}},
		{Name: "name", Type: &schema.Primitive{Kind: schema.StdString}},
	}
	plants := &schema.Compound{DebugNameVal: "plants"}
	plants.Members = []schema.Member{
		{Name: "all", Type: &schema.StdContainer{Kind: schema.StdVector, Params: []schema.Type{&schema.Pointer{Target: plantRaw}}}},
	}
	raws := &schema.Compound{DebugNameVal: "raws"}
	raws.Members = []schema.Member{{Name: "plants", Type: plants}}
	world := &schema.Compound{DebugNameVal: "world"}
	world.Members = []schema.Member{{Name: "raws", Type: raws}}

	s := schema.NewStructures()
	for _, c := range []*schema.Compound{plantRaw, plants, raws, world} {
		s.Compounds[c.DebugNameVal] = c
	}
	l, err := Compute(s, abi.GCCCXX1164)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	p, err := Parse("raws.plants.all[3].name")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	_, typ, err := GetOffset(l, world, p)
	if err != nil {
		t.Fatalf("GetOffset: %v", err)
	}
	if typ != plantRaw.Members[1].Type {
		t.Fatalf("final type = %v, want plant_raw.name's type", typ)
	}

	bad, err := Parse("raws.plants[3].name")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, _, err := GetOffset(l, world, bad); err == nil {
		t.Fatalf("expected 'index needs a container' error for indexing the non-container plants")
	}
}
