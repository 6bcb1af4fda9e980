package reader

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/cvuchener/libdfs/abi"
	"github.com/cvuchener/libdfs/layout"
	"github.com/cvuchener/libdfs/process/memview"
	"github.com/cvuchener/libdfs/schema"
)

func newTestSession(t *testing.T, ml *layout.MemoryLayout) (*Session, *memview.Process) {
	t.Helper()
	proc := memview.New([]byte("test"), 0)
	sess, err := NewSession(context.Background(), proc, ml, nil)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(func() { _ = sess.Close() })
	return sess, proc
}

func TestCompoundReaderIntegralFields(t *testing.T) {
	vec3 := &schema.Compound{DebugNameVal: "vec3"}
	vec3.Members = []schema.Member{
		{Name: "x", Type: &schema.Primitive{Kind: schema.Int32}},
		{Name: "y", Type: &schema.Primitive{Kind: schema.Int32}},
		{Name: "z", Type: &schema.Primitive{Kind: schema.Int32}},
	}
	s := schema.NewStructures()
	s.Compounds["vec3"] = vec3
	ml, err := layout.Compute(s, abi.GCCCXX1164)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	type Vec3 struct {
		X int32 `dfs:"x"`
		Y int32 `dfs:"y"`
		Z int32 `dfs:"z"`
	}

	f := NewReaderFactory(ml, nil)
	cr, err := f.CompoundReaderFor(reflect.TypeOf(Vec3{}), vec3)
	if err != nil {
		t.Fatalf("CompoundReaderFor: %v", err)
	}
	if cr.Size() != 12 {
		t.Fatalf("Size() = %d, want 12", cr.Size())
	}

	data := make([]byte, 12)
	negOne := int32(-1)
	binary.LittleEndian.PutUint32(data[0:], uint32(negOne))
	binary.LittleEndian.PutUint32(data[4:], 2)
	binary.LittleEndian.PutUint32(data[8:], 3)

	sess, _ := newTestSession(t, ml)
	var v Vec3
	if err := cr.Read(sess, MemoryView{Address: 0x1000, Data: data}, reflect.ValueOf(&v).Elem(), SizeMax); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if v.X != -1 || v.Y != 2 || v.Z != 3 {
		t.Fatalf("got %+v", v)
	}
}

func TestCompoundReaderUnsequencedMarker(t *testing.T) {
	pair := &schema.Compound{DebugNameVal: "pair"}
	pair.Members = []schema.Member{
		{Name: "a", Type: &schema.Primitive{Kind: schema.Int32}},
		{Name: "b", Type: &schema.Primitive{Kind: schema.Int32}},
	}
	s := schema.NewStructures()
	s.Compounds["pair"] = pair
	ml, err := layout.Compute(s, abi.GCCCXX1164)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	type Pair struct {
		Unsequenced
		A int32 `dfs:"a"`
		B int32 `dfs:"b"`
	}

	f := NewReaderFactory(ml, nil)
	cr, err := f.CompoundReaderFor(reflect.TypeOf(Pair{}), pair)
	if err != nil {
		t.Fatalf("CompoundReaderFor: %v", err)
	}
	if !cr.unsequenced {
		t.Fatalf("expected unsequenced composition")
	}

	data := make([]byte, 8)
	binary.LittleEndian.PutUint32(data[0:], 10)
	binary.LittleEndian.PutUint32(data[4:], 20)
	sess, _ := newTestSession(t, ml)
	var p Pair
	if err := cr.Read(sess, MemoryView{Address: 0x2000, Data: data}, reflect.ValueOf(&p).Elem(), SizeMax); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if p.A != 10 || p.B != 20 {
		t.Fatalf("got %+v", p)
	}
}

func TestBitVectorReaderExpandsBytes(t *testing.T) {
	// S6: bytes {0xA5, 0x00, 0xFF} expand into 24 densely-indexed bits.
	u8Ptr := &schema.Pointer{Target: &schema.Primitive{Kind: schema.UInt8}}
	u32 := &schema.Primitive{Kind: schema.UInt32}
	flagArray := &schema.DFContainer{Kind: schema.DFFlagArray, Compound: schema.NewFlagArrayCompound(u8Ptr, u32)}
	holder := &schema.Compound{DebugNameVal: "holder"}
	holder.Members = []schema.Member{{Name: "flags", Type: flagArray}}

	s := schema.NewStructures()
	s.Compounds["holder"] = holder
	ml, err := layout.Compute(s, abi.GCCCXX1164)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	type Holder struct {
		Flags []bool `dfs:"flags"`
	}
	f := NewReaderFactory(ml, nil)
	cr, err := f.CompoundReaderFor(reflect.TypeOf(Holder{}), holder)
	if err != nil {
		t.Fatalf("CompoundReaderFor: %v", err)
	}

	const bitsAddr = 0x5000
	proc := memview.New([]byte("t"), 0)
	proc.AddRegion(bitsAddr, []byte{0xA5, 0x00, 0xFF})
	data := make([]byte, cr.Size())
	binary.LittleEndian.PutUint64(data[0:8], bitsAddr)
	binary.LittleEndian.PutUint32(data[8:12], 3)
	proc.AddRegion(0x6000, data)

	sess, err := NewSession(context.Background(), proc, ml, nil)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()

	var h Holder
	view, err := sess.View(0x6000, cr.Size())
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	if err := cr.Read(sess, view, reflect.ValueOf(&h).Elem(), SizeMax); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(h.Flags) != 24 {
		t.Fatalf("len(Flags) = %d, want 24", len(h.Flags))
	}
	want := []bool{
		true, false, true, false, false, true, false, true, // 0xA5
		false, false, false, false, false, false, false, false, // 0x00
		true, true, true, true, true, true, true, true, // 0xFF
	}
	for i, b := range want {
		if h.Flags[i] != b {
			t.Fatalf("bit %d = %v, want %v", i, h.Flags[i], b)
		}
	}
}

func TestUnionReaderDiscriminatorAndSentinel(t *testing.T) {
	u := &schema.Compound{DebugNameVal: "variant", IsUnion: true}
	u.Members = []schema.Member{
		{Name: "as_int", Type: &schema.Primitive{Kind: schema.Int32}},
		{Name: "as_bool", Type: &schema.Primitive{Kind: schema.Bool}},
	}
	s := schema.NewStructures()
	s.Compounds["variant"] = u
	ml, err := layout.Compute(s, abi.GCCCXX1164)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	f := NewReaderFactory(ml, nil)
	ir, err := f.ItemReaderFor(u, unionValueType)
	if err != nil {
		t.Fatalf("ItemReaderFor: %v", err)
	}

	data := make([]byte, ir.Size())
	binary.LittleEndian.PutUint32(data[0:], 42)

	var got UnionValue
	if err := ir.Read(nil, MemoryView{Address: 0, Data: data}, reflect.ValueOf(&got).Elem(), 0); err != nil {
		t.Fatalf("Read(0): %v", err)
	}
	if got.Index != 0 || got.Value.(int64) != 42 {
		t.Fatalf("got %+v", got)
	}

	var empty UnionValue
	if err := ir.Read(nil, MemoryView{Address: 0, Data: data}, reflect.ValueOf(&empty).Elem(), SizeMax); err != nil {
		t.Fatalf("Read(SizeMax): %v", err)
	}
	if empty.Index != SizeMax {
		t.Fatalf("got %+v, want empty", empty)
	}

	var bad UnionValue
	err = ir.Read(nil, MemoryView{Address: 0, Data: data}, reflect.ValueOf(&bad).Elem(), 5)
	if _, ok := err.(*InvalidDiscriminatorError); !ok {
		t.Fatalf("got %v, want *InvalidDiscriminatorError", err)
	}
}

func TestVectorReaderReadsContiguousItems(t *testing.T) {
	itemTy := &schema.Primitive{Kind: schema.Int32}
	vecTy := &schema.StdContainer{Kind: schema.StdVector, Params: []schema.Type{itemTy}}
	holder := &schema.Compound{DebugNameVal: "holder"}
	holder.Members = []schema.Member{{Name: "values", Type: vecTy}}
	s := schema.NewStructures()
	s.Compounds["holder"] = holder
	ml, err := layout.Compute(s, abi.GCCCXX1164)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	type Holder struct {
		Values []int32 `dfs:"values"`
	}
	f := NewReaderFactory(ml, nil)
	cr, err := f.CompoundReaderFor(reflect.TypeOf(Holder{}), holder)
	if err != nil {
		t.Fatalf("CompoundReaderFor: %v", err)
	}

	const base = 0x7000
	items := make([]byte, 3*4)
	binary.LittleEndian.PutUint32(items[0:], 10)
	binary.LittleEndian.PutUint32(items[4:], 20)
	binary.LittleEndian.PutUint32(items[8:], 30)

	proc := memview.New([]byte("t"), 0)
	proc.AddRegion(base, items)
	vecData := make([]byte, cr.Size())
	binary.LittleEndian.PutUint64(vecData[0:8], base)
	binary.LittleEndian.PutUint64(vecData[8:16], base+12)
	binary.LittleEndian.PutUint64(vecData[16:24], base+12)
	proc.AddRegion(0x8000, vecData)

	sess, err := NewSession(context.Background(), proc, ml, nil)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()

	view, err := sess.View(0x8000, cr.Size())
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	var h Holder
	if err := cr.Read(sess, view, reflect.ValueOf(&h).Elem(), SizeMax); err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := []int32{10, 20, 30}
	if !reflect.DeepEqual(h.Values, want) {
		t.Fatalf("got %v, want %v", h.Values, want)
	}
}

// shapeObject is the polymorphic destination interface the dispatch test
// reads through; every registered variant's pointer type implements it.
type shapeObject interface {
	shapeID() int32
}

type testShape struct {
	VPtr uint64 `dfs:",vtable"`
	ID   int32  `dfs:"id"`
}

func (s *testShape) shapeID() int32 { return s.ID }

type testCircle struct {
	Base   testShape `dfs:",base"`
	Radius int32     `dfs:"radius"`
}

func (c *testCircle) shapeID() int32 { return c.Base.ID }

func TestPolymorphicDispatch(t *testing.T) {
	base := &schema.Compound{DebugNameVal: "shape", VTable: true}
	base.Members = []schema.Member{{Name: "id", Type: &schema.Primitive{Kind: schema.Int32}}}
	circle := &schema.Compound{DebugNameVal: "circle", VTable: true, Parent: base}
	circle.Members = []schema.Member{{Name: "radius", Type: &schema.Primitive{Kind: schema.Int32}}}

	s := schema.NewStructures()
	s.Compounds["shape"] = base
	s.Compounds["circle"] = circle
	ml, err := layout.Compute(s, abi.GCCCXX1164)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	version := &schema.VersionInfo{
		Name: "test",
		VtableAddrs: map[string]uint64{
			"shape":  0x111000,
			"circle": 0x222000,
		},
	}
	f := NewReaderFactory(ml, version)

	ifaceType := reflect.TypeOf((*shapeObject)(nil)).Elem()
	pr, err := f.PolymorphicReaderFor(ifaceType, base)
	if err != nil {
		t.Fatalf("PolymorphicReaderFor: %v", err)
	}
	if err := pr.Register(base, reflect.TypeOf(testShape{}), true); err != nil {
		t.Fatalf("Register(shape): %v", err)
	}
	if err := pr.Register(circle, reflect.TypeOf(testCircle{}), false); err != nil {
		t.Fatalf("Register(circle): %v", err)
	}

	// Image base relocated by 0x1000: the in-memory vtable word carries the
	// slide, dispatch must subtract it back off before the table lookup.
	const slide = 0x1000
	const objAddr = 0xB000
	obj := make([]byte, 16)
	binary.LittleEndian.PutUint64(obj[0:8], 0x222000+slide)
	binary.LittleEndian.PutUint32(obj[8:12], 7)
	binary.LittleEndian.PutUint32(obj[12:16], 9)
	proc := memview.New([]byte("t"), slide)
	proc.AddRegion(objAddr, obj)

	sess, err := NewSession(context.Background(), proc, ml, version)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()

	got, err := pr.ReadAt(sess, objAddr)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	c, ok := got.Interface().(*testCircle)
	if !ok {
		t.Fatalf("dispatched to %T, want *testCircle", got.Interface())
	}
	if c.Base.ID != 7 || c.Radius != 9 {
		t.Fatalf("got %+v", c)
	}
	if c.Base.VPtr != 0x222000+slide {
		t.Fatalf("vtable word = %#x, want %#x", c.Base.VPtr, uint64(0x222000+slide))
	}
	if c.shapeID() != 7 {
		t.Fatalf("shapeID() = %d", c.shapeID())
	}
}

func TestPolymorphicUnknownVTableFallsBackToBase(t *testing.T) {
	base := &schema.Compound{DebugNameVal: "shape", VTable: true}
	base.Members = []schema.Member{{Name: "id", Type: &schema.Primitive{Kind: schema.Int32}}}
	s := schema.NewStructures()
	s.Compounds["shape"] = base
	ml, err := layout.Compute(s, abi.GCCCXX1164)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	version := &schema.VersionInfo{Name: "test", VtableAddrs: map[string]uint64{"shape": 0x111000}}
	f := NewReaderFactory(ml, version)
	ifaceType := reflect.TypeOf((*shapeObject)(nil)).Elem()
	pr, err := f.PolymorphicReaderFor(ifaceType, base)
	if err != nil {
		t.Fatalf("PolymorphicReaderFor: %v", err)
	}
	if err := pr.Register(base, reflect.TypeOf(testShape{}), true); err != nil {
		t.Fatalf("Register: %v", err)
	}

	obj := make([]byte, 16)
	binary.LittleEndian.PutUint64(obj[0:8], 0xDEAD00) // not in the table
	binary.LittleEndian.PutUint32(obj[8:12], 3)
	proc := memview.New([]byte("t"), 0)
	proc.AddRegion(0xC000, obj)
	sess, err := NewSession(context.Background(), proc, ml, version)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()

	got, err := pr.ReadAt(sess, 0xC000)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	sh, ok := got.Interface().(*testShape)
	if !ok {
		t.Fatalf("fallback read %T, want *testShape", got.Interface())
	}
	if sh.ID != 3 {
		t.Fatalf("ID = %d, want 3", sh.ID)
	}

	pr.SetFallback("nullptr")
	got, err = pr.ReadAt(sess, 0xC000)
	if err != nil {
		t.Fatalf("ReadAt(nullptr fallback): %v", err)
	}
	if got.IsValid() {
		t.Fatalf("nullptr fallback returned a value: %v", got)
	}
}

func TestLinkedListReaderWalksNodes(t *testing.T) {
	job := &schema.Compound{DebugNameVal: "job"}
	job.Members = []schema.Member{{Name: "id", Type: &schema.Primitive{Kind: schema.Int32}}}
	node := schema.NewLinkedListCompound(&schema.Pointer{Target: job})
	node.Members[1].Type = &schema.Pointer{Target: node}
	node.Members[2].Type = &schema.Pointer{Target: node}
	list := &schema.DFContainer{Name: "job_list", Kind: schema.DFLinkedList, Params: []schema.Type{job}, Compound: node}

	holder := &schema.Compound{DebugNameVal: "holder"}
	holder.Members = []schema.Member{{Name: "jobs", Type: list}}
	s := schema.NewStructures()
	s.Compounds["job"] = job
	s.Compounds["holder"] = holder
	s.LinkedLists["job_list"] = list
	ml, err := layout.Compute(s, abi.GCCCXX1164)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	type Job struct {
		ID int32 `dfs:"id"`
	}
	type Holder struct {
		Jobs []*Job `dfs:"jobs"`
	}
	f := NewReaderFactory(ml, nil)
	cr, err := f.CompoundReaderFor(reflect.TypeOf(Holder{}), holder)
	if err != nil {
		t.Fatalf("CompoundReaderFor: %v", err)
	}
	if cr.Size() != 24 {
		t.Fatalf("holder size = %d, want 24 (one embedded list header)", cr.Size())
	}

	// Two nodes after the header; the walk starts at the header's next and
	// stops at the first null next.
	const headerAddr, node1, node2, job1, job2 = 0x3000, 0x4000, 0x4100, 0x5000, 0x5100
	proc := memview.New([]byte("t"), 0)
	header := make([]byte, 24)
	binary.LittleEndian.PutUint64(header[16:24], node1)
	proc.AddRegion(headerAddr, header)

	n1 := make([]byte, 24)
	binary.LittleEndian.PutUint64(n1[0:8], job1)
	binary.LittleEndian.PutUint64(n1[8:16], headerAddr)
	binary.LittleEndian.PutUint64(n1[16:24], node2)
	proc.AddRegion(node1, n1)

	n2 := make([]byte, 24)
	binary.LittleEndian.PutUint64(n2[0:8], job2)
	binary.LittleEndian.PutUint64(n2[8:16], node1)
	proc.AddRegion(node2, n2)

	j1 := make([]byte, 4)
	binary.LittleEndian.PutUint32(j1, 11)
	proc.AddRegion(job1, j1)
	j2 := make([]byte, 4)
	binary.LittleEndian.PutUint32(j2, 22)
	proc.AddRegion(job2, j2)

	sess, err := NewSession(context.Background(), proc, ml, nil)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()

	view, err := sess.View(headerAddr, cr.Size())
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	var h Holder
	if err := cr.Read(sess, view, reflect.ValueOf(&h).Elem(), SizeMax); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(h.Jobs) != 2 {
		t.Fatalf("got %d jobs, want 2", len(h.Jobs))
	}
	if h.Jobs[0].ID != 11 || h.Jobs[1].ID != 22 {
		t.Fatalf("got ids %d, %d", h.Jobs[0].ID, h.Jobs[1].ID)
	}
}

func TestDFArrayReaderReadsContiguousItems(t *testing.T) {
	i32 := &schema.Primitive{Kind: schema.Int32}
	arr := &schema.DFContainer{
		Name:     "vals",
		Kind:     schema.DFArray,
		Params:   []schema.Type{i32},
		Compound: schema.NewArrayCompound(&schema.Pointer{Target: i32}, &schema.Primitive{Kind: schema.UInt16}),
	}
	holder := &schema.Compound{DebugNameVal: "holder"}
	holder.Members = []schema.Member{{Name: "vals", Type: arr}}
	s := schema.NewStructures()
	s.Compounds["holder"] = holder
	ml, err := layout.Compute(s, abi.GCCCXX1164)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	type Holder struct {
		Vals []int32 `dfs:"vals"`
	}
	f := NewReaderFactory(ml, nil)
	cr, err := f.CompoundReaderFor(reflect.TypeOf(Holder{}), holder)
	if err != nil {
		t.Fatalf("CompoundReaderFor: %v", err)
	}

	const itemsAddr = 0x7000
	items := make([]byte, 2*4)
	binary.LittleEndian.PutUint32(items[0:], 5)
	binary.LittleEndian.PutUint32(items[4:], 6)
	proc := memview.New([]byte("t"), 0)
	proc.AddRegion(itemsAddr, items)
	data := make([]byte, cr.Size())
	binary.LittleEndian.PutUint64(data[0:8], itemsAddr)
	binary.LittleEndian.PutUint16(data[8:10], 2)
	proc.AddRegion(0x8000, data)

	sess, err := NewSession(context.Background(), proc, ml, nil)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()

	view, err := sess.View(0x8000, cr.Size())
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	var h Holder
	if err := cr.Read(sess, view, reflect.ValueOf(&h).Elem(), SizeMax); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !reflect.DeepEqual(h.Vals, []int32{5, 6}) {
		t.Fatalf("got %v, want [5 6]", h.Vals)
	}
}

func TestStaticArrayReaderFixedExtent(t *testing.T) {
	holder := &schema.Compound{DebugNameVal: "holder"}
	holder.Members = []schema.Member{
		{Name: "xs", Type: &schema.StaticArray{Item: &schema.Primitive{Kind: schema.Int16}, Extent: 3}},
	}
	s := schema.NewStructures()
	s.Compounds["holder"] = holder
	ml, err := layout.Compute(s, abi.GCCCXX1164)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	type Holder struct {
		Xs [3]int16 `dfs:"xs"`
	}
	f := NewReaderFactory(ml, nil)
	cr, err := f.CompoundReaderFor(reflect.TypeOf(Holder{}), holder)
	if err != nil {
		t.Fatalf("CompoundReaderFor: %v", err)
	}
	if cr.Size() != 6 {
		t.Fatalf("holder size = %d, want 6", cr.Size())
	}

	data := make([]byte, 6)
	binary.LittleEndian.PutUint16(data[0:], 1)
	binary.LittleEndian.PutUint16(data[2:], 2)
	binary.LittleEndian.PutUint16(data[4:], 3)
	sess, _ := newTestSession(t, ml)
	var h Holder
	if err := cr.Read(sess, MemoryView{Address: 0x1000, Data: data}, reflect.ValueOf(&h).Elem(), SizeMax); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if h.Xs != [3]int16{1, 2, 3} {
		t.Fatalf("got %v", h.Xs)
	}

	// A destination array whose length disagrees with the schema extent
	// fails the read.
	type Wrong struct {
		Xs [4]int16 `dfs:"xs"`
	}
	wcr, err := f.CompoundReaderFor(reflect.TypeOf(Wrong{}), holder)
	if err != nil {
		t.Fatalf("CompoundReaderFor(Wrong): %v", err)
	}
	var w Wrong
	err = wcr.Read(sess, MemoryView{Address: 0x1000, Data: data}, reflect.ValueOf(&w).Elem(), SizeMax)
	if err == nil {
		t.Fatalf("expected a length-mismatch error")
	}
}

func TestBitfieldReaderScattersRuns(t *testing.T) {
	bf := &schema.Bitfield{Name: "flags1", Underlying: schema.UInt32}
	bf.AppendRun("on_fire", -1, 1)
	bf.AppendRun("size_class", -1, 3)
	bf.AppendRun("dead", -1, 1)
	holder := &schema.Compound{DebugNameVal: "holder"}
	holder.Members = []schema.Member{{Name: "flags", Type: bf}}
	s := schema.NewStructures()
	s.Compounds["holder"] = holder
	s.Bitfields["flags1"] = bf
	ml, err := layout.Compute(s, abi.GCCCXX1164)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	type Flags struct {
		OnFire    bool  `dfs:"on_fire"`
		SizeClass uint8 `dfs:"size_class"`
		Dead      bool  `dfs:"dead"`
	}
	type Holder struct {
		Flags Flags `dfs:"flags"`
	}
	f := NewReaderFactory(ml, nil)
	cr, err := f.CompoundReaderFor(reflect.TypeOf(Holder{}), holder)
	if err != nil {
		t.Fatalf("CompoundReaderFor: %v", err)
	}

	// bit 0 set, bits 1-3 = 0b101, bit 4 clear.
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, 0b01011)
	sess, _ := newTestSession(t, ml)
	var h Holder
	if err := cr.Read(sess, MemoryView{Address: 0x1000, Data: data}, reflect.ValueOf(&h).Elem(), SizeMax); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !h.Flags.OnFire || h.Flags.SizeClass != 0b101 || h.Flags.Dead {
		t.Fatalf("got %+v", h.Flags)
	}
}

func TestFloatReaderWidths(t *testing.T) {
	holder := &schema.Compound{DebugNameVal: "holder"}
	holder.Members = []schema.Member{
		{Name: "f", Type: &schema.Primitive{Kind: schema.SFloat}},
		{Name: "d", Type: &schema.Primitive{Kind: schema.DFloat}},
	}
	s := schema.NewStructures()
	s.Compounds["holder"] = holder
	ml, err := layout.Compute(s, abi.GCCCXX1164)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	type Holder struct {
		F float32 `dfs:"f"`
		D float64 `dfs:"d"`
	}
	f := NewReaderFactory(ml, nil)
	cr, err := f.CompoundReaderFor(reflect.TypeOf(Holder{}), holder)
	if err != nil {
		t.Fatalf("CompoundReaderFor: %v", err)
	}

	data := make([]byte, cr.Size())
	binary.LittleEndian.PutUint32(data[0:4], math.Float32bits(1.5))
	binary.LittleEndian.PutUint64(data[8:16], math.Float64bits(-2.25))
	sess, _ := newTestSession(t, ml)
	var h Holder
	if err := cr.Read(sess, MemoryView{Address: 0x1000, Data: data}, reflect.ValueOf(&h).Elem(), SizeMax); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if h.F != 1.5 || h.D != -2.25 {
		t.Fatalf("got %v, %v", h.F, h.D)
	}
}

func TestStringReaderInlineSSO(t *testing.T) {
	holder := &schema.Compound{DebugNameVal: "holder"}
	holder.Members = []schema.Member{{Name: "name", Type: &schema.Primitive{Kind: schema.StdString}}}
	s := schema.NewStructures()
	s.Compounds["holder"] = holder
	ml, err := layout.Compute(s, abi.GCCCXX1164)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	type Holder struct {
		Name string `dfs:"name"`
	}
	f := NewReaderFactory(ml, nil)
	cr, err := f.CompoundReaderFor(reflect.TypeOf(Holder{}), holder)
	if err != nil {
		t.Fatalf("CompoundReaderFor: %v", err)
	}
	if cr.Size() != 32 {
		t.Fatalf("holder size = %d, want 32 (one SSO string)", cr.Size())
	}

	const objAddr = 0x9000
	data := make([]byte, 32)
	binary.LittleEndian.PutUint64(data[0:8], objAddr+16) // points at its own local buffer
	binary.LittleEndian.PutUint64(data[8:16], 5)
	copy(data[16:21], "urist")
	proc := memview.New([]byte("t"), 0)
	proc.AddRegion(objAddr, data)

	sess, err := NewSession(context.Background(), proc, ml, nil)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()

	view, err := sess.View(objAddr, cr.Size())
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	var h Holder
	if err := cr.Read(sess, view, reflect.ValueOf(&h).Elem(), SizeMax); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if h.Name != "urist" {
		t.Fatalf("Name = %q, want %q", h.Name, "urist")
	}
}

func TestKnownBadPointerIsNotDereferenced(t *testing.T) {
	leaf := &schema.Compound{DebugNameVal: "leaf"}
	leaf.Members = []schema.Member{{Name: "v", Type: &schema.Primitive{Kind: schema.Int32}}}
	holder := &schema.Compound{DebugNameVal: "holder"}
	holder.Members = []schema.Member{
		{Name: "junk", Type: &schema.Pointer{Target: leaf, KnownBad: true}},
	}
	s := schema.NewStructures()
	s.Compounds["leaf"] = leaf
	s.Compounds["holder"] = holder
	ml, err := layout.Compute(s, abi.GCCCXX1164)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	type Leaf struct {
		V int32 `dfs:"v"`
	}
	type Holder struct {
		Junk *Leaf `dfs:"junk"`
	}
	f := NewReaderFactory(ml, nil)
	cr, err := f.CompoundReaderFor(reflect.TypeOf(Holder{}), holder)
	if err != nil {
		t.Fatalf("CompoundReaderFor: %v", err)
	}

	// The pointer bytes hold an address that is not mapped anywhere; a
	// dereference attempt would fail the read.
	data := make([]byte, cr.Size())
	binary.LittleEndian.PutUint64(data[0:8], 0xDEAD0000)
	sess, _ := newTestSession(t, ml)
	var h Holder
	if err := cr.Read(sess, MemoryView{Address: 0x1000, Data: data}, reflect.ValueOf(&h).Elem(), SizeMax); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if h.Junk != nil {
		t.Fatalf("known-bad pointer was dereferenced: %+v", h.Junk)
	}
}

func TestSessionGlobalAddressAppliesBaseOffset(t *testing.T) {
	s := schema.NewStructures()
	ml, err := layout.Compute(s, abi.GCCCXX1164)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	version := &schema.VersionInfo{
		Name:        "test",
		GlobalAddrs: map[string]uint64{"world": 0x600000},
	}
	proc := memview.New([]byte("t"), 0x2000)
	sess, err := NewSession(context.Background(), proc, ml, version)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()

	addr, ok := sess.GlobalAddress("world")
	if !ok || addr != 0x602000 {
		t.Fatalf("GlobalAddress = %#x, %v; want 0x602000, true", addr, ok)
	}
	if _, ok := sess.GlobalAddress("missing"); ok {
		t.Fatalf("expected missing global to report not found")
	}
}

func TestNewSessionMatchingReportsUnknownVersion(t *testing.T) {
	s := schema.NewStructures()
	s.Versions = []*schema.VersionInfo{
		{Name: "v0.47.05 linux64", BuildID: []byte{1, 2, 3, 4}},
	}
	ml, err := layout.Compute(s, abi.GCCCXX1164)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	proc := memview.New([]byte{9, 9, 9, 9}, 0)
	_, err = NewSessionMatching(context.Background(), proc, s, ml)
	var mismatch *schema.VersionMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("got %v, want *schema.VersionMismatchError", err)
	}
	if len(mismatch.Known) != 1 || mismatch.Known[0] != "v0.47.05 linux64" {
		t.Fatalf("Known = %v", mismatch.Known)
	}

	proc = memview.New([]byte{1, 2, 3, 4}, 0)
	sess, err := NewSessionMatching(context.Background(), proc, s, ml)
	if err != nil {
		t.Fatalf("NewSessionMatching: %v", err)
	}
	defer sess.Close()
	if sess.Version().Name != "v0.47.05 linux64" {
		t.Fatalf("matched %q", sess.Version().Name)
	}
}

func TestSharedPointerDedup(t *testing.T) {
	leaf := &schema.Compound{DebugNameVal: "leaf"}
	leaf.Members = []schema.Member{{Name: "v", Type: &schema.Primitive{Kind: schema.Int32}}}
	holder := &schema.Compound{DebugNameVal: "holder"}
	holder.Members = []schema.Member{
		{Name: "a", Type: &schema.Pointer{Target: leaf}},
		{Name: "b", Type: &schema.Pointer{Target: leaf}},
	}
	s := schema.NewStructures()
	s.Compounds["leaf"] = leaf
	s.Compounds["holder"] = holder
	ml, err := layout.Compute(s, abi.GCCCXX1164)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	type Leaf struct {
		V int32 `dfs:"v"`
	}
	type Holder struct {
		A Shared[Leaf] `dfs:"a"`
		B Shared[Leaf] `dfs:"b"`
	}
	f := NewReaderFactory(ml, nil)
	cr, err := f.CompoundReaderFor(reflect.TypeOf(Holder{}), holder)
	if err != nil {
		t.Fatalf("CompoundReaderFor: %v", err)
	}

	const leafAddr = 0x9000
	proc := memview.New([]byte("t"), 0)
	leafData := make([]byte, 4)
	binary.LittleEndian.PutUint32(leafData, 7)
	proc.AddRegion(leafAddr, leafData)
	holderData := make([]byte, cr.Size())
	binary.LittleEndian.PutUint64(holderData[0:8], leafAddr)
	binary.LittleEndian.PutUint64(holderData[8:16], leafAddr)
	proc.AddRegion(0xA000, holderData)

	sess, err := NewSession(context.Background(), proc, ml, nil)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()

	view, err := sess.View(0xA000, cr.Size())
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	var h Holder
	if err := cr.Read(sess, view, reflect.ValueOf(&h).Elem(), SizeMax); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if h.A.Ptr == nil || h.B.Ptr == nil {
		t.Fatalf("expected both pointers populated: %+v", h)
	}
	if h.A.Ptr != h.B.Ptr {
		t.Fatalf("expected shared identity, got distinct pointers %p != %p", h.A.Ptr, h.B.Ptr)
	}
	if h.A.Ptr.V != 7 {
		t.Fatalf("V = %d, want 7", h.A.Ptr.V)
	}
}
