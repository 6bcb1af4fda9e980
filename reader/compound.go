package reader

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/cvuchener/libdfs/abi"
	"github.com/cvuchener/libdfs/layout"
	"github.com/cvuchener/libdfs/schema"
)

// Unsequenced is an embeddable zero-size marker. A destination struct that
// embeds it opts its compound reader into unsequenced (concurrent) field
// reads instead of the default strictly-ordered sequenced composition.
type Unsequenced struct{}

// dfsTag is a parsed `dfs:"..."` struct tag.
type dfsTag struct {
	path  string // "" for base/vtable markers addressed by kind alone
	base  bool
	vtbl  bool
	discr string // method name invoked on the partially built T for a union discriminator
}

func parseDfsTag(raw string) (dfsTag, bool) {
	parts := strings.Split(raw, ",")
	var t dfsTag
	t.path = parts[0]
	for _, p := range parts[1:] {
		switch {
		case p == "base":
			t.base = true
		case p == "vtable":
			t.vtbl = true
		case strings.HasPrefix(p, "discr="):
			t.discr = strings.TrimPrefix(p, "discr=")
		}
	}
	return t, true
}

// findTaggedField finds the struct field whose dfs tag path (or, absent a
// tag, whose Go field name) equals name, not descending into embedded
// fields (schema member names are matched at exactly the compound level
// the caller is building a reader for).
func findTaggedField(t reflect.Type, name string) (reflect.StructField, bool) {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if raw, ok := sf.Tag.Lookup("dfs"); ok {
			tag, _ := parseDfsTag(raw)
			if tag.path == name {
				return sf, true
			}
			continue
		}
		if sf.Name == name {
			return sf, true
		}
	}
	return reflect.StructField{}, false
}

// fieldKind enumerates the three field-reader kinds a compound reader composes.
type fieldKind int

const (
	kindField fieldKind = iota
	kindBase
	kindVTable
)

type fieldEntry struct {
	kind       fieldKind
	index      []int
	reader     ItemReader
	offset     int
	name       string // schema member/path name, for InvalidFieldError
	discrFunc  string // method name to invoke for the discriminator, if any
}

// CompoundReader reads a non-union schema Compound into a destination
// struct type, composed of Base/VTable/Field field readers. It
// satisfies ItemReader so it can be nested as a member's reader too.
type CompoundReader struct {
	mu          sync.Mutex
	ready       bool
	buildErr    error
	destType    reflect.Type
	size        int
	entries     []fieldEntry
	unsequenced bool
	schemaName  string
}

func (r *CompoundReader) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// CompoundReaderFor returns the (possibly still-under-construction, but
// already addressable) compound reader for destType over schema compound
// c, building it on first request and caching it by destType thereafter.
// The cache entry is inserted before construction fills it, so a compound
// whose member points back at its own type resolves to the same reader
// instead of recursing forever.
func (f *ReaderFactory) CompoundReaderFor(destType reflect.Type, c *schema.Compound) (*CompoundReader, error) {
	if destType.Kind() == reflect.Ptr {
		destType = destType.Elem()
	}
	if cr, ok := f.compoundCache[destType]; ok {
		if cr.buildErr != nil {
			return nil, cr.buildErr
		}
		return cr, nil
	}
	cr := &CompoundReader{destType: destType, schemaName: c.DebugName()}
	f.compoundCache[destType] = cr
	err := f.fillCompoundReader(cr, destType, c)
	cr.mu.Lock()
	cr.ready = true
	cr.buildErr = err
	cr.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return cr, nil
}

func (f *ReaderFactory) fillCompoundReader(cr *CompoundReader, destType reflect.Type, c *schema.Compound) error {
	if destType.Kind() != reflect.Struct {
		return &TypeMismatchError{Destination: destType.String(), Schema: c.DebugName(), Reason: "compound destination must be a struct"}
	}
	cl, ok := f.ml.Compound(c)
	if !ok {
		return fmt.Errorf("reader: %s has no computed layout", c.DebugName())
	}
	cr.size = cl.Size

	for i := 0; i < destType.NumField(); i++ {
		sf := destType.Field(i)
		if sf.Type == reflect.TypeOf(Unsequenced{}) {
			cr.unsequenced = true
			continue
		}
		raw, hasTag := sf.Tag.Lookup("dfs")
		if !hasTag {
			continue
		}
		tag, _ := parseDfsTag(raw)
		switch {
		case tag.base:
			parent, ok := schema.Deref(c.Parent).(*schema.Compound)
			if !ok {
				return &TypeMismatchError{Destination: destType.String(), Schema: c.DebugName(), Reason: "dfs:\",base\" field but schema compound has no parent"}
			}
			base, err := f.CompoundReaderFor(sf.Type, parent)
			if err != nil {
				return err
			}
			cr.entries = append(cr.entries, fieldEntry{kind: kindBase, index: sf.Index, reader: base, offset: 0, name: "<base>"})
		case tag.vtbl:
			if !c.VTable {
				return &TypeMismatchError{Destination: destType.String(), Schema: c.DebugName(), Reason: "dfs:\",vtable\" field but schema compound has no vtable"}
			}
			cr.entries = append(cr.entries, fieldEntry{kind: kindVTable, index: sf.Index, offset: 0, name: "<vtable>"})
		default:
			path, err := layout.Parse(tag.path)
			if err != nil {
				return fmt.Errorf("reader: %s field %q: bad path %q: %w", c.DebugName(), sf.Name, tag.path, err)
			}
			offset, memberType, err := layout.GetOffset(f.ml, c, path)
			if err != nil {
				return &InvalidFieldError{Compound: c.DebugName(), Field: tag.path, Err: err}
			}
			ir, err := f.ItemReaderFor(memberType, sf.Type)
			if err != nil {
				return &InvalidFieldError{Compound: c.DebugName(), Field: tag.path, Err: err}
			}
			cr.entries = append(cr.entries, fieldEntry{kind: kindField, index: sf.Index, reader: ir, offset: offset, name: tag.path, discrFunc: tag.discr})
		}
	}
	return nil
}

func (r *CompoundReader) Read(sess *Session, view MemoryView, dest reflect.Value, discriminator uint) error {
	if dest.Kind() == reflect.Ptr {
		if dest.IsNil() {
			dest.Set(reflect.New(dest.Type().Elem()))
		}
		dest = dest.Elem()
	}
	read := func(e fieldEntry) error {
		switch e.kind {
		case kindVTable:
			addr, err := sess.ABI().ReadPointer(view.Data)
			if err != nil {
				return &InvalidFieldError{Compound: r.schemaName, Field: e.name, Err: err}
			}
			dest.FieldByIndex(e.index).SetUint(addr)
			return nil
		case kindBase, kindField:
			size := e.reader.Size()
			sub := view.Sub(e.offset, size)
			discr := discriminator
			if e.discrFunc != "" {
				if dest.CanAddr() {
					if m := dest.Addr().MethodByName(e.discrFunc); m.IsValid() {
						out := m.Call(nil)
						if len(out) == 1 {
							discr = uint(out[0].Int())
						}
					}
				}
			}
			if err := e.reader.Read(sess, sub, dest.FieldByIndex(e.index), discr); err != nil {
				return &InvalidFieldError{Compound: r.schemaName, Field: e.name, Err: err}
			}
			return nil
		}
		return nil
	}

	if r.unsequenced {
		fns := make([]func() error, len(r.entries))
		for i, e := range r.entries {
			e := e
			fns[i] = func() error { return read(e) }
		}
		return runConcurrent(fns)
	}
	for _, e := range r.entries {
		if err := read(e); err != nil {
			return err
		}
	}
	return nil
}

var _ abi.ByteSource = (*Session)(nil)
