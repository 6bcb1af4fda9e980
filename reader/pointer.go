package reader

import (
	"reflect"
	"strings"

	"github.com/cvuchener/libdfs/abi"
	"github.com/cvuchener/libdfs/schema"
)

// Shared wraps a destination type T to request shared-pointer semantics:
// repeated reads of the same source address within one session return the
// identical *T instead of a fresh copy. Detected structurally by the factory, not by an interface, since Go
// generics can't satisfy one for "any T".
type Shared[T any] struct {
	Ptr *T
}

func isSharedType(t reflect.Type) (elem reflect.Type, ok bool) {
	if t.Kind() != reflect.Struct || t.NumField() != 1 {
		return nil, false
	}
	if !strings.HasPrefix(t.Name(), "Shared[") {
		return nil, false
	}
	f := t.Field(0)
	if f.Name != "Ptr" || f.Type.Kind() != reflect.Ptr {
		return nil, false
	}
	return f.Type.Elem(), true
}

// ownedPointerReader reads a pointer: null on a zero address, otherwise
// allocates the destination and recurses on the target schema type.
// When poly is set the destination is an
// interface type and dispatch goes through a PolymorphicReader instead of
// a single fixed-shape reader.
type ownedPointerReader struct {
	width   int
	factory *ReaderFactory
	target  schema.Type
	poly    *schema.Compound
	// knownBad marks a pointer the schema declares to hold uninitialized
	// garbage; the reader zeroes the destination without dereferencing.
	knownBad bool
}

// sharedPointerReader is an ownedPointerReader plus session-scoped dedup
// keyed on (address, base type name).
type sharedPointerReader struct {
	ownedPointerReader
	baseName string
}

func (f *ReaderFactory) pointerReader(p *schema.Pointer, destType reflect.Type, ti abi.TypeInfo) (ItemReader, error) {
	// Integral destination: store the raw address.
	switch destType.Kind() {
	case reflect.Uint64, reflect.Uint, reflect.Uintptr:
		return &pointerAddressReader{width: ti.Size}, nil
	}

	if elem, ok := isSharedType(destType); ok {
		if c, ok := schema.Deref(p.Target).(*schema.Compound); ok && c.VTable {
			// Shared ownership of a polymorphic base is not supported:
			// Shared[T]'s Ptr field is a concrete *T, which cannot carry
			// a dynamically dispatched interface value.
			return nil, &NotImplementedError{Destination: destType.String(), Schema: p.DebugName()}
		}
		if err := f.checkPointerTarget(elem, p); err != nil {
			return nil, err
		}
		base := ownedPointerReader{width: ti.Size, factory: f, target: p.Target, knownBad: p.KnownBad}
		return &sharedPointerReader{ownedPointerReader: base, baseName: elem.String()}, nil
	}

	if destType.Kind() == reflect.Interface {
		c, ok := schema.Deref(p.Target).(*schema.Compound)
		if !ok || !c.VTable {
			return nil, &TypeMismatchError{Destination: destType.String(), Schema: p.DebugName(), Reason: "interface destination requires a polymorphic (vtable) target"}
		}
		if _, err := f.PolymorphicReaderFor(destType, c); err != nil {
			return nil, err
		}
		return &ownedPointerReader{width: ti.Size, factory: f, target: p.Target, poly: c, knownBad: p.KnownBad}, nil
	}

	if destType.Kind() != reflect.Ptr {
		return nil, &TypeMismatchError{Destination: destType.String(), Schema: p.DebugName(), Reason: "pointer destination must be a Go pointer, an interface (polymorphic target), reader.Shared[T], or a platform address integer"}
	}
	elem := destType.Elem()
	if err := f.checkPointerTarget(elem, p); err != nil {
		return nil, err
	}
	return &ownedPointerReader{width: ti.Size, factory: f, target: p.Target, knownBad: p.KnownBad}, nil
}

// checkPointerTarget eagerly builds (or at least validates) the pointee
// reader so destination-shape mismatches surface at factory time rather
// than on first dereference.
func (f *ReaderFactory) checkPointerTarget(elem reflect.Type, p *schema.Pointer) error {
	if p.Target == nil {
		return nil // generic/untyped pointer: address-only consumers only
	}
	if c, ok := schema.Deref(p.Target).(*schema.Compound); ok && c.VTable {
		_, err := f.PolymorphicReaderFor(elem, c)
		return err
	}
	_, err := f.ItemReaderFor(p.Target, elem)
	return err
}

func (r *ownedPointerReader) Size() int { return r.width }

func (r *ownedPointerReader) Read(sess *Session, view MemoryView, dest reflect.Value, discriminator uint) error {
	if r.knownBad {
		dest.Set(reflect.Zero(dest.Type()))
		return nil
	}
	addr, err := sess.ABI().ReadPointer(view.Data)
	if err != nil {
		return err
	}
	return r.readAt(sess, addr, dest)
}

// readAt populates dest (a *T field for a plain owned pointer, or an
// interface-typed field for a polymorphic one) from the object at addr, or
// zeroes dest when addr is 0.
func (r *ownedPointerReader) readAt(sess *Session, addr uint64, dest reflect.Value) error {
	if addr == 0 {
		dest.Set(reflect.Zero(dest.Type()))
		return nil
	}
	if r.poly != nil {
		pr, err := r.factory.PolymorphicReaderFor(dest.Type(), r.poly)
		if err != nil {
			return err
		}
		obj, err := pr.ReadAt(sess, addr)
		if err != nil {
			return err
		}
		if !obj.IsValid() {
			dest.Set(reflect.Zero(dest.Type()))
			return nil
		}
		if !obj.Type().AssignableTo(dest.Type()) {
			return &CastError{From: obj.Type().String(), To: dest.Type().String()}
		}
		dest.Set(obj)
		return nil
	}
	elem := dest.Type().Elem()
	ir, err := r.factory.ItemReaderFor(r.target, elem)
	if err != nil {
		return err
	}
	data, err := sess.Read(addr, ir.Size())
	if err != nil {
		return err
	}
	target := reflect.New(elem)
	if err := ir.Read(sess, MemoryView{Address: addr, Data: data}, target.Elem(), SizeMax); err != nil {
		return err
	}
	dest.Set(target)
	return nil
}

func (r *sharedPointerReader) Read(sess *Session, view MemoryView, dest reflect.Value, discriminator uint) error {
	addr, err := sess.ABI().ReadPointer(view.Data)
	if err != nil {
		return err
	}
	if addr == 0 {
		dest.Set(reflect.Zero(dest.Type()))
		return nil
	}
	key := sharedKey{address: addr, base: r.baseName}
	if existing, ok := sess.sharedObject(key); ok {
		dest.FieldByIndex([]int{0}).Set(reflect.ValueOf(existing))
		return nil
	}
	elemType := dest.Type().Field(0).Type.Elem()
	// holder is a settable *T, starting nil: the same shape readAt expects
	// for a non-polymorphic owned pointer field.
	holder := reflect.New(reflect.PointerTo(elemType)).Elem()
	if err := r.ownedPointerReader.readAt(sess, addr, holder); err != nil {
		return err
	}
	stored := sess.storeSharedObject(key, holder.Interface())
	dest.FieldByIndex([]int{0}).Set(reflect.ValueOf(stored))
	return nil
}
