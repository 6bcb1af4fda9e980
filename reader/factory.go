package reader

import (
	"fmt"
	"reflect"

	"github.com/cvuchener/libdfs/abi"
	"github.com/cvuchener/libdfs/layout"
	"github.com/cvuchener/libdfs/schema"
)

// ReaderFactory builds and caches item readers for one schema+layout pair
// under a chosen target version. Compound and polymorphic
// readers are cached by Go destination type, with a sentinel inserted
// before construction completes so self-referential schema types (a
// compound whose field points back at itself) can resolve during their own
// construction instead of recursing forever.
type ReaderFactory struct {
	ml      *layout.MemoryLayout
	version *schema.VersionInfo

	compoundCache map[reflect.Type]*CompoundReader
	polyCache     map[reflect.Type]*PolymorphicReader
}

// NewReaderFactory returns a factory for ml under version. version may be
// nil when no polymorphic or global-address lookups are needed (e.g.
// building readers purely over synthetic test images).
func NewReaderFactory(ml *layout.MemoryLayout, version *schema.VersionInfo) *ReaderFactory {
	return &ReaderFactory{
		ml:            ml,
		version:       version,
		compoundCache: map[reflect.Type]*CompoundReader{},
		polyCache:     map[reflect.Type]*PolymorphicReader{},
	}
}

func (f *ReaderFactory) Layout() *layout.MemoryLayout  { return f.ml }
func (f *ReaderFactory) Version() *schema.VersionInfo  { return f.version }
func (f *ReaderFactory) ABI() *abi.ABI                 { return f.ml.ABI() }

// ItemReaderFor builds the reader for schema type t read into a value of
// Go type destType, dispatching on the destination x schema combination.
func (f *ReaderFactory) ItemReaderFor(t schema.Type, destType reflect.Type) (ItemReader, error) {
	t = schema.Deref(t)
	ti, ok := f.ml.TypeInfo(t)
	if !ok {
		return nil, fmt.Errorf("reader: %s has no computed layout", debugName(t))
	}
	switch v := t.(type) {
	case *schema.Primitive:
		return f.primitiveReader(v, destType, ti)
	case *schema.Enum:
		signed, _ := intKindSign(v.Underlying)
		return &integralReader{width: ti.Size, signed: signed, schemaTy: v.DebugName()}, nil
	case *schema.Bitfield:
		return f.bitfieldReader(v, destType, ti)
	case *schema.Pointer:
		return f.pointerReader(v, destType, ti)
	case *schema.StaticArray:
		return f.staticArrayReader(v, destType, ti)
	case *schema.StdContainer:
		return f.stdContainerReader(v, destType, ti)
	case *schema.DFContainer:
		return f.dfContainerReader(v, destType, ti)
	case *schema.Compound:
		if v.IsUnion {
			return f.unionReader(v, destType, ti)
		}
		return f.CompoundReaderFor(destType, v)
	default:
		return nil, &NotImplementedError{Destination: destType.String(), Schema: fmt.Sprintf("%T", t)}
	}
}

func debugName(t schema.Type) string {
	type named interface{ DebugName() string }
	if n, ok := t.(named); ok {
		return n.DebugName()
	}
	return fmt.Sprintf("%T", t)
}

func (f *ReaderFactory) primitiveReader(p *schema.Primitive, destType reflect.Type, ti abi.TypeInfo) (ItemReader, error) {
	switch p.Kind {
	case schema.Int8, schema.UInt8, schema.Int16, schema.UInt16, schema.Int32, schema.UInt32,
		schema.Int64, schema.UInt64, schema.Char, schema.Bool, schema.Long, schema.ULong, schema.SizeT:
		signed, _ := intKindSign(p.Kind)
		return &integralReader{width: ti.Size, signed: signed, schemaTy: p.DebugName()}, nil
	case schema.SFloat, schema.DFloat:
		return &floatReader{width: ti.Size, schemaTy: p.DebugName()}, nil
	case schema.StdString:
		return &stringReader{size: ti.Size}, nil
	default:
		return nil, &NotImplementedError{Destination: destType.String(), Schema: p.DebugName()}
	}
}
