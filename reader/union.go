package reader

import (
	"reflect"

	"github.com/cvuchener/libdfs/abi"
	"github.com/cvuchener/libdfs/schema"
)

// UnionValue is the destination shape for a tagged union:
// Index names which alternative was read (SizeMax when the discriminator
// said "leave empty"), Value holds that alternative's natural Go value.
type UnionValue struct {
	Index uint
	Value any
}

var unionValueType = reflect.TypeOf(UnionValue{})

type unionAlternative struct {
	reader   ItemReader
	goType   reflect.Type
	name     string
}

// unionReader reads exactly one alternative of a union compound, chosen by
// an externally supplied discriminator.
type unionReader struct {
	size int
	alts []unionAlternative
	name string
}

func (f *ReaderFactory) unionReader(c *schema.Compound, destType reflect.Type, ti abi.TypeInfo) (ItemReader, error) {
	if destType != unionValueType {
		return nil, &TypeMismatchError{Destination: destType.String(), Schema: c.DebugName(), Reason: "union destination must be reader.UnionValue"}
	}
	r := &unionReader{size: ti.Size, name: c.DebugName()}
	for _, m := range c.Members {
		goType, err := f.naturalGoType(m.Type)
		if err != nil {
			return nil, &InvalidFieldError{Compound: c.DebugName(), Field: m.Name, Err: err}
		}
		ir, err := f.ItemReaderFor(m.Type, goType)
		if err != nil {
			return nil, &InvalidFieldError{Compound: c.DebugName(), Field: m.Name, Err: err}
		}
		r.alts = append(r.alts, unionAlternative{reader: ir, goType: goType, name: m.Name})
	}
	return r, nil
}

// naturalGoType picks the default Go representation for a union
// alternative's schema type when no destination type was specified by the
// caller: integer-like schema types and enums map to int64 or uint64 by
// signedness, bool to bool, floats to float64, strings to string;
// everything else (pointers, nested compounds) is reported as
// NotImplemented.
func (f *ReaderFactory) naturalGoType(t schema.Type) (reflect.Type, error) {
	switch v := schema.Deref(t).(type) {
	case *schema.Primitive:
		switch v.Kind {
		case schema.Bool:
			return reflect.TypeOf(bool(false)), nil
		case schema.StdString:
			return reflect.TypeOf(string("")), nil
		case schema.SFloat, schema.DFloat:
			return reflect.TypeOf(float64(0)), nil
		default:
			if signed, ok := intKindSign(v.Kind); ok {
				if signed {
					return reflect.TypeOf(int64(0)), nil
				}
				return reflect.TypeOf(uint64(0)), nil
			}
		}
	case *schema.Enum:
		return reflect.TypeOf(int64(0)), nil
	}
	return nil, &NotImplementedError{Destination: "<union alternative>", Schema: debugName(t)}
}

func (r *unionReader) Size() int { return r.size }

func (r *unionReader) Read(sess *Session, view MemoryView, dest reflect.Value, discriminator uint) error {
	if dest.Type() != unionValueType {
		return &TypeMismatchError{Destination: dest.Type().String(), Schema: r.name, Reason: "union destination must be reader.UnionValue"}
	}
	if discriminator == SizeMax {
		dest.Set(reflect.ValueOf(UnionValue{Index: SizeMax}))
		return nil
	}
	if int(discriminator) >= len(r.alts) {
		return &InvalidDiscriminatorError{Union: r.name, Index: int(discriminator), Count: len(r.alts)}
	}
	alt := r.alts[discriminator]
	sub := view.Sub(0, alt.reader.Size())
	v := reflect.New(alt.goType).Elem()
	if err := alt.reader.Read(sess, sub, v, SizeMax); err != nil {
		return &InvalidFieldError{Compound: r.name, Field: alt.name, Err: err}
	}
	dest.Set(reflect.ValueOf(UnionValue{Index: discriminator, Value: v.Interface()}))
	return nil
}
