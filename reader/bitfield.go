package reader

import (
	"reflect"

	"github.com/cvuchener/libdfs/abi"
	"github.com/cvuchener/libdfs/schema"
)

// bitfieldReader decodes a bitfield's underlying integer and scatters its
// named runs into a destination struct's bool (single-bit run) or
// unsigned-int (multi-bit run) fields, matched by a `dfs:"name"` tag the
// same way compoundReader matches schema member names to Go fields.
type bitfieldReader struct {
	width int
	runs  []schema.BitfieldRun
	// fieldIndex[i] is the struct field index for runs[i], or nil if no
	// destination field claims that run (the run is simply dropped).
	fieldIndex [][]int
	schemaTy   string
}

func (f *ReaderFactory) bitfieldReader(b *schema.Bitfield, destType reflect.Type, ti abi.TypeInfo) (ItemReader, error) {
	if destType.Kind() != reflect.Struct {
		return nil, &TypeMismatchError{Destination: destType.String(), Schema: b.DebugName(), Reason: "bitfield destination must be a struct of named runs"}
	}
	r := &bitfieldReader{width: ti.Size, runs: b.Runs, fieldIndex: make([][]int, len(b.Runs)), schemaTy: b.DebugName()}
	for i, run := range b.Runs {
		if run.Name == "" {
			continue
		}
		if sf, ok := findTaggedField(destType, run.Name); ok {
			r.fieldIndex[i] = sf.Index
		}
	}
	return r, nil
}

func (r *bitfieldReader) Size() int { return r.width }

func (r *bitfieldReader) Read(sess *Session, view MemoryView, dest reflect.Value, discriminator uint) error {
	if len(view.Data) < r.width {
		return &TypeMismatchError{Destination: dest.Type().String(), Schema: r.schemaTy, Reason: "short buffer"}
	}
	var u uint64
	for i := r.width - 1; i >= 0; i-- {
		u = u<<8 | uint64(view.Data[i])
	}
	for i, run := range r.runs {
		idx := r.fieldIndex[i]
		if idx == nil {
			continue
		}
		mask := uint64(1)<<uint(run.Width) - 1
		v := (u >> uint(run.Offset)) & mask
		fv := dest.FieldByIndex(idx)
		switch fv.Kind() {
		case reflect.Bool:
			fv.SetBool(v != 0)
		case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uint:
			fv.SetUint(v)
		case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Int:
			fv.SetInt(int64(v))
		default:
			return &TypeMismatchError{Destination: fv.Type().String(), Schema: run.Name, Reason: "bitfield run destination must be bool or integer"}
		}
	}
	return nil
}
