package reader

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"

	"github.com/cvuchener/libdfs/schema"
)

// ItemReader is the common shape of every destination-type x schema-type
// reader: the number of source bytes it consumes, and
// a function that decodes those bytes (plus any session-driven follow-on
// reads for out-of-line data) into a destination reflect.Value.
//
// discriminator carries the union-alternative index for readers that need
// one (SizeMax when not applicable); every other reader ignores it.
type ItemReader interface {
	Size() int
	Read(sess *Session, view MemoryView, dest reflect.Value, discriminator uint) error
}

// intKindSign reports whether a primitive integer kind is signed; widths
// come from the ABI's own primitive table, not a hardcoded
// constant, since long/size_t vary by platform.
func intKindSign(k schema.PrimitiveKind) (signed bool, ok bool) {
	switch k {
	case schema.Int8, schema.Int16, schema.Int32, schema.Int64, schema.Long:
		return true, true
	case schema.UInt8, schema.UInt16, schema.UInt32, schema.UInt64, schema.ULong, schema.SizeT, schema.Char, schema.Bool:
		return false, true
	default:
		return false, false
	}
}

// integralReader loads a width-bytes little-endian integer, sign-extends
// if signed, and stores it into an integer-kinded (or bool-kinded)
// destination.
type integralReader struct {
	width    int
	signed   bool
	schemaTy string
}

func (r *integralReader) Size() int { return r.width }

func (r *integralReader) Read(sess *Session, view MemoryView, dest reflect.Value, discriminator uint) error {
	if len(view.Data) < r.width {
		return fmt.Errorf("reader: integral read needs %d bytes, view has %d", r.width, len(view.Data))
	}
	var u uint64
	for i := r.width - 1; i >= 0; i-- {
		u = u<<8 | uint64(view.Data[i])
	}
	switch dest.Kind() {
	case reflect.Bool:
		dest.SetBool(u != 0)
		return nil
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Int:
		if dest.Type().Bits()/8 < r.width {
			return &TypeMismatchError{Destination: dest.Type().String(), Schema: r.schemaTy, Reason: "destination narrower than schema field"}
		}
		var v int64
		if r.signed {
			v = signExtend(u, r.width)
		} else {
			v = int64(u)
		}
		dest.SetInt(v)
		return nil
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uint, reflect.Uintptr:
		if dest.Type().Bits()/8 < r.width {
			return &TypeMismatchError{Destination: dest.Type().String(), Schema: r.schemaTy, Reason: "destination narrower than schema field"}
		}
		dest.SetUint(u)
		return nil
	default:
		return &TypeMismatchError{Destination: dest.Type().String(), Schema: r.schemaTy, Reason: "not an integer-like Go kind"}
	}
}

func signExtend(u uint64, width int) int64 {
	bits := uint(width * 8)
	if bits >= 64 {
		return int64(u)
	}
	shift := 64 - bits
	return int64(u<<shift) >> shift
}

// floatReader loads an IEEE-754 single or double into a float-kinded
// destination. A float64 destination accepts either schema width; a
// float32 destination only a 4-byte field.
type floatReader struct {
	width    int
	schemaTy string
}

func (r *floatReader) Size() int { return r.width }

func (r *floatReader) Read(sess *Session, view MemoryView, dest reflect.Value, discriminator uint) error {
	if len(view.Data) < r.width {
		return fmt.Errorf("reader: float read needs %d bytes, view has %d", r.width, len(view.Data))
	}
	switch dest.Kind() {
	case reflect.Float32, reflect.Float64:
	default:
		return &TypeMismatchError{Destination: dest.Type().String(), Schema: r.schemaTy, Reason: "not a float Go kind"}
	}
	if dest.Type().Bits()/8 < r.width {
		return &TypeMismatchError{Destination: dest.Type().String(), Schema: r.schemaTy, Reason: "destination narrower than schema field"}
	}
	if r.width == 4 {
		dest.SetFloat(float64(math.Float32frombits(binary.LittleEndian.Uint32(view.Data))))
	} else {
		dest.SetFloat(math.Float64frombits(binary.LittleEndian.Uint64(view.Data)))
	}
	return nil
}

// stringReader defers to the ABI's read_string decoder.
type stringReader struct {
	size int
}

func (r *stringReader) Size() int { return r.size }

func (r *stringReader) Read(sess *Session, view MemoryView, dest reflect.Value, discriminator uint) error {
	if dest.Kind() != reflect.String {
		return &TypeMismatchError{Destination: dest.Type().String(), Schema: "stl-string", Reason: "not a Go string"}
	}
	s, err := sess.ABI().ReadString(sess, view.Address, view.Data)
	if err != nil {
		return err
	}
	dest.SetString(s)
	return nil
}

// pointerAddressReader stores a raw pointer's address into an integral
// platform-address-typed destination without dereferencing it.
type pointerAddressReader struct {
	width int
}

func (r *pointerAddressReader) Size() int { return r.width }

func (r *pointerAddressReader) Read(sess *Session, view MemoryView, dest reflect.Value, discriminator uint) error {
	addr, err := sess.ABI().ReadPointer(view.Data)
	if err != nil {
		return err
	}
	switch dest.Kind() {
	case reflect.Uint64, reflect.Uint, reflect.Uintptr:
		dest.SetUint(addr)
		return nil
	default:
		return &TypeMismatchError{Destination: dest.Type().String(), Schema: "pointer", Reason: "not a platform address type"}
	}
}
