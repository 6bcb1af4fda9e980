package reader

import (
	"encoding/binary"
	"reflect"

	"github.com/cvuchener/libdfs/abi"
	"github.com/cvuchener/libdfs/schema"
)

// bitVectorReader expands a df-flagarray's {bits *u8; size u32} into a
// dense []bool of length size*8.
type bitVectorReader struct {
	width   int
	bitsOff int
	sizeOff int
}

func (f *ReaderFactory) bitVectorReader(c *schema.DFContainer, destType reflect.Type, ti abi.TypeInfo) (ItemReader, error) {
	if destType.Kind() != reflect.Slice || destType.Elem().Kind() != reflect.Bool {
		return nil, &TypeMismatchError{Destination: destType.String(), Schema: c.DebugName(), Reason: "bit-vector destination must be []bool"}
	}
	cl, ok := f.ml.Compound(c.Compound)
	if !ok {
		return nil, &TypeMismatchError{Destination: destType.String(), Schema: c.DebugName(), Reason: "no computed layout"}
	}
	return &bitVectorReader{
		width:   ti.Size,
		bitsOff: cl.MemberOffsets[schema.FlagArrayBits],
		sizeOff: cl.MemberOffsets[schema.FlagArraySize],
	}, nil
}

func (r *bitVectorReader) Size() int { return r.width }

func (r *bitVectorReader) Read(sess *Session, view MemoryView, dest reflect.Value, discriminator uint) error {
	bitsAddr, err := sess.ABI().ReadPointer(view.Data[r.bitsOff:])
	if err != nil {
		return err
	}
	size := int(binary.LittleEndian.Uint32(view.Data[r.sizeOff : r.sizeOff+4]))
	out := make([]bool, size*8)
	if bitsAddr != 0 && size > 0 {
		bytes, err := sess.Read(bitsAddr, size)
		if err != nil {
			return err
		}
		for i, b := range bytes {
			for bit := 0; bit < 8; bit++ {
				out[i*8+bit] = b&(1<<uint(bit)) != 0
			}
		}
	}
	dest.Set(reflect.ValueOf(out))
	return nil
}
