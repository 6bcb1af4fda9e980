package reader

import (
	"encoding/binary"
	"fmt"
	"reflect"

	"github.com/cvuchener/libdfs/abi"
	"github.com/cvuchener/libdfs/schema"
)

// sequenceReader is the common shape behind vector/array/static-array
// readers: a fixed container footprint plus an
// itemFetch strategy that knows how to find the item addresses and read
// them, concurrently, into a destination slice.
type sequenceReader struct {
	width    int
	itemSize int
	item     ItemReader
	fetch    func(sess *Session, view MemoryView) (base uint64, count int, fixed bool, err error)
	schemaTy string
}

func (r *sequenceReader) Size() int { return r.width }

func (r *sequenceReader) Read(sess *Session, view MemoryView, dest reflect.Value, discriminator uint) error {
	base, count, fixed, err := r.fetch(sess, view)
	if err != nil {
		return err
	}
	if dest.Kind() == reflect.Array {
		if dest.Len() != count {
			return &TypeMismatchError{Destination: dest.Type().String(), Schema: r.schemaTy, Reason: "array length does not match schema extent"}
		}
	} else if dest.Kind() == reflect.Slice {
		dest.Set(reflect.MakeSlice(dest.Type(), count, count))
	} else {
		return &TypeMismatchError{Destination: dest.Type().String(), Schema: r.schemaTy, Reason: "sequence destination must be a Go slice or array"}
	}
	if count == 0 {
		return nil
	}
	var data []byte
	if fixed {
		// Items already live inside view (a static array embedded in its
		// parent); base is the offset into view.Data, not an address.
		data = view.Data[base:]
	} else {
		data, err = sess.Read(base, count*r.itemSize)
		if err != nil {
			return err
		}
	}
	addr := base
	if fixed {
		addr = view.Address + base
	}
	fns := make([]func() error, count)
	for i := 0; i < count; i++ {
		i := i
		fns[i] = func() error {
			itemView := MemoryView{Address: addr + uint64(i*r.itemSize), Data: data[i*r.itemSize : (i+1)*r.itemSize]}
			return r.item.Read(sess, itemView, dest.Index(i), SizeMax)
		}
	}
	return runConcurrent(fns)
}

// staticArrayReader builds a sequenceReader over an in-line, fixed-extent
// item run.
func (f *ReaderFactory) staticArrayReader(a *schema.StaticArray, destType reflect.Type, ti abi.TypeInfo) (ItemReader, error) {
	elemType, err := sequenceElemType(destType)
	if err != nil {
		return nil, &TypeMismatchError{Destination: destType.String(), Schema: a.DebugName(), Reason: err.Error()}
	}
	itemReader, err := f.ItemReaderFor(a.Item, elemType)
	if err != nil {
		return nil, err
	}
	extent := a.ResolvedExtent()
	return &sequenceReader{
		width:    ti.Size,
		itemSize: itemReader.Size(),
		item:     itemReader,
		schemaTy: a.DebugName(),
		fetch: func(sess *Session, view MemoryView) (uint64, int, bool, error) {
			return 0, extent, true, nil
		},
	}, nil
}

// stdContainerReader handles the StdContainer kinds a sequence-of-T or
// pointer-like reader can serve (shared_ptr and weak_ptr are both read as a
// pointer to their item); kinds without a modeled reader (maps, sets,
// deque, optional, variant, future) report NotImplemented rather than
// silently misreading their layout.
func (f *ReaderFactory) stdContainerReader(c *schema.StdContainer, destType reflect.Type, ti abi.TypeInfo) (ItemReader, error) {
	switch c.Kind {
	case schema.StdVector:
		return f.vectorReader(c, destType, ti)
	case schema.StdSharedPtr, schema.StdWeakPtr:
		p := &schema.Pointer{Name: c.DebugName(), Target: c.ItemType()}
		return f.pointerReader(p, destType, ti)
	default:
		return nil, &NotImplementedError{Destination: destType.String(), Schema: c.DebugName()}
	}
}

func (f *ReaderFactory) vectorReader(c *schema.StdContainer, destType reflect.Type, ti abi.TypeInfo) (ItemReader, error) {
	elemType, err := sequenceElemType(destType)
	if err != nil {
		return nil, &TypeMismatchError{Destination: destType.String(), Schema: c.DebugName(), Reason: err.Error()}
	}
	itemReader, err := f.ItemReaderFor(c.ItemType(), elemType)
	if err != nil {
		return nil, err
	}
	itemInfo, ok := f.ml.TypeInfo(c.ItemType())
	if !ok {
		return nil, &TypeMismatchError{Destination: destType.String(), Schema: c.DebugName(), Reason: "item type has no computed layout"}
	}
	return &sequenceReader{
		width:    ti.Size,
		itemSize: itemReader.Size(),
		item:     itemReader,
		schemaTy: c.DebugName(),
		fetch: func(sess *Session, view MemoryView) (uint64, int, bool, error) {
			span, err := sess.ABI().ReadVector(view.Data, itemInfo)
			if err != nil {
				return 0, 0, false, err
			}
			return span.Base, span.Count, false, nil
		},
	}, nil
}

// dfContainerReader dispatches df-array, df-flagarray and
// df-linked-list to their readers.
func (f *ReaderFactory) dfContainerReader(c *schema.DFContainer, destType reflect.Type, ti abi.TypeInfo) (ItemReader, error) {
	switch c.Kind {
	case schema.DFArray:
		return f.dfArrayReader(c, destType, ti)
	case schema.DFFlagArray:
		return f.bitVectorReader(c, destType, ti)
	case schema.DFLinkedList:
		return f.linkedListReader(c, destType, ti)
	default:
		return nil, &NotImplementedError{Destination: destType.String(), Schema: c.DebugName()}
	}
}

func (f *ReaderFactory) dfArrayReader(c *schema.DFContainer, destType reflect.Type, ti abi.TypeInfo) (ItemReader, error) {
	elemType, err := sequenceElemType(destType)
	if err != nil {
		return nil, &TypeMismatchError{Destination: destType.String(), Schema: c.DebugName(), Reason: err.Error()}
	}
	itemReader, err := f.ItemReaderFor(c.ItemType(), elemType)
	if err != nil {
		return nil, err
	}
	cl, ok := f.ml.Compound(c.Compound)
	if !ok {
		return nil, &TypeMismatchError{Destination: destType.String(), Schema: c.DebugName(), Reason: "no computed layout"}
	}
	dataOff := cl.MemberOffsets[schema.ArrayData]
	sizeOff := cl.MemberOffsets[schema.ArraySize]
	return &sequenceReader{
		width:    ti.Size,
		itemSize: itemReader.Size(),
		item:     itemReader,
		schemaTy: c.DebugName(),
		fetch: func(sess *Session, view MemoryView) (uint64, int, bool, error) {
			base, err := sess.ABI().ReadPointer(view.Data[dataOff:])
			if err != nil {
				return 0, 0, false, err
			}
			count := int(binary.LittleEndian.Uint16(view.Data[sizeOff : sizeOff+2]))
			if base == 0 {
				count = 0
			}
			return base, count, false, nil
		},
	}, nil
}

func (f *ReaderFactory) linkedListReader(c *schema.DFContainer, destType reflect.Type, ti abi.TypeInfo) (ItemReader, error) {
	elemType, err := sequenceElemType(destType)
	if err != nil {
		return nil, &TypeMismatchError{Destination: destType.String(), Schema: c.DebugName(), Reason: err.Error()}
	}
	// The node's item member is a pointer to T, so the per-node reader runs
	// over that pointer type and the destination element is a Go pointer.
	itemPtr := c.Compound.Members[schema.LinkedListItem].Type
	itemReader, err := f.ItemReaderFor(itemPtr, elemType)
	if err != nil {
		return nil, err
	}
	cl, ok := f.ml.Compound(c.Compound)
	if !ok {
		return nil, &TypeMismatchError{Destination: destType.String(), Schema: c.DebugName(), Reason: "no computed layout"}
	}
	return &linkedListReader{
		width:    ti.Size,
		nodeSize: cl.Size,
		itemOff:  cl.MemberOffsets[schema.LinkedListItem],
		nextOff:  cl.MemberOffsets[schema.LinkedListNext],
		item:     itemReader,
		schemaTy: c.DebugName(),
	}, nil
}

// linkedListReader walks a df-linked-list starting from its `next`
// member, collecting each node's item until a null next ends the list.
// There is no cycle protection: the schema asserts acyclicity.
type linkedListReader struct {
	width    int
	nodeSize int
	itemOff  int
	nextOff  int
	item     ItemReader
	schemaTy string
}

func (r *linkedListReader) Size() int { return r.width }

func (r *linkedListReader) Read(sess *Session, view MemoryView, dest reflect.Value, discriminator uint) error {
	if dest.Kind() != reflect.Slice {
		return &TypeMismatchError{Destination: dest.Type().String(), Schema: r.schemaTy, Reason: "linked-list destination must be a Go slice"}
	}
	next, err := sess.ABI().ReadPointer(view.Data[r.nextOff:])
	if err != nil {
		return err
	}
	elemType := dest.Type().Elem()
	var items []reflect.Value
	for next != 0 {
		node, err := sess.Read(next, r.nodeSize)
		if err != nil {
			return err
		}
		itemView := MemoryView{Address: next + uint64(r.itemOff), Data: node[r.itemOff : r.itemOff+r.item.Size()]}
		v := reflect.New(elemType).Elem()
		if err := r.item.Read(sess, itemView, v, SizeMax); err != nil {
			return err
		}
		items = append(items, v)
		next, err = sess.ABI().ReadPointer(node[r.nextOff:])
		if err != nil {
			return err
		}
	}
	out := reflect.MakeSlice(dest.Type(), len(items), len(items))
	for i, v := range items {
		out.Index(i).Set(v)
	}
	dest.Set(out)
	return nil
}

// sequenceElemType validates that destType is a Go slice or array and
// returns its element type.
func sequenceElemType(destType reflect.Type) (reflect.Type, error) {
	switch destType.Kind() {
	case reflect.Slice, reflect.Array:
		return destType.Elem(), nil
	default:
		return nil, fmt.Errorf("destination must be a Go slice or array")
	}
}
