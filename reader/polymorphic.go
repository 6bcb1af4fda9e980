package reader

import (
	"reflect"

	"github.com/cvuchener/libdfs/schema"
)

// polyVariant is one concrete destination type registered under a
// PolymorphicReader: its schema compound, its Go type, and the compound
// reader built for that pairing.
type polyVariant struct {
	compound *schema.Compound
	goType   reflect.Type
	reader   *CompoundReader
}

// PolymorphicReader dispatches on a read object's first pointer-sized word
// (its vtable pointer, corrected for the image base) to the registered
// concrete type whose vtable address matches.
type PolymorphicReader struct {
	factory      *ReaderFactory
	ifaceType    reflect.Type
	baseCompound *schema.Compound
	byVTable     map[uint64]*polyVariant
	baseVariant  *polyVariant // registered concrete Base, used by the "base" fallback
	fallback     string       // "nullptr" | "base" | "error"
	log          func(string)
}

// PolymorphicReaderFor returns the (possibly still being registered)
// dispatcher for ifaceType over baseCompound, building an empty one on
// first request. Callers must Register each concrete variant (and
// optionally SetFallback) before any read reaches it: dispatch runs over a
// closed set fixed at factory initialization.
func (f *ReaderFactory) PolymorphicReaderFor(ifaceType reflect.Type, baseCompound *schema.Compound) (*PolymorphicReader, error) {
	if ifaceType.Kind() != reflect.Interface {
		return nil, &TypeMismatchError{Destination: ifaceType.String(), Schema: baseCompound.DebugName(), Reason: "polymorphic destination must be a Go interface type"}
	}
	if pr, ok := f.polyCache[ifaceType]; ok {
		return pr, nil
	}
	pr := &PolymorphicReader{
		factory:      f,
		ifaceType:    ifaceType,
		baseCompound: baseCompound,
		byVTable:     map[uint64]*polyVariant{},
		fallback:     "base",
	}
	f.polyCache[ifaceType] = pr
	return pr, nil
}

// SetLogger installs the warning sink used for unregistered vtables
// encountered during fallback resolution.
func (pr *PolymorphicReader) SetLogger(log func(string)) { pr.log = log }

// SetFallback chooses the recovery strategy for an unrecognized vtable:
// "nullptr", "base", or "error". The default is "base".
func (pr *PolymorphicReader) SetFallback(mode string) { pr.fallback = mode }

// Register adds a concrete variant. asBase marks goType as the reader used
// by the "base" fallback when no vtable address matches (normally the Base
// destination type itself, when Base is concrete).
func (pr *PolymorphicReader) Register(compound *schema.Compound, goType reflect.Type, asBase bool) error {
	if !reflect.PointerTo(goType).Implements(pr.ifaceType) {
		return &TypeMismatchError{Destination: goType.String(), Schema: compound.DebugName(), Reason: "variant does not implement the polymorphic destination interface"}
	}
	cr, err := pr.factory.CompoundReaderFor(goType, compound)
	if err != nil {
		return err
	}
	v := &polyVariant{compound: compound, goType: goType, reader: cr}
	if pr.factory.version != nil {
		if addr, ok := pr.factory.version.VtableAddrs[compound.SymbolName()]; ok {
			pr.byVTable[addr] = v
		} else if pr.log != nil {
			pr.log("reader: no vtable address for " + compound.SymbolName())
		}
	}
	if asBase {
		pr.baseVariant = v
	}
	return nil
}

// ReadAt reads the object at addr: one pointer-sized dispatch word, then
// the matched (or fallback) variant's full compound. It returns an
// invalid reflect.Value (ok, no error) for the "nullptr" fallback.
func (pr *PolymorphicReader) ReadAt(sess *Session, addr uint64) (reflect.Value, error) {
	word, err := sess.Read(addr, sess.ABI().PointerSize)
	if err != nil {
		return reflect.Value{}, err
	}
	vtableAddr, err := sess.ABI().ReadPointer(word)
	if err != nil {
		return reflect.Value{}, err
	}
	candidate := vtableAddr - uint64(sess.BaseOffset())
	v, ok := pr.byVTable[candidate]
	if !ok {
		v, err = pr.resolveFallback()
		if err != nil {
			return reflect.Value{}, err
		}
		if v == nil {
			return reflect.Value{}, nil
		}
	}
	data, err := sess.Read(addr, v.reader.Size())
	if err != nil {
		return reflect.Value{}, err
	}
	target := reflect.New(v.goType)
	if err := v.reader.Read(sess, MemoryView{Address: addr, Data: data}, target.Elem(), SizeMax); err != nil {
		return reflect.Value{}, err
	}
	return target, nil
}

func (pr *PolymorphicReader) resolveFallback() (*polyVariant, error) {
	switch pr.fallback {
	case "nullptr":
		return nil, nil
	case "error":
		return nil, &AbstractTypeError{Base: pr.baseCompound.DebugName()}
	default: // "base"
		if pr.baseVariant == nil {
			return nil, &AbstractTypeError{Base: pr.baseCompound.DebugName()}
		}
		return pr.baseVariant, nil
	}
}
