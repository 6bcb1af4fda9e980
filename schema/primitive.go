package schema

// PrimitiveKind enumerates the primitive and opaque-library types the ABI
// knows how to size and decode.
type PrimitiveKind int

const (
	Int8 PrimitiveKind = iota
	UInt8
	Int16
	UInt16
	Int32
	UInt32
	Int64
	UInt64
	Char
	Bool
	Long
	ULong
	SizeT
	SFloat
	DFloat
	StdString
	StdFStream
	StdMutex
	StdConditionVariable
	StdFunction
	StdFsPath
	StdBitVector
	primitiveKindCount
)

var primitiveTagNames = map[string]PrimitiveKind{
	"int8_t":   Int8,
	"uint8_t":  UInt8,
	"int16_t":  Int16,
	"uint16_t": UInt16,
	"int32_t":  Int32,
	"uint32_t": UInt32,
	"int64_t":  Int64,
	"uint64_t": UInt64,
	"char":     Char,
	"bool":     Bool,
	"long":     Long,
	"ulong":    ULong,
	"size_t":   SizeT,
	"float":    SFloat,
	"double":   DFloat,
	"stl-string":           StdString,
	"stl-fstream":          StdFStream,
	"stl-mutex":            StdMutex,
	"stl-condition-variable": StdConditionVariable,
	"stl-function":         StdFunction,
	"fs-path":              StdFsPath,
	"bit-vector":           StdBitVector,
}

// PrimitiveKindFromTag looks up the primitive kind for a schema XML tag or
// type-name, mirroring PrimitiveType::typeFromTagName.
func PrimitiveKindFromTag(name string) (PrimitiveKind, bool) {
	k, ok := primitiveTagNames[name]
	return k, ok
}

// Primitive is a fixed-width or ABI-dependent scalar, or an opaque library
// type treated as an indivisible blob (string, fstream, mutex, ...).
type Primitive struct {
	Kind PrimitiveKind
	Name string // empty for the anonymous built-in instances
}

func (p *Primitive) DebugName() string {
	if p.Name != "" {
		return p.Name
	}
	return "<primitive>"
}
