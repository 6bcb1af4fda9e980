// Package abi supplies the per-target-compiler constants and byte-level
// decoders MemoryLayout and the reader core need to turn schema type kinds
// into concrete sizes, alignments, and wire formats.
package abi

import (
	"encoding/binary"
	"fmt"

	"github.com/cvuchener/libdfs/schema"
)

// Arch is the target instruction-set width.
type Arch int

const (
	X86 Arch = iota
	X86_64
)

// Compiler is the ABI discipline that produced the target binary.
type Compiler int

const (
	GCC Compiler = iota
	GCCCXX11
	MSVC2015
)

func (c Compiler) String() string {
	switch c {
	case GCC:
		return "gcc"
	case GCCCXX11:
		return "gcc-cxx11"
	case MSVC2015:
		return "msvc2015"
	default:
		return "unknown-compiler"
	}
}

// TypeInfo is a computed or tabulated (size, align) pair.
type TypeInfo struct {
	Size, Align int
}

// RoundUp rounds n up to the next multiple of align (align must be a power of two).
func RoundUp(n, align int) int {
	if align <= 1 {
		return n
	}
	return (n + align - 1) &^ (align - 1)
}

// UnalignedPointerError reports a decoded pointer that violates the target
// item's required alignment.
type UnalignedPointerError struct {
	Field   string
	Address uint64
	Align   int
}

func (e *UnalignedPointerError) Error() string {
	return fmt.Sprintf("abi: %s pointer 0x%x is not aligned to %d", e.Field, e.Address, e.Align)
}

// Code identifies this error kind on the wire taxonomy (not a Go type
// name), so callers can branch without a type switch.
func (e *UnalignedPointerError) Code() string { return "UnalignedPointer" }

// InvalidPointerError reports a pointer value that cannot be a valid
// in-process address for the field it was decoded from. No decoder in
// this package returns it.
type InvalidPointerError struct {
	Field   string
	Address uint64
}

func (e *InvalidPointerError) Error() string {
	return fmt.Sprintf("abi: invalid %s pointer 0x%x", e.Field, e.Address)
}

func (e *InvalidPointerError) Code() string { return "InvalidPointer" }

// InvalidLengthError reports a vector/string length that violates the
// decoder's structural invariants (end < begin, non-multiple-of-item-size span, ...).
type InvalidLengthError struct {
	Field string
	Want  string
}

func (e *InvalidLengthError) Error() string {
	return fmt.Sprintf("abi: invalid %s length: %s", e.Field, e.Want)
}

func (e *InvalidLengthError) Code() string { return "InvalidLength" }

// InvalidCapacityError reports a declared capacity inconsistent with length
// or with the ABI's MaxStringCapacity ceiling.
type InvalidCapacityError struct {
	Field string
	Want  string
}

func (e *InvalidCapacityError) Error() string {
	return fmt.Sprintf("abi: invalid %s capacity: %s", e.Field, e.Want)
}

func (e *InvalidCapacityError) Code() string { return "InvalidCapacity" }

// ByteSource lets a string/vector decoder fetch out-of-line bytes (the
// character payload, the COW header preceding it, ...) from the target
// process, mirroring read_string/read_vector's "(process, bytes)" signature.
type ByteSource interface {
	ReadBytes(addr uint64, size int) ([]byte, error)
}

// VectorSpan is a decoded {begin, end, end_capacity} triple reduced to its
// item range.
type VectorSpan struct {
	Base  uint64
	Count int
}

type stringKind int

const (
	gnuCOWString stringKind = iota // pre-C++11 libstdc++ refcounted string
	gnuSSOString                   // C++11 libstdc++ short-string-optimized string
	msvcString                     // MSVC 2015+ short-then-long string
)

// ABI is a complete record of one {architecture, compiler} target: fixed
// primitive/container size tables, a pointer width, and the pointer,
// vector, and string decoders.
type ABI struct {
	Name     string
	Arch     Arch
	Compiler Compiler

	PointerSize, PointerAlign int
	MaxStringCapacity         int

	primitiveInfo map[schema.PrimitiveKind]TypeInfo
	containerInfo map[schema.StdContainerKind]TypeInfo
	strKind       stringKind
}

// PrimitiveInfo returns the (size, align) of a primitive kind under this ABI.
func (a *ABI) PrimitiveInfo(kind schema.PrimitiveKind) (TypeInfo, bool) {
	ti, ok := a.primitiveInfo[kind]
	return ti, ok
}

// ContainerInfo returns the (size, align) of a std container instantiation.
// For size-independent kinds (shared_ptr, vector, map, ...) the params are
// ignored and the tabulated value is returned. For optional/variant, size
// depends on the parameter types: optional = align + size (tag byte plus
// payload, padded); variant = max_align(params) + max_size(params), both
// rounded to the max alignment.
func (a *ABI) ContainerInfo(kind schema.StdContainerKind, params []TypeInfo) (TypeInfo, error) {
	if !kind.RequiresCompleteTypes() {
		ti, ok := a.containerInfo[kind]
		if !ok {
			return TypeInfo{}, fmt.Errorf("abi: no size table entry for container kind %d", kind)
		}
		return ti, nil
	}
	if len(params) == 0 {
		return TypeInfo{}, fmt.Errorf("abi: optional/variant container with no type parameters")
	}
	maxAlign, maxSize := 1, 0
	for _, p := range params {
		if p.Align > maxAlign {
			maxAlign = p.Align
		}
		if p.Size > maxSize {
			maxSize = p.Size
		}
	}
	switch kind {
	case schema.StdOptional:
		return TypeInfo{Size: RoundUp(maxAlign+maxSize, maxAlign), Align: maxAlign}, nil
	case schema.StdVariant:
		return TypeInfo{Size: RoundUp(maxAlign+maxSize, maxAlign), Align: maxAlign}, nil
	default:
		return TypeInfo{}, fmt.Errorf("abi: container kind %d unexpectedly requires complete types", kind)
	}
}

// ReadPointer little-endian decodes a pointer-sized value from the start of b.
func (a *ABI) ReadPointer(b []byte) (uint64, error) {
	if len(b) < a.PointerSize {
		return 0, fmt.Errorf("abi: pointer buffer too short: have %d, need %d", len(b), a.PointerSize)
	}
	return a.readUintAt(b, 0, a.PointerSize), nil
}

func (a *ABI) readUintAt(b []byte, offset, width int) uint64 {
	switch width {
	case 4:
		return uint64(binary.LittleEndian.Uint32(b[offset : offset+4]))
	case 8:
		return binary.LittleEndian.Uint64(b[offset : offset+8])
	default:
		var v uint64
		for i := width - 1; i >= 0; i-- {
			v = v<<8 | uint64(b[offset+i])
		}
		return v
	}
}

// ReadVector decodes a {begin, end, end_capacity} triple from b (three
// consecutive pointer-sized fields) into the range of items it describes.
// An all-zero triple is the empty vector; otherwise all three pointers
// must be item-aligned, ordered begin <= end <= end_capacity, and span
// whole items.
func (a *ABI) ReadVector(b []byte, item TypeInfo) (VectorSpan, error) {
	need := 3 * a.PointerSize
	if len(b) < need {
		return VectorSpan{}, fmt.Errorf("abi: vector buffer too short: have %d, need %d", len(b), need)
	}
	begin := a.readUintAt(b, 0, a.PointerSize)
	end := a.readUintAt(b, a.PointerSize, a.PointerSize)
	endCap := a.readUintAt(b, 2*a.PointerSize, a.PointerSize)
	if begin == 0 && end == 0 && endCap == 0 {
		return VectorSpan{}, nil
	}
	align := item.Align
	if align < 1 {
		align = 1
	}
	if begin%uint64(align) != 0 || end%uint64(align) != 0 || endCap%uint64(align) != 0 {
		return VectorSpan{}, &UnalignedPointerError{Field: "vector", Address: begin, Align: align}
	}
	if end < begin {
		return VectorSpan{}, &InvalidLengthError{Field: "vector", Want: "end >= begin"}
	}
	if endCap < end {
		return VectorSpan{}, &InvalidCapacityError{Field: "vector", Want: "end_capacity >= end"}
	}
	span := end - begin
	capSpan := endCap - begin
	size := uint64(item.Size)
	if size == 0 || span%size != 0 || capSpan%size != 0 {
		return VectorSpan{}, &InvalidLengthError{Field: "vector", Want: "span a multiple of item size"}
	}
	return VectorSpan{Base: begin, Count: int(span / size)}, nil
}

// ReadString decodes the string object whose bytes are b and whose own
// address (needed by the GNU C++11 SSO check) is addr, fetching any
// out-of-line character payload or refcount header through src.
func (a *ABI) ReadString(src ByteSource, addr uint64, b []byte) (string, error) {
	switch a.strKind {
	case gnuCOWString:
		return a.readGNUCOWString(src, b)
	case gnuSSOString:
		return a.readGNUSSOString(src, addr, b)
	default:
		return a.readMSVCString(src, b)
	}
}

// readGNUCOWString decodes pre-C++11 libstdc++'s refcounted string: the
// object is a single char* pointing just past a {length, capacity,
// refcount} header of three words.
func (a *ABI) readGNUCOWString(src ByteSource, b []byte) (string, error) {
	w := a.PointerSize
	if len(b) < w {
		return "", fmt.Errorf("abi: string buffer too short")
	}
	data := a.readUintAt(b, 0, w)
	if data == 0 {
		return "", nil
	}
	header, err := src.ReadBytes(data-uint64(3*w), 2*w)
	if err != nil {
		return "", err
	}
	length := a.readUintAt(header, 0, w)
	capacity := a.readUintAt(header, w, w)
	if capacity > uint64(a.MaxStringCapacity) || length > capacity {
		return "", &InvalidCapacityError{Field: "string", Want: "length <= capacity <= MaxStringCapacity"}
	}
	payload, err := src.ReadBytes(data, int(length))
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// readGNUSSOString decodes C++11 libstdc++'s short-string-optimized
// string: {char* data; size_t length; union{char local[16]; size_t cap;}}.
// addr is the address of the string object itself, needed to recognize the
// inline case (data points at the object's own local buffer).
func (a *ABI) readGNUSSOString(src ByteSource, addr uint64, b []byte) (string, error) {
	w := a.PointerSize
	need := 2*w + 16
	if len(b) < need {
		return "", fmt.Errorf("abi: string buffer too short")
	}
	data := a.readUintAt(b, 0, w)
	length := a.readUintAt(b, w, w)
	localAddr := addr + uint64(2*w)
	if addr != 0 && data == localAddr {
		if length > 15 {
			return "", &InvalidLengthError{Field: "string", Want: "inline length <= 15"}
		}
		return string(b[2*w : 2*w+int(length)]), nil
	}
	capacity := a.readUintAt(b, 2*w, w)
	if capacity > uint64(a.MaxStringCapacity) || length > capacity {
		return "", &InvalidCapacityError{Field: "string", Want: "length <= capacity <= MaxStringCapacity"}
	}
	if data == 0 {
		return "", nil
	}
	payload, err := src.ReadBytes(data, int(length))
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// readMSVCString decodes MSVC 2015+'s "short-then-long" string: a 16-byte
// union (inline char buffer or out-of-line pointer) followed by a length
// word and a capacity word; the string is inline iff capacity <= 15.
func (a *ABI) readMSVCString(src ByteSource, b []byte) (string, error) {
	w := a.PointerSize
	need := 16 + 2*w
	if len(b) < need {
		return "", fmt.Errorf("abi: string buffer too short")
	}
	length := a.readUintAt(b, 16, w)
	capacity := a.readUintAt(b, 16+w, w)
	if capacity > uint64(a.MaxStringCapacity) || length > capacity {
		return "", &InvalidCapacityError{Field: "string", Want: "length <= capacity <= MaxStringCapacity"}
	}
	if capacity <= 15 {
		if length > 16 {
			return "", &InvalidLengthError{Field: "string", Want: "inline length <= 16"}
		}
		return string(b[:length]), nil
	}
	data := a.readUintAt(b, 0, w)
	if data == 0 {
		return "", nil
	}
	payload, err := src.ReadBytes(data, int(length))
	if err != nil {
		return "", err
	}
	return string(payload), nil
}
