package abi

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cvuchener/libdfs/schema"
)

// The six concrete ABIs this package ships, one per {compiler, arch} pair
// df-structures targets. Every primitive and container entry is the byte
// layout of the target's actual runtime library: libstdc++ (pre-C++11 COW
// and C++11 ABIs) for the GNU targets, the MSVC 2015+ STL for the Windows
// targets. Sizes are written as pointer-width formulas so one constructor
// covers both architectures of a compiler family.
var (
	GCC32        = newGNUABI("gcc-x86", X86, GCC)
	GCC64        = newGNUABI("gcc-x86_64", X86_64, GCC)
	GCCCXX1132   = newGNUABI("gcc-cxx11-x86", X86, GCCCXX11)
	GCCCXX1164   = newGNUABI("gcc-cxx11-x86_64", X86_64, GCCCXX11)
	MSVC201532   = newMSVCABI("msvc2015-x86", X86)
	MSVC201564   = newMSVCABI("msvc2015-x86_64", X86_64)
)

func ptrWidth(arch Arch) int {
	if arch == X86_64 {
		return 8
	}
	return 4
}

func newGNUABI(name string, arch Arch, compiler Compiler) *ABI {
	ptr := ptrWidth(arch)
	strKind := gnuCOWString
	if compiler == GCCCXX11 {
		strKind = gnuSSOString
	}
	a := &ABI{
		Name:              name,
		Arch:              arch,
		Compiler:          compiler,
		PointerSize:       ptr,
		PointerAlign:      ptr,
		MaxStringCapacity: 1 << 30,
		strKind:           strKind,
	}
	i64Align := 8
	if arch == X86 {
		i64Align = 4 // i386 System V ABI: 8-byte scalars align to 4
	}
	longWidth := 4
	if arch == X86_64 {
		longWidth = 8 // LP64
	}
	// Pre-C++11 std::string is one pointer into a refcounted buffer; the
	// C++11 ABI is {char*, size_t, union{char[16]; size_t}}. Deque follows
	// the same split: the old ABI's three-word deque vs. the C++11
	// {map, map_size, start iterator, finish iterator} with two four-word
	// iterators. std::filesystem::path is a C++11 string plus a size_t.
	stringSize := ptr
	dequeSize := 3 * ptr
	fsPathSize := 3*ptr + 16
	if strKind == gnuSSOString {
		stringSize = 2*ptr + 16
		dequeSize = 10 * ptr
	}
	a.primitiveInfo = map[schema.PrimitiveKind]TypeInfo{
		schema.Int8:   {1, 1},
		schema.UInt8:  {1, 1},
		schema.Int16:  {2, 2},
		schema.UInt16: {2, 2},
		schema.Int32:  {4, 4},
		schema.UInt32: {4, 4},
		schema.Int64:  {8, i64Align},
		schema.UInt64: {8, i64Align},
		schema.Char:   {1, 1},
		schema.Bool:   {1, 1},
		schema.Long:   {longWidth, longWidth},
		schema.ULong:  {longWidth, longWidth},
		schema.SizeT:  {ptr, ptr},
		schema.SFloat: {4, 4},
		schema.DFloat: {8, i64Align},
		schema.StdString: {stringSize, ptr},
		// basic_filebuf carries its locale, codecvt state and an 8-byte
		// pessimistic mbstate on top of basic_iostream's two vtable-laden
		// bases.
		schema.StdFStream:           {61*ptr + 40, ptr},
		schema.StdMutex:             {4*ptr + 8, ptr},  // pthread_mutex_t
		schema.StdConditionVariable: {48, ptr},         // pthread_cond_t, both arches
		schema.StdFunction:          {4 * ptr, ptr},    // two-word functor buffer + invoker + manager
		schema.StdFsPath:            {fsPathSize, ptr},
		schema.StdBitVector:         {5 * ptr, ptr},    // two {word*, offset} iterators + end-of-storage
	}
	a.containerInfo = map[schema.StdContainerKind]TypeInfo{
		schema.StdSharedPtr: {2 * ptr, ptr},
		schema.StdWeakPtr:   {2 * ptr, ptr},
		schema.StdVector:    {3 * ptr, ptr},
		schema.StdDeque:     {dequeSize, ptr},
		// _Rb_tree: padded comparator + {color, parent, left, right}
		// header node + node count.
		schema.StdSet:          {6 * ptr, ptr},
		schema.StdMap:          {6 * ptr, ptr},
		// _Hashtable: buckets, bucket count, before-begin node, element
		// count, rehash policy, single-bucket slot.
		schema.StdUnorderedMap: {7 * ptr, ptr},
		schema.StdFuture:       {2 * ptr, ptr}, // shared state pointer + refcount
	}
	return a
}

func newMSVCABI(name string, arch Arch) *ABI {
	ptr := ptrWidth(arch)
	stringSize := 16 + 2*ptr
	a := &ABI{
		Name:              name,
		Arch:              arch,
		Compiler:          MSVC2015,
		PointerSize:       ptr,
		PointerAlign:      ptr,
		MaxStringCapacity: 1 << 30,
		strKind:           msvcString,
	}
	a.primitiveInfo = map[schema.PrimitiveKind]TypeInfo{
		schema.Int8:   {1, 1},
		schema.UInt8:  {1, 1},
		schema.Int16:  {2, 2},
		schema.UInt16: {2, 2},
		schema.Int32:  {4, 4},
		schema.UInt32: {4, 4},
		schema.Int64:  {8, 8}, // 8-byte scalars keep natural alignment even on x86
		schema.UInt64: {8, 8},
		schema.Char:   {1, 1},
		schema.Bool:   {1, 1},
		schema.Long:   {4, 4}, // LLP64: long stays 32-bit even on win64
		schema.ULong:  {4, 4},
		schema.SizeT:  {ptr, ptr},
		schema.SFloat: {4, 4},
		schema.DFloat: {8, 8},
		schema.StdString: {stringSize, ptr}, // 16-byte short buffer + size + capacity
		// basic_filebuf's codecvt machinery plus the stdio-level buffer
		// bookkeeping; 8-aligned for its embedded 64-bit positions.
		schema.StdFStream:           {22*ptr + 104, 8},
		schema.StdMutex:             {8*ptr + 16, ptr}, // _Mtx_internal_imp_t, CRT critical section inside
		schema.StdConditionVariable: {8*ptr + 8, ptr},  // _Cnd_internal_imp_t
		schema.StdFunction:          {6*ptr + 16, 8},   // small-functor space sized for two pointers-and-change
		schema.StdFsPath:            {2*ptr + 16, ptr}, // a wide std::string
		schema.StdBitVector:         {4 * ptr, ptr},    // vector<unsigned> + bit size word
	}
	a.containerInfo = map[schema.StdContainerKind]TypeInfo{
		schema.StdSharedPtr: {2 * ptr, ptr},
		schema.StdWeakPtr:   {2 * ptr, ptr},
		schema.StdVector:    {3 * ptr, ptr},
		// Container proxy pointer + {map, map size, first offset, total
		// size}.
		schema.StdDeque:        {5 * ptr, ptr},
		schema.StdSet:          {2 * ptr, ptr}, // _Tree: head node pointer + size
		schema.StdMap:          {2 * ptr, ptr},
		schema.StdUnorderedMap: {8 * ptr, ptr}, // _Hash: list + traits + bucket vector + mask/max
		schema.StdFuture:       {2 * ptr, ptr},
	}
	return a
}

// FromVersionName picks one of the six pre-built ABIs from a version
// string of the form "v0.MAJOR.MINOR... platform" (e.g. "v0.47.05
// linux64"), where platform is one of linux32/linux64/win32/win64. Linux
// targets below major version 50 get the legacy (pre-C++11 COW string) GCC
// ABI; at or above it they get the C++11 (SSO string) GCC ABI. Windows
// targets are always MSVC2015 regardless of major version, since the build
// toolchain for the Windows release line does not change across the
// versions this schema family targets.
func FromVersionName(name string) (*ABI, error) {
	fields := strings.Fields(name)
	if len(fields) < 2 {
		return nil, fmt.Errorf("abi: malformed version name %q", name)
	}
	parts := strings.Split(strings.TrimPrefix(fields[0], "v"), ".")
	if len(parts) < 2 || parts[0] != "0" {
		return nil, fmt.Errorf("abi: malformed version number %q", fields[0])
	}
	platform := fields[len(fields)-1]

	major, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("abi: malformed version number %q: %w", fields[0], err)
	}

	const cxx11Threshold = 50
	switch platform {
	case "linux32":
		if major >= cxx11Threshold {
			return GCCCXX1132, nil
		}
		return GCC32, nil
	case "linux64":
		if major >= cxx11Threshold {
			return GCCCXX1164, nil
		}
		return GCC64, nil
	case "win32":
		return MSVC201532, nil
	case "win64":
		return MSVC201564, nil
	default:
		return nil, fmt.Errorf("abi: unrecognized platform tag %q", platform)
	}
}
