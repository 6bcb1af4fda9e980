package schema

// Pointer is a pointer to exactly one target type. KnownBad marks a pointer
// the schema declares to contain uninitialized garbage, so readers must
// skip dereferencing it.
type Pointer struct {
	Name     string
	Target   Type
	KnownBad bool
}

func (p *Pointer) DebugName() string {
	if p.Name != "" {
		return p.Name
	}
	return "pointer"
}

// StaticArray is an item type repeated a fixed number of times. Extent may
// come from a literal or be inherited from an index enum's Count once
// resolved.
type StaticArray struct {
	Name      string
	Item      Type
	Extent    int
	IndexEnum Type // optional *Enum (or *Ref to one); extent is its Count() when set and Extent < 0
}

func (a *StaticArray) DebugName() string {
	if a.Name != "" {
		return a.Name
	}
	return "static-array"
}

// ResolvedExtent returns the array length, resolving from IndexEnum if the
// literal Extent was not given. Call only after Structures.Resolve.
func (a *StaticArray) ResolvedExtent() int {
	if a.Extent >= 0 {
		return a.Extent
	}
	if a.IndexEnum != nil {
		if e, ok := Deref(a.IndexEnum).(*Enum); ok {
			return e.Count()
		}
	}
	return 0
}

// StdContainerKind enumerates the standard-library container templates the
// schema can reference.
type StdContainerKind int

const (
	StdSharedPtr StdContainerKind = iota
	StdWeakPtr
	StdVector
	StdDeque
	StdSet
	StdMap
	StdUnorderedMap
	StdOptional
	StdFuture
	StdVariant
	stdContainerKindCount
)

var stdContainerTagNames = map[string]StdContainerKind{
	"stl-shared-ptr":    StdSharedPtr,
	"stl-weak-ptr":       StdWeakPtr,
	"stl-vector":         StdVector,
	"stl-deque":          StdDeque,
	"stl-set":            StdSet,
	"stl-map":            StdMap,
	"stl-unordered-map":  StdUnorderedMap,
	"stl-optional":       StdOptional,
	"stl-future":         StdFuture,
	"stl-variant":        StdVariant,
}

// StdContainerKindFromTag maps an XML tag name to its container kind.
func StdContainerKindFromTag(name string) (StdContainerKind, bool) {
	k, ok := stdContainerTagNames[name]
	return k, ok
}

// RequiresCompleteTypes reports whether the container's own size depends on
// the size of its parameters (optional, variant), as opposed to containers
// whose footprint is fixed regardless of what they contain.
func (k StdContainerKind) RequiresCompleteTypes() bool {
	return k == StdOptional || k == StdVariant
}

// StdContainer is a std:: container template instantiation with 1+ type
// parameters.
type StdContainer struct {
	Name      string
	Kind      StdContainerKind
	Params    []Type
	IndexEnum Type // optional *Enum (or *Ref to one), meaningful for StdMap-like kinds keyed by an enum
}

func (c *StdContainer) DebugName() string {
	if c.Name != "" {
		return c.Name
	}
	return "std-container"
}

// ItemType returns the first type parameter, which is the item type for
// every StdContainer kind this schema supports.
func (c *StdContainer) ItemType() Type {
	if len(c.Params) == 0 {
		return nil
	}
	return c.Params[0]
}

// DFContainerKind enumerates the DF-specific container templates.
type DFContainerKind int

const (
	DFFlagArray DFContainerKind = iota
	DFArray
	DFLinkedList
	dfContainerKindCount
)

var dfContainerTagNames = map[string]DFContainerKind{
	"df-flagarray":    DFFlagArray,
	"df-array":        DFArray,
	"df-linked-list":  DFLinkedList,
}

// DFContainerKindFromTag maps an XML tag name to its DF container kind.
func DFContainerKindFromTag(name string) (DFContainerKind, bool) {
	k, ok := dfContainerTagNames[name]
	return k, ok
}

// Member indices within the embedded compound each DFContainer kind
// materializes to make its layout explicit.
const (
	FlagArrayBits = 0
	FlagArraySize = 1
	ArrayData     = 0
	ArraySize     = 1
	LinkedListItem = 0
	LinkedListPrev = 1
	LinkedListNext = 2
)

// DFContainer is a flag_array/df_array/linked_list container; Compound is
// the embedded struct {...} the kind expands to, built eagerly so
// MemoryLayout can just recurse into an ordinary compound.
type DFContainer struct {
	Name     string
	Kind     DFContainerKind
	Params   []Type
	Compound *Compound
}

func (c *DFContainer) DebugName() string {
	if c.Name != "" {
		return c.Name
	}
	return "df-container"
}

// ItemType returns the element type for DFArray/DFLinkedList containers.
func (c *DFContainer) ItemType() Type {
	if len(c.Params) == 0 {
		return nil
	}
	return c.Params[0]
}

// NewFlagArrayCompound builds the {bits *u8; size u32} compound for a
// df-flagarray container.
func NewFlagArrayCompound(u8Ptr, u32 Type) *Compound {
	c := &Compound{DebugNameVal: "flag_array"}
	c.Members = []Member{
		{Name: "bits", Type: u8Ptr},
		{Name: "size", Type: u32},
	}
	return c
}

// NewArrayCompound builds the {data *T; size u16} compound for a df-array
// container over item type item (already wrapped as a pointer by caller).
func NewArrayCompound(itemPtr, u16 Type) *Compound {
	c := &Compound{DebugNameVal: "array"}
	c.Members = []Member{
		{Name: "data", Type: itemPtr},
		{Name: "size", Type: u16},
	}
	return c
}

// NewLinkedListCompound builds the {item *T; prev *node; next *node}
// compound for a df-linked-list container. The caller fills prev/next with
// pointers back at the returned compound once it exists, breaking the
// self-reference cycle through pointer indirection.
func NewLinkedListCompound(itemPtr Type) *Compound {
	c := &Compound{DebugNameVal: "linked_list_node"}
	c.Members = []Member{
		{Name: "item", Type: itemPtr},
		{Name: "prev", Type: nil}, // filled in by caller with *Pointer{Target: c}
		{Name: "next", Type: nil},
	}
	return c
}
