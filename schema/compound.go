package schema

// Member is one field of a Compound: a name (empty for anonymous nested
// aggregates) and its type.
type Member struct {
	Name string
	Type Type
}

// Method is a virtual method declaration, kept for vtable slot bookkeeping
// (the slot index is its position in Compound.VMethods) and for symbol
// lookup by name.
type Method struct {
	Name       string
	Destructor bool
}

// Compound is a struct, class or union node: an ordered member list, an
// optional single parent, an optional vtable, and (for df-other-vectors
// types) a deferred member list built once the index enum resolves.
type Compound struct {
	DebugNameVal string
	// Symbol overrides DebugNameVal when looking up this compound's vtable
	// address in a VersionInfo.
	Symbol string

	Members []Member
	Parent  Type // *Compound or *Ref to one; nil if no parent
	VTable  bool
	VMethods []Method
	IsUnion bool

	// OtherVectors is set for df-other-vectors-type compounds before
	// resolution; ResolveOtherVectors must run once the index enum is
	// known, materializing Members.
	OtherVectors *OtherVectorsSpec
}

func (c *Compound) DebugName() string { return c.DebugNameVal }

// SymbolName is the name used to find this compound's vtable address: the
// explicit symbol override if present, else the debug name.
func (c *Compound) SymbolName() string {
	if c.Symbol != "" {
		return c.Symbol
	}
	return c.DebugNameVal
}

// MethodIndex returns the vtable slot index of the named virtual method, or
// -1 if not declared.
func (c *Compound) MethodIndex(name string) int {
	for i, m := range c.VMethods {
		if m.Name == name {
			return i
		}
	}
	return -1
}

// PathStep is one hop of a searchMember/containerOf result: the compound
// being visited and the index of the member taken within it.
type PathStep struct {
	Compound    *Compound
	MemberIndex int
}

// SearchMember finds the first member named name, descending transparently
// into anonymous (unnamed) nested compound members. It returns the path of
// (compound, member index) steps from c down to the member, or nil if not
// found. The first step's Compound is always c.
func (c *Compound) SearchMember(name string) []PathStep {
	for i, m := range c.Members {
		if m.Name == name {
			return []PathStep{{Compound: c, MemberIndex: i}}
		}
	}
	for i, m := range c.Members {
		if m.Name != "" {
			continue
		}
		nested, ok := Deref(m.Type).(*Compound)
		if !ok {
			continue
		}
		if sub := nested.SearchMember(name); sub != nil {
			return append([]PathStep{{Compound: c, MemberIndex: i}}, sub...)
		}
	}
	return nil
}

// ContainerOf finds the path to the topmost anonymous compound member that
// (transitively) contains a member named name, i.e. SearchMember's path
// with the final direct-member step dropped. It returns nil if name is not
// found anywhere under c.
func (c *Compound) ContainerOf(name string) []PathStep {
	path := c.SearchMember(name)
	if path == nil {
		return nil
	}
	if len(path) <= 1 {
		// name is a direct member of c: there is no containing anonymous
		// aggregate other than c itself.
		return []PathStep{path[0]}
	}
	return path[:len(path)-1]
}

// OtherVectorsSpec captures an unresolved df-other-vectors-type: one
// vector-of-pointers member per value of IndexEnumRef, in enum declaration
// order, overridable by explicit per-name Overrides.
type OtherVectorsSpec struct {
	IndexEnumRef  Type // *Enum once resolved
	DefaultItemType string
	Overrides     []Member
}

// ResolveOtherVectors materializes c.Members from its OtherVectors spec
// once the index enum is resolvable, building one vector<T*> member per
// enum value (named
// after the enum value) unless an override with that name exists.
func (c *Compound) ResolveOtherVectors(vectorOf func(itemTypeName string) Type) {
	spec := c.OtherVectors
	if spec == nil {
		return
	}
	enum, _ := Deref(spec.IndexEnumRef).(*Enum)
	if enum == nil {
		return
	}
	overrides := make(map[string]Member, len(spec.Overrides))
	for _, o := range spec.Overrides {
		overrides[o.Name] = o
	}
	members := make([]Member, 0, len(enum.Items))
	for _, item := range enum.Items {
		if o, ok := overrides[item.Name]; ok {
			members = append(members, o)
			continue
		}
		members = append(members, Member{Name: item.Name, Type: vectorOf(spec.DefaultItemType)})
	}
	c.Members = members
	c.OtherVectors = nil
}
