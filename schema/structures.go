package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Global is a named global object: an address is resolved per VersionInfo,
// not stored here.
type Global struct {
	Name string
	Type Type
}

// VersionInfo is a matched target build: its identifier (4-byte timestamp
// or 16-byte digest), a human readable name, and the per-version address
// tables.
type VersionInfo struct {
	Name         string
	BuildID      []byte // 4 bytes (PE timestamp) or 16 bytes (MD5 digest)
	GlobalAddrs  map[string]uint64
	VtableAddrs  map[string]uint64
}

// Structures is the fully parsed, resolved schema: every named type lives
// in exactly one of these maps, owned; everything else holds a non-owning
// reference into them.
type Structures struct {
	Primitives map[string]*Primitive
	Enums      map[string]*Enum
	Bitfields  map[string]*Bitfield
	Compounds  map[string]*Compound
	// LinkedLists holds df-linked-list-type top level nodes, which are
	// DFContainer wrappers rather than raw Compounds.
	LinkedLists map[string]*DFContainer
	Globals     map[string]*Global
	Versions    []*VersionInfo

	// genericPointer is the anonymous generic "pointer" primitive used
	// when a pointer target is unspecified (void*-like).
	genericPointer *Pointer
}

// NewStructures returns an empty Structures ready for population by the
// XML importer.
func NewStructures() *Structures {
	return &Structures{
		Primitives:  map[string]*Primitive{},
		Enums:       map[string]*Enum{},
		Bitfields:   map[string]*Bitfield{},
		Compounds:   map[string]*Compound{},
		LinkedLists: map[string]*DFContainer{},
		Globals:     map[string]*Global{},
		genericPointer: &Pointer{Name: "pointer"},
	}
}

// GenericPointer returns the untyped pointer used for unqualified
// `<pointer/>` elements without a target.
func (s *Structures) GenericPointer() *Pointer { return s.genericPointer }

// UnresolvedReferenceError reports a name that does not exist in any
// per-kind map.
type UnresolvedReferenceError struct {
	Name string
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("unresolved reference: %q", e.Name)
}

// Code identifies this error kind on the wire taxonomy.
func (e *UnresolvedReferenceError) Code() string { return "UnresolvedReference" }

// DuplicateNameError reports two types of the same kind declared with the
// same name.
type DuplicateNameError struct {
	Kind, Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("duplicate %s name: %q", e.Kind, e.Name)
}

// resolveByName looks a name up across every per-kind map, in the order a
// df-structures name is conventionally unique across: compounds, then
// enums, bitfields, primitives, linked lists.
func (s *Structures) resolveByName(name string) (Type, bool) {
	if c, ok := s.Compounds[name]; ok {
		return c, true
	}
	if e, ok := s.Enums[name]; ok {
		return e, true
	}
	if b, ok := s.Bitfields[name]; ok {
		return b, true
	}
	if p, ok := s.Primitives[name]; ok {
		return p, true
	}
	if l, ok := s.LinkedLists[name]; ok {
		return l, true
	}
	return nil, false
}

// Resolve walks every container, compound and global, turning every *Ref
// into a resolved reference. All problems are logged via log and
// collected; Resolve returns a single joined error if any reference
// failed, so a load surfaces every bad name at once instead of stopping at
// the first.
func (s *Structures) Resolve(log func(string)) error {
	var errs []error
	resolve := func(t Type) Type {
		ref, ok := t.(*Ref)
		if !ok {
			return t
		}
		target, ok := s.resolveByName(ref.Name)
		if !ok {
			err := &UnresolvedReferenceError{Name: ref.Name}
			log(err.Error())
			errs = append(errs, err)
			return t
		}
		ref.Target = target
		return t
	}

	var walk func(t Type)
	visited := map[Type]bool{}
	walk = func(t Type) {
		if t == nil || visited[t] {
			return
		}
		visited[t] = true
		resolve(t)
		switch v := t.(type) {
		case *Pointer:
			walk(v.Target)
		case *StaticArray:
			walk(v.Item)
			walk(v.IndexEnum)
		case *StdContainer:
			for _, p := range v.Params {
				walk(p)
			}
			walk(v.IndexEnum)
		case *DFContainer:
			for _, p := range v.Params {
				walk(p)
			}
			walk(v.Compound)
		case *Compound:
			if v.Parent != nil {
				walk(v.Parent)
			}
			for _, m := range v.Members {
				walk(m.Type)
			}
			if v.OtherVectors != nil {
				walk(v.OtherVectors.IndexEnumRef)
			}
		}
	}

	for _, c := range s.Compounds {
		walk(c)
	}
	for _, l := range s.LinkedLists {
		walk(l)
	}
	for _, g := range s.Globals {
		walk(g.Type)
	}

	if len(errs) == 0 {
		return nil
	}
	sort.Slice(errs, func(i, j int) bool { return errs[i].Error() < errs[j].Error() })
	return errors.Join(errs...)
}

// AllCompoundTypes, AllEnumTypes, ... give stable-ish iteration used by
// MemoryLayout to seed its work set.
func (s *Structures) AllCompoundTypes() map[string]*Compound { return s.Compounds }
func (s *Structures) AllEnumTypes() map[string]*Enum         { return s.Enums }
func (s *Structures) AllBitfieldTypes() map[string]*Bitfield { return s.Bitfields }
func (s *Structures) AllPrimitiveTypes() map[string]*Primitive { return s.Primitives }
func (s *Structures) AllLinkedListTypes() map[string]*DFContainer { return s.LinkedLists }
func (s *Structures) AllGlobalObjects() map[string]*Global   { return s.Globals }

// VersionByID finds the VersionInfo whose BuildID matches id, comparing
// byte-for-byte. It returns nil if no version matches.
func (s *Structures) VersionByID(id []byte) *VersionInfo {
	for _, v := range s.Versions {
		if bytesEqual(v.BuildID, id) {
			return v
		}
	}
	return nil
}

// VersionMismatchError reports a target whose build identifier matches no
// entry in the loaded symbol table. Known lists every version name the
// table does carry, so the caller can tell a stale symbols.xml apart from
// a wrong target.
type VersionMismatchError struct {
	ID    []byte
	Known []string
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("version mismatch: build id %x not in symbol table (known versions: %s)",
		e.ID, strings.Join(e.Known, ", "))
}

// MatchVersion returns the VersionInfo whose BuildID equals id, or a
// *VersionMismatchError naming every known version. Callers must not issue
// reads against an unmatched target.
func (s *Structures) MatchVersion(id []byte) (*VersionInfo, error) {
	if v := s.VersionByID(id); v != nil {
		return v, nil
	}
	known := make([]string, 0, len(s.Versions))
	for _, v := range s.Versions {
		known = append(known, v.Name)
	}
	return nil, &VersionMismatchError{ID: id, Known: known}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
