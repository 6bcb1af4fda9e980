// Package schema builds the in-memory type graph parsed from the df-style
// XML schema: primitives, enums, bitfields, compounds, pointers, arrays,
// containers and globals, with name-based reference resolution.
package schema

// Type is implemented by every node in the schema type graph.
type Type interface {
	// DebugName returns a human readable name used in logs and errors. It
	// may be empty for anonymous nested types.
	DebugName() string
}

// Ref is a named, possibly-unresolved reference to another type. Before
// Structures.Resolve runs, Target is nil. Members, parents, container
// parameters and globals hold a Ref (or an owned anonymous Type directly)
// rather than committing to a kind up front, mirroring the schema's
// TypeVariant<TypeRef<T>, unique_ptr<T>> duality.
type Ref struct {
	Name   string
	Target Type
}

func (r *Ref) DebugName() string { return r.Name }

// Deref follows t through any Ref indirection and returns the concrete
// node. It panics if called before resolution on an unresolved Ref; callers
// should only call it after Structures.Resolve succeeded.
func Deref(t Type) Type {
	for {
		ref, ok := t.(*Ref)
		if !ok {
			return t
		}
		if ref.Target == nil {
			panic("schema: dereferencing unresolved reference " + ref.Name)
		}
		t = ref.Target
	}
}

// Padding is an explicit hole of unknown content.
type Padding struct {
	Size, Align int
}

func (p *Padding) DebugName() string { return "padding" }
