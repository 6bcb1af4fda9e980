package layout

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cvuchener/libdfs/schema"
)

// StepKind discriminates the four path step shapes.
type StepKind int

const (
	Identifier StepKind = iota
	ContainerOf
	Index
	EnumIndex
)

// Step is one hop of a Path: an identifier, a container-of, a numeric
// index, or an enum-valued index.
type Step struct {
	Kind  StepKind
	Name  string // Identifier, ContainerOf, EnumIndex
	Index int    // Index
}

// Path is a parsed address expression, e.g. "world.raws.plants.all[7].material.prefix".
type Path struct {
	Steps []Step
}

// Parse reads a path expression: a leading bare identifier, then any
// sequence of ".name", ".(name)", "[n]", "[name]".
func Parse(s string) (Path, error) {
	var p Path
	i, n := 0, len(s)

	readIdent := func() (string, error) {
		start := i
		for i < n && isIdentChar(s[i]) {
			i++
		}
		if i == start {
			return "", fmt.Errorf("layout: expected identifier at offset %d in %q", start, s)
		}
		return s[start:i], nil
	}

	if i < n && isIdentStart(s[i]) {
		name, err := readIdent()
		if err != nil {
			return Path{}, err
		}
		p.Steps = append(p.Steps, Step{Kind: Identifier, Name: name})
	}

	for i < n {
		switch s[i] {
		case '.':
			i++
			if i < n && s[i] == '(' {
				i++
				name, err := readIdent()
				if err != nil {
					return Path{}, err
				}
				if i >= n || s[i] != ')' {
					return Path{}, fmt.Errorf("layout: expected ')' at offset %d in %q", i, s)
				}
				i++
				p.Steps = append(p.Steps, Step{Kind: ContainerOf, Name: name})
			} else {
				name, err := readIdent()
				if err != nil {
					return Path{}, err
				}
				p.Steps = append(p.Steps, Step{Kind: Identifier, Name: name})
			}
		case '[':
			i++
			start := i
			for i < n && s[i] != ']' {
				i++
			}
			if i >= n {
				return Path{}, fmt.Errorf("layout: unterminated '[' in %q", s)
			}
			token := s[start:i]
			i++
			if token == "" {
				return Path{}, fmt.Errorf("layout: empty index in %q", s)
			}
			if v, err := strconv.Atoi(token); err == nil {
				p.Steps = append(p.Steps, Step{Kind: Index, Index: v})
			} else {
				p.Steps = append(p.Steps, Step{Kind: EnumIndex, Name: token})
			}
		default:
			return Path{}, fmt.Errorf("layout: unexpected character %q at offset %d in %q", s[i], i, s)
		}
	}
	return p, nil
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// String renders p back into the textual form Parse accepts; Parse(p.String())
// reproduces p up to structural equality.
func (p Path) String() string {
	var sb strings.Builder
	for i, st := range p.Steps {
		switch st.Kind {
		case Identifier:
			if i > 0 {
				sb.WriteByte('.')
			}
			sb.WriteString(st.Name)
		case ContainerOf:
			sb.WriteString(".(")
			sb.WriteString(st.Name)
			sb.WriteByte(')')
		case Index:
			sb.WriteByte('[')
			sb.WriteString(strconv.Itoa(st.Index))
			sb.WriteByte(']')
		case EnumIndex:
			sb.WriteByte('[')
			sb.WriteString(st.Name)
			sb.WriteByte(']')
		}
	}
	return sb.String()
}

// containerItem returns the item type and (if any) index enum of a
// container-shaped type: a static array, a std container, or a DF
// container. ok is false if t is none of these.
func containerItem(t schema.Type) (item schema.Type, indexEnum schema.Type, ok bool) {
	switch v := schema.Deref(t).(type) {
	case *schema.StaticArray:
		return v.Item, v.IndexEnum, true
	case *schema.StdContainer:
		return v.ItemType(), v.IndexEnum, true
	case *schema.DFContainer:
		return v.ItemType(), nil, true
	default:
		return nil, nil, false
	}
}

// GetOffset evaluates p against base, the schema compound the path's first
// identifier step is resolved within, returning the accumulated byte offset
// and the schema type found at the end of the path.
func GetOffset(l *MemoryLayout, base *schema.Compound, p Path) (int, schema.Type, error) {
	offset := 0
	var cur schema.Type = base
	for _, st := range p.Steps {
		// A previous index/identifier step may have landed on a pointer
		// (e.g. a vector<pointer<T>> element); further steps address the
		// pointee, and the offset they accumulate is relative to it, since
		// crossing the pointer itself needs a runtime read the caller
		// performs separately.
		if ptr, ok := schema.Deref(cur).(*schema.Pointer); ok {
			cur = ptr.Target
			offset = 0
		}
		switch st.Kind {
		case Identifier, ContainerOf:
			c, ok := schema.Deref(cur).(*schema.Compound)
			if !ok {
				return 0, nil, fmt.Errorf("layout: path step %q needs a compound, got %s", st.Name, schema.Deref(cur).DebugName())
			}
			var steps []schema.PathStep
			if st.Kind == Identifier {
				steps = c.SearchMember(st.Name)
			} else {
				steps = c.ContainerOf(st.Name)
			}
			if steps == nil {
				return 0, nil, fmt.Errorf("layout: member %q not found in %q", st.Name, c.DebugName())
			}
			off, typ, err := accumulate(l, steps)
			if err != nil {
				return 0, nil, err
			}
			offset += off
			cur = typ

		case Index, EnumIndex:
			item, indexEnum, ok := containerItem(cur)
			if !ok {
				return 0, nil, fmt.Errorf("layout: index needs a container, got %s", schema.Deref(cur).DebugName())
			}
			itemInfo, ok := l.TypeInfo(item)
			if !ok {
				return 0, nil, fmt.Errorf("layout: no layout computed for %s", item.DebugName())
			}
			idx := st.Index
			if st.Kind == EnumIndex {
				enum, ok := schema.Deref(indexEnum).(*schema.Enum)
				if !ok {
					return 0, nil, fmt.Errorf("layout: %q has no index enum for [%s]", schema.Deref(cur).DebugName(), st.Name)
				}
				v, ok := enum.FromString(st.Name)
				if !ok {
					return 0, nil, fmt.Errorf("layout: %q is not a value of %q", st.Name, enum.DebugName())
				}
				idx = v
			}
			offset += idx * itemInfo.Size
			cur = item
		}
	}
	return offset, cur, nil
}

// accumulate sums the member offsets of a search_member/container_of step
// path and returns the final step's member type.
func accumulate(l *MemoryLayout, steps []schema.PathStep) (int, schema.Type, error) {
	offset := 0
	var lastType schema.Type
	for _, step := range steps {
		cl, ok := l.Compound(step.Compound)
		if !ok {
			return 0, nil, fmt.Errorf("layout: no layout computed for %q", step.Compound.DebugName())
		}
		if step.MemberIndex < 0 || step.MemberIndex >= len(cl.MemberOffsets) {
			return 0, nil, fmt.Errorf("layout: member index out of range in %q", step.Compound.DebugName())
		}
		offset += cl.MemberOffsets[step.MemberIndex]
		lastType = step.Compound.Members[step.MemberIndex].Type
	}
	return offset, lastType, nil
}
