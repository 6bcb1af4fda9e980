package schema

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// LoadDirectory reads every df.*.xml schema file plus symbols.xml from dir,
// builds a Structures, resolves it, and returns it. Problems in individual
// files are logged and collected rather than aborting the whole load.
func LoadDirectory(dir string, log func(string)) (*Structures, error) {
	s := NewStructures()
	var errs []error

	matches, err := filepath.Glob(filepath.Join(dir, "df.*.xml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	for _, path := range matches {
		if err := loadSchemaFile(s, path, log); err != nil {
			log(fmt.Sprintf("%s: %v", path, err))
			errs = append(errs, err)
		}
	}

	symbolsPath := filepath.Join(dir, "symbols.xml")
	if _, err := os.Stat(symbolsPath); err == nil {
		if err := loadSymbolsFile(s, symbolsPath, log); err != nil {
			log(fmt.Sprintf("%s: %v", symbolsPath, err))
			errs = append(errs, err)
		}
	}

	resolveOtherVectors(s, log)

	if err := s.Resolve(log); err != nil {
		errs = append(errs, err)
	}

	sort.Slice(errs, func(i, j int) bool { return errs[i].Error() < errs[j].Error() })
	if len(errs) == 0 {
		return s, nil
	}
	return s, errors.Join(errs...)
}

// resolveOtherVectors materializes every df-other-vectors-type compound's
// members now that the whole schema has been parsed and every top-level
// name is registered, before the general Resolve pass walks them.
func resolveOtherVectors(s *Structures, log func(string)) {
	vectorOf := func(itemTypeName string) Type {
		if t, ok := s.resolveByName(itemTypeName); ok {
			return &StdContainer{Kind: StdVector, Params: []Type{&Pointer{Target: t}}}
		}
		log(fmt.Sprintf("df-other-vectors: unknown item type %q", itemTypeName))
		return &StdContainer{Kind: StdVector, Params: []Type{s.GenericPointer()}}
	}
	for _, c := range s.Compounds {
		if c.OtherVectors == nil {
			continue
		}
		ref, ok := c.OtherVectors.IndexEnumRef.(*Ref)
		if ok && ref.Target == nil {
			t, found := s.resolveByName(ref.Name)
			if !found {
				log(fmt.Sprintf("%s: unknown index-enum %q", c.DebugNameVal, ref.Name))
				continue
			}
			ref.Target = t
		}
		c.ResolveOtherVectors(vectorOf)
	}
}

func loadSchemaFile(s *Structures, path string, log func(string)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	root, err := parseXML(f)
	if err != nil {
		return err
	}
	for _, node := range topLevelNodes(root) {
		if err := importTopLevel(s, node, log); err != nil {
			log(fmt.Sprintf("%s: %v", path, err))
		}
	}
	return nil
}

// topLevelNodes unwraps the synthetic #document root and, if its single
// child is itself a single wrapper element (e.g. the file's outermost
// schema-collection tag), unwraps that too, returning the list of
// struct-type/enum-type/... declarations.
func topLevelNodes(root *xmlNode) []*xmlNode {
	if len(root.Children) == 1 {
		return root.Children[0].Children
	}
	return root.Children
}

func importTopLevel(s *Structures, node *xmlNode, log func(string)) error {
	switch node.Tag {
	case "struct-type", "class-type":
		return importCompound(s, node, log)
	case "df-linked-list-type":
		return importLinkedList(s, node, log)
	case "df-other-vectors-type":
		return importOtherVectors(s, node, log)
	case "enum-type":
		return importEnum(s, node, log)
	case "bitfield-type":
		return importBitfield(s, node, log)
	case "global-object":
		return importGlobal(s, node, log)
	default:
		log(fmt.Sprintf("unrecognized top-level tag %q", node.Tag))
		return nil
	}
}

func importCompound(s *Structures, node *xmlNode, log func(string)) error {
	name := node.attrDefault("type-name", "")
	if name == "" {
		return fmt.Errorf("struct-type/class-type without type-name")
	}
	if _, exists := s.Compounds[name]; exists {
		err := &DuplicateNameError{Kind: "compound", Name: name}
		log(err.Error())
		return err
	}
	c := &Compound{DebugNameVal: name}
	if sym, ok := node.attr("symbol"); ok {
		c.Symbol = sym
	}
	if v, ok := node.attr("is-union"); ok && v == "true" {
		c.IsUnion = true
	}
	if parentName, ok := node.attr("inherits-from"); ok {
		c.Parent = &Ref{Name: parentName}
	}
	s.Compounds[name] = c
	buildCompoundMembers(s, c, node, log)
	return nil
}

// buildCompoundMembers populates c.Members (plus Parent/VTable/VMethods) by
// walking node's children, recognizing the <parent>, <virtual-methods> and
// <vmethod> structural tags and treating everything else as a member whose
// own tag is the member's type constructor.
func buildCompoundMembers(s *Structures, c *Compound, node *xmlNode, log func(string)) {
	for _, child := range node.Children {
		switch child.Tag {
		case "parent":
			if tn, ok := child.attr("type-name"); ok {
				c.Parent = &Ref{Name: tn}
			}
		case "virtual-methods":
			for _, vm := range child.Children {
				if vm.Tag != "vmethod" {
					continue
				}
				c.VTable = true
				dtor := vm.attrDefault("is-destructor", "false") == "true"
				c.VMethods = append(c.VMethods, Method{Name: vm.attrDefault("name", ""), Destructor: dtor})
			}
		default:
			memberName := child.attrDefault("name", "")
			debugName := c.DebugNameVal + "." + memberName
			if memberName == "" {
				debugName = c.DebugNameVal + ".<anon>"
			}
			t := buildType(s, debugName, child, log)
			if t == nil {
				continue
			}
			c.Members = append(c.Members, Member{Name: memberName, Type: t})
		}
	}
}

func importEnum(s *Structures, node *xmlNode, log func(string)) error {
	name := node.attrDefault("type-name", "")
	if name == "" {
		return fmt.Errorf("enum-type without type-name")
	}
	if _, exists := s.Enums[name]; exists {
		err := &DuplicateNameError{Kind: "enum", Name: name}
		log(err.Error())
		return err
	}
	e := &Enum{Name: name, Underlying: Int32}
	if bt, ok := node.attr("base-type"); ok {
		if k, ok := PrimitiveKindFromTag(bt); ok {
			e.Underlying = k
		}
	}
	parseEnumBody(e, node)
	s.Enums[name] = e
	return nil
}

func parseEnumBody(e *Enum, node *xmlNode) {
	for _, a := range node.childrenNamed("enum-attr") {
		e.Attributes = append(e.Attributes, AttributeDef{
			Name:    a.attrDefault("name", ""),
			Default: a.attrDefault("default", ""),
		})
	}
	next := 0
	for _, it := range node.childrenNamed("enum-item") {
		value := next
		if v, ok := it.attr("value"); ok {
			value = atoiDefault(v, value)
		}
		item := EnumItem{Name: it.attrDefault("name", ""), Value: value}
		for _, ia := range it.childrenNamed("item-attr") {
			if item.Attributes == nil {
				item.Attributes = map[string]string{}
			}
			item.Attributes[ia.attrDefault("name", "")] = ia.attrDefault("value", "")
		}
		e.Items = append(e.Items, item)
		next = value + 1
	}
	e.index()
}

func importBitfield(s *Structures, node *xmlNode, log func(string)) error {
	name := node.attrDefault("type-name", "")
	if name == "" {
		return fmt.Errorf("bitfield-type without type-name")
	}
	if _, exists := s.Bitfields[name]; exists {
		err := &DuplicateNameError{Kind: "bitfield", Name: name}
		log(err.Error())
		return err
	}
	b := &Bitfield{Name: name, Underlying: UInt32}
	if bt, ok := node.attr("base-type"); ok {
		if k, ok := PrimitiveKindFromTag(bt); ok {
			b.Underlying = k
		}
	}
	parseBitfieldBody(b, node)
	s.Bitfields[name] = b
	return nil
}

func parseBitfieldBody(b *Bitfield, node *xmlNode) {
	for _, it := range node.childrenNamed("bitfield-item") {
		offset := -1
		if v, ok := it.attr("offset"); ok {
			offset = atoiDefault(v, -1)
		}
		width := 1
		if v, ok := it.attr("count"); ok {
			width = atoiDefault(v, 1)
		}
		b.AppendRun(it.attrDefault("name", ""), offset, width)
	}
}

func importLinkedList(s *Structures, node *xmlNode, log func(string)) error {
	name := node.attrDefault("type-name", "")
	if name == "" {
		return fmt.Errorf("df-linked-list-type without type-name")
	}
	if _, exists := s.LinkedLists[name]; exists {
		err := &DuplicateNameError{Kind: "df-linked-list", Name: name}
		log(err.Error())
		return err
	}
	item := itemTypeOf(s, name, node, log)
	itemPtr := &Pointer{Name: name + ".item", Target: item}
	compound := NewLinkedListCompound(itemPtr)
	compound.DebugNameVal = name + "_node"
	compound.Members[1].Type = &Pointer{Name: name + ".prev", Target: compound}
	compound.Members[2].Type = &Pointer{Name: name + ".next", Target: compound}
	s.LinkedLists[name] = &DFContainer{Name: name, Kind: DFLinkedList, Params: []Type{item}, Compound: compound}
	return nil
}

func importOtherVectors(s *Structures, node *xmlNode, log func(string)) error {
	name := node.attrDefault("type-name", "")
	if name == "" {
		return fmt.Errorf("df-other-vectors-type without type-name")
	}
	if _, exists := s.Compounds[name]; exists {
		err := &DuplicateNameError{Kind: "compound", Name: name}
		log(err.Error())
		return err
	}
	indexEnum, ok := node.attr("index-enum")
	if !ok {
		return fmt.Errorf("%s: df-other-vectors-type without index-enum", name)
	}
	spec := &OtherVectorsSpec{
		IndexEnumRef:    &Ref{Name: indexEnum},
		DefaultItemType: node.attrDefault("item-type", ""),
	}
	for _, ov := range node.childrenNamed("vector-override") {
		memberName := ov.attrDefault("name", "")
		var memberType Type
		if len(ov.Children) > 0 {
			memberType = buildType(s, name+"."+memberName, ov.Children[0], log)
		} else if tn, ok := ov.attr("type-name"); ok {
			memberType = &StdContainer{Kind: StdVector, Params: []Type{&Pointer{Target: &Ref{Name: tn}}}}
		}
		if memberType != nil {
			spec.Overrides = append(spec.Overrides, Member{Name: memberName, Type: memberType})
		}
	}
	s.Compounds[name] = &Compound{DebugNameVal: name, OtherVectors: spec}
	return nil
}

func importGlobal(s *Structures, node *xmlNode, log func(string)) error {
	name := node.attrDefault("name", "")
	if name == "" {
		return fmt.Errorf("global-object without name")
	}
	var t Type
	if len(node.Children) > 0 {
		t = buildType(s, name, node.Children[0], log)
	} else if tn, ok := node.attr("type-name"); ok {
		t = &Ref{Name: tn}
	}
	if t == nil {
		return fmt.Errorf("global-object %q has no resolvable type", name)
	}
	s.Globals[name] = &Global{Name: name, Type: t}
	return nil
}

// buildType constructs the Type a single XML element denotes, whether that
// element is a compound member or a container's type parameter. debugName
// is used only for diagnostics and anonymous DebugName() values.
func buildType(s *Structures, debugName string, node *xmlNode, log func(string)) Type {
	switch node.Tag {
	case "padding":
		return &Padding{Size: atoiDefault(node.attrDefault("size", "0"), 0), Align: atoiDefault(node.attrDefault("align", "1"), 1)}
	case "pointer":
		return buildPointer(s, debugName, node, log)
	case "static-array":
		return buildStaticArray(s, debugName, node, log)
	case "static-string":
		return &StaticArray{Name: debugName, Item: &Primitive{Kind: Char}, Extent: atoiDefault(node.attrDefault("size", "0"), 0)}
	case "enum":
		e := &Enum{Name: debugName, Underlying: Int32}
		if bt, ok := node.attr("base-type"); ok {
			if k, ok := PrimitiveKindFromTag(bt); ok {
				e.Underlying = k
			}
		}
		parseEnumBody(e, node)
		return e
	case "bitfield":
		b := &Bitfield{Name: debugName, Underlying: UInt32}
		if bt, ok := node.attr("base-type"); ok {
			if k, ok := PrimitiveKindFromTag(bt); ok {
				b.Underlying = k
			}
		}
		parseBitfieldBody(b, node)
		return b
	case "compound":
		c := &Compound{DebugNameVal: debugName}
		if v, ok := node.attr("is-union"); ok && v == "true" {
			c.IsUnion = true
		}
		buildCompoundMembers(s, c, node, log)
		return c
	case "df-linked-list", "df-array", "df-flagarray":
		kind, _ := DFContainerKindFromTag(node.Tag)
		return buildDFContainer(s, debugName, node, log, kind)
	default:
		if kind, ok := StdContainerKindFromTag(node.Tag); ok {
			return buildStdContainer(s, debugName, node, log, kind)
		}
		if kind, ok := PrimitiveKindFromTag(node.Tag); ok {
			return &Primitive{Kind: kind, Name: debugName}
		}
		if tn, ok := node.attr("type-name"); ok {
			return &Ref{Name: tn}
		}
		log(fmt.Sprintf("%s: unrecognized type tag %q", debugName, node.Tag))
		return nil
	}
}

func buildPointer(s *Structures, debugName string, node *xmlNode, log func(string)) *Pointer {
	p := &Pointer{Name: debugName}
	if v, ok := node.attr("has-bad-pointers"); ok && v == "true" {
		p.KnownBad = true
	}
	switch {
	case hasAttr(node, "type-name"):
		p.Target = &Ref{Name: node.attrDefault("type-name", "")}
	case len(node.Children) > 0:
		p.Target = buildType(s, debugName+".*", node.Children[0], log)
	default:
		p.Target = s.GenericPointer()
	}
	return p
}

func buildStaticArray(s *Structures, debugName string, node *xmlNode, log func(string)) *StaticArray {
	a := &StaticArray{Name: debugName, Extent: -1}
	if v, ok := node.attr("count"); ok {
		a.Extent = atoiDefault(v, -1)
	}
	if v, ok := node.attr("index-enum"); ok {
		a.IndexEnum = &Ref{Name: v}
	}
	a.Item = itemTypeOf(s, debugName, node, log)
	return a
}

func buildStdContainer(s *Structures, debugName string, node *xmlNode, log func(string), kind StdContainerKind) *StdContainer {
	c := &StdContainer{Name: debugName, Kind: kind}
	if v, ok := node.attr("index-enum"); ok {
		c.IndexEnum = &Ref{Name: v}
	}
	for i, child := range node.Children {
		c.Params = append(c.Params, buildType(s, fmt.Sprintf("%s.%d", debugName, i), child, log))
	}
	if len(c.Params) == 0 {
		if tn, ok := node.attr("type-name"); ok {
			c.Params = []Type{&Ref{Name: tn}}
		} else {
			log(fmt.Sprintf("%s: container %q has no type parameter", debugName, node.Tag))
		}
	}
	return c
}

func buildDFContainer(s *Structures, debugName string, node *xmlNode, log func(string), kind DFContainerKind) *DFContainer {
	switch kind {
	case DFFlagArray:
		compound := NewFlagArrayCompound(&Pointer{Target: &Primitive{Kind: UInt8}}, &Primitive{Kind: UInt32})
		compound.DebugNameVal = debugName + "_flagarray"
		return &DFContainer{Name: debugName, Kind: kind, Compound: compound}
	case DFArray:
		item := itemTypeOf(s, debugName, node, log)
		compound := NewArrayCompound(&Pointer{Target: item}, &Primitive{Kind: UInt16})
		compound.DebugNameVal = debugName + "_array"
		return &DFContainer{Name: debugName, Kind: kind, Params: []Type{item}, Compound: compound}
	default: // DFLinkedList, used for an inline (non-top-level) linked list member
		item := itemTypeOf(s, debugName, node, log)
		compound := NewLinkedListCompound(&Pointer{Target: item})
		compound.DebugNameVal = debugName + "_node"
		compound.Members[1].Type = &Pointer{Target: compound}
		compound.Members[2].Type = &Pointer{Target: compound}
		return &DFContainer{Name: debugName, Kind: kind, Params: []Type{item}, Compound: compound}
	}
}

// itemTypeOf resolves the element/item type of an array-like node from,
// in priority order, an item-type attribute, a type-name attribute, a
// single nested child element, or a logged fallback.
func itemTypeOf(s *Structures, debugName string, node *xmlNode, log func(string)) Type {
	if tn, ok := node.attr("item-type"); ok {
		return &Ref{Name: tn}
	}
	if tn, ok := node.attr("type-name"); ok {
		return &Ref{Name: tn}
	}
	if len(node.Children) > 0 {
		return buildType(s, debugName+".item", node.Children[0], log)
	}
	log(fmt.Sprintf("%s: no item type given, defaulting to uint8_t", debugName))
	return &Primitive{Kind: UInt8}
}

func hasAttr(n *xmlNode, name string) bool {
	_, ok := n.attr(name)
	return ok
}

func atoiDefault(s string, def int) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func loadSymbolsFile(s *Structures, path string, log func(string)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	root, err := parseXML(f)
	if err != nil {
		return err
	}
	// symbols.xml wraps its symbol-table elements in a single collection
	// tag; each symbol-table element describes one target version.
	container := root
	if len(root.Children) == 1 && root.Children[0].Tag != "symbol-table" {
		container = root.Children[0]
	}
	for _, v := range container.childrenNamed("symbol-table") {
		vi := &VersionInfo{
			Name:        v.attrDefault("name", ""),
			GlobalAddrs: map[string]uint64{},
			VtableAddrs: map[string]uint64{},
		}
		if bt := v.childrenNamed("binary-timestamp"); len(bt) == 1 {
			if n, ok := parseUintAttr(bt[0], "value"); ok {
				vi.BuildID = []byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
			}
		}
		if mh := v.childrenNamed("md5-hash"); len(mh) == 1 {
			if b, err := hex.DecodeString(mh[0].attrDefault("value", "")); err == nil {
				vi.BuildID = b
			} else {
				log(fmt.Sprintf("%s: malformed md5-hash for version %q: %v", path, vi.Name, err))
			}
		}
		for _, ga := range v.childrenNamed("global-address") {
			if n, ok := parseUintAttr(ga, "value"); ok {
				vi.GlobalAddrs[ga.attrDefault("name", "")] = n
			}
		}
		for _, va := range v.childrenNamed("vtable-address") {
			if n, ok := parseUintAttr(va, "value"); ok {
				vi.VtableAddrs[va.attrDefault("name", "")] = n
			}
		}
		s.Versions = append(s.Versions, vi)
	}
	return nil
}

func parseUintAttr(n *xmlNode, attr string) (uint64, bool) {
	v, ok := n.attr(attr)
	if !ok {
		return 0, false
	}
	u, err := strconv.ParseUint(v, 0, 64)
	if err != nil {
		return 0, false
	}
	return u, true
}
