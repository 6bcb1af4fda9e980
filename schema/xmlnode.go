package schema

import (
	"encoding/xml"
	"io"
)

// xmlNode is a minimal recursive DOM used to interpret the schema XML,
// built with a single encoding/xml.Decoder pass (grounded on the pack's own
// encoding/xml-based DOM builder in jacoelho-xsd/internal/xsdxml).
type xmlNode struct {
	Tag      string
	Attrs    map[string]string
	Children []*xmlNode
	Text     string
}

func (n *xmlNode) attr(name string) (string, bool) {
	v, ok := n.Attrs[name]
	return v, ok
}

func (n *xmlNode) attrDefault(name, def string) string {
	if v, ok := n.Attrs[name]; ok {
		return v
	}
	return def
}

func (n *xmlNode) childrenNamed(tag string) []*xmlNode {
	var out []*xmlNode
	for _, c := range n.Children {
		if c.Tag == tag {
			out = append(out, c)
		}
	}
	return out
}

// parseXML decodes r into a tree of xmlNode rooted at a synthetic document
// node whose children are the top-level elements.
func parseXML(r io.Reader) (*xmlNode, error) {
	dec := xml.NewDecoder(r)
	root := &xmlNode{Tag: "#document"}
	stack := []*xmlNode{root}
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			n := &xmlNode{Tag: t.Name.Local, Attrs: map[string]string{}}
			for _, a := range t.Attr {
				n.Attrs[a.Name.Local] = a.Value
			}
			parent := stack[len(stack)-1]
			parent.Children = append(parent.Children, n)
			stack = append(stack, n)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		case xml.CharData:
			stack[len(stack)-1].Text += string(t)
		}
	}
	return root, nil
}
