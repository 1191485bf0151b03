package valuetree

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/cryguy/hisescript/internal/value"
)

// formatValue renders a property for XML. Doubles use the shortest
// representation that parses back to the same float64.
func formatValue(v value.Value) string {
	if v.IsDouble() {
		return strconv.FormatFloat(v.ToDouble(), 'g', -1, 64)
	}
	if v.IsBool() {
		if v.ToBool() {
			return "1"
		}
		return "0"
	}
	if v.IsUndefined() {
		return ""
	}
	return v.String()
}

// MarshalXML implements xml.Marshaler. Properties become attributes and
// children nested elements.
func (t *Tree) MarshalXML(e *xml.Encoder, _ xml.StartElement) error {
	start := xml.StartElement{Name: xml.Name{Local: t.Type}}
	for _, p := range t.props {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: p.Name}, Value: formatValue(p.Value)})
	}
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	for _, c := range t.children {
		if err := c.MarshalXML(e, xml.StartElement{}); err != nil {
			return err
		}
	}
	return e.EncodeToken(start.End())
}

// XML renders the tree as indented XML.
func (t *Tree) XML() (string, error) {
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(t); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Parse reads a tree from XML. Attribute values are stored as strings;
// the typed getters convert on access.
func Parse(data []byte) (*Tree, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var root *Tree
	var stack []*Tree
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("valuetree: %w", err)
		}
		switch x := tok.(type) {
		case xml.StartElement:
			n := New(x.Name.Local)
			for _, a := range x.Attr {
				n.props = append(n.props, Property{a.Name.Local, value.Str(a.Value)})
			}
			if len(stack) == 0 {
				if root != nil {
					return nil, errors.New("valuetree: multiple root elements")
				}
				root = n
			} else {
				p := stack[len(stack)-1]
				n.parent = p
				p.children = append(p.children, n)
			}
			stack = append(stack, n)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		}
	}
	if root == nil {
		return nil, errors.New("valuetree: no root element")
	}
	return root, nil
}
