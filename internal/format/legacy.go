package format

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/signalsfoundry/modeltree/model"
)

// legacyKinds maps legacy tag names onto registered kinds where they differ.
var legacyKinds = map[string]string{
	"folder":      "Folder",
	"clock":       "Clock",
	"summaryfile": "Summary",
	"simulation":  "Simulation",
	"simulations": "Simulations",
}

type xmlElement struct {
	XMLName  xml.Name
	Attrs    []xml.Attr   `xml:",any,attr"`
	Children []xmlElement `xml:",any"`
	Text     string       `xml:",chardata"`
}

// ImportLegacy converts a legacy XML fragment into a native subtree. The
// fragment may hold several sibling elements; the first element that maps
// onto a registered kind is returned. Elements that are not kinds become
// properties of their enclosing node when they hold plain text. A named
// element of an unknown kind is an error; other structured values are
// dropped.
func ImportLegacy(s string) (*model.Node, error) {
	var root xmlElement
	if err := xml.Unmarshal([]byte("<Simulation>"+s+"</Simulation>"), &root); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFormat, err)
	}
	for _, el := range root.Children {
		if err := checkKnown(el); err != nil {
			return nil, err
		}
		n, err := convert(el)
		if err != nil {
			return nil, err
		}
		if n != nil {
			return n, nil
		}
	}
	return nil, fmt.Errorf("%w: cannot add model, invalid model being added", ErrInvalidFormat)
}

func legacyKind(tag string) (string, bool) {
	if k, ok := legacyKinds[strings.ToLower(tag)]; ok {
		tag = k
	}
	return tag, model.IsKind(tag)
}

func convert(el xmlElement) (*model.Node, error) {
	kind, ok := legacyKind(el.XMLName.Local)
	if !ok {
		return nil, nil
	}

	name := ""
	props := map[string]any{}
	for _, a := range el.Attrs {
		if strings.EqualFold(a.Name.Local, "name") {
			name = strings.TrimSpace(a.Value)
			continue
		}
		props[a.Name.Local] = scalar(a.Value)
	}

	var children []*model.Node
	for _, c := range el.Children {
		if _, isKind := legacyKind(c.XMLName.Local); isKind {
			child, err := convert(c)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
			continue
		}
		if err := checkKnown(c); err != nil {
			return nil, err
		}
		if len(c.Children) > 0 {
			continue
		}
		if strings.EqualFold(c.XMLName.Local, "name") {
			name = strings.TrimSpace(c.Text)
			continue
		}
		props[c.XMLName.Local] = scalar(c.Text)
	}

	n, err := model.NewOfKind(kind, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFormat, err)
	}
	if len(props) > 0 {
		if _, ok := n.Component.(model.Configurable); ok {
			if err := setProps(n, props); err != nil {
				return nil, err
			}
		}
	}
	for _, c := range children {
		if err := model.AttachChild(n, c); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidFormat, err)
		}
	}
	return n, nil
}

// checkKnown rejects an element that names a model of an unregistered kind,
// recognised by a name attribute or a Name child element.
func checkKnown(el xmlElement) error {
	if _, ok := legacyKind(el.XMLName.Local); ok || len(el.Children) == 0 && len(el.Attrs) == 0 {
		return nil
	}
	named := false
	for _, a := range el.Attrs {
		named = named || strings.EqualFold(a.Name.Local, "name")
	}
	for _, c := range el.Children {
		named = named || strings.EqualFold(c.XMLName.Local, "name") && len(c.Children) == 0
	}
	if !named {
		return nil
	}
	return fmt.Errorf("%w: %w: legacy model %q", ErrInvalidFormat, model.ErrUnknownKind, el.XMLName.Local)
}

// scalar converts legacy text content into the same scalar types the
// native decoder produces.
func scalar(s string) any {
	s = strings.TrimSpace(s)
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}
