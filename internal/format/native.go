// Package format materialises model subtrees from serialized fragments.
// Two dialects are understood: the native tree document (JSON or YAML)
// and the legacy flat XML dialect, which is only ever imported.
package format

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/modeltree/model"
)

// ErrInvalidFormat indicates a fragment matches neither dialect.
var ErrInvalidFormat = errors.New("invalid model format")

// document is the native serialized shape. Keep it unexported so the
// on-disk layout can evolve independently of model.Node.
type document struct {
	Kind     string         `json:"kind" yaml:"kind"`
	Name     string         `json:"name,omitempty" yaml:"name,omitempty"`
	ReadOnly bool           `json:"readOnly,omitempty" yaml:"readOnly,omitempty"`
	Props    map[string]any `json:"props,omitempty" yaml:"props,omitempty"`
	Children []document     `json:"children,omitempty" yaml:"children,omitempty"`
}

// TryParseNative parses s as a native tree document, written as a JSON
// object or a YAML mapping. When s is not a native document at all, ok is
// false and err is nil so the caller can try another dialect. A document
// that is native but names an unknown kind or lacks a kind is an error.
func TryParseNative(s string) (node *model.Node, ok bool, err error) {
	trimmed := strings.TrimSpace(s)
	var doc document
	switch {
	case strings.HasPrefix(trimmed, "<"):
		return nil, false, nil
	case strings.HasPrefix(trimmed, "{"):
		if !json.Valid([]byte(trimmed)) {
			return nil, false, nil
		}
		if err := json.Unmarshal([]byte(trimmed), &doc); err != nil {
			return nil, true, fmt.Errorf("%w: %w", ErrInvalidFormat, err)
		}
	default:
		var raw yaml.Node
		if err := yaml.Unmarshal([]byte(s), &raw); err != nil {
			return nil, false, nil
		}
		if raw.Kind != yaml.DocumentNode || len(raw.Content) != 1 || raw.Content[0].Kind != yaml.MappingNode {
			return nil, false, nil
		}
		if err := raw.Content[0].Decode(&doc); err != nil {
			return nil, true, fmt.Errorf("%w: %w", ErrInvalidFormat, err)
		}
	}

	n, err := build(doc)
	if err != nil {
		return nil, true, err
	}
	return n, true, nil
}

func build(doc document) (*model.Node, error) {
	if doc.Kind == "" {
		return nil, fmt.Errorf("%w: document without a kind", ErrInvalidFormat)
	}
	n, err := model.NewOfKind(doc.Kind, doc.Name)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown string encountered: %w", ErrInvalidFormat, err)
	}
	if len(doc.Props) > 0 {
		if err := setProps(n, doc.Props); err != nil {
			return nil, err
		}
	}
	for _, cd := range doc.Children {
		child, err := build(cd)
		if err != nil {
			return nil, err
		}
		if err := model.AttachChild(n, child); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidFormat, err)
		}
	}
	// Children are attached first; read-only only blocks later additions.
	n.ReadOnly = doc.ReadOnly
	return n, nil
}

func setProps(n *model.Node, props map[string]any) error {
	c, ok := n.Component.(model.Configurable)
	if !ok {
		return fmt.Errorf("%w: kind %s takes no properties", ErrInvalidFormat, n.Kind)
	}
	if err := c.SetProps(props); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidFormat, n.Name, err)
	}
	return nil
}

// Parse materialises s, trying the native dialect first and the legacy
// XML dialect second.
func Parse(s string) (*model.Node, error) {
	n, ok, err := TryParseNative(s)
	if err != nil {
		return nil, err
	}
	if ok {
		return n, nil
	}
	return ImportLegacy(s)
}

// Encode writes n's subtree as an indented native JSON document.
func Encode(n *model.Node) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(toDocument(n)); err != nil {
		return nil, fmt.Errorf("encode %s: %w", n.FullPath(), err)
	}
	return buf.Bytes(), nil
}

// EncodeYAML writes n's subtree as a native YAML document.
func EncodeYAML(n *model.Node) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(toDocument(n)); err != nil {
		return nil, fmt.Errorf("encode %s: %w", n.FullPath(), err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func toDocument(n *model.Node) document {
	doc := document{Kind: n.Kind, Name: n.Name, ReadOnly: n.ReadOnly}
	if c, ok := n.Component.(model.Configurable); ok {
		if p := c.Props(); len(p) > 0 {
			doc.Props = p
		}
	}
	for _, c := range n.Children() {
		doc.Children = append(doc.Children, toDocument(c))
	}
	return doc
}

// Describe renders one line per node, indented by depth, for terminal
// output.
func Describe(n *model.Node) string {
	var b strings.Builder
	describe(&b, n, 0)
	return b.String()
}

func describe(b *strings.Builder, n *model.Node, depth int) {
	fmt.Fprintf(b, "%s%s (%s)", strings.Repeat("  ", depth), n.Name, n.Kind)
	if n.ReadOnly {
		b.WriteString(" [read-only]")
	}
	if c, ok := n.Component.(model.Configurable); ok {
		props := c.Props()
		keys := make([]string, 0, len(props))
		for k := range props {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(b, " %s=%v", k, props[k])
		}
	}
	b.WriteByte('\n')
	for _, c := range n.Children() {
		describe(b, c, depth+1)
	}
}
