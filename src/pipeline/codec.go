package pipeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Decode parses a YAML or JSON document into a Value tree. Mapping order
// is preserved and aliases are expanded. An empty document decodes to null.
func Decode(data []byte) (Value, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Value{}, fmt.Errorf("decoding document: %w", err)
	}
	if doc.Kind == 0 {
		return Null(), nil
	}
	d := &decoder{budget: max(minValueBudget, valuesPerByte*len(data))}
	return d.fromNode(&doc, 0)
}

// maxDepth bounds alias expansion so a self-referencing document cannot
// recurse forever.
const maxDepth = 64

// Aliases are expanded into copies, so a few bytes of anchors can describe
// billions of values. The number of values built is capped relative to the
// input size.
const (
	minValueBudget = 100_000
	valuesPerByte  = 10
)

var errExcessiveAliasing = errors.New("document contains excessive aliasing")

type decoder struct {
	budget int
	count  int
}

func (d *decoder) fromNode(n *yaml.Node, depth int) (Value, error) {
	if depth > maxDepth {
		return Value{}, fmt.Errorf("line %d: document nested deeper than %d levels", n.Line, maxDepth)
	}
	d.count++
	if d.count > d.budget {
		return Value{}, fmt.Errorf("line %d: %w", n.Line, errExcessiveAliasing)
	}

	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return Null(), nil
		}
		return d.fromNode(n.Content[0], depth+1)

	case yaml.AliasNode:
		return d.fromNode(n.Alias, depth+1)

	case yaml.ScalarNode:
		return fromScalar(n)

	case yaml.SequenceNode:
		items := make([]Value, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := d.fromNode(c, depth+1)
			if err != nil {
				return Value{}, err
			}
			items = append(items, v)
		}
		return Value{kind: KindSeq, seq: items}, nil

	case yaml.MappingNode:
		m := NewMap()
		for i := 0; i+1 < len(n.Content); i += 2 {
			k, vn := n.Content[i], n.Content[i+1]
			if k.Kind == yaml.ScalarNode && k.ShortTag() == "!!merge" {
				if err := d.mergeInto(m, vn, depth+1); err != nil {
					return Value{}, err
				}
				continue
			}
			if k.Kind != yaml.ScalarNode {
				return Value{}, fmt.Errorf("line %d: mapping keys must be scalars", k.Line)
			}
			v, err := d.fromNode(vn, depth+1)
			if err != nil {
				return Value{}, err
			}
			m.Set(k.Value, v)
		}
		return MapValue(m), nil

	default:
		return Value{}, fmt.Errorf("line %d: unsupported node kind %d", n.Line, n.Kind)
	}
}

// mergeInto applies a YAML "<<" merge key. Explicit keys already set win.
func (d *decoder) mergeInto(m *Map, n *yaml.Node, depth int) error {
	v, err := d.fromNode(n, depth)
	if err != nil {
		return err
	}
	var sources []Value
	switch v.Kind() {
	case KindMap:
		sources = []Value{v}
	case KindSeq:
		sources = v.Items()
	default:
		return fmt.Errorf("line %d: merge value must be a mapping", n.Line)
	}
	for _, src := range sources {
		src.Map().Range(func(key string, item Value) bool {
			if _, exists := m.Get(key); !exists {
				m.Set(key, item)
			}
			return true
		})
	}
	return nil
}

func fromScalar(n *yaml.Node) (Value, error) {
	switch n.ShortTag() {
	case "!!null":
		return Null(), nil
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return Value{}, fmt.Errorf("line %d: %w", n.Line, err)
		}
		return Bool(b), nil
	case "!!int":
		var i int64
		if err := n.Decode(&i); err != nil {
			// Out of int64 range: keep the literal text.
			return String(n.Value), nil
		}
		return Int(i), nil
	case "!!float":
		var f float64
		if err := n.Decode(&f); err != nil {
			return Value{}, fmt.Errorf("line %d: %w", n.Line, err)
		}
		return Float(f), nil
	default:
		return String(n.Value), nil
	}
}

// MarshalJSON writes mappings with their keys in order.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.writeJSON(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) writeJSON(buf *bytes.Buffer) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindString:
		data, err := json.Marshal(v.s)
		if err != nil {
			return err
		}
		buf.Write(data)
	case KindInt:
		buf.WriteString(strconv.FormatInt(v.i, 10))
	case KindFloat:
		if math.IsInf(v.f, 0) || math.IsNaN(v.f) {
			return fmt.Errorf("cannot encode %v as JSON", v.f)
		}
		buf.WriteString(strconv.FormatFloat(v.f, 'g', -1, 64))
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindSeq:
		buf.WriteByte('[')
		for i, item := range v.seq {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindMap:
		return v.m.writeJSON(buf)
	default:
		return fmt.Errorf("cannot encode %s as JSON", v.kind)
	}
	return nil
}

// MarshalJSON writes entries in insertion order.
func (m *Map) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := m.writeJSON(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (m *Map) writeJSON(buf *bytes.Buffer) error {
	buf.WriteByte('{')
	var err error
	i := 0
	m.Range(func(key string, item Value) bool {
		if i > 0 {
			buf.WriteByte(',')
		}
		i++
		k, kerr := json.Marshal(key)
		if kerr != nil {
			err = kerr
			return false
		}
		buf.Write(k)
		buf.WriteByte(':')
		if err = item.writeJSON(buf); err != nil {
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	buf.WriteByte('}')
	return nil
}

// MarshalYAML emits a node tree so mapping order survives encoding.
func (v Value) MarshalYAML() (interface{}, error) {
	return v.toNode(), nil
}

// MarshalYAML emits a mapping node in insertion order.
func (m *Map) MarshalYAML() (interface{}, error) {
	return m.toNode(), nil
}

func (v Value) toNode() *yaml.Node {
	switch v.kind {
	case KindString:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v.s}
	case KindInt:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.FormatInt(v.i, 10)}
	case KindFloat:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: formatFloat(v.f)}
	case KindBool:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(v.b)}
	case KindSeq:
		n := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, item := range v.seq {
			n.Content = append(n.Content, item.toNode())
		}
		return n
	case KindMap:
		return v.m.toNode()
	default:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
	}
}

func (m *Map) toNode() *yaml.Node {
	n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	m.Range(func(key string, item Value) bool {
		n.Content = append(n.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
			item.toNode(),
		)
		return true
	})
	return n
}
