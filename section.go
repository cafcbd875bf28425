package psychics

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Section is an order preserving YAML mapping. Psychic templates decode into
// sections so ability bindings keep document order and a template with filled
// in defaults can be written back without reshuffling the author's keys.
//
// Values are scalars (string, int, float64, bool, nil), []any or *Section.
// The zero value is an empty, usable section.
type Section struct {
	keys   []string
	values map[string]any
}

// NewSection creates an empty section.
func NewSection() *Section {
	return &Section{values: make(map[string]any)}
}

// Keys returns the keys in document order.
func (s *Section) Keys() []string {
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}

// Len returns the number of keys.
func (s *Section) Len() int {
	return len(s.keys)
}

// Has reports whether key is present.
func (s *Section) Has(key string) bool {
	_, ok := s.values[key]
	return ok
}

// Get returns the raw value stored under key.
func (s *Section) Get(key string) (any, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Set stores value under key. New keys are appended after existing ones.
func (s *Section) Set(key string, value any) {
	if s.values == nil {
		s.values = make(map[string]any)
	}
	if _, ok := s.values[key]; !ok {
		s.keys = append(s.keys, key)
	}
	s.values[key] = value
}

// Section returns the nested section stored under key.
func (s *Section) Section(key string) (*Section, bool) {
	v, ok := s.values[key]
	if !ok {
		return nil, false
	}
	sub, ok := v.(*Section)
	return sub, ok
}

// CreateSection returns the nested section under key, creating it if absent.
func (s *Section) CreateSection(key string) *Section {
	if sub, ok := s.Section(key); ok {
		return sub
	}
	sub := NewSection()
	s.Set(key, sub)
	return sub
}

// String returns the string under key, or def when absent or not a string.
func (s *Section) String(key, def string) string {
	if v, ok := s.values[key].(string); ok {
		return v
	}
	return def
}

// Float returns the number under key as a float64.
// The boolean is false when the key is absent or not numeric.
func (s *Section) Float(key string) (float64, bool) {
	switch v := s.values[key].(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	case float32:
		return float64(v), true
	default:
		return 0, false
	}
}

// Clone returns a deep copy of the section.
func (s *Section) Clone() *Section {
	out := &Section{
		keys:   append([]string(nil), s.keys...),
		values: make(map[string]any, len(s.values)),
	}
	for k, v := range s.values {
		out.values[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case *Section:
		return v.Clone()
	case []any:
		list := make([]any, len(v))
		for i, e := range v {
			list[i] = cloneValue(e)
		}
		return list
	default:
		return v
	}
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Section) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
		node = node.Content[0]
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a mapping", node.Line)
	}

	s.keys = s.keys[:0]
	s.values = make(map[string]any, len(node.Content)/2)

	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valueNode := node.Content[i], node.Content[i+1]
		if _, dup := s.values[keyNode.Value]; dup {
			return fmt.Errorf("line %d: duplicate key %q", keyNode.Line, keyNode.Value)
		}
		value, err := decodeNode(valueNode)
		if err != nil {
			return fmt.Errorf("key %q: %w", keyNode.Value, err)
		}
		s.Set(keyNode.Value, value)
	}
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (s *Section) MarshalYAML() (any, error) {
	out := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, key := range s.keys {
		var value yaml.Node
		if err := value.Encode(s.values[key]); err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
		out.Content = append(out.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
			&value,
		)
	}
	return out, nil
}

// decodeNode turns a YAML node into a Section value.
func decodeNode(node *yaml.Node) (any, error) {
	switch node.Kind {
	case yaml.MappingNode:
		sub := NewSection()
		if err := sub.UnmarshalYAML(node); err != nil {
			return nil, err
		}
		return sub, nil
	case yaml.SequenceNode:
		list := make([]any, 0, len(node.Content))
		for _, child := range node.Content {
			v, err := decodeNode(child)
			if err != nil {
				return nil, err
			}
			list = append(list, v)
		}
		return list, nil
	case yaml.AliasNode:
		return decodeNode(node.Alias)
	default:
		var v any
		if err := node.Decode(&v); err != nil {
			return nil, err
		}
		return v, nil
	}
}
