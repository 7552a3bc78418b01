package nestedfilter

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadDeclarations reads declarations from a YAML document: a sequence of
// {type, mapping} entries. Mapping values keep their document order. Tagged
// single-key objects build references:
//
//	$value: Post.id
//	$filter: Post
//	$suppressedBy: {type: Author, path: Author.id}
//	$ignored: true
//
// Other objects, sequences and scalars become nested, list and literal
// values.
func LoadDeclarations(r io.Reader) ([]Declaration, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode declarations: %w", err)
	}
	root := &doc
	if root.Kind == yaml.DocumentNode && len(root.Content) == 1 {
		root = root.Content[0]
	}
	if root.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("line %d: declarations must be a sequence", root.Line)
	}
	out := make([]Declaration, 0, len(root.Content))
	for _, item := range root.Content {
		d, err := decodeDeclaration(item)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// LoadDeclarationFile reads declarations from the YAML file at path.
func LoadDeclarationFile(path string) ([]Declaration, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	decls, err := LoadDeclarations(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return decls, nil
}

func decodeDeclaration(n *yaml.Node) (Declaration, error) {
	if n.Kind != yaml.MappingNode {
		return Declaration{}, fmt.Errorf("line %d: declaration must be an object", n.Line)
	}
	var d Declaration
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, val := n.Content[i], n.Content[i+1]
		switch key.Value {
		case "type":
			d.Type = Type(val.Value)
		case "mapping":
			if val.Kind != yaml.MappingNode {
				return Declaration{}, fmt.Errorf("line %d: mapping must be an object", val.Line)
			}
			for j := 0; j+1 < len(val.Content); j += 2 {
				v, err := decodeValue(val.Content[j+1])
				if err != nil {
					return Declaration{}, err
				}
				d.Mapping = d.Mapping.With(Type(val.Content[j].Value), v)
			}
		default:
			return Declaration{}, fmt.Errorf("line %d: unknown declaration key %q", key.Line, key.Value)
		}
	}
	if d.Type == "" {
		return Declaration{}, fmt.Errorf("line %d: declaration without type", n.Line)
	}
	return d, nil
}

func decodeValue(n *yaml.Node) (Value, error) {
	switch n.Kind {
	case yaml.AliasNode:
		return decodeValue(n.Alias)
	case yaml.ScalarNode:
		var lit any
		if err := n.Decode(&lit); err != nil {
			return Value{}, fmt.Errorf("line %d: %w", n.Line, err)
		}
		return Literal(lit), nil
	case yaml.SequenceNode:
		items := make([]Value, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := decodeValue(c)
			if err != nil {
				return Value{}, err
			}
			items = append(items, v)
		}
		return List(items...), nil
	case yaml.MappingNode:
		if len(n.Content) == 2 && len(n.Content[0].Value) > 0 && n.Content[0].Value[0] == '$' {
			return decodeTagged(n.Content[0], n.Content[1])
		}
		members := make([]Member, 0, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			v, err := decodeValue(n.Content[i+1])
			if err != nil {
				return Value{}, err
			}
			members = append(members, Key(n.Content[i].Value, v))
		}
		return Nested(members...), nil
	}
	return Value{}, fmt.Errorf("line %d: unsupported mapping value", n.Line)
}

func decodeTagged(key, val *yaml.Node) (Value, error) {
	switch key.Value {
	case "$value":
		return MapValue(val.Value), nil
	case "$filter":
		return MapFilter(Type(val.Value)), nil
	case "$ignored":
		return Ignored(), nil
	case "$suppressedBy":
		var ref struct {
			Type string `yaml:"type"`
			Path string `yaml:"path"`
		}
		if err := val.Decode(&ref); err != nil {
			return Value{}, fmt.Errorf("line %d: %w", val.Line, err)
		}
		if ref.Type == "" || ref.Path == "" {
			return Value{}, fmt.Errorf("line %d: $suppressedBy needs type and path", val.Line)
		}
		return SuppressedBy(Type(ref.Type), ref.Path), nil
	}
	return Value{}, fmt.Errorf("line %d: unknown mapping tag %q", key.Line, key.Value)
}
