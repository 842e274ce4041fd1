package schema

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultSchema []byte

type rawLeaf struct {
	Sensor       string   `yaml:"sensor"`
	FriendlyName string   `yaml:"friendly_name"`
	Unit         string   `yaml:"unit"`
	Class        string   `yaml:"class"`
	Convert      string   `yaml:"convert"`
	Aka          []string `yaml:"aka"`
	InOut        bool     `yaml:"inout"`
}

// Default returns the built-in sonnenBatterie mapping
func Default() (*Schema, error) {
	return Parse(defaultSchema)
}

// LoadFile reads a schema from a YAML file
func LoadFile(path string) (*Schema, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open schema: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Load(f)
}

// Load reads a schema from r
func Load(r io.Reader) (*Schema, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	return Parse(data)
}

// Parse builds a schema from YAML. Sibling order follows the document.
func Parse(data []byte) (*Schema, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, fmt.Errorf("parse schema: empty document")
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parse schema: line %d: top level must be a mapping", root.Line)
	}

	children, err := parseChildren(root, nil)
	if err != nil {
		return nil, err
	}
	return &Schema{Root: children}, nil
}

func parseChildren(m *yaml.Node, path []string) ([]*Node, error) {
	nodes := make([]*Node, 0, len(m.Content)/2)
	for i := 0; i+1 < len(m.Content); i += 2 {
		key, value := m.Content[i], m.Content[i+1]
		childPath := append(append([]string(nil), path...), key.Value)

		if value.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("schema %s: line %d: expected a mapping", strings.Join(childPath, "/"), value.Line)
		}

		node := &Node{Key: key.Value}
		if hasKey(value, "sensor") {
			leaf, err := parseLeaf(value, childPath)
			if err != nil {
				return nil, err
			}
			node.Leaf = leaf
		} else {
			children, err := parseChildren(value, childPath)
			if err != nil {
				return nil, err
			}
			node.Children = children
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

func parseLeaf(value *yaml.Node, path []string) (*Leaf, error) {
	var raw rawLeaf
	if err := value.Decode(&raw); err != nil {
		return nil, fmt.Errorf("schema %s: %w", strings.Join(path, "/"), err)
	}
	if raw.Sensor == "" {
		return nil, fmt.Errorf("schema %s: line %d: empty sensor id", strings.Join(path, "/"), value.Line)
	}

	leaf := &Leaf{
		Sensor:       raw.Sensor,
		FriendlyName: raw.FriendlyName,
		Unit:         raw.Unit,
		Class:        raw.Class,
		ConvertName:  raw.Convert,
		Aka:          raw.Aka,
		InOut:        raw.InOut,
	}
	if leaf.FriendlyName == "" {
		leaf.FriendlyName = raw.Sensor
	}
	if raw.Convert != "" {
		fn, ok := Converter(raw.Convert)
		if !ok {
			return nil, fmt.Errorf("schema %s: unknown converter %q (have %s)",
				strings.Join(path, "/"), raw.Convert, strings.Join(ConverterNames(), ", "))
		}
		leaf.Convert = fn
	}
	return leaf, nil
}

func hasKey(m *yaml.Node, key string) bool {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return true
		}
	}
	return false
}
