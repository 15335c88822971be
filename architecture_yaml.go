package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Architecture files keep the shape of the original darknet list:
//
//	- [7, 64, 2, 3]                      # filter: kernel, out, stride, padding
//	- M                                  # 2x2/2 max pool
//	- [[1, 256, 1, 0], [3, 512, 1, 1], 4] # repeat group
//
// Decoding only checks structure. Value checks (positive kernel, ...) belong
// to Plan so a hand-built spec and a decoded one fail the same way.

// UnmarshalYAML decodes a YAML sequence of entries.
func (s *ArchitectureSpec) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.SequenceNode {
		return configErrorf(-1, nodeText(value), "architecture must be a sequence of entries")
	}

	spec := make(ArchitectureSpec, 0, len(value.Content))
	for i, item := range value.Content {
		entry, err := decodeEntry(item)
		if err != nil {
			return &ConfigError{Index: i, Entry: nodeText(item), Reason: err.Error()}
		}
		spec = append(spec, entry)
	}

	*s = spec
	return nil
}

func decodeEntry(n *yaml.Node) (ArchEntry, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		if n.Value == "M" {
			return PoolMarker{}, nil
		}
		return nil, fmt.Errorf("unrecognized marker %q (only \"M\" is a pool marker)", n.Value)

	case yaml.SequenceNode:
		switch {
		case len(n.Content) == 4 && allScalars(n.Content):
			return decodeFilter(n)
		case len(n.Content) == 3 &&
			n.Content[0].Kind == yaml.SequenceNode &&
			n.Content[1].Kind == yaml.SequenceNode &&
			n.Content[2].Kind == yaml.ScalarNode:
			first, err := decodeFilter(n.Content[0])
			if err != nil {
				return nil, fmt.Errorf("repeat group first entry: %w", err)
			}
			second, err := decodeFilter(n.Content[1])
			if err != nil {
				return nil, fmt.Errorf("repeat group second entry: %w", err)
			}
			var count int
			if err := n.Content[2].Decode(&count); err != nil {
				return nil, fmt.Errorf("repeat count %q is not an integer", n.Content[2].Value)
			}
			return RepeatGroup{First: first, Second: second, Count: count}, nil
		}
		return nil, fmt.Errorf("unrecognized entry: want [kernel, out, stride, padding] or [[filter], [filter], count]")
	}

	return nil, fmt.Errorf("unrecognized entry kind")
}

func decodeFilter(n *yaml.Node) (FilterEntry, error) {
	if n.Kind != yaml.SequenceNode || len(n.Content) != 4 || !allScalars(n.Content) {
		return FilterEntry{}, fmt.Errorf("filter %s must be [kernel, out, stride, padding]", nodeText(n))
	}

	var v [4]int
	for i, c := range n.Content {
		if err := c.Decode(&v[i]); err != nil {
			return FilterEntry{}, fmt.Errorf("filter value %q is not an integer", c.Value)
		}
	}
	return FilterEntry{KernelSize: v[0], OutChannels: v[1], Stride: v[2], Padding: v[3]}, nil
}

func allScalars(nodes []*yaml.Node) bool {
	for _, n := range nodes {
		if n.Kind != yaml.ScalarNode {
			return false
		}
	}
	return true
}

// nodeText renders a node in flow style for error messages.
func nodeText(n *yaml.Node) string {
	switch n.Kind {
	case yaml.ScalarNode:
		return n.Value
	case yaml.SequenceNode:
		parts := make([]string, len(n.Content))
		for i, c := range n.Content {
			parts[i] = nodeText(c)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case yaml.MappingNode:
		parts := make([]string, 0, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			parts = append(parts, nodeText(n.Content[i])+": "+nodeText(n.Content[i+1]))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case yaml.AliasNode:
		return "*" + n.Value
	case yaml.DocumentNode:
		if len(n.Content) > 0 {
			return nodeText(n.Content[0])
		}
	}
	return ""
}

// MarshalYAML encodes the architecture with one flow-style line per entry.
func (s ArchitectureSpec) MarshalYAML() (interface{}, error) {
	root := &yaml.Node{Kind: yaml.SequenceNode}
	for i, entry := range s {
		switch e := entry.(type) {
		case FilterEntry:
			root.Content = append(root.Content, filterNode(e))
		case PoolMarker:
			root.Content = append(root.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: "M"})
		case RepeatGroup:
			root.Content = append(root.Content, &yaml.Node{
				Kind:  yaml.SequenceNode,
				Style: yaml.FlowStyle,
				Content: []*yaml.Node{
					filterNode(e.First),
					filterNode(e.Second),
					intNode(e.Count),
				},
			})
		default:
			return nil, configErrorf(i, fmt.Sprintf("%#v", entry), "unrecognized entry type %T", entry)
		}
	}
	return root, nil
}

func filterNode(f FilterEntry) *yaml.Node {
	return &yaml.Node{
		Kind:  yaml.SequenceNode,
		Style: yaml.FlowStyle,
		Content: []*yaml.Node{
			intNode(f.KernelSize),
			intNode(f.OutChannels),
			intNode(f.Stride),
			intNode(f.Padding),
		},
	}
}

func intNode(v int) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(v)}
}

// LoadArchitecture reads an architecture spec from a YAML file.
func LoadArchitecture(path string) (ArchitectureSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read architecture: %w", err)
	}

	var spec ArchitectureSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse architecture %s: %w", path, err)
	}
	return spec, nil
}

// WriteArchitecture writes spec to path as YAML.
func WriteArchitecture(spec ArchitectureSpec, path string) error {
	data, err := yaml.Marshal(spec)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
