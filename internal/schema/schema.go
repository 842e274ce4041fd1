// Package schema describes how raw device fields map to published sensors.
//
// A schema is a tree. Internal nodes name the keys to descend into, leaves
// describe one published sensor. The tree is built once and never mutated.
package schema

import (
	"strings"
)

// ConvertFunc turns a raw device value into the published value
type ConvertFunc func(raw any) (any, error)

// Leaf describes a single published sensor
type Leaf struct {
	Sensor       string
	FriendlyName string
	Unit         string
	Class        string
	// ConvertName is the registered converter name, kept for display.
	ConvertName string
	Convert     ConvertFunc
	Aka         []string
	InOut       bool
}

// Node is either an internal node with Children or a leaf
type Node struct {
	Key      string
	Children []*Node
	Leaf     *Leaf
}

// IsLeaf reports whether n describes a sensor
func (n *Node) IsLeaf() bool {
	return n.Leaf != nil
}

// Schema is the root of a mapping tree
type Schema struct {
	Root []*Node
}

// Entry is a flattened leaf together with the key path leading to it
type Entry struct {
	Path []string
	Leaf *Leaf
}

// PathString joins the path the way it is shown in logs
func (e Entry) PathString() string {
	return strings.Join(e.Path, "/")
}

// Walk visits every leaf depth-first in document order.
// The path slice is reused between calls and must be copied if retained.
func (s *Schema) Walk(fn func(path []string, leaf *Leaf)) {
	path := make([]string, 0, 8)
	for _, n := range s.Root {
		walk(n, path, fn)
	}
}

func walk(n *Node, path []string, fn func([]string, *Leaf)) {
	path = append(path, n.Key)
	if n.IsLeaf() {
		fn(path, n.Leaf)
		return
	}
	for _, child := range n.Children {
		walk(child, path, fn)
	}
}

// Leaves returns every leaf with its full path
func (s *Schema) Leaves() []Entry {
	var entries []Entry
	s.Walk(func(path []string, leaf *Leaf) {
		entries = append(entries, Entry{
			Path: append([]string(nil), path...),
			Leaf: leaf,
		})
	})
	return entries
}

// SensorIDs lists every id suffix the schema can publish, aliases and in/out splits included
func (s *Schema) SensorIDs() []string {
	var ids []string
	s.Walk(func(_ []string, leaf *Leaf) {
		ids = append(ids, leaf.Sensor)
		ids = append(ids, leaf.Aka...)
		if leaf.InOut {
			stem := leaf.InOutStem()
			ids = append(ids, stem+"input", stem+"output")
		}
	})
	return ids
}

// InOutStem returns the sensor id up to and including its last underscore
func (l *Leaf) InOutStem() string {
	return l.Sensor[:strings.LastIndex(l.Sensor, "_")+1]
}
