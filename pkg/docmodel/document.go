// Package docmodel defines the recursive Document value tree and the
// Record wrapper (collection, document_id, version, timestamps) that the
// rest of aerolithdb operates on, plus the wire codec that serializes it.
package docmodel

import (
	"fmt"
	"regexp"
	"time"
)

// Kind tags which field of a Document is populated.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindArray
	KindMap
)

// MaxDepth and MaxNodes bound a Document tree per the data model.
const (
	MaxDepth = 64
	MaxNodes = 1 << 20
)

// Document is a recursively-typed value tree isomorphic to JSON.
type Document struct {
	Kind  Kind
	Bool  bool
	Int   int64
	Float float64
	Str   string
	Array []Document
	Map   map[string]Document
}

// Null, BoolVal, IntVal, FloatVal, StringVal, ArrayVal and MapVal are convenience
// constructors mirroring the teacher's plain-struct-literal style for
// domain values.
func Null() Document                    { return Document{Kind: KindNull} }
func BoolVal(b bool) Document            { return Document{Kind: KindBool, Bool: b} }
func IntVal(i int64) Document            { return Document{Kind: KindInt, Int: i} }
func FloatVal(f float64) Document        { return Document{Kind: KindFloat, Float: f} }
func StringVal(s string) Document        { return Document{Kind: KindString, Str: s} }
func ArrayVal(items ...Document) Document { return Document{Kind: KindArray, Array: items} }
func MapVal(m map[string]Document) Document {
	return Document{Kind: KindMap, Map: m}
}

// Get resolves a dot-path field, e.g. "address.city". A missing segment
// yields the null value, which compares equal only to explicit null.
func (d Document) Get(path string) Document {
	if path == "" {
		return d
	}
	cur := d
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '.' {
			segment := path[start:i]
			if cur.Kind != KindMap {
				return Null()
			}
			next, ok := cur.Map[segment]
			if !ok {
				return Null()
			}
			cur = next
			start = i + 1
		}
	}
	return cur
}

// Equal performs deep structural equality, order-independent for maps
// and order-sensitive for arrays (matching JSON semantics).
func (d Document) Equal(o Document) bool {
	if d.Kind != o.Kind {
		return false
	}
	switch d.Kind {
	case KindNull:
		return true
	case KindBool:
		return d.Bool == o.Bool
	case KindInt:
		return d.Int == o.Int
	case KindFloat:
		return d.Float == o.Float
	case KindString:
		return d.Str == o.Str
	case KindArray:
		if len(d.Array) != len(o.Array) {
			return false
		}
		for i := range d.Array {
			if !d.Array[i].Equal(o.Array[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(d.Map) != len(o.Map) {
			return false
		}
		for k, v := range d.Map {
			ov, ok := o.Map[k]
			if !ok || !v.Equal(ov) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Depth returns the maximum nesting depth of the tree, counting the root
// as depth 1.
func (d Document) Depth() int {
	switch d.Kind {
	case KindArray:
		max := 0
		for _, item := range d.Array {
			if depth := item.Depth(); depth > max {
				max = depth
			}
		}
		return max + 1
	case KindMap:
		max := 0
		for _, v := range d.Map {
			if depth := v.Depth(); depth > max {
				max = depth
			}
		}
		return max + 1
	default:
		return 1
	}
}

// NodeCount returns the total number of value nodes in the tree,
// including the root.
func (d Document) NodeCount() int {
	count := 1
	switch d.Kind {
	case KindArray:
		for _, item := range d.Array {
			count += item.NodeCount()
		}
	case KindMap:
		for _, v := range d.Map {
			count += v.NodeCount()
		}
	}
	return count
}

// Validate enforces the depth and node-count bounds from the data model.
func (d Document) Validate() error {
	if depth := d.Depth(); depth > MaxDepth {
		return fmt.Errorf("document depth %d exceeds max %d", depth, MaxDepth)
	}
	if nodes := d.NodeCount(); nodes > MaxNodes {
		return fmt.Errorf("document node count %d exceeds max %d", nodes, MaxNodes)
	}
	return nil
}

// Record pairs a Document with its collection/document identity and
// lifecycle metadata.
type Record struct {
	Collection string
	DocumentID string
	Data       Document
	Version    uint64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

var collectionPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateCollection enforces the §3 collection-name invariants.
func ValidateCollection(name string) error {
	if name == "" {
		return fmt.Errorf("collection name must not be empty")
	}
	if len(name) > 64 {
		return fmt.Errorf("collection name %q exceeds 64 characters", name)
	}
	if !collectionPattern.MatchString(name) {
		return fmt.Errorf("collection name %q does not match [A-Za-z_][A-Za-z0-9_]*", name)
	}
	if len(name) >= 8 && name[:8] == "_system_" {
		return fmt.Errorf("collection name %q uses the reserved _system_ prefix", name)
	}
	return nil
}

// ValidateDocumentID enforces the §3 document_id invariants.
func ValidateDocumentID(id string) error {
	if id == "" {
		return fmt.Errorf("document_id must not be empty")
	}
	if len(id) > 255 {
		return fmt.Errorf("document_id exceeds 255 characters")
	}
	return nil
}
