// Package document decodes a CBOR payload into a generic tree with typed accessors.
package document

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
)

// Kind is the type tag of a Node.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindText
	KindBytes
	KindArray
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindText:
		return "text"
	case KindBytes:
		return "bytes"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Key addresses a map entry by text or integer label.
type Key struct {
	text  string
	label int64
	isInt bool
}

// TextKey returns a key for a text label.
func TextKey(s string) Key { return Key{text: s} }

// IntKey returns a key for an integer label.
func IntKey(n int64) Key { return Key{label: n, isInt: true} }

// Label returns the integer label of an integer key.
func (k Key) Label() (int64, bool) {
	return k.label, k.isInt
}

func (k Key) String() string {
	if k.isInt {
		return strconv.FormatInt(k.label, 10)
	}
	return k.text
}

// Node is an immutable CBOR value.
type Node struct {
	kind    Kind
	b       bool
	i       int64
	f       float64
	s       string
	raw     []byte
	items   []Node
	entries map[Key]Node
}

// Kind reports the type of the node.
func (n Node) Kind() Kind { return n.kind }

// IsNull reports whether the node is CBOR null or undefined.
func (n Node) IsNull() bool { return n.kind == KindNull }

// Get returns the map entry for k. ok is false if n is not a map or the key is absent.
func (n Node) Get(k Key) (Node, bool) {
	if n.kind != KindMap {
		return Node{}, false
	}
	v, ok := n.entries[k]
	return v, ok
}

// Field looks up a text-keyed map entry.
func (n Node) Field(name string) (Node, bool) {
	return n.Get(TextKey(name))
}

// Claim looks up an integer-keyed map entry, falling back to the decimal text form of
// the label used by some issuers.
func (n Node) Claim(label int64) (Node, bool) {
	if v, ok := n.Get(IntKey(label)); ok {
		return v, true
	}
	return n.Get(TextKey(strconv.FormatInt(label, 10)))
}

// Text returns the string value of a text node.
func (n Node) Text() (string, bool) {
	if n.kind != KindText {
		return "", false
	}
	return n.s, true
}

// Int returns the integer value of an integer node. Floats with an integral value are
// accepted.
func (n Node) Int() (int64, bool) {
	switch n.kind {
	case KindInt:
		return n.i, true
	case KindFloat:
		if n.f == math.Trunc(n.f) && n.f >= math.MinInt64 && n.f <= math.MaxInt64 {
			return int64(n.f), true
		}
	}
	return 0, false
}

// Float returns the numeric value of an integer or float node.
func (n Node) Float() (float64, bool) {
	switch n.kind {
	case KindFloat:
		return n.f, true
	case KindInt:
		return float64(n.i), true
	}
	return 0, false
}

// Bool returns the value of a bool node.
func (n Node) Bool() (bool, bool) {
	if n.kind != KindBool {
		return false, false
	}
	return n.b, true
}

// Bytes returns the value of a byte string node.
func (n Node) Bytes() ([]byte, bool) {
	if n.kind != KindBytes {
		return nil, false
	}
	return n.raw, true
}

// Array returns the elements of an array node.
func (n Node) Array() ([]Node, bool) {
	if n.kind != KindArray {
		return nil, false
	}
	return n.items, true
}

// Len returns the number of elements of an array or map node, 0 otherwise.
func (n Node) Len() int {
	switch n.kind {
	case KindArray:
		return len(n.items)
	case KindMap:
		return len(n.entries)
	}
	return 0
}

// Keys returns the map keys sorted by their string form.
func (n Node) Keys() []Key {
	if n.kind != KindMap {
		return nil
	}
	keys := make([]Key, 0, len(n.entries))
	for k := range n.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// MarshalJSON renders the tree as JSON. Map keys use their string form and byte
// strings are base64 encoded.
func (n Node) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.plain())
}

func (n Node) plain() any {
	switch n.kind {
	case KindBool:
		return n.b
	case KindInt:
		return n.i
	case KindFloat:
		return n.f
	case KindText:
		return n.s
	case KindBytes:
		return n.raw
	case KindArray:
		out := make([]any, len(n.items))
		for i, item := range n.items {
			out[i] = item.plain()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(n.entries))
		for k, v := range n.entries {
			out[k.String()] = v.plain()
		}
		return out
	default:
		return nil
	}
}
