package schema

import (
	"sort"
)

// Kind discriminates the variants of a resolved schema node.
type Kind string

const (
	KindPrimitive Kind = "primitive"
	KindObject    Kind = "object"
	KindArray     Kind = "array"
	KindUnion     Kind = "union"
	// KindCycle marks the point where resolution hit a reference that was
	// already being expanded. It stands in for the full subtree instead of
	// recursing forever.
	KindCycle Kind = "cycle"
)

// Well-known primitive type tags.
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeObject  = "object"
	TypeUnknown = "unknown"
)

// Node is the canonical, reference-free representation of a type shape.
// A Node carries only the fields relevant to its kind and is immutable once
// produced by resolution; nothing outside the producing pass may mutate it.
type Node struct {
	Kind        Kind             `json:"kind"`
	Type        string           `json:"type,omitempty"`   // primitive type tag
	Format      string           `json:"format,omitempty"` // semantic refinement (int64, date-time, ...)
	Nullable    bool             `json:"nullable,omitempty"`
	Description string           `json:"description,omitempty"`
	Properties  map[string]*Node `json:"properties,omitempty"`
	Required    []string         `json:"required,omitempty"` // sorted
	Items       *Node            `json:"items,omitempty"`
	Branches    []*Node          `json:"branches,omitempty"` // union alternatives, never collapsed
}

// NewPrimitive builds a primitive node with the given type tag.
func NewPrimitive(typ string) *Node {
	return &Node{Kind: KindPrimitive, Type: typ}
}

// NewUnknown builds the node substituted for unresolvable references.
func NewUnknown() *Node {
	return &Node{Kind: KindPrimitive, Type: TypeUnknown}
}

// NewCycleMarker builds the sentinel substituted on cycle detection.
func NewCycleMarker() *Node {
	return &Node{Kind: KindCycle}
}

// IsRequired reports whether name is in the node's required set.
func (n *Node) IsRequired(name string) bool {
	for _, r := range n.Required {
		if r == name {
			return true
		}
	}
	return false
}

// Clone returns a deep copy. Resolution uses it when substituting a shared
// referenced shape that then receives local overrides.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := *n
	if n.Properties != nil {
		out.Properties = make(map[string]*Node, len(n.Properties))
		for k, v := range n.Properties {
			out.Properties[k] = v.Clone()
		}
	}
	if n.Required != nil {
		out.Required = append([]string(nil), n.Required...)
	}
	out.Items = n.Items.Clone()
	if n.Branches != nil {
		out.Branches = make([]*Node, len(n.Branches))
		for i, b := range n.Branches {
			out.Branches[i] = b.Clone()
		}
	}
	return &out
}

// normalize sorts the required set in place so canonical serialization is
// deterministic regardless of input ordering.
func (n *Node) normalize() {
	if n == nil {
		return
	}
	sort.Strings(n.Required)
	for _, p := range n.Properties {
		p.normalize()
	}
	n.Items.normalize()
	for _, b := range n.Branches {
		b.normalize()
	}
}

// Endpoint is one API operation: a method plus path template, the request
// body shape, and response shapes keyed by status class ("2xx", "4xx", ...).
// Model declarations extracted from source use method SCHEMA and carry their
// shape on the response side, so both contract sources are diff-compatible.
type Endpoint struct {
	Method    string           `json:"method"`
	Path      string           `json:"path"`
	Summary   string           `json:"summary,omitempty"`
	Request   *Node            `json:"request,omitempty"`
	Responses map[string]*Node `json:"responses,omitempty"`
}

// MethodSchema is the pseudo-method used for extracted data models.
const MethodSchema = "SCHEMA"

// Key is endpoint identity within one repository.
type Key struct {
	Method string
	Path   string
}

func (k Key) String() string {
	return k.Method + " " + k.Path
}

// KeyOf returns the identity of an endpoint.
func KeyOf(ep Endpoint) Key {
	return Key{Method: ep.Method, Path: ep.Path}
}

// SortEndpoints orders endpoints by identity, the canonical contract order.
func SortEndpoints(eps []Endpoint) {
	sort.Slice(eps, func(i, j int) bool {
		if eps[i].Method != eps[j].Method {
			return eps[i].Method < eps[j].Method
		}
		return eps[i].Path < eps[j].Path
	})
}
