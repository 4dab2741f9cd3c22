package store

import (
	"encoding/json"
	"sort"

	"github.com/wudi/contractmap/internal/schema"
)

// Direction tells which side of an endpoint a delta sits on. Request and
// response are classified with opposite polarity: a producer controls its
// response shape while consumers control what they send.
type Direction string

const (
	DirectionRequest  Direction = "request"
	DirectionResponse Direction = "response"
)

// ChangeType is the structural nature of one delta.
type ChangeType string

const (
	EndpointAdded      ChangeType = "endpoint_added"
	EndpointRemoved    ChangeType = "endpoint_removed"
	FieldAdded         ChangeType = "field_added"
	FieldRemoved       ChangeType = "field_removed"
	TypeChanged        ChangeType = "type_changed"
	TypeWidened        ChangeType = "type_widened"
	OptionalToRequired ChangeType = "optional_to_required"
	RequiredToOptional ChangeType = "required_to_optional"
	DocChanged         ChangeType = "doc_changed"
	BranchAdded        ChangeType = "branch_added"
	BranchRemoved      ChangeType = "branch_removed"
)

// FieldDelta is one structural difference between two contract versions,
// located by endpoint identity, field path and direction. It carries no
// severity; classification is a separate concern.
type FieldDelta struct {
	Method      string     `json:"method"`
	Path        string     `json:"path"`
	FieldPath   string     `json:"field_path,omitempty"`
	Direction   Direction  `json:"direction,omitempty"`
	Change      ChangeType `json:"change"`
	OldType     string     `json:"old_type,omitempty"`
	NewType     string     `json:"new_type,omitempty"`
	NewRequired bool       `json:"new_required,omitempty"`
}

// Diff computes the structural delta between two contracts of the same
// repository via a recursive tree diff that descends nested objects, array
// item types and union branch sets.
func Diff(oldC, newC *Contract) []FieldDelta {
	oldMap := endpointMap(oldC)
	newMap := endpointMap(newC)

	var deltas []FieldDelta

	for _, key := range sortedEndpointKeys(oldMap) {
		if _, ok := newMap[key]; !ok {
			deltas = append(deltas, FieldDelta{
				Method: key.Method, Path: key.Path, Change: EndpointRemoved,
			})
		}
	}
	for _, key := range sortedEndpointKeys(newMap) {
		if _, ok := oldMap[key]; !ok {
			deltas = append(deltas, FieldDelta{
				Method: key.Method, Path: key.Path, Change: EndpointAdded,
			})
		}
	}

	for _, key := range sortedEndpointKeys(oldMap) {
		oldEP, ok := oldMap[key]
		if !ok {
			continue
		}
		newEP, ok := newMap[key]
		if !ok {
			continue
		}
		d := differ{method: key.Method, path: key.Path}
		d.diffEndpoint(oldEP, newEP)
		deltas = append(deltas, d.out...)
	}

	return deltas
}

// DiffVersions is Diff over stored versions.
func DiffVersions(a, b *Version) []FieldDelta {
	return Diff(&a.Contract, &b.Contract)
}

type differ struct {
	method string
	path   string
	out    []FieldDelta
}

func (d *differ) emit(delta FieldDelta) {
	delta.Method = d.method
	delta.Path = d.path
	d.out = append(d.out, delta)
}

func (d *differ) diffEndpoint(oldEP, newEP schema.Endpoint) {
	d.diffNodes(oldEP.Request, newEP.Request, "", DirectionRequest)

	classes := map[string]bool{}
	for c := range oldEP.Responses {
		classes[c] = true
	}
	for c := range newEP.Responses {
		classes[c] = true
	}
	for _, c := range sortedStrings(classes) {
		d.diffNodes(oldEP.Responses[c], newEP.Responses[c], "", DirectionResponse)
	}

	if oldEP.Summary != newEP.Summary {
		d.emit(FieldDelta{Change: DocChanged})
	}
}

// diffNodes walks two nodes at the same location. A nil node is treated as
// an empty object so a body appearing or disappearing reads as field-level
// deltas rather than an opaque type change.
func (d *differ) diffNodes(oldN, newN *schema.Node, fieldPath string, dir Direction) {
	if oldN == nil && newN == nil {
		return
	}
	oldN = orEmpty(oldN)
	newN = orEmpty(newN)

	if oldN.Kind == schema.KindCycle && newN.Kind == schema.KindCycle {
		return
	}

	if oldN.Kind != newN.Kind {
		d.emit(FieldDelta{
			FieldPath: fieldPath, Direction: dir, Change: TypeChanged,
			OldType: describeType(oldN), NewType: describeType(newN),
		})
		return
	}

	switch oldN.Kind {
	case schema.KindPrimitive:
		if oldN.Type != newN.Type {
			change := TypeChanged
			if isWidening(oldN.Type, newN.Type) {
				change = TypeWidened
			}
			d.emit(FieldDelta{
				FieldPath: fieldPath, Direction: dir, Change: change,
				OldType: oldN.Type, NewType: newN.Type,
			})
		}
	case schema.KindObject:
		d.diffObject(oldN, newN, fieldPath, dir)
	case schema.KindArray:
		d.diffNodes(oldN.Items, newN.Items, joinPath(fieldPath, "[]"), dir)
	case schema.KindUnion:
		d.diffUnion(oldN, newN, fieldPath, dir)
	}

	if oldN.Nullable != newN.Nullable {
		change := RequiredToOptional
		if oldN.Nullable && !newN.Nullable {
			change = OptionalToRequired
		}
		d.emit(FieldDelta{FieldPath: fieldPath, Direction: dir, Change: change})
	}
	if oldN.Description != newN.Description {
		d.emit(FieldDelta{FieldPath: fieldPath, Direction: dir, Change: DocChanged})
	}
}

func (d *differ) diffObject(oldN, newN *schema.Node, fieldPath string, dir Direction) {
	names := map[string]bool{}
	for n := range oldN.Properties {
		names[n] = true
	}
	for n := range newN.Properties {
		names[n] = true
	}

	for _, name := range sortedStrings(names) {
		childPath := joinPath(fieldPath, name)
		oldProp, inOld := oldN.Properties[name]
		newProp, inNew := newN.Properties[name]

		switch {
		case !inOld:
			d.emit(FieldDelta{
				FieldPath: childPath, Direction: dir, Change: FieldAdded,
				NewType: describeType(newProp), NewRequired: newN.IsRequired(name),
			})
		case !inNew:
			d.emit(FieldDelta{
				FieldPath: childPath, Direction: dir, Change: FieldRemoved,
				OldType: describeType(oldProp),
			})
		default:
			wasRequired := oldN.IsRequired(name)
			isRequired := newN.IsRequired(name)
			if wasRequired && !isRequired {
				d.emit(FieldDelta{FieldPath: childPath, Direction: dir, Change: RequiredToOptional})
			}
			if !wasRequired && isRequired {
				d.emit(FieldDelta{FieldPath: childPath, Direction: dir, Change: OptionalToRequired})
			}
			d.diffNodes(oldProp, newProp, childPath, dir)
		}
	}
}

// diffUnion compares branch sets structurally: a branch present on one side
// only counts as a delta. Branch identity is its canonical serialization.
func (d *differ) diffUnion(oldN, newN *schema.Node, fieldPath string, dir Direction) {
	oldSet := branchSet(oldN)
	newSet := branchSet(newN)

	for _, key := range sortedStrings(oldSet) {
		if !newSet[key] {
			d.emit(FieldDelta{FieldPath: fieldPath, Direction: dir, Change: BranchRemoved})
		}
	}
	for _, key := range sortedStrings(newSet) {
		if !oldSet[key] {
			d.emit(FieldDelta{FieldPath: fieldPath, Direction: dir, Change: BranchAdded})
		}
	}
}

func branchSet(n *schema.Node) map[string]bool {
	set := make(map[string]bool, len(n.Branches))
	for _, b := range n.Branches {
		data, err := json.Marshal(b)
		if err != nil {
			continue
		}
		set[string(data)] = true
	}
	return set
}

var emptyObject = &schema.Node{Kind: schema.KindObject}

func orEmpty(n *schema.Node) *schema.Node {
	if n == nil {
		return emptyObject
	}
	return n
}

// isWidening reports whether a primitive type change broadens the value set
// instead of changing it incompatibly.
func isWidening(oldType, newType string) bool {
	return oldType == schema.TypeInteger && newType == schema.TypeNumber
}

func describeType(n *schema.Node) string {
	if n == nil {
		return ""
	}
	switch n.Kind {
	case schema.KindPrimitive:
		return n.Type
	case schema.KindObject:
		return "object"
	case schema.KindArray:
		return "array"
	case schema.KindUnion:
		return "union"
	case schema.KindCycle:
		return "cycle"
	}
	return string(n.Kind)
}

func joinPath(base, seg string) string {
	if base == "" {
		return seg
	}
	return base + "." + seg
}

func sortedEndpointKeys(m map[schema.Key]schema.Endpoint) []schema.Key {
	keys := make([]schema.Key, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Method != keys[j].Method {
			return keys[i].Method < keys[j].Method
		}
		return keys[i].Path < keys[j].Path
	})
	return keys
}

func sortedStrings(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
