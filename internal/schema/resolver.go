package schema

import (
	"sort"
	"strings"

	"github.com/wudi/contractmap/internal/errors"
)

// operationMethods are the HTTP methods recognized on a path item.
var operationMethods = []string{"get", "post", "put", "patch", "delete", "head", "options"}

// Warning is a non-fatal resolution problem (an unresolvable reference, a
// skipped malformed sub-schema). Partial analysis is more valuable than none,
// so these accompany the result instead of aborting it.
type Warning struct {
	Path string
	Err  error
}

// Resolver turns a raw contract document, a tree of mappings, sequences and
// scalars, into fully resolved Endpoints. One Resolver handles one document;
// it owns every Node it produces.
type Resolver struct {
	root     map[string]interface{}
	docPath  string
	inFlight map[string]bool
	warnings []Warning
}

// NewResolver creates a resolver for one parsed document. docPath is used
// only for error reporting.
func NewResolver(root map[string]interface{}, docPath string) *Resolver {
	return &Resolver{
		root:     root,
		docPath:  docPath,
		inFlight: make(map[string]bool),
	}
}

// Resolve extracts all endpoints from the document. The returned endpoints
// are sorted by identity and every schema node is reference-free.
func (r *Resolver) Resolve() ([]Endpoint, []Warning, error) {
	rawPaths, ok := r.root["paths"]
	if !ok {
		return nil, nil, errors.MalformedContract(r.docPath, "document has no paths key")
	}
	paths, ok := asMap(rawPaths)
	if !ok {
		return nil, nil, errors.MalformedContract(r.docPath+"#/paths", "paths is not a mapping")
	}

	var endpoints []Endpoint
	for _, pathStr := range sortedKeys(paths) {
		rawItem := paths[pathStr]
		item, ok := asMap(rawItem)
		if !ok {
			return nil, nil, errors.MalformedContract(ptr(r.docPath, "paths", pathStr), "path item is not a mapping")
		}
		for _, method := range operationMethods {
			rawOp, ok := item[method]
			if !ok {
				continue
			}
			op, ok := asMap(rawOp)
			if !ok {
				return nil, nil, errors.MalformedContract(ptr(r.docPath, "paths", pathStr, method), "operation is not a mapping")
			}
			ep, err := r.resolveOperation(strings.ToUpper(method), pathStr, op)
			if err != nil {
				return nil, nil, err
			}
			endpoints = append(endpoints, ep)
		}
	}

	for i := range endpoints {
		endpoints[i].Request.normalize()
		for _, n := range endpoints[i].Responses {
			n.normalize()
		}
	}
	SortEndpoints(endpoints)
	return endpoints, r.warnings, nil
}

func (r *Resolver) resolveOperation(method, pathStr string, op map[string]interface{}) (Endpoint, error) {
	ep := Endpoint{Method: method, Path: pathStr}
	if s, ok := op["summary"].(string); ok {
		ep.Summary = s
	}

	opPtr := ptr(r.docPath, "paths", pathStr, strings.ToLower(method))

	if rawBody, ok := op["requestBody"]; ok {
		body, ok := asMap(rawBody)
		if !ok {
			return ep, errors.MalformedContract(opPtr+"/requestBody", "requestBody is not a mapping")
		}
		if raw := jsonContentSchema(body); raw != nil {
			node, err := r.resolveSchema(raw, opPtr+"/requestBody")
			if err != nil {
				return ep, err
			}
			ep.Request = node
		}
	}

	if rawResponses, ok := op["responses"]; ok {
		responses, ok := asMap(rawResponses)
		if !ok {
			return ep, errors.MalformedContract(opPtr+"/responses", "responses is not a mapping")
		}
		for _, status := range sortedKeys(responses) {
			resp, ok := asMap(responses[status])
			if !ok {
				continue
			}
			raw := jsonContentSchema(resp)
			if raw == nil {
				continue
			}
			node, err := r.resolveSchema(raw, opPtr+"/responses/"+status)
			if err != nil {
				return ep, err
			}
			class := statusClass(status)
			if ep.Responses == nil {
				ep.Responses = make(map[string]*Node)
			}
			// Lowest status wins within a class (statuses are iterated sorted).
			if _, exists := ep.Responses[class]; !exists {
				ep.Responses[class] = node
			}
		}
	}

	return ep, nil
}

// resolveSchema turns one raw schema value into a Node. at is the document
// pointer used in errors and warnings.
func (r *Resolver) resolveSchema(raw interface{}, at string) (*Node, error) {
	m, ok := asMap(raw)
	if !ok {
		return nil, errors.MalformedContract(at, "schema is not a mapping")
	}

	if rawRef, ok := m["$ref"]; ok {
		return r.resolveRef(rawRef, m, at)
	}

	if rawAll, ok := m["allOf"]; ok {
		return r.resolveAllOf(rawAll, m, at)
	}

	for _, kw := range []string{"anyOf", "oneOf"} {
		if rawAny, ok := m[kw]; ok {
			return r.resolveUnion(kw, rawAny, m, at)
		}
	}

	return r.resolvePlain(m, at)
}

// resolveRef follows a reference, substituting the resolved shape while
// preserving local sibling overrides on top of it.
func (r *Resolver) resolveRef(rawRef interface{}, m map[string]interface{}, at string) (*Node, error) {
	ref, ok := rawRef.(string)
	if !ok {
		return nil, errors.MalformedContract(at, "$ref is not a string")
	}

	if !strings.HasPrefix(ref, "#") {
		// External document: not resolvable here. Degrade to unknown.
		r.warn(at, errors.UnresolvedReference(ref, "external reference cannot be resolved"))
		return applyOverrides(NewUnknown(), m), nil
	}

	if r.inFlight[ref] {
		// Already expanding this reference on the current branch.
		return NewCycleMarker(), nil
	}

	target, ok := lookupPointer(r.root, ref)
	if !ok {
		r.warn(at, errors.UnresolvedReference(ref, "reference target does not exist"))
		return applyOverrides(NewUnknown(), m), nil
	}

	r.inFlight[ref] = true
	node, err := r.resolveSchema(target, ref)
	delete(r.inFlight, ref)
	if err != nil {
		return nil, err
	}
	return applyOverrides(node, m), nil
}

// resolveAllOf merges every member's properties and required sets into one
// object. Conflicting primitive types for the same field are a malformed
// document, not something to resolve silently.
func (r *Resolver) resolveAllOf(rawAll interface{}, m map[string]interface{}, at string) (*Node, error) {
	members, ok := asSlice(rawAll)
	if !ok {
		return nil, errors.MalformedContract(at+"/allOf", "allOf is not a sequence")
	}

	merged := &Node{Kind: KindObject, Properties: map[string]*Node{}}
	requiredSet := map[string]bool{}

	for i, member := range members {
		node, err := r.resolveSchema(member, at+"/allOf")
		if err != nil {
			return nil, err
		}
		if node.Kind == KindCycle {
			continue
		}
		for name, prop := range node.Properties {
			if existing, ok := merged.Properties[name]; ok {
				if conflictingPrimitives(existing, prop) {
					return nil, errors.MalformedContract(at+"/allOf",
						"allOf member %d redefines field %q with conflicting type %q (was %q)",
						i, name, prop.Type, existing.Type)
				}
			}
			// Last write wins for non-structural metadata.
			merged.Properties[name] = prop
		}
		for _, req := range node.Required {
			requiredSet[req] = true
		}
		if node.Description != "" {
			merged.Description = node.Description
		}
	}

	for name := range requiredSet {
		merged.Required = append(merged.Required, name)
	}
	sort.Strings(merged.Required)
	return applyOverrides(merged, m), nil
}

// resolveUnion keeps each alternative as a distinct branch; breaking-change
// analysis compares branch by branch, so alternatives are never collapsed.
func (r *Resolver) resolveUnion(kw string, rawAny interface{}, m map[string]interface{}, at string) (*Node, error) {
	members, ok := asSlice(rawAny)
	if !ok {
		return nil, errors.MalformedContract(at+"/"+kw, "%s is not a sequence", kw)
	}
	union := &Node{Kind: KindUnion}
	for _, member := range members {
		node, err := r.resolveSchema(member, at+"/"+kw)
		if err != nil {
			return nil, err
		}
		union.Branches = append(union.Branches, node)
	}
	return applyOverrides(union, m), nil
}

func (r *Resolver) resolvePlain(m map[string]interface{}, at string) (*Node, error) {
	typ, _ := m["type"].(string)
	rawProps, hasProps := m["properties"]

	switch {
	case typ == "object" || hasProps:
		node := &Node{Kind: KindObject}
		if hasProps {
			props, ok := asMap(rawProps)
			if !ok {
				return nil, errors.MalformedContract(at+"/properties", "properties is not a mapping")
			}
			node.Properties = make(map[string]*Node, len(props))
			for _, name := range sortedKeys(props) {
				child, err := r.resolveSchema(props[name], at+"/properties/"+name)
				if err != nil {
					return nil, err
				}
				node.Properties[name] = child
			}
		}
		if rawReq, ok := m["required"]; ok {
			reqs, ok := asSlice(rawReq)
			if !ok {
				return nil, errors.MalformedContract(at+"/required", "required is not a sequence")
			}
			for _, rawName := range reqs {
				name, ok := rawName.(string)
				if !ok {
					return nil, errors.MalformedContract(at+"/required", "required entry is not a string")
				}
				node.Required = append(node.Required, name)
			}
			sort.Strings(node.Required)
		}
		return applyOverrides(node, m), nil

	case typ == "array":
		node := &Node{Kind: KindArray}
		if rawItems, ok := m["items"]; ok {
			items, err := r.resolveSchema(rawItems, at+"/items")
			if err != nil {
				return nil, err
			}
			node.Items = items
		} else {
			node.Items = NewUnknown()
		}
		return applyOverrides(node, m), nil

	case typ != "":
		return applyOverrides(NewPrimitive(typ), m), nil

	default:
		// No type, no properties: nothing to compare against.
		return applyOverrides(NewUnknown(), m), nil
	}
}

func (r *Resolver) warn(at string, err error) {
	r.warnings = append(r.warnings, Warning{Path: at, Err: err})
}

// applyOverrides copies local modifications (description, format, nullable)
// from the raw schema onto node. The node is cloned first when it would
// otherwise share structure with another resolution site.
func applyOverrides(node *Node, m map[string]interface{}) *Node {
	desc, hasDesc := m["description"].(string)
	format, hasFormat := m["format"].(string)
	nullable, hasNullable := m["nullable"].(bool)
	if !hasDesc && !hasFormat && !hasNullable {
		return node
	}
	out := node.Clone()
	if hasDesc {
		out.Description = desc
	}
	if hasFormat {
		out.Format = format
	}
	if hasNullable {
		out.Nullable = nullable
	}
	return out
}

// conflictingPrimitives reports whether two property definitions disagree on
// their primitive type.
func conflictingPrimitives(a, b *Node) bool {
	return a.Kind == KindPrimitive && b.Kind == KindPrimitive &&
		a.Type != TypeUnknown && b.Type != TypeUnknown && a.Type != b.Type
}

// jsonContentSchema digs content/application-json/schema out of a request
// body or response mapping.
func jsonContentSchema(m map[string]interface{}) interface{} {
	content, ok := asMap(m["content"])
	if !ok {
		return nil
	}
	media, ok := asMap(content["application/json"])
	if !ok {
		return nil
	}
	raw, ok := media["schema"]
	if !ok {
		return nil
	}
	return raw
}

// lookupPointer walks a "#/a/b/c" pointer through the document root.
func lookupPointer(root map[string]interface{}, ref string) (interface{}, bool) {
	trimmed := strings.TrimPrefix(ref, "#")
	trimmed = strings.TrimPrefix(trimmed, "/")
	if trimmed == "" {
		return root, true
	}
	var cur interface{} = root
	for _, seg := range strings.Split(trimmed, "/") {
		seg = strings.ReplaceAll(seg, "~1", "/")
		seg = strings.ReplaceAll(seg, "~0", "~")
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// statusClass folds a status code into its class ("200" -> "2xx").
func statusClass(status string) string {
	if len(status) == 3 && status[0] >= '1' && status[0] <= '5' {
		return string(status[0]) + "xx"
	}
	return status
}

func ptr(docPath string, segs ...string) string {
	return docPath + "#/" + strings.Join(segs, "/")
}

// asMap normalizes the mapping representations produced by YAML decoders.
func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, val := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	default:
		return nil, false
	}
}

func asSlice(v interface{}) ([]interface{}, bool) {
	s, ok := v.([]interface{})
	return s, ok
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
