// Package extract statically infers data-model shape from Python sources.
// Extraction is a pure syntax-tree walk over tree-sitter output; analyzed
// code is never executed or imported.
package extract

import (
	"context"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/wudi/contractmap/internal/errors"
	"github.com/wudi/contractmap/internal/schema"
)

// DefaultMarker is the base-class name that qualifies a class as a declared
// data model.
const DefaultMarker = "BaseModel"

// Extractor scans source text for declarative model definitions and emits
// the same canonical schema-node shape the contract resolver produces, so
// both contract sources are diff-compatible.
type Extractor struct {
	marker string
}

// New creates an extractor. An empty marker falls back to DefaultMarker.
func New(marker string) *Extractor {
	if marker == "" {
		marker = DefaultMarker
	}
	return &Extractor{marker: marker}
}

// ExtractFile parses one source file's text and returns an Endpoint-shaped
// node per qualifying class declaration. modulePath names the file in dotted
// form ("app.models") and prefixes each class path. Absence of qualifying
// classes is not an error; a syntactically broken file is.
func (e *Extractor) ExtractFile(ctx context.Context, src []byte, modulePath string) ([]schema.Endpoint, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindUnparsableSource, modulePath, "parse failed")
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return nil, errors.UnparsableSource(modulePath, "source contains syntax errors")
	}

	var endpoints []schema.Endpoint
	e.walk(root, src, modulePath, &endpoints)
	schema.SortEndpoints(endpoints)
	return endpoints, nil
}

func (e *Extractor) walk(node *sitter.Node, src []byte, modulePath string, out *[]schema.Endpoint) {
	if node.Type() == "class_definition" && e.qualifies(node, src) {
		if ep, ok := e.extractClass(node, src, modulePath); ok {
			*out = append(*out, ep)
		}
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		e.walk(node.NamedChild(i), src, modulePath, out)
	}
}

// qualifies reports whether the class's base list contains the marker name,
// either bare ("BaseModel") or attribute-qualified ("pydantic.BaseModel").
func (e *Extractor) qualifies(class *sitter.Node, src []byte) bool {
	supers := class.ChildByFieldName("superclasses")
	if supers == nil {
		return false
	}
	for i := 0; i < int(supers.NamedChildCount()); i++ {
		base := supers.NamedChild(i)
		switch base.Type() {
		case "identifier":
			if base.Content(src) == e.marker {
				return true
			}
		case "attribute":
			if attr := base.ChildByFieldName("attribute"); attr != nil && attr.Content(src) == e.marker {
				return true
			}
		}
	}
	return false
}

func (e *Extractor) extractClass(class *sitter.Node, src []byte, modulePath string) (schema.Endpoint, bool) {
	nameNode := class.ChildByFieldName("name")
	body := class.ChildByFieldName("body")
	if nameNode == nil || body == nil {
		return schema.Endpoint{}, false
	}

	model := &schema.Node{
		Kind:       schema.KindObject,
		Properties: map[string]*schema.Node{},
	}

	for i := 0; i < int(body.NamedChildCount()); i++ {
		stmt := body.NamedChild(i)
		if stmt.Type() != "expression_statement" {
			continue
		}
		for j := 0; j < int(stmt.NamedChildCount()); j++ {
			expr := stmt.NamedChild(j)
			if expr.Type() != "assignment" {
				continue
			}
			name, field, required, ok := e.extractField(expr, src)
			if !ok {
				continue
			}
			model.Properties[name] = field
			if required {
				model.Required = append(model.Required, name)
			}
		}
	}

	if len(model.Properties) == 0 {
		return schema.Endpoint{}, false
	}
	sort.Strings(model.Required)

	path := nameNode.Content(src)
	if modulePath != "" {
		path = modulePath + "." + path
	}
	return schema.Endpoint{
		Method:  schema.MethodSchema,
		Path:    path,
		Summary: docstring(class, src),
		Responses: map[string]*schema.Node{
			"model": model,
		},
	}, true
}

// extractField turns one class-body assignment into a schema property.
// An annotated field without a default is required; a field with a default
// is optional. Nullability does not affect requiredness: Optional[str] with
// no default still must be passed, it may just be None. Unannotated
// assignments are kept as nullable unknown rather than dropped.
func (e *Extractor) extractField(assign *sitter.Node, src []byte) (string, *schema.Node, bool, bool) {
	left := assign.ChildByFieldName("left")
	if left == nil || left.Type() != "identifier" {
		return "", nil, false, false
	}
	name := left.Content(src)

	typeNode := assign.ChildByFieldName("type")
	hasDefault := assign.ChildByFieldName("right") != nil

	if typeNode == nil {
		field := schema.NewUnknown()
		field.Nullable = true
		return name, field, false, true
	}

	annotation := typeNode.Content(src)
	field := annotationToNode(annotation)
	return name, field, !hasDefault, true
}

// annotationToNode maps a Python type annotation to a canonical node.
func annotationToNode(annotation string) *schema.Node {
	text := strings.TrimSpace(annotation)
	nullable := false

	// X | None and Optional[X] mark the field nullable.
	if stripped, ok := stripNoneUnion(text); ok {
		text = stripped
		nullable = true
	}
	if strings.HasPrefix(text, "Optional[") && strings.HasSuffix(text, "]") {
		text = strings.TrimSuffix(strings.TrimPrefix(text, "Optional["), "]")
		nullable = true
	}

	node := baseAnnotationNode(text)
	node.Nullable = nullable
	node.Format = annotation
	return node
}

func baseAnnotationNode(text string) *schema.Node {
	base := text
	if idx := strings.IndexByte(base, '['); idx >= 0 {
		inner := strings.TrimSuffix(base[idx+1:], "]")
		switch base[:idx] {
		case "list", "List", "set", "Set", "tuple", "Tuple":
			return &schema.Node{Kind: schema.KindArray, Items: baseAnnotationNode(strings.TrimSpace(firstTypeArg(inner)))}
		case "dict", "Dict", "Mapping":
			return &schema.Node{Kind: schema.KindObject}
		default:
			return schema.NewUnknown()
		}
	}

	switch base {
	case "int":
		return schema.NewPrimitive(schema.TypeInteger)
	case "float":
		return schema.NewPrimitive(schema.TypeNumber)
	case "str":
		return schema.NewPrimitive(schema.TypeString)
	case "bool":
		return schema.NewPrimitive(schema.TypeBoolean)
	case "dict":
		return &schema.Node{Kind: schema.KindObject}
	case "list", "set", "tuple":
		return &schema.Node{Kind: schema.KindArray, Items: schema.NewUnknown()}
	default:
		return schema.NewUnknown()
	}
}

// stripNoneUnion removes a "| None" member from a union annotation.
func stripNoneUnion(text string) (string, bool) {
	if !strings.Contains(text, "|") {
		return text, false
	}
	parts := strings.Split(text, "|")
	var kept []string
	sawNone := false
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "None" {
			sawNone = true
			continue
		}
		kept = append(kept, p)
	}
	if !sawNone {
		return text, false
	}
	return strings.Join(kept, " | "), true
}

// firstTypeArg returns the first comma-separated type argument, respecting
// bracket nesting ("str, int" -> "str").
func firstTypeArg(inner string) string {
	depth := 0
	for i, r := range inner {
		switch r {
		case '[':
			depth++
		case ']':
			depth--
		case ',':
			if depth == 0 {
				return inner[:i]
			}
		}
	}
	return inner
}

// docstring extracts the class docstring, when the first body statement is a
// bare string literal.
func docstring(class *sitter.Node, src []byte) string {
	body := class.ChildByFieldName("body")
	if body == nil || body.NamedChildCount() == 0 {
		return ""
	}
	first := body.NamedChild(0)
	if first.Type() != "expression_statement" || first.NamedChildCount() == 0 {
		return ""
	}
	str := first.NamedChild(0)
	if str.Type() != "string" {
		return ""
	}
	content := str.Content(src)
	content = strings.Trim(content, "\"'")
	return strings.TrimSpace(content)
}
