package store

import (
	"testing"

	"github.com/wudi/contractmap/internal/schema"
)

func contractOf(t *testing.T, eps []schema.Endpoint) *Contract {
	t.Helper()
	c, err := NewContract("svc", eps)
	if err != nil {
		t.Fatalf("contract: %v", err)
	}
	return c
}

func deltasOf(t *testing.T, oldEps, newEps []schema.Endpoint) []FieldDelta {
	t.Helper()
	return Diff(contractOf(t, oldEps), contractOf(t, newEps))
}

func findDelta(t *testing.T, deltas []FieldDelta, change ChangeType, fieldPath string) FieldDelta {
	t.Helper()
	for _, d := range deltas {
		if d.Change == change && d.FieldPath == fieldPath {
			return d
		}
	}
	t.Fatalf("no %s delta at %q in %+v", change, fieldPath, deltas)
	return FieldDelta{}
}

func hasDelta(deltas []FieldDelta, change ChangeType, fieldPath string) bool {
	for _, d := range deltas {
		if d.Change == change && d.FieldPath == fieldPath {
			return true
		}
	}
	return false
}

func TestDiffIdenticalContracts(t *testing.T) {
	deltas := deltasOf(t, baseEndpoints(), baseEndpoints())
	if len(deltas) != 0 {
		t.Errorf("expected no deltas, got %+v", deltas)
	}
}

func TestEndpointAddedAndRemoved(t *testing.T) {
	oldEps := baseEndpoints()
	newEps := []schema.Endpoint{
		oldEps[0],
		{Method: "DELETE", Path: "/users/{id}"},
	}
	deltas := deltasOf(t, oldEps, newEps)

	removed := findDelta(t, deltas, EndpointRemoved, "")
	if removed.Method != "POST" || removed.Path != "/users" {
		t.Errorf("removed wrong endpoint: %+v", removed)
	}
	added := findDelta(t, deltas, EndpointAdded, "")
	if added.Method != "DELETE" {
		t.Errorf("added wrong endpoint: %+v", added)
	}
}

func TestResponseFieldRemoved(t *testing.T) {
	oldEps := baseEndpoints()
	newEps := baseEndpoints()
	delete(newEps[0].Responses["2xx"].Properties, "name")
	newEps[0].Responses["2xx"].Required = []string{"id"}

	deltas := deltasOf(t, oldEps, newEps)
	d := findDelta(t, deltas, FieldRemoved, "name")
	if d.Direction != DirectionResponse {
		t.Errorf("direction = %q, want response", d.Direction)
	}
	if d.OldType != schema.TypeString {
		t.Errorf("old type = %q", d.OldType)
	}
}

func TestRequiredRequestFieldAdded(t *testing.T) {
	oldEps := baseEndpoints()
	newEps := baseEndpoints()
	newEps[1].Request.Properties["email"] = schema.NewPrimitive(schema.TypeString)
	newEps[1].Request.Required = []string{"email", "name"}

	deltas := deltasOf(t, oldEps, newEps)
	d := findDelta(t, deltas, FieldAdded, "email")
	if d.Direction != DirectionRequest || !d.NewRequired {
		t.Errorf("request required flag lost: %+v", d)
	}
}

func TestTypeChangeVsWidening(t *testing.T) {
	oldEps := baseEndpoints()

	widened := baseEndpoints()
	widened[0].Responses["2xx"].Properties["id"] = schema.NewPrimitive(schema.TypeNumber)
	deltas := deltasOf(t, oldEps, widened)
	d := findDelta(t, deltas, TypeWidened, "id")
	if d.OldType != schema.TypeInteger || d.NewType != schema.TypeNumber {
		t.Errorf("widening types wrong: %+v", d)
	}

	// The reverse direction is a narrowing and must be a plain type change.
	deltas = deltasOf(t, widened, oldEps)
	if !hasDelta(deltas, TypeChanged, "id") {
		t.Errorf("number->integer must be type_changed: %+v", deltas)
	}

	changed := baseEndpoints()
	changed[0].Responses["2xx"].Properties["id"] = schema.NewPrimitive(schema.TypeString)
	deltas = deltasOf(t, oldEps, changed)
	if !hasDelta(deltas, TypeChanged, "id") {
		t.Errorf("integer->string must be type_changed: %+v", deltas)
	}
}

func TestOptionalityTransitions(t *testing.T) {
	oldEps := baseEndpoints()
	newEps := baseEndpoints()
	// name: required -> optional in the response.
	newEps[0].Responses["2xx"].Required = []string{"id"}
	// request name: optional field becomes required is covered via required list.
	deltas := deltasOf(t, oldEps, newEps)
	d := findDelta(t, deltas, RequiredToOptional, "name")
	if d.Direction != DirectionResponse {
		t.Errorf("direction wrong: %+v", d)
	}

	deltas = deltasOf(t, newEps, oldEps)
	if !hasDelta(deltas, OptionalToRequired, "name") {
		t.Errorf("reverse transition missing: %+v", deltas)
	}
}

func TestNestedFieldPath(t *testing.T) {
	oldEps := []schema.Endpoint{{
		Method: "GET",
		Path:   "/orders",
		Responses: map[string]*schema.Node{
			"2xx": {Kind: schema.KindArray, Items: &schema.Node{
				Kind: schema.KindObject,
				Properties: map[string]*schema.Node{
					"total": schema.NewPrimitive(schema.TypeInteger),
				},
			}},
		},
	}}
	newEps := []schema.Endpoint{{
		Method: "GET",
		Path:   "/orders",
		Responses: map[string]*schema.Node{
			"2xx": {Kind: schema.KindArray, Items: &schema.Node{
				Kind: schema.KindObject,
				Properties: map[string]*schema.Node{
					"total": schema.NewPrimitive(schema.TypeString),
				},
			}},
		},
	}}

	deltas := deltasOf(t, oldEps, newEps)
	if !hasDelta(deltas, TypeChanged, "[].total") {
		t.Errorf("nested path wrong: %+v", deltas)
	}
}

func TestUnionBranchChanges(t *testing.T) {
	branchA := &schema.Node{Kind: schema.KindObject, Properties: map[string]*schema.Node{
		"bark": schema.NewPrimitive(schema.TypeBoolean),
	}}
	branchB := &schema.Node{Kind: schema.KindObject, Properties: map[string]*schema.Node{
		"meow": schema.NewPrimitive(schema.TypeBoolean),
	}}

	twoBranches := []schema.Endpoint{{
		Method: "GET", Path: "/pets",
		Responses: map[string]*schema.Node{
			"2xx": {Kind: schema.KindUnion, Branches: []*schema.Node{branchA, branchB}},
		},
	}}
	oneBranch := []schema.Endpoint{{
		Method: "GET", Path: "/pets",
		Responses: map[string]*schema.Node{
			"2xx": {Kind: schema.KindUnion, Branches: []*schema.Node{branchA}},
		},
	}}

	deltas := deltasOf(t, twoBranches, oneBranch)
	if !hasDelta(deltas, BranchRemoved, "") {
		t.Errorf("branch removal missed: %+v", deltas)
	}
	deltas = deltasOf(t, oneBranch, twoBranches)
	if !hasDelta(deltas, BranchAdded, "") {
		t.Errorf("branch addition missed: %+v", deltas)
	}
}

func TestDocChangeOnly(t *testing.T) {
	oldEps := baseEndpoints()
	newEps := baseEndpoints()
	newEps[0].Summary = "Fetch one user"

	deltas := deltasOf(t, oldEps, newEps)
	if len(deltas) != 1 || deltas[0].Change != DocChanged {
		t.Errorf("expected a single doc delta, got %+v", deltas)
	}
}

func TestBodyAppearingIsFieldLevel(t *testing.T) {
	oldEps := []schema.Endpoint{{Method: "POST", Path: "/ping"}}
	newEps := []schema.Endpoint{{
		Method: "POST", Path: "/ping",
		Request: &schema.Node{
			Kind: schema.KindObject,
			Properties: map[string]*schema.Node{
				"token": schema.NewPrimitive(schema.TypeString),
			},
			Required: []string{"token"},
		},
	}}

	deltas := deltasOf(t, oldEps, newEps)
	d := findDelta(t, deltas, FieldAdded, "token")
	if d.Direction != DirectionRequest || !d.NewRequired {
		t.Errorf("appearing body not treated field-level: %+v", d)
	}
}
