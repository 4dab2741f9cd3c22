package graph

import (
	"testing"
)

func edge(consumer string) Edge {
	return Edge{
		Consumer: consumer,
		Producer: "billing",
		Method:   "GET",
		Path:     "/invoices/{id}",
	}
}

func TestAddAndRemoveEdge(t *testing.T) {
	g, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	added, err := g.AddEdge(edge("webapp"))
	if err != nil || !added {
		t.Fatalf("add: added=%v err=%v", added, err)
	}
	added, err = g.AddEdge(edge("webapp"))
	if err != nil {
		t.Fatalf("re-add: %v", err)
	}
	if added {
		t.Error("duplicate edge must be a no-op")
	}

	consumers := g.ConsumersOf("billing", "GET", "/invoices/{id}")
	if len(consumers) != 1 || consumers[0] != "webapp" {
		t.Fatalf("consumers = %v", consumers)
	}

	removed, err := g.RemoveEdge(edge("webapp"))
	if err != nil || !removed {
		t.Fatalf("remove: removed=%v err=%v", removed, err)
	}
	if got := g.ConsumersOf("billing", "GET", "/invoices/{id}"); len(got) != 0 {
		t.Errorf("consumer still present after removal: %v", got)
	}

	removed, err = g.RemoveEdge(edge("webapp"))
	if err != nil {
		t.Fatalf("re-remove: %v", err)
	}
	if removed {
		t.Error("removing an absent edge must be a no-op")
	}
}

func TestConsumersOfIsEndpointScoped(t *testing.T) {
	g, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := g.AddEdge(edge("webapp")); err != nil {
		t.Fatal(err)
	}
	other := edge("mobile")
	other.Path = "/invoices"
	if _, err := g.AddEdge(other); err != nil {
		t.Fatal(err)
	}

	consumers := g.ConsumersOf("billing", "GET", "/invoices/{id}")
	if len(consumers) != 1 || consumers[0] != "webapp" {
		t.Errorf("endpoint scoping broken: %v", consumers)
	}
	if got := g.ConsumersOf("billing", "POST", "/invoices/{id}"); len(got) != 0 {
		t.Errorf("method scoping broken: %v", got)
	}
}

func TestEdgesPersistAcrossReload(t *testing.T) {
	dir := t.TempDir()
	g, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := g.AddEdge(edge("webapp")); err != nil {
		t.Fatal(err)
	}
	if _, err := g.AddEdge(edge("mobile")); err != nil {
		t.Fatal(err)
	}

	reloaded, err := Load(dir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	consumers := reloaded.ConsumersOf("billing", "GET", "/invoices/{id}")
	if len(consumers) != 2 {
		t.Fatalf("persisted edges lost: %v", consumers)
	}
	if consumers[0] != "mobile" || consumers[1] != "webapp" {
		t.Errorf("consumers not sorted: %v", consumers)
	}
}

func TestEdgesToAndFrom(t *testing.T) {
	g, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := g.AddEdge(edge("webapp")); err != nil {
		t.Fatal(err)
	}
	second := edge("webapp")
	second.Producer = "identity"
	second.Path = "/users/{id}"
	if _, err := g.AddEdge(second); err != nil {
		t.Fatal(err)
	}

	if got := g.EdgesTo("billing"); len(got) != 1 {
		t.Errorf("EdgesTo = %+v", got)
	}
	if got := g.EdgesFrom("webapp"); len(got) != 2 {
		t.Errorf("EdgesFrom = %+v", got)
	}
}

func TestAdjacency(t *testing.T) {
	g, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for _, e := range []Edge{
		edge("webapp"),
		{Consumer: "webapp", Producer: "identity", Method: "GET", Path: "/users/{id}"},
		{Consumer: "mobile", Producer: "billing", Method: "GET", Path: "/invoices"},
	} {
		if _, err := g.AddEdge(e); err != nil {
			t.Fatal(err)
		}
	}

	adj := g.Adjacency()
	if got := adj["webapp"]; len(got) != 2 || got[0] != "billing" || got[1] != "identity" {
		t.Errorf("webapp adjacency = %v", got)
	}
	if got := adj["mobile"]; len(got) != 1 || got[0] != "billing" {
		t.Errorf("mobile adjacency = %v", got)
	}
}
