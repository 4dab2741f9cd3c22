// Package graph tracks which consumer repositories depend on which producer
// endpoints, and answers the reverse question: given a change in a producer,
// which consumers are affected.
package graph

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Edge declares that Consumer calls Method Path on Producer. Edges are
// self-declared by consumers, not discovered from traffic.
type Edge struct {
	Consumer     string    `json:"consumer"`
	Producer     string    `json:"producer"`
	Method       string    `json:"method"`
	Path         string    `json:"path"`
	RegisteredAt time.Time `json:"registered_at"`
}

func (e Edge) same(other Edge) bool {
	return e.Consumer == other.Consumer &&
		e.Producer == other.Producer &&
		e.Method == other.Method &&
		e.Path == other.Path
}

// Graph is the persisted consumer-edge set. All edges live in one JSON file;
// the set is small (hundreds, not millions) and rewritten atomically on every
// mutation.
type Graph struct {
	path string

	mu    sync.RWMutex
	edges []Edge
}

// Load opens the edge set stored under dir, creating an empty one when no
// file exists yet.
func Load(dir string) (*Graph, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create graph dir: %w", err)
	}
	g := &Graph{path: filepath.Join(dir, "edges.json")}

	raw, err := os.ReadFile(g.path)
	if os.IsNotExist(err) {
		return g, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read edge file: %w", err)
	}
	if err := json.Unmarshal(raw, &g.edges); err != nil {
		return nil, fmt.Errorf("unmarshal edge file: %w", err)
	}
	return g, nil
}

// AddEdge records a consumer dependency. Re-adding an existing edge is a
// no-op and reports false.
func (g *Graph) AddEdge(edge Edge) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, existing := range g.edges {
		if existing.same(edge) {
			return false, nil
		}
	}
	if edge.RegisteredAt.IsZero() {
		edge.RegisteredAt = time.Now().UTC()
	}
	g.edges = append(g.edges, edge)
	if err := g.save(); err != nil {
		g.edges = g.edges[:len(g.edges)-1]
		return false, err
	}
	return true, nil
}

// RemoveEdge deletes a consumer dependency. Removing an absent edge is a
// no-op and reports false.
func (g *Graph) RemoveEdge(edge Edge) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	idx := -1
	for i, existing := range g.edges {
		if existing.same(edge) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, nil
	}
	removed := g.edges[idx]
	g.edges = append(g.edges[:idx], g.edges[idx+1:]...)
	if err := g.save(); err != nil {
		g.edges = append(g.edges, removed)
		return false, err
	}
	return true, nil
}

// ConsumersOf returns the consumers registered against one producer endpoint,
// sorted by name.
func (g *Graph) ConsumersOf(producer, method, path string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := map[string]bool{}
	var out []string
	for _, e := range g.edges {
		if e.Producer == producer && e.Method == method && e.Path == path && !seen[e.Consumer] {
			seen[e.Consumer] = true
			out = append(out, e.Consumer)
		}
	}
	sort.Strings(out)
	return out
}

// EdgesTo returns every edge pointing at a producer.
func (g *Graph) EdgesTo(producer string) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []Edge
	for _, e := range g.edges {
		if e.Producer == producer {
			out = append(out, e)
		}
	}
	sortEdges(out)
	return out
}

// EdgesFrom returns every edge declared by a consumer.
func (g *Graph) EdgesFrom(consumer string) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []Edge
	for _, e := range g.edges {
		if e.Consumer == consumer {
			out = append(out, e)
		}
	}
	sortEdges(out)
	return out
}

// All returns a copy of every edge.
func (g *Graph) All() []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	sortEdges(out)
	return out
}

// Adjacency is a repo-level view of the graph: for each consumer, the set of
// producers it depends on.
func (g *Graph) Adjacency() map[string][]string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	sets := map[string]map[string]bool{}
	for _, e := range g.edges {
		if sets[e.Consumer] == nil {
			sets[e.Consumer] = map[string]bool{}
		}
		sets[e.Consumer][e.Producer] = true
	}
	out := make(map[string][]string, len(sets))
	for consumer, producers := range sets {
		names := make([]string, 0, len(producers))
		for p := range producers {
			names = append(names, p)
		}
		sort.Strings(names)
		out[consumer] = names
	}
	return out
}

func (g *Graph) save() error {
	data, err := json.MarshalIndent(g.edges, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal edges: %w", err)
	}
	tmp := g.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write edge file: %w", err)
	}
	if err := os.Rename(tmp, g.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publish edge file: %w", err)
	}
	return nil
}

func sortEdges(edges []Edge) {
	sort.Slice(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.Consumer != b.Consumer {
			return a.Consumer < b.Consumer
		}
		if a.Producer != b.Producer {
			return a.Producer < b.Producer
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.Method < b.Method
	})
}
