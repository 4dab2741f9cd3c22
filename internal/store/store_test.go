package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/wudi/contractmap/internal/errors"
	"github.com/wudi/contractmap/internal/schema"
)

func userEndpoint(fields map[string]*schema.Node, required ...string) schema.Endpoint {
	return schema.Endpoint{
		Method: "GET",
		Path:   "/users/{id}",
		Responses: map[string]*schema.Node{
			"2xx": {Kind: schema.KindObject, Properties: fields, Required: required},
		},
	}
}

func baseEndpoints() []schema.Endpoint {
	return []schema.Endpoint{
		userEndpoint(map[string]*schema.Node{
			"id":   schema.NewPrimitive(schema.TypeInteger),
			"name": schema.NewPrimitive(schema.TypeString),
		}, "id", "name"),
		{
			Method: "POST",
			Path:   "/users",
			Request: &schema.Node{
				Kind: schema.KindObject,
				Properties: map[string]*schema.Node{
					"name": schema.NewPrimitive(schema.TypeString),
				},
				Required: []string{"name"},
			},
		},
	}
}

func TestContentHashIgnoresOrdering(t *testing.T) {
	eps := baseEndpoints()
	a, err := NewContract("svc", eps)
	if err != nil {
		t.Fatalf("contract: %v", err)
	}

	// Reversed endpoint order and reversed required order must not matter.
	reversed := []schema.Endpoint{eps[1], eps[0]}
	reversed[0].Request.Required = []string{"name"}
	b, err := NewContract("svc", reversed)
	if err != nil {
		t.Fatalf("contract: %v", err)
	}

	if a.ContentHash != b.ContentHash {
		t.Errorf("hash depends on input order: %s vs %s", a.ContentHash, b.ContentHash)
	}
	if len(a.ContentHash) != 64 {
		t.Errorf("hash is not sha256 hex: %q", a.ContentHash)
	}
}

func TestContentHashChangesWithShape(t *testing.T) {
	a, _ := NewContract("svc", baseEndpoints())

	changed := baseEndpoints()
	changed[0].Responses["2xx"].Properties["id"] = schema.NewPrimitive(schema.TypeString)
	b, _ := NewContract("svc", changed)

	if a.ContentHash == b.ContentHash {
		t.Error("type change did not change the hash")
	}
}

func TestPutIsIdempotent(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	v1, appended, err := s.Put("svc", baseEndpoints())
	if err != nil {
		t.Fatalf("first put: %v", err)
	}
	if !appended {
		t.Fatal("first put must append")
	}

	v2, appended, err := s.Put("svc", baseEndpoints())
	if err != nil {
		t.Fatalf("second put: %v", err)
	}
	if appended {
		t.Error("identical content must not append")
	}
	if v2.ContentHash != v1.ContentHash || v2.ID != v1.ID {
		t.Errorf("idempotent put returned a different version: %+v vs %+v", v2, v1)
	}

	history, err := s.History("svc")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 version, got %d", len(history))
	}
}

// injectVersion writes a version file directly into the repo directory,
// simulating an append by another process.
func injectVersion(t *testing.T, s *Store, repo string, endpoints []schema.Endpoint, at time.Time) {
	t.Helper()
	contract, err := NewContract(repo, endpoints)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	contract.CapturedAt = at
	data, err := json.MarshalIndent(versionFile{
		ID:          uuid.NewString(),
		Repo:        contract.Repo,
		ContentHash: contract.ContentHash,
		CapturedAt:  contract.CapturedAt,
		Endpoints:   contract.Endpoints,
	}, "", "  ")
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	dir := filepath.Join(s.dir, "versions", sanitizeRepo(repo))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	name := versionFileName(contract.CapturedAt, contract.ContentHash)
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		t.Fatalf("write competing version: %v", err)
	}
}

func TestPutRetriesPastConcurrentAppend(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	competing := baseEndpoints()
	competing[0].Responses["2xx"].Properties["email"] = schema.NewPrimitive(schema.TypeString)

	fired := false
	s.publishHook = func(repo string) {
		if fired {
			return
		}
		fired = true
		injectVersion(t, s, repo, competing, time.Now().Add(-time.Second))
	}

	v, appended, err := s.Put("svc", baseEndpoints())
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if !appended {
		t.Fatal("retry against the re-read latest must append")
	}
	if !fired {
		t.Fatal("competing writer never ran")
	}

	history, err := s.History("svc")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected competing + retried version, got %d", len(history))
	}
	if history[1].ContentHash != v.ContentHash {
		t.Error("retried append is not the latest version")
	}
}

func TestPutSurfacesVersionConflict(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	// A writer that lands a new version on every attempt defeats the single
	// retry and the conflict surfaces.
	n := 0
	s.publishHook = func(repo string) {
		n++
		competing := baseEndpoints()
		competing[0].Responses["2xx"].Properties[fmt.Sprintf("extra%d", n)] = schema.NewPrimitive(schema.TypeString)
		injectVersion(t, s, repo, competing, time.Now().Add(time.Duration(n-3)*time.Second))
	}

	_, _, err = s.Put("svc", baseEndpoints())
	if !errors.IsKind(err, errors.KindVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	if n != 2 {
		t.Errorf("expected exactly one retry, writer ran %d times", n)
	}
}

func TestHistoryOrderAndLatest(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	first, _, err := s.Put("svc", baseEndpoints())
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	changed := baseEndpoints()
	changed[0].Responses["2xx"].Properties["email"] = schema.NewPrimitive(schema.TypeString)
	second, _, err := s.Put("svc", changed)
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	history, err := s.History("svc")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(history))
	}
	if history[0].ContentHash != first.ContentHash || history[1].ContentHash != second.ContentHash {
		t.Error("history is not in append order")
	}

	latest, err := s.Latest("svc")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.ContentHash != second.ContentHash {
		t.Errorf("latest = %s, want %s", latest.ContentHash, second.ContentHash)
	}
}

func TestGetByHashPrefix(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	v, _, err := s.Put("svc", baseEndpoints())
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := s.Get("svc", v.ContentHash[:12])
	if err != nil {
		t.Fatalf("get by prefix: %v", err)
	}
	if got.ContentHash != v.ContentHash {
		t.Errorf("got %s, want %s", got.ContentHash, v.ContentHash)
	}

	if _, err := s.Get("svc", "ffff"); err == nil {
		t.Error("expected error for unknown hash")
	}
}

func TestLatestOnEmptyRepo(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	latest, err := s.Latest("nothing")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest != nil {
		t.Errorf("expected nil latest, got %+v", latest)
	}
}

func TestVersionRoundTrip(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	put, _, err := s.Put("svc", baseEndpoints())
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	read, err := s.Latest("svc")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if read.Repo != "svc" || len(read.Endpoints) != 2 {
		t.Fatalf("round trip lost data: %+v", read)
	}
	if !read.CapturedAt.Equal(put.CapturedAt) {
		t.Errorf("captured time drifted: %v vs %v", read.CapturedAt, put.CapturedAt)
	}
	// Re-hashing the stored endpoints must reproduce the stored hash.
	again, err := NewContract(read.Repo, read.Endpoints)
	if err != nil {
		t.Fatalf("rehash: %v", err)
	}
	if again.ContentHash != read.ContentHash {
		t.Error("stored hash does not match stored content")
	}
}

func TestDiffCache(t *testing.T) {
	c := NewDiffCache(4, time.Minute)
	deltas := []FieldDelta{{Method: "GET", Path: "/x", Change: EndpointRemoved}}

	if _, ok := c.Get("svc", "a", "b"); ok {
		t.Fatal("empty cache reported a hit")
	}
	c.Put("svc", "a", "b", deltas)
	got, ok := c.Get("svc", "a", "b")
	if !ok || len(got) != 1 || got[0].Change != EndpointRemoved {
		t.Fatalf("cache round trip failed: %+v", got)
	}
	if _, ok := c.Get("svc", "b", "a"); ok {
		t.Error("cache key must be direction sensitive")
	}
}

func TestFeedbackLog(t *testing.T) {
	log, err := NewFeedbackLog(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	for _, outcome := range []string{"accepted", "rejected", "modified"} {
		if err := log.Append(Feedback{TargetID: "r1", TargetType: "report", Outcome: outcome}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	entries, err := log.List(2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("limit ignored: %d entries", len(entries))
	}
	if entries[0].Outcome != "modified" {
		t.Errorf("newest first expected, got %q", entries[0].Outcome)
	}
	if entries[0].CreatedAt.IsZero() {
		t.Error("created_at not assigned")
	}
}
