package registry

import (
	"testing"

	"github.com/wudi/contractmap/internal/errors"
)

func TestRegisterAndGet(t *testing.T) {
	r, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	info, err := r.Register("billing", "/srv/billing", TypeOpenAPI)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if info.Name != "billing" || info.Type != TypeOpenAPI {
		t.Fatalf("info = %+v", info)
	}
	if info.RegisteredAt.IsZero() {
		t.Error("registration time not set")
	}

	got, err := r.Get("billing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Path != info.Path {
		t.Errorf("path = %q, want %q", got.Path, info.Path)
	}
}

func TestEmptyTypeDefaultsToAuto(t *testing.T) {
	r, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	info, err := r.Register("svc", "/srv/svc", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if info.Type != TypeAuto {
		t.Errorf("type = %q, want auto", info.Type)
	}
}

func TestInvalidInput(t *testing.T) {
	r, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := r.Register("", "/srv/x", TypeAuto); err == nil {
		t.Error("empty name must fail")
	}
	if _, err := r.Register("x", "/srv/x", "weird"); err == nil {
		t.Error("unknown type must fail")
	}
}

func TestReRegisterKeepsOriginalTime(t *testing.T) {
	r, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	first, err := r.Register("svc", "/srv/old", TypeAuto)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	second, err := r.Register("svc", "/srv/new", TypeModels)
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if !second.RegisteredAt.Equal(first.RegisteredAt) {
		t.Error("re-registration must keep the original time")
	}
	if second.Type != TypeModels || second.Path == first.Path {
		t.Errorf("update lost: %+v", second)
	}
	if got := r.List(); len(got) != 1 {
		t.Errorf("duplicate entries after re-register: %+v", got)
	}
}

func TestUnknownRepository(t *testing.T) {
	r, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	_, err = r.Get("ghost")
	if !errors.IsKind(err, errors.KindUnknownRepository) {
		t.Errorf("get: expected unknown repository kind, got %v", err)
	}
	err = r.Unregister("ghost")
	if !errors.IsKind(err, errors.KindUnknownRepository) {
		t.Errorf("unregister: expected unknown repository kind, got %v", err)
	}
}

func TestPersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	r, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := r.Register("billing", "/srv/billing", TypeOpenAPI); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := r.Register("identity", "/srv/identity", TypeModels); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Unregister("identity"); err != nil {
		t.Fatalf("unregister: %v", err)
	}

	reloaded, err := Load(dir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	list := reloaded.List()
	if len(list) != 1 || list[0].Name != "billing" {
		t.Errorf("persisted state wrong: %+v", list)
	}
}
