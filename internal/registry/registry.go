// Package registry keeps the set of repositories known to the analyzer and
// where their sources live on disk.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/wudi/contractmap/internal/errors"
)

// RepoType selects which scanners apply to a repository.
type RepoType string

const (
	// TypeAuto lets the scanner probe for both contract files and model
	// sources.
	TypeAuto    RepoType = "auto"
	TypeOpenAPI RepoType = "openapi"
	TypeModels  RepoType = "models"
)

// RepoInfo describes one registered repository.
type RepoInfo struct {
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	Type         RepoType  `json:"type"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Registry is the persisted repository set, one JSON file rewritten
// atomically on every mutation.
type Registry struct {
	path string

	mu    sync.RWMutex
	repos map[string]RepoInfo
}

// Load opens the registry stored under dir, creating an empty one when no
// file exists yet.
func Load(dir string) (*Registry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}
	r := &Registry{
		path:  filepath.Join(dir, "repos.json"),
		repos: make(map[string]RepoInfo),
	}

	raw, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry file: %w", err)
	}
	var list []RepoInfo
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("unmarshal registry file: %w", err)
	}
	for _, info := range list {
		r.repos[info.Name] = info
	}
	return r, nil
}

// Register adds or updates a repository. Registering an existing name
// replaces its path and type but keeps the original registration time.
func (r *Registry) Register(name, path string, typ RepoType) (RepoInfo, error) {
	if name == "" {
		return RepoInfo{}, fmt.Errorf("repository name must not be empty")
	}
	if typ == "" {
		typ = TypeAuto
	}
	switch typ {
	case TypeAuto, TypeOpenAPI, TypeModels:
	default:
		return RepoInfo{}, fmt.Errorf("unknown repository type %q", typ)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return RepoInfo{}, fmt.Errorf("resolve repository path: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	info := RepoInfo{Name: name, Path: abs, Type: typ, RegisteredAt: time.Now().UTC()}
	if prev, ok := r.repos[name]; ok {
		info.RegisteredAt = prev.RegisteredAt
	}
	prev, existed := r.repos[name]
	r.repos[name] = info
	if err := r.save(); err != nil {
		if existed {
			r.repos[name] = prev
		} else {
			delete(r.repos, name)
		}
		return RepoInfo{}, err
	}
	return info, nil
}

// Unregister removes a repository by name.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.repos[name]
	if !ok {
		return errors.UnknownRepository(name)
	}
	delete(r.repos, name)
	if err := r.save(); err != nil {
		r.repos[name] = prev
		return err
	}
	return nil
}

// Get returns one repository by name.
func (r *Registry) Get(name string) (RepoInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.repos[name]
	if !ok {
		return RepoInfo{}, errors.UnknownRepository(name)
	}
	return info, nil
}

// List returns all repositories sorted by name.
func (r *Registry) List() []RepoInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]RepoInfo, 0, len(r.repos))
	for _, info := range r.repos {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// save must be called with the write lock held.
func (r *Registry) save() error {
	list := make([]RepoInfo, 0, len(r.repos))
	for _, info := range r.repos {
		list = append(list, info)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write registry file: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publish registry file: %w", err)
	}
	return nil
}
