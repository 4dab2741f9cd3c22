// Package scanner discovers contract sources inside a repository checkout and
// turns them into a single endpoint set: OpenAPI documents go through the
// reference resolver, Python model files through the static extractor.
package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/goccy/go-yaml"
	"golang.org/x/sync/errgroup"

	"github.com/wudi/contractmap/internal/errors"
	"github.com/wudi/contractmap/internal/extract"
	"github.com/wudi/contractmap/internal/registry"
	"github.com/wudi/contractmap/internal/schema"
)

// DefaultContractGlobs match the usual locations of OpenAPI documents.
var DefaultContractGlobs = []string{
	"openapi.{yaml,yml,json}",
	"**/openapi.{yaml,yml,json}",
	"api/**/*.{yaml,yml}",
	"docs/api/**/*.{yaml,yml}",
}

// DefaultModelGlobs match Python sources that may declare data models.
var DefaultModelGlobs = []string{
	"**/models/**/*.py",
	"**/schemas/**/*.py",
	"**/models.py",
	"**/schemas.py",
}

// skipDirs are never descended into during discovery.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	".venv":        true,
	"venv":         true,
	"__pycache__":  true,
	"vendor":       true,
}

// Options tune discovery.
type Options struct {
	ContractGlobs []string
	ModelGlobs    []string
	ModelMarker   string // base class that qualifies a Python model
	Concurrency   int    // parallel repo scans in ScanAll
}

// FileWarning is a per-file problem encountered during a scan. A malformed
// file degrades the result instead of failing the whole repository.
type FileWarning struct {
	File    string `json:"file"`
	Message string `json:"message"`
}

// Result is the outcome of scanning one repository.
type Result struct {
	Repo      string            `json:"repo"`
	Endpoints []schema.Endpoint `json:"endpoints"`
	Warnings  []FileWarning     `json:"warnings,omitempty"`
	Files     int               `json:"files"`
}

// Scanner discovers and parses contract sources.
type Scanner struct {
	opts      Options
	extractor *extract.Extractor
}

// New creates a scanner. Zero-value options fall back to the default globs
// and marker.
func New(opts Options) *Scanner {
	if len(opts.ContractGlobs) == 0 {
		opts.ContractGlobs = DefaultContractGlobs
	}
	if len(opts.ModelGlobs) == 0 {
		opts.ModelGlobs = DefaultModelGlobs
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Scanner{
		opts:      opts,
		extractor: extract.New(opts.ModelMarker),
	}
}

// Scan walks one repository and returns its combined endpoint set, sorted by
// identity. Which sources are considered depends on the repository type.
func (s *Scanner) Scan(ctx context.Context, info registry.RepoInfo) (*Result, error) {
	if _, err := os.Stat(info.Path); err != nil {
		return nil, fmt.Errorf("repository path %q: %w", info.Path, err)
	}

	res := &Result{Repo: info.Name}

	wantContracts := info.Type == registry.TypeAuto || info.Type == registry.TypeOpenAPI
	wantModels := info.Type == registry.TypeAuto || info.Type == registry.TypeModels

	var contractFiles, modelFiles []string
	err := filepath.WalkDir(info.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return fs.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(info.Path, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if wantContracts && matchesAny(s.opts.ContractGlobs, rel) {
			contractFiles = append(contractFiles, path)
		} else if wantModels && matchesAny(s.opts.ModelGlobs, rel) {
			modelFiles = append(modelFiles, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk repository %q: %w", info.Name, err)
	}
	sort.Strings(contractFiles)
	sort.Strings(modelFiles)

	for _, file := range contractFiles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		endpoints, warns, err := s.scanContract(file)
		res.Files++
		if err != nil {
			res.Warnings = append(res.Warnings, FileWarning{File: relTo(info.Path, file), Message: err.Error()})
			continue
		}
		for _, w := range warns {
			res.Warnings = append(res.Warnings, FileWarning{File: relTo(info.Path, file), Message: w.Err.Error()})
		}
		res.Endpoints = append(res.Endpoints, endpoints...)
	}

	for _, file := range modelFiles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		endpoints, err := s.scanModels(ctx, info.Path, file)
		res.Files++
		if err != nil {
			res.Warnings = append(res.Warnings, FileWarning{File: relTo(info.Path, file), Message: err.Error()})
			continue
		}
		res.Endpoints = append(res.Endpoints, endpoints...)
	}

	schema.SortEndpoints(res.Endpoints)
	return res, nil
}

// ScanAll scans several repositories in parallel. One repository failing
// outright fails the batch; per-file problems stay warnings in each result.
func (s *Scanner) ScanAll(ctx context.Context, infos []registry.RepoInfo) (map[string]*Result, error) {
	results := make(map[string]*Result, len(infos))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for _, info := range infos {
		info := info
		g.Go(func() error {
			res, err := s.Scan(ctx, info)
			if err != nil {
				return fmt.Errorf("scan %q: %w", info.Name, err)
			}
			mu.Lock()
			results[info.Name] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// scanContract parses one OpenAPI document and resolves its references.
func (s *Scanner) scanContract(file string) ([]schema.Endpoint, []schema.Warning, error) {
	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, nil, err
	}

	var root map[string]interface{}
	if strings.HasSuffix(file, ".json") {
		if err := json.Unmarshal(raw, &root); err != nil {
			return nil, nil, errors.MalformedContract(file, "parse json: %v", err)
		}
	} else {
		if err := yaml.Unmarshal(raw, &root); err != nil {
			return nil, nil, errors.MalformedContract(file, "parse yaml: %v", err)
		}
	}

	return schema.NewResolver(root, file).Resolve()
}

// scanModels extracts declared data models from one Python source file.
func (s *Scanner) scanModels(ctx context.Context, repoRoot, file string) ([]schema.Endpoint, error) {
	src, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	return s.extractor.ExtractFile(ctx, src, modulePath(repoRoot, file))
}

// modulePath derives a dotted module path from a file location, mirroring how
// the language itself would import it.
func modulePath(repoRoot, file string) string {
	rel, err := filepath.Rel(repoRoot, file)
	if err != nil {
		rel = filepath.Base(file)
	}
	rel = filepath.ToSlash(strings.TrimSuffix(rel, ".py"))
	rel = strings.TrimSuffix(rel, "/__init__")
	return strings.ReplaceAll(rel, "/", ".")
}

func matchesAny(globs []string, rel string) bool {
	for _, g := range globs {
		if ok, err := doublestar.Match(g, rel); err == nil && ok {
			return true
		}
	}
	return false
}

func relTo(root, file string) string {
	rel, err := filepath.Rel(root, file)
	if err != nil {
		return file
	}
	return filepath.ToSlash(rel)
}
