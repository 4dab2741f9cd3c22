// Package store persists immutable, content-addressed contract versions and
// computes structural diffs between them.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wudi/contractmap/internal/errors"
	"github.com/wudi/contractmap/internal/schema"
)

// Version is one immutable entry in a repository's contract history.
type Version struct {
	ID string `json:"id"`
	Contract
}

// versionFile is the on-disk envelope for a version.
type versionFile struct {
	ID          string            `json:"id"`
	Repo        string            `json:"repo"`
	ContentHash string            `json:"content_hash"`
	CapturedAt  time.Time         `json:"captured_at"`
	Endpoints   []schema.Endpoint `json:"endpoints"`
}

// Store keeps per-repository version histories on the filesystem, one JSON
// file per version under <dir>/versions/<repo>/. File names sort in append
// order, and appends go through write-temp + rename, so a reader listing the
// directory sees either the old or the new latest version, never a partial.
type Store struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per-repo write serialization

	// publishHook, when set, runs between staging a version file and the
	// conflict check. Tests use it to interleave a competing writer.
	publishHook func(repo string)
}

// New opens (creating if needed) a store rooted at dir.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, "versions"), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Store{
		dir:   dir,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// repoLock returns the mutex serializing writes for one repository key.
// Writes to distinct repositories proceed independently.
func (s *Store) repoLock(repo string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[repo]
	if !ok {
		l = &sync.Mutex{}
		s.locks[repo] = l
	}
	return l
}

// Put canonicalizes the endpoint set and appends a new version unless the
// latest stored version already carries the same content hash, in which case
// the scan is idempotent and nothing is written. A concurrent append detected
// during the write is retried once against the re-read latest version before
// surfacing as a version conflict.
func (s *Store) Put(repo string, endpoints []schema.Endpoint) (*Version, bool, error) {
	lock := s.repoLock(repo)
	lock.Lock()
	defer lock.Unlock()

	contract, err := NewContract(repo, endpoints)
	if err != nil {
		return nil, false, fmt.Errorf("canonicalize contract: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		latest, err := s.latest(repo)
		if err != nil {
			return nil, false, err
		}
		if latest != nil && latest.ContentHash == contract.ContentHash {
			return latest, false, nil
		}

		v, err := s.append(repo, contract, latest)
		if errors.IsKind(err, errors.KindVersionConflict) {
			lastErr = err
			continue
		}
		if err != nil {
			return nil, false, err
		}
		return v, true, nil
	}
	return nil, false, lastErr
}

// append writes the version file. basedOn is the latest version the caller
// decided against; if the directory's newest entry has moved past it by the
// time we are ready to publish, another writer won and the append conflicts.
func (s *Store) append(repo string, contract *Contract, basedOn *Version) (*Version, error) {
	repoDir := filepath.Join(s.dir, "versions", sanitizeRepo(repo))
	if err := os.MkdirAll(repoDir, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}

	v := &Version{ID: uuid.NewString(), Contract: *contract}
	data, err := json.MarshalIndent(versionFile{
		ID:          v.ID,
		Repo:        v.Repo,
		ContentHash: v.ContentHash,
		CapturedAt:  v.CapturedAt,
		Endpoints:   v.Endpoints,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal version: %w", err)
	}

	tmp, err := os.CreateTemp(repoDir, ".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("create temp version file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return nil, fmt.Errorf("write version file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("close version file: %w", err)
	}

	if s.publishHook != nil {
		s.publishHook(repo)
	}

	// Cross-process conflict check: the newest entry must still be the one
	// this append was based on.
	entries, err := s.entries(repo)
	if err != nil {
		os.Remove(tmpName)
		return nil, err
	}
	var newest string
	if len(entries) > 0 {
		newest = entries[len(entries)-1]
	}
	expected := ""
	if basedOn != nil {
		expected = versionFileName(basedOn.CapturedAt, basedOn.ContentHash)
	}
	if newest != expected {
		os.Remove(tmpName)
		return nil, errors.VersionConflict(repo, "history advanced during append")
	}

	final := filepath.Join(repoDir, versionFileName(v.CapturedAt, v.ContentHash))
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("publish version file: %w", err)
	}
	return v, nil
}

// History returns the ordered version sequence, most recent last.
func (s *Store) History(repo string) ([]*Version, error) {
	entries, err := s.entries(repo)
	if err != nil {
		return nil, err
	}
	versions := make([]*Version, 0, len(entries))
	for _, name := range entries {
		v, err := s.read(repo, name)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, nil
}

// Latest returns the most recent version, or nil when the repository has no
// history yet.
func (s *Store) Latest(repo string) (*Version, error) {
	return s.latest(repo)
}

// Get returns the version whose content hash matches hash, accepting an
// unambiguous prefix.
func (s *Store) Get(repo, hash string) (*Version, error) {
	entries, err := s.entries(repo)
	if err != nil {
		return nil, err
	}
	var match *Version
	for _, name := range entries {
		v, err := s.read(repo, name)
		if err != nil {
			return nil, err
		}
		if strings.HasPrefix(v.ContentHash, hash) {
			if match != nil && match.ContentHash != v.ContentHash {
				return nil, fmt.Errorf("hash prefix %q is ambiguous in repo %q", hash, repo)
			}
			match = v
		}
	}
	if match == nil {
		return nil, fmt.Errorf("no version with hash %q in repo %q", hash, repo)
	}
	return match, nil
}

func (s *Store) latest(repo string) (*Version, error) {
	entries, err := s.entries(repo)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return s.read(repo, entries[len(entries)-1])
}

// entries lists version file names in append order.
func (s *Store) entries(repo string) ([]string, error) {
	repoDir := filepath.Join(s.dir, "versions", sanitizeRepo(repo))
	dirEntries, err := os.ReadDir(repoDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read version dir: %w", err)
	}
	var names []string
	for _, e := range dirEntries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) read(repo, name string) (*Version, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, "versions", sanitizeRepo(repo), name))
	if err != nil {
		return nil, fmt.Errorf("read version file: %w", err)
	}
	var vf versionFile
	if err := json.Unmarshal(raw, &vf); err != nil {
		return nil, fmt.Errorf("unmarshal version file %s: %w", name, err)
	}
	return &Version{
		ID: vf.ID,
		Contract: Contract{
			Repo:        vf.Repo,
			Endpoints:   vf.Endpoints,
			ContentHash: vf.ContentHash,
			CapturedAt:  vf.CapturedAt,
		},
	}, nil
}

// versionFileName sorts chronologically and embeds a hash prefix so a
// directory listing is already a readable history.
func versionFileName(capturedAt time.Time, hash string) string {
	short := hash
	if len(short) > 16 {
		short = short[:16]
	}
	return fmt.Sprintf("%020d_%s.json", capturedAt.UnixNano(), short)
}

func sanitizeRepo(repo string) string {
	var sb strings.Builder
	for _, c := range repo {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-' || c == '_' {
			sb.WriteRune(c)
		} else {
			sb.WriteByte('_')
		}
	}
	return sb.String()
}
