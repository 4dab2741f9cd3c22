package impact

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

	"github.com/wudi/contractmap/internal/classify"
)

// Report is one persisted impact assessment.
type Report struct {
	ID            string                  `json:"id"`
	Repo          string                  `json:"repo"`
	Breaking      []classify.ChangeRecord `json:"breaking,omitempty"`
	NonBreaking   []classify.ChangeRecord `json:"non_breaking,omitempty"`
	ConsumerCount int                     `json:"consumer_count"`
	CreatedAt     time.Time               `json:"created_at"`
}

// ReportStore persists reports, one JSON file per report under
// <dir>/reports/.
type ReportStore struct {
	dir string
	mu  sync.Mutex
}

// NewReportStore opens (creating if needed) a report store under dir.
func NewReportStore(dir string) (*ReportStore, error) {
	reportDir := filepath.Join(dir, "reports")
	if err := os.MkdirAll(reportDir, 0o755); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}
	return &ReportStore{dir: reportDir}, nil
}

func (rs *ReportStore) newReport(repo string, records []classify.ChangeRecord, consumers int) *Report {
	breaking, nonBreaking := classify.Split(records)
	return &Report{
		ID:            uuid.NewString(),
		Repo:          repo,
		Breaking:      breaking,
		NonBreaking:   nonBreaking,
		ConsumerCount: consumers,
		CreatedAt:     time.Now().UTC(),
	}
}

// Save writes one report. File names sort chronologically.
func (rs *ReportStore) Save(report *Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	name := fmt.Sprintf("%020d_%s.json", report.CreatedAt.UnixNano(), report.ID)
	tmp := filepath.Join(rs.dir, "."+name+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(rs.dir, name)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publish report: %w", err)
	}
	return nil
}

// Get returns one report by ID.
func (rs *ReportStore) Get(id string) (*Report, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	entries, err := os.ReadDir(rs.dir)
	if err != nil {
		return nil, fmt.Errorf("read report dir: %w", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), "_"+id+".json") {
			return rs.read(e.Name())
		}
	}
	return nil, fmt.Errorf("no report with id %q", id)
}

// List returns reports, newest first, optionally filtered by repo.
func (rs *ReportStore) List(repo string, limit int) ([]*Report, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	entries, err := os.ReadDir(rs.dir)
	if err != nil {
		return nil, fmt.Errorf("read report dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	var out []*Report
	for _, name := range names {
		report, err := rs.read(name)
		if err != nil {
			return nil, err
		}
		if repo != "" && report.Repo != repo {
			continue
		}
		out = append(out, report)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (rs *ReportStore) read(name string) (*Report, error) {
	raw, err := os.ReadFile(filepath.Join(rs.dir, name))
	if err != nil {
		return nil, fmt.Errorf("read report file: %w", err)
	}
	var report Report
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, fmt.Errorf("unmarshal report %s: %w", name, err)
	}
	return &report, nil
}
