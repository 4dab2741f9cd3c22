// Package audit writes one JSON line per mutating operation so the history
// of the analysis store can be reconstructed and reviewed.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Operation names for audit records.
const (
	OpVersionAppended  = "version_appended"
	OpEdgeAdded        = "edge_added"
	OpEdgeRemoved      = "edge_removed"
	OpRepoRegistered   = "repo_registered"
	OpRepoUnregistered = "repo_unregistered"
	OpFeedbackRecorded = "feedback_recorded"
)

// Record is one audited operation.
type Record struct {
	ID      string            `json:"id"`
	Time    time.Time         `json:"time"`
	Op      string            `json:"op"`
	Repo    string            `json:"repo,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// Log is a rotating JSONL audit trail.
type Log struct {
	mu     sync.Mutex
	path   string
	writer *lumberjack.Logger
}

// Options tune rotation. Zero values fall back to 50 MiB and 5 backups.
type Options struct {
	MaxSizeMB  int
	MaxBackups int
}

// Open creates the audit log under dir.
func Open(dir string, opts Options) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 50
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = 5
	}
	path := filepath.Join(dir, "audit.jsonl")
	return &Log{
		path: path,
		writer: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			Compress:   true,
		},
	}, nil
}

// Write appends one record. The record ID and timestamp are assigned here.
func (l *Log) Write(op, repo string, details map[string]string) error {
	rec := Record{
		ID:      uuid.NewString(),
		Time:    time.Now().UTC(),
		Op:      op,
		Repo:    repo,
		Details: details,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}

// Query returns records from the current log file, newest first. Rotated
// files are not searched; the trail exists for recent-history review, long
// retention lives in the compressed backups.
type Query struct {
	Op    string
	Repo  string
	Since time.Time
	Limit int
}

// Read returns records matching q.
func (l *Log) Read(q Query) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var matched []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue // tolerate a truncated trailing line
		}
		if q.Op != "" && rec.Op != q.Op {
			continue
		}
		if q.Repo != "" && rec.Repo != q.Repo {
			continue
		}
		if !q.Since.IsZero() && rec.Time.Before(q.Since) {
			continue
		}
		matched = append(matched, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}

	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

// Close flushes and closes the underlying writer.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writer.Close()
}
