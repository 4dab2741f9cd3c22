package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Feedback records a user verdict on a report or an individual change.
type Feedback struct {
	TargetID   string    `json:"target_id"`
	TargetType string    `json:"target_type"` // report or change
	Outcome    string    `json:"outcome"`     // accepted, rejected, modified
	Context    string    `json:"context,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// FeedbackLog is an append-only JSONL file of feedback entries.
type FeedbackLog struct {
	path string
	mu   sync.Mutex
}

// NewFeedbackLog opens the feedback log under dir.
func NewFeedbackLog(dir string) (*FeedbackLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create feedback dir: %w", err)
	}
	return &FeedbackLog{path: filepath.Join(dir, "feedback.jsonl")}, nil
}

// Append persists one feedback entry.
func (l *FeedbackLog) Append(fb Feedback) error {
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(fb)
	if err != nil {
		return fmt.Errorf("marshal feedback: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open feedback log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append feedback: %w", err)
	}
	return nil
}

// List returns the most recent entries, newest first, up to limit.
func (l *FeedbackLog) List(limit int) ([]Feedback, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open feedback log: %w", err)
	}
	defer f.Close()

	var all []Feedback
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var fb Feedback
		if err := json.Unmarshal(scanner.Bytes(), &fb); err != nil {
			continue // tolerate a truncated trailing line
		}
		all = append(all, fb)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read feedback log: %w", err)
	}

	// Newest first.
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}
