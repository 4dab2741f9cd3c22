package webhook

import (
	"strings"
	"time"
)

// EventType represents a webhook event type.
type EventType string

const (
	VersionAppended  EventType = "contract.version_appended"
	BreakingDetected EventType = "contract.breaking_detected"
	EdgeAdded        EventType = "consumer.edge_added"
	EdgeRemoved      EventType = "consumer.edge_removed"
	ScanFailed       EventType = "scan.failed"
)

// Event represents a webhook event payload.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Repo      string                 `json:"repo,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// NewEvent creates a new Event with the current timestamp.
func NewEvent(typ EventType, repo string, data map[string]interface{}) *Event {
	return &Event{
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Repo:      repo,
		Data:      data,
	}
}

// matchesPattern checks if an event type matches a subscription pattern.
// Supports exact match and wildcard prefix (e.g., "contract.*" matches
// "contract.version_appended"). "*" matches everything.
func matchesPattern(eventType EventType, pattern string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, ".*") {
		prefix := strings.TrimSuffix(pattern, ".*")
		return strings.HasPrefix(string(eventType), prefix+".")
	}
	return string(eventType) == pattern
}
