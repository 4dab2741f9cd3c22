// Package classify labels structural contract deltas with severities using
// direction-aware rules. The rule table here is the entire decision surface;
// nothing outside the delta (naming, comments) influences severity.
package classify

import (
	"fmt"
	"sort"

	"github.com/wudi/contractmap/internal/store"
)

// Severity tiers a detected change by consumer impact.
type Severity string

const (
	SeverityBreaking Severity = "breaking"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// rank orders severities for tie-breaking: breaking > warning > info.
func (s Severity) rank() int {
	switch s {
	case SeverityBreaking:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// Max returns the higher of two severities.
func Max(a, b Severity) Severity {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// ChangeKind is the coarse nature of a change for reporting.
type ChangeKind string

const (
	KindAdded    ChangeKind = "added"
	KindRemoved  ChangeKind = "removed"
	KindModified ChangeKind = "modified"
)

// ChangeRecord is one classified contract change. Records are derived on
// demand from a diff between two versions of the same repository and are
// never a standalone mutable entity.
type ChangeRecord struct {
	Repo              string          `json:"repo"`
	Method            string          `json:"method"`
	Path              string          `json:"path"`
	FieldPath         string          `json:"field_path,omitempty"`
	Kind              ChangeKind      `json:"kind"`
	Change            store.ChangeType `json:"change"`
	Direction         store.Direction `json:"direction,omitempty"`
	Severity          Severity        `json:"severity"`
	Description       string          `json:"description"`
	AffectedConsumers []string        `json:"affected_consumers,omitempty"`
}

// Classify labels each delta. When one field location matches several rules
// (a type change plus an optionality change in the same diff), the higher
// severity wins and the descriptions merge into one record.
func Classify(repo string, deltas []store.FieldDelta) []ChangeRecord {
	type locKey struct {
		method, path, field string
		dir                 store.Direction
	}

	var order []locKey
	grouped := map[locKey][]ChangeRecord{}

	for _, delta := range deltas {
		rec := classifyOne(repo, delta)
		key := locKey{delta.Method, delta.Path, delta.FieldPath, delta.Direction}
		if _, seen := grouped[key]; !seen {
			order = append(order, key)
		}
		grouped[key] = append(grouped[key], rec)
	}

	out := make([]ChangeRecord, 0, len(order))
	for _, key := range order {
		recs := grouped[key]
		merged := recs[0]
		for _, rec := range recs[1:] {
			if rec.Severity.rank() > merged.Severity.rank() {
				desc := merged.Description
				merged = rec
				merged.Description = rec.Description + "; " + desc
			} else {
				merged.Description = merged.Description + "; " + rec.Description
			}
		}
		out = append(out, merged)
	}
	return out
}

// Split partitions records into breaking and non-breaking groups.
func Split(records []ChangeRecord) (breaking, nonBreaking []ChangeRecord) {
	for _, rec := range records {
		if rec.Severity == SeverityBreaking {
			breaking = append(breaking, rec)
		} else {
			nonBreaking = append(nonBreaking, rec)
		}
	}
	return breaking, nonBreaking
}

func classifyOne(repo string, d store.FieldDelta) ChangeRecord {
	rec := ChangeRecord{
		Repo:      repo,
		Method:    d.Method,
		Path:      d.Path,
		FieldPath: d.FieldPath,
		Change:    d.Change,
		Direction: d.Direction,
	}
	loc := fmt.Sprintf("%s %s", d.Method, d.Path)
	isRequest := d.Direction == store.DirectionRequest

	switch d.Change {
	case store.EndpointRemoved:
		rec.Kind = KindRemoved
		rec.Severity = SeverityBreaking
		rec.Description = fmt.Sprintf("endpoint %s removed", loc)

	case store.EndpointAdded:
		rec.Kind = KindAdded
		rec.Severity = SeverityInfo
		rec.Description = fmt.Sprintf("endpoint %s added", loc)

	case store.FieldAdded:
		rec.Kind = KindAdded
		switch {
		case isRequest && d.NewRequired:
			// Consumers are not sending the new field yet.
			rec.Severity = SeverityBreaking
			rec.Description = fmt.Sprintf("required request field %q added to %s", d.FieldPath, loc)
		case isRequest:
			rec.Severity = SeverityInfo
			rec.Description = fmt.Sprintf("optional request field %q added to %s", d.FieldPath, loc)
		default:
			rec.Severity = SeverityInfo
			rec.Description = fmt.Sprintf("response field %q added to %s", d.FieldPath, loc)
		}

	case store.FieldRemoved:
		rec.Kind = KindRemoved
		if isRequest {
			rec.Severity = SeverityInfo
			rec.Description = fmt.Sprintf("request field %q removed from %s", d.FieldPath, loc)
		} else {
			// Consumers may depend on the field's presence.
			rec.Severity = SeverityBreaking
			rec.Description = fmt.Sprintf("response field %q removed from %s", d.FieldPath, loc)
		}

	case store.TypeChanged:
		rec.Kind = KindModified
		rec.Severity = SeverityBreaking
		rec.Description = fmt.Sprintf("field %q type changed from %q to %q in %s of %s",
			d.FieldPath, d.OldType, d.NewType, d.Direction, loc)

	case store.TypeWidened:
		rec.Kind = KindModified
		if isRequest {
			rec.Severity = SeverityInfo
		} else {
			rec.Severity = SeverityWarning
		}
		rec.Description = fmt.Sprintf("field %q type widened from %q to %q in %s of %s",
			d.FieldPath, d.OldType, d.NewType, d.Direction, loc)

	case store.OptionalToRequired:
		rec.Kind = KindModified
		if isRequest {
			rec.Severity = SeverityBreaking
		} else {
			rec.Severity = SeverityInfo
		}
		rec.Description = fmt.Sprintf("field %q changed from optional to required in %s of %s",
			d.FieldPath, d.Direction, loc)

	case store.RequiredToOptional:
		rec.Kind = KindModified
		if isRequest {
			rec.Severity = SeverityInfo
		} else {
			// Consumers relying on guaranteed presence should look.
			rec.Severity = SeverityWarning
		}
		rec.Description = fmt.Sprintf("field %q changed from required to optional in %s of %s",
			d.FieldPath, d.Direction, loc)

	case store.BranchAdded:
		rec.Kind = KindModified
		if isRequest {
			rec.Severity = SeverityInfo
		} else {
			rec.Severity = SeverityWarning
		}
		rec.Description = fmt.Sprintf("union branch added at %q in %s of %s", d.FieldPath, d.Direction, loc)

	case store.BranchRemoved:
		rec.Kind = KindModified
		rec.Severity = SeverityBreaking
		rec.Description = fmt.Sprintf("union branch removed at %q in %s of %s", d.FieldPath, d.Direction, loc)

	case store.DocChanged:
		rec.Kind = KindModified
		rec.Severity = SeverityInfo
		rec.Description = fmt.Sprintf("description changed at %q in %s", d.FieldPath, loc)

	default:
		rec.Kind = KindModified
		rec.Severity = SeverityInfo
		rec.Description = fmt.Sprintf("change %q at %q in %s", d.Change, d.FieldPath, loc)
	}

	return rec
}

// SortRecords orders records by severity (breaking first), then location.
func SortRecords(records []ChangeRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Severity.rank() != records[j].Severity.rank() {
			return records[i].Severity.rank() > records[j].Severity.rank()
		}
		if records[i].Path != records[j].Path {
			return records[i].Path < records[j].Path
		}
		return records[i].FieldPath < records[j].FieldPath
	})
}
