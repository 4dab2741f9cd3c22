// Package impact orchestrates the full analysis flow: scan a repository,
// version its contract, classify what changed and map the changes onto the
// consumers that feel them.
package impact

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wudi/contractmap/internal/audit"
	"github.com/wudi/contractmap/internal/classify"
	"github.com/wudi/contractmap/internal/graph"
	"github.com/wudi/contractmap/internal/logging"
	"github.com/wudi/contractmap/internal/metrics"
	"github.com/wudi/contractmap/internal/registry"
	"github.com/wudi/contractmap/internal/scanner"
	"github.com/wudi/contractmap/internal/store"
	"github.com/wudi/contractmap/internal/webhook"
)

// Emitter is the slice of the webhook dispatcher the service needs.
type Emitter interface {
	Emit(event *webhook.Event)
}

// Service wires the analysis components together. Every field except the
// optional ones (Emitter, Metrics, Audit) must be set.
type Service struct {
	Registry *registry.Registry
	Scanner  *scanner.Scanner
	Store    *store.Store
	Graph    *graph.Graph
	Reports  *ReportStore
	Feedback *store.FeedbackLog

	Cache   *store.DiffCache
	Audit   *audit.Log
	Metrics *metrics.Collector
	Emitter Emitter
}

// ScanResult is the outcome of scanning and versioning one repository.
type ScanResult struct {
	Repo     string                `json:"repo"`
	Version  *store.Version        `json:"version"`
	Appended bool                  `json:"appended"`
	Warnings []scanner.FileWarning `json:"warnings,omitempty"`
	Files    int                   `json:"files"`
}

// Scan discovers the repository's current contract and appends it to the
// version history when it differs from the latest stored version.
func (s *Service) Scan(ctx context.Context, repoName string) (*ScanResult, error) {
	info, err := s.Registry.Get(repoName)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := s.Scanner.Scan(ctx, info)
	if s.Metrics != nil {
		s.Metrics.RecordScan(repoName, err == nil, time.Since(start))
	}
	if err != nil {
		s.emit(webhook.ScanFailed, repoName, map[string]interface{}{"error": err.Error()})
		return nil, err
	}

	version, appended, err := s.Store.Put(repoName, res.Endpoints)
	if err != nil {
		if s.Metrics != nil {
			s.Metrics.RecordVersionConflict(repoName)
		}
		return nil, err
	}

	if appended {
		if s.Metrics != nil {
			s.Metrics.RecordVersionAppended(repoName)
		}
		s.audit(audit.OpVersionAppended, repoName, map[string]string{
			"content_hash": version.ContentHash,
			"version_id":   version.ID,
		})
		s.emit(webhook.VersionAppended, repoName, map[string]interface{}{
			"content_hash": version.ContentHash,
			"endpoints":    len(version.Endpoints),
		})
		logging.Info("contract version appended",
			zap.String("repo", repoName),
			zap.String("hash", version.ContentHash[:16]),
			zap.Int("endpoints", len(version.Endpoints)))
	}

	return &ScanResult{
		Repo:     repoName,
		Version:  version,
		Appended: appended,
		Warnings: res.Warnings,
		Files:    res.Files,
	}, nil
}

// ScanAll scans every registered repository.
func (s *Service) ScanAll(ctx context.Context) (map[string]*ScanResult, error) {
	out := make(map[string]*ScanResult)
	for _, info := range s.Registry.List() {
		res, err := s.Scan(ctx, info.Name)
		if err != nil {
			return nil, fmt.Errorf("scan %q: %w", info.Name, err)
		}
		out[info.Name] = res
	}
	return out, nil
}

// Assess scans the repository, diffs the result against the previously
// stored version and produces a persisted impact report. A repository with
// fewer than two versions yields an empty report.
func (s *Service) Assess(ctx context.Context, repoName string) (*Report, error) {
	if _, err := s.Scan(ctx, repoName); err != nil {
		return nil, err
	}

	history, err := s.Store.History(repoName)
	if err != nil {
		return nil, err
	}
	if len(history) < 2 {
		report := s.Reports.newReport(repoName, nil, 0)
		if err := s.Reports.Save(report); err != nil {
			return nil, err
		}
		return report, nil
	}

	prev, latest := history[len(history)-2], history[len(history)-1]
	records, err := s.classifyPair(repoName, prev, latest)
	if err != nil {
		return nil, err
	}

	report := s.Reports.newReport(repoName, records, s.consumerCount(records))
	if err := s.Reports.Save(report); err != nil {
		return nil, err
	}

	if len(report.Breaking) > 0 {
		if s.Metrics != nil {
			s.Metrics.RecordBreakingChanges(repoName, len(report.Breaking))
		}
		s.emit(webhook.BreakingDetected, repoName, map[string]interface{}{
			"report_id": report.ID,
			"breaking":  len(report.Breaking),
		})
		logging.Warn("breaking changes detected",
			zap.String("repo", repoName),
			zap.Int("breaking", len(report.Breaking)),
			zap.String("report", report.ID))
	}

	return report, nil
}

// CheckBreaking reports whether moving from the stored latest version to the
// repository's current working tree introduces breaking changes, without
// appending anything to the history.
func (s *Service) CheckBreaking(ctx context.Context, repoName string) ([]classify.ChangeRecord, error) {
	info, err := s.Registry.Get(repoName)
	if err != nil {
		return nil, err
	}
	latest, err := s.Store.Latest(repoName)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, nil
	}

	res, err := s.Scanner.Scan(ctx, info)
	if err != nil {
		return nil, err
	}
	candidate, err := store.NewContract(repoName, res.Endpoints)
	if err != nil {
		return nil, err
	}

	deltas := store.Diff(&latest.Contract, candidate)
	records := s.attachConsumers(repoName, classify.Classify(repoName, deltas))
	breaking, _ := classify.Split(records)
	return breaking, nil
}

// DiffVersions classifies the changes between two stored versions addressed
// by content hash (prefixes accepted).
func (s *Service) DiffVersions(repoName, hashA, hashB string) ([]classify.ChangeRecord, error) {
	a, err := s.Store.Get(repoName, hashA)
	if err != nil {
		return nil, err
	}
	b, err := s.Store.Get(repoName, hashB)
	if err != nil {
		return nil, err
	}
	return s.classifyPair(repoName, a, b)
}

// Register adds or updates a repository and audits the registration.
func (s *Service) Register(name, path string, typ registry.RepoType) (registry.RepoInfo, error) {
	info, err := s.Registry.Register(name, path, typ)
	if err != nil {
		return registry.RepoInfo{}, err
	}
	s.audit(audit.OpRepoRegistered, info.Name, map[string]string{
		"path": info.Path, "type": string(info.Type),
	})
	return info, nil
}

// Unregister removes a repository and audits the removal. Stored versions
// and edges are kept; re-registering the name picks the history back up.
func (s *Service) Unregister(name string) error {
	if err := s.Registry.Unregister(name); err != nil {
		return err
	}
	s.audit(audit.OpRepoUnregistered, name, nil)
	return nil
}

// History exposes the stored version sequence.
func (s *Service) History(repoName string) ([]*store.Version, error) {
	if _, err := s.Registry.Get(repoName); err != nil {
		return nil, err
	}
	return s.Store.History(repoName)
}

// AddEdge registers a consumer dependency and audits it.
func (s *Service) AddEdge(edge graph.Edge) (bool, error) {
	added, err := s.Graph.AddEdge(edge)
	if err != nil || !added {
		return added, err
	}
	if s.Metrics != nil {
		s.Metrics.RecordEdgeChange(true)
	}
	s.audit(audit.OpEdgeAdded, edge.Producer, map[string]string{
		"consumer": edge.Consumer, "method": edge.Method, "path": edge.Path,
	})
	s.emit(webhook.EdgeAdded, edge.Producer, map[string]interface{}{
		"consumer": edge.Consumer, "method": edge.Method, "path": edge.Path,
	})
	return true, nil
}

// RemoveEdge deletes a consumer dependency and audits it.
func (s *Service) RemoveEdge(edge graph.Edge) (bool, error) {
	removed, err := s.Graph.RemoveEdge(edge)
	if err != nil || !removed {
		return removed, err
	}
	if s.Metrics != nil {
		s.Metrics.RecordEdgeChange(false)
	}
	s.audit(audit.OpEdgeRemoved, edge.Producer, map[string]string{
		"consumer": edge.Consumer, "method": edge.Method, "path": edge.Path,
	})
	s.emit(webhook.EdgeRemoved, edge.Producer, map[string]interface{}{
		"consumer": edge.Consumer, "method": edge.Method, "path": edge.Path,
	})
	return true, nil
}

// RecordFeedback persists a user verdict on a report or change.
func (s *Service) RecordFeedback(fb store.Feedback) error {
	if err := s.Feedback.Append(fb); err != nil {
		return err
	}
	s.audit(audit.OpFeedbackRecorded, "", map[string]string{
		"target_id": fb.TargetID, "outcome": fb.Outcome,
	})
	return nil
}

// classifyPair diffs two versions (through the cache when present) and
// attaches affected consumers to the classified records.
func (s *Service) classifyPair(repoName string, a, b *store.Version) ([]classify.ChangeRecord, error) {
	var deltas []store.FieldDelta
	cached := false
	if s.Cache != nil {
		deltas, cached = s.Cache.Get(repoName, a.ContentHash, b.ContentHash)
	}
	if !cached {
		deltas = store.DiffVersions(a, b)
		if s.Cache != nil {
			s.Cache.Put(repoName, a.ContentHash, b.ContentHash, deltas)
		}
	}
	if s.Metrics != nil {
		s.Metrics.RecordDiff(repoName, cached)
	}

	return s.attachConsumers(repoName, classify.Classify(repoName, deltas)), nil
}

// attachConsumers fills AffectedConsumers on every record from the edge set.
func (s *Service) attachConsumers(repoName string, records []classify.ChangeRecord) []classify.ChangeRecord {
	for i := range records {
		records[i].AffectedConsumers = s.Graph.ConsumersOf(repoName, records[i].Method, records[i].Path)
	}
	classify.SortRecords(records)
	return records
}

// consumerCount counts distinct consumers across all records.
func (s *Service) consumerCount(records []classify.ChangeRecord) int {
	seen := map[string]bool{}
	for _, rec := range records {
		for _, c := range rec.AffectedConsumers {
			seen[c] = true
		}
	}
	return len(seen)
}

func (s *Service) audit(op, repo string, details map[string]string) {
	if s.Audit == nil {
		return
	}
	if err := s.Audit.Write(op, repo, details); err != nil {
		logging.Error("audit write failed", zap.String("op", op), zap.Error(err))
	}
}

func (s *Service) emit(typ webhook.EventType, repo string, data map[string]interface{}) {
	if s.Emitter == nil {
		return
	}
	s.Emitter.Emit(webhook.NewEvent(typ, repo, data))
}
