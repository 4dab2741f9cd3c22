// Package metrics tracks analyzer counters for Prometheus-compatible export.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Collector tracks analysis metrics.
type Collector struct {
	mu sync.RWMutex

	scansTotal    map[string]int64          // key: repo|outcome
	scanDurations map[string]*HistogramData // key: repo

	versionsAppended map[string]int64 // key: repo
	versionConflicts map[string]int64 // key: repo

	diffsTotal      map[string]int64 // key: repo
	diffCacheHits   int64
	diffCacheMisses int64

	breakingChanges map[string]int64 // key: repo

	edgesRegistered int64
	edgesRemoved    int64
}

// HistogramData stores histogram-like data for durations.
type HistogramData struct {
	Count   int64
	Sum     float64
	Buckets map[float64]int64 // upper bound -> count
}

// DefaultBuckets are default histogram buckets in seconds.
var DefaultBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		scansTotal:       make(map[string]int64),
		scanDurations:    make(map[string]*HistogramData),
		versionsAppended: make(map[string]int64),
		versionConflicts: make(map[string]int64),
		diffsTotal:       make(map[string]int64),
		breakingChanges:  make(map[string]int64),
	}
}

// RecordScan records a completed repository scan.
func (c *Collector) RecordScan(repo string, ok bool, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	c.scansTotal[repo+"|"+outcome]++

	hd, exists := c.scanDurations[repo]
	if !exists {
		hd = &HistogramData{Buckets: make(map[float64]int64)}
		for _, b := range DefaultBuckets {
			hd.Buckets[b] = 0
		}
		c.scanDurations[repo] = hd
	}
	secs := duration.Seconds()
	hd.Count++
	hd.Sum += secs
	for _, bound := range DefaultBuckets {
		if secs <= bound {
			hd.Buckets[bound]++
		}
	}
}

// RecordVersionAppended records a new contract version.
func (c *Collector) RecordVersionAppended(repo string) {
	c.mu.Lock()
	c.versionsAppended[repo]++
	c.mu.Unlock()
}

// RecordVersionConflict records an append lost to a concurrent writer.
func (c *Collector) RecordVersionConflict(repo string) {
	c.mu.Lock()
	c.versionConflicts[repo]++
	c.mu.Unlock()
}

// RecordDiff records a computed version diff.
func (c *Collector) RecordDiff(repo string, cached bool) {
	c.mu.Lock()
	c.diffsTotal[repo]++
	if cached {
		c.diffCacheHits++
	} else {
		c.diffCacheMisses++
	}
	c.mu.Unlock()
}

// RecordBreakingChanges records detected breaking changes.
func (c *Collector) RecordBreakingChanges(repo string, count int) {
	if count <= 0 {
		return
	}
	c.mu.Lock()
	c.breakingChanges[repo] += int64(count)
	c.mu.Unlock()
}

// RecordEdgeChange records a consumer edge mutation.
func (c *Collector) RecordEdgeChange(added bool) {
	c.mu.Lock()
	if added {
		c.edgesRegistered++
	} else {
		c.edgesRemoved++
	}
	c.mu.Unlock()
}

// WritePrometheus writes metrics in Prometheus text exposition format.
func (c *Collector) WritePrometheus(w http.ResponseWriter) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	writeHelp(w, "contractmap_scans_total", "Total repository scans", "counter")
	for key, count := range c.scansTotal {
		parts := splitKey(key, 2)
		if len(parts) == 2 {
			writeMetric(w, "contractmap_scans_total", count,
				"repo", parts[0], "outcome", parts[1])
		}
	}

	writeHelp(w, "contractmap_scan_duration_seconds", "Repository scan duration in seconds", "histogram")
	for repo, hd := range c.scanDurations {
		for _, bound := range DefaultBuckets {
			writeMetricFloat(w, "contractmap_scan_duration_seconds_bucket", float64(hd.Buckets[bound]),
				"repo", repo, "le", strconv.FormatFloat(bound, 'f', -1, 64))
		}
		writeMetricFloat(w, "contractmap_scan_duration_seconds_bucket", float64(hd.Count),
			"repo", repo, "le", "+Inf")
		writeMetricFloat(w, "contractmap_scan_duration_seconds_sum", hd.Sum, "repo", repo)
		writeMetric(w, "contractmap_scan_duration_seconds_count", hd.Count, "repo", repo)
	}

	writeHelp(w, "contractmap_versions_appended_total", "Contract versions appended", "counter")
	for repo, count := range c.versionsAppended {
		writeMetric(w, "contractmap_versions_appended_total", count, "repo", repo)
	}

	writeHelp(w, "contractmap_version_conflicts_total", "Appends lost to concurrent writers", "counter")
	for repo, count := range c.versionConflicts {
		writeMetric(w, "contractmap_version_conflicts_total", count, "repo", repo)
	}

	writeHelp(w, "contractmap_diffs_total", "Version diffs computed", "counter")
	for repo, count := range c.diffsTotal {
		writeMetric(w, "contractmap_diffs_total", count, "repo", repo)
	}

	writeHelp(w, "contractmap_diff_cache_hits_total", "Diff cache hits", "counter")
	writeMetric(w, "contractmap_diff_cache_hits_total", c.diffCacheHits)
	writeHelp(w, "contractmap_diff_cache_misses_total", "Diff cache misses", "counter")
	writeMetric(w, "contractmap_diff_cache_misses_total", c.diffCacheMisses)

	writeHelp(w, "contractmap_breaking_changes_total", "Breaking changes detected", "counter")
	for repo, count := range c.breakingChanges {
		writeMetric(w, "contractmap_breaking_changes_total", count, "repo", repo)
	}

	writeHelp(w, "contractmap_edges_registered_total", "Consumer edges registered", "counter")
	writeMetric(w, "contractmap_edges_registered_total", c.edgesRegistered)
	writeHelp(w, "contractmap_edges_removed_total", "Consumer edges removed", "counter")
	writeMetric(w, "contractmap_edges_removed_total", c.edgesRemoved)
}

// Handler serves the Prometheus endpoint.
func (c *Collector) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.WritePrometheus(w)
	})
}

func writeHelp(w http.ResponseWriter, name, help, metricType string) {
	w.Write([]byte("# HELP " + name + " " + help + "\n"))
	w.Write([]byte("# TYPE " + name + " " + metricType + "\n"))
}

func writeMetric(w http.ResponseWriter, name string, value int64, labels ...string) {
	line := name + formatLabels(labels) + " " + strconv.FormatInt(value, 10) + "\n"
	w.Write([]byte(line))
}

func writeMetricFloat(w http.ResponseWriter, name string, value float64, labels ...string) {
	line := name + formatLabels(labels) + " " + strconv.FormatFloat(value, 'f', -1, 64) + "\n"
	w.Write([]byte(line))
}

func formatLabels(labels []string) string {
	if len(labels) == 0 {
		return ""
	}
	result := "{"
	for i := 0; i < len(labels)-1; i += 2 {
		if i > 0 {
			result += ","
		}
		result += labels[i] + "=\"" + labels[i+1] + "\""
	}
	return result + "}"
}

func splitKey(key string, n int) []string {
	parts := make([]string, 0, n)
	start := 0
	for i := 0; i < len(key); i++ {
		if key[i] == '|' {
			parts = append(parts, key[start:i])
			start = i + 1
			if len(parts) == n-1 {
				parts = append(parts, key[start:])
				return parts
			}
		}
	}
	if start < len(key) {
		parts = append(parts, key[start:])
	}
	return parts
}
