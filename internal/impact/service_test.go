package impact

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wudi/contractmap/internal/audit"
	"github.com/wudi/contractmap/internal/graph"
	"github.com/wudi/contractmap/internal/metrics"
	"github.com/wudi/contractmap/internal/registry"
	"github.com/wudi/contractmap/internal/scanner"
	"github.com/wudi/contractmap/internal/store"
	"github.com/wudi/contractmap/internal/webhook"
)

const contractV1 = `
openapi: "3.0.0"
paths:
  /users/{id}:
    get:
      responses:
        "200":
          content:
            application/json:
              schema:
                type: object
                required: ["id", "name"]
                properties:
                  id:
                    type: integer
                  name:
                    type: string
`

// contractV2 removes the name response field: breaking for consumers.
const contractV2 = `
openapi: "3.0.0"
paths:
  /users/{id}:
    get:
      responses:
        "200":
          content:
            application/json:
              schema:
                type: object
                required: ["id"]
                properties:
                  id:
                    type: integer
`

type recordingEmitter struct {
	events []*webhook.Event
}

func (r *recordingEmitter) Emit(e *webhook.Event) { r.events = append(r.events, e) }

func (r *recordingEmitter) types() []webhook.EventType {
	out := make([]webhook.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func newTestService(t *testing.T) (*Service, string, *recordingEmitter) {
	t.Helper()
	dataDir := t.TempDir()
	repoDir := t.TempDir()

	reg, err := registry.Load(dataDir)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	st, err := store.New(dataDir)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	g, err := graph.Load(dataDir)
	if err != nil {
		t.Fatalf("graph: %v", err)
	}
	reports, err := NewReportStore(dataDir)
	if err != nil {
		t.Fatalf("reports: %v", err)
	}
	feedback, err := store.NewFeedbackLog(dataDir)
	if err != nil {
		t.Fatalf("feedback: %v", err)
	}
	auditLog, err := audit.Open(dataDir, audit.Options{})
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	t.Cleanup(func() { auditLog.Close() })

	emitter := &recordingEmitter{}
	svc := &Service{
		Registry: reg,
		Scanner:  scanner.New(scanner.Options{}),
		Store:    st,
		Graph:    g,
		Reports:  reports,
		Feedback: feedback,
		Cache:    store.NewDiffCache(16, time.Minute),
		Audit:    auditLog,
		Metrics:  metrics.NewCollector(),
		Emitter:  emitter,
	}

	if _, err := reg.Register("billing", repoDir, registry.TypeOpenAPI); err != nil {
		t.Fatalf("register: %v", err)
	}
	return svc, repoDir, emitter
}

func writeContract(t *testing.T, repoDir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(repoDir, "openapi.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("write contract: %v", err)
	}
}

func TestScanVersionsAndIdempotence(t *testing.T) {
	svc, repoDir, emitter := newTestService(t)
	writeContract(t, repoDir, contractV1)
	ctx := context.Background()

	res, err := svc.Scan(ctx, "billing")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if !res.Appended {
		t.Fatal("first scan must append a version")
	}

	res, err = svc.Scan(ctx, "billing")
	if err != nil {
		t.Fatalf("rescan: %v", err)
	}
	if res.Appended {
		t.Error("unchanged contract must not append")
	}

	types := emitter.types()
	if len(types) != 1 || types[0] != webhook.VersionAppended {
		t.Errorf("events = %v", types)
	}

	records, err := svc.Audit.Read(audit.Query{Op: audit.OpVersionAppended})
	if err != nil {
		t.Fatalf("audit read: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("expected one audited append, got %d", len(records))
	}
}

func TestAssessReportsBreakingWithConsumers(t *testing.T) {
	svc, repoDir, emitter := newTestService(t)
	ctx := context.Background()

	if _, err := svc.AddEdge(graph.Edge{
		Consumer: "webapp", Producer: "billing", Method: "GET", Path: "/users/{id}",
	}); err != nil {
		t.Fatalf("add edge: %v", err)
	}

	writeContract(t, repoDir, contractV1)
	if _, err := svc.Scan(ctx, "billing"); err != nil {
		t.Fatalf("baseline scan: %v", err)
	}

	writeContract(t, repoDir, contractV2)
	report, err := svc.Assess(ctx, "billing")
	if err != nil {
		t.Fatalf("assess: %v", err)
	}

	if len(report.Breaking) == 0 {
		t.Fatal("removed response field must be breaking")
	}
	found := false
	for _, rec := range report.Breaking {
		if rec.FieldPath == "name" {
			found = true
			if len(rec.AffectedConsumers) != 1 || rec.AffectedConsumers[0] != "webapp" {
				t.Errorf("affected consumers = %v", rec.AffectedConsumers)
			}
		}
	}
	if !found {
		t.Errorf("no record for removed field: %+v", report.Breaking)
	}
	if report.ConsumerCount != 1 {
		t.Errorf("consumer count = %d", report.ConsumerCount)
	}

	sawBreakingEvent := false
	for _, typ := range emitter.types() {
		if typ == webhook.BreakingDetected {
			sawBreakingEvent = true
		}
	}
	if !sawBreakingEvent {
		t.Error("breaking event not emitted")
	}

	// The report must be retrievable afterwards.
	loaded, err := svc.Reports.Get(report.ID)
	if err != nil {
		t.Fatalf("load report: %v", err)
	}
	if loaded.Repo != "billing" || len(loaded.Breaking) != len(report.Breaking) {
		t.Errorf("persisted report differs: %+v", loaded)
	}
}

func TestAssessFirstVersionIsEmpty(t *testing.T) {
	svc, repoDir, _ := newTestService(t)
	writeContract(t, repoDir, contractV1)

	report, err := svc.Assess(context.Background(), "billing")
	if err != nil {
		t.Fatalf("assess: %v", err)
	}
	if len(report.Breaking) != 0 || len(report.NonBreaking) != 0 {
		t.Errorf("first version must yield an empty report: %+v", report)
	}
}

func TestCheckBreakingDoesNotAppend(t *testing.T) {
	svc, repoDir, _ := newTestService(t)
	ctx := context.Background()

	writeContract(t, repoDir, contractV1)
	if _, err := svc.Scan(ctx, "billing"); err != nil {
		t.Fatalf("scan: %v", err)
	}

	writeContract(t, repoDir, contractV2)
	breaking, err := svc.CheckBreaking(ctx, "billing")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(breaking) == 0 {
		t.Fatal("breaking change not detected")
	}

	history, err := svc.History("billing")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("check must not append, history has %d versions", len(history))
	}
}

func TestDiffVersionsByHash(t *testing.T) {
	svc, repoDir, _ := newTestService(t)
	ctx := context.Background()

	writeContract(t, repoDir, contractV1)
	if _, err := svc.Scan(ctx, "billing"); err != nil {
		t.Fatalf("scan v1: %v", err)
	}
	writeContract(t, repoDir, contractV2)
	if _, err := svc.Scan(ctx, "billing"); err != nil {
		t.Fatalf("scan v2: %v", err)
	}

	history, err := svc.History("billing")
	if err != nil || len(history) != 2 {
		t.Fatalf("history: %v (%d versions)", err, len(history))
	}

	from, to := history[0].ContentHash[:12], history[1].ContentHash[:12]
	records, err := svc.DiffVersions("billing", from, to)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if len(records) == 0 {
		t.Fatal("no classified changes")
	}

	// Second run hits the diff cache and must agree.
	again, err := svc.DiffVersions("billing", from, to)
	if err != nil {
		t.Fatalf("cached diff: %v", err)
	}
	if len(again) != len(records) {
		t.Errorf("cached result differs: %d vs %d", len(again), len(records))
	}
}

func TestRegisterUnregisterAudited(t *testing.T) {
	svc, _, _ := newTestService(t)

	if _, err := svc.Register("identity", t.TempDir(), registry.TypeAuto); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := svc.Unregister("identity"); err != nil {
		t.Fatalf("unregister: %v", err)
	}

	registered, err := svc.Audit.Read(audit.Query{Op: audit.OpRepoRegistered})
	if err != nil {
		t.Fatalf("audit read: %v", err)
	}
	if len(registered) != 1 || registered[0].Repo != "identity" {
		t.Errorf("registration not audited: %+v", registered)
	}
	if registered[0].Details["type"] != string(registry.TypeAuto) {
		t.Errorf("registration details = %+v", registered[0].Details)
	}

	unregistered, err := svc.Audit.Read(audit.Query{Op: audit.OpRepoUnregistered})
	if err != nil {
		t.Fatalf("audit read: %v", err)
	}
	if len(unregistered) != 1 || unregistered[0].Repo != "identity" {
		t.Errorf("removal not audited: %+v", unregistered)
	}

	if err := svc.Unregister("identity"); err == nil {
		t.Fatal("second unregister must fail")
	}
	if again, _ := svc.Audit.Read(audit.Query{Op: audit.OpRepoUnregistered}); len(again) != 1 {
		t.Errorf("failed unregister must not be audited: %+v", again)
	}
}

func TestUnknownRepoSurfaces(t *testing.T) {
	svc, _, _ := newTestService(t)
	if _, err := svc.Scan(context.Background(), "ghost"); err == nil {
		t.Fatal("expected error for unknown repository")
	}
}

func TestReportStoreList(t *testing.T) {
	rs, err := NewReportStore(t.TempDir())
	if err != nil {
		t.Fatalf("report store: %v", err)
	}
	for i := 0; i < 3; i++ {
		report := rs.newReport("svc", nil, 0)
		report.CreatedAt = report.CreatedAt.Add(time.Duration(i) * time.Second)
		if err := rs.Save(report); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	reports, err := rs.List("svc", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("limit ignored: %d", len(reports))
	}
	if reports[0].CreatedAt.Before(reports[1].CreatedAt) {
		t.Error("reports not newest first")
	}
	if got, _ := rs.List("other", 0); len(got) != 0 {
		t.Errorf("repo filter broken: %+v", got)
	}
}
