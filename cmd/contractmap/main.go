// Command contractmap analyzes API contracts across repositories: it
// versions their schemas, classifies changes between versions and maps
// breaking changes onto the consumers that depend on them.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wudi/contractmap/internal/audit"
	"github.com/wudi/contractmap/internal/config"
	"github.com/wudi/contractmap/internal/graph"
	"github.com/wudi/contractmap/internal/impact"
	"github.com/wudi/contractmap/internal/logging"
	"github.com/wudi/contractmap/internal/metrics"
	"github.com/wudi/contractmap/internal/registry"
	"github.com/wudi/contractmap/internal/scanner"
	"github.com/wudi/contractmap/internal/store"
)

var version = "dev"

var (
	configPath string
	dataDir    string

	rootCmd = &cobra.Command{
		Use:   "contractmap",
		Short: "Cross-repository API contract analysis",
		Long: `contractmap tracks the API contracts of a set of repositories,
versions every change, classifies changes as breaking or benign from the
consumer's point of view, and answers which consumers a change affects.`,
		SilenceUsage: true,
	}
)

// app bundles everything a command needs.
type app struct {
	cfg *config.Config
	svc *impact.Service
}

// newApp loads configuration and wires the analysis service. Commands that
// only read configuration should not call this.
func newApp() (*app, error) {
	cfg := config.DefaultConfig()
	if configPath != "" {
		loaded, err := config.NewLoader().Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}

	logger, err := logging.New(logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	logging.SetGlobal(logger)

	reg, err := registry.Load(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	st, err := store.New(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	g, err := graph.Load(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	reports, err := impact.NewReportStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	feedback, err := store.NewFeedbackLog(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	auditLog, err := audit.Open(cfg.DataDir, audit.Options{
		MaxSizeMB:  cfg.Audit.MaxSizeMB,
		MaxBackups: cfg.Audit.MaxBackups,
	})
	if err != nil {
		return nil, err
	}

	svc := &impact.Service{
		Registry: reg,
		Scanner: scanner.New(scanner.Options{
			ContractGlobs: cfg.Scanner.ContractGlobs,
			ModelGlobs:    cfg.Scanner.ModelGlobs,
			ModelMarker:   cfg.Scanner.ModelMarker,
			Concurrency:   cfg.Scanner.Concurrency,
		}),
		Store:    st,
		Graph:    g,
		Reports:  reports,
		Feedback: feedback,
		Cache:    store.NewDiffCache(cfg.Store.DiffCacheSize, cfg.Store.DiffCacheTTL),
		Audit:    auditLog,
		Metrics:  metrics.NewCollector(),
	}
	return &app{cfg: cfg, svc: svc}, nil
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "override the data directory")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
	logging.Sync()
}
