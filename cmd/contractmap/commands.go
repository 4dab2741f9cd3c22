package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wudi/contractmap/internal/audit"
	"github.com/wudi/contractmap/internal/graph"
	"github.com/wudi/contractmap/internal/registry"
	"github.com/wudi/contractmap/internal/server"
	"github.com/wudi/contractmap/internal/store"
	"github.com/wudi/contractmap/internal/webhook"
)

var (
	repoType string

	registerCmd = &cobra.Command{
		Use:   "register [name] [path]",
		Short: "Register a repository for contract tracking",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			info, err := a.svc.Register(args[0], args[1], registry.RepoType(repoType))
			if err != nil {
				return err
			}
			fmt.Printf("registered %s (%s) at %s\n", info.Name, info.Type, info.Path)
			return nil
		},
	}

	unregisterCmd = &cobra.Command{
		Use:   "unregister [name]",
		Short: "Remove a repository from tracking",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			if err := a.svc.Unregister(args[0]); err != nil {
				return err
			}
			fmt.Printf("unregistered %s\n", args[0])
			return nil
		},
	}

	reposCmd = &cobra.Command{
		Use:   "repos",
		Short: "List registered repositories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			for _, info := range a.svc.Registry.List() {
				fmt.Printf("%-30s %-8s %s\n", info.Name, info.Type, info.Path)
			}
			return nil
		},
	}

	scanAll bool

	scanCmd = &cobra.Command{
		Use:   "scan [name]",
		Short: "Scan a repository and version its current contract",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if scanAll {
				results, err := a.svc.ScanAll(ctx)
				if err != nil {
					return err
				}
				for repo, res := range results {
					printScanResult(repo, res.Appended, res.Version.ContentHash, len(res.Warnings))
				}
				return nil
			}
			if len(args) != 1 {
				return fmt.Errorf("a repository name or --all is required")
			}
			res, err := a.svc.Scan(ctx, args[0])
			if err != nil {
				return err
			}
			printScanResult(args[0], res.Appended, res.Version.ContentHash, len(res.Warnings))
			for _, w := range res.Warnings {
				fmt.Printf("  warning: %s: %s\n", w.File, w.Message)
			}
			return nil
		},
	}

	breakingCmd = &cobra.Command{
		Use:   "breaking [name]",
		Short: "Check the working tree for breaking changes (exit 1 when found)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			breaking, err := a.svc.CheckBreaking(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(breaking) == 0 {
				fmt.Println("no breaking changes")
				return nil
			}
			for _, rec := range breaking {
				fmt.Printf("BREAKING  %s\n", rec.Description)
				for _, c := range rec.AffectedConsumers {
					fmt.Printf("          affects %s\n", c)
				}
			}
			os.Exit(1)
			return nil
		},
	}

	impactCmd = &cobra.Command{
		Use:   "impact [name]",
		Short: "Scan, classify against the previous version and persist a report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			report, err := a.svc.Assess(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}

	historyCmd = &cobra.Command{
		Use:   "history [name]",
		Short: "Show the stored version history of a repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			versions, err := a.svc.History(args[0])
			if err != nil {
				return err
			}
			for _, v := range versions {
				fmt.Printf("%s  %s  %d endpoints\n",
					v.CapturedAt.Format(time.RFC3339), v.ContentHash[:16], len(v.Endpoints))
			}
			return nil
		},
	}

	diffCmd = &cobra.Command{
		Use:   "diff [name] [from-hash] [to-hash]",
		Short: "Classify the changes between two stored versions",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			records, err := a.svc.DiffVersions(args[0], args[1], args[2])
			if err != nil {
				return err
			}
			for _, rec := range records {
				fmt.Printf("%-8s  %s\n", rec.Severity, rec.Description)
			}
			return nil
		},
	}

	edgeMethod string
	edgePath   string

	consumeCmd = &cobra.Command{
		Use:   "consume [consumer] [producer]",
		Short: "Declare that a consumer calls one producer endpoint",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			added, err := a.svc.AddEdge(graph.Edge{
				Consumer: args[0], Producer: args[1],
				Method: edgeMethod, Path: edgePath,
			})
			if err != nil {
				return err
			}
			if !added {
				fmt.Println("edge already registered")
				return nil
			}
			fmt.Printf("%s now consumes %s %s on %s\n", args[0], edgeMethod, edgePath, args[1])
			return nil
		},
	}

	unconsumeCmd = &cobra.Command{
		Use:   "unconsume [consumer] [producer]",
		Short: "Remove a declared consumer dependency",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			removed, err := a.svc.RemoveEdge(graph.Edge{
				Consumer: args[0], Producer: args[1],
				Method: edgeMethod, Path: edgePath,
			})
			if err != nil {
				return err
			}
			if !removed {
				fmt.Println("no such edge")
				return nil
			}
			fmt.Printf("removed %s -> %s %s %s\n", args[0], args[1], edgeMethod, edgePath)
			return nil
		},
	}

	consumersCmd = &cobra.Command{
		Use:   "consumers [producer]",
		Short: "List consumers registered against a producer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			for _, e := range a.svc.Graph.EdgesTo(args[0]) {
				fmt.Printf("%-30s %s %s\n", e.Consumer, e.Method, e.Path)
			}
			return nil
		},
	}

	graphCmd = &cobra.Command{
		Use:   "graph",
		Short: "Print the consumer dependency graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			return printJSON(a.svc.Graph.Adjacency())
		},
	}

	feedbackOutcome string
	feedbackContext string

	feedbackCmd = &cobra.Command{
		Use:   "feedback [target-id]",
		Short: "Record a verdict on a report or change, or list feedback",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			if len(args) == 0 {
				entries, err := a.svc.Feedback.List(50)
				if err != nil {
					return err
				}
				return printJSON(entries)
			}
			if feedbackOutcome == "" {
				return fmt.Errorf("--outcome is required when recording feedback")
			}
			return a.svc.RecordFeedback(store.Feedback{
				TargetID:   args[0],
				TargetType: "report",
				Outcome:    feedbackOutcome,
				Context:    feedbackContext,
			})
		},
	}

	auditOp    string
	auditLimit int

	auditCmd = &cobra.Command{
		Use:   "audit",
		Short: "Show recent audited operations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			records, err := a.svc.Audit.Read(audit.Query{Op: auditOp, Limit: auditLimit})
			if err != nil {
				return err
			}
			return printJSON(records)
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}

			var dispatcher *webhook.Dispatcher
			if a.cfg.Webhooks.Enabled {
				dispatcher = webhook.NewDispatcher(a.cfg.Webhooks)
				defer dispatcher.Close()
				a.svc.Emitter = dispatcher
			}

			srv := server.New(a.cfg.Server, a.svc, a.svc.Metrics, dispatcher)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the contractmap version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("contractmap %s\n", version)
		},
	}
)

func init() {
	registerCmd.Flags().StringVar(&repoType, "type", "auto", "repository type: auto, openapi or models")
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "scan every registered repository")

	consumeCmd.Flags().StringVar(&edgeMethod, "method", "GET", "HTTP method of the consumed endpoint")
	consumeCmd.Flags().StringVar(&edgePath, "path", "", "path of the consumed endpoint")
	consumeCmd.MarkFlagRequired("path")
	unconsumeCmd.Flags().StringVar(&edgeMethod, "method", "GET", "HTTP method of the consumed endpoint")
	unconsumeCmd.Flags().StringVar(&edgePath, "path", "", "path of the consumed endpoint")
	unconsumeCmd.MarkFlagRequired("path")

	feedbackCmd.Flags().StringVar(&feedbackOutcome, "outcome", "", "verdict: accepted, rejected or modified")
	feedbackCmd.Flags().StringVar(&feedbackContext, "context", "", "free-form context for the verdict")

	auditCmd.Flags().StringVar(&auditOp, "op", "", "filter by operation name")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 100, "maximum records to show")

	rootCmd.AddCommand(registerCmd, unregisterCmd, reposCmd, scanCmd, breakingCmd,
		impactCmd, historyCmd, diffCmd, consumeCmd, unconsumeCmd, consumersCmd,
		graphCmd, feedbackCmd, auditCmd, serveCmd, versionCmd)
}

func printScanResult(repo string, appended bool, hash string, warnings int) {
	state := "unchanged"
	if appended {
		state = "new version"
	}
	fmt.Printf("%-30s %s  %s", repo, state, hash[:16])
	if warnings > 0 {
		fmt.Printf("  (%d warnings)", warnings)
	}
	fmt.Println()
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
