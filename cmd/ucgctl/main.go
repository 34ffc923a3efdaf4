// Command ucgctl is the entrypoint the rest of this module is built as a
// library for: it performs the minimal file discovery spec.md §1 excludes
// from the core ("file discovery/classification... specified only by
// interface"), wires the reference pkg/tsdriver.Driver and
// pkg/langadapter.Registry into pkg/orchestrator, and publishes the result
// through pkg/store. Classification policy beyond "is it a regular file
// under root, not a symlink escape, not a symlink cycle" belongs to a real
// discovery component the spec names as an external collaborator; this is
// just enough glue to drive the pipeline end to end.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/hatlesswizard/ucg/pkg/anomaly"
	"github.com/hatlesswizard/ucg/pkg/langadapter"
	"github.com/hatlesswizard/ucg/pkg/orchestrator"
	"github.com/hatlesswizard/ucg/pkg/rows"
	"github.com/hatlesswizard/ucg/pkg/store"
	"github.com/hatlesswizard/ucg/pkg/tsdriver"
	"github.com/hatlesswizard/ucg/pkg/ucgconfig"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "ucgctl:", err)
		os.Exit(1)
	}
}

func run() error {
	// A first, tolerant pass pulls out --config (and the other ucgctl-only
	// flags) while ignoring the Config flags it doesn't know about yet,
	// since those depend on the optional YAML file loaded below.
	preScan := pflag.NewFlagSet("ucgctl-prescan", pflag.ContinueOnError)
	preScan.ParseErrorsWhitelist.UnknownFlags = true
	root := preScan.StringP("root", "r", ".", "repository root to ingest")
	configPath := preScan.StringP("config", "c", "", "optional YAML config file")
	catalogPath := preScan.String("catalog", "", "path to the sqlite3 catalog index (default: <output-dir>.catalog.db)")
	logLevel := preScan.String("log-level", "info", "zap log level (debug, info, warn, error)")
	if err := preScan.Parse(os.Args[1:]); err != nil {
		return err
	}

	cfg := ucgconfig.Default()
	cfg, err := ucgconfig.LoadFile(cfg, *configPath)
	if err != nil {
		return err
	}

	// The real pass registers every Config flag (defaults now seeded from
	// defaults -> YAML file) plus the ucgctl-only ones again, so explicit
	// command-line flags win over both.
	fs := pflag.NewFlagSet("ucgctl", pflag.ExitOnError)
	fs.StringVarP(root, "root", "r", *root, "repository root to ingest")
	fs.StringVarP(configPath, "config", "c", *configPath, "optional YAML config file")
	fs.StringVar(catalogPath, "catalog", *catalogPath, "path to the sqlite3 catalog index (default: <output-dir>.catalog.db)")
	fs.StringVar(logLevel, "log-level", *logLevel, "zap log level (debug, info, warn, error)")
	ucgconfig.BindFlags(fs, &cfg)
	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}

	logger, err := newLogger(*logLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	runID := uuid.New().String()
	clock := func() int64 { return time.Now().UnixNano() }

	metrics := anomaly.NewMetrics()
	sink := anomaly.NewSink(metrics, logger)

	st, err := store.New(cfg, runID, sink, metrics)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}

	if *catalogPath == "" {
		*catalogPath = cfg.OutputDir + ".catalog.db"
	}
	catalogIdx, err := store.OpenCatalogIndex(*catalogPath)
	if err != nil {
		return fmt.Errorf("opening catalog index: %w", err)
	}
	defer catalogIdx.Close() //nolint:errcheck

	driver := tsdriver.New(tsdriver.DefaultLimits())
	registry := langadapter.NewRegistry()

	orch := orchestrator.New(cfg, driver, registry, sink, metrics, st, runID, clock)

	discovered, err := discover(*root, sink, clock(), logger)
	if err != nil {
		return fmt.Errorf("discovery: %w", err)
	}
	logger.Info("discovered files", zap.Int("count", len(discovered)), zap.String("root", *root))

	summary, err := orch.Run(discovered)
	if err != nil {
		return fmt.Errorf("pipeline run: %w", err)
	}

	if err := st.AppendAnomalies(sink.Snapshot()); err != nil {
		return fmt.Errorf("appending anomalies: %w", err)
	}

	if err := st.Finalize(cfg.Hash(), clock(), catalogIdx); err != nil {
		return fmt.Errorf("finalize: %w", err)
	}

	logger.Info("run complete",
		zap.String("run_id", runID),
		zap.Int("files_total", summary.FilesTotal),
		zap.Int("files_parsed", summary.FilesParsed),
		zap.Int("files_skipped", summary.FilesSkipped),
		zap.Int("anomalies_total", summary.AnomaliesTotal),
		zap.Any("row_counts", summary.RowCounts),
	)
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	var lvl zap.AtomicLevel
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	cfg.Encoding = "console"
	return cfg.Build()
}

// discover walks root and returns every regular file as an
// orchestrator.Discovered, resolving symlinks and rejecting ones that
// escape root or form a cycle. This is deliberately the whole of
// discovery's policy here; a real deployment's discovery/classification
// component (generated-file detection, vendor/ignore rules, language
// allowlists) is the external collaborator spec.md §1 names out of core
// scope.
func discover(root string, sink *anomaly.Sink, now int64, logger *zap.Logger) ([]orchestrator.Discovered, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	absRoot, err = filepath.EvalSymlinks(absRoot)
	if err != nil {
		return nil, err
	}

	var out []orchestrator.Discovered
	seen := make(map[string]bool)

	err = filepath.Walk(absRoot, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			sink.Record(rows.AnomalyRow{
				Path: relPath(absRoot, path), Kind: rows.AnomalyIOError,
				Severity: rows.SevWarn, Detail: walkErr.Error(),
			}, now)
			return nil
		}
		if info.IsDir() {
			if info.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}

		rel := relPath(absRoot, path)

		if info.Mode()&os.ModeSymlink != 0 {
			real, err := filepath.EvalSymlinks(path)
			if err != nil {
				sink.Record(rows.AnomalyRow{Path: rel, Kind: rows.AnomalySymlinkOutOfRoot, Severity: rows.SevWarn, Detail: err.Error()}, now)
				return nil
			}
			if seen[real] {
				sink.Record(rows.AnomalyRow{Path: rel, Kind: rows.AnomalySymlinkCycle, Severity: rows.SevWarn, Detail: "symlink cycle detected"}, now)
				return nil
			}
			relToRoot, err := filepath.Rel(absRoot, real)
			if err != nil || len(relToRoot) >= 2 && relToRoot[:2] == ".." {
				sink.Record(rows.AnomalyRow{Path: rel, Kind: rows.AnomalySymlinkOutOfRoot, Severity: rows.SevWarn, Detail: "symlink escapes root"}, now)
				return nil
			}
			seen[real] = true
			out = append(out, orchestrator.Discovered{Path: rel, RealPath: real})
			return nil
		}

		if !info.Mode().IsRegular() {
			return nil
		}
		out = append(out, orchestrator.Discovered{Path: rel, RealPath: path})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func relPath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}
