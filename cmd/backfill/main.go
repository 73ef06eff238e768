package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"battery-tracker/internal/backfill"
	"battery-tracker/internal/cli"
	"battery-tracker/internal/config"
	"battery-tracker/internal/dataset"
	"battery-tracker/internal/svc"
	"battery-tracker/pkg/timeseries"
)

func main() {
	var (
		configFile = flag.String("f", "etc/ingest.yaml", "path to the main configuration file")
		datasets   = flag.String("dataset", "", datasetUsage())
		fromRaw    = flag.String("from", "", "inclusive range start: YYYY-MM-DD or ISO-8601 timestamp (UTC when no offset)")
		toRaw      = flag.String("to", "", "exclusive range end: YYYY-MM-DD or ISO-8601 timestamp")
		unit       = flag.String("unit", "", "BM unit for per-unit datasets (default from dataset preset)")
		provider   = flag.String("provider", "", "market index data provider for mid (default from dataset preset)")
		table      = flag.String("table", "", "override the target table (single dataset only)")
		window     = flag.Duration("window", 0, "override the fetch window for non-daily datasets")
		overlap    = flag.Duration("overlap", 0, "re-fetch this much of the previous window")
		resume     = flag.Bool("resume", false, "continue from the stored checkpoint")
		reset      = flag.Bool("reset", false, "discard the stored checkpoint before running")
		migrate    = flag.Bool("migrate", false, "apply schema migrations before backfilling")
	)
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logx.MustSetup(cfg.Log)
	logx.DisableStat()
	cli.LogConfigSummary(cfg)

	names := splitList(*datasets)
	if len(names) == 0 {
		fatalf("no dataset given; use -dataset with one of %s", strings.Join(dataset.Names(), ", "))
	}
	if err := checkTargets(names, *table); err != nil {
		fatalf("%v", err)
	}
	if *resume && *reset {
		fatalf("-resume and -reset are mutually exclusive")
	}
	start, err := parseBound(*fromRaw)
	if err != nil {
		fatalf("invalid -from: %v", err)
	}
	end, err := parseBound(*toRaw)
	if err != nil {
		fatalf("invalid -to: %v", err)
	}
	if !end.After(start) {
		fatalf("-to %s must be after -from %s", timeseries.FormatUTC(end), timeseries.FormatUTC(start))
	}

	sc, err := svc.NewServiceContext(*cfg)
	if err != nil {
		fatalf("initialise services: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *migrate {
		if err := sc.Migrate(ctx); err != nil {
			fatalf("apply migrations: %v", err)
		}
	}

	for _, name := range names {
		req := svc.BackfillRequest{
			Dataset:    name,
			Start:      start,
			End:        end,
			Selector:   selectorFor(name, *unit, *provider),
			Table:      *table,
			WindowSize: *window,
			Overlap:    *overlap,
			Resume:     *resume,
			Reset:      *reset,
		}
		began := time.Now()
		report, err := sc.Backfill(ctx, req)
		if err != nil {
			var werr *backfill.WindowError
			if errors.As(err, &werr) {
				fatalf("backfill %s failed at window %s (%s): %v; rerun with -from %s",
					werr.Dataset, werr.Window, werr.Stage, werr.Err, timeseries.FormatUTC(werr.Window.Start))
			}
			fatalf("backfill %s: %v", name, err)
		}
		logx.Infof("backfill %s complete: windows=%d fetched=%d skipped=%d written=%d in %s",
			report.Dataset, len(report.Windows), report.Fetched, report.Skipped, report.Written,
			time.Since(began).Round(time.Millisecond))
	}
}

func fatalf(format string, args ...interface{}) {
	logx.Errorf(format, args...)
	logx.Close()
	os.Exit(1)
}

func datasetUsage() string {
	var b strings.Builder
	b.WriteString("comma-separated datasets to backfill:")
	for _, name := range dataset.Names() {
		spec, err := dataset.Lookup(name)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "\n  %s: %s", name, spec.Description)
	}
	return b.String()
}

// checkTargets rejects a -table override shared by several datasets, which
// would write incompatible rows into one table.
func checkTargets(names []string, table string) error {
	if table != "" && len(names) > 1 {
		return fmt.Errorf("-table %s needs exactly one dataset, got %d (%s)", table, len(names), strings.Join(names, ", "))
	}
	return nil
}

// selectorFor routes -unit to per-unit datasets and -provider to mid.
func selectorFor(name, unit, provider string) string {
	spec, err := dataset.Lookup(name)
	if err != nil {
		return ""
	}
	if spec.Schema.PerUnit {
		return unit
	}
	if spec.SelectorRequired || spec.Selector != "" {
		return provider
	}
	return ""
}

func parseBound(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, errors.New("value is required")
	}
	if d, err := time.Parse(time.DateOnly, raw); err == nil {
		return d, nil
	}
	return timeseries.ParseTimestamp(raw)
}

func splitList(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t'
	})
	out := fields[:0]
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
