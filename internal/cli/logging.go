package cli

import (
	"fmt"
	"strings"

	"github.com/zeromicro/go-zero/core/logx"

	"battery-tracker/internal/config"
	"battery-tracker/internal/dataset"
	"battery-tracker/pkg/confkit"
)

// ConfigSummaryLines returns human readable lines describing the loaded app config.
func ConfigSummaryLines(cfg *config.Config) []string {
	if cfg == nil {
		return []string{"Configuration: <nil>"}
	}

	lines := []string{
		fmt.Sprintf("Environment: %s", cfg.Env),
		fmt.Sprintf("Dotenv files: %s", listOrNone(confkit.DotenvFiles())),
		fmt.Sprintf("Postgres: %s", presence(strings.TrimSpace(cfg.Postgres.DSN) != "")),
		fmt.Sprintf("Redis checkpoints: %s", presence(cfg.HasRedis())),
		fmt.Sprintf("Backfill overlap/resume: %s / %t", cfg.Backfill.Overlap, cfg.Backfill.Resume),
		sectionLine("Elexon config", cfg.Elexon),
		fmt.Sprintf("Datasets: %s", strings.Join(dataset.Names(), ", ")),
	}
	if ex := cfg.ElexonConfig(); ex != nil {
		policy := ex.RetryPolicy()
		lines = append(lines,
			fmt.Sprintf("BMRS base URL: %s", ex.ResolvedEndpoints().BaseURL),
			fmt.Sprintf("BMRS retry: %d attempts, %s from %s (cap %s)", policy.MaxAttempts, policy.Strategy, policy.Base, policy.MaxBackoff),
		)
	}

	return lines
}

// LogConfigSummary emits the configuration summary using logx.
func LogConfigSummary(cfg *config.Config) {
	lines := ConfigSummaryLines(cfg)
	if len(lines) == 0 {
		return
	}
	logx.Info("configuration summary")
	for _, line := range lines {
		logx.Infof("config • %s", line)
	}
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}

func presence(ok bool) string {
	if ok {
		return "configured"
	}
	return "not configured"
}

func sectionLine[T any](name string, section confkit.Section[T]) string {
	switch {
	case strings.TrimSpace(section.File) != "":
		return fmt.Sprintf("%s: %s", name, section.File)
	case section.Loaded():
		return fmt.Sprintf("%s: inline", name)
	default:
		return fmt.Sprintf("%s: defaults", name)
	}
}
