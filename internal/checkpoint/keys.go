package checkpoint

import (
	"strings"
	"time"
)

// Namespace is the Redis key prefix for the ingestion pipeline.
const Namespace = "battery-tracker"

// Key identifies the progress of one backfill target: a dataset written to
// a table for an optional unit or provider selector.
func Key(dataset, table, selector string) string {
	return formatKey("checkpoint", strings.ToLower(dataset), table, selector)
}

// TTLFromSeconds converts a config TTL into a duration. Zero keeps
// checkpoints forever; negative values disable expiry as well.
func TTLFromSeconds(seconds int) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func formatKey(parts ...string) string {
	values := make([]string, 0, len(parts)+1)
	values = append(values, Namespace)
	for _, part := range parts {
		clean := strings.TrimSpace(part)
		if clean == "" {
			continue
		}
		values = append(values, clean)
	}
	return strings.Join(values, ":")
}
