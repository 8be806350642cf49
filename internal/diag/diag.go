// Package diag centralizes the named-counter diagnostic logging shared
// by mipd and routingd, replacing the ad hoc fprintf-at-every-drop-site
// style of the system these daemons are modeled on with a single
// periodic debug-level log line per component.
package diag

import (
	"log/slog"
	"sort"
)

// Report logs one debug line summarizing counts, a component's named
// counters. Keys are sorted so the line is stable across calls, which
// matters for anyone grepping a log file for a particular counter.
func Report(log *slog.Logger, component string, counts map[string]uint64) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		args = append(args, k, counts[k])
	}
	log.Debug("diagnostics: "+component, args...)
}
