// Package cache implements the per-run manifest: the cache key layout of
// spec.md §6, the atomic scripts that keep it consistent under concurrent
// access, and the distributed lease used by Scout's filesystem walker.
package cache

import "fmt"

// Key layout, exactly as enumerated in spec.md §6. All keys are scoped by
// runId.
func ConfigKey(runID string) string {
	return fmt.Sprintf("run:%s:config", runID)
}

func JobsKey(runID, scope string) string {
	return fmt.Sprintf("run:%s:jobs:%s", runID, scope)
}

func FileToJobMapKey(runID string) string {
	return fmt.Sprintf("run:%s:file_to_job_map", runID)
}

func RelMapKey(runID string) string {
	return fmt.Sprintf("run:%s:rel_map", runID)
}

func EvidenceCounterKey(runID, hash string) string {
	return fmt.Sprintf("evidence_count:%s:%s", runID, hash)
}

func ReconciledSetKey(runID string) string {
	return fmt.Sprintf("run:%s:reconciled", runID)
}

func StatusKey(runID string) string {
	return fmt.Sprintf("run:%s:status", runID)
}

func LeaseKey(rootPath string) string {
	return fmt.Sprintf("lease:scout:%s", rootPath)
}

// Authority ranks analysis worker scopes for the compare-and-raise
// expectation script: higher ranks may raise a lower rank's seeded
// expectation but never the reverse (spec.md §3 Expectation invariant).
var Authority = map[string]int{
	"file":      1,
	"directory": 2,
	"global":    3,
}
