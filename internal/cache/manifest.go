package cache

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	pipelineerrors "github.com/korrelate/triangulate/internal/errors"
)

// seedOrRaiseScript implements the Expectation invariant of spec.md §3:
// seed expected/authority on first touch, and only ever raise expected
// when a strictly more authoritative scope proposes a strictly higher
// count. The field value is encoded "expected|authority" so a single
// HGET round-trip is enough to decide.
const seedOrRaiseScript = `
local current = redis.call("HGET", KEYS[1], ARGV[1])
local newExpected = tonumber(ARGV[2])
local newAuthority = tonumber(ARGV[3])
if not current then
  redis.call("HSET", KEYS[1], ARGV[1], newExpected .. "|" .. newAuthority)
  return newExpected
end
local sep = string.find(current, "|")
local curExpected = tonumber(string.sub(current, 1, sep - 1))
local curAuthority = tonumber(string.sub(current, sep + 1))
if newAuthority > curAuthority and newExpected > curExpected then
  redis.call("HSET", KEYS[1], ARGV[1], newExpected .. "|" .. newAuthority)
  return newExpected
end
return curExpected
`

// incrementAndCheckScript implements Validation's atomic (a) increment,
// (b) read expected, (c) return (received, expected) (spec.md §4.4).
const incrementAndCheckScript = `
local received = redis.call("INCR", KEYS[1])
local relEntry = redis.call("HGET", KEYS[2], ARGV[1])
if not relEntry then
  return {received, -1}
end
local sep = string.find(relEntry, "|")
local expected = tonumber(string.sub(relEntry, 1, sep - 1))
return {received, expected}
`

// markReconciledScript implements the single-enqueue guarantee: SADD
// returns 1 only the first time a hash is added.
const markReconciledScript = `
return redis.call("SADD", KEYS[1], ARGV[1])
`

// Manifest is the cache-backed per-run manifest described in spec.md §6.
type Manifest struct {
	rdb              *redis.Client
	seedOrRaise      *redis.Script
	incrementAndCheck *redis.Script
	markReconciled    *redis.Script
}

func NewManifest(rdb *redis.Client) *Manifest {
	return &Manifest{
		rdb:               rdb,
		seedOrRaise:       redis.NewScript(seedOrRaiseScript),
		incrementAndCheck: redis.NewScript(incrementAndCheckScript),
		markReconciled:    redis.NewScript(markReconciledScript),
	}
}

// WriteConfig writes the run's config JSON (Scout, step 3).
func (m *Manifest) WriteConfig(ctx context.Context, runID, configJSON string) error {
	if err := m.rdb.Set(ctx, ConfigKey(runID), configJSON, 0).Err(); err != nil {
		return pipelineerrors.NewTransientError("cache set config", err)
	}
	return nil
}

// AddJobIDs adds jobIDs to the run's job set for the given scope
// ("files", "dirs", "global").
func (m *Manifest) AddJobIDs(ctx context.Context, runID, scope string, jobIDs []string) error {
	if len(jobIDs) == 0 {
		return nil
	}
	members := make([]any, len(jobIDs))
	for i, id := range jobIDs {
		members[i] = id
	}
	if err := m.rdb.SAdd(ctx, JobsKey(runID, scope), members...).Err(); err != nil {
		return pipelineerrors.NewTransientError("cache add job ids", err)
	}
	return nil
}

// SetFileToJob records the jobID responsible for analyzing path, so
// analysis workers can resolve cross-file references (Scout step 3).
func (m *Manifest) SetFileToJob(ctx context.Context, runID, path, jobID string) error {
	if err := m.rdb.HSet(ctx, FileToJobMapKey(runID), path, jobID).Err(); err != nil {
		return pipelineerrors.NewTransientError("cache set file_to_job_map", err)
	}
	return nil
}

// ResolveJobForFile resolves a file path to its analysis jobID.
func (m *Manifest) ResolveJobForFile(ctx context.Context, runID, path string) (string, error) {
	jobID, err := m.rdb.HGet(ctx, FileToJobMapKey(runID), path).Result()
	if err == redis.Nil {
		return "", pipelineerrors.NewNotFoundError(fmt.Sprintf("file_to_job_map entry for %q", path))
	}
	if err != nil {
		return "", pipelineerrors.NewTransientError("cache resolve file_to_job_map", err)
	}
	return jobID, nil
}

// SeedOrRaiseExpectation implements HSETNX-then-compare-and-raise for a
// relationship hash's expected evidence count (spec.md §4.2 step 3c).
// scope must be a key of Authority.
func (m *Manifest) SeedOrRaiseExpectation(ctx context.Context, runID, hash string, expected int, scope string) (int, error) {
	authority, ok := Authority[scope]
	if !ok {
		return 0, pipelineerrors.NewInvalidPayloadError(fmt.Sprintf("unknown analysis scope %q", scope))
	}
	res, err := m.seedOrRaise.Run(ctx, m.rdb, []string{RelMapKey(runID)}, hash, expected, authority).Result()
	if err != nil {
		return 0, pipelineerrors.NewTransientError("cache seed/raise expectation", err)
	}
	return int(res.(int64)), nil
}

// IncrementAndCheck atomically increments the evidence counter for hash
// and returns (received, expected). expected is -1 if the manifest has no
// expectation for hash — a fatal contract violation (spec.md §7).
func (m *Manifest) IncrementAndCheck(ctx context.Context, runID, hash string) (received, expected int, err error) {
	res, err := m.incrementAndCheck.Run(ctx, m.rdb, []string{EvidenceCounterKey(runID, hash), RelMapKey(runID)}, hash).Result()
	if err != nil {
		return 0, 0, pipelineerrors.NewTransientError("cache increment evidence counter", err)
	}
	vals, ok := res.([]any)
	if !ok || len(vals) != 2 {
		return 0, 0, pipelineerrors.NewInvariantViolationError("malformed increment_and_check result")
	}
	return int(vals[0].(int64)), int(vals[1].(int64)), nil
}

// MarkReconciled adds hash to the run's reconciled set, returning true if
// this call was the one that added it (the single-enqueue guarantee of
// spec.md §4.4 step 5 / §5 ordering guarantee 3).
func (m *Manifest) MarkReconciled(ctx context.Context, runID, hash string) (bool, error) {
	res, err := m.markReconciled.Run(ctx, m.rdb, []string{ReconciledSetKey(runID)}, hash).Result()
	if err != nil {
		return false, pipelineerrors.NewTransientError("cache mark reconciled", err)
	}
	return res.(int64) == 1, nil
}

// SetStatus writes the run's lifecycle status.
func (m *Manifest) SetStatus(ctx context.Context, runID, status string) error {
	if err := m.rdb.Set(ctx, StatusKey(runID), status, 0).Err(); err != nil {
		return pipelineerrors.NewTransientError("cache set status", err)
	}
	return nil
}

// Status reads the run's lifecycle status.
func (m *Manifest) Status(ctx context.Context, runID string) (string, error) {
	status, err := m.rdb.Get(ctx, StatusKey(runID)).Result()
	if err == redis.Nil {
		return "", pipelineerrors.NewNotFoundError(fmt.Sprintf("status for run %q", runID))
	}
	if err != nil {
		return "", pipelineerrors.NewTransientError("cache get status", err)
	}
	return status, nil
}

// JobIDs returns every jobID seeded for scope.
func (m *Manifest) JobIDs(ctx context.Context, runID, scope string) ([]string, error) {
	ids, err := m.rdb.SMembers(ctx, JobsKey(runID, scope)).Result()
	if err != nil {
		return nil, pipelineerrors.NewTransientError("cache list job ids", err)
	}
	return ids, nil
}

// ExpectationForHash returns the currently-seeded expected count for
// hash, or ok=false if none has been seeded yet.
func (m *Manifest) ExpectationForHash(ctx context.Context, runID, hash string) (expected int, ok bool, err error) {
	entry, err := m.rdb.HGet(ctx, RelMapKey(runID), hash).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, pipelineerrors.NewTransientError("cache read expectation", err)
	}
	sep := strings.IndexByte(entry, '|')
	if sep < 0 {
		return 0, false, pipelineerrors.NewInvariantViolationError("malformed rel_map entry")
	}
	n, err := strconv.Atoi(entry[:sep])
	if err != nil {
		return 0, false, pipelineerrors.NewInvariantViolationError("malformed rel_map entry")
	}
	return n, true, nil
}
