// Package queue implements the durable job queue of spec.md §6: named
// queues with at-least-once delivery, per-job retry with exponential
// backoff, delayed delivery, a dead-letter queue, and parent/child
// dependencies where a parent only becomes runnable once every declared
// child reaches "completed" (spec.md §4.8's job state machine).
package queue

import (
	"encoding/json"
	"time"
)

// JobType enumerates the closed set of job types spec.md §3 names.
type JobType string

const (
	JobTypeFileAnalysis      JobType = "file-analysis"
	JobTypeDirectoryAnalysis JobType = "directory-analysis"
	JobTypeGlobalAnalysis    JobType = "global-analysis"
	JobTypeAnalysisFinding   JobType = "analysis-finding"
	JobTypeReconcile         JobType = "reconcile-relationship"
	JobTypeGraphBuild        JobType = "graph-build"
)

// Queue names. Each cmd/* process dequeues from exactly one of these;
// the operator API's failed-jobs view walks all of them to answer "what's
// dead-lettered for this run" without the caller needing to know the
// internal queue topology.
const (
	QueueFileAnalysis      = "file-analysis"
	QueueDirectoryAnalysis = "directory-analysis"
	QueueGlobalAnalysis    = "global-analysis"
	QueueAnalysisFindings  = "analysis-findings"
	QueueReconciliation    = "reconciliation"
	QueueGraphBuild        = "graph-build"
)

// AllQueueNames lists every queue the pipeline dequeues from, in the
// order a run's jobs flow through them.
var AllQueueNames = []string{
	QueueFileAnalysis, QueueDirectoryAnalysis, QueueGlobalAnalysis,
	QueueAnalysisFindings, QueueReconciliation, QueueGraphBuild,
}

// Status is the job-level state of spec.md §4.8's state machine.
type Status string

const (
	StatusCreated        Status = "created"
	StatusWaitingChildren Status = "waiting-children"
	StatusWaiting        Status = "waiting"
	StatusActive         Status = "active"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusDeadLetter     Status = "dead-letter"
)

// Job is a unit of work delivered through the queue.
type Job struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Type        JobType         `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Status      Status          `json:"status"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"max_attempts"`
	ParentID    string          `json:"parent_id,omitempty"`
	RunID       string          `json:"run_id"`
	CreatedAt   time.Time       `json:"created_at"`
	AvailableAt time.Time       `json:"available_at"`
	LastError   string          `json:"last_error,omitempty"`
}

// DecodePayload unmarshals the job payload into v.
func (j *Job) DecodePayload(v any) error {
	return json.Unmarshal(j.Payload, v)
}
