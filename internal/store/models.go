// Package store implements the relational-store tables of spec.md §6:
// files, pois, the transactional outbox, relationship_evidence, and
// relationships, plus a runs table supplying the terminal run state
// spec.md §7 requires but never names a storage location for.
package store

import "time"

// RunStatus is the lifecycle status of a Run (spec.md §3).
type RunStatus string

const (
	RunStatusRunning                  RunStatus = "running"
	RunStatusCompleted                RunStatus = "completed"
	RunStatusCompletedWithDeadLetters RunStatus = "completed-with-dead-letters"
	RunStatusFailed                   RunStatus = "failed"
)

type Run struct {
	ID             string    `db:"id"`
	RootPath       string    `db:"root_path"`
	Status         RunStatus `db:"status"`
	TotalJobs      int       `db:"total_jobs"`
	CompletedJobs  int       `db:"completed_jobs"`
	DeadLetterJobs int       `db:"dead_letter_jobs"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// FileStatus tracks the mark phase of the self-cleaning reconciler
// (spec.md §4.7).
type FileStatus string

const (
	FileStatusActive           FileStatus = "active"
	FileStatusPendingDeletion  FileStatus = "pending_deletion"
)

type File struct {
	ID       string     `db:"id"`
	RunID    string     `db:"run_id"`
	Path     string     `db:"path"`
	Checksum string     `db:"checksum"`
	Language string     `db:"language"`
	Status   FileStatus `db:"status"`
}

type POI struct {
	ID        string `db:"id"`
	FileID    string `db:"file_id"`
	Name      string `db:"name"`
	Type      string `db:"type"`
	StartLine int    `db:"start_line"`
	EndLine   int    `db:"end_line"`
	Hash      string `db:"hash"`
}

type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "PENDING"
	OutboxStatusPublished OutboxStatus = "PUBLISHED"
	OutboxStatusFailed    OutboxStatus = "FAILED"
)

type OutboxRow struct {
	ID            int64        `db:"id"`
	EventType     string       `db:"event_type"`
	Payload       []byte       `db:"payload"`
	Status        OutboxStatus `db:"status"`
	Attempts      int          `db:"attempts"`
	CreatedAt     time.Time    `db:"created_at"`
	PublishedAt   *time.Time   `db:"published_at"`
}

// AnalysisFindingPayload is the outbox event payload referencing the
// evidence row it was written alongside (spec.md §4.2 step 4).
type AnalysisFindingPayload struct {
	RunID            string `json:"run_id"`
	RelationshipHash string `json:"relationship_hash"`
	EvidenceID       string `json:"evidence_id"`
}

// ReconcileJobPayload is the job payload Validation enqueues exactly once
// per relationship hash, once every expected piece of evidence has
// arrived (spec.md §4.4 step 5).
type ReconcileJobPayload struct {
	RunID            string `json:"run_id"`
	RelationshipHash string `json:"relationship_hash"`
}

type RelationshipEvidence struct {
	ID               string    `db:"id"`
	RunID            string    `db:"run_id"`
	JobID            string    `db:"job_id"`
	RelationshipHash string    `db:"relationship_hash"`
	SourcePOIID      string    `db:"source_poi_id"`
	TargetPOIID      string    `db:"target_poi_id"`
	RelType          string    `db:"rel_type"`
	SourceWorker     string    `db:"source_worker"`
	Confidence       float64   `db:"confidence"`
	Payload          []byte    `db:"evidence_payload"`
	CreatedAt        time.Time `db:"created_at"`
}

type RelationshipStatus string

const (
	RelationshipValidated RelationshipStatus = "VALIDATED"
	RelationshipRejected  RelationshipStatus = "REJECTED"
)

type Relationship struct {
	RelationshipHash string             `db:"relationship_hash"`
	RunID            string             `db:"run_id"`
	SourcePOIID      string             `db:"source_poi_id"`
	TargetPOIID      string             `db:"target_poi_id"`
	Type             string             `db:"type"`
	FinalConfidence  float64            `db:"final_confidence"`
	EvidenceCount    int                `db:"evidence_count"`
	Status           RelationshipStatus `db:"status"`
	Payload          []byte             `db:"consolidated_payload"`
	UpdatedAt        time.Time          `db:"updated_at"`
}
