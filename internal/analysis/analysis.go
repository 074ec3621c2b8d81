// Package analysis implements the shared core of the File, Directory,
// and Global scope workers (spec.md §4.2): they differ only in scope
// name, prompt shape, and authority rank, and share every other step of
// the algorithm.
package analysis

import (
	"context"
	"database/sql"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/korrelate/triangulate/internal/cache"
	pipelineerrors "github.com/korrelate/triangulate/internal/errors"
	"github.com/korrelate/triangulate/internal/ids"
	"github.com/korrelate/triangulate/internal/llm"
	"github.com/korrelate/triangulate/internal/llm/sanitize"
	"github.com/korrelate/triangulate/internal/policy"
	"github.com/korrelate/triangulate/internal/store"
)

// Scope is the closed enumeration of analysis worker kinds (spec.md §9
// "tagged worker kinds").
type Scope string

const (
	ScopeFile      Scope = "file"
	ScopeDirectory Scope = "directory"
	ScopeGlobal    Scope = "global"
)

// DefaultConfidence is the confidence assigned to a candidate when the
// LLM's response omits one.
const DefaultConfidence = 0.5

// Candidate is one LLM-proposed relationship, after JSON extraction.
type Candidate struct {
	SourceID   string  `json:"source"`
	TargetID   string  `json:"target"`
	Type       string  `json:"type"`
	SourceKind string  `json:"source_kind"`
	TargetKind string  `json:"target_kind"`
	Confidence float64 `json:"confidence"`
}

// JobPayload is the payload of a file/directory/global-analysis job.
type JobPayload struct {
	FilePaths []string `json:"file_paths"`
	Prompt    string   `json:"prompt"`
}

// Worker implements the shared analysis algorithm for one Scope.
type Worker struct {
	scope     Scope
	db        *sql.DB
	manifest  *cache.Manifest
	whitelist *policy.Whitelist
	llmClient llm.Client
	evidence  *store.EvidenceRepository
	outbox    *store.OutboxRepository
	pois      *store.POIRepository
	logger    *zap.Logger
}

func NewWorker(scope Scope, db *sql.DB, manifest *cache.Manifest, whitelist *policy.Whitelist, llmClient llm.Client, logger *zap.Logger) *Worker {
	return &Worker{
		scope:     scope,
		db:        db,
		manifest:  manifest,
		whitelist: whitelist,
		llmClient: llmClient,
		evidence:  store.NewEvidenceRepository(db),
		outbox:    store.NewOutboxRepository(db),
		pois:      store.NewPOIRepository(db),
		logger:    logger,
	}
}

// Process implements spec.md §4.2's per-job algorithm. A *pipelineerrors.AppError
// of type ErrorTypeTransientExternal signals the caller should retry with
// backoff; ErrorTypeInvalidPayload/ErrorTypeInvariantViolation signal
// immediate dead-letter; ErrorTypeNotFound signals a downgraded warning
// (spec.md §7).
func (w *Worker) Process(ctx context.Context, runID, jobID string, payload JobPayload) error {
	raw, err := w.llmClient.Query(ctx, payload.Prompt)
	if err != nil {
		return err // already a TransientExternal AppError from llm.Client
	}

	candidates, err := w.parseResponse(ctx, raw)
	if err != nil {
		// One self-correction retry (spec.md §4.2 step 2): re-query with
		// the malformed output and parse error folded into the prompt, via
		// the same Client every provider already implements, so this isn't
		// tied to one provider's SDK. A second parse failure is fatal.
		corrected, queryErr := w.llmClient.Query(ctx, correctionPrompt(raw, err))
		if queryErr != nil {
			return queryErr
		}
		candidates, err = w.parseResponse(ctx, corrected)
		if err != nil {
			return err
		}
	}

	w.logger.Debug("analysis candidates extracted",
		zap.String("run_id", runID), zap.String("job_id", jobID),
		zap.String("scope", string(w.scope)), zap.Int("count", len(candidates)))

	for _, c := range candidates {
		if err := w.handleCandidate(ctx, runID, jobID, c); err != nil {
			return err
		}
	}
	return nil
}

// correctionPrompt wraps a malformed response and its parse error into a
// re-query prompt, the provider-agnostic form of spec.md §4.2 step 2's
// "retry once with a correction prompt."
func correctionPrompt(previous string, parseErr error) string {
	return "Your previous response could not be parsed as JSON.\n\n" +
		"Previous response:\n" + previous + "\n\n" +
		"Parse error: " + parseErr.Error() + "\n\n" +
		"Re-emit ONLY a single valid JSON object with a top-level " +
		"\"relationships\" array. Do not include markdown fences or commentary."
}

func (w *Worker) parseResponse(ctx context.Context, raw string) ([]Candidate, error) {
	repaired := sanitize.Repair(raw)
	objs, err := sanitize.ExtractCandidates(repaired)
	if err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, len(objs))
	for _, obj := range objs {
		b, err := json.Marshal(obj)
		if err != nil {
			return nil, pipelineerrors.NewInvalidPayloadError("candidate re-encoding failed")
		}
		var c Candidate
		if err := json.Unmarshal(b, &c); err != nil {
			return nil, pipelineerrors.NewInvalidPayloadError("candidate did not match expected shape")
		}
		if c.Confidence == 0 {
			c.Confidence = DefaultConfidence
		}
		out = append(out, c)
	}
	return out, nil
}

// poiFromID recovers the row a candidate's source/target id refers to
// (spec.md §8 Scenario A requires both endpoints present as graph nodes
// before graph-build can merge the edge between them). kindHint supplies
// the kind only when the id's kind segment is empty; a non-empty kind
// segment is used exactly as parsed. It's only consulted when
// ids.ParsePOIID's own parse succeeds.
func poiFromID(runID, id, kindHint string) (store.POI, error) {
	kind, name, filePath, line, ok := ids.ParsePOIID(id)
	if !ok {
		return store.POI{}, pipelineerrors.NewInvalidPayloadError("candidate poi id is not well-formed: " + id)
	}
	if kind == "" {
		kind = ids.POIKind(kindHint)
	}
	return store.POI{
		ID:        id,
		FileID:    ids.FileID(runID, filePath),
		Name:      name,
		Type:      string(kind),
		StartLine: line,
		EndLine:   line,
	}, nil
}

func (w *Worker) handleCandidate(ctx context.Context, runID, jobID string, c Candidate) error {
	if err := w.whitelist.ValidateCandidate(ctx, c.SourceKind, c.TargetKind, c.Type); err != nil {
		return err
	}

	hash := ids.RelationshipHash(c.SourceID, c.TargetID, c.Type)

	if _, err := w.manifest.SeedOrRaiseExpectation(ctx, runID, hash, expectationFor(w.scope), string(w.scope)); err != nil {
		return err
	}

	evidenceID := ids.DeterministicEvidenceID(jobID, hash)
	payloadJSON, err := json.Marshal(c)
	if err != nil {
		return pipelineerrors.NewInternal(err)
	}

	sourcePOI, err := poiFromID(runID, c.SourceID, c.SourceKind)
	if err != nil {
		return err
	}
	targetPOI, err := poiFromID(runID, c.TargetID, c.TargetKind)
	if err != nil {
		return err
	}

	return store.WithTransaction(ctx, w.db, func(tx *sql.Tx) error {
		if err := w.pois.UpsertTx(ctx, tx, sourcePOI); err != nil {
			return err
		}
		if err := w.pois.UpsertTx(ctx, tx, targetPOI); err != nil {
			return err
		}

		if err := w.evidence.InsertTx(ctx, tx, store.RelationshipEvidence{
			ID:               evidenceID,
			RunID:            runID,
			JobID:            jobID,
			RelationshipHash: hash,
			SourcePOIID:      c.SourceID,
			TargetPOIID:      c.TargetID,
			RelType:          c.Type,
			SourceWorker:     string(w.scope),
			Confidence:       c.Confidence,
			Payload:          payloadJSON,
		}); err != nil {
			return err
		}

		findingPayload, err := json.Marshal(store.AnalysisFindingPayload{
			RunID:            runID,
			RelationshipHash: hash,
			EvidenceID:       evidenceID,
		})
		if err != nil {
			return pipelineerrors.NewInternal(err)
		}

		_, err = w.outbox.InsertTx(ctx, tx, "analysis-finding", findingPayload)
		return err
	})
}

// expectationFor returns the default number of independent evidence
// payloads expected before reconciliation, per scope (spec.md §3's
// "value typically 2 or 3 depending on scopes involved"). File- and
// directory-scoped proposals expect triangulation from two further
// scopes; a global-scoped proposal, being maximally authoritative, still
// requires one corroborating piece of evidence.
func expectationFor(scope Scope) int {
	switch scope {
	case ScopeGlobal:
		return 2
	default:
		return 3
	}
}
