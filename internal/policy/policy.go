// Package policy enforces the relationship-type and POI-kind whitelist
// named, but not defined, by spec.md §7 ("non-whitelisted node/edge
// type" is an InvalidPayload cause). The whitelist is expressed as a Rego
// module evaluated with Open Policy Agent; the module is embedded into the
// binary at build time, so changing it takes a rebuild.
package policy

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/open-policy-agent/opa/rego"

	pipelineerrors "github.com/korrelate/triangulate/internal/errors"
)

//go:embed whitelist.rego
var whitelistModule string

// Whitelist evaluates POI kinds and relationship types against the
// embedded Rego policy.
type Whitelist struct {
	poiQuery rego.PreparedEvalQuery
	relQuery rego.PreparedEvalQuery
	undirQuery rego.PreparedEvalQuery
}

// New compiles the embedded whitelist module.
func New(ctx context.Context) (*Whitelist, error) {
	poiQuery, err := rego.New(
		rego.Query("data.triangulate.whitelist.poi_kind_allowed"),
		rego.Module("whitelist.rego", whitelistModule),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compiling poi_kind_allowed policy: %w", err)
	}

	relQuery, err := rego.New(
		rego.Query("data.triangulate.whitelist.relationship_type_allowed"),
		rego.Module("whitelist.rego", whitelistModule),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compiling relationship_type_allowed policy: %w", err)
	}

	undirQuery, err := rego.New(
		rego.Query("data.triangulate.whitelist.undirected"),
		rego.Module("whitelist.rego", whitelistModule),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compiling undirected policy: %w", err)
	}

	return &Whitelist{poiQuery: poiQuery, relQuery: relQuery, undirQuery: undirQuery}, nil
}

func evalBool(ctx context.Context, q rego.PreparedEvalQuery, input map[string]any) (bool, error) {
	rs, err := q.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, err
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, nil
	}
	allowed, _ := rs[0].Expressions[0].Value.(bool)
	return allowed, nil
}

// POIKindAllowed reports whether kind is a whitelisted POI kind.
func (w *Whitelist) POIKindAllowed(ctx context.Context, kind string) (bool, error) {
	return evalBool(ctx, w.poiQuery, map[string]any{"kind": kind})
}

// RelationshipTypeAllowed reports whether relType is a whitelisted
// relationship type.
func (w *Whitelist) RelationshipTypeAllowed(ctx context.Context, relType string) (bool, error) {
	return evalBool(ctx, w.relQuery, map[string]any{"type": relType})
}

// Undirected reports whether relType is declared undirected in the
// policy (spec.md §3 invariant a).
func (w *Whitelist) Undirected(ctx context.Context, relType string) (bool, error) {
	return evalBool(ctx, w.undirQuery, map[string]any{"type": relType})
}

// ValidateCandidate checks a candidate's POI kinds and relationship type
// against the whitelist, returning an InvalidPayload AppError describing
// the first violation found.
func (w *Whitelist) ValidateCandidate(ctx context.Context, sourceKind, targetKind, relType string) error {
	for _, kind := range []string{sourceKind, targetKind} {
		ok, err := w.POIKindAllowed(ctx, kind)
		if err != nil {
			return fmt.Errorf("evaluating poi whitelist: %w", err)
		}
		if !ok {
			return pipelineerrors.NewInvalidPayloadError(
				fmt.Sprintf("poi kind %q is not whitelisted", kind))
		}
	}

	ok, err := w.RelationshipTypeAllowed(ctx, relType)
	if err != nil {
		return fmt.Errorf("evaluating relationship whitelist: %w", err)
	}
	if !ok {
		return pipelineerrors.NewInvalidPayloadError(
			fmt.Sprintf("relationship type %q is not whitelisted", relType))
	}
	return nil
}
