// Package ids implements the pipeline's single canonical id scheme: stable
// POI ids and the deterministic relationship hash. The source system this
// pipeline replaces carried two incompatible
// generateDeterministicRelationshipId definitions (one sorted node ids
// alphabetically, another sorted by file path); this package is the one
// place that definition lives now, per spec.md's Open Questions.
package ids

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// POIKind enumerates the whitelisted point-of-interest kinds. Kept in
// sync with internal/policy's embedded whitelist.
type POIKind string

const (
	KindFile      POIKind = "file"
	KindFunction  POIKind = "function"
	KindClass     POIKind = "class"
	KindVariable  POIKind = "variable"
	KindMethod    POIKind = "method"
	KindInterface POIKind = "interface"
)

// POIID builds the stable, semantic id of a point of interest:
// <kind>:<name>@<filePath>[:<line>]. It is deterministic and
// collision-free for a given source tree (spec.md §3, POI invariant).
func POIID(kind POIKind, name, filePath string, line int) string {
	if line > 0 {
		return fmt.Sprintf("%s:%s@%s:%d", kind, name, filePath, line)
	}
	return fmt.Sprintf("%s:%s@%s", kind, name, filePath)
}

// RelationshipHash computes the canonical relationship hash for a
// candidate (sourceID, targetID, type) triple: sort the stable POI ids,
// concatenate with the type, then hash with SHA-256. This sort step is
// what makes the hash symmetric in node order for undirected types while
// still guaranteeing hash stability for directed ones (spec.md §3): two
// workers proposing the same triple, in either node order, compute the
// same hash.
func RelationshipHash(sourceID, targetID, relType string) string {
	pair := []string{sourceID, targetID}
	sort.Strings(pair)
	payload := pair[0] + "|" + pair[1] + "|" + relType
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// FileID computes the stable id a discovered file is stored under: a
// hash of the run and its relative path, so the scout's Upsert and any
// later resolution of a POI id's file path back to a file row (analysis
// candidate handling, the self-cleaning reconciler) agree on the same id
// without a path-keyed lookup.
func FileID(runID, relPath string) string {
	sum := sha256.Sum256([]byte(runID + "|file|" + relPath))
	return hex.EncodeToString(sum[:])
}

// DeterministicEvidenceID computes the id a worker must use for its
// evidence row so that redelivery of the same job produces the same id
// and a retried write is detected as a duplicate (spec.md §4.2 "Key
// property — atomicity").
func DeterministicEvidenceID(jobID, relationshipHash string) string {
	sum := sha256.Sum256([]byte(jobID + "|" + relationshipHash))
	return hex.EncodeToString(sum[:])
}

// ParsePOIID splits a POI id back into its kind, name, file path, and
// line (0 if absent). Returns false if id is not well-formed.
func ParsePOIID(id string) (kind POIKind, name, filePath string, line int, ok bool) {
	kindSep := strings.Index(id, ":")
	atSep := strings.Index(id, "@")
	if kindSep < 0 || atSep < 0 || atSep < kindSep {
		return "", "", "", 0, false
	}
	kind = POIKind(id[:kindSep])
	name = id[kindSep+1 : atSep]
	rest := id[atSep+1:]

	if lineSep := strings.LastIndex(rest, ":"); lineSep >= 0 {
		var n int
		if _, err := fmt.Sscanf(rest[lineSep+1:], "%d", &n); err == nil {
			return kind, name, rest[:lineSep], n, true
		}
	}
	return kind, name, rest, 0, true
}
