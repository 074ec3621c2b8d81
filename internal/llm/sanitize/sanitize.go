// Package sanitize repairs loosely-shaped LLM JSON output and extracts
// the candidate-relationship array regardless of the envelope the
// provider wrapped it in (spec.md §6: "sanitization (trim, strip fences,
// fix trailing commas, close truncated braces) is invoked before
// parsing").
package sanitize

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/itchyny/gojq"

	pipelineerrors "github.com/korrelate/triangulate/internal/errors"
)

var (
	fencePattern        = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	trailingCommaObject = regexp.MustCompile(`,(\s*})`)
	trailingCommaArray  = regexp.MustCompile(`,(\s*])`)
)

// Repair trims whitespace, strips markdown code fences, removes trailing
// commas before closing braces/brackets, and closes obviously truncated
// braces/brackets so the result is more likely to parse as JSON.
func Repair(raw string) string {
	s := strings.TrimSpace(raw)

	if m := fencePattern.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}

	s = trailingCommaObject.ReplaceAllString(s, "$1")
	s = trailingCommaArray.ReplaceAllString(s, "$1")

	s = closeTruncated(s)
	return s
}

// closeTruncated appends closing braces/brackets for any left unclosed,
// a best-effort recovery for LLM output truncated mid-structure.
func closeTruncated(s string) string {
	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			if escaped {
				escaped = false
				continue
			}
			if c == '\\' {
				escaped = true
				continue
			}
			if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			s += "}"
		} else {
			s += "]"
		}
	}
	return s
}

// candidateQuery locates the candidate-relationship array regardless of
// which key the provider's envelope used.
var candidateQuery = mustParse(".relationships // .candidates // .")

func mustParse(src string) *gojq.Query {
	q, err := gojq.Parse(src)
	if err != nil {
		panic(err)
	}
	return q
}

// ExtractCandidates parses repaired JSON and returns the candidate array
// as raw JSON objects, using gojq so the extraction tolerates whichever
// of `.relationships`, `.candidates`, or a bare top-level array the
// provider chose to emit.
func ExtractCandidates(repaired string) ([]map[string]any, error) {
	var doc any
	if err := json.Unmarshal([]byte(repaired), &doc); err != nil {
		return nil, pipelineerrors.NewInvalidPayloadError("llm response is not valid JSON after repair").WithDetailsf("%v", err)
	}

	iter := candidateQuery.Run(doc)
	v, ok := iter.Next()
	if !ok {
		return nil, pipelineerrors.NewInvalidPayloadError("llm response contained no candidate array")
	}
	if err, isErr := v.(error); isErr {
		return nil, pipelineerrors.NewInvalidPayloadError("gojq evaluation failed").WithDetailsf("%v", err)
	}

	arr, ok := v.([]any)
	if !ok {
		return nil, pipelineerrors.NewInvalidPayloadError("llm response candidate field was not an array")
	}

	out := make([]map[string]any, 0, len(arr))
	for _, item := range arr {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, pipelineerrors.NewInvalidPayloadError("llm response candidate entry was not an object")
		}
		out = append(out, obj)
	}
	return out, nil
}
