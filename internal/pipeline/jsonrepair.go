package pipeline

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ParseObject recovers a JSON object from imperfect model output. The
// cascade is ordered and each step is observable: the stricter parses run
// first so repairs never mask well-formed output.
//
//  1. direct parse of the whole string
//  2. incremental decode, tolerating trailing commentary
//  3. brace-balanced extraction from the first '{', then cumulative repair
//     passes: strip comments, drop trailing commas, fix missing closing
//     brackets before a following key, auto-close open braces/brackets,
//     and normalise back-to-back objects
func ParseObject(raw string) (map[string]any, error) {
	var out map[string]any

	if err := json.Unmarshal([]byte(raw), &out); err == nil {
		return out, nil
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	if err := dec.Decode(&out); err == nil && out != nil {
		return out, nil
	}

	candidate, ok := extractBalancedObject(raw)
	if !ok {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	if err := json.Unmarshal([]byte(candidate), &out); err == nil {
		return out, nil
	}

	repairs := []func(string) string{
		stripComments,
		removeTrailingCommas,
		fixMissingClosingBracket,
		autoCloseBrackets,
		normaliseAdjacentObjects,
	}
	for _, repair := range repairs {
		candidate = repair(candidate)
		if err := json.Unmarshal([]byte(candidate), &out); err == nil {
			return out, nil
		}
	}
	return nil, fmt.Errorf("unrepairable JSON in response")
}

// DecodeInto parses with the repair cascade and re-marshals into a typed
// destination.
func DecodeInto(raw string, dst any) error {
	obj, err := ParseObject(raw)
	if err != nil {
		return err
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

// extractBalancedObject returns the substring from the first '{' to its
// balancing '}', ignoring braces inside string literals. An unbalanced tail
// returns everything from the first '{' so later passes can auto-close it.
func extractBalancedObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return s[start:], true
}

var (
	lineComment   = regexp.MustCompile(`(?m)^\s*//.*$`)
	blockComment  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
	// a schema_list/expected block whose object list lost one closing brace:
	// `}}],"key"` should have been `}}}],"key"`
	missingBrace = regexp.MustCompile(`\}\}\],\s*"`)
)

func stripComments(s string) string {
	s = blockComment.ReplaceAllString(s, "")
	return lineComment.ReplaceAllString(s, "")
}

func removeTrailingCommas(s string) string {
	return trailingComma.ReplaceAllString(s, "$1")
}

func fixMissingClosingBracket(s string) string {
	if countOutsideStrings(s, '{') > countOutsideStrings(s, '}') {
		return missingBrace.ReplaceAllString(s, `}}}],"`)
	}
	return s
}

// autoCloseBrackets appends the closers an LLM truncation dropped, in
// last-opened-first-closed order.
func autoCloseBrackets(s string) string {
	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if inString {
		s += `"`
	}
	for i := len(stack) - 1; i >= 0; i-- {
		s += string(stack[i])
	}
	return s
}

var adjacentObjects = regexp.MustCompile(`\}\s*\{`)

func normaliseAdjacentObjects(s string) string {
	return adjacentObjects.ReplaceAllString(s, "},{")
}

func countOutsideStrings(s string, target byte) int {
	count := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			continue
		}
		if c == target {
			count++
		}
	}
	return count
}
