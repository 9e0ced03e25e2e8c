package main

import (
	"fmt"
	"strings"

	"text2mem/internal/pipeline"
)

// parseFilters turns key:value tokens into a sample predicate. Multiple
// tokens must all match. Recognised keys: lang, op, instruction, structure.
func parseFilters(tokens []string) (func(*pipeline.Sample) bool, error) {
	if len(tokens) == 0 {
		return nil, nil
	}

	type match struct {
		key   string
		value string
	}
	var matches []match
	for _, tok := range tokens {
		key, value, ok := strings.Cut(tok, ":")
		if !ok || key == "" || value == "" {
			return nil, fmt.Errorf("bad filter %q: want key:value", tok)
		}
		switch key {
		case "lang", "op", "instruction", "structure":
		default:
			return nil, fmt.Errorf("bad filter key %q: want lang, op, instruction or structure", key)
		}
		matches = append(matches, match{key, strings.ToLower(value)})
	}

	return func(s *pipeline.Sample) bool {
		for _, m := range matches {
			var got string
			switch m.key {
			case "lang":
				got = s.Class.Lang
			case "instruction":
				got = s.Class.InstructionType
			case "structure":
				got = s.Class.Structure
			case "op":
				op, ok := s.PrimaryOp()
				if !ok {
					return false
				}
				// accept either the full name or the id abbreviation
				if !strings.EqualFold(string(op), m.value) && op.Abbrev() != m.value {
					return false
				}
				continue
			}
			if !strings.EqualFold(got, m.value) {
				return false
			}
		}
		return true
	}, nil
}
