// Package pipeline drives benchmark construction: task allocation, the three
// LLM generation stages, checkpointed JSONL output, and resume.
package pipeline

import (
	"fmt"

	"text2mem/internal/assertion"
	"text2mem/internal/ir"
)

// Classification places a sample in the generation grid.
type Classification struct {
	Lang            string `json:"lang"`
	InstructionType string `json:"instruction_type"`
	Structure       string `json:"structure"`
}

// Stage1Item is one generated scenario before IR translation.
type Stage1Item struct {
	SampleID       string         `json:"sample_id"`
	Instruction    string         `json:"instruction"`
	Context        string         `json:"context"`
	Classification Classification `json:"classification"`
	ScenarioInfo   map[string]any `json:"scenario_info,omitempty"`
	Operation      string         `json:"operation"`
}

// Stage2Item carries the scenario plus its IR program.
type Stage2Item struct {
	Stage1Item
	Prerequisites []*ir.IR `json:"prerequisites"`
	SchemaList    []*ir.IR `json:"schema_list"`
}

// RankingSpec is the gold standard for a Retrieve sample.
type RankingSpec struct {
	Query      string  `json:"query"`
	GoldIDs    []int64 `json:"gold_ids"`
	TopK       int     `json:"topk"`
	AllowExtra bool    `json:"allow_extra"`
	MinHits    int     `json:"min_hits"`
}

// TriggerSpec advances a virtual clock and re-checks assertions.
type TriggerSpec struct {
	Advance    string            `json:"advance"`
	Assertions []*assertion.Spec `json:"assertions"`
}

// ExpectedMeta carries evaluation-time hints.
type ExpectedMeta struct {
	EvalTimeUTC string `json:"eval_time_utc,omitempty"`
}

// Expected is the outcome block evaluated by the test runner.
type Expected struct {
	Assertions []*assertion.Spec `json:"assertions"`
	Ranking    *RankingSpec      `json:"ranking,omitempty"`
	Triggers   []TriggerSpec     `json:"triggers,omitempty"`
	Meta       *ExpectedMeta     `json:"meta,omitempty"`
}

// Sample is one final benchmark record.
type Sample struct {
	ID            string         `json:"id"`
	Class         Classification `json:"class"`
	NL            string         `json:"nl"`
	Prerequisites []*ir.IR       `json:"prerequisites"`
	SchemaList    []*ir.IR       `json:"schema_list"`
	InitDB        string         `json:"init_db,omitempty"`
	Expected      *Expected      `json:"expected,omitempty"`
	Notes         string         `json:"notes,omitempty"`
}

// PrimaryOp is the operation a sample is classified under: the first
// instruction in schema_list.
func (s *Sample) PrimaryOp() (ir.Op, bool) {
	if len(s.SchemaList) == 0 {
		return "", false
	}
	return s.SchemaList[0].Op, true
}

// SampleID renders the canonical id format.
func SampleID(lang, instructionType, structure string, op ir.Op, n int) string {
	return fmt.Sprintf("t2m-%s-%s-%s-%s-%03d", lang, instructionType, structure, op.Abbrev(), n)
}
