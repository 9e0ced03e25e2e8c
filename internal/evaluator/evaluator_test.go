package evaluator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"text2mem/internal/assertion"
	"text2mem/internal/config"
	"text2mem/internal/ir"
	"text2mem/internal/pipeline"
	"text2mem/internal/provider"
)

func mustIR(t *testing.T, raw string) *ir.IR {
	t.Helper()
	var instr ir.IR
	require.NoError(t, json.Unmarshal([]byte(raw), &instr))
	return &instr
}

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	return NewRunner(config.DefaultConfig(), provider.NewMockEmbedding(), provider.NewMockGeneration())
}

func countAssertion(name, where string, op string, value float64) *assertion.Spec {
	return &assertion.Spec{
		Name:   name,
		Select: assertion.SelectSpec{From: "memory", Where: []string{where}, Agg: "count"},
		Expect: assertion.ExpectSpec{Op: op, Value: value},
	}
}

func encodeInstr(t *testing.T, text string, tags ...string) *ir.IR {
	t.Helper()
	args := map[string]any{"payload": map[string]any{"text": text}}
	if len(tags) > 0 {
		args["tags"] = tags
	}
	data, err := json.Marshal(map[string]any{"stage": "ENC", "op": "Encode", "args": args})
	require.NoError(t, err)
	return mustIR(t, string(data))
}

func TestEncodeSamplePassesAndReports(t *testing.T) {
	r := newTestRunner(t)
	sample := &pipeline.Sample{
		ID:         "t2m-en-direct-single-enc-001",
		Class:      pipeline.Classification{Lang: "en", InstructionType: "direct", Structure: "single"},
		NL:         "Remember the signed vendor contract",
		SchemaList: []*ir.IR{encodeInstr(t, "Signed vendor contract on file", "proj")},
		Expected: &pipeline.Expected{
			Assertions: []*assertion.Spec{{
				Name:   "tagged row stored",
				Select: assertion.SelectSpec{From: "memory", Where: []string{"tags LIKE :t", "deleted = 0"}, Agg: "count"},
				Expect: assertion.ExpectSpec{Op: "==", Value: 1},
				Params: map[string]any{"t": `%"proj"%`},
			}},
		},
	}

	outDir := t.TempDir()
	summary, err := r.RunSamples(context.Background(), []*pipeline.Sample{sample}, outDir)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.Passed)
	assert.Equal(t, 1.0, summary.PassRate)
	assert.Equal(t, 1, summary.ByOperation["Encode"].Passed)

	passed, err := os.ReadFile(filepath.Join(outDir, "passed.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(passed), sample.ID)

	var detail SampleResult
	details, err := os.ReadFile(filepath.Join(outDir, "details.jsonl"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(details, &detail))
	assert.True(t, detail.Passed)
	require.Len(t, detail.Assertions, 1)
	assert.Equal(t, 1.0, detail.Assertions[0].Actual)

	for _, name := range []string{"summary.json", "stats.json", "failed.txt"} {
		_, err := os.Stat(filepath.Join(outDir, name))
		assert.NoError(t, err, name)
	}
}

func TestFailingAssertionFailsSample(t *testing.T) {
	r := newTestRunner(t)
	sample := &pipeline.Sample{
		ID:         "t2m-en-direct-single-enc-002",
		SchemaList: []*ir.IR{encodeInstr(t, "only one row")},
		Expected: &pipeline.Expected{
			Assertions: []*assertion.Spec{countAssertion("expects five rows", "deleted = 0", "==", 5)},
		},
	}

	res := r.evaluateSample(context.Background(), sample)
	assert.False(t, res.Passed)
	require.Len(t, res.Assertions, 1)
	assert.False(t, res.Assertions[0].Passed)
	assert.Contains(t, res.Assertions[0].Message, "expects five rows")
}

func TestFailedOperationFailsSample(t *testing.T) {
	r := newTestRunner(t)
	sample := &pipeline.Sample{
		ID: "t2m-en-direct-single-del-001",
		// Delete with all=true and no confirmation is rejected upstream
		SchemaList: []*ir.IR{mustIR(t, `{"stage":"STO","op":"Delete","target":{"all":true}}`)},
		Expected: &pipeline.Expected{
			Assertions: []*assertion.Spec{countAssertion("vacuous", "deleted = 0", ">=", 0)},
		},
	}
	res := r.evaluateSample(context.Background(), sample)
	assert.False(t, res.Passed)
	require.Len(t, res.Ops, 1)
	assert.False(t, res.Ops[0].Success)
}

func TestPrerequisiteFailureFailsSample(t *testing.T) {
	r := newTestRunner(t)
	sample := &pipeline.Sample{
		ID: "t2m-en-direct-single-enc-003",
		Prerequisites: []*ir.IR{
			// rejected by validation: all=true without confirmation
			mustIR(t, `{"stage":"STO","op":"Delete","target":{"all":true}}`),
		},
		SchemaList: []*ir.IR{encodeInstr(t, "still encoded fine")},
		Expected: &pipeline.Expected{
			Assertions: []*assertion.Spec{countAssertion("encoded", "deleted = 0", "==", 1)},
		},
	}
	res := r.evaluateSample(context.Background(), sample)
	assert.False(t, res.Passed)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "prerequisite 0 (Delete)")

	// the program still ran and its checks still report
	require.Len(t, res.Ops, 1)
	assert.True(t, res.Ops[0].Success)
	require.Len(t, res.Assertions, 1)
	assert.True(t, res.Assertions[0].Passed)
}

func TestRankingReRunsSearchTargetRetrieve(t *testing.T) {
	r := newTestRunner(t)
	r.cfg.Evaluator.RankingStrictMock = true
	sample := &pipeline.Sample{
		ID: "t2m-en-direct-single-ret-009",
		Prerequisites: []*ir.IR{
			encodeInstr(t, "alpha kubernetes cluster upgrade log"),
			encodeInstr(t, "bravo gardening weekend notes"),
		},
		// the program's own Retrieve answers a different question than
		// the ranking block asks
		SchemaList: []*ir.IR{
			mustIR(t, `{"stage":"RET","op":"Retrieve","target":{"search":{"intent":{"query":"alpha kubernetes"},"overrides":{"k":1}}}}`),
		},
		Expected: &pipeline.Expected{
			Ranking: &pipeline.RankingSpec{Query: "bravo gardening", GoldIDs: []int64{2}, TopK: 1},
		},
	}

	res := r.evaluateSample(context.Background(), sample)
	require.NotNil(t, res.Ranking)
	assert.Equal(t, []int64{2}, res.Ranking.Returned)
	assert.Equal(t, []int64{2}, res.Ranking.Hits)
	assert.True(t, res.Ranking.Passed)
	assert.True(t, res.Passed, "errors: %v", res.Errors)
}

func TestRankingReusesFilterTargetRetrieve(t *testing.T) {
	r := newTestRunner(t)
	r.cfg.Evaluator.RankingStrictMock = true
	sample := &pipeline.Sample{
		ID: "t2m-en-direct-single-ret-010",
		Prerequisites: []*ir.IR{
			encodeInstr(t, "alpha kubernetes cluster upgrade log", "keep"),
			encodeInstr(t, "bravo gardening weekend notes"),
		},
		SchemaList: []*ir.IR{
			mustIR(t, `{"stage":"RET","op":"Retrieve","target":{"filter":{"has_tags":["keep"]}}}`),
		},
		// gold names the filter row; re-running the query text would
		// rank row 2 first instead
		Expected: &pipeline.Expected{
			Ranking: &pipeline.RankingSpec{Query: "bravo gardening", GoldIDs: []int64{1}, TopK: 1},
		},
	}

	res := r.evaluateSample(context.Background(), sample)
	require.NotNil(t, res.Ranking)
	assert.Equal(t, []int64{1}, res.Ranking.Returned)
	assert.True(t, res.Ranking.Passed)
	assert.True(t, res.Passed, "errors: %v", res.Errors)
}

func TestExpireTriggerUnderVirtualClock(t *testing.T) {
	r := newTestRunner(t)
	sample := &pipeline.Sample{
		ID: "t2m-en-direct-single-exp-001",
		SchemaList: []*ir.IR{
			encodeInstr(t, "temporary scratch note"),
			mustIR(t, `{"stage":"STO","op":"Expire","target":{"ids":[1]},"args":{"ttl":"PT1H"}}`),
		},
		Expected: &pipeline.Expected{
			Assertions: []*assertion.Spec{
				countAssertion("expiry recorded", "expire_at IS NOT NULL", "==", 1),
				countAssertion("nothing deleted yet", "deleted = 1", "==", 0),
			},
			Triggers: []pipeline.TriggerSpec{{
				Advance: "PT2H",
				Assertions: []*assertion.Spec{
					countAssertion("reaped after expiry", "deleted = 1", "==", 1),
				},
			}},
			Meta: &pipeline.ExpectedMeta{EvalTimeUTC: "2025-06-01T00:00:00Z"},
		},
	}

	res := r.evaluateSample(context.Background(), sample)
	assert.True(t, res.Passed, "error: %s", res.Error)
	require.Len(t, res.Triggers, 1)
	assert.Equal(t, 1, res.Triggers[0].Reaped)
	assert.True(t, res.Triggers[0].Passed)
}

func TestAssertionNowParamBoundToVirtualClock(t *testing.T) {
	r := newTestRunner(t)
	sample := &pipeline.Sample{
		ID: "t2m-en-direct-single-exp-002",
		SchemaList: []*ir.IR{
			encodeInstr(t, "short lived"),
			mustIR(t, `{"stage":"STO","op":"Expire","target":{"ids":[1]},"args":{"ttl":"PT1H"}}`),
		},
		Expected: &pipeline.Expected{
			Assertions: []*assertion.Spec{
				countAssertion("not yet due", "expire_at > :now", "==", 1),
			},
			Meta: &pipeline.ExpectedMeta{EvalTimeUTC: "2025-06-01T00:00:00Z"},
		},
	}
	res := r.evaluateSample(context.Background(), sample)
	assert.True(t, res.Passed, "error: %s", res.Error)
}

func TestSnapshotSQLPreferredOverInline(t *testing.T) {
	snapDir := t.TempDir()
	id := "t2m-en-direct-single-ret-001"
	snapshot := "INSERT INTO memory (text, type, subject, weight, deleted, created_at, updated_at) " +
		"VALUES ('from snapshot', 'note', 'snap', 0.5, 0, '2025-01-01T00:00:00Z', '2025-01-01T00:00:00Z');"
	require.NoError(t, os.WriteFile(filepath.Join(snapDir, id+".sql"), []byte(snapshot), 0o644))

	r := newTestRunner(t)
	r.cfg.Evaluator.SnapshotDir = snapDir

	sample := &pipeline.Sample{
		ID:     id,
		InitDB: "INSERT INTO memory (text, subject) VALUES ('inline row', 'inline');",
		Expected: &pipeline.Expected{
			Assertions: []*assertion.Spec{
				countAssertion("snapshot row present", "subject = 'snap'", "==", 1),
				countAssertion("inline ignored", "subject = 'inline'", "==", 0),
			},
		},
	}
	res := r.evaluateSample(context.Background(), sample)
	assert.True(t, res.Passed, "error: %s", res.Error)
}

func TestInlineInitDBApplied(t *testing.T) {
	r := newTestRunner(t)
	sample := &pipeline.Sample{
		ID:     "t2m-en-direct-single-ret-002",
		InitDB: "INSERT INTO memory (text, subject) VALUES ('seed', 'inline');",
		Expected: &pipeline.Expected{
			Assertions: []*assertion.Spec{countAssertion("seeded", "subject = 'inline'", "==", 1)},
		},
	}
	res := r.evaluateSample(context.Background(), sample)
	assert.True(t, res.Passed, "error: %s", res.Error)
}

func TestSampleTimeout(t *testing.T) {
	r := NewRunner(config.DefaultConfig(), provider.NewMockEmbedding(), slowGen{})
	r.cfg.Evaluator.Timeout = 1

	sample := &pipeline.Sample{
		ID: "t2m-en-direct-single-sum-001",
		SchemaList: []*ir.IR{
			encodeInstr(t, "a note to summarize"),
			mustIR(t, `{"stage":"RET","op":"Summarize","target":{"ids":[1]}}`),
		},
		Expected: &pipeline.Expected{
			Assertions: []*assertion.Spec{countAssertion("vacuous", "deleted = 0", ">=", 0)},
		},
	}
	res := r.runSample(context.Background(), sample)
	assert.False(t, res.Passed)
	assert.Contains(t, res.Error, "timed out")
}

func TestRunnerFilter(t *testing.T) {
	r := newTestRunner(t)
	r.Filter = func(s *pipeline.Sample) bool { return s.Class.Lang == "en" }

	samples := []*pipeline.Sample{
		{
			ID:         "t2m-en-direct-single-enc-010",
			Class:      pipeline.Classification{Lang: "en"},
			SchemaList: []*ir.IR{encodeInstr(t, "kept")},
			Expected:   &pipeline.Expected{Assertions: []*assertion.Spec{countAssertion("ok", "deleted = 0", "==", 1)}},
		},
		{
			ID:    "t2m-zh-direct-single-enc-010",
			Class: pipeline.Classification{Lang: "zh"},
		},
	}
	summary, err := r.RunSamples(context.Background(), samples, "")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Total)
}

// slowGen stalls long enough to trip the per-sample budget.
type slowGen struct{}

func (slowGen) Generate(ctx context.Context, _ string, _ provider.GenerateOptions) (*provider.GenerateResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Second):
	}
	return &provider.GenerateResult{Text: "late"}, nil
}

func (g slowGen) GenerateStructured(ctx context.Context, prompt, _ string, opts provider.GenerateOptions) (*provider.GenerateResult, error) {
	return g.Generate(ctx, prompt, opts)
}

func (slowGen) Name() string { return "slow" }
