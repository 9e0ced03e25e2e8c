package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageForBindsEveryOp(t *testing.T) {
	for _, op := range AllOps {
		stage, ok := StageFor(op)
		require.True(t, ok, "op %s has no stage binding", op)
		switch op {
		case OpEncode:
			assert.Equal(t, StageENC, stage)
		case OpRetrieve, OpSummarize:
			assert.Equal(t, StageRET, stage)
		default:
			assert.Equal(t, StageSTO, stage)
		}
	}
}

func TestOpAbbrevsAreUnique(t *testing.T) {
	seen := map[string]Op{}
	for _, op := range AllOps {
		ab := op.Abbrev()
		require.Len(t, ab, 3)
		prev, dup := seen[ab]
		require.False(t, dup, "ops %s and %s share abbreviation %s", prev, op, ab)
		seen[ab] = op
	}
}

func TestDecodeInstruction(t *testing.T) {
	raw := `{
		"stage": "STO",
		"op": "Label",
		"target": {"ids": [3, 4]},
		"args": {"tags": ["work", "q3"], "mode": "append"},
		"meta": {"actor": "agent", "dry_run": true}
	}`
	var instr IR
	require.NoError(t, json.Unmarshal([]byte(raw), &instr))

	assert.Equal(t, OpLabel, instr.Op)
	assert.Equal(t, []int64{3, 4}, []int64(instr.Target.IDs))
	assert.True(t, instr.DryRun())
	assert.False(t, instr.Confirmed())

	args, err := instr.LabelArgs()
	require.NoError(t, err)
	assert.Equal(t, []string{"work", "q3"}, args.Tags)
	assert.Equal(t, "append", args.Mode)
}

func TestIDListAcceptsScalar(t *testing.T) {
	var target TargetSpec
	require.NoError(t, json.Unmarshal([]byte(`{"ids": 7}`), &target))
	assert.Equal(t, []int64{7}, []int64(target.IDs))
}

func TestDecodeArgsRejectsMalformedJSON(t *testing.T) {
	instr := &IR{Stage: StageSTO, Op: OpLabel, Args: json.RawMessage(`{"tags": [`)}
	_, err := instr.LabelArgs()
	assert.Error(t, err)
}

func TestTargetIsEmpty(t *testing.T) {
	var nilTarget *TargetSpec
	assert.True(t, nilTarget.IsEmpty())
	assert.True(t, (&TargetSpec{}).IsEmpty())
	assert.False(t, (&TargetSpec{All: true}).IsEmpty())
	assert.False(t, (&TargetSpec{IDs: IDList{1}}).IsEmpty())
	assert.False(t, (&TargetSpec{Filter: &Filter{Topic: "x"}}).IsEmpty())
}
