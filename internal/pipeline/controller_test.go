package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// pipelineGen scripts all three stages by recognising the template each
// prompt came from, so a whole run executes offline.
type pipelineGen struct {
	scriptedGen
	stage1Calls atomic.Int64
}

func newPipelineGen() *pipelineGen {
	g := &pipelineGen{}
	g.fn = func(prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "natural-language scenarios"):
			g.stage1Calls.Add(1)
			return stage1Response(prompt), nil
		case strings.Contains(prompt, "typed IR instructions"):
			return `{"prerequisites": [],
				"schema_list": [{"stage": "ENC", "op": "Encode",
					"args": {"payload": {"text": "a memory worth keeping"}}}]}`, nil
		case strings.Contains(prompt, "expected-outcome"):
			return `{"assertions": [{"name": "stored",
				"select": {"from": "memory", "where": ["deleted = 0"], "agg": "count"},
				"expect": {"op": ">=", "value": 1}}]}`, nil
		}
		return "", fmt.Errorf("unrecognised prompt")
	}
	return g
}

func stage1Response(prompt string) string {
	var count int
	if _, err := fmt.Sscanf(prompt[strings.Index(prompt, "Write "):], "Write %d", &count); err != nil || count < 1 {
		count = 1
	}
	items := make([]map[string]any, count)
	for i := range items {
		items[i] = map[string]any{
			"nl":      fmt.Sprintf("Remember detail number %d from the meeting", i+1),
			"context": "A long planning meeting covering several follow-up actions",
		}
	}
	data, _ := json.Marshal(items)
	return string(data)
}

func controllerPlan() *Plan {
	p := &Plan{
		Name:         "ctrl",
		TotalSamples: 20,
		BatchSize:    5,
		Languages:    []string{"en"},
		Operations:   map[string]float64{"Encode": 1.0},
	}
	if err := p.Validate(); err != nil {
		panic(err)
	}
	return p
}

func uniqueSampleIDs(t *testing.T, samples []*Sample) map[string]bool {
	t.Helper()
	seen := map[string]bool{}
	for _, s := range samples {
		assert.False(t, seen[s.ID], "duplicate sample id %s", s.ID)
		seen[s.ID] = true
	}
	return seen
}

func TestControllerRunEndToEnd(t *testing.T) {
	paths := NewRunPaths(t.TempDir(), "20250101_000000")
	ctl, err := NewController(fastConfig(), controllerPlan(), newPipelineGen(), paths, false)
	require.NoError(t, err)
	require.NoError(t, ctl.Run(context.Background()))

	for stage := 1; stage <= 3; stage++ {
		assert.True(t, ctl.Checkpoint().IsStageCompleted(stage), "stage %d", stage)
	}

	samples, err := LoadSamples(paths.StageFile(3))
	require.NoError(t, err)
	require.Len(t, samples, 20)
	uniqueSampleIDs(t, samples)

	for _, s := range samples {
		assert.NotEmpty(t, s.NL)
		require.Len(t, s.SchemaList, 1)
		require.NotNil(t, s.Expected)
		assert.NotEmpty(t, s.Expected.Assertions)
	}

	// metadata describes the run
	meta, err := os.ReadFile(paths.MetadataFile())
	require.NoError(t, err)
	assert.Contains(t, string(meta), `"plan_name": "ctrl"`)
}

func TestControllerResumeSkipsCompletedStage(t *testing.T) {
	root := t.TempDir()
	paths := NewRunPaths(root, "20250101_000000")

	first, err := NewController(fastConfig(), controllerPlan(), newPipelineGen(), paths, false)
	require.NoError(t, err)
	require.NoError(t, first.Run(context.Background()))

	// restart: every stage is complete, so no model call should happen
	gen := newPipelineGen()
	second, err := NewController(fastConfig(), controllerPlan(), gen, paths, true)
	require.NoError(t, err)
	require.NoError(t, second.Run(context.Background()))
	assert.Zero(t, gen.calls)

	samples, err := LoadSamples(paths.StageFile(3))
	require.NoError(t, err)
	assert.Len(t, samples, 20)
}

func TestControllerResumeMidStage(t *testing.T) {
	root := t.TempDir()
	paths := NewRunPaths(root, "20250101_000000")
	require.NoError(t, paths.EnsureDirs())

	// simulate a run that died after the first two stage-1 batches: the
	// checkpoint counts them and their ten items are already on disk
	cp, err := NewCheckpoint(paths.CheckpointFile(), "ctrl", 20)
	require.NoError(t, err)
	require.NoError(t, cp.StartStage(1, 5, paths.StageFile(1)))
	require.NoError(t, cp.BumpBatch(1, "direct", "Encode", 5, true))
	require.NoError(t, cp.BumpBatch(1, "direct", "Encode", 5, true))

	f, err := os.Create(paths.StageFile(1))
	require.NoError(t, err)
	for i := 1; i <= 10; i++ {
		item := Stage1Item{
			SampleID:       fmt.Sprintf("t2m-en-direct-single-enc-%03d", i),
			Instruction:    fmt.Sprintf("Remember prior item %d", i),
			Context:        "Recovered from the interrupted first run",
			Classification: Classification{Lang: "en", InstructionType: "direct", Structure: "single"},
			Operation:      "Encode",
		}
		line, err := json.Marshal(item)
		require.NoError(t, err)
		_, err = f.Write(append(line, '\n'))
		require.NoError(t, err)
	}
	require.NoError(t, f.Close())

	gen := newPipelineGen()
	ctl, err := NewController(fastConfig(), controllerPlan(), gen, paths, true)
	require.NoError(t, err)
	require.NoError(t, ctl.Run(context.Background()))

	// 5 stage-1 batches total, 2 already done
	assert.Equal(t, int64(3), gen.stage1Calls.Load())

	samples, err := LoadSamples(paths.StageFile(3))
	require.NoError(t, err)
	require.Len(t, samples, 20)
	ids := uniqueSampleIDs(t, samples)
	assert.True(t, ids["t2m-en-direct-single-enc-001"], "recovered items survive resume")
}

func TestControllerResumeRejectsForeignPlan(t *testing.T) {
	paths := NewRunPaths(t.TempDir(), "20250101_000000")
	_, err := NewController(fastConfig(), controllerPlan(), newPipelineGen(), paths, false)
	require.NoError(t, err)

	other := controllerPlan()
	other.Name = "different"
	_, err = NewController(fastConfig(), other, newPipelineGen(), paths, true)
	assert.Error(t, err)
}

func TestControllerAsyncRun(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))

	cfg := fastConfig()
	cfg.Pipeline.UseAsync = true
	cfg.Pipeline.MaxConcurrent = 4
	cfg.Pipeline.CheckpointBatch = 2

	paths := NewRunPaths(t.TempDir(), "20250101_000000")
	ctl, err := NewController(cfg, controllerPlan(), newPipelineGen(), paths, false)
	require.NoError(t, err)
	require.NoError(t, ctl.Run(context.Background()))

	samples, err := LoadSamples(paths.StageFile(3))
	require.NoError(t, err)
	require.Len(t, samples, 20)
	uniqueSampleIDs(t, samples)

	// the checkpoint on disk reflects completion after shutdown persist
	loaded, err := LoadCheckpoint(paths.CheckpointFile())
	require.NoError(t, err)
	for stage := 1; stage <= 3; stage++ {
		assert.True(t, loaded.IsStageCompleted(stage), "stage %d", stage)
	}
}

func TestControllerRecordsBatchFailures(t *testing.T) {
	gen := newPipelineGen()
	inner := gen.fn
	var failed atomic.Bool
	gen.fn = func(prompt string) (string, error) {
		// poison exactly one stage-2 item
		if strings.Contains(prompt, "typed IR instructions") && !failed.Swap(true) {
			return "", fmt.Errorf("upstream rejected the request")
		}
		return inner(prompt)
	}

	cfg := fastConfig()
	cfg.Pipeline.RetryMax = 1
	paths := NewRunPaths(t.TempDir(), "20250101_000000")
	ctl, err := NewController(cfg, controllerPlan(), gen, paths, false)
	require.NoError(t, err)
	require.NoError(t, ctl.Run(context.Background()))

	samples, err := LoadSamples(paths.StageFile(3))
	require.NoError(t, err)
	assert.Len(t, samples, 19)

	cp := ctl.Checkpoint()
	require.NotEmpty(t, cp.Errors)
	assert.Equal(t, 2, cp.Errors[0].Stage)
	assert.True(t, cp.IsStageCompleted(2))
}

func TestLatestRawRun(t *testing.T) {
	root := t.TempDir()
	for _, id := range []string{"20250101_000000", "20250301_090000", "20250201_120000"} {
		require.NoError(t, NewRunPaths(root, id).EnsureDirs())
	}
	latest, err := LatestRawRun(root)
	require.NoError(t, err)
	assert.Equal(t, "20250301_090000", latest)

	_, err = LatestRawRun(t.TempDir())
	require.Error(t, err)
}
