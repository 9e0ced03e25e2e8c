package pipeline

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpointRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")

	cp, err := NewCheckpoint(path, "plan-a", 40)
	require.NoError(t, err)

	require.NoError(t, cp.StartStage(1, 8, "stage1.jsonl"))
	require.NoError(t, cp.BumpBatch(1, "direct", "Encode", 5, true))
	require.NoError(t, cp.BumpBatch(1, "indirect", "Retrieve", 5, true))
	require.NoError(t, cp.RecordError(1, 2, errors.New("model returned garbage")))

	loaded, err := LoadCheckpoint(path)
	require.NoError(t, err)
	assert.Equal(t, "plan-a", loaded.PlanName)
	assert.Equal(t, 40, loaded.TotalSamples)

	st := loaded.StageStatus(1)
	assert.Equal(t, StageRunning, st.Status)
	assert.Equal(t, 2, st.CompletedBatches)
	assert.Equal(t, 1, st.FailedBatches)
	assert.Equal(t, 5, loaded.CompletedByScenario["direct"])
	assert.Equal(t, 5, loaded.CompletedByOperation["Retrieve"])
	require.Len(t, loaded.Errors, 1)
	assert.Equal(t, 2, loaded.Errors[0].BatchID)
	assert.Contains(t, loaded.Errors[0].Error, "garbage")
}

func TestCheckpointSkipBatchIsExactPrefix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	cp, err := NewCheckpoint(path, "plan-a", 10)
	require.NoError(t, err)
	require.NoError(t, cp.StartStage(1, 4, "stage1.jsonl"))
	require.NoError(t, cp.BumpBatch(1, "direct", "Encode", 3, true))
	require.NoError(t, cp.BumpBatch(1, "direct", "Encode", 3, true))

	assert.True(t, cp.SkipBatch(1, 0))
	assert.True(t, cp.SkipBatch(1, 1))
	assert.False(t, cp.SkipBatch(1, 2))
	assert.False(t, cp.SkipBatch(1, 3))
}

func TestCheckpointStageAutoCompletes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	cp, err := NewCheckpoint(path, "plan-a", 4)
	require.NoError(t, err)
	require.NoError(t, cp.StartStage(2, 2, "stage2.jsonl"))

	require.NoError(t, cp.BumpBatch(2, "direct", "Encode", 1, false))
	assert.False(t, cp.IsStageCompleted(2))
	require.NoError(t, cp.BumpBatch(2, "direct", "Encode", 1, true))
	assert.True(t, cp.IsStageCompleted(2))

	st := cp.StageStatus(2)
	assert.Equal(t, StageCompleted, st.Status)
	assert.NotEmpty(t, st.CompletedAt)
}

func TestCheckpointSaveIsAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "checkpoint.json")
	cp, err := NewCheckpoint(path, "plan-a", 4)
	require.NoError(t, err)
	require.NoError(t, cp.Save())

	// no stray temp files left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "checkpoint.json", entries[0].Name())
}

func TestLoadCheckpointMissingFile(t *testing.T) {
	_, err := LoadCheckpoint(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestCheckpointTotalCompleted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	cp, err := NewCheckpoint(path, "plan-a", 20)
	require.NoError(t, err)
	require.NoError(t, cp.StartStage(1, 4, "stage1.jsonl"))
	require.NoError(t, cp.BumpBatch(1, "direct", "Encode", 5, false))
	require.NoError(t, cp.BumpBatch(1, "implicit", "Delete", 4, false))
	assert.Equal(t, 9, cp.TotalCompleted())
}
