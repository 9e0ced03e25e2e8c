package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// RunPaths lays out one pipeline run under the data root:
//
//	raw/{id}/stage{1,2,3}.jsonl and metadata.json
//	raw/{id}/debug/ for unparseable model output
//	raw/{id}/checkpoint.json
type RunPaths struct {
	Root  string
	RunID string
}

// NewRunID is the timestamped run identifier used in on-disk layouts.
func NewRunID() string {
	return time.Now().UTC().Format("20060102_150405")
}

func NewRunPaths(root, runID string) *RunPaths {
	if runID == "" {
		runID = NewRunID()
	}
	return &RunPaths{Root: root, RunID: runID}
}

func (p *RunPaths) RawDir() string {
	return filepath.Join(p.Root, "raw", p.RunID)
}

func (p *RunPaths) StageFile(stage int) string {
	return filepath.Join(p.RawDir(), fmt.Sprintf("stage%d.jsonl", stage))
}

func (p *RunPaths) DebugDir() string {
	return filepath.Join(p.RawDir(), "debug")
}

func (p *RunPaths) CheckpointFile() string {
	return filepath.Join(p.RawDir(), "checkpoint.json")
}

func (p *RunPaths) MetadataFile() string {
	return filepath.Join(p.RawDir(), "metadata.json")
}

// RunDir is where test results for this run land.
func (p *RunPaths) RunDir() string {
	return filepath.Join(p.Root, "runs", p.RunID)
}

func (p *RunPaths) TestsDir() string {
	return filepath.Join(p.RunDir(), "tests")
}

// BenchmarksDir is shared across runs.
func BenchmarksDir(root string) string {
	return filepath.Join(root, "benchmarks")
}

// EnsureDirs creates the run directory tree.
func (p *RunPaths) EnsureDirs() error {
	for _, dir := range []string{p.RawDir(), p.DebugDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create run dirs: %w", err)
		}
	}
	return nil
}

// LatestRawRun returns the most recent raw run id, by name ordering of the
// timestamped directories.
func LatestRawRun(root string) (string, error) {
	entries, err := os.ReadDir(filepath.Join(root, "raw"))
	if err != nil {
		return "", fmt.Errorf("list raw runs: %w", err)
	}
	latest := ""
	for _, e := range entries {
		if e.IsDir() && e.Name() > latest {
			latest = e.Name()
		}
	}
	if latest == "" {
		return "", fmt.Errorf("no raw runs under %s", root)
	}
	return latest, nil
}
