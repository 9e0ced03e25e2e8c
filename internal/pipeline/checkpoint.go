package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Stage progress states.
const (
	StagePending   = "pending"
	StageRunning   = "running"
	StageCompleted = "completed"
	StageFailed    = "failed"
)

// StageProgress tracks one stage inside a checkpoint.
type StageProgress struct {
	Status           string `json:"status"`
	TotalBatches     int    `json:"total_batches"`
	CompletedBatches int    `json:"completed_batches"`
	FailedBatches    int    `json:"failed_batches"`
	OutputFile       string `json:"output_file,omitempty"`
	StartedAt        string `json:"started_at,omitempty"`
	CompletedAt      string `json:"completed_at,omitempty"`
}

// ErrorEntry records one failed item with trace metadata.
type ErrorEntry struct {
	Stage     int    `json:"stage"`
	BatchID   int    `json:"batch_id"`
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

// Checkpoint is the durable progress record for one pipeline run. All
// mutation goes through methods that persist atomically.
type Checkpoint struct {
	PlanName     string         `json:"plan_name"`
	TotalSamples int            `json:"total_samples"`
	CreatedAt    string         `json:"created_at"`
	UpdatedAt    string         `json:"updated_at"`

	Stages map[string]*StageProgress `json:"stages"`

	CompletedByScenario  map[string]int `json:"completed_by_scenario"`
	CompletedByOperation map[string]int `json:"completed_by_operation"`

	Errors []ErrorEntry `json:"errors,omitempty"`

	mu   sync.Mutex
	path string
}

func stageName(stage int) string {
	return fmt.Sprintf("stage%d", stage)
}

// NewCheckpoint creates a fresh checkpoint and persists it.
func NewCheckpoint(path, planName string, totalSamples int) (*Checkpoint, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	cp := &Checkpoint{
		PlanName:             planName,
		TotalSamples:         totalSamples,
		CreatedAt:            now,
		UpdatedAt:            now,
		Stages:               map[string]*StageProgress{},
		CompletedByScenario:  map[string]int{},
		CompletedByOperation: map[string]int{},
		path:                 path,
	}
	for s := 1; s <= 3; s++ {
		cp.Stages[stageName(s)] = &StageProgress{Status: StagePending}
	}
	return cp, cp.Save()
}

// LoadCheckpoint reads an existing checkpoint for resume.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint %s: %w", path, err)
	}
	cp.path = path
	if cp.Stages == nil {
		cp.Stages = map[string]*StageProgress{}
	}
	return &cp, nil
}

// Save writes the whole checkpoint atomically (temp file then rename).
func (c *Checkpoint) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveLocked()
}

func (c *Checkpoint) saveLocked() error {
	c.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	return nil
}

// StartStage marks a stage running and records its batch count and output.
func (c *Checkpoint) StartStage(stage, totalBatches int, outputFile string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.stage(stage)
	p.TotalBatches = totalBatches
	p.OutputFile = outputFile
	if p.Status == StagePending || p.Status == StageFailed {
		p.Status = StageRunning
	}
	if p.StartedAt == "" {
		p.StartedAt = time.Now().UTC().Format(time.RFC3339)
	}
	return c.saveLocked()
}

// BumpBatch records one completed batch, optionally persisting immediately.
func (c *Checkpoint) BumpBatch(stage int, scenario, operation string, count int, persist bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.stage(stage)
	p.CompletedBatches++
	if scenario != "" {
		c.CompletedByScenario[scenario] += count
	}
	if operation != "" {
		c.CompletedByOperation[operation] += count
	}
	if p.CompletedBatches >= p.TotalBatches && p.TotalBatches > 0 {
		p.Status = StageCompleted
		p.CompletedAt = time.Now().UTC().Format(time.RFC3339)
	}
	if !persist {
		return nil
	}
	return c.saveLocked()
}

// RecordError accumulates a failed item and persists.
func (c *Checkpoint) RecordError(stage, batchID int, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.stage(stage)
	p.FailedBatches++
	c.Errors = append(c.Errors, ErrorEntry{
		Stage:     stage,
		BatchID:   batchID,
		Error:     err.Error(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return c.saveLocked()
}

// StageStatus returns a copy of one stage's progress.
func (c *Checkpoint) StageStatus(stage int) StageProgress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.stage(stage)
}

// IsStageCompleted reports whether a stage has finished all batches.
func (c *Checkpoint) IsStageCompleted(stage int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.stage(stage)
	return p.Status == StageCompleted
}

// SkipBatch reports whether resume should skip this batch: exact-prefix
// semantics, batch ids below the completed counter are already on disk.
func (c *Checkpoint) SkipBatch(stage, batchID int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return batchID < c.stage(stage).CompletedBatches
}

// TotalCompleted sums completions across scenarios.
func (c *Checkpoint) TotalCompleted() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, n := range c.CompletedByScenario {
		total += n
	}
	return total
}

func (c *Checkpoint) stage(stage int) *StageProgress {
	name := stageName(stage)
	p, ok := c.Stages[name]
	if !ok {
		p = &StageProgress{Status: StagePending}
		c.Stages[name] = p
	}
	return p
}
