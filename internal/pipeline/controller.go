package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"

	"text2mem/internal/config"
	"text2mem/internal/logging"
	"text2mem/internal/provider"
)

// Controller executes the three stages in order against one checkpointed
// run directory. The synchronous and asynchronous modes share this type;
// the mode only changes how a stage's tasks are scheduled.
type Controller struct {
	cfg   *config.Config
	plan  *Plan
	gen   provider.GenerationProvider
	paths *RunPaths
	cp    *Checkpoint
}

// stageTask is one schedulable unit of stage work. Its id doubles as the
// checkpoint batch id for exact-prefix resume.
type stageTask struct {
	batchID   int
	scenario  string
	operation string
	count     int
	run       func(ctx context.Context) ([]any, error)
}

// NewController opens (resume) or creates the run's checkpoint and returns
// a controller bound to the run directory.
func NewController(cfg *config.Config, plan *Plan, gen provider.GenerationProvider, paths *RunPaths, resume bool) (*Controller, error) {
	if err := paths.EnsureDirs(); err != nil {
		return nil, err
	}

	var cp *Checkpoint
	var err error
	if resume {
		cp, err = LoadCheckpoint(paths.CheckpointFile())
		if err != nil {
			return nil, fmt.Errorf("resume: %w", err)
		}
		if cp.PlanName != plan.Name {
			return nil, fmt.Errorf("resume: checkpoint belongs to plan %q, not %q", cp.PlanName, plan.Name)
		}
	} else {
		cp, err = NewCheckpoint(paths.CheckpointFile(), plan.Name, plan.TotalSamples)
		if err != nil {
			return nil, err
		}
	}

	return &Controller{cfg: cfg, plan: plan, gen: gen, paths: paths, cp: cp}, nil
}

// Checkpoint exposes run progress to the CLI.
func (c *Controller) Checkpoint() *Checkpoint {
	return c.cp
}

// Run executes Stage 1 -> Stage 2 -> Stage 3, skipping stages the
// checkpoint already marks completed.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.writeMetadata(); err != nil {
		return err
	}

	for stage := 1; stage <= 3; stage++ {
		if c.cp.IsStageCompleted(stage) {
			logging.Pipeline("stage %d already completed, skipping", stage)
			continue
		}
		tasks, err := c.buildTasks(ctx, stage)
		if err != nil {
			return err
		}
		output := c.paths.StageFile(stage)
		if err := c.cp.StartStage(stage, len(tasks), output); err != nil {
			return err
		}

		if c.cfg.Pipeline.UseAsync {
			err = c.runStageAsync(ctx, stage, tasks, output)
		} else {
			err = c.runStageSync(ctx, stage, tasks, output)
		}
		if err != nil {
			return fmt.Errorf("stage %d: %w", stage, err)
		}
	}
	return nil
}

func (c *Controller) buildTasks(ctx context.Context, stage int) ([]stageTask, error) {
	gen := NewStageGenerator(stage, c.gen, c.cfg, c.paths.DebugDir())
	gen.SetMinContextChars(c.plan.MinContextChars)

	switch stage {
	case 1:
		return c.stage1Tasks(gen), nil
	case 2:
		items, err := loadStage1(c.paths.StageFile(1))
		if err != nil {
			return nil, err
		}
		tasks := make([]stageTask, len(items))
		for i, item := range items {
			item := item
			tasks[i] = stageTask{
				batchID:   i,
				scenario:  item.Classification.InstructionType,
				operation: item.Operation,
				count:     1,
				run: func(ctx context.Context) ([]any, error) {
					out, err := gen.GenerateStage2(ctx, item)
					if err != nil {
						return nil, err
					}
					return []any{out}, nil
				},
			}
		}
		return tasks, nil
	case 3:
		items, err := loadStage2(c.paths.StageFile(2))
		if err != nil {
			return nil, err
		}
		tasks := make([]stageTask, len(items))
		for i, item := range items {
			item := item
			tasks[i] = stageTask{
				batchID:   i,
				scenario:  item.Classification.InstructionType,
				operation: item.Operation,
				count:     1,
				run: func(ctx context.Context) ([]any, error) {
					out, err := gen.GenerateStage3(ctx, item)
					if err != nil {
						return nil, err
					}
					return []any{out}, nil
				},
			}
		}
		return tasks, nil
	}
	return nil, fmt.Errorf("unknown stage %d", stage)
}

func (c *Controller) stage1Tasks(gen *StageGenerator) []stageTask {
	batches := Allocate(c.plan)
	langs := c.plan.Languages

	tasks := make([]stageTask, len(batches))
	for i, batch := range batches {
		batch := batch
		lang := langs[batch.BatchID%len(langs)]
		tasks[i] = stageTask{
			batchID:   batch.BatchID,
			scenario:  batch.Scenario,
			operation: batch.Operation,
			count:     batch.Count,
			run: func(ctx context.Context) ([]any, error) {
				items, err := gen.GenerateStage1(ctx, batch, lang)
				if err != nil {
					return nil, err
				}
				out := make([]any, len(items))
				for j := range items {
					out[j] = items[j]
				}
				return out, nil
			},
		}
	}
	return tasks
}

// runStageSync executes tasks one at a time. Every task's output is flushed
// before its checkpoint bump, so a crash can only replay work, never lose it.
func (c *Controller) runStageSync(ctx context.Context, stage int, tasks []stageTask, output string) error {
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	for _, task := range tasks {
		if c.cp.SkipBatch(stage, task.batchID) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		timer := logging.StartTimer(logging.CategoryPipeline, fmt.Sprintf("stage%d batch %d", stage, task.batchID))
		payloads, err := task.run(ctx)
		timer.Stop()
		if err != nil {
			logging.Pipeline("stage %d batch %d failed: %v", stage, task.batchID, err)
			if cerr := c.cp.RecordError(stage, task.batchID, err); cerr != nil {
				return cerr
			}
			// a failed batch still advances the resume prefix
			if cerr := c.cp.BumpBatch(stage, "", "", 0, true); cerr != nil {
				return cerr
			}
			continue
		}

		if err := writeJSONLines(f, payloads); err != nil {
			return err
		}
		if err := c.cp.BumpBatch(stage, task.scenario, task.operation, len(payloads), true); err != nil {
			return err
		}
	}
	return nil
}

func writeJSONLines(f *os.File, payloads []any) error {
	for _, p := range payloads {
		line, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode output line: %w", err)
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("write output line: %w", err)
		}
	}
	return f.Sync()
}

func (c *Controller) writeMetadata() error {
	// a resumed run keeps its original metadata
	if _, err := os.Stat(c.paths.MetadataFile()); err == nil {
		return nil
	}
	// run ids are timestamps and can collide across machines; the uuid
	// disambiguates merged data roots
	meta := map[string]any{
		"run_uuid":      uuid.NewString(),
		"run_id":        c.paths.RunID,
		"plan_name":     c.plan.Name,
		"total_samples": c.plan.TotalSamples,
		"languages":     c.plan.Languages,
		"provider":      c.gen.Name(),
		"async":         c.cfg.Pipeline.UseAsync,
		"created_at":    c.cp.CreatedAt,
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.paths.MetadataFile(), data, 0o644)
}

// loadStage1 reads stage-1 output, deduplicating by sample id: resume can
// leave a re-processed window of duplicate lines.
func loadStage1(path string) ([]Stage1Item, error) {
	var items []Stage1Item
	seen := map[string]bool{}
	err := readJSONLines(path, func(line []byte) error {
		var item Stage1Item
		if err := json.Unmarshal(line, &item); err != nil {
			return err
		}
		if item.SampleID == "" || seen[item.SampleID] {
			return nil
		}
		seen[item.SampleID] = true
		items = append(items, item)
		return nil
	})
	return items, err
}

func loadStage2(path string) ([]*Stage2Item, error) {
	var items []*Stage2Item
	seen := map[string]bool{}
	err := readJSONLines(path, func(line []byte) error {
		var item Stage2Item
		if err := json.Unmarshal(line, &item); err != nil {
			return err
		}
		if item.SampleID == "" || seen[item.SampleID] {
			return nil
		}
		seen[item.SampleID] = true
		items = append(items, &item)
		return nil
	})
	return items, err
}

// LoadSamples reads final stage-3 samples, deduplicated by id.
func LoadSamples(path string) ([]*Sample, error) {
	var samples []*Sample
	seen := map[string]bool{}
	err := readJSONLines(path, func(line []byte) error {
		var s Sample
		if err := json.Unmarshal(line, &s); err != nil {
			return err
		}
		if s.ID == "" || seen[s.ID] {
			return nil
		}
		seen[s.ID] = true
		samples = append(samples, &s)
		return nil
	})
	return samples, err
}

func readJSONLines(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return fmt.Errorf("%s line %d: %w", path, lineNo, err)
		}
	}
	return scanner.Err()
}
