package pipeline

import (
	"context"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sync/semaphore"

	"text2mem/internal/logging"
)

type stageResult struct {
	task     stageTask
	payloads []any
	err      error
}

// runStageAsync fans tasks out over a bounded worker pool. A single writer
// owns the output file and the checkpoint; it commits results in batch
// order so the checkpoint's completed prefix stays exact even when workers
// finish out of order. The checkpoint is persisted every CheckpointBatch
// commits and once more at shutdown.
func (c *Controller) runStageAsync(ctx context.Context, stage int, tasks []stageTask, output string) error {
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	var pending []stageTask
	for _, task := range tasks {
		if !c.cp.SkipBatch(stage, task.batchID) {
			pending = append(pending, task)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	workers := c.cfg.Pipeline.MaxConcurrent
	if workers < 1 {
		workers = 1
	}
	checkpointEvery := c.cfg.Pipeline.CheckpointBatch
	if checkpointEvery < 1 {
		checkpointEvery = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := semaphore.NewWeighted(int64(workers))
	// buffered to capacity so workers never block on send during drain
	results := make(chan stageResult, len(pending))
	var wg sync.WaitGroup

	var launchErr error
	for _, task := range pending {
		if err := sem.Acquire(ctx, 1); err != nil {
			launchErr = err
			break
		}
		wg.Add(1)
		go func(task stageTask) {
			defer wg.Done()
			defer sem.Release(1)
			timer := logging.StartTimer(logging.CategoryPipeline, fmt.Sprintf("stage%d batch %d", stage, task.batchID))
			payloads, err := task.run(ctx)
			timer.Stop()
			results <- stageResult{task: task, payloads: payloads, err: err}
		}(task)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	nextID := pending[0].batchID
	buffered := make(map[int]stageResult)
	sinceSave := 0
	var commitErr error

	for res := range results {
		if commitErr != nil {
			continue // drain
		}
		buffered[res.task.batchID] = res
		for {
			r, ok := buffered[nextID]
			if !ok {
				break
			}
			delete(buffered, nextID)
			if err := c.commitResult(stage, f, r); err != nil {
				commitErr = err
				cancel()
				break
			}
			nextID++
			sinceSave++
			if sinceSave >= checkpointEvery {
				if err := c.cp.Save(); err != nil {
					commitErr = err
					cancel()
					break
				}
				sinceSave = 0
			}
		}
	}

	if err := c.cp.Save(); err != nil && commitErr == nil {
		commitErr = err
	}
	if commitErr != nil {
		return commitErr
	}
	return launchErr
}

func (c *Controller) commitResult(stage int, f *os.File, r stageResult) error {
	if r.err != nil {
		logging.Pipeline("stage %d batch %d failed: %v", stage, r.task.batchID, r.err)
		if err := c.cp.RecordError(stage, r.task.batchID, r.err); err != nil {
			return err
		}
		return c.cp.BumpBatch(stage, "", "", 0, false)
	}
	if err := writeJSONLines(f, r.payloads); err != nil {
		return err
	}
	return c.cp.BumpBatch(stage, r.task.scenario, r.task.operation, len(r.payloads), false)
}
